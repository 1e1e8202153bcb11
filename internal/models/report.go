package models

import "time"

// Progress is the payload of every progress callback.
type Progress struct {
	Percentage float64 `json:"percentage"` // 0-100
	Text       string  `json:"text"`
}

// ProgressFunc receives progress updates. A nil ProgressFunc is valid.
type ProgressFunc func(Progress)

// Emit calls f when it is set.
func (f ProgressFunc) Emit(percentage float64, text string) {
	if f == nil {
		return
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	f(Progress{Percentage: percentage, Text: text})
}

// FetchResult is the outcome for one instrument in one run.
type FetchResult struct {
	Instrument InstrumentMetadata `json:"instrument" yaml:"instrument"`
	Success    bool               `json:"success" yaml:"success"`
	FromCache  bool               `json:"from_cache" yaml:"from_cache"`
	Series     *PriceSeries       `json:"series,omitempty" yaml:"series,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
	ElapsedMs  int64              `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// Report summarizes one harvest run. Results follow listing order.
type Report struct {
	RunID            string        `json:"run_id" yaml:"run_id"`
	GeneratedAt      time.Time     `json:"generated_at" yaml:"generated_at"`
	TotalInstruments int           `json:"total_instruments" yaml:"total_instruments"`
	SuccessCount     int           `json:"success_count" yaml:"success_count"`
	FailureCount     int           `json:"failure_count" yaml:"failure_count"`
	CacheHits        int           `json:"cache_hits" yaml:"cache_hits"`
	Cancelled        bool          `json:"cancelled" yaml:"cancelled"`
	Results          []FetchResult `json:"results" yaml:"results"`
	TotalElapsedMs   int64         `json:"total_elapsed_ms" yaml:"total_elapsed_ms"`
}

// Add appends a result and updates the counters.
func (r *Report) Add(result FetchResult) {
	r.Results = append(r.Results, result)
	if result.Success {
		r.SuccessCount++
		if result.FromCache {
			r.CacheHits++
		}
		return
	}
	r.FailureCount++
}

// Failures returns the failed results in order.
func (r *Report) Failures() []FetchResult {
	var out []FetchResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

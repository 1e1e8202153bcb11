package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/storage/filesystem"
)

// WriteReport serializes report to path. The format follows the extension:
// .yaml/.yml for YAML, anything else for indented JSON.
func WriteReport(path string, report *models.Report) error {
	if report == nil {
		return fmt.Errorf("nil report")
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(report)
	default:
		data, err = json.MarshalIndent(report, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Summary returns a one-line description of report
func Summary(report *models.Report) string {
	s := fmt.Sprintf("%d/%d instruments succeeded (%d from cache), %d failed in %dms",
		report.SuccessCount, report.TotalInstruments, report.CacheHits, report.FailureCount, report.TotalElapsedMs)
	if report.Cancelled {
		s += fmt.Sprintf(" - cancelled after %d", len(report.Results))
	}
	return s
}

// seriesExport is the per-instrument file written by WriteSeries
type seriesExport struct {
	Instrument models.InstrumentMetadata `json:"instrument"`
	FetchedAt  string                    `json:"fetched_at"`
	Points     []models.PricePoint       `json:"points"`
}

// WriteSeries writes the chronological series of every successful result to
// dir, one JSON file per instrument. It returns the number of files written.
func WriteSeries(dir string, report *models.Report) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create series directory: %w", err)
	}

	written := 0
	for _, result := range report.Results {
		if !result.Success || result.Series == nil {
			continue
		}

		export := seriesExport{
			Instrument: result.Instrument,
			FetchedAt:  result.Series.FetchedAt.Format(time.RFC3339),
			Points:     result.Series.Chronological(),
		}
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return written, fmt.Errorf("failed to encode series %s: %w", result.Instrument.Identity, err)
		}

		path := filepath.Join(dir, filesystem.FileName(result.Instrument.Identity))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return written, fmt.Errorf("failed to write series %s: %w", result.Instrument.Identity, err)
		}
		written++
	}
	return written, nil
}

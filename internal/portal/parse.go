package portal

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// ParseNumber reads a portal-formatted number such as "1 234,56", "1,234.56"
// or "EUR 777.17". A single comma with no dot is a decimal comma.
func ParseNumber(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" || clean == "-" {
		return decimal.Zero, false
	}

	lastComma := strings.LastIndex(clean, ",")
	lastDot := strings.LastIndex(clean, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") > 1 {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case strings.Count(clean, ".") > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// numberOrZero is ParseNumber with the failure collapsed to zero.
func numberOrZero(s string) decimal.Decimal {
	d, _ := ParseNumber(s)
	return d
}

// cellText returns the whitespace-collapsed text of cell i, or "" when absent.
func cellText(cells *goquery.Selection, i int) string {
	if i < 0 || i >= cells.Length() {
		return ""
	}
	return strings.Join(strings.Fields(cells.Eq(i).Text()), " ")
}

// cellLink returns the href of the first anchor in cell i, resolved against base.
func cellLink(cells *goquery.Selection, i int, base *url.URL) string {
	if i < 0 || i >= cells.Length() {
		return ""
	}
	href, ok := cells.Eq(i).Find("a[href]").First().Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

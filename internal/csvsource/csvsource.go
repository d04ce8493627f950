package csvsource

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketref/internal/market"
)

// Feed kinds distinguish what a parsed file replaces in the store.
const (
	KindStocks = "stocks"
	KindRates  = "rates"
)

var (
	// ErrUnsupportedSource means the file name maps to no known format.
	ErrUnsupportedSource = errors.New("unsupported source")
	// ErrEmptyFile means no line in the file contained the required delimiter.
	ErrEmptyFile = errors.New("invalid or empty file")
	// ErrMalformedRates means the rates file is missing its header or data row.
	ErrMalformedRates = errors.New("invalid rates file: requires header and data lines")
)

// Format is one registered source format.
type Format struct {
	Name      string // canonical file name, e.g. "euronext.csv"
	Kind      string // KindStocks or KindRates
	Delimiter string // required in every kept line
}

// registry maps canonical file names to their parsing rules. The Euronext
// download is semicolon-separated; the US exchange dumps (nasdaq screener
// format) and the ECB reference rates are comma-separated.
var registry = map[string]Format{
	"euronext.csv":  {Name: "euronext.csv", Kind: KindStocks, Delimiter: ";"},
	"us.csv":        {Name: "us.csv", Kind: KindStocks, Delimiter: ","},
	"nasdaq.csv":    {Name: "nasdaq.csv", Kind: KindStocks, Delimiter: ","},
	"nyse.csv":      {Name: "nyse.csv", Kind: KindStocks, Delimiter: ","},
	"amex.csv":      {Name: "amex.csv", Kind: KindStocks, Delimiter: ","},
	"eurofxref.csv": {Name: "eurofxref.csv", Kind: KindRates, Delimiter: ","},
}

// Lookup returns the registered format for a file name.
func Lookup(fileName string) (Format, bool) {
	f, ok := registry[fileName]
	return f, ok
}

// Names returns every registered canonical file name, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParseStocks converts one stock feed into normalized records. Individual
// malformed lines are dropped; the whole file fails only when the name is
// unknown or no line carries the format's delimiter.
func ParseStocks(fileName string, content []byte, now time.Time) ([]market.StockRecord, error) {
	f, ok := Lookup(fileName)
	if !ok || f.Kind != KindStocks {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, fileName)
	}

	lines := keepDelimited(string(content), f.Delimiter)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, fileName)
	}

	var records []market.StockRecord
	for _, line := range lines {
		var rec market.StockRecord
		var ok bool
		if f.Delimiter == ";" {
			rec, ok = parseSemicolonLine(line)
		} else {
			rec, ok = parseCommaLine(line)
		}
		if !ok {
			continue
		}
		rec.UploadDate = now
		rec.Source = fileName
		records = append(records, rec)
	}
	return records, nil
}

// parseSemicolonLine handles the Euronext layout:
// name;isin;symbol;market;currency;open;high;low;last. Name, ISIN and
// symbol are required; currency and last price get defaults when the line
// is short. All quote characters are stripped.
func parseSemicolonLine(line string) (market.StockRecord, bool) {
	cols := strings.Split(line, ";")
	if len(cols) <= 3 || cols[0] == "" || cols[1] == "" || cols[2] == "" {
		return market.StockRecord{}, false
	}
	rec := market.StockRecord{
		Name:      stripQuotes(cols[0]),
		ISIN:      stripQuotes(cols[1]),
		Symbol:    stripQuotes(cols[2]),
		Currency:  "N/A",
		LastPrice: "0",
	}
	if len(cols) > 4 && cols[4] != "" {
		rec.Currency = stripQuotes(cols[4])
	}
	if len(cols) > 8 && cols[8] != "" {
		rec.LastPrice = strings.TrimSpace(stripQuotes(cols[8]))
	}
	return rec, true
}

// parseCommaLine handles the US screener layout: symbol,name,last sale,...
// Header lines are recognized by their literal prefix. The price carries a
// leading dollar sign.
func parseCommaLine(line string) (market.StockRecord, bool) {
	if strings.HasPrefix(line, "Symbol,Name,") {
		return market.StockRecord{}, false
	}
	cols := strings.Split(line, ",")
	if len(cols) < 3 || cols[0] == "" || cols[1] == "" || cols[2] == "" {
		return market.StockRecord{}, false
	}
	return market.StockRecord{
		Name:      cols[1],
		ISIN:      "",
		Symbol:    cols[0],
		Currency:  "USD",
		LastPrice: strings.ReplaceAll(cols[2], "$", ""),
	}, true
}

// ParseRates converts an ECB reference rate file into a snapshot. The
// header row and the first data row are zipped positionally; every header
// except the Date column becomes a currency code. Rows past the first data
// row are ignored.
func ParseRates(fileName string, content []byte, now time.Time) (market.RateSnapshot, error) {
	lines := keepDelimited(string(content), ",")
	if len(lines) < 2 {
		return market.RateSnapshot{}, ErrMalformedRates
	}

	headers := strings.Split(lines[0], ",")
	values := strings.Split(lines[1], ",")

	rates := make(map[string]float64, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" || h == "Date" || i >= len(values) {
			continue
		}
		v := strings.TrimSpace(values[i])
		if v == "" {
			continue
		}
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		rates[h] = rate
	}
	return market.RateSnapshot{Rates: rates, UploadDate: now, Source: fileName}, nil
}

// keepDelimited splits content into lines and keeps only those containing
// the delimiter. Blank lines and stray text fall out here.
func keepDelimited(content, delimiter string) []string {
	raw := strings.Split(content, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.Contains(line, delimiter) {
			out = append(out, line)
		}
	}
	return out
}

func stripQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "")
}

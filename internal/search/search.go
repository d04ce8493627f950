package search

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketref/internal/market"
	"marketref/internal/store"
)

var (
	// ErrInvalidPattern means the query parameter has the wrong shape.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrNotFound means no snapshot is loaded or the code is absent.
	ErrNotFound = errors.New("not found")
)

// pairRe is the only accepted shape for rate lookups: EUR_ plus exactly
// three word characters.
var pairRe = regexp.MustCompile(`^EUR_(\w{3})$`)

// Engine answers queries against a consistent snapshot from the store.
type Engine struct {
	store *store.Store
}

func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Stocks returns the merged records matching the query. An empty query
// returns the full merged snapshot. A `%` in the query is a
// multi-character wildcard; everything else is matched literally,
// case-insensitive, anywhere inside name, symbol or a non-empty ISIN.
func (e *Engine) Stocks(query string) ([]market.StockRecord, error) {
	all := e.store.AllStocks()
	if strings.TrimSpace(query) == "" {
		return all, nil
	}

	re, err := compileQuery(query)
	if err != nil {
		return nil, err
	}

	out := make([]market.StockRecord, 0, len(all))
	for _, rec := range all {
		if re.MatchString(rec.Name) || re.MatchString(rec.Symbol) || (rec.ISIN != "" && re.MatchString(rec.ISIN)) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// compileQuery builds a case-insensitive substring matcher from user
// input. The input is never compiled raw: every segment between `%`
// wildcards is quoted, so regex metacharacters in queries stay literal.
func compileQuery(query string) (*regexp.Regexp, error) {
	parts := strings.Split(query, "%")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?i)" + strings.Join(parts, ".*"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, query)
	}
	return re, nil
}

// Rate resolves one EUR_XXX pair against the active snapshot.
func (e *Engine) Rate(pair string) (market.Rate, error) {
	m := pairRe.FindStringSubmatch(pair)
	if m == nil {
		return market.Rate{}, fmt.Errorf("%w: use format EUR_{CURRENCY}", ErrInvalidPattern)
	}
	code := m[1]

	snap, ok := e.store.Rates()
	if !ok {
		return market.Rate{}, fmt.Errorf("%w: no rates loaded", ErrNotFound)
	}
	value, ok := snap.Rates[code]
	if !ok {
		return market.Rate{}, fmt.Errorf("currency %q %w", code, ErrNotFound)
	}
	return market.Rate{Pair: pair, Value: value, UploadDate: snap.UploadDate, Source: snap.Source}, nil
}

// AllRates lists every loaded currency as an EUR_XXX pair, sorted by code.
func (e *Engine) AllRates() ([]market.Rate, error) {
	snap, ok := e.store.Rates()
	if !ok {
		return nil, fmt.Errorf("%w: no rates loaded", ErrNotFound)
	}
	codes := make([]string, 0, len(snap.Rates))
	for code := range snap.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]market.Rate, 0, len(codes))
	for _, code := range codes {
		out = append(out, market.Rate{
			Pair:       "EUR_" + code,
			Value:      snap.Rates[code],
			UploadDate: snap.UploadDate,
			Source:     snap.Source,
		})
	}
	return out, nil
}

// Convert converts an amount between two currencies through the EUR cross
// rate. Decimal arithmetic keeps monetary results exact where the inputs
// allow it. EUR itself is accepted on either side as the unit rate.
func (e *Engine) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	snap, ok := e.store.Rates()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rates loaded", ErrNotFound)
	}
	fromRate, err := eurRate(snap, strings.ToUpper(from))
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := eurRate(snap, strings.ToUpper(to))
	if err != nil {
		return decimal.Zero, err
	}
	// amount / fromRate = value in EUR, then scale into the target.
	return amount.Mul(toRate).DivRound(fromRate, 6), nil
}

func eurRate(snap market.RateSnapshot, code string) (decimal.Decimal, error) {
	if code == "EUR" {
		return decimal.NewFromInt(1), nil
	}
	// A non-positive rate can arrive in a feed (an empty or zero field)
	// but is unusable as a divisor; treat it the same as an absent code.
	v, ok := snap.Rates[code]
	if !ok || v <= 0 {
		return decimal.Zero, fmt.Errorf("currency %q %w", code, ErrNotFound)
	}
	return decimal.NewFromFloat(v), nil
}

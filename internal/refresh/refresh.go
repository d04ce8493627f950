package refresh

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"marketref/internal/csvsource"
	"marketref/internal/store"
)

var (
	// ErrUnknownSource means the refresh id maps to no registered source.
	ErrUnknownSource = errors.New("unknown refresh source")
	// ErrNotConfigured means no remote URL is configured for the source.
	// Callers that did not explicitly ask for the refresh treat it as a
	// soft skip.
	ErrNotConfigured = errors.New("source not configured")
	// ErrNoArchiveEntry means the downloaded archive holds no CSV entry.
	ErrNoArchiveEntry = errors.New("no CSV entry found in archive")
)

// Refreshable source ids, as used by POST /refresh/{source}.
const (
	SourceEuronext = "euronext"
	SourceRates    = "rates"
)

// sourceFiles maps refresh ids to canonical file names in the data
// directory.
var sourceFiles = map[string]string{
	SourceEuronext: "euronext.csv",
	SourceRates:    "eurofxref.csv",
}

// Sources lists the known refresh ids, sorted.
func Sources() []string {
	ids := make([]string, 0, len(sourceFiles))
	for id := range sourceFiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// maxDownload caps one feed download; the largest known feed is a few MB.
const maxDownload = 64 << 20

// Result reports what one successful refresh committed.
type Result struct {
	Source           string `json:"source"`
	RecordsLoaded    int    `json:"records_loaded,omitempty"`
	CurrenciesLoaded int    `json:"currencies_loaded,omitempty"`
}

// HTTPClient describes the HTTP client used for feed downloads.
//
//go:generate mockgen -package=refresh_test -destination=mock_http_client_test.go -source=refresh.go HTTPClient
type HTTPClient interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Orchestrator obtains raw feed content, persists it to the canonical
// per-source file and commits the parsed result into the store. All
// blocking work happens outside the store's lock.
type Orchestrator struct {
	client  HTTPClient
	store   *store.Store
	dataDir string
	urls    map[string]string // refresh id -> remote URL, "" when unset

	// group collapses concurrent duplicate refreshes of one source so
	// two fetches of the same feed can never interleave their commits.
	group singleflight.Group
}

func New(client HTTPClient, st *store.Store, dataDir, euronextURL, ratesURL string) *Orchestrator {
	return &Orchestrator{
		client:  client,
		store:   st,
		dataDir: dataDir,
		urls: map[string]string{
			SourceEuronext: euronextURL,
			SourceRates:    ratesURL,
		},
	}
}

// Refresh downloads the source's feed, writes the canonical file and
// commits the parsed snapshot. On any failure the store keeps its prior
// state for that source.
func (o *Orchestrator) Refresh(ctx context.Context, sourceID string) (Result, error) {
	fileName, ok := sourceFiles[sourceID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	v, err, _ := o.group.Do(sourceID, func() (any, error) {
		return o.refreshOne(ctx, sourceID, fileName)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (o *Orchestrator) refreshOne(ctx context.Context, sourceID, fileName string) (Result, error) {
	url := o.urls[sourceID]
	if url == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrNotConfigured, sourceID)
	}

	log.Info().Str("source", sourceID).Msg("Refreshing feed")
	content, err := o.download(ctx, url)
	if err != nil {
		return Result{}, fmt.Errorf("refresh %s: %w", sourceID, err)
	}
	if err := o.writeCanonical(fileName, content); err != nil {
		return Result{}, fmt.Errorf("refresh %s: %w", sourceID, err)
	}
	res, err := o.commit(fileName, content)
	if err != nil {
		return Result{}, fmt.Errorf("refresh %s: %w", sourceID, err)
	}
	logCommitted(res)
	return res, nil
}

// StoreStocks runs the upload path for a stock file: the uploaded bytes
// are the canonical content, no fetch happens, commit semantics are
// identical to a remote refresh.
func (o *Orchestrator) StoreStocks(fileName string, content []byte) (Result, error) {
	f, ok := csvsource.Lookup(fileName)
	if !ok || f.Kind != csvsource.KindStocks {
		return Result{}, fmt.Errorf("%w: %s", csvsource.ErrUnsupportedSource, fileName)
	}
	if err := o.writeCanonical(fileName, content); err != nil {
		return Result{}, err
	}
	res, err := o.commit(fileName, content)
	if err != nil {
		return Result{}, err
	}
	logCommitted(res)
	return res, nil
}

// StoreRates runs the upload path for a rates file. Whatever the upload
// was called, the canonical file is eurofxref.csv so a restart reloads it.
func (o *Orchestrator) StoreRates(content []byte) (Result, error) {
	fileName := sourceFiles[SourceRates]
	if err := o.writeCanonical(fileName, content); err != nil {
		return Result{}, err
	}
	res, err := o.commit(fileName, content)
	if err != nil {
		return Result{}, err
	}
	logCommitted(res)
	return res, nil
}

// LoadDir scans the data directory at startup and loads every recognized
// canonical file. Individual failures are logged and skipped; one corrupt
// file never blocks the other sources.
func (o *Orchestrator) LoadDir() {
	entries, err := os.ReadDir(o.dataDir)
	if err != nil {
		log.Warn().Str("dir", o.dataDir).Err(err).Msg("Data directory not readable, starting with an empty cache")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := csvsource.Lookup(name); !ok {
			continue
		}
		content, err := os.ReadFile(filepath.Join(o.dataDir, name))
		if err != nil {
			log.Error().Str("file", name).Err(err).Msg("Failed to read canonical file")
			continue
		}
		res, err := o.commit(name, content)
		if err != nil {
			log.Error().Str("file", name).Err(err).Msg("Failed to load canonical file")
			continue
		}
		logCommitted(res)
	}
}

// commit parses content for one canonical file and swaps it into the
// store. The upload date is stamped here, at parse time.
func (o *Orchestrator) commit(fileName string, content []byte) (Result, error) {
	f, ok := csvsource.Lookup(fileName)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", csvsource.ErrUnsupportedSource, fileName)
	}
	now := time.Now().UTC()
	if f.Kind == csvsource.KindRates {
		snap, err := csvsource.ParseRates(fileName, content, now)
		if err != nil {
			return Result{}, err
		}
		o.store.ReplaceRates(snap)
		return Result{Source: fileName, CurrenciesLoaded: len(snap.Rates)}, nil
	}
	records, err := csvsource.ParseStocks(fileName, content, now)
	if err != nil {
		return Result{}, err
	}
	o.store.ReplaceStocks(fileName, records)
	return Result{Source: fileName, RecordsLoaded: len(records)}, nil
}

// download fetches raw bytes and, when the response declares a zip
// content type, extracts the first CSV entry. Selection is by declared
// type, never by sniffing the payload.
func (o *Orchestrator) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("GET %s -> %d: %s", url, resp.StatusCode, string(b))
	}
	body, err := readCapped(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if isZipContentType(resp.Header.Get("Content-Type")) {
		return extractCSV(body)
	}
	return body, nil
}

// readCapped reads at most maxDownload bytes and errors when the source
// holds more. Truncating an oversized feed would commit a partial
// snapshot that still parses.
func readCapped(r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxDownload {
		return nil, fmt.Errorf("content exceeds %d byte limit", maxDownload)
	}
	return content, nil
}

func isZipContentType(ct string) bool {
	return strings.Contains(ct, "application/zip") || strings.Contains(ct, "application/x-zip-compressed")
}

// extractCSV returns the content of the first archive entry whose name
// ends in .csv.
func extractCSV(archive []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		defer rc.Close()
		content, err := readCapped(rc)
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", f.Name, err)
		}
		return content, nil
	}
	return nil, ErrNoArchiveEntry
}

// writeCanonical persists resolved content so a restart can reload the
// source without re-fetching. Written before parsing, only ever by the
// orchestrator.
func (o *Orchestrator) writeCanonical(fileName string, content []byte) error {
	if err := os.MkdirAll(o.dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(o.dataDir, fileName)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write canonical file: %w", err)
	}
	return nil
}

func logCommitted(res Result) {
	if f, ok := csvsource.Lookup(res.Source); ok && f.Kind == csvsource.KindRates {
		log.Info().Str("source", res.Source).Int("currencies", res.CurrenciesLoaded).Msg("Rates cache updated")
		return
	}
	log.Info().Str("source", res.Source).Int("records", res.RecordsLoaded).Msg("Stock cache updated")
}

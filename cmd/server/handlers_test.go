package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketref/internal/market"
	"marketref/internal/ratelimit"
	"marketref/internal/refresh"
	"marketref/internal/search"
	"marketref/internal/store"
)

const euronextCSV = `"APPLE";"FR0000123456";"APC";"XPAR";"EUR";"10";"12";"9";"11.50"
"SHELL";"GB00B03MLX29";"SHELL";"XAMS";"EUR";"27";"28";"26";"27.35"`

const ratesCSV = "Date,USD,GBP\n2024-01-01,1.10,0.85\n"

type fixture struct {
	store   *store.Store
	handler http.Handler
}

func newFixture(t *testing.T, apiKeys []string, limiter *ratelimit.TokenBucket) *fixture {
	t.Helper()
	st := store.New()
	orch := refresh.New(nil, st, t.TempDir(), "", "")
	s := &server{engine: search.New(st), orch: orch, limiter: limiter}
	return &fixture{store: st, handler: s.routes(apiKeys)}
}

func multipartBody(t *testing.T, field, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func TestUploadStocks(t *testing.T) {
	f := newFixture(t, nil, nil)

	body, contentType := multipartBody(t, "stockFile", "euronext.csv", euronextCSV)
	req := httptest.NewRequest(http.MethodPost, "/upload/stocks", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Message       string `json:"message"`
		RecordsLoaded int    `json:"records_loaded"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RecordsLoaded != 2 || resp.Message != "euronext.csv processed successfully." {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(f.store.AllStocks()) != 2 {
		t.Fatalf("records not committed")
	}
}

func TestUploadStocks_Failures(t *testing.T) {
	f := newFixture(t, nil, nil)

	// No multipart file at all.
	req := httptest.NewRequest(http.MethodPost, "/upload/stocks", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status=%d", rr.Code)
	}

	// Unrecognized file name.
	body, contentType := multipartBody(t, "stockFile", "bonds.csv", "a;b;c;d")
	req = httptest.NewRequest(http.MethodPost, "/upload/stocks", body)
	req.Header.Set("Content-Type", contentType)
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unsupported source: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUploadRates(t *testing.T) {
	f := newFixture(t, nil, nil)

	body, contentType := multipartBody(t, "ratesFile", "eurofxref.csv", ratesCSV)
	req := httptest.NewRequest(http.MethodPost, "/upload/rates", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	snap, ok := f.store.Rates()
	if !ok || snap.Rates["USD"] != 1.10 {
		t.Fatalf("snapshot not committed: %+v %v", snap, ok)
	}

	// Malformed content is a 400 and does not clobber the snapshot.
	body, contentType = multipartBody(t, "ratesFile", "eurofxref.csv", "garbage")
	req = httptest.NewRequest(http.MethodPost, "/upload/rates", body)
	req.Header.Set("Content-Type", contentType)
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed rates: status=%d", rr.Code)
	}
	if snap, _ := f.store.Rates(); snap.Rates["USD"] != 1.10 {
		t.Fatalf("failed upload must keep prior snapshot")
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.store.ReplaceStocks("euronext.csv", []market.StockRecord{
		{Name: "APPLE", Symbol: "APC", ISIN: "FR0000123456", Source: "euronext.csv"},
		{Name: "SHELL", Symbol: "SHELL", ISIN: "GB00B03MLX29", Source: "euronext.csv"},
	})

	get := func(url string) (*httptest.ResponseRecorder, []market.StockRecord) {
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
		var recs []market.StockRecord
		if rr.Code == http.StatusOK {
			if err := json.Unmarshal(rr.Body.Bytes(), &recs); err != nil {
				t.Fatalf("decode %s: %v", url, err)
			}
		}
		return rr, recs
	}

	rr, recs := get("/search")
	if rr.Code != http.StatusOK || len(recs) != 2 {
		t.Fatalf("empty query: status=%d len=%d", rr.Code, len(recs))
	}

	rr, recs = get("/search?query=ap%25le")
	if rr.Code != http.StatusOK || len(recs) != 1 || recs[0].Name != "APPLE" {
		t.Fatalf("wildcard query: status=%d recs=%+v", rr.Code, recs)
	}

	// Zero matches is an empty 200 array, not a 404.
	rr, _ = get("/search?query=ZZZ")
	if rr.Code != http.StatusOK || rr.Body.String() != "[]\n" {
		t.Fatalf("no-match: status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestRateLookup(t *testing.T) {
	f := newFixture(t, nil, nil)

	// No snapshot loaded yet.
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/search/rates/EUR_USD", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("no snapshot: status=%d", rr.Code)
	}

	f.store.ReplaceRates(market.RateSnapshot{
		Rates:  map[string]float64{"USD": 1.10, "GBP": 0.85},
		Source: "eurofxref.csv",
	})

	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/search/rates/EUR_USD", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("lookup: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rate market.Rate
	if err := json.Unmarshal(rr.Body.Bytes(), &rate); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate.Pair != "EUR_USD" || rate.Value != 1.10 || rate.Source != "eurofxref.csv" {
		t.Fatalf("unexpected rate: %+v", rate)
	}

	for pattern, want := range map[string]int{
		"USD_EUR": http.StatusBadRequest,
		"EURUSD":  http.StatusBadRequest,
		"EUR_XYZ": http.StatusNotFound,
	} {
		rr = httptest.NewRecorder()
		f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/search/rates/"+pattern, nil))
		if rr.Code != want {
			t.Fatalf("pattern %s: status=%d want=%d", pattern, rr.Code, want)
		}
	}

	// Listing endpoint.
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/search/rates", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status=%d", rr.Code)
	}
	var rates []market.Rate
	if err := json.Unmarshal(rr.Body.Bytes(), &rates); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(rates) != 2 || rates[0].Pair != "EUR_GBP" {
		t.Fatalf("unexpected list: %+v", rates)
	}
}

func TestConvert(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.store.ReplaceRates(market.RateSnapshot{
		Rates:  map[string]float64{"USD": 1.10, "GBP": 0.85},
		Source: "eurofxref.csv",
	})

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/convert?amount=110&from=USD&to=GBP", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp convertResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "85" {
		t.Fatalf("unexpected result: %+v", resp)
	}

	for url, want := range map[string]int{
		"/convert?amount=abc&from=USD&to=GBP": http.StatusBadRequest,
		"/convert?amount=1&from=&to=GBP":      http.StatusBadRequest,
		"/convert?amount=1&from=USD&to=XXX":   http.StatusNotFound,
	} {
		rr = httptest.NewRecorder()
		f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
		if rr.Code != want {
			t.Fatalf("%s: status=%d want=%d", url, rr.Code, want)
		}
	}
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t, nil, nil)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh/bonds", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown source: status=%d", rr.Code)
	}

	// Configured with no URL: the explicit caller gets the failure.
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh/euronext", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("not configured: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp messageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == "" {
		t.Fatalf("error detail expected: %+v", resp)
	}
}

func TestRefreshEndpoint_RateLimited(t *testing.T) {
	limiter := ratelimit.NewTokenBucket(0.001, 1)
	f := newFixture(t, nil, limiter)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh/euronext", nil))
	if rr.Code == http.StatusTooManyRequests {
		t.Fatalf("first call must pass the limiter")
	}

	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh/euronext", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second call: status=%d want=429", rr.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t, []string{"secret-1", "secret-2"}, nil)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/search", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("invalid key: status=%d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/search", nil)
	req.Header.Set("X-API-Key", "secret-2")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid key: status=%d", rr.Code)
	}

	// Docs stay public.
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api-docs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("docs must not require a key: status=%d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, []string{"secret"}, nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

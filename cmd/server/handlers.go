package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"marketref/internal/ratelimit"
	"marketref/internal/refresh"
	"marketref/internal/search"
)

type server struct {
	engine  *search.Engine
	orch    *refresh.Orchestrator
	limiter *ratelimit.TokenBucket
}

type messageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type uploadResponse struct {
	Message          string `json:"message"`
	RecordsLoaded    int    `json:"records_loaded,omitempty"`
	CurrenciesLoaded int    `json:"currencies_loaded,omitempty"`
}

type refreshResponse struct {
	Message string `json:"message"`
	refresh.Result
}

type convertResponse struct {
	Amount string `json:"amount"`
	From   string `json:"from"`
	To     string `json:"to"`
	Result string `json:"result"`
}

// routes builds the router. The docs and liveness endpoints stay public;
// everything else sits behind the API key check when keys are configured.
func (s *server) routes(apiKeys []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/api-docs", s.handleDocs).Methods(http.MethodGet)
	r.HandleFunc("/api-docs/openapi.yaml", s.handleOpenAPI).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(apiKeyAuth(apiKeys))
	api.HandleFunc("/upload/stocks", s.handleUploadStocks).Methods(http.MethodPost)
	api.HandleFunc("/upload/rates", s.handleUploadRates).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/search/rates", s.handleAllRates).Methods(http.MethodGet)
	api.HandleFunc("/search/rates/{pattern}", s.handleRate).Methods(http.MethodGet)
	api.HandleFunc("/convert", s.handleConvert).Methods(http.MethodGet)
	api.HandleFunc("/refresh/{source}", s.handleRefresh).Methods(http.MethodPost)
	return r
}

// handleUploadStocks stores an uploaded stock file under its own
// recognized name and swaps it into the cache.
func (s *server) handleUploadStocks(w http.ResponseWriter, r *http.Request) {
	fileName, content, ok := readUpload(w, r, "stockFile")
	if !ok {
		return
	}
	log.Info().Str("file", fileName).Msg("Processing stock file upload")

	res, err := s.orch.StoreStocks(fileName, content)
	if err != nil {
		log.Error().Str("file", fileName).Err(err).Msg("Stock upload failed")
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:       fmt.Sprintf("%s processed successfully.", fileName),
		RecordsLoaded: res.RecordsLoaded,
	})
}

// handleUploadRates replaces the active rate snapshot from an uploaded
// ECB-format file.
func (s *server) handleUploadRates(w http.ResponseWriter, r *http.Request) {
	fileName, content, ok := readUpload(w, r, "ratesFile")
	if !ok {
		return
	}
	log.Info().Str("file", fileName).Msg("Processing rates file upload")

	res, err := s.orch.StoreRates(content)
	if err != nil {
		log.Error().Str("file", fileName).Err(err).Msg("Rates upload failed")
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:          "Rates file processed successfully.",
		CurrenciesLoaded: res.CurrenciesLoaded,
	})
}

// handleSearch answers substring/wildcard lookups over the merged stock
// view. No match is an empty array, not an error.
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	records, err := s.engine.Stocks(query)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) handleRate(w http.ResponseWriter, r *http.Request) {
	pattern := mux.Vars(r)["pattern"]
	rate, err := s.engine.Rate(pattern)
	switch {
	case errors.Is(err, search.ErrInvalidPattern):
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid pattern. Use format EUR_{CURRENCY}."})
	case errors.Is(err, search.ErrNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: err.Error()})
	default:
		writeJSON(w, http.StatusOK, rate)
	}
}

func (s *server) handleAllRates(w http.ResponseWriter, _ *http.Request) {
	rates, err := s.engine.AllRates()
	if err != nil {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "Currency rates not loaded."})
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

// handleConvert converts an amount between two loaded currencies through
// the EUR cross rate.
func (s *server) handleConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Missing from or to parameter."})
		return
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid amount."})
		return
	}

	result, err := s.engine.Convert(amount, from, to)
	switch {
	case errors.Is(err, search.ErrNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: err.Error()})
	default:
		writeJSON(w, http.StatusOK, convertResponse{
			Amount: amount.String(),
			From:   from,
			To:     to,
			Result: result.String(),
		})
	}
}

// handleRefresh triggers an on-demand refresh for one source.
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, messageResponse{Message: "Too many refresh requests."})
		return
	}
	log.Info().Str("source", source).Msg("On-demand refresh triggered via API")

	res, err := s.orch.Refresh(r.Context(), source)
	switch {
	case errors.Is(err, refresh.ErrUnknownSource):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: fmt.Sprintf("Unknown refresh source %q.", source)})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, messageResponse{
			Message: fmt.Sprintf("Failed to refresh %s data.", source),
			Error:   err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, refreshResponse{
			Message: fmt.Sprintf("Successfully refreshed %s data.", source),
			Result:  res,
		})
	}
}

// readUpload pulls the single multipart file out of an upload request.
func readUpload(w http.ResponseWriter, r *http.Request, field string) (string, []byte, bool) {
	file, header, err := r.FormFile(field)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No file uploaded."})
		return "", nil, false
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Could not read uploaded file."})
		return "", nil, false
	}
	return header.Filename, content, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

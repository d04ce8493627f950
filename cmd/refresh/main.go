// Command refresh downloads one or more remote feeds, rewrites the
// canonical files under the data directory and prints a JSON summary.
// It is the command-line twin of the server's POST /refresh/{source}.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"marketref/internal/config"
	"marketref/internal/httpx"
	"marketref/internal/refresh"
	"marketref/internal/store"
)

func main() {
	var sourcesCSV string
	var dataDir string
	var euronextURL string
	var ratesURL string
	var timeout int
	var configPath string

	flag.StringVar(&sourcesCSV, "sources", getenv("REFRESH_SOURCES", strings.Join(refresh.Sources(), ",")), "comma-separated source ids to refresh")
	flag.StringVar(&dataDir, "data-dir", "", "data directory override (default from config)")
	flag.StringVar(&euronextURL, "euronext-url", "", "Euronext feed URL override")
	flag.StringVar(&ratesURL, "rates-url", "", "rates archive URL override")
	flag.IntVar(&timeout, "timeout", getenvInt("FETCH_TIMEOUT_SEC", 0), "fetch timeout seconds (0 = config value)")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if euronextURL != "" {
		cfg.Sources.EuronextURL = euronextURL
	}
	if ratesURL != "" {
		cfg.Sources.RatesURL = ratesURL
	}
	if timeout != 0 {
		cfg.Sources.FetchTimeoutSec = timeout
	}

	sources := splitCSV(sourcesCSV)
	if len(sources) == 0 {
		log.Fatal("no sources provided")
	}

	client := httpx.New(time.Duration(cfg.Sources.FetchTimeoutSec) * time.Second)
	orch := refresh.New(client, store.New(), cfg.DataDir, cfg.Sources.EuronextURL, cfg.Sources.RatesURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Sources.FetchTimeoutSec)*time.Second*time.Duration(len(sources)))
	defer cancel()

	type report struct {
		refresh.Result
		Error string `json:"error,omitempty"`
	}
	reports := make([]report, 0, len(sources))
	failed := false
	for _, src := range sources {
		res, err := orch.Refresh(ctx, src)
		if err != nil {
			log.Printf("%s error: %v", src, err)
			reports = append(reports, report{Result: refresh.Result{Source: src}, Error: err.Error()})
			failed = true
			continue
		}
		log.Printf("%s: %d records, %d currencies", src, res.RecordsLoaded, res.CurrenciesLoaded)
		reports = append(reports, report{Result: res})
	}

	b, _ := json.MarshalIndent(struct {
		Refreshed []report `json:"refreshed"`
	}{Refreshed: reports}, "", "  ")
	fmt.Println(string(b))
	if failed {
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Server struct {
	Host              string `json:"host"`
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Sources struct {
	// EuronextURL is the remote location of the Euronext listing dump.
	// Empty means remote refresh of that source is not configured.
	EuronextURL string `json:"euronext_url"`
	// RatesURL is the remote location of the ECB reference rates archive.
	RatesURL string `json:"rates_url"`
	// FetchTimeoutSec bounds one remote download end to end.
	FetchTimeoutSec int `json:"fetch_timeout_sec"`
}

type Auth struct {
	// APIKeys is the allow-list checked against the X-API-Key header.
	// Empty disables request gating entirely.
	APIKeys []string `json:"api_keys"`
}

type Logging struct {
	Level         string `json:"level"`
	Format        string `json:"format"` // json or pretty
	FileEnabled   bool   `json:"file_enabled"`
	FilePath      string `json:"file_path"`
	RotationSize  int    `json:"rotation_size_mb"`
	RetentionDays int    `json:"retention_days"`
}

type Schedule struct {
	Enabled    bool   `json:"enabled"`
	Timezone   string `json:"timezone"`
	StocksSpec string `json:"stocks_spec"`
	RatesSpec  string `json:"rates_spec"`
}

type Refresh struct {
	// MaxPerMinute rate-limits the on-demand refresh endpoint. 0 disables.
	MaxPerMinute int `json:"max_per_minute"`
	Burst        int `json:"burst"`
}

type Config struct {
	Server   Server   `json:"server"`
	DataDir  string   `json:"data_dir"`
	Sources  Sources  `json:"sources"`
	Auth     Auth     `json:"auth"`
	Logging  Logging  `json:"logging"`
	Schedule Schedule `json:"schedule"`
	Refresh  Refresh  `json:"refresh"`
}

func Default() Config {
	return Config{
		Server:  Server{Host: "0.0.0.0", Port: "3000", RequestTimeoutSec: 20},
		DataDir: "data",
		Sources: Sources{FetchTimeoutSec: 60},
		Logging: Logging{Level: "info", Format: "pretty", FilePath: "logs", RotationSize: 20, RetentionDays: 14},
		Schedule: Schedule{
			Enabled:  true,
			Timezone: "Europe/Brussels",
			// Stocks at 02:00, rates at 03:00, mirroring the upstream
			// publication times.
			StocksSpec: "0 2 * * *",
			RatesSpec:  "0 3 * * *",
		},
		Refresh: Refresh{MaxPerMinute: 4, Burst: 2},
	}
}

// Load reads JSON config from path. If path is empty or the file does not
// exist, it returns defaults. A .env file and environment variables
// override select fields, env winning over file.
func Load(path string) (Config, error) {
	// .env is optional; absence is the normal case outside deployments.
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EURONEXT_DATA_URL"); v != "" {
		cfg.Sources.EuronextURL = v
	}
	if v := os.Getenv("EURFX_RATES_URL"); v != "" {
		cfg.Sources.RatesURL = v
	}
	if v := os.Getenv("FETCH_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Sources.FetchTimeoutSec = x
		}
	}
	if v := os.Getenv("VALID_API_KEYS"); v != "" {
		cfg.Auth.APIKeys = splitCSV(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_FILE_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.Logging.FileEnabled = true
		case "0", "false", "no", "n":
			cfg.Logging.FileEnabled = false
		}
	}
	if v := os.Getenv("SCHEDULE_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.Schedule.Enabled = true
		case "0", "false", "no", "n":
			cfg.Schedule.Enabled = false
		}
	}
	if v := os.Getenv("SCHEDULE_TIMEZONE"); v != "" {
		cfg.Schedule.Timezone = v
	}
	if v := os.Getenv("SCHEDULE_STOCKS_SPEC"); v != "" {
		cfg.Schedule.StocksSpec = v
	}
	if v := os.Getenv("SCHEDULE_RATES_SPEC"); v != "" {
		cfg.Schedule.RatesSpec = v
	}
	if v := os.Getenv("REFRESH_MAX_PER_MINUTE"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x >= 0 {
			cfg.Refresh.MaxPerMinute = x
		}
	}
	if v := os.Getenv("REFRESH_BURST"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Refresh.Burst = x
		}
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

package market

import "time"

// StockRecord is the normalized shape produced for every stock feed line.
// Keep the last price as a string to avoid float rounding; the feeds ship
// it as text and the API returns it as text.
type StockRecord struct {
	Name       string    `json:"name"`
	ISIN       string    `json:"isin"`
	Symbol     string    `json:"symbol"`
	Currency   string    `json:"currency"`
	LastPrice  string    `json:"last_price"`
	UploadDate time.Time `json:"upload_date"`
	Source     string    `json:"datasource_name"`
}

// RateSnapshot is one full replacement of the EUR reference rate table.
// There is at most one active snapshot at a time.
type RateSnapshot struct {
	Rates      map[string]float64 `json:"rates"`
	UploadDate time.Time          `json:"upload_date"`
	Source     string             `json:"datasource_name"`
}

// Rate is a single resolved currency pair from the active snapshot.
type Rate struct {
	Pair       string    `json:"pair"`
	Value      float64   `json:"value"`
	UploadDate time.Time `json:"upload_date"`
	Source     string    `json:"datasource_name"`
}

package models

// OptionList is the envelope returned for the ETF and stock option snapshots.
type OptionList struct {
	Data  []Row  `json:"data"`
	Count int    `json:"count"`
	Type  string `json:"type"`
}

const (
	OptionTypeETF   = "ETF"
	OptionTypeStock = "STK"
)

// MaxDate is the latest date found in a market data table.
type MaxDate struct {
	Table   string  `json:"table"`
	Symbol  *string `json:"symbol"`
	MaxDate *string `json:"max_date"`
}

// QueryResult wraps rows returned by an ad-hoc query.
type QueryResult struct {
	Data  []Row `json:"data"`
	Count int   `json:"count"`
}

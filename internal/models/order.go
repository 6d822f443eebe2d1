package models

import "time"

// OrderRecord - запись в истории ордеров симулятора.
// Pnl заполняется только для закрывающих ордеров.
type OrderRecord struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Pnl       *float64  `json:"pnl"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeRecord - строка журнала закрытых сделок в Postgres
type TradeRecord struct {
	ID         int       `json:"id"`
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Amount     float64   `json:"amount"`
	Price      float64   `json:"price"`
	EntryPrice float64   `json:"entry_price"`
	Pnl        float64   `json:"pnl"`
	ClosedAt   time.Time `json:"closed_at"`
}

// CloseResult - результат закрытия части позиции
type CloseResult struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Amount     float64   `json:"amount"`
	Price      float64   `json:"price"`
	Pnl        float64   `json:"pnl"`
	EntryPrice float64   `json:"entry_price"`
	ClosedAt   time.Time `json:"closed_at"`
}

package models

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tick - одно ценовое наблюдение (venue, symbol) от брокера.
// Ядро потребляет только timestamp, exchange, instrument_id и price;
// остальные поля сообщения игнорируются.
type Tick struct {
	Timestamp    int64    `json:"timestamp"` // unix seconds
	Exchange     string   `json:"exchange"`
	InstrumentID string   `json:"instrument_id"` // wire-форма BASE-QUOTE
	Price        float64  `json:"price"`
	BestBid      *float64 `json:"best_bid,omitempty"`
	BestAsk      *float64 `json:"best_ask,omitempty"`
	Volume24h    *float64 `json:"24h_volume,omitempty"`
}

// Symbol возвращает канонический символ тика
func (t *Tick) Symbol() string {
	return CanonicalSymbol(t.InstrumentID)
}

// Validate проверяет обязательные поля тика
func (t *Tick) Validate() error {
	switch {
	case t.Exchange == "":
		return &MalformedTickError{Reason: "missing exchange"}
	case t.InstrumentID == "":
		return &MalformedTickError{Reason: "missing instrument_id"}
	case t.Price <= 0:
		return &MalformedTickError{Reason: "price must be positive"}
	case t.Timestamp <= 0:
		return &MalformedTickError{Reason: "timestamp must be positive"}
	}
	if _, _, err := SplitSymbol(t.Symbol()); err != nil {
		return &MalformedTickError{Reason: err.Error()}
	}
	return nil
}

// ParseTick декодирует и валидирует сообщение брокера
func ParseTick(payload []byte) (*Tick, error) {
	var t Tick
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, &MalformedTickError{Reason: err.Error()}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

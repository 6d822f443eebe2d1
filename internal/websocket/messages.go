package websocket

import (
	"time"

	"arbsim/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeTradeOpened - открыта парная позиция
	MessageTypeTradeOpened MessageType = "tradeOpened"

	// MessageTypeTradeClosed - закрыта парная позиция
	MessageTypeTradeClosed MessageType = "tradeClosed"

	// MessageTypeBalanceUpdate - обновление баланса симулятора
	MessageTypeBalanceUpdate MessageType = "balanceUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// TradeMessage - событие открытия или закрытия парной сделки
type TradeMessage struct {
	BaseMessage
	Data *TradeData `json:"data"`
}

// TradeData - данные парной сделки
type TradeData struct {
	Symbol    string  `json:"symbol"`
	BuyVenue  string  `json:"buy_venue"`
	BuyPrice  float64 `json:"buy_price"`
	SellVenue string  `json:"sell_venue"`
	SellPrice float64 `json:"sell_price"`

	// Только для открытия
	SpreadPct float64 `json:"spread_pct,omitempty"`
	Amount    float64 `json:"amount,omitempty"`

	// Только для закрытия
	Pnl float64 `json:"pnl,omitempty"`
}

// BalanceUpdateMessage - обновление баланса одной биржи
type BalanceUpdateMessage struct {
	BaseMessage
	Venue    string             `json:"venue"`
	Balances map[string]float64 `json:"balances"`
}

// NewTradeOpenedMessage создает сообщение об открытии пары
func NewTradeOpenedMessage(op models.Opportunity, amount float64) *TradeMessage {
	return &TradeMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeTradeOpened,
			Timestamp: time.Now(),
		},
		Data: &TradeData{
			Symbol:    op.Symbol,
			BuyVenue:  op.BuyVenue,
			BuyPrice:  op.BuyPrice,
			SellVenue: op.SellVenue,
			SellPrice: op.SellPrice,
			SpreadPct: op.SpreadPct,
			Amount:    amount,
		},
	}
}

// NewTradeClosedMessage создает сообщение о закрытии пары
func NewTradeClosedMessage(op models.Opportunity, pnl float64) *TradeMessage {
	return &TradeMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeTradeClosed,
			Timestamp: time.Now(),
		},
		Data: &TradeData{
			Symbol:    op.Symbol,
			BuyVenue:  op.BuyVenue,
			BuyPrice:  op.BuyPrice,
			SellVenue: op.SellVenue,
			SellPrice: op.SellPrice,
			Pnl:       pnl,
		},
	}
}

// NewBalanceUpdateMessage создает сообщение обновления баланса
func NewBalanceUpdateMessage(venue string, balances map[string]float64) *BalanceUpdateMessage {
	return &BalanceUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeBalanceUpdate,
			Timestamp: time.Now(),
		},
		Venue:    venue,
		Balances: balances,
	}
}

package models

import (
	"errors"
	"fmt"
)

// Виды ошибок ядра. Координатор различает их через errors.Is:
// ошибки симулятора логируются и не прерывают обработку тиков,
// ошибки снапшотов фатальны и доходят до границы процесса.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrNoSuchPosition           = errors.New("no such position")
	ErrInsufficientPositionSize = errors.New("insufficient position size")
	ErrEntryPriceMissing        = errors.New("entry price missing")
	ErrMalformedTick            = errors.New("malformed tick")
	ErrSnapshotIO               = errors.New("snapshot i/o error")
)

// BalanceError - недостаточно средств для маржи на бирже
type BalanceError struct {
	Venue    string
	Asset    string
	Balance  float64
	Required float64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%s: insufficient %s balance for margin: have %.8f, need %.8f",
		e.Venue, e.Asset, e.Balance, e.Required)
}

// Unwrap поддерживает errors.Is(err, ErrInsufficientBalance)
func (e *BalanceError) Unwrap() error { return ErrInsufficientBalance }

// PositionError - нарушение предусловий close_position
type PositionError struct {
	Venue  string
	Symbol string
	Side   string
	Kind   error // один из ErrNoSuchPosition, ErrInsufficientPositionSize, ErrEntryPriceMissing
	Detail string
}

func (e *PositionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s %s: %v: %s", e.Venue, e.Symbol, e.Side, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Venue, e.Symbol, e.Side, e.Kind)
}

func (e *PositionError) Unwrap() error { return e.Kind }

// SnapshotError - ошибка чтения/записи файла состояния.
// Фатальна: пробрасывается наружу из ProcessMessage и завершает процесс.
type SnapshotError struct {
	Venue string
	Path  string
	Err   error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("%s: snapshot %s: %v", e.Venue, e.Path, e.Err)
}

func (e *SnapshotError) Unwrap() error { return ErrSnapshotIO }

// MalformedTickError - некорректное сообщение от брокера.
// Тик пропускается, обработка продолжается.
type MalformedTickError struct {
	Reason string
}

func (e *MalformedTickError) Error() string {
	return fmt.Sprintf("malformed tick: %s", e.Reason)
}

func (e *MalformedTickError) Unwrap() error { return ErrMalformedTick }

package models

import (
	"fmt"
	"strings"
)

// Символы приходят с брокера в wire-форме "BASE-QUOTE",
// внутри системы используется каноническая форма "BASE/QUOTE".
// Обе формы должны round-trip'иться без потерь.

// CanonicalSymbol переводит wire-форму в каноническую: "BTC-USD" -> "BTC/USD".
// Каноническая форма на входе возвращается как есть.
func CanonicalSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "/")
}

// WireSymbol переводит каноническую форму в wire-форму: "BTC/USD" -> "BTC-USD".
func WireSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

// SplitSymbol разбивает канонический символ на базовый и котируемый актив
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol %q: expected BASE/QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

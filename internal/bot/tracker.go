package bot

import (
	"sort"
	"sync"
)

// TrackedPosition - живая парная сделка на двух биржах
type TrackedPosition struct {
	BuyVenue  string  `json:"buy_venue"`
	SellVenue string  `json:"sell_venue"`
	Amount    float64 `json:"amount"` // объём ноги в базовом активе
}

// PositionTracker - реестр живых парных сделок координатора:
// ключ пары -> символ -> позиция. Трекер авторитетен по объёмам
// закрытия; op.Amount носит справочный характер.
type PositionTracker struct {
	mu    sync.RWMutex
	pairs map[string]map[string]TrackedPosition
}

// NewPositionTracker создаёт пустой реестр
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{pairs: make(map[string]map[string]TrackedPosition)}
}

// Register регистрирует парную сделку после успешного открытия обеих ног
func (t *PositionTracker) Register(pairKey, symbol string, tp TrackedPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bySymbol, ok := t.pairs[pairKey]
	if !ok {
		bySymbol = make(map[string]TrackedPosition)
		t.pairs[pairKey] = bySymbol
	}
	bySymbol[symbol] = tp
}

// Deregister удаляет запись (pairKey, symbol) после успешного закрытия
func (t *PositionTracker) Deregister(pairKey, symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bySymbol, ok := t.pairs[pairKey]
	if !ok {
		return
	}
	delete(bySymbol, symbol)
	if len(bySymbol) == 0 {
		delete(t.pairs, pairKey)
	}
}

// Lookup возвращает зарегистрированную позицию
func (t *PositionTracker) Lookup(pairKey, symbol string) (TrackedPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tp, ok := t.pairs[pairKey][symbol]
	return tp, ok
}

// HasPair сообщает, есть ли живые сделки по ключу пары
func (t *PositionTracker) HasPair(pairKey string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pairs[pairKey]) > 0
}

// Len возвращает число живых парных сделок
func (t *PositionTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, bySymbol := range t.pairs {
		n += len(bySymbol)
	}
	return n
}

// ForEach детерминированно (по возрастанию ключа пары) обходит живые
// сделки для символа
func (t *PositionTracker) ForEach(symbol string, fn func(pairKey string, tp TrackedPosition)) {
	t.mu.RLock()
	keys := make([]string, 0, len(t.pairs))
	for key := range t.pairs {
		if _, ok := t.pairs[key][symbol]; ok {
			keys = append(keys, key)
		}
	}
	positions := make([]TrackedPosition, len(keys))
	sort.Strings(keys)
	for i, key := range keys {
		positions[i] = t.pairs[key][symbol]
	}
	t.mu.RUnlock()

	for i, key := range keys {
		fn(key, positions[i])
	}
}

// All детерминированно обходит все живые сделки.
// Callback вызывается вне блокировки - допустимы Deregister изнутри.
func (t *PositionTracker) All(fn func(pairKey, symbol string, tp TrackedPosition)) {
	type entry struct {
		pairKey string
		symbol  string
		tp      TrackedPosition
	}

	t.mu.RLock()
	entries := make([]entry, 0, len(t.pairs))
	keys := make([]string, 0, len(t.pairs))
	for key := range t.pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		symbols := make([]string, 0, len(t.pairs[key]))
		for symbol := range t.pairs[key] {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			entries = append(entries, entry{key, symbol, t.pairs[key][symbol]})
		}
	}
	t.mu.RUnlock()

	for _, e := range entries {
		fn(e.pairKey, e.symbol, e.tp)
	}
}

// Snapshot возвращает копию реестра для API
func (t *PositionTracker) Snapshot() map[string]map[string]TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]map[string]TrackedPosition, len(t.pairs))
	for key, bySymbol := range t.pairs {
		inner := make(map[string]TrackedPosition, len(bySymbol))
		for symbol, tp := range bySymbol {
			inner[symbol] = tp
		}
		out[key] = inner
	}
	return out
}

// Package exchange содержит симулятор маржинальной биржи и заглушку
// живого биржевого клиента. Симулятор - ядро системы; живые клиенты
// в торговой логике не участвуют.
package exchange

import (
	"strconv"
	"sync"
	"time"

	"arbsim/internal/models"
	"arbsim/internal/storage"
)

// Режимы фиксации цены входа при доборе позиции
const (
	// EntryFirstOpen - цена входа фиксируется при первом открытии
	// стороны с нуля, доборы её не меняют (референсное поведение)
	EntryFirstOpen = "first_open"

	// EntryWeightedAvg - цена входа пересчитывается как средневзвешенная
	EntryWeightedAvg = "weighted_avg"
)

// Значения по умолчанию для конструктора
const (
	DefaultFeeRate    = 0.001
	DefaultLeverage   = 10
	DefaultStorageDir = "storage"
)

// SimulatorConfig - параметры симулятора одной биржи.
// Ноль - валидная комиссия (биржа без комиссии); значение по умолчанию
// включается отрицательным FeeRate или DefaultSimulatorConfig.
type SimulatorConfig struct {
	FeeRate    float64 // комиссия тейкера, доля (0.001 = 0.1%); < 0 - по умолчанию
	Leverage   int     // плечо
	Persist    bool    // писать снапшоты на диск
	StorageDir string  // каталог снапшотов
	EntryMode  string  // EntryFirstOpen | EntryWeightedAvg
}

// DefaultSimulatorConfig возвращает конфигурацию по умолчанию
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		FeeRate:    DefaultFeeRate,
		Leverage:   DefaultLeverage,
		StorageDir: DefaultStorageDir,
		EntryMode:  EntryFirstOpen,
	}
}

// MarginSimulator - симулятор маржинальной биржи.
//
// Одна биржа = один симулятор, владеет им координатор. Все мутации
// проходят через PlaceOrder, ClosePosition и HardReset; каждая мутация
// синхронно сбрасывает снапшот, если включена персистентность.
//
// Это notional-симулятор маржи, а не спотовый стакан: маржа в котируемом
// активе списывается для обеих сторон, базовый актив на баланс не
// зачисляется.
type MarginSimulator struct {
	name      string
	feeRate   float64
	leverage  int
	entryMode string
	persist   bool
	store     *storage.Store

	mu            sync.RWMutex
	realBalance   map[string]float64
	loanedBalance map[string]float64
	positions     map[string]*models.Position
	orders        []models.OrderRecord
}

// simulatorState - формат снапшота на диске
type simulatorState struct {
	RealBalance   map[string]float64          `json:"real_balance"`
	LoanedBalance map[string]float64          `json:"loaned_balance"`
	Positions     map[string]*models.Position `json:"positions"`
	Orders        []models.OrderRecord        `json:"orders"`
}

// BalanceSnapshot - срез балансов для API и логов
type BalanceSnapshot struct {
	RealBalance   map[string]float64 `json:"real_balance"`
	LoanedBalance map[string]float64 `json:"loaned_balance"`
}

// NewMarginSimulator создаёт симулятор биржи.
//
// Если включена персистентность и на диске есть снапшот, состояние
// загружается из него; иначе балансы заполняются из initialFunds и
// записывается стартовый снапшот.
func NewMarginSimulator(name string, initialFunds map[string]float64, cfg SimulatorConfig) (*MarginSimulator, error) {
	if cfg.FeeRate < 0 {
		cfg.FeeRate = DefaultFeeRate
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = DefaultLeverage
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = DefaultStorageDir
	}
	if cfg.EntryMode == "" {
		cfg.EntryMode = EntryFirstOpen
	}

	sim := &MarginSimulator{
		name:          name,
		feeRate:       cfg.FeeRate,
		leverage:      cfg.Leverage,
		entryMode:     cfg.EntryMode,
		persist:       cfg.Persist,
		realBalance:   make(map[string]float64),
		loanedBalance: make(map[string]float64),
		positions:     make(map[string]*models.Position),
		orders:        make([]models.OrderRecord, 0),
	}

	if cfg.Persist {
		store, err := storage.NewStore(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		sim.store = store

		if store.Exists(name) {
			var state simulatorState
			if err := store.Load(name, &state); err != nil {
				return nil, err
			}
			sim.applyState(&state)
			return sim, nil
		}
	}

	for asset, amount := range initialFunds {
		sim.realBalance[asset] = amount
	}
	if err := sim.persistState(); err != nil {
		return nil, err
	}
	return sim, nil
}

// Name возвращает имя биржи
func (s *MarginSimulator) Name() string { return s.name }

// Leverage возвращает плечо биржи
func (s *MarginSimulator) Leverage() int { return s.leverage }

// FeeRate возвращает комиссию тейкера
func (s *MarginSimulator) FeeRate() float64 { return s.feeRate }

// Fee вычисляет торговую комиссию за сделку
func (s *MarginSimulator) Fee(amount, price float64) float64 {
	return amount * price * s.feeRate
}

// GetBalance возвращает копию реальных и заёмных балансов
func (s *MarginSimulator) GetBalance() BalanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := BalanceSnapshot{
		RealBalance:   make(map[string]float64, len(s.realBalance)),
		LoanedBalance: make(map[string]float64, len(s.loanedBalance)),
	}
	for k, v := range s.realBalance {
		snap.RealBalance[k] = v
	}
	for k, v := range s.loanedBalance {
		snap.LoanedBalance[k] = v
	}
	return snap
}

// Position возвращает копию позиции по символу.
// Для нетронутого символа возвращается нулевая позиция; запись в
// состоянии при этом НЕ создаётся.
func (s *MarginSimulator) Position(symbol string) *models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pos, ok := s.positions[symbol]; ok {
		return pos.Clone()
	}
	return &models.Position{}
}

// Positions возвращает копии всех позиций
func (s *MarginSimulator) Positions() map[string]*models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.Position, len(s.positions))
	for symbol, pos := range s.positions {
		out[symbol] = pos.Clone()
	}
	return out
}

// Orders возвращает копию истории ордеров
func (s *MarginSimulator) Orders() []models.OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OrderRecord, len(s.orders))
	copy(out, s.orders)
	return out
}

// PlaceOrder открывает или добирает позицию с плечом.
//
// side: "buy" (лонг) или "sell" (шорт). amount - объём в базовом активе,
// price - цена за единицу. Маржа notional/leverage плюс комиссия
// списываются с котируемого актива; для обеих сторон одинаково.
func (s *MarginSimulator) PlaceOrder(symbol, side string, amount, price float64) error {
	_, quote, err := models.SplitSymbol(symbol)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	marginCost := price * amount / float64(s.leverage)
	fee := s.Fee(amount, price)
	totalCost := marginCost + fee

	if s.realBalance[quote] < totalCost {
		return &models.BalanceError{
			Venue:    s.name,
			Asset:    quote,
			Balance:  s.realBalance[quote],
			Required: totalCost,
		}
	}

	s.realBalance[quote] -= totalCost

	pos, ok := s.positions[symbol]
	if !ok {
		pos = &models.Position{}
		s.positions[symbol] = pos
	}

	switch side {
	case models.SideBuy:
		pos.LongEntryPrice = s.nextEntryPrice(pos.LongEntryPrice, pos.Long, amount, price)
		pos.Long += amount
	case models.SideSell:
		pos.ShortEntryPrice = s.nextEntryPrice(pos.ShortEntryPrice, pos.Short, amount, price)
		pos.Short += amount
	}

	// Заёмная часть notional - бухгалтерия write-only, риск по ней
	// не считается
	s.loanedBalance[quote] += price*amount - marginCost

	s.orders = append(s.orders, models.OrderRecord{
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Fee:       fee,
		CreatedAt: time.Now().UTC(),
	})

	return s.persistState()
}

// nextEntryPrice возвращает цену входа стороны после добора qty->qty+amount
func (s *MarginSimulator) nextEntryPrice(current *float64, qty, amount, price float64) *float64 {
	if current == nil {
		return &price
	}
	if s.entryMode == EntryWeightedAvg && qty+amount > 0 {
		avg := (*current*qty + price*amount) / (qty + amount)
		return &avg
	}
	return current
}

// ClosePosition закрывает часть или всю сторону позиции по заданной цене.
//
// side: "long" или "short". Освобождает маржу, залоченную при открытии
// этого куска позиции, и зачисляет PnL на котируемый актив.
func (s *MarginSimulator) ClosePosition(symbol, side string, amount, price float64) (*models.CloseResult, error) {
	_, quote, err := models.SplitSymbol(symbol)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return nil, &models.PositionError{
			Venue: s.name, Symbol: symbol, Side: side,
			Kind: models.ErrNoSuchPosition,
		}
	}

	qty := pos.Qty(side)
	if qty < amount {
		return nil, &models.PositionError{
			Venue: s.name, Symbol: symbol, Side: side,
			Kind:   models.ErrInsufficientPositionSize,
			Detail: "have " + formatQty(qty) + ", closing " + formatQty(amount),
		}
	}

	entryPtr := pos.EntryPrice(side)
	if entryPtr == nil {
		return nil, &models.PositionError{
			Venue: s.name, Symbol: symbol, Side: side,
			Kind: models.ErrEntryPriceMissing,
		}
	}
	entry := *entryPtr

	fee := s.Fee(amount, price)
	var pnl float64
	if side == models.SideLong {
		pnl = (price-entry)*amount - fee
	} else {
		pnl = (entry-price)*amount - fee
	}

	// Освобождаем маржу, залоченную при открытии этого куска
	s.realBalance[quote] += pnl + entry*amount/float64(s.leverage)

	loanedRelease := entry*amount - entry*amount/float64(s.leverage)
	s.loanedBalance[quote] -= loanedRelease
	if s.loanedBalance[quote] < 0 {
		s.loanedBalance[quote] = 0
	}

	remaining := qty - amount
	if remaining < 0 {
		remaining = 0
	}
	if side == models.SideLong {
		pos.Long = remaining
		if remaining == 0 {
			pos.LongEntryPrice = nil
		}
	} else {
		pos.Short = remaining
		if remaining == 0 {
			pos.ShortEntryPrice = nil
		}
	}

	closedAt := time.Now().UTC()
	s.orders = append(s.orders, models.OrderRecord{
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Fee:       fee,
		Pnl:       &pnl,
		CreatedAt: closedAt,
	})

	if err := s.persistState(); err != nil {
		return nil, err
	}

	return &models.CloseResult{
		Symbol:     symbol,
		Side:       side,
		Amount:     amount,
		Price:      price,
		Pnl:        pnl,
		EntryPrice: entry,
		ClosedAt:   closedAt,
	}, nil
}

// HardReset сбрасывает состояние биржи к начальным балансам
func (s *MarginSimulator) HardReset(initialFunds map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.realBalance = make(map[string]float64, len(initialFunds))
	for asset, amount := range initialFunds {
		s.realBalance[asset] = amount
	}
	s.loanedBalance = make(map[string]float64)
	s.positions = make(map[string]*models.Position)
	s.orders = make([]models.OrderRecord, 0)

	return s.persistState()
}

// applyState загружает снапшот в симулятор
func (s *MarginSimulator) applyState(state *simulatorState) {
	if state.RealBalance != nil {
		s.realBalance = state.RealBalance
	}
	if state.LoanedBalance != nil {
		s.loanedBalance = state.LoanedBalance
	}
	if state.Positions != nil {
		s.positions = state.Positions
	}
	if state.Orders != nil {
		s.orders = state.Orders
	}
}

// state собирает снапшот текущего состояния.
// ВАЖНО: вызывается под мьютексом.
func (s *MarginSimulator) state() simulatorState {
	return simulatorState{
		RealBalance:   s.realBalance,
		LoanedBalance: s.loanedBalance,
		Positions:     s.positions,
		Orders:        s.orders,
	}
}

// persistState синхронно пишет снапшот в конце мутирующего вызова.
// ВАЖНО: вызывается под мьютексом.
func (s *MarginSimulator) persistState() error {
	if !s.persist {
		return nil
	}
	return s.store.Save(s.name, s.state())
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

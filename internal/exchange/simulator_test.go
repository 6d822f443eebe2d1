package exchange

import (
	"errors"
	"math"
	"testing"

	"arbsim/internal/models"
)

// ============================================================
// MarginSimulator Tests
// ============================================================

const eps = 1e-9

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

// newTestSimulator создаёт симулятор без персистентности:
// USDT 10000, комиссия 0.1%, плечо 10
func newTestSimulator(t *testing.T) *MarginSimulator {
	t.Helper()

	sim, err := NewMarginSimulator("binance", map[string]float64{"USDT": 10000}, SimulatorConfig{
		FeeRate:  0.001,
		Leverage: 10,
		Persist:  false,
	})
	if err != nil {
		t.Fatalf("create simulator: %v", err)
	}
	return sim
}

func TestNewMarginSimulatorDefaults(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.Persist = false

	sim, err := NewMarginSimulator("kraken", map[string]float64{"USDT": 500}, cfg)
	if err != nil {
		t.Fatalf("create simulator: %v", err)
	}

	if sim.FeeRate() != DefaultFeeRate {
		t.Errorf("expected default fee rate %v, got %v", DefaultFeeRate, sim.FeeRate())
	}
	if sim.Leverage() != DefaultLeverage {
		t.Errorf("expected default leverage %d, got %d", DefaultLeverage, sim.Leverage())
	}
	if got := sim.GetBalance().RealBalance["USDT"]; got != 500 {
		t.Errorf("expected initial balance 500, got %v", got)
	}

	// Отрицательная комиссия - сентинел "по умолчанию"
	sim, err = NewMarginSimulator("kraken", map[string]float64{"USDT": 500}, SimulatorConfig{FeeRate: -1})
	if err != nil {
		t.Fatalf("create simulator: %v", err)
	}
	if sim.FeeRate() != DefaultFeeRate {
		t.Errorf("expected negative fee rate replaced by default, got %v", sim.FeeRate())
	}
}

// Нулевая комиссия - валидная конфигурация, а не "возьми умолчание"
func TestZeroFeeRate(t *testing.T) {
	sim, err := NewMarginSimulator("binance", map[string]float64{"USD": 10000}, SimulatorConfig{
		FeeRate:  0,
		Leverage: 10,
	})
	if err != nil {
		t.Fatalf("create simulator: %v", err)
	}

	if sim.FeeRate() != 0 {
		t.Fatalf("configured fee rate 0 became %v", sim.FeeRate())
	}
	if got := sim.Fee(1.0, 100); got != 0 {
		t.Fatalf("expected zero fee, got %v", got)
	}

	// Без комиссии уходит ровно маржа, PnL равен чистому движению цены
	if err := sim.PlaceOrder("BTC/USD", models.SideBuy, 1.0, 100); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if got := sim.GetBalance().RealBalance["USD"]; !approxEqual(got, 10000-10) {
		t.Errorf("balance after open = %v, want 9990", got)
	}

	res, err := sim.ClosePosition("BTC/USD", models.SideLong, 1.0, 100.5)
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	if !approxEqual(res.Pnl, 0.5) {
		t.Errorf("pnl = %v, want 0.5", res.Pnl)
	}
	if got := sim.GetBalance().RealBalance["USD"]; !approxEqual(got, 10000.5) {
		t.Errorf("balance after close = %v, want 10000.5", got)
	}
}

func TestFee(t *testing.T) {
	sim := newTestSimulator(t)

	tests := []struct {
		name   string
		amount float64
		price  float64
		want   float64
	}{
		{"btc size", 0.002, 50000, 0.1},
		{"eth size", 0.1, 3000, 0.3},
		{"zero amount", 0, 50000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sim.Fee(tt.amount, tt.price); !approxEqual(got, tt.want) {
				t.Errorf("Fee(%v, %v) = %v, want %v", tt.amount, tt.price, got, tt.want)
			}
		})
	}
}

// Открытие лонга: с баланса уходит маржа notional/leverage плюс комиссия,
// заёмная часть notional попадает в loaned_balance
func TestPlaceOrderMarginAccounting(t *testing.T) {
	sim := newTestSimulator(t)

	// notional 100, маржа 10, комиссия 0.1
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.002, 50000); err != nil {
		t.Fatalf("place order: %v", err)
	}

	snap := sim.GetBalance()
	if !approxEqual(snap.RealBalance["USDT"], 10000-10-0.1) {
		t.Errorf("expected real balance 9989.9, got %v", snap.RealBalance["USDT"])
	}
	if !approxEqual(snap.LoanedBalance["USDT"], 90) {
		t.Errorf("expected loaned balance 90, got %v", snap.LoanedBalance["USDT"])
	}

	pos := sim.Position("BTC/USDT")
	if !approxEqual(pos.Long, 0.002) {
		t.Errorf("expected long 0.002, got %v", pos.Long)
	}
	if pos.LongEntryPrice == nil || *pos.LongEntryPrice != 50000 {
		t.Errorf("expected long entry 50000, got %v", pos.LongEntryPrice)
	}

	orders := sim.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Pnl != nil {
		t.Error("opening order must not carry pnl")
	}
}

// Маржа шорта считается так же, как маржа лонга
func TestPlaceOrderShortSameMargin(t *testing.T) {
	sim := newTestSimulator(t)

	if err := sim.PlaceOrder("BTC/USDT", models.SideSell, 0.002, 50000); err != nil {
		t.Fatalf("place order: %v", err)
	}

	snap := sim.GetBalance()
	if !approxEqual(snap.RealBalance["USDT"], 9989.9) {
		t.Errorf("expected real balance 9989.9, got %v", snap.RealBalance["USDT"])
	}

	pos := sim.Position("BTC/USDT")
	if !approxEqual(pos.Short, 0.002) {
		t.Errorf("expected short 0.002, got %v", pos.Short)
	}
	if pos.ShortEntryPrice == nil || *pos.ShortEntryPrice != 50000 {
		t.Errorf("expected short entry 50000, got %v", pos.ShortEntryPrice)
	}
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	sim, err := NewMarginSimulator("binance", map[string]float64{"USDT": 5}, SimulatorConfig{
		FeeRate:  0.001,
		Leverage: 10,
	})
	if err != nil {
		t.Fatalf("create simulator: %v", err)
	}

	// Требуется 10.1, на балансе 5
	err = sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.002, 50000)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, models.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// Провал не должен трогать состояние
	if got := sim.GetBalance().RealBalance["USDT"]; got != 5 {
		t.Errorf("balance changed on failed order: %v", got)
	}
	if len(sim.Orders()) != 0 {
		t.Error("failed order must not be recorded")
	}
}

func TestPlaceOrderInvalidSymbol(t *testing.T) {
	sim := newTestSimulator(t)

	if err := sim.PlaceOrder("BTCUSDT", models.SideBuy, 0.002, 50000); err == nil {
		t.Error("expected error for symbol without separator")
	}
}

// PnL закрытия: лонг (price-entry)*amount - fee, шорт (entry-price)*amount - fee.
// Маржа куска позиции возвращается на баланс.
func TestClosePositionPnl(t *testing.T) {
	tests := []struct {
		name       string
		openSide   string
		closeSide  string
		entry      float64
		closePrice float64
		wantPnl    float64
	}{
		// fee = 0.002 * closePrice * 0.001
		{"long profit", models.SideBuy, models.SideLong, 50000, 50500, 500*0.002 - 0.101},
		{"long loss", models.SideBuy, models.SideLong, 50000, 49500, -500*0.002 - 0.099},
		{"short profit", models.SideSell, models.SideShort, 50000, 49500, 500*0.002 - 0.099},
		{"short loss", models.SideSell, models.SideShort, 50000, 50500, -500*0.002 - 0.101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newTestSimulator(t)
			if err := sim.PlaceOrder("BTC/USDT", tt.openSide, 0.002, tt.entry); err != nil {
				t.Fatalf("place order: %v", err)
			}
			balanceAfterOpen := sim.GetBalance().RealBalance["USDT"]

			res, err := sim.ClosePosition("BTC/USDT", tt.closeSide, 0.002, tt.closePrice)
			if err != nil {
				t.Fatalf("close position: %v", err)
			}

			if !approxEqual(res.Pnl, tt.wantPnl) {
				t.Errorf("pnl = %v, want %v", res.Pnl, tt.wantPnl)
			}
			if res.EntryPrice != tt.entry {
				t.Errorf("entry price = %v, want %v", res.EntryPrice, tt.entry)
			}

			// Возврат маржи: pnl + entry*amount/leverage
			wantBalance := balanceAfterOpen + tt.wantPnl + tt.entry*0.002/10
			if got := sim.GetBalance().RealBalance["USDT"]; !approxEqual(got, wantBalance) {
				t.Errorf("balance after close = %v, want %v", got, wantBalance)
			}

			// Сторона закрыта полностью - цена входа сброшена
			pos := sim.Position("BTC/USDT")
			if !pos.IsFlat() {
				t.Errorf("expected flat position, got long=%v short=%v", pos.Long, pos.Short)
			}
			if got := sim.GetBalance().LoanedBalance["USDT"]; !approxEqual(got, 0) {
				t.Errorf("expected loaned balance 0, got %v", got)
			}
		})
	}
}

// Частичное закрытие оставляет остаток стороны и цену входа
func TestClosePositionPartial(t *testing.T) {
	sim := newTestSimulator(t)
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.004, 50000); err != nil {
		t.Fatalf("place order: %v", err)
	}

	res, err := sim.ClosePosition("BTC/USDT", models.SideLong, 0.001, 50500)
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	if !approxEqual(res.Amount, 0.001) {
		t.Errorf("closed amount = %v, want 0.001", res.Amount)
	}

	pos := sim.Position("BTC/USDT")
	if !approxEqual(pos.Long, 0.003) {
		t.Errorf("remaining long = %v, want 0.003", pos.Long)
	}
	if pos.LongEntryPrice == nil || *pos.LongEntryPrice != 50000 {
		t.Error("partial close must keep entry price")
	}
}

func TestClosePositionErrors(t *testing.T) {
	sim := newTestSimulator(t)
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.002, 50000); err != nil {
		t.Fatalf("place order: %v", err)
	}

	tests := []struct {
		name     string
		symbol   string
		side     string
		amount   float64
		wantKind error
	}{
		{"unknown symbol", "ETH/USDT", models.SideLong, 0.002, models.ErrNoSuchPosition},
		{"oversized close", "BTC/USDT", models.SideLong, 0.005, models.ErrInsufficientPositionSize},
		{"empty side", "BTC/USDT", models.SideShort, 0.002, models.ErrInsufficientPositionSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.ClosePosition(tt.symbol, tt.side, tt.amount, 50000)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("expected %v, got %v", tt.wantKind, err)
			}
		})
	}
}

// first_open: цена входа фиксируется при первом открытии стороны с нуля,
// доборы её не меняют; после полного закрытия сторона открывается заново
func TestEntryPriceFirstOpen(t *testing.T) {
	sim := newTestSimulator(t)

	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.001, 50000); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.001, 52000); err != nil {
		t.Fatalf("second order: %v", err)
	}

	pos := sim.Position("BTC/USDT")
	if pos.LongEntryPrice == nil || *pos.LongEntryPrice != 50000 {
		t.Errorf("expected entry 50000 after top-up, got %v", pos.LongEntryPrice)
	}

	// Полное закрытие и новое открытие фиксируют новую цену
	if _, err := sim.ClosePosition("BTC/USDT", models.SideLong, 0.002, 51000); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.001, 53000); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	pos = sim.Position("BTC/USDT")
	if pos.LongEntryPrice == nil || *pos.LongEntryPrice != 53000 {
		t.Errorf("expected entry 53000 after reopen, got %v", pos.LongEntryPrice)
	}
}

// weighted_avg: добор пересчитывает цену входа как средневзвешенную
func TestEntryPriceWeightedAvg(t *testing.T) {
	sim, err := NewMarginSimulator("binance", map[string]float64{"USDT": 10000}, SimulatorConfig{
		FeeRate:   0.001,
		Leverage:  10,
		EntryMode: EntryWeightedAvg,
	})
	if err != nil {
		t.Fatalf("create simulator: %v", err)
	}

	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.001, 50000); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.003, 52000); err != nil {
		t.Fatalf("second order: %v", err)
	}

	// (50000*0.001 + 52000*0.003) / 0.004 = 51500
	pos := sim.Position("BTC/USDT")
	if pos.LongEntryPrice == nil || !approxEqual(*pos.LongEntryPrice, 51500) {
		t.Errorf("expected weighted entry 51500, got %v", pos.LongEntryPrice)
	}
}

// Чтение позиции по нетронутому символу не создаёт запись в состоянии
func TestPositionReadWithoutCreate(t *testing.T) {
	sim := newTestSimulator(t)

	pos := sim.Position("DOGE/USDT")
	if !pos.IsFlat() {
		t.Errorf("expected flat position, got %+v", pos)
	}
	if len(sim.Positions()) != 0 {
		t.Error("read must not create a position entry")
	}
}

// Позиции, возвращаемые наружу, - копии: мутация не задевает состояние
func TestPositionReturnsClone(t *testing.T) {
	sim := newTestSimulator(t)
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.002, 50000); err != nil {
		t.Fatalf("place order: %v", err)
	}

	pos := sim.Position("BTC/USDT")
	pos.Long = 99
	*pos.LongEntryPrice = 1

	fresh := sim.Position("BTC/USDT")
	if !approxEqual(fresh.Long, 0.002) || *fresh.LongEntryPrice != 50000 {
		t.Error("external mutation leaked into simulator state")
	}
}

func TestHardReset(t *testing.T) {
	sim := newTestSimulator(t)
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.002, 50000); err != nil {
		t.Fatalf("place order: %v", err)
	}

	if err := sim.HardReset(map[string]float64{"USDT": 7777}); err != nil {
		t.Fatalf("hard reset: %v", err)
	}

	snap := sim.GetBalance()
	if snap.RealBalance["USDT"] != 7777 {
		t.Errorf("expected balance 7777, got %v", snap.RealBalance["USDT"])
	}
	if len(snap.LoanedBalance) != 0 {
		t.Errorf("expected empty loaned balance, got %v", snap.LoanedBalance)
	}
	if len(sim.Positions()) != 0 || len(sim.Orders()) != 0 {
		t.Error("expected positions and orders cleared")
	}
}

// Персистентность: новый симулятор с тем же каталогом поднимает
// состояние из снапшота, а не из initialFunds
func TestPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := SimulatorConfig{
		FeeRate:    0.001,
		Leverage:   10,
		Persist:    true,
		StorageDir: dir,
	}

	sim, err := NewMarginSimulator("binance", map[string]float64{"USDT": 10000}, cfg)
	if err != nil {
		t.Fatalf("create simulator: %v", err)
	}
	if err := sim.PlaceOrder("BTC/USDT", models.SideBuy, 0.002, 50000); err != nil {
		t.Fatalf("place order: %v", err)
	}
	wantBalance := sim.GetBalance().RealBalance["USDT"]

	restored, err := NewMarginSimulator("binance", map[string]float64{"USDT": 1}, cfg)
	if err != nil {
		t.Fatalf("restore simulator: %v", err)
	}

	if got := restored.GetBalance().RealBalance["USDT"]; !approxEqual(got, wantBalance) {
		t.Errorf("restored balance = %v, want %v", got, wantBalance)
	}
	pos := restored.Position("BTC/USDT")
	if !approxEqual(pos.Long, 0.002) {
		t.Errorf("restored long = %v, want 0.002", pos.Long)
	}
	if pos.LongEntryPrice == nil || *pos.LongEntryPrice != 50000 {
		t.Errorf("restored entry = %v, want 50000", pos.LongEntryPrice)
	}
	if len(restored.Orders()) != 1 {
		t.Errorf("restored orders = %d, want 1", len(restored.Orders()))
	}
}

package bot

import (
	"testing"

	"arbsim/internal/exchange"
	"arbsim/internal/models"
)

// ============================================================
// ArbitrageDetector Tests
// ============================================================

func newTestSimulators(t *testing.T, venues ...string) map[string]*exchange.MarginSimulator {
	t.Helper()

	if len(venues) == 0 {
		venues = []string{"binance", "kraken"}
	}
	sims := make(map[string]*exchange.MarginSimulator, len(venues))
	for _, name := range venues {
		sim, err := exchange.NewMarginSimulator(name, map[string]float64{"USDT": 10000}, exchange.SimulatorConfig{
			Persist: false,
		})
		if err != nil {
			t.Fatalf("create simulator %s: %v", name, err)
		}
		sims[name] = sim
	}
	return sims
}

// newTestDetector создаёт детектор поверх двух симуляторов:
// порог открытия 0.5%, порог реконвергенции 0.01%
func newTestDetector(t *testing.T, venues ...string) *ArbitrageDetector {
	t.Helper()
	return NewArbitrageDetector(newTestSimulators(t, venues...), DefaultDetectorConfig())
}

func tick(venue, instrument string, price float64, ts int64) *models.Tick {
	return &models.Tick{Timestamp: ts, Exchange: venue, InstrumentID: instrument, Price: price}
}

func TestLatestPrice(t *testing.T) {
	d := newTestDetector(t)

	if _, ok := d.LatestPrice("binance", "BTC/USDT"); ok {
		t.Error("expected no price before first tick")
	}

	d.UpdatePrices(tick("binance", "BTC-USDT", 50000, 1))
	d.UpdatePrices(tick("binance", "BTC-USDT", 50100, 2))

	price, ok := d.LatestPrice("binance", "BTC/USDT")
	if !ok || price != 50100 {
		t.Errorf("expected latest price 50100, got %v (%v)", price, ok)
	}
}

// История ограничена: старые наблюдения вытесняются, последнее всегда живо
func TestHistoryEviction(t *testing.T) {
	d := newTestDetector(t)

	for i := 1; i <= DefaultHistorySize+3; i++ {
		d.UpdatePrices(tick("binance", "BTC-USDT", float64(50000+i), int64(i)))
	}

	price, ok := d.LatestPrice("binance", "BTC/USDT")
	if !ok || price != float64(50000+DefaultHistorySize+3) {
		t.Errorf("expected latest price after eviction, got %v", price)
	}

	history := d.prices["binance"]["BTC/USDT"]
	if len(history) != DefaultHistorySize {
		t.Errorf("expected history capped at %d, got %d", DefaultHistorySize, len(history))
	}
}

// Спред открытия считается в процентах от ноги покупки
func TestDetectOpenOpportunity(t *testing.T) {
	tests := []struct {
		name      string
		buyPrice  float64
		sellPrice float64
		wantOpen  bool
	}{
		// порог 0.5% от ноги покупки
		{"wide spread", 50000, 50500, true},   // 1%
		{"exact threshold", 50000, 50250, true}, // ровно 0.5%
		{"below threshold", 50000, 50100, false},
		{"no spread", 50000, 50000, false},
		{"inverted below", 50500, 50000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t)
			tracker := NewPositionTracker()

			d.UpdatePrices(tick("binance", "BTC-USDT", tt.buyPrice, 1))
			d.UpdatePrices(tick("kraken", "BTC-USDT", tt.sellPrice, 1))

			ops := d.DetectOpportunity("BTC/USDT", tracker)
			if !tt.wantOpen {
				if len(ops) != 0 {
					t.Fatalf("expected no opportunities, got %d", len(ops))
				}
				return
			}

			if len(ops) != 1 {
				t.Fatalf("expected 1 opportunity, got %d", len(ops))
			}
			op := ops[0]
			if op.Kind != models.OpportunityOpen {
				t.Errorf("expected open opportunity, got %v", op.Kind)
			}
			if op.BuyVenue != "binance" || op.SellVenue != "kraken" {
				t.Errorf("expected buy binance sell kraken, got %s -> %s", op.BuyVenue, op.SellVenue)
			}
			wantSpread := (tt.sellPrice - tt.buyPrice) / tt.buyPrice * 100
			if op.SpreadPct != wantSpread {
				t.Errorf("spread = %v, want %v", op.SpreadPct, wantSpread)
			}
		})
	}
}

// Направление определяется ценами: дешёвая нога покупается
func TestDetectOpenDirection(t *testing.T) {
	d := newTestDetector(t)
	tracker := NewPositionTracker()

	// kraken дешевле - покупка на kraken, продажа на binance
	d.UpdatePrices(tick("binance", "BTC-USDT", 50500, 1))
	d.UpdatePrices(tick("kraken", "BTC-USDT", 50000, 1))

	ops := d.DetectOpportunity("BTC/USDT", tracker)
	if len(ops) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(ops))
	}
	if ops[0].BuyVenue != "kraken" || ops[0].SellVenue != "binance" {
		t.Errorf("expected buy kraken sell binance, got %s -> %s", ops[0].BuyVenue, ops[0].SellVenue)
	}
}

// Эмиссия занимает ключ пары: повторные тики не порождают дублей,
// зеркальное направление тоже заблокировано
func TestDetectOpenSuppression(t *testing.T) {
	d := newTestDetector(t)
	tracker := NewPositionTracker()

	d.UpdatePrices(tick("binance", "BTC-USDT", 50000, 1))
	d.UpdatePrices(tick("kraken", "BTC-USDT", 50500, 1))

	if ops := d.DetectOpportunity("BTC/USDT", tracker); len(ops) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(ops))
	}
	if !d.IsPairActive("binance-kraken") {
		t.Error("expected pair key active after emission")
	}

	// Тот же срез цен - дубль подавлен
	if ops := d.DetectOpportunity("BTC/USDT", tracker); len(ops) != 0 {
		t.Errorf("expected duplicate suppressed, got %d opportunities", len(ops))
	}

	// Цены развернулись - зеркальный ключ kraken-binance тоже заблокирован
	d.UpdatePrices(tick("binance", "BTC-USDT", 50500, 2))
	d.UpdatePrices(tick("kraken", "BTC-USDT", 50000, 2))
	if ops := d.DetectOpportunity("BTC/USDT", tracker); len(ops) != 0 {
		t.Errorf("expected mirror direction blocked, got %d opportunities", len(ops))
	}
}

// DiscardPair возвращает слот: провал открытия не блокирует пару навсегда
func TestDiscardPairReleasesSlot(t *testing.T) {
	d := newTestDetector(t)
	tracker := NewPositionTracker()

	d.UpdatePrices(tick("binance", "BTC-USDT", 50000, 1))
	d.UpdatePrices(tick("kraken", "BTC-USDT", 50500, 1))

	if ops := d.DetectOpportunity("BTC/USDT", tracker); len(ops) != 1 {
		t.Fatal("expected initial opportunity")
	}
	d.DiscardPair("binance-kraken")

	if ops := d.DetectOpportunity("BTC/USDT", tracker); len(ops) != 1 {
		t.Errorf("expected opportunity re-emitted after discard, got %d", len(ops))
	}
}

// Ключи пар направленные, но разделены по символам: активная пара по
// одному символу не мешает тому же направлению по другому
func TestDetectOpenPerSymbol(t *testing.T) {
	d := newTestDetector(t)
	tracker := NewPositionTracker()

	d.UpdatePrices(tick("binance", "BTC-USDT", 50000, 1))
	d.UpdatePrices(tick("kraken", "BTC-USDT", 50500, 1))
	if ops := d.DetectOpportunity("BTC/USDT", tracker); len(ops) != 1 {
		t.Fatal("expected BTC opportunity")
	}

	// Ключ binance-kraken уже занят - ETH с тем же направлением подавлен.
	// Это осознанное поведение: слот пары один на направление.
	d.UpdatePrices(tick("binance", "ETH-USDT", 3000, 2))
	d.UpdatePrices(tick("kraken", "ETH-USDT", 3030, 2))
	if ops := d.DetectOpportunity("ETH/USDT", tracker); len(ops) != 0 {
		t.Errorf("expected ETH suppressed while pair slot is taken, got %d", len(ops))
	}
}

// Закрытие: спред реконвергенции считается от ноги продажи,
// объём берётся из трекера
func TestDetectCloseOpportunity(t *testing.T) {
	tests := []struct {
		name      string
		buyPrice  float64
		sellPrice float64
		wantClose bool
	}{
		{"converged", 50200, 50200, true},
		{"within alignment", 50200, 50204, true}, // |Δ|/sell ≈ 0.008%
		{"still wide", 50000, 50500, false},
		{"slightly wide", 50200, 50215, false}, // ≈ 0.03%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t)
			tracker := NewPositionTracker()
			tracker.Register("binance-kraken", "BTC/USDT", TrackedPosition{
				BuyVenue:  "binance",
				SellVenue: "kraken",
				Amount:    0.002,
			})

			d.UpdatePrices(tick("binance", "BTC-USDT", tt.buyPrice, 1))
			d.UpdatePrices(tick("kraken", "BTC-USDT", tt.sellPrice, 1))

			ops := d.DetectOpportunity("BTC/USDT", tracker)

			var closes []models.Opportunity
			for _, op := range ops {
				if op.Kind == models.OpportunityClose {
					closes = append(closes, op)
				}
			}

			if !tt.wantClose {
				if len(closes) != 0 {
					t.Fatalf("expected no close, got %d", len(closes))
				}
				return
			}
			if len(closes) != 1 {
				t.Fatalf("expected 1 close, got %d", len(closes))
			}
			op := closes[0]
			if op.PairKey != "binance-kraken" {
				t.Errorf("pair key = %q, want binance-kraken", op.PairKey)
			}
			if op.Amount != 0.002 {
				t.Errorf("amount = %v, want tracker amount 0.002", op.Amount)
			}
			if op.BuyPrice != tt.buyPrice || op.SellPrice != tt.sellPrice {
				t.Errorf("prices = %v/%v, want %v/%v", op.BuyPrice, op.SellPrice, tt.buyPrice, tt.sellPrice)
			}
		})
	}
}

// Одна нога без данных - возможностей нет
func TestDetectRequiresTwoVenues(t *testing.T) {
	d := newTestDetector(t)
	tracker := NewPositionTracker()

	d.UpdatePrices(tick("binance", "BTC-USDT", 50000, 1))
	if ops := d.DetectOpportunity("BTC/USDT", tracker); ops != nil {
		t.Errorf("expected nil with a single venue, got %v", ops)
	}
}

// Нулевой порог реконвергенции не подменяется умолчанием: закрытие
// эмитится только при точном схождении цен
func TestZeroAlignmentThreshold(t *testing.T) {
	d := NewArbitrageDetector(newTestSimulators(t), DetectorConfig{
		ThresholdPct:          DefaultThresholdPct,
		AlignmentThresholdPct: 0,
	})
	tracker := NewPositionTracker()
	tracker.Register("binance-kraken", "BTC/USDT", TrackedPosition{
		BuyVenue:  "binance",
		SellVenue: "kraken",
		Amount:    0.002,
	})

	// 0.008% - закрылось бы при пороге по умолчанию 0.01%
	d.UpdatePrices(tick("binance", "BTC-USDT", 50200, 1))
	d.UpdatePrices(tick("kraken", "BTC-USDT", 50204, 1))
	if ops := d.DetectOpportunity("BTC/USDT", tracker); len(ops) != 0 {
		t.Fatalf("expected no close below exact convergence, got %d", len(ops))
	}

	d.UpdatePrices(tick("binance", "BTC-USDT", 50200, 2))
	d.UpdatePrices(tick("kraken", "BTC-USDT", 50200, 2))
	ops := d.DetectOpportunity("BTC/USDT", tracker)
	if len(ops) != 1 || ops[0].Kind != models.OpportunityClose {
		t.Fatalf("expected close on exact convergence, got %v", ops)
	}
}

func TestActivePairsSorted(t *testing.T) {
	d := newTestDetector(t, "alpha", "beta", "gamma")
	tracker := NewPositionTracker()

	d.UpdatePrices(tick("gamma", "BTC-USDT", 50000, 1))
	d.UpdatePrices(tick("alpha", "BTC-USDT", 51000, 1))
	d.UpdatePrices(tick("beta", "BTC-USDT", 52000, 1))

	d.DetectOpportunity("BTC/USDT", tracker)

	keys := d.ActivePairs()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("active pairs not sorted: %v", keys)
		}
	}
}

package bot

import (
	"math"
	"sort"
	"sync"

	"arbsim/internal/exchange"
	"arbsim/internal/models"
)

// ============================================================
// ArbitrageDetector - определение межбиржевых расхождений цен
// ============================================================
//
// Детектор держит скользящую историю цен по (биржа, символ) и на каждом
// тике выдаёт набор возможностей на открытие и закрытие. Историю читает
// только последняя запись; очередь нужна для сглаживания в будущем и
// ограничения памяти.

// Пороговые значения по умолчанию
const (
	DefaultThresholdPct          = 0.5  // минимальный спред для открытия, % от ноги покупки
	DefaultAlignmentThresholdPct = 0.01 // максимальный спред для закрытия, % от ноги продажи
	DefaultHistorySize           = 5
)

// PricePoint - одно наблюдение цены
type PricePoint struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// DetectorConfig - параметры детектора.
// Нулевой порог реконвергенции валиден: закрытие только при точном
// схождении цен. Значение по умолчанию включается отрицательным.
type DetectorConfig struct {
	ThresholdPct          float64 // порог открытия
	AlignmentThresholdPct float64 // порог реконвергенции; < 0 - по умолчанию
	HistorySize           int     // ёмкость очереди истории
}

// DefaultDetectorConfig возвращает конфигурацию по умолчанию
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ThresholdPct:          DefaultThresholdPct,
		AlignmentThresholdPct: DefaultAlignmentThresholdPct,
		HistorySize:           DefaultHistorySize,
	}
}

// ArbitrageDetector находит возможности открытия и закрытия парных позиций
type ArbitrageDetector struct {
	thresholdPct float64
	alignmentPct float64
	historySize  int

	// Биржи в лексикографическом порядке - детерминированный обход
	// декартова произведения (b, s)
	venues []string

	mu sync.RWMutex

	// биржа -> символ -> ограниченная очередь наблюдений
	prices map[string]map[string][]PricePoint

	// Активные направленные ключи пар. Открытие добавляет ключ,
	// координатор снимает его при успешном закрытии (или при провале
	// открытия, возвращая множество к состоянию до вызова).
	activePairs map[string]struct{}
}

// NewArbitrageDetector создаёт детектор поверх карты симуляторов.
// Детектор читает состояние симуляторов, но не мутирует его.
func NewArbitrageDetector(simulators map[string]*exchange.MarginSimulator, cfg DetectorConfig) *ArbitrageDetector {
	if cfg.ThresholdPct <= 0 {
		cfg.ThresholdPct = DefaultThresholdPct
	}
	if cfg.AlignmentThresholdPct < 0 {
		cfg.AlignmentThresholdPct = DefaultAlignmentThresholdPct
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	venues := make([]string, 0, len(simulators))
	for name := range simulators {
		venues = append(venues, name)
	}
	sort.Strings(venues)

	return &ArbitrageDetector{
		thresholdPct: cfg.ThresholdPct,
		alignmentPct: cfg.AlignmentThresholdPct,
		historySize:  cfg.HistorySize,
		venues:       venues,
		prices:       make(map[string]map[string][]PricePoint),
		activePairs:  make(map[string]struct{}),
	}
}

// UpdatePrices добавляет наблюдение тика в историю (биржа, символ).
// При переполнении очереди самая старая запись вытесняется. O(1) аморт.
func (d *ArbitrageDetector) UpdatePrices(tick *models.Tick) {
	symbol := tick.Symbol()

	d.mu.Lock()
	defer d.mu.Unlock()

	bySymbol, ok := d.prices[tick.Exchange]
	if !ok {
		bySymbol = make(map[string][]PricePoint)
		d.prices[tick.Exchange] = bySymbol
	}

	history := append(bySymbol[symbol], PricePoint{Price: tick.Price, Timestamp: tick.Timestamp})
	if len(history) > d.historySize {
		history = history[1:]
	}
	bySymbol[symbol] = history
}

// LatestPrice возвращает последнюю известную цену (биржа, символ)
func (d *ArbitrageDetector) LatestPrice(venue, symbol string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	history := d.prices[venue][symbol]
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1].Price, true
}

// DetectOpportunity возвращает возможности для символа на текущем срезе цен.
//
// Открытия: для каждой упорядоченной пары бирж (b, s) спред
// (latest[s]-latest[b])/latest[b]*100 сравнивается с порогом; пара
// блокируется, если активен её ключ или зеркальный. Первая подходящая
// направленная пара в лексикографическом обходе занимает слот,
// зеркальные кандидаты того же тика подавляются.
//
// Закрытия: для каждой зарегистрированной пары трекера спред
// |latest[b]-latest[s]|/latest[s]*100 сравнивается с порогом
// реконвергенции (знаменатель - нога продажи).
func (d *ArbitrageDetector) DetectOpportunity(symbol string, tracker *PositionTracker) []models.Opportunity {
	d.mu.Lock()
	defer d.mu.Unlock()

	latest := make(map[string]float64, len(d.venues))
	withData := make([]string, 0, len(d.venues))
	for _, venue := range d.venues {
		history := d.prices[venue][symbol]
		if len(history) == 0 {
			continue
		}
		latest[venue] = history[len(history)-1].Price
		withData = append(withData, venue)
	}
	if len(withData) < 2 {
		return nil
	}

	var ops []models.Opportunity

	// Открытия
	for _, buy := range withData {
		for _, sell := range withData {
			if buy == sell {
				continue
			}
			spreadPct := (latest[sell] - latest[buy]) / latest[buy] * 100
			if spreadPct < d.thresholdPct {
				continue
			}

			key := models.MakePairKey(buy, sell)
			reverse := models.ReversePairKey(buy, sell)
			if _, active := d.activePairs[key]; active {
				continue
			}
			if _, active := d.activePairs[reverse]; active {
				continue
			}
			if tracker.HasPair(key) || tracker.HasPair(reverse) {
				continue
			}

			ops = append(ops, models.Opportunity{
				Kind:      models.OpportunityOpen,
				Symbol:    symbol,
				BuyVenue:  buy,
				BuyPrice:  latest[buy],
				SellVenue: sell,
				SellPrice: latest[sell],
				SpreadPct: spreadPct,
			})
			d.activePairs[key] = struct{}{}
		}
	}

	// Закрытия
	tracker.ForEach(symbol, func(pairKey string, tp TrackedPosition) {
		buyPrice, okBuy := latest[tp.BuyVenue]
		sellPrice, okSell := latest[tp.SellVenue]
		if !okBuy || !okSell {
			return
		}

		alignPct := math.Abs(buyPrice-sellPrice) / sellPrice * 100
		if alignPct > d.alignmentPct {
			return
		}

		ops = append(ops, models.Opportunity{
			Kind:      models.OpportunityClose,
			Symbol:    symbol,
			BuyVenue:  tp.BuyVenue,
			BuyPrice:  buyPrice,
			SellVenue: tp.SellVenue,
			SellPrice: sellPrice,
			Amount:    tp.Amount,
			PairKey:   pairKey,
		})
	})

	return ops
}

// IsPairActive сообщает, занят ли направленный ключ пары
func (d *ArbitrageDetector) IsPairActive(pairKey string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.activePairs[pairKey]
	return ok
}

// DiscardPair снимает ключ пары из множества активных
func (d *ArbitrageDetector) DiscardPair(pairKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.activePairs, pairKey)
}

// ActivePairs возвращает отсортированный список активных ключей
func (d *ArbitrageDetector) ActivePairs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.activePairs))
	for key := range d.activePairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

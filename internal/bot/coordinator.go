package bot

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"arbsim/internal/exchange"
	"arbsim/internal/models"
)

// ============================================================
// ArbitrageCoordinator - оркестратор ядра
// ============================================================
//
// Склеивает детектор с симуляторами: на каждый тик обновляет историю цен,
// получает возможности и исполняет их. Гарантирует, что с точки зрения
// вызывающего парные позиции на двух биржах открываются и закрываются
// атомарно: реестр обновляется только когда обе ноги прошли.
//
// Тики обрабатываются строго последовательно в порядке прихода;
// внутреннего параллелизма нет.

// DefaultBaseTradeAmount - notional ноги в котируемом активе ДО плеча
const DefaultBaseTradeAmount = 10.0

// EventPublisher получает события сделок для трансляции наружу (WS hub).
// Реализация не должна блокировать обработку тика.
type EventPublisher interface {
	TradeOpened(op models.Opportunity, amount float64)
	TradeClosed(op models.Opportunity, pnl float64)
}

// TradeRecorder пишет закрытые сделки в журнал (Postgres)
type TradeRecorder interface {
	RecordClose(result *models.CloseResult, venue string) error
}

// ArbitrageCoordinator связывает детектор и симуляторы
type ArbitrageCoordinator struct {
	simulators      map[string]*exchange.MarginSimulator
	detector        *ArbitrageDetector
	baseTradeAmount float64

	tracker *PositionTracker

	log    zerolog.Logger
	events EventPublisher // опционально
	trades TradeRecorder  // опционально
}

// NewArbitrageCoordinator создаёт координатор.
// baseTradeAmount - notional одной ноги в котируемом активе до плеча.
func NewArbitrageCoordinator(
	simulators map[string]*exchange.MarginSimulator,
	detector *ArbitrageDetector,
	baseTradeAmount float64,
	log zerolog.Logger,
) *ArbitrageCoordinator {
	if baseTradeAmount <= 0 {
		baseTradeAmount = DefaultBaseTradeAmount
	}
	return &ArbitrageCoordinator{
		simulators:      simulators,
		detector:        detector,
		baseTradeAmount: baseTradeAmount,
		tracker:         NewPositionTracker(),
		log:             log,
	}
}

// SetEventPublisher подключает трансляцию событий сделок
func (c *ArbitrageCoordinator) SetEventPublisher(pub EventPublisher) {
	c.events = pub
}

// SetTradeRecorder подключает журнал закрытых сделок
func (c *ArbitrageCoordinator) SetTradeRecorder(rec TradeRecorder) {
	c.trades = rec
}

// Tracker возвращает реестр живых парных сделок
func (c *ArbitrageCoordinator) Tracker() *PositionTracker { return c.tracker }

// ProcessMessage обрабатывает один тик от брокера.
//
// Ошибки симуляторов (нехватка маржи, расхождение с трекером) логируются
// и глотаются - тик не ретраится, множество активных пар возвращается
// к состоянию до провалившегося вызова. Ошибки снапшотов фатальны и
// возвращаются вызывающему.
func (c *ArbitrageCoordinator) ProcessMessage(tick *models.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		TickProcessingLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	symbol := tick.Symbol()

	c.log.Debug().
		Str("exchange", tick.Exchange).
		Str("symbol", symbol).
		Float64("price", tick.Price).
		Msg("processing tick")

	c.detector.UpdatePrices(tick)
	TicksProcessed.WithLabelValues(tick.Exchange).Inc()

	ops := c.detector.DetectOpportunity(symbol, c.tracker)
	for _, op := range ops {
		switch op.Kind {
		case models.OpportunityOpen:
			if err := c.handleOpen(op); err != nil {
				if errors.Is(err, models.ErrSnapshotIO) {
					return err
				}
				c.log.Warn().Err(err).
					Str("symbol", op.Symbol).
					Str("pair", models.MakePairKey(op.BuyVenue, op.SellVenue)).
					Msg("arbitrage entry failed")
			}
		case models.OpportunityClose:
			if err := c.handleClose(op); err != nil {
				if errors.Is(err, models.ErrSnapshotIO) {
					return err
				}
				c.log.Warn().Err(err).
					Str("symbol", op.Symbol).
					Str("pair", op.PairKey).
					Msg("arbitrage close failed")
			}
		}
	}

	ActivePairs.Set(float64(c.tracker.Len()))
	return nil
}

// handleOpen исполняет возможность открытия и регистрирует пару.
// При любом провале ключ пары, занятый детектором при эмиссии,
// снимается - множество активных пар возвращается к прежнему виду.
func (c *ArbitrageCoordinator) handleOpen(op models.Opportunity) error {
	pairKey := models.MakePairKey(op.BuyVenue, op.SellVenue)

	amount, err := c.executeArbitrage(op)
	if err != nil {
		c.detector.DiscardPair(pairKey)
		TradesTotal.WithLabelValues(op.Symbol, "failed").Inc()
		return err
	}

	c.tracker.Register(pairKey, op.Symbol, TrackedPosition{
		BuyVenue:  op.BuyVenue,
		SellVenue: op.SellVenue,
		Amount:    amount,
	})

	OpportunitiesDetected.WithLabelValues(op.Symbol, "open").Inc()
	TradesTotal.WithLabelValues(op.Symbol, "opened").Inc()
	SpreadObserved.WithLabelValues(op.Symbol).Observe(op.SpreadPct)

	c.log.Info().
		Str("symbol", op.Symbol).
		Str("buy_venue", op.BuyVenue).
		Float64("buy_price", op.BuyPrice).
		Str("sell_venue", op.SellVenue).
		Float64("sell_price", op.SellPrice).
		Float64("spread_pct", op.SpreadPct).
		Float64("amount", amount).
		Msg("arbitrage opened")

	if c.events != nil {
		c.events.TradeOpened(op, amount)
	}
	return nil
}

// executeArbitrage открывает обе ноги: сначала покупка, затем продажа.
// Если вторая нога провалилась, первая НЕ откатывается (референсное
// поведение); реестр при этом не обновляется, расхождение видно в логе.
func (c *ArbitrageCoordinator) executeArbitrage(op models.Opportunity) (float64, error) {
	buySim, ok := c.simulators[op.BuyVenue]
	if !ok {
		return 0, fmt.Errorf("unknown venue %q", op.BuyVenue)
	}
	sellSim, ok := c.simulators[op.SellVenue]
	if !ok {
		return 0, fmt.Errorf("unknown venue %q", op.SellVenue)
	}

	quoteAmount := c.baseTradeAmount * float64(buySim.Leverage())
	baseAmount := quoteAmount / op.BuyPrice

	if err := buySim.PlaceOrder(op.Symbol, models.SideBuy, baseAmount, op.BuyPrice); err != nil {
		return 0, fmt.Errorf("buy leg on %s: %w", op.BuyVenue, err)
	}

	if err := sellSim.PlaceOrder(op.Symbol, models.SideSell, baseAmount, op.SellPrice); err != nil {
		c.log.Error().Err(err).
			Str("symbol", op.Symbol).
			Str("buy_venue", op.BuyVenue).
			Str("sell_venue", op.SellVenue).
			Float64("amount", baseAmount).
			Msg("second leg failed, first leg left open")
		return 0, fmt.Errorf("sell leg on %s: %w", op.SellVenue, err)
	}

	return baseAmount, nil
}

// handleClose закрывает обе ноги пары и чистит реестр.
// Объём берётся из трекера - он авторитетен, а не из op.Amount.
func (c *ArbitrageCoordinator) handleClose(op models.Opportunity) error {
	tp, ok := c.tracker.Lookup(op.PairKey, op.Symbol)
	if !ok {
		return fmt.Errorf("pair %s not tracked for %s", op.PairKey, op.Symbol)
	}

	pnl, err := c.closePositions(op.Symbol, tp, op.BuyPrice, op.SellPrice)
	if err != nil {
		return err
	}

	c.tracker.Deregister(op.PairKey, op.Symbol)
	c.detector.DiscardPair(op.PairKey)

	OpportunitiesDetected.WithLabelValues(op.Symbol, "close").Inc()
	TradesTotal.WithLabelValues(op.Symbol, "closed").Inc()
	PnlTotal.Add(pnl)

	c.log.Info().
		Str("symbol", op.Symbol).
		Str("pair", op.PairKey).
		Float64("buy_price", op.BuyPrice).
		Float64("sell_price", op.SellPrice).
		Float64("pnl", pnl).
		Msg("arbitrage closed")

	if c.events != nil {
		c.events.TradeClosed(op, pnl)
	}
	return nil
}

// closePositions закрывает лонг на бирже покупки и шорт на бирже продажи,
// возвращает суммарный PnL обеих ног
func (c *ArbitrageCoordinator) closePositions(symbol string, tp TrackedPosition, buyPrice, sellPrice float64) (float64, error) {
	buySim := c.simulators[tp.BuyVenue]
	sellSim := c.simulators[tp.SellVenue]

	longRes, err := buySim.ClosePosition(symbol, models.SideLong, tp.Amount, buyPrice)
	if err != nil {
		return 0, fmt.Errorf("close long on %s: %w", tp.BuyVenue, err)
	}
	c.recordClose(longRes, tp.BuyVenue)

	shortRes, err := sellSim.ClosePosition(symbol, models.SideShort, tp.Amount, sellPrice)
	if err != nil {
		return longRes.Pnl, fmt.Errorf("close short on %s: %w", tp.SellVenue, err)
	}
	c.recordClose(shortRes, tp.SellVenue)

	return longRes.Pnl + shortRes.Pnl, nil
}

// recordClose пишет закрытую ногу в журнал сделок, если он подключен
func (c *ArbitrageCoordinator) recordClose(result *models.CloseResult, venue string) {
	if c.trades == nil {
		return
	}
	if err := c.trades.RecordClose(result, venue); err != nil {
		c.log.Warn().Err(err).Str("venue", venue).Msg("trade log write failed")
	}
}

// CloseAllPositions закрывает все живые пары по последним известным ценам.
// Вызывается при остановке процесса. Пары без цены хотя бы по одной ноге
// пропускаются, ошибка отдаётся наружу.
func (c *ArbitrageCoordinator) CloseAllPositions() error {
	var errs []error

	c.tracker.All(func(pairKey, symbol string, tp TrackedPosition) {
		buyPrice, okBuy := c.detector.LatestPrice(tp.BuyVenue, symbol)
		sellPrice, okSell := c.detector.LatestPrice(tp.SellVenue, symbol)
		if !okBuy || !okSell {
			errs = append(errs, fmt.Errorf("no price to close %s %s", pairKey, symbol))
			return
		}

		pnl, err := c.closePositions(symbol, tp, buyPrice, sellPrice)
		if err != nil {
			errs = append(errs, err)
			return
		}

		c.tracker.Deregister(pairKey, symbol)
		c.detector.DiscardPair(pairKey)
		PnlTotal.Add(pnl)

		c.log.Info().
			Str("symbol", symbol).
			Str("pair", pairKey).
			Float64("pnl", pnl).
			Msg("position closed on shutdown")
	})

	ActivePairs.Set(float64(c.tracker.Len()))
	return errors.Join(errs...)
}

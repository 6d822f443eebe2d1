package repository

import (
	"database/sql"
	"errors"

	"arbsim/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - журнал закрытых сделок в таблице trades
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create создает запись о закрытой сделке
func (r *TradeRepository) Create(trade *models.TradeRecord) error {
	query := `
		INSERT INTO trades (venue, symbol, side, amount, price, entry_price, pnl, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return r.db.QueryRow(
		query,
		trade.Venue,
		trade.Symbol,
		trade.Side,
		trade.Amount,
		trade.Price,
		trade.EntryPrice,
		trade.Pnl,
		trade.ClosedAt,
	).Scan(&trade.ID)
}

// RecordClose сохраняет результат закрытия одной ноги.
// Реализует интерфейс журнала координатора.
func (r *TradeRepository) RecordClose(result *models.CloseResult, venue string) error {
	return r.Create(&models.TradeRecord{
		Venue:      venue,
		Symbol:     result.Symbol,
		Side:       result.Side,
		Amount:     result.Amount,
		Price:      result.Price,
		EntryPrice: result.EntryPrice,
		Pnl:        result.Pnl,
		ClosedAt:   result.ClosedAt,
	})
}

// GetByID возвращает сделку по ID
func (r *TradeRepository) GetByID(id int) (*models.TradeRecord, error) {
	query := `
		SELECT id, venue, symbol, side, amount, price, entry_price, pnl, closed_at
		FROM trades
		WHERE id = $1`

	trade := &models.TradeRecord{}
	err := r.db.QueryRow(query, id).Scan(
		&trade.ID,
		&trade.Venue,
		&trade.Symbol,
		&trade.Side,
		&trade.Amount,
		&trade.Price,
		&trade.EntryPrice,
		&trade.Pnl,
		&trade.ClosedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return trade, nil
}

// GetRecent возвращает последние N сделок
func (r *TradeRepository) GetRecent(limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, venue, symbol, side, amount, price, entry_price, pnl, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	return r.queryTrades(query, limit)
}

// GetByVenue возвращает сделки конкретной биржи
func (r *TradeRepository) GetByVenue(venue string, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, venue, symbol, side, amount, price, entry_price, pnl, closed_at
		FROM trades
		WHERE venue = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	return r.queryTrades(query, venue, limit)
}

// GetBySymbol возвращает сделки по символу
func (r *TradeRepository) GetBySymbol(symbol string, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, venue, symbol, side, amount, price, entry_price, pnl, closed_at
		FROM trades
		WHERE symbol = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	return r.queryTrades(query, symbol, limit)
}

// TotalPnl возвращает суммарный реализованный PnL
func (r *TradeRepository) TotalPnl() (float64, error) {
	query := `SELECT COALESCE(SUM(pnl), 0) FROM trades`

	var total float64
	if err := r.db.QueryRow(query).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Count возвращает общее количество сделок
func (r *TradeRepository) Count() (int, error) {
	query := `SELECT COUNT(*) FROM trades`

	var count int
	if err := r.db.QueryRow(query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// queryTrades выполняет запрос и сканирует строки журнала
func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]*models.TradeRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		trade := &models.TradeRecord{}
		err := rows.Scan(
			&trade.ID,
			&trade.Venue,
			&trade.Symbol,
			&trade.Side,
			&trade.Amount,
			&trade.Price,
			&trade.EntryPrice,
			&trade.Pnl,
			&trade.ClosedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

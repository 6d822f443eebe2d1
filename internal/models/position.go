package models

// Side constants for orders (направление ордера)
const (
	SideBuy  = "buy"  // открытие лонга
	SideSell = "sell" // открытие шорта
)

// Side constants for positions (направление позиции)
const (
	SideLong  = "long"
	SideShort = "short"
)

// Position - позиция по одному символу на одной бирже.
//
// Инварианты:
// - Long >= 0, Short >= 0
// - LongEntryPrice установлена тогда и только тогда, когда Long > 0
//   (аналогично для Short)
// - цена входа фиксируется при первом открытии стороны с нуля
type Position struct {
	Long            float64  `json:"long"`
	Short           float64  `json:"short"`
	LongEntryPrice  *float64 `json:"long_entry_price"`
	ShortEntryPrice *float64 `json:"short_entry_price"`
}

// IsFlat возвращает true если по символу нет открытых позиций
func (p *Position) IsFlat() bool {
	return p.Long == 0 && p.Short == 0
}

// Qty возвращает размер стороны позиции
func (p *Position) Qty(side string) float64 {
	if side == SideLong {
		return p.Long
	}
	return p.Short
}

// EntryPrice возвращает цену входа стороны (nil если сторона не открыта)
func (p *Position) EntryPrice(side string) *float64 {
	if side == SideLong {
		return p.LongEntryPrice
	}
	return p.ShortEntryPrice
}

// Clone возвращает независимую копию позиции
func (p *Position) Clone() *Position {
	c := &Position{Long: p.Long, Short: p.Short}
	if p.LongEntryPrice != nil {
		v := *p.LongEntryPrice
		c.LongEntryPrice = &v
	}
	if p.ShortEntryPrice != nil {
		v := *p.ShortEntryPrice
		c.ShortEntryPrice = &v
	}
	return c
}

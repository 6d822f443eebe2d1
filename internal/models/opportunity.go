package models

// OpportunityKind - вид арбитражной возможности
type OpportunityKind string

const (
	OpportunityOpen  OpportunityKind = "open"
	OpportunityClose OpportunityKind = "close"
)

// Opportunity - возможность, обнаруженная детектором на одном тике.
// Возможности транзиентны: производятся на тик, потребляются сразу,
// нигде не хранятся.
type Opportunity struct {
	Kind   OpportunityKind `json:"kind"`
	Symbol string          `json:"symbol"`

	// Нога покупки (лонг) и нога продажи (шорт)
	BuyVenue  string  `json:"buy_venue"`
	BuyPrice  float64 `json:"buy_price"`
	SellVenue string  `json:"sell_venue"`
	SellPrice float64 `json:"sell_price"`

	// Только для Open: спред в процентах от ноги покупки
	SpreadPct float64 `json:"spread_pct,omitempty"`

	// Только для Close: объём и ключ закрываемой пары
	Amount  float64 `json:"amount,omitempty"`
	PairKey string  `json:"pair_key,omitempty"`
}

// MakePairKey строит направленный ключ пары "{buy}-{sell}"
func MakePairKey(buyVenue, sellVenue string) string {
	return buyVenue + "-" + sellVenue
}

// ReversePairKey строит зеркальный ключ "{sell}-{buy}"
func ReversePairKey(buyVenue, sellVenue string) string {
	return sellVenue + "-" + buyVenue
}

package common

import (
	"github.com/shopspring/decimal"
)

// BookEntry is a single market participant's contribution to a price level.
type BookEntry struct {
	// ID is the participant (market maker) identifier.
	ID string

	Size decimal.Decimal

	// Time is the participant's quote time as received from the wire.
	Time string
}

// BookLevel is one price level on one side of an order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal

	// Count is the number of participants aggregated into the level.
	Count int

	Entries []BookEntry
}

// OrderBookSnapshot represents one full two-sided book snapshot for a symbol,
// as reassembled from decoded book records.
type OrderBookSnapshot struct {
	Symbol string

	// Time is the book timestamp in epoch milliseconds.
	Time int64

	Bids []BookLevel
	Asks []BookLevel
}

func (s *OrderBookSnapshot) Copy() OrderBookSnapshot {
	bids := make([]BookLevel, len(s.Bids))
	asks := make([]BookLevel, len(s.Asks))
	copy(bids, s.Bids)
	copy(asks, s.Asks)

	return OrderBookSnapshot{
		Symbol: s.Symbol,
		Time:   s.Time,
		Bids:   bids,
		Asks:   asks,
	}
}

func (s *OrderBookSnapshot) Empty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// IsValid reports whether the book is not crossed: the best bid must be
// strictly below the best ask.
func (s *OrderBookSnapshot) IsValid() bool {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return true
	}

	return s.Bids[0].Price.LessThan(s.Asks[0].Price)
}

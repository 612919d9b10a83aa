// Package orderbooks reassembles decoded book records into two-sided
// snapshots.
package orderbooks

import (
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/common"
)

// OrderBook represents a mutable order book, which is able to receive
// snapshots. Book feeds resend the full book on every update, so there is no
// delta application here; each batch of records replaces the snapshot.
//
// It is not thread-safe; so if you need to use it from more than one
// goroutine, apply your own synchronization.
type OrderBook struct {
	snapshot common.OrderBookSnapshot
}

func NewOrderBook(snapshot common.OrderBookSnapshot) *OrderBook {
	return &OrderBook{
		snapshot: snapshot,
	}
}

// GetSnapshot returns the snapshot of the current orderbook.
func (ob *OrderBook) GetSnapshot() common.OrderBookSnapshot {
	return ob.snapshot
}

// ApplySnapshot sets the internal orderbook to the provided snapshot.
func (ob *OrderBook) ApplySnapshot(snapshot common.OrderBookSnapshot) {
	ob.snapshot = snapshot
}

// ApplyRecords reassembles the given records into a snapshot and applies it.
func (ob *OrderBook) ApplyRecords(recs []common.Record) error {
	snapshot, err := SnapshotFromRecords(recs)
	if err != nil {
		return errors.Trace(err)
	}

	ob.snapshot = snapshot

	return nil
}

// SnapshotFromRecords reassembles one book snapshot from the records a book
// decoder produced for a single payload: a symbol marker, a bookTime field,
// and per-level rows keyed by the "{bookTime}_{levelIndex}" composite id.
func SnapshotFromRecords(recs []common.Record) (common.OrderBookSnapshot, error) {
	var snapshot common.OrderBookSnapshot

	// Levels appear in wire order, best first; the composite id tells us
	// which level a row belongs to.
	levelIdx := map[string]map[int]*common.BookLevel{
		"bid": {},
		"ask": {},
	}
	maxIdx := map[string]int{"bid": -1, "ask": -1}

	for _, rec := range recs {
		if rec.IsSymbol() {
			snapshot.Symbol = rec.Value
			continue
		}

		if !strings.HasPrefix(rec.Field, "book_") {
			if rec.Field == "bookTime" {
				t, err := rec.Int64()
				if err != nil {
					return common.OrderBookSnapshot{}, errors.Trace(err)
				}
				snapshot.Time = t
			}
			continue
		}

		// book_{side}_{attr}
		parts := strings.SplitN(rec.Field, "_", 3)
		if len(parts) != 3 {
			return common.OrderBookSnapshot{}, errors.Errorf("unexpected book field %q", rec.Field)
		}
		side, attr := parts[1], parts[2]

		byIdx, ok := levelIdx[side]
		if !ok {
			return common.OrderBookSnapshot{}, errors.Errorf("unexpected book side %q", side)
		}

		idx, err := levelIndex(rec.FieldID)
		if err != nil {
			return common.OrderBookSnapshot{}, errors.Trace(err)
		}

		level := byIdx[idx]
		if level == nil {
			level = &common.BookLevel{}
			byIdx[idx] = level
			if idx > maxIdx[side] {
				maxIdx[side] = idx
			}
		}

		switch attr {
		case "price":
			if level.Price, err = rec.Decimal(); err != nil {
				return common.OrderBookSnapshot{}, errors.Trace(err)
			}
		case "total_size":
			if level.Size, err = rec.Decimal(); err != nil {
				return common.OrderBookSnapshot{}, errors.Trace(err)
			}
		case "num_entries":
			n, err := rec.Int64()
			if err != nil {
				return common.OrderBookSnapshot{}, errors.Trace(err)
			}
			level.Count = int(n)
		case "entry_id":
			level.Entries = append(level.Entries, common.BookEntry{ID: rec.Value})
		case "entry_size":
			if len(level.Entries) == 0 {
				return common.OrderBookSnapshot{}, errors.Errorf("entry size before entry id at level %d", idx)
			}
			size, err := rec.Decimal()
			if err != nil {
				return common.OrderBookSnapshot{}, errors.Trace(err)
			}
			level.Entries[len(level.Entries)-1].Size = size
		case "entry_time":
			if len(level.Entries) == 0 {
				return common.OrderBookSnapshot{}, errors.Errorf("entry time before entry id at level %d", idx)
			}
			level.Entries[len(level.Entries)-1].Time = rec.Value
		default:
			return common.OrderBookSnapshot{}, errors.Errorf("unexpected book field %q", rec.Field)
		}
	}

	var err error
	if snapshot.Bids, err = collectLevels(levelIdx["bid"], maxIdx["bid"]); err != nil {
		return common.OrderBookSnapshot{}, errors.Trace(err)
	}
	if snapshot.Asks, err = collectLevels(levelIdx["ask"], maxIdx["ask"]); err != nil {
		return common.OrderBookSnapshot{}, errors.Trace(err)
	}

	return snapshot, nil
}

// levelIndex extracts the level index from a "{bookTime}_{levelIndex}"
// composite id.
func levelIndex(fieldID string) (int, error) {
	sep := strings.LastIndex(fieldID, "_")
	if sep < 0 {
		return 0, errors.Errorf("field id %q is not a book composite id", fieldID)
	}

	idx, err := strconv.Atoi(fieldID[sep+1:])
	if err != nil {
		return 0, errors.Annotatef(err, "field id %q", fieldID)
	}

	return idx, nil
}

func collectLevels(byIdx map[int]*common.BookLevel, max int) ([]common.BookLevel, error) {
	levels := make([]common.BookLevel, 0, len(byIdx))

	for i := 0; i <= max; i++ {
		level, ok := byIdx[i]
		if !ok {
			return nil, errors.Errorf("missing book level %d", i)
		}
		levels = append(levels, *level)
	}

	return levels, nil
}

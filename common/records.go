package common

import (
	"fmt"
	"strconv"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
)

// SymbolFieldID is the field id under which decoders emit the per-symbol key
// of a payload. It marks the start of a new symbol's record run within a
// decoded batch.
const SymbolFieldID = "key"

// Record is one decoded scalar extracted from a streamed service payload.
// Decoders normalize every wire shape (flat rows, embedded candle arrays,
// book levels, packed actives strings) into a flat sequence of these tuples,
// preserving the order in which the values appeared on the wire.
type Record struct {
	// Service is the streamer service the value came from, e.g. "QUOTE".
	Service string

	// FieldID is the positional id of the source field as it appeared on the
	// wire ("1", "2", ...). Book decoders use composite ids of the form
	// "{bookTime}_{levelIndex}" so that rows from the same snapshot can be
	// grouped; the symbol marker uses SymbolFieldID.
	FieldID string

	// Field is the human-readable field name resolved through the field
	// registry, or a synthetic name for packed encodings.
	Field string

	// Value is the scalar value, rendered as text exactly as received.
	Value string
}

func (r Record) String() string {
	return fmt.Sprintf("%s[%s] %s=%s", r.Service, r.FieldID, r.Field, r.Value)
}

// IsSymbol reports whether the record is a symbol marker, i.e. the record that
// opens a new per-symbol run within a decoded batch.
func (r Record) IsSymbol() bool {
	return r.FieldID == SymbolFieldID
}

// Decimal parses the record value as a decimal number.
func (r Record) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(r.Value)
	if err != nil {
		return decimal.Decimal{}, errors.Annotatef(err, "field %s", r.Field)
	}

	return d, nil
}

// Int64 parses the record value as a 64-bit integer.
func (r Record) Int64() (int64, error) {
	n, err := strconv.ParseInt(r.Value, 10, 64)
	if err != nil {
		return 0, errors.Annotatef(err, "field %s", r.Field)
	}

	return n, nil
}

// Package sink provides destinations for decoded record streams.
package sink

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/common"
)

var csvHeader = []string{"received_at", "service", "field_id", "field", "value"}

// CSVWriter writes records as CSV rows, one row per record, with a received
// timestamp column prepended. It is not safe for concurrent use.
type CSVWriter struct {
	w *csv.Writer

	// now is the clock used for the received_at column.
	now func() time.Time

	wroteHeader bool
}

// NewCSVWriter creates a CSVWriter writing to w. The header row is written
// lazily, before the first record.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{
		w:   csv.NewWriter(w),
		now: time.Now,
	}
}

// Write appends one record.
func (cw *CSVWriter) Write(rec common.Record) error {
	if !cw.wroteHeader {
		if err := cw.w.Write(csvHeader); err != nil {
			return errors.Trace(err)
		}
		cw.wroteHeader = true
	}

	row := []string{
		strconv.FormatInt(cw.now().UnixNano()/int64(time.Millisecond), 10),
		rec.Service,
		rec.FieldID,
		rec.Field,
		rec.Value,
	}

	if err := cw.w.Write(row); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// Flush writes any buffered rows to the underlying writer.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	return errors.Trace(cw.w.Error())
}

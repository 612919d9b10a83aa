package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/common"
	"github.com/tdstream/td-sdk-go/fields"
)

// recordDecoder converts one service result's content (an array of
// per-symbol payload objects) into flat records, preserving input order.
type recordDecoder func(service string, content json.RawMessage) ([]common.Record, error)

// recordDecoders routes a service name to the decoder variant matching its
// wire shape. Services absent from the table don't produce records (ADMIN is
// acknowledgement-only).
var recordDecoders = map[string]recordDecoder{
	"QUOTE":                    decodeFlat,
	"OPTION":                   decodeFlat,
	"LEVELONE_FUTURES":         decodeFlat,
	"LEVELONE_FUTURES_OPTIONS": decodeFlat,
	"LEVELONE_FOREX":           decodeFlat,
	"NEWS_HEADLINE":            decodeFlat,
	"TIMESALE_EQUITY":          decodeFlat,
	"TIMESALE_FUTURES":         decodeFlat,
	"TIMESALE_OPTIONS":         decodeFlat,
	"ACCT_ACTIVITY":            decodeFlat,

	"CHART_EQUITY":          decodeChart,
	"CHART_FUTURES":         decodeChart,
	"CHART_HISTORY_FUTURES": decodeChart,

	"LISTED_BOOK":  decodeBook,
	"NASDAQ_BOOK":  decodeBook,
	"OPTIONS_BOOK": decodeBook,
	"FUTURES_BOOK": decodeBook,
	"FOREX_BOOK":   decodeBook,

	"ACTIVES_NASDAQ":  decodeActives,
	"ACTIVES_NYSE":    decodeActives,
	"ACTIVES_OTCBB":   decodeActives,
	"ACTIVES_OPTIONS": decodeActives,
}

// decodeServiceResult decodes the content of one data/snapshot result.
func decodeServiceResult(sr serviceResult) ([]common.Record, error) {
	decode, ok := recordDecoders[sr.Service]
	if !ok {
		return nil, &MalformedRecordError{
			Service: sr.Service,
			Payload: sr.Content,
			Reason:  "no decoder for service",
		}
	}

	recs, err := decode(sr.Service, sr.Content)
	return recs, errors.Trace(err)
}

// jsonField is one key/value pair of a payload object, in wire order.
type jsonField struct {
	key string
	raw json.RawMessage
}

// objectFields walks a JSON object token by token, returning its fields in
// the order they appear on the wire. Plain unmarshalling into a map would
// lose that order, and decoded records must preserve it.
func objectFields(raw json.RawMessage) ([]jsonField, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.Errorf("expected object, got %v", tok)
	}

	var fs []jsonField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.Trace(err)
		}

		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.Errorf("expected object key, got %v", keyTok)
		}

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, errors.Trace(err)
		}

		fs = append(fs, jsonField{key: key, raw: val})
	}

	return fs, nil
}

// scalarString renders a JSON scalar as text exactly as received: strings
// verbatim, numbers without reformatting, booleans as true/false, null as
// the empty string.
func scalarString(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", errors.Trace(err)
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	default:
		return "", errors.Errorf("value is not a scalar")
	}
}

// contentPayloads splits a content array into its per-symbol payload objects.
func contentPayloads(service string, content json.RawMessage) ([]json.RawMessage, error) {
	var payloads []json.RawMessage
	if err := json.Unmarshal(content, &payloads); err != nil {
		return nil, &MalformedRecordError{
			Service: service,
			Payload: content,
			Reason:  "content is not an array",
		}
	}

	return payloads, nil
}

func malformed(service string, payload json.RawMessage, reason string) error {
	return &MalformedRecordError{Service: service, Payload: payload, Reason: reason}
}

// symbolName returns the label for the per-symbol key of a service; it is
// the name registered under field 0 (e.g. "symbol", "subscriptionKey").
func symbolName(service string) string {
	if name, ok := fields.FieldName(service, "0"); ok {
		return name
	}
	return common.SymbolFieldID
}

// fieldLabel labels a field id for output. Labeling is lenient: an id the
// registry doesn't know keeps the raw id as its name, so no value is ever
// dropped just because the catalog is behind the server.
func fieldLabel(service, id string) string {
	if name, ok := fields.FieldName(service, id); ok {
		return name
	}
	return id
}

// decodeFlat handles single-level feeds: every field key of the payload maps
// 1:1 to one output record.
func decodeFlat(service string, content json.RawMessage) ([]common.Record, error) {
	payloads, err := contentPayloads(service, content)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var recs []common.Record
	for _, payload := range payloads {
		fs, err := objectFields(payload)
		if err != nil {
			return nil, malformed(service, payload, "payload is not an object")
		}

		for _, f := range fs {
			val, err := scalarString(f.raw)
			if err != nil {
				return nil, malformed(service, payload, fmt.Sprintf("field %q is not a scalar", f.key))
			}

			if f.key == common.SymbolFieldID {
				recs = append(recs, common.Record{
					Service: service,
					FieldID: common.SymbolFieldID,
					Field:   symbolName(service),
					Value:   val,
				})
				continue
			}

			recs = append(recs, common.Record{
				Service: service,
				FieldID: f.key,
				Field:   fieldLabel(service, f.key),
				Value:   val,
			})
		}
	}

	return recs, nil
}

// chartCandleKey is the payload key under which chart feeds embed an array
// of OHLC candle sub-records.
const chartCandleKey = "3"

// decodeChart handles chart feeds. All keys map 1:1 like the flat decoder,
// except that an array under key "3" holds nested candle sub-records; each
// sub-record is flattened into the output in array order.
func decodeChart(service string, content json.RawMessage) ([]common.Record, error) {
	payloads, err := contentPayloads(service, content)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var recs []common.Record
	for _, payload := range payloads {
		fs, err := objectFields(payload)
		if err != nil {
			return nil, malformed(service, payload, "payload is not an object")
		}

		for _, f := range fs {
			if f.key == common.SymbolFieldID {
				val, err := scalarString(f.raw)
				if err != nil {
					return nil, malformed(service, payload, "symbol key is not a scalar")
				}
				recs = append(recs, common.Record{
					Service: service,
					FieldID: common.SymbolFieldID,
					Field:   symbolName(service),
					Value:   val,
				})
				continue
			}

			if f.key == chartCandleKey && bytes.HasPrefix(bytes.TrimSpace(f.raw), []byte("[")) {
				var candles []json.RawMessage
				if err := json.Unmarshal(f.raw, &candles); err != nil {
					return nil, malformed(service, payload, "candle array is not an array")
				}

				for _, candle := range candles {
					cfs, err := objectFields(candle)
					if err != nil {
						return nil, malformed(service, payload, "candle is not an object")
					}

					for _, cf := range cfs {
						val, err := scalarString(cf.raw)
						if err != nil {
							return nil, malformed(service, payload, fmt.Sprintf("candle field %q is not a scalar", cf.key))
						}

						recs = append(recs, common.Record{
							Service: service,
							FieldID: cf.key,
							Field:   fieldLabel(service, cf.key),
							Value:   val,
						})
					}
				}
				continue
			}

			val, err := scalarString(f.raw)
			if err != nil {
				return nil, malformed(service, payload, fmt.Sprintf("field %q is not a scalar", f.key))
			}

			recs = append(recs, common.Record{
				Service: service,
				FieldID: f.key,
				Field:   fieldLabel(service, f.key),
				Value:   val,
			})
		}
	}

	return recs, nil
}

// Wire shapes of a two-sided book payload.
type bookLevelWire struct {
	Price   json.Number     `json:"0"`
	Size    json.Number     `json:"1"`
	Count   json.Number     `json:"2"`
	Entries []bookEntryWire `json:"3"`
}

type bookEntryWire struct {
	ID   string      `json:"0"`
	Size json.Number `json:"1"`
	Time json.Number `json:"2"`
}

type bookPayloadWire struct {
	Key  string           `json:"key"`
	Time int64            `json:"1"`
	Bids *[]bookLevelWire `json:"2"`
	Asks *[]bookLevelWire `json:"3"`
}

// decodeBook handles level-two book feeds. Each payload carries a symbol,
// a book timestamp and two parallel level arrays; every level carries an
// aggregate (price, size, participant count) plus per-participant entries.
// Output records are labeled book_{side}_* and keyed by a
// "{bookTime}_{levelIndex}" composite id so consumers can group rows that
// belong to the same snapshot level.
func decodeBook(service string, content json.RawMessage) ([]common.Record, error) {
	payloads, err := contentPayloads(service, content)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var recs []common.Record
	for _, payload := range payloads {
		var book bookPayloadWire
		if err := json.Unmarshal(payload, &book); err != nil {
			return nil, malformed(service, payload, "payload does not match book shape")
		}

		if book.Bids == nil || book.Asks == nil {
			return nil, malformed(service, payload, "missing bid or ask level array")
		}

		recs = append(recs, common.Record{
			Service: service,
			FieldID: common.SymbolFieldID,
			Field:   symbolName(service),
			Value:   book.Key,
		})
		recs = append(recs, common.Record{
			Service: service,
			FieldID: "1",
			Field:   fieldLabel(service, "1"),
			Value:   strconv.FormatInt(book.Time, 10),
		})

		sides := []struct {
			name   string
			levels []bookLevelWire
		}{
			{"bid", *book.Bids},
			{"ask", *book.Asks},
		}

		for _, side := range sides {
			for i, level := range side.levels {
				composite := fmt.Sprintf("%d_%d", book.Time, i)

				recs = append(recs,
					common.Record{
						Service: service,
						FieldID: composite,
						Field:   fmt.Sprintf("book_%s_price", side.name),
						Value:   level.Price.String(),
					},
					common.Record{
						Service: service,
						FieldID: composite,
						Field:   fmt.Sprintf("book_%s_total_size", side.name),
						Value:   level.Size.String(),
					},
					common.Record{
						Service: service,
						FieldID: composite,
						Field:   fmt.Sprintf("book_%s_num_entries", side.name),
						Value:   level.Count.String(),
					},
				)

				for _, entry := range level.Entries {
					recs = append(recs,
						common.Record{
							Service: service,
							FieldID: composite,
							Field:   fmt.Sprintf("book_%s_entry_id", side.name),
							Value:   entry.ID,
						},
						common.Record{
							Service: service,
							FieldID: composite,
							Field:   fmt.Sprintf("book_%s_entry_size", side.name),
							Value:   entry.Size.String(),
						},
						common.Record{
							Service: service,
							FieldID: composite,
							Field:   fmt.Sprintf("book_%s_entry_time", side.name),
							Value:   entry.Time.String(),
						},
					)
				}
			}
		}
	}

	return recs, nil
}

// decodeActives handles the packed actives encoding: the value of field "1"
// is a single string of ;-separated top-level segments (id, duration,
// timestamp, display time, group count, then the groups), where each group
// is :-separated (group id, item count, total volume, then item triples of
// symbol:volume:percent).
//
// Group and item indices in the synthetic field names are derived purely
// from position, never from delimiter-embedded identifiers, because item
// counts vary per group.
func decodeActives(service string, content json.RawMessage) ([]common.Record, error) {
	payloads, err := contentPayloads(service, content)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var recs []common.Record
	for _, payload := range payloads {
		fs, err := objectFields(payload)
		if err != nil {
			return nil, malformed(service, payload, "payload is not an object")
		}

		for _, f := range fs {
			val, err := scalarString(f.raw)
			if err != nil {
				return nil, malformed(service, payload, fmt.Sprintf("field %q is not a scalar", f.key))
			}

			if f.key == common.SymbolFieldID {
				recs = append(recs, common.Record{
					Service: service,
					FieldID: common.SymbolFieldID,
					Field:   symbolName(service),
					Value:   val,
				})
				continue
			}

			if f.key != "1" {
				recs = append(recs, common.Record{
					Service: service,
					FieldID: f.key,
					Field:   fieldLabel(service, f.key),
					Value:   val,
				})
				continue
			}

			packed, err := decodeActivesString(service, f.key, val)
			if err != nil {
				return nil, errors.Trace(err)
			}
			recs = append(recs, packed...)
		}
	}

	return recs, nil
}

func decodeActivesString(service, fieldID, s string) ([]common.Record, error) {
	raw := json.RawMessage(s)

	segs := strings.Split(s, ";")
	if len(segs) < 5 {
		return nil, malformed(service, raw, "actives string has fewer than 5 segments")
	}

	rec := func(name, value string) common.Record {
		return common.Record{Service: service, FieldID: fieldID, Field: name, Value: value}
	}

	recs := []common.Record{
		rec("active-id", segs[0]),
		rec("active-duration", segs[1]),
		rec("active-timestamp", segs[2]),
		rec("active-display-time", segs[3]),
		rec("active-num-groups", segs[4]),
	}

	numGroups, err := strconv.Atoi(segs[4])
	if err != nil || numGroups < 0 {
		return nil, malformed(service, raw, "group count is not a number")
	}

	groups := segs[5:]
	if len(groups) != numGroups {
		return nil, malformed(service, raw,
			fmt.Sprintf("declared %d groups, found %d", numGroups, len(groups)))
	}

	for g, group := range groups {
		gIdx := g + 1 // positional, 1-based

		parts := strings.Split(group, ":")
		if len(parts) < 3 {
			return nil, malformed(service, raw, fmt.Sprintf("group %d has fewer than 3 fields", gIdx))
		}

		count, err := strconv.Atoi(parts[1])
		if err != nil || count < 0 {
			return nil, malformed(service, raw, fmt.Sprintf("group %d item count is not a number", gIdx))
		}

		// A group's declared item count must match the packed triples
		// exactly; neither truncating nor over-reading is acceptable.
		if len(parts) != 3+count*3 {
			return nil, malformed(service, raw,
				fmt.Sprintf("group %d declares %d items, found %d fields", gIdx, count, len(parts)-3))
		}

		recs = append(recs,
			rec("active-group-id", parts[0]),
			rec(fmt.Sprintf("active-group-id-%d-count", gIdx), parts[1]),
			rec(fmt.Sprintf("active-group-id-%d-total-volume", gIdx), parts[2]),
		)

		for i := 0; i < count; i++ {
			base := 3 + i*3
			iIdx := i + 1

			recs = append(recs,
				rec(fmt.Sprintf("active-group-id-%d-item-%d-symbol", gIdx, iIdx), parts[base]),
				rec(fmt.Sprintf("active-group-id-%d-item-%d-volume", gIdx, iIdx), parts[base+1]),
				rec(fmt.Sprintf("active-group-id-%d-item-%d-percent", gIdx, iIdx), parts[base+2]),
			)
		}
	}

	return recs, nil
}

package websocket

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/fields"
)

// Valid chart-history frequency and period codes.
var (
	chartFrequencies = map[string]struct{}{
		"m1": {}, "m5": {}, "m10": {}, "m30": {},
		"h1": {}, "d1": {}, "w1": {}, "n1": {},
	}
	chartPeriods = map[string]struct{}{
		"d1": {}, "d5": {}, "w4": {}, "n10": {}, "y1": {}, "y10": {},
	}
)

// Valid actives venues and durations.
var (
	activesVenues = map[string]struct{}{
		"NASDAQ": {}, "NYSE": {}, "OTCBB": {}, "OPTIONS": {},
	}
	activesDurations = map[string]struct{}{
		"ALL": {}, "60": {}, "300": {}, "600": {}, "1800": {}, "3600": {},
	}
)

// unsubIDBase puts unsubscription request ids into a range disjoint from the
// subscription sequence, so an unsubscribe issued while a subscribe send is
// mid-flight can never collide with it.
const unsubIDBase = 1 << 20

// ChartHistoryParams describes a chart-history request. Either Period or the
// explicit StartTime/EndTime range must be given, never both.
type ChartHistoryParams struct {
	Symbol string

	// Frequency is one of m1, m5, m10, m30, h1, d1, w1, n1.
	Frequency string

	// Period is one of d1, d5, w4, n10, y1, y10. Mutually exclusive with the
	// explicit range below.
	Period string

	// StartTime and EndTime are epoch milliseconds.
	StartTime int64
	EndTime   int64
}

// requestBuilder constructs outbound request frames. Requests built before
// the session becomes active accumulate in pending and are flushed right
// after login completes.
//
// The two id counters are monotonic even under concurrent subscribe calls
// issued before the session is opened.
type requestBuilder struct {
	account string
	source  string

	nextSubID   int64 // atomic; login is id 0, first subscription gets 1
	nextUnsubID int64 // atomic; separate sequence, see unsubIDBase

	mtx     sync.Mutex
	pending []streamRequest
}

func newRequestBuilder(account, source string) *requestBuilder {
	return &requestBuilder{
		account:     account,
		source:      source,
		nextUnsubID: unsubIDBase,
	}
}

func (b *requestBuilder) nextSubscribeID() int {
	return int(atomic.AddInt64(&b.nextSubID, 1))
}

func (b *requestBuilder) nextUnsubscribeID() int {
	return int(atomic.AddInt64(&b.nextUnsubID, 1))
}

func (b *requestBuilder) enqueue(req streamRequest) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.pending = append(b.pending, req)
}

// takePending returns the accumulated requests and clears the batch.
func (b *requestBuilder) takePending() []streamRequest {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	pending := b.pending
	b.pending = nil
	return pending
}

// splitKeys is the inverse of joinKeys.
func splitKeys(joined string) []string {
	return strings.Split(joined, ",")
}

// joinKeys joins feed keys with the literal comma delimiter of the wire
// format; a key containing a comma cannot be represented.
func joinKeys(keys []string) (string, error) {
	for _, k := range keys {
		if strings.Contains(k, ",") {
			return "", errors.Annotatef(ErrInvalidParameterCombination, "key %q contains a comma", k)
		}
	}

	return strings.Join(keys, ","), nil
}

// resolveFieldIDs resolves the given field references for the service. An
// empty list is the "all fields" sentinel and expands to every registered
// field of the service.
func resolveFieldIDs(service string, refs []fields.FieldRef) ([]string, error) {
	if len(refs) == 0 {
		ids, err := fields.AllIDs(service)
		return ids, errors.Trace(err)
	}

	ids, err := fields.ResolveAll(service, refs)
	return ids, errors.Trace(err)
}

// subs builds a SUBS request for the given service, keys and fields.
func (b *requestBuilder) subs(service string, keys []string, refs []fields.FieldRef) (streamRequest, error) {
	ids, err := resolveFieldIDs(service, refs)
	if err != nil {
		return streamRequest{}, errors.Trace(err)
	}

	joined, err := joinKeys(keys)
	if err != nil {
		return streamRequest{}, errors.Trace(err)
	}

	return streamRequest{
		Service:   service,
		RequestID: b.nextSubscribeID(),
		Command:   cmdSubs,
		Account:   b.account,
		Source:    b.source,
		Parameters: map[string]string{
			"keys":   joined,
			"fields": strings.Join(ids, ","),
		},
	}, nil
}

// unsubs builds an UNSUBS request for a single service. It draws from the
// unsubscribe id sequence.
func (b *requestBuilder) unsubs(service string, keys []string) (streamRequest, error) {
	joined, err := joinKeys(keys)
	if err != nil {
		return streamRequest{}, errors.Trace(err)
	}

	return streamRequest{
		Service:   service,
		RequestID: b.nextUnsubscribeID(),
		Command:   cmdUnsubs,
		Account:   b.account,
		Source:    b.source,
		Parameters: map[string]string{
			"keys": joined,
		},
	}, nil
}

// actives builds a SUBS request for an actives ranking feed; the key is the
// venue-duration pair, e.g. "NASDAQ-60".
func (b *requestBuilder) actives(venue, duration string) (streamRequest, error) {
	if _, ok := activesVenues[venue]; !ok {
		return streamRequest{}, errors.Annotatef(ErrInvalidEnumValue, "actives venue %q", venue)
	}

	if _, ok := activesDurations[duration]; !ok {
		return streamRequest{}, errors.Annotatef(ErrInvalidEnumValue, "actives duration %q", duration)
	}

	service := "ACTIVES_" + venue
	return streamRequest{
		Service:   service,
		RequestID: b.nextSubscribeID(),
		Command:   cmdSubs,
		Account:   b.account,
		Source:    b.source,
		Parameters: map[string]string{
			"keys":   venue + "-" + duration,
			"fields": "0,1",
		},
	}, nil
}

// chartHistory builds a GET request for historical futures candles. Period
// and explicit range are mutually exclusive; the frequency code is always
// required.
func (b *requestBuilder) chartHistory(p ChartHistoryParams) (streamRequest, error) {
	if _, ok := chartFrequencies[p.Frequency]; !ok {
		return streamRequest{}, errors.Annotatef(ErrInvalidEnumValue, "chart frequency %q", p.Frequency)
	}

	hasRange := p.StartTime != 0 || p.EndTime != 0

	if hasRange && (p.StartTime == 0 || p.EndTime == 0) {
		return streamRequest{}, errors.Annotatef(
			ErrInvalidParameterCombination, "explicit time range needs both start and end")
	}

	if hasRange && p.Period != "" {
		return streamRequest{}, errors.Annotatef(
			ErrInvalidParameterCombination, "both period %q and explicit time range given", p.Period)
	}

	params := map[string]string{
		"symbol":    p.Symbol,
		"frequency": p.Frequency,
	}

	if hasRange {
		params["START_TIME"] = strconv.FormatInt(p.StartTime, 10)
		params["END_TIME"] = strconv.FormatInt(p.EndTime, 10)
	} else {
		if _, ok := chartPeriods[p.Period]; !ok {
			return streamRequest{}, errors.Annotatef(ErrInvalidEnumValue, "chart period %q", p.Period)
		}
		params["period"] = p.Period
	}

	return streamRequest{
		Service:    "CHART_HISTORY_FUTURES",
		RequestID:  b.nextSubscribeID(),
		Command:    cmdGet,
		Account:    b.account,
		Source:     b.source,
		Parameters: params,
	}, nil
}

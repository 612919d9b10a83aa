// Package fields holds the static per-service field registry of the streamer
// protocol: for every subscribable service, a bidirectional mapping between
// positional numeric field ids and their human-readable names.
//
// The registry serves two sides of the protocol. The request builder resolves
// caller-supplied field lists (ids or names) to the comma-joined numeric ids a
// subscription frame carries, and the record decoders label inbound values
// with field names for output. Both directions use the same tables, so a
// round trip id -> name -> id is always the identity.
package fields

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/juju/errors"
)

var (
	// ErrUnknownService is returned when a service name is not registered.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownField is returned when a field matches neither a registered
	// id nor a registered name of the service.
	ErrUnknownField = errors.New("unknown field")
)

// ServiceDescriptor describes one registered streamer service.
type ServiceDescriptor struct {
	// Service is the wire name, e.g. "QUOTE" or "ACTIVES_NASDAQ".
	Service string

	// RequiresAccount is true for services which only deliver data for the
	// account the session logged in with.
	RequiresAccount bool

	// FieldCount is the number of registered fields.
	FieldCount int
}

// Describe returns the descriptor of the given service.
func Describe(service string) (ServiceDescriptor, bool) {
	table, ok := serviceFields[service]
	if !ok {
		return ServiceDescriptor{}, false
	}

	return ServiceDescriptor{
		Service:         service,
		RequiresAccount: service == "ACCT_ACTIVITY",
		FieldCount:      len(table),
	}, true
}

// Services returns the names of all registered services, sorted.
func Services() []string {
	names := make([]string, 0, len(serviceFields))
	for name := range serviceFields {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Resolve canonicalizes a field reference to its numeric-string id within the
// given service. It fails with ErrUnknownService if the service is not
// registered, and with ErrUnknownField if the reference matches neither a
// registered id nor a registered name.
func Resolve(service string, ref FieldRef) (string, error) {
	table, ok := serviceFields[service]
	if !ok {
		return "", errors.Annotatef(ErrUnknownService, "%q", service)
	}

	if ref.isID {
		if _, ok := table[ref.id]; !ok {
			return "", errors.Annotatef(ErrUnknownField, "service %s, id %d", service, ref.id)
		}

		return strconv.Itoa(ref.id), nil
	}

	id, ok := serviceFieldIDs[service][ref.name]
	if !ok {
		return "", errors.Annotatef(ErrUnknownField, "service %s, name %q", service, ref.name)
	}

	return strconv.Itoa(id), nil
}

// ResolveAll resolves every reference in refs; see Resolve.
func ResolveAll(service string, refs []FieldRef) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := Resolve(service, ref)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// FieldName returns the registered name for a numeric-string field id.
func FieldName(service, id string) (string, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return "", false
	}

	name, ok := serviceFields[service][n]
	return name, ok
}

// FieldID returns the numeric-string id for a registered field name.
func FieldID(service, name string) (string, bool) {
	id, ok := serviceFieldIDs[service][name]
	if !ok {
		return "", false
	}

	return strconv.Itoa(id), true
}

// AllIDs returns every registered field id of the service in ascending order.
// Subscribing with an empty field list expands to this set.
func AllIDs(service string) ([]string, error) {
	table, ok := serviceFields[service]
	if !ok {
		return nil, errors.Annotatef(ErrUnknownService, "%q", service)
	}

	nums := make([]int, 0, len(table))
	for id := range table {
		nums = append(nums, id)
	}
	sort.Ints(nums)

	ids := make([]string, 0, len(nums))
	for _, id := range nums {
		ids = append(ids, strconv.Itoa(id))
	}

	return ids, nil
}

// serviceFields maps service name -> field id -> field name. The reverse
// direction is built in init.
var serviceFields = map[string]map[int]string{
	"ADMIN": {},

	"QUOTE": {
		0: "symbol", 1: "bidPrice", 2: "askPrice", 3: "lastPrice",
		4: "bidSize", 5: "askSize", 6: "askID", 7: "bidID",
		8: "totalVolume", 9: "lastSize", 10: "tradeTime", 11: "quoteTime",
		12: "highPrice", 13: "lowPrice", 14: "bidTick", 15: "closePrice",
		16: "exchangeID", 17: "marginable", 18: "shortable", 19: "islandBid",
		20: "islandAsk", 21: "islandVolume", 22: "quoteDay", 23: "tradeDay",
		24: "volatility", 25: "description", 26: "lastID", 27: "digits",
		28: "openPrice", 29: "netChange", 30: "52WeekHigh", 31: "52WeekLow",
		32: "peRatio", 33: "dividendAmount", 34: "dividendYield",
		35: "islandBidSize", 36: "islandAskSize", 37: "nav", 38: "fundPrice",
		39: "exchangeName", 40: "dividendDate", 41: "regularMarketQuote",
		42: "regularMarketTrade", 43: "regularMarketLastPrice",
		44: "regularMarketLastSize", 45: "regularMarketTradeTime",
		46: "regularMarketTradeDay", 47: "regularMarketNetChange",
		48: "securityStatus", 49: "mark", 50: "quoteTimeInLong",
		51: "tradeTimeInLong", 52: "regularMarketTradeTimeInLong",
	},

	"OPTION": {
		0: "symbol", 1: "description", 2: "bidPrice", 3: "askPrice",
		4: "lastPrice", 5: "highPrice", 6: "lowPrice", 7: "closePrice",
		8: "totalVolume", 9: "openInterest", 10: "volatility",
		11: "quoteTime", 12: "tradeTime", 13: "moneyIntrinsicValue",
		14: "quoteDay", 15: "tradeDay", 16: "expirationYear",
		17: "multiplier", 18: "digits", 19: "openPrice", 20: "bidSize",
		21: "askSize", 22: "lastSize", 23: "netChange", 24: "strikePrice",
		25: "contractType", 26: "underlying", 27: "expirationMonth",
		28: "deliverables", 29: "timeValue", 30: "expirationDay",
		31: "daysToExpiration", 32: "delta", 33: "gamma", 34: "theta",
		35: "vega", 36: "rho", 37: "securityStatus",
		38: "theoreticalOptionValue", 39: "underlyingPrice",
		40: "uvExpirationType", 41: "mark",
	},

	"LEVELONE_FUTURES": {
		0: "symbol", 1: "bidPrice", 2: "askPrice", 3: "lastPrice",
		4: "bidSize", 5: "askSize", 6: "askID", 7: "bidID",
		8: "totalVolume", 9: "lastSize", 10: "quoteTime", 11: "tradeTime",
		12: "highPrice", 13: "lowPrice", 14: "closePrice", 15: "exchangeID",
		16: "description", 17: "lastID", 18: "openPrice", 19: "netChange",
		20: "futurePercentChange", 21: "exchangeName", 22: "securityStatus",
		23: "openInterest", 24: "mark", 25: "tick", 26: "tickAmount",
		27: "product", 28: "futurePriceFormat", 29: "futureTradingHours",
		30: "futureIsTradable", 31: "futureMultiplier", 32: "futureIsActive",
		33: "futureSettlementPrice", 34: "futureActiveSymbol",
		35: "futureExpirationDate",
	},

	"LEVELONE_FUTURES_OPTIONS": {
		0: "symbol", 1: "bidPrice", 2: "askPrice", 3: "lastPrice",
		4: "bidSize", 5: "askSize", 6: "askID", 7: "bidID",
		8: "totalVolume", 9: "lastSize", 10: "quoteTime", 11: "tradeTime",
		12: "highPrice", 13: "lowPrice", 14: "closePrice", 15: "exchangeID",
		16: "description", 17: "lastID", 18: "openPrice", 19: "netChange",
		20: "futurePercentChange", 21: "exchangeName", 22: "securityStatus",
		23: "openInterest", 24: "mark", 25: "tick", 26: "tickAmount",
		27: "product", 28: "futurePriceFormat", 29: "futureTradingHours",
		30: "futureIsTradable", 31: "futureMultiplier", 32: "futureIsActive",
		33: "futureSettlementPrice", 34: "futureActiveSymbol",
		35: "futureExpirationDate",
	},

	"LEVELONE_FOREX": {
		0: "symbol", 1: "bidPrice", 2: "askPrice", 3: "lastPrice",
		4: "bidSize", 5: "askSize", 6: "totalVolume", 7: "lastSize",
		8: "quoteTime", 9: "tradeTime", 10: "highPrice", 11: "lowPrice",
		12: "closePrice", 13: "exchangeID", 14: "description",
		15: "openPrice", 16: "netChange", 17: "percentChange",
		18: "exchangeName", 19: "digits", 20: "securityStatus", 21: "tick",
		22: "tickAmount", 23: "product", 24: "tradingHours",
		25: "isTradable", 26: "marketMaker", 27: "52WeekHigh",
		28: "52WeekLow", 29: "mark",
	},

	"NEWS_HEADLINE": {
		0: "symbol", 1: "errorCode", 2: "storyDatetime", 3: "headlineID",
		4: "status", 5: "headline", 6: "storyID", 7: "countForKeyword",
		8: "keywordArray", 9: "isHot", 10: "storySource",
	},

	"CHART_EQUITY": {
		0: "symbol", 1: "openPrice", 2: "highPrice", 3: "lowPrice",
		4: "closePrice", 5: "volume", 6: "sequence", 7: "chartTime",
		8: "chartDay",
	},

	"CHART_FUTURES": {
		0: "symbol", 1: "chartTime", 2: "openPrice", 3: "highPrice",
		4: "lowPrice", 5: "closePrice", 6: "volume",
	},

	// Chart history payloads embed an array of candle sub-records under the
	// top-level field "3"; the table below names the candle fields.
	"CHART_HISTORY_FUTURES": {
		0: "chartTime", 1: "openPrice", 2: "highPrice", 3: "lowPrice",
		4: "closePrice", 5: "volume",
	},

	"TIMESALE_EQUITY": {
		0: "symbol", 1: "tradeTime", 2: "lastPrice", 3: "lastSize",
		4: "lastSequence",
	},
	"TIMESALE_FUTURES": {
		0: "symbol", 1: "tradeTime", 2: "lastPrice", 3: "lastSize",
		4: "lastSequence",
	},
	"TIMESALE_OPTIONS": {
		0: "symbol", 1: "tradeTime", 2: "lastPrice", 3: "lastSize",
		4: "lastSequence",
	},

	"ACTIVES_NASDAQ":  {0: "symbol", 1: "actives"},
	"ACTIVES_NYSE":    {0: "symbol", 1: "actives"},
	"ACTIVES_OTCBB":   {0: "symbol", 1: "actives"},
	"ACTIVES_OPTIONS": {0: "symbol", 1: "actives"},

	"LISTED_BOOK":  {0: "symbol", 1: "bookTime", 2: "bids", 3: "asks"},
	"NASDAQ_BOOK":  {0: "symbol", 1: "bookTime", 2: "bids", 3: "asks"},
	"OPTIONS_BOOK": {0: "symbol", 1: "bookTime", 2: "bids", 3: "asks"},
	"FUTURES_BOOK": {0: "symbol", 1: "bookTime", 2: "bids", 3: "asks"},
	"FOREX_BOOK":   {0: "symbol", 1: "bookTime", 2: "bids", 3: "asks"},

	"ACCT_ACTIVITY": {
		0: "subscriptionKey", 1: "accountNumber", 2: "messageType",
		3: "messageData",
	},
}

var serviceFieldIDs = map[string]map[string]int{}

func init() {
	for service, table := range serviceFields {
		reverse := make(map[string]int, len(table))
		for id, name := range table {
			if _, dup := reverse[name]; dup {
				panic(fmt.Sprintf("fields: duplicate name %q in service %s", name, service))
			}
			reverse[name] = id
		}
		serviceFieldIDs[service] = reverse
	}
}

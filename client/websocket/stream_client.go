package websocket

import (
	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/fields"
)

// The subscribe calls below can all be made before the session is opened:
// requests issued early are queued and flushed in a single batch right after
// login succeeds. Once the session is active, each call sends immediately.
//
// For every feed taking field refs, passing none subscribes to all fields
// the service defines.

// SubscribeQuotes subscribes to level-one equity quotes for the given
// symbols.
func (c *StreamClient) SubscribeQuotes(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("QUOTE", symbols, refs))
}

// SubscribeOptions subscribes to level-one option quotes. Keys are option
// symbols in the underscored format, e.g. "SPY_121620C350".
func (c *StreamClient) SubscribeOptions(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("OPTION", symbols, refs))
}

// SubscribeFutures subscribes to level-one futures quotes, e.g. "/ES".
func (c *StreamClient) SubscribeFutures(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("LEVELONE_FUTURES", symbols, refs))
}

// SubscribeFuturesOptions subscribes to level-one futures-option quotes.
func (c *StreamClient) SubscribeFuturesOptions(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("LEVELONE_FUTURES_OPTIONS", symbols, refs))
}

// SubscribeForex subscribes to level-one forex quotes, e.g. "EUR/USD".
func (c *StreamClient) SubscribeForex(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("LEVELONE_FOREX", symbols, refs))
}

// SubscribeNews subscribes to news headlines for the given symbols.
func (c *StreamClient) SubscribeNews(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("NEWS_HEADLINE", symbols, refs))
}

// SubscribeChartEquity subscribes to minute candles for equities.
func (c *StreamClient) SubscribeChartEquity(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("CHART_EQUITY", symbols, refs))
}

// SubscribeChartFutures subscribes to minute candles for futures.
func (c *StreamClient) SubscribeChartFutures(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("CHART_FUTURES", symbols, refs))
}

// SubscribeTimesaleEquity subscribes to time & sales prints for equities.
func (c *StreamClient) SubscribeTimesaleEquity(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("TIMESALE_EQUITY", symbols, refs))
}

// SubscribeTimesaleFutures subscribes to time & sales prints for futures.
func (c *StreamClient) SubscribeTimesaleFutures(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("TIMESALE_FUTURES", symbols, refs))
}

// SubscribeTimesaleOptions subscribes to time & sales prints for options.
func (c *StreamClient) SubscribeTimesaleOptions(symbols []string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("TIMESALE_OPTIONS", symbols, refs))
}

// SubscribeListedBook subscribes to the level-two book for NYSE-listed
// symbols.
func (c *StreamClient) SubscribeListedBook(symbols []string) error {
	return errors.Trace(c.subscribeService("LISTED_BOOK", symbols, nil))
}

// SubscribeNasdaqBook subscribes to the level-two book for NASDAQ symbols.
func (c *StreamClient) SubscribeNasdaqBook(symbols []string) error {
	return errors.Trace(c.subscribeService("NASDAQ_BOOK", symbols, nil))
}

// SubscribeOptionsBook subscribes to the level-two book for option symbols.
func (c *StreamClient) SubscribeOptionsBook(symbols []string) error {
	return errors.Trace(c.subscribeService("OPTIONS_BOOK", symbols, nil))
}

// SubscribeFuturesBook subscribes to the level-two book for futures symbols.
func (c *StreamClient) SubscribeFuturesBook(symbols []string) error {
	return errors.Trace(c.subscribeService("FUTURES_BOOK", symbols, nil))
}

// SubscribeForexBook subscribes to the level-two book for forex pairs.
func (c *StreamClient) SubscribeForexBook(symbols []string) error {
	return errors.Trace(c.subscribeService("FOREX_BOOK", symbols, nil))
}

// SubscribeActives subscribes to a most-actives ranking feed. Venue is one
// of NASDAQ, NYSE, OTCBB, OPTIONS; duration is ALL or a lookback window in
// seconds (60, 300, 600, 1800, 3600).
func (c *StreamClient) SubscribeActives(venue, duration string) error {
	req, err := c.builder.actives(venue, duration)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.subscribe(req))
}

// SubscribeAccountActivity subscribes to order and balance activity on the
// account. The key is the streamer subscription key from the user-principals
// response, not an account id.
func (c *StreamClient) SubscribeAccountActivity(subscriptionKey string, refs ...fields.FieldRef) error {
	return errors.Trace(c.subscribeService("ACCT_ACTIVITY", []string{subscriptionKey}, refs))
}

// RequestChartHistoryFutures requests historical futures candles; the
// response arrives on the stream as a snapshot, decoded into the same
// records a live chart feed produces.
func (c *StreamClient) RequestChartHistoryFutures(p ChartHistoryParams) error {
	req, err := c.builder.chartHistory(p)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.subscribe(req))
}

func (c *StreamClient) subscribeService(service string, keys []string, refs []fields.FieldRef) error {
	req, err := c.builder.subs(service, keys, refs)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.subscribe(req))
}

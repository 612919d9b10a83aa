/*
stream-dump subscribes to a set of streamer feeds and dumps every decoded
record to stdout, and optionally to a CSV file.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/tdstream/td-sdk-go/client/websocket"
	"github.com/tdstream/td-sdk-go/config"
	"github.com/tdstream/td-sdk-go/sink"
)

var (
	symbolColor = color.New(color.FgYellow, color.Bold)
	fieldColor  = color.New(color.FgCyan)
)

func main() {
	log := logrus.New()

	// We need this since getting user's home dir can fail.
	defaultConfig, err := config.DefaultFilepath()
	if err != nil {
		log.Fatal(err)
	}

	var (
		configFile string
		verbose    bool
		csvFile    string

		quotes          []string
		options         []string
		futures         []string
		forex           []string
		news            []string
		chartEquity     []string
		chartFutures    []string
		timesaleEquity  []string
		timesaleFutures []string
		listedBook      []string
		nasdaqBook      []string
		actives         []string
	)

	flag.StringVarP(&configFile, "config", "c", defaultConfig, "Configuration file")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Prints all debug messages to stdout")
	flag.StringVar(&csvFile, "csv", "", "Also write records to the given CSV file")

	flag.StringSliceVarP(&quotes, "quote", "q", nil, "Equity symbol to stream quotes for. Can be given multiple times")
	flag.StringSliceVar(&options, "option", nil, "Option symbol to stream quotes for")
	flag.StringSliceVar(&futures, "futures", nil, "Futures symbol to stream quotes for")
	flag.StringSliceVar(&forex, "forex", nil, "Forex pair to stream quotes for")
	flag.StringSliceVar(&news, "news", nil, "Symbol to stream news headlines for")
	flag.StringSliceVar(&chartEquity, "chart-equity", nil, "Equity symbol to stream minute candles for")
	flag.StringSliceVar(&chartFutures, "chart-futures", nil, "Futures symbol to stream minute candles for")
	flag.StringSliceVar(&timesaleEquity, "timesale-equity", nil, "Equity symbol to stream time & sales for")
	flag.StringSliceVar(&timesaleFutures, "timesale-futures", nil, "Futures symbol to stream time & sales for")
	flag.StringSliceVar(&listedBook, "listed-book", nil, "Listed symbol to stream the level-two book for")
	flag.StringSliceVar(&nasdaqBook, "nasdaq-book", nil, "NASDAQ symbol to stream the level-two book for")
	flag.StringSliceVar(&actives, "actives", nil, "Actives feed as VENUE-DURATION, e.g. NASDAQ-60")

	flag.Parse()

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.New(configFile)
	if err != nil {
		log.Fatal(err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	// Setup the stream connection (but don't connect just yet).
	c, err := websocket.NewStreamClient(&websocket.WSParams{
		URL:         cfg.StreamURL,
		Credentials: cfg.Credentials(),
	})
	if err != nil {
		log.Fatal(err)
	}

	c.OnError(func(err error, disconnecting bool) {
		if disconnecting {
			// The session-ending error surfaces again as the Closed state
			// cause; no need to print it twice.
			return
		}
		log.Warnf("stream error: %s", err)
	})

	c.AddStateListener(websocket.ConnStateAny, func(oldState, state websocket.ConnState, cause error) {
		if cause != nil {
			log.Infof("state updated: %s -> %s: %s",
				websocket.ConnStateNames[oldState], websocket.ConnStateNames[state], cause)
		} else {
			log.Debugf("state updated: %s -> %s",
				websocket.ConnStateNames[oldState], websocket.ConnStateNames[state])
		}
	})

	c.OnHeartbeat(func(ts int64) {
		log.Debugf("server heartbeat: %d", ts)
	})

	subscribed := false
	subscribe := func(what string, keys []string, sub func([]string) error) {
		if len(keys) == 0 {
			return
		}
		if err := sub(keys); err != nil {
			log.Fatalf("subscribing to %s: %s", what, err)
		}
		subscribed = true
	}

	subscribe("quotes", quotes, func(keys []string) error { return c.SubscribeQuotes(keys) })
	subscribe("options", options, func(keys []string) error { return c.SubscribeOptions(keys) })
	subscribe("futures", futures, func(keys []string) error { return c.SubscribeFutures(keys) })
	subscribe("forex", forex, func(keys []string) error { return c.SubscribeForex(keys) })
	subscribe("news", news, func(keys []string) error { return c.SubscribeNews(keys) })
	subscribe("equity charts", chartEquity, func(keys []string) error { return c.SubscribeChartEquity(keys) })
	subscribe("futures charts", chartFutures, func(keys []string) error { return c.SubscribeChartFutures(keys) })
	subscribe("equity timesales", timesaleEquity, func(keys []string) error { return c.SubscribeTimesaleEquity(keys) })
	subscribe("futures timesales", timesaleFutures, func(keys []string) error { return c.SubscribeTimesaleFutures(keys) })
	subscribe("listed book", listedBook, func(keys []string) error { return c.SubscribeListedBook(keys) })
	subscribe("nasdaq book", nasdaqBook, func(keys []string) error { return c.SubscribeNasdaqBook(keys) })

	for _, a := range actives {
		parts := strings.SplitN(a, "-", 2)
		if len(parts) != 2 {
			log.Fatalf("invalid actives feed %q, expected VENUE-DURATION", a)
		}
		if err := c.SubscribeActives(parts[0], parts[1]); err != nil {
			log.Fatalf("subscribing to actives: %s", err)
		}
		subscribed = true
	}

	if !subscribed {
		log.Fatal("at least one subscription must be specified")
	}

	var csvWriter *sink.CSVWriter
	if csvFile != "" {
		f, err := os.Create(csvFile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()

		csvWriter = sink.NewCSVWriter(f)
		defer csvWriter.Flush()
	}

	// Close the session on ctrl-C; the closure settles the stream, which in
	// turn ends the record loop below.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info("closing...")
		if err := c.Close(); err != nil {
			log.Fatal(err)
		}
	}()

	if err := c.Open(context.Background()); err != nil {
		log.Fatalf("opening stream: %s", err)
	}
	log.Infof("logged in to %s", c.URL())

	for {
		rec, err := c.Next(context.Background())
		if err != nil {
			// ErrStreamClosed is the normal way out.
			log.Debugf("stream finished: %s", err)
			return
		}

		if rec.IsSymbol() {
			symbolColor.Printf("%s %s\n", rec.Service, rec.Value)
		} else {
			fmt.Printf("  %s = %s\n", fieldColor.Sprint(rec.Field), rec.Value)
		}

		if csvWriter != nil {
			if err := csvWriter.Write(rec); err != nil {
				log.Fatalf("writing CSV: %s", err)
			}
		}
	}
}

// Package websocket implements a client for the brokerage's streaming
// market-data API.
//
// A StreamClient owns one streamer session: it dials the websocket, performs
// the ADMIN LOGIN handshake, and then decodes every data and snapshot frame
// into flat (service, field id, field name, value) records. Subscriptions
// can be issued before or after the session opens; early ones are queued and
// flushed right after login.
//
// Records are consumed either by pulling with Next, or by registering an
// OnRecord listener. The session never reconnects by itself: when the
// transport dies or the server denies the login, it settles in
// ConnStateClosed and stays there.
//
// Example:
//
//	client, err := websocket.NewStreamClient(&websocket.WSParams{
//	        URL:         "wss://streamer-ws.example.com/ws",
//	        Credentials: creds,
//	})
//	if err != nil {
//	        log.Fatal(err)
//	}
//
//	client.SubscribeQuotes([]string{"AAPL", "MSFT"})
//
//	if err := client.Open(context.Background()); err != nil {
//	        log.Fatal(err)
//	}
//
//	for {
//	        rec, err := client.Next(context.Background())
//	        if err != nil {
//	                break
//	        }
//	        fmt.Println(rec)
//	}
package websocket

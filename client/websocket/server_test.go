package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/fields"
	"github.com/tdstream/td-sdk-go/internal"
)

func testQuoteFields() []fields.FieldRef {
	return []fields.FieldRef{fields.ID(0), fields.ID(1), fields.ID(2)}
}

type eventType int

const (
	eventTypeConnOpened eventType = iota
	eventTypeMsg
)

// websocketEvent represents an event like new opened connection or new
// received websocket message
type websocketEvent struct {
	eventType eventType

	// The fields below are only relevant if eventType is eventTypeMsg
	messageType int
	data        []byte
	err         error
}

type testServerParams struct {
	rx  <-chan websocketEvent
	tx  chan<- internal.WebsocketTx
	url string
}

func withTestServer(
	t *testing.T,
	cb func(tp *testServerParams) error,
) error {
	// tx and rx are channels to communicate raw websocket messages with the
	// test server: everything received by the server will be delivered to rx,
	// and everything sent to tx will be sent by the server to the client.
	rx := make(chan websocketEvent, 128)
	tx := make(chan internal.WebsocketTx, 128)

	// Create test server with a single root endpoint which upgrades connection
	// to websocket
	ts := httptest.NewServer(http.HandlerFunc(getStreamHandler(t, rx, tx)))
	defer ts.Close()

	// Replace the scheme in url to "ws"
	u, err := url.Parse(ts.URL)
	if err != nil {
		return errors.Trace(err)
	}
	u.Scheme = "ws"

	if err := cb(&testServerParams{
		rx:  rx,
		tx:  tx,
		url: u.String(),
	}); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// getStreamHandler returns an http handler which upgrades the connection to
// websocket, forwards events (opened connections and received messages) to
// the rx channel, and forwards messages from tx channel to websocket.
//
// NOTE that only one connection should be opened at a time, since currently
// there's no way to receive/send stuff from/to a particular connection in
// case there are many.
func getStreamHandler(
	t *testing.T,
	rx chan<- websocketEvent,
	tx <-chan internal.WebsocketTx,
) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer ws.Close()

		t.Logf("new stream websocket conn is opened")

		rx <- websocketEvent{
			eventType: eventTypeConnOpened,
		}

		go func() {
			for {
				mt, message, err := ws.ReadMessage()
				t.Logf("websocket rx: type=%d, data=%s, err=%v", mt, message, err)

				rx <- websocketEvent{
					eventType: eventTypeMsg,

					messageType: mt,
					data:        message,
					err:         err,
				}

				if err != nil {
					t.Logf("breaking out of Rx loop")
					// Signal tx loop to exit as well
					cancel()
					break
				}
			}
		}()

	txLoop:
		for {
			select {
			case msg := <-tx:
				t.Logf("websocket tx: type=%d, data=%s", msg.MessageType, msg.Data)

				if err := ws.WriteMessage(msg.MessageType, msg.Data); err != nil {
					t.Logf("error writing to websocket: %s", err)
					break
				}
			case <-ctx.Done():
				t.Logf("breaking out of Tx loop")
				break txLoop
			}
		}
	}
}

// stateTracker {{{

type stateChange struct {
	oldState, state ConnState
	cause           error
}

type stateTracker struct {
	states  []string
	mtx     sync.Mutex
	changes chan stateChange
}

func NewStateTracker() *stateTracker {
	return &stateTracker{
		changes: make(chan stateChange, 1024),
	}
}

func (st *stateTracker) addStateListener(c *StreamClient, state ConnState, opt StateListenerOpt) {
	c.AddStateListenerOpt(
		state,
		func(oldState, state ConnState, cause error) {
			st.mtx.Lock()
			defer st.mtx.Unlock()

			errStr := ""
			if cause != nil {
				errStr = fmt.Sprintf("(%s)", errors.Cause(cause))
			}

			st.states = append(st.states, fmt.Sprintf("%s->%s%s", ConnStateNames[oldState], ConnStateNames[state], errStr))

			st.changes <- stateChange{
				oldState: oldState,
				state:    state,
				cause:    cause,
			}
		},
		opt,
	)
}

func (st *stateTracker) checkStates(want []string) error {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	wantStr := strings.Join(want, ", ")
	gotStr := strings.Join(st.states, ", ")

	if gotStr != wantStr {
		return errors.Errorf("states error: want: %q, got: %q", wantStr, gotStr)
	}

	return nil
}

var dontCheckErr = errors.Errorf("_do_not_check_error_")

func (st *stateTracker) expectState(state ConnState) error {
	return st.expectStateWCause(state, dontCheckErr)
}

func (st *stateTracker) expectStateWCause(state ConnState, cause error) error {
	select {
	case change := <-st.changes:
		if change.state != state {
			return errors.Errorf("expect state change: want: %s, got: %s (%v)", ConnStateNames[state], ConnStateNames[change.state], change)
		}

		if cause != dontCheckErr && errors.Cause(change.cause) != cause {
			return errors.Errorf("expect state cause: want: %s, got: %s (%v)", cause, change.cause, change)
		}

	case <-time.After(2 * time.Second):
		return errors.Errorf("expect state change: want: %s, but nothing happened", ConnStateNames[state])
	}

	return nil
}

// stateTracker }}}

var testCreds = SessionCredentials{
	UserID:         "testuser",
	AccountID:      "123456789",
	AppID:          "TESTAPP",
	Token:          "test-session-token",
	TokenTimestamp: 1588216721929,
	Company:        "AMER",
	Segment:        "AMER",
	CDDomain:       "A000000012345678",
	UserGroup:      "ACCT",
	AccessLevel:    "ACCT",
	ACL:            "test-acl",
}

func waitConnOpen(t *testing.T, tp *testServerParams) error {
	select {
	case event := <-tp.rx:
		if want, got := eventTypeConnOpened, event.eventType; want != got {
			return errors.Errorf("event type: want: %v, got: %v (%+v)", want, got, event)
		}

	case <-time.After(1 * time.Second):
		return errors.Errorf("didn't receive anything")
	}

	return nil
}

func waitConnClose(t *testing.T, tp *testServerParams) error {
	select {
	case event := <-tp.rx:
		if want, got := eventTypeMsg, event.eventType; want != got {
			return errors.Errorf("event type: want: %v, got: %v (%+v)", want, got, event)
		}

		if event.err == nil {
			return errors.Errorf("event.err should not be nil")
		}

	case <-time.After(1 * time.Second):
		return errors.Errorf("didn't receive anything")
	}

	return nil
}

// waitLoginReq waits for the ADMIN LOGIN frame and checks the credential.
func waitLoginReq(t *testing.T, tp *testServerParams, creds SessionCredentials) error {
	select {
	case event := <-tp.rx:
		if want, got := eventTypeMsg, event.eventType; want != got {
			return errors.Errorf("event type: want: %v, got: %v", want, got)
		}

		var env loginEnvelope
		if err := json.Unmarshal(event.data, &env); err != nil {
			return errors.Trace(err)
		}

		if len(env.Requests) != 1 {
			return errors.Errorf("login envelope should have 1 request, got %d", len(env.Requests))
		}

		req := env.Requests[0]

		if want, got := adminService, req.Service; want != got {
			return errors.Errorf("service: want: %v, got: %v", want, got)
		}

		if want, got := cmdLogin, req.Command; want != got {
			return errors.Errorf("command: want: %v, got: %v", want, got)
		}

		if want, got := "0", req.RequestID; want != got {
			return errors.Errorf("requestid: want: %v, got: %v", want, got)
		}

		if want, got := creds.Token, req.Parameters["token"]; want != got {
			return errors.Errorf("token: want: %v, got: %v", want, got)
		}

		credential, err := url.ParseQuery(req.Parameters["credential"])
		if err != nil {
			return errors.Trace(err)
		}

		for key, want := range map[string]string{
			"userid":      creds.UserID,
			"token":       creds.Token,
			"company":     creds.Company,
			"segment":     creds.Segment,
			"cddomain":    creds.CDDomain,
			"usergroup":   creds.UserGroup,
			"accesslevel": creds.AccessLevel,
			"authorized":  "Y",
			"timestamp":   "1588216721929",
			"appid":       creds.AppID,
			"acl":         creds.ACL,
		} {
			if got := credential.Get(key); want != got {
				return errors.Errorf("credential %s: want: %v, got: %v", key, want, got)
			}
		}

	case <-time.After(1 * time.Second):
		return errors.Errorf("didn't receive anything")
	}

	return nil
}

// waitRequests waits for one request envelope and returns its requests.
func waitRequests(t *testing.T, tp *testServerParams) ([]streamRequest, error) {
	select {
	case event := <-tp.rx:
		if want, got := eventTypeMsg, event.eventType; want != got {
			return nil, errors.Errorf("event type: want: %v, got: %v", want, got)
		}

		var env requestEnvelope
		if err := json.Unmarshal(event.data, &env); err != nil {
			return nil, errors.Trace(err)
		}

		return env.Requests, nil

	case <-time.After(1 * time.Second):
		return nil, errors.Errorf("didn't receive anything")
	}
}

// sendLoginResp sends the ADMIN LOGIN response with the given code.
func sendLoginResp(t *testing.T, tp *testServerParams, code int, msg string) {
	tp.tx <- internal.WebsocketTx{
		MessageType: websocket.TextMessage,
		Data: []byte(fmt.Sprintf(
			`{"response":[{"service":"ADMIN","requestid":"0","command":"LOGIN","timestamp":1588216721000,"content":{"code":%d,"msg":"%s"}}]}`,
			code, msg,
		)),
	}
}

func sendText(tp *testServerParams, frame string) {
	tp.tx <- internal.WebsocketTx{
		MessageType: websocket.TextMessage,
		Data:        []byte(frame),
	}
}

func TestStreamClient(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,
		})
		if err != nil {
			return errors.Trace(err)
		}

		// Add state tracker to the connection, so we'll see all state
		// transitions
		st := NewStateTracker()
		st.addStateListener(client, ConnStateAny, StateListenerOpt{})

		// Subscribe before connecting: the request must be queued and sent
		// right after login.
		if err := client.SubscribeQuotes([]string{"AAPL", "MSFT"}, testQuoteFields()...); err != nil {
			return errors.Trace(err)
		}

		if err := client.Connect(); err != nil {
			return errors.Trace(err)
		}

		if err := st.expectState(ConnStateConnecting); err != nil {
			return errors.Trace(err)
		}

		// Wait for the new conn to be opened
		if err := waitConnOpen(t, tp); err != nil {
			return errors.Errorf("waiting for new conn to be opened: %s", err)
		}

		if err := st.expectState(ConnStateLoggingIn); err != nil {
			return errors.Trace(err)
		}

		// Wait for the login request
		if err := waitLoginReq(t, tp, testCreds); err != nil {
			return errors.Errorf("waiting for login request: %s", err)
		}

		// Grant the login
		sendLoginResp(t, tp, 0, "02-2020")

		if err := st.expectState(ConnStateActive); err != nil {
			return errors.Trace(err)
		}

		// The queued subscription must be flushed now
		reqs, err := waitRequests(t, tp)
		if err != nil {
			return errors.Errorf("waiting for flushed subscription: %s", err)
		}

		if len(reqs) != 1 {
			return errors.Errorf("want 1 flushed request, got %d", len(reqs))
		}

		if want, got := "QUOTE", reqs[0].Service; want != got {
			return errors.Errorf("service: want: %v, got: %v", want, got)
		}

		if want, got := cmdSubs, reqs[0].Command; want != got {
			return errors.Errorf("command: want: %v, got: %v", want, got)
		}

		if want, got := 1, reqs[0].RequestID; want != got {
			return errors.Errorf("requestid: want: %v, got: %v", want, got)
		}

		if want, got := "AAPL,MSFT", reqs[0].Parameters["keys"]; want != got {
			return errors.Errorf("keys: want: %v, got: %v", want, got)
		}

		if want, got := "0,1,2", reqs[0].Parameters["fields"]; want != got {
			return errors.Errorf("fields: want: %v, got: %v", want, got)
		}

		// Send a quote update and read it back as records
		sendText(tp, `{"data":[{"service":"QUOTE","timestamp":1588216721000,"command":"SUBS","content":[{"key":"AAPL","1":293.13,"2":293.67}]}]}`)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		wantRecords := []struct {
			fieldID, field, value string
		}{
			{"key", "symbol", "AAPL"},
			{"1", "bidPrice", "293.13"},
			{"2", "askPrice", "293.67"},
		}

		for _, want := range wantRecords {
			rec, err := client.Next(ctx)
			if err != nil {
				return errors.Trace(err)
			}

			if rec.Service != "QUOTE" || rec.FieldID != want.fieldID || rec.Field != want.field || rec.Value != want.value {
				return errors.Errorf("record: want: QUOTE[%s] %s=%s, got: %s", want.fieldID, want.field, want.value, rec)
			}
		}

		// A subscription issued while active must be sent right away
		if err := client.SubscribeChartFutures([]string{"/ES"}); err != nil {
			return errors.Trace(err)
		}

		reqs, err = waitRequests(t, tp)
		if err != nil {
			return errors.Errorf("waiting for chart subscription: %s", err)
		}

		if want, got := "CHART_FUTURES", reqs[0].Service; want != got {
			return errors.Errorf("service: want: %v, got: %v", want, got)
		}

		if want, got := 2, reqs[0].RequestID; want != got {
			return errors.Errorf("requestid: want: %v, got: %v", want, got)
		}

		// Unsubscribe from quotes and wait for the server ack roundtrip
		ackErr := make(chan error, 1)
		go func() {
			ack, err := client.Unsubscribe(context.Background(), "QUOTE")
			if err != nil {
				ackErr <- err
				return
			}
			if ack.Code != 0 || ack.Service != "QUOTE" {
				ackErr <- errors.Errorf("unexpected ack: %+v", ack)
				return
			}
			ackErr <- nil
		}()

		reqs, err = waitRequests(t, tp)
		if err != nil {
			return errors.Errorf("waiting for unsubscription: %s", err)
		}

		if want, got := cmdUnsubs, reqs[0].Command; want != got {
			return errors.Errorf("command: want: %v, got: %v", want, got)
		}

		if want, got := unsubIDBase+1, reqs[0].RequestID; want != got {
			return errors.Errorf("requestid: want: %v, got: %v", want, got)
		}

		if want, got := "AAPL,MSFT", reqs[0].Parameters["keys"]; want != got {
			return errors.Errorf("keys: want: %v, got: %v", want, got)
		}

		sendText(tp, fmt.Sprintf(
			`{"response":[{"service":"QUOTE","requestid":"%d","command":"UNSUBS","timestamp":1588216722000,"content":{"code":0,"msg":"UNSUBS command succeeded"}}]}`,
			unsubIDBase+1,
		))

		if err := <-ackErr; err != nil {
			return errors.Trace(err)
		}

		// Close the session; it must settle in closed and Next must report
		// the end of the stream.
		if err := client.Close(); err != nil {
			return errors.Trace(err)
		}

		if err := st.expectState(ConnStateClosing); err != nil {
			return errors.Trace(err)
		}

		if err := st.expectState(ConnStateClosed); err != nil {
			return errors.Trace(err)
		}

		if _, err := client.Next(context.Background()); errors.Cause(err) != ErrStreamClosed {
			return errors.Errorf("want ErrStreamClosed, got %v", err)
		}

		// Closing again is a no-op
		if err := client.Close(); err != nil {
			return errors.Trace(err)
		}

		return st.checkStates([]string{
			"disconnected->connecting",
			"connecting->logging-in",
			"logging-in->active",
			"active->closing",
			"closing->closed",
		})
	})
	if err != nil {
		t.Log(errors.ErrorStack(err))
		t.Error(err)
	}
}

func TestLoginRejected(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,
		})
		if err != nil {
			return errors.Trace(err)
		}

		st := NewStateTracker()
		st.addStateListener(client, ConnStateAny, StateListenerOpt{})

		openRes := make(chan error, 1)
		go func() {
			openRes <- client.Open(context.Background())
		}()

		if err := waitConnOpen(t, tp); err != nil {
			return errors.Errorf("waiting for new conn to be opened: %s", err)
		}

		if err := waitLoginReq(t, tp, testCreds); err != nil {
			return errors.Errorf("waiting for login request: %s", err)
		}

		sendLoginResp(t, tp, loginDeniedCode, "Login denied")

		select {
		case err := <-openRes:
			if want, got := ErrLoginRejected, errors.Cause(err); want != got {
				return errors.Errorf("Open: want: %v, got: %v", want, got)
			}
		case <-time.After(2 * time.Second):
			return errors.Errorf("Open didn't return")
		}

		if err := st.expectState(ConnStateConnecting); err != nil {
			return errors.Trace(err)
		}
		if err := st.expectState(ConnStateLoggingIn); err != nil {
			return errors.Trace(err)
		}
		if err := st.expectStateWCause(ConnStateClosed, ErrLoginRejected); err != nil {
			return errors.Trace(err)
		}

		return nil
	})
	if err != nil {
		t.Log(errors.ErrorStack(err))
		t.Error(err)
	}
}

// TestUnsubscribeNotActive ensures that unsubscribing before the session is
// active results in ErrNotActive.
func TestUnsubscribeNotActive(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,
		})
		if err != nil {
			return errors.Trace(err)
		}

		_, unsubErr := client.Unsubscribe(context.Background(), "QUOTE")
		if want, got := ErrNotActive, errors.Cause(unsubErr); want != got {
			return errors.Errorf("want: %v, got: %v", want, got)
		}

		return nil
	})
	if err != nil {
		t.Error(err)
	}
}

// TestConnectConnected ensures that calling Connect on a client with an
// active connection loop results in an error.
func TestConnectConnected(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,
		})
		if err != nil {
			return errors.Trace(err)
		}

		if err := client.Connect(); err != nil {
			return errors.Trace(err)
		}

		if err := waitConnOpen(t, tp); err != nil {
			return errors.Errorf("waiting for new conn to be opened: %s", err)
		}

		connectErr := client.Connect()
		if want, got := ErrConnLoopActive, errors.Cause(connectErr); want != got {
			return errors.Errorf("want: %v, got: %v", want, got)
		}

		return nil
	})
	if err != nil {
		t.Error(err)
	}
}

// TestScrubbedFrame ensures that the invalid-UTF8 marker bytes the server
// sometimes emits are replaced before decoding.
func TestScrubbedFrame(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,
		})
		if err != nil {
			return errors.Trace(err)
		}

		if err := client.Connect(); err != nil {
			return errors.Trace(err)
		}

		if err := waitConnOpen(t, tp); err != nil {
			return errors.Trace(err)
		}
		if err := waitLoginReq(t, tp, testCreds); err != nil {
			return errors.Trace(err)
		}
		sendLoginResp(t, tp, 0, "ok")

		frame := `{"data":[{"service":"QUOTE","timestamp":1588216721000,"command":"SUBS","content":[{"key":"AAPL","25":"` +
			string([]byte{0xEF, 0xBF, 0xBD}) + `"}]}]}`
		sendText(tp, frame)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		// Symbol marker first
		rec, err := client.Next(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if rec.Value != "AAPL" {
			return errors.Errorf("want symbol AAPL, got %s", rec)
		}

		rec, err = client.Next(ctx)
		if err != nil {
			return errors.Trace(err)
		}

		if rec.Field != "description" || rec.Value != "None" {
			return errors.Errorf("want description=None, got %s", rec)
		}

		return nil
	})
	if err != nil {
		t.Log(errors.ErrorStack(err))
		t.Error(err)
	}
}

// TestFatalResponseWithQueuedFrames ensures that a fatal response followed
// by more data and an immediate remote closure settles the session cleanly:
// frames queued behind the closure are dropped, not delivered.
func TestFatalResponseWithQueuedFrames(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,

			// A tiny buffer so that inbound frames pile up behind a slow
			// consumer.
			RecordBufferSize: 1,
		})
		if err != nil {
			return errors.Trace(err)
		}

		if err := client.Connect(); err != nil {
			return errors.Trace(err)
		}

		if err := waitConnOpen(t, tp); err != nil {
			return errors.Trace(err)
		}
		if err := waitLoginReq(t, tp, testCreds); err != nil {
			return errors.Trace(err)
		}
		sendLoginResp(t, tp, 0, "ok")

		// A data frame, then the fatal code, then more data, then the server
		// hangs up. Everything lands in the client's queue before we start
		// consuming.
		sendText(tp, `{"data":[{"service":"QUOTE","timestamp":1588216721000,"command":"SUBS","content":[{"key":"AAPL","1":293.13,"2":293.67}]}]}`)
		sendText(tp, `{"response":[{"service":"QUOTE","requestid":"1","command":"SUBS","timestamp":1588216721000,"content":{"code":3,"msg":"Stopped"}}]}`)
		sendText(tp, `{"data":[{"service":"QUOTE","timestamp":1588216722000,"command":"SUBS","content":[{"key":"MSFT","1":182.10}]}]}`)
		tp.tx <- internal.WebsocketTx{
			MessageType: websocket.CloseMessage,
			Data:        websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		}

		// Give all of it time to queue up while nothing reads records.
		time.Sleep(100 * time.Millisecond)

		// The records sent before the fatal code must come through; the ones
		// after it must not.
		got := 0
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			rec, err := client.Next(ctx)
			cancel()

			if err != nil {
				if want := ErrStreamClosed; errors.Cause(err) != want {
					return errors.Errorf("Next: want: %v, got: %v", want, err)
				}
				break
			}

			if rec.Value == "MSFT" || rec.Value == "182.10" {
				return errors.Errorf("got record from after the fatal response: %s", rec)
			}
			got++
		}

		if want := 3; got != want {
			return errors.Errorf("records before closure: want: %v, got: %v", want, got)
		}

		if state := client.ConnState(); state != ConnStateClosed {
			return errors.Errorf("state: want: %s, got: %s", ConnStateNames[ConnStateClosed], ConnStateNames[state])
		}

		return nil
	})
	if err != nil {
		t.Log(errors.ErrorStack(err))
		t.Error(err)
	}
}

// TestMalformedRecordKeepsStreaming ensures that a payload its decoder
// rejects is reported through the error callback without ending the session;
// frames after it still decode.
func TestMalformedRecordKeepsStreaming(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,
		})
		if err != nil {
			return errors.Trace(err)
		}

		streamErrs := make(chan error, 8)
		client.OnError(func(err error, disconnecting bool) {
			if disconnecting {
				streamErrs <- errors.Errorf("unexpected disconnecting error: %s", err)
				return
			}
			streamErrs <- err
		})

		if err := client.Connect(); err != nil {
			return errors.Trace(err)
		}

		if err := waitConnOpen(t, tp); err != nil {
			return errors.Trace(err)
		}
		if err := waitLoginReq(t, tp, testCreds); err != nil {
			return errors.Trace(err)
		}
		sendLoginResp(t, tp, 0, "ok")

		// A book payload without its level arrays is rejected by the book
		// decoder; the quote frame behind it must still come through.
		sendText(tp, `{"data":[{"service":"NASDAQ_BOOK","timestamp":1588216721000,"command":"SUBS","content":[{"key":"AAPL","1":1588216721000}]}]}`)
		sendText(tp, `{"data":[{"service":"QUOTE","timestamp":1588216722000,"command":"SUBS","content":[{"key":"AAPL","1":293.13}]}]}`)

		select {
		case err := <-streamErrs:
			if _, ok := errors.Cause(err).(*MalformedRecordError); !ok {
				return errors.Errorf("want MalformedRecordError, got %v", err)
			}
		case <-time.After(2 * time.Second):
			return errors.Errorf("didn't receive decode error")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		rec, err := client.Next(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if rec.Service != "QUOTE" || rec.Value != "AAPL" {
			return errors.Errorf("want QUOTE symbol AAPL, got %s", rec)
		}

		rec, err = client.Next(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if rec.Field != "bidPrice" || rec.Value != "293.13" {
			return errors.Errorf("want bidPrice=293.13, got %s", rec)
		}

		return nil
	})
	if err != nil {
		t.Log(errors.ErrorStack(err))
		t.Error(err)
	}
}

// TestHeartbeatNotify ensures server heartbeats reach the listener.
func TestHeartbeatNotify(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client, err := NewStreamClient(&WSParams{
			URL:         tp.url,
			Credentials: testCreds,
		})
		if err != nil {
			return errors.Trace(err)
		}

		heartbeats := make(chan int64, 1)
		client.OnHeartbeat(func(ts int64) {
			heartbeats <- ts
		})

		if err := client.Connect(); err != nil {
			return errors.Trace(err)
		}

		if err := waitConnOpen(t, tp); err != nil {
			return errors.Trace(err)
		}
		if err := waitLoginReq(t, tp, testCreds); err != nil {
			return errors.Trace(err)
		}
		sendLoginResp(t, tp, 0, "ok")

		sendText(tp, `{"notify":[{"heartbeat":"1588216721929"}]}`)

		select {
		case ts := <-heartbeats:
			if want := int64(1588216721929); ts != want {
				return errors.Errorf("heartbeat: want: %v, got: %v", want, ts)
			}
		case <-time.After(2 * time.Second):
			return errors.Errorf("didn't receive heartbeat")
		}

		return nil
	})
	if err != nil {
		t.Log(errors.ErrorStack(err))
		t.Error(err)
	}
}

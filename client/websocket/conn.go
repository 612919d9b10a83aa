package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/common"
	"github.com/tdstream/td-sdk-go/internal"
)

const (
	defaultRecordBufferSize  = 128
	defaultHeartbeatInterval = 5 * time.Second
)

// ConnState represents the streamer session state.
type ConnState int

// The following constants represent every possible ConnState.
const (
	// ConnStateDisconnected means we haven't connected yet. This is the
	// initial state only; once the session is over, it becomes
	// ConnStateClosed, never ConnStateDisconnected again.
	ConnStateDisconnected ConnState = iota

	// ConnStateConnecting means we're calling websocket.DefaultDialer.Dial()
	// right now.
	ConnStateConnecting

	// ConnStateLoggingIn means the transport (websocket) connection is
	// established, the ADMIN LOGIN request is sent, and we're waiting for the
	// server's verdict.
	ConnStateLoggingIn

	// ConnStateActive means login succeeded and the session streams data.
	ConnStateActive

	// ConnStateClosing means a close was requested and we're waiting for the
	// transport to wind down.
	ConnStateClosing

	// ConnStateClosed is the terminal state: the session is over and will not
	// come back. Retry policy belongs to the caller; create a new client to
	// connect again.
	ConnStateClosed

	// ConnStateAny can be used with AddStateListener() and
	// AddStateListenerOpt() in order to listen for all states.
	ConnStateAny = -1
)

// ConnStateNames contains human-readable names for connection states.
var ConnStateNames = map[ConnState]string{
	ConnStateDisconnected: "disconnected",
	ConnStateConnecting:   "connecting",
	ConnStateLoggingIn:    "logging-in",
	ConnStateActive:       "active",
	ConnStateClosing:      "closing",
	ConnStateClosed:       "closed",
}

// SessionCredentials is the identity material for the ADMIN LOGIN request.
// All of it comes from the brokerage's user-principals endpoint.
type SessionCredentials struct {
	UserID    string
	AccountID string
	AppID     string

	// Token is the streamer session token; TokenTimestamp is the token
	// creation time in milliseconds since epoch.
	Token          string
	TokenTimestamp int64

	Company     string
	Segment     string
	CDDomain    string
	UserGroup   string
	AccessLevel string
	ACL         string
}

// credential builds the url-encoded credential blob the login request
// carries. Encoding is the standard application/x-www-form-urlencoded form,
// with keys in the fixed order the server expects... which url.Values gives
// us for free since it sorts keys.
func (sc *SessionCredentials) credential() string {
	v := url.Values{}
	v.Set("userid", sc.UserID)
	v.Set("token", sc.Token)
	v.Set("company", sc.Company)
	v.Set("segment", sc.Segment)
	v.Set("cddomain", sc.CDDomain)
	v.Set("usergroup", sc.UserGroup)
	v.Set("accesslevel", sc.AccessLevel)
	v.Set("authorized", "Y")
	v.Set("timestamp", strconv.FormatInt(sc.TokenTimestamp, 10))
	v.Set("appid", sc.AppID)
	v.Set("acl", sc.ACL)
	return v.Encode()
}

// WSParams contains options for opening a streamer connection.
type WSParams struct {
	// URL is the streamer websocket URL, e.g.
	// wss://streamer-ws.example.com/ws. Required.
	URL string

	// Credentials identify the session; see SessionCredentials.
	Credentials SessionCredentials

	// RecordBufferSize is the capacity of the record channel read by Next.
	// When the buffer is full, frame processing blocks until the consumer
	// catches up. Defaults to 128.
	RecordBufferSize int

	// HeartbeatInterval is how often a websocket ping is sent while the
	// session is active. Defaults to 5 seconds.
	HeartbeatInterval time.Duration
}

// ServiceAck is the server's acknowledgement of a request, e.g. an UNSUBS.
type ServiceAck struct {
	Service   string
	Command   string
	RequestID string
	Code      int
	Msg       string
}

// StateCallback is a signature of a state listener. Cause is the error which
// caused the current state; it is only relevant for ConnStateClosed (the
// reason the session ended), for other states it's always nil.
type StateCallback func(prevState, curState ConnState, cause error)

// OnHeartbeatCB is a signature of a server-heartbeat listener; ts is the
// server-reported heartbeat time in milliseconds since epoch.
type OnHeartbeatCB func(ts int64)

// OnRecordCB is a signature of a record listener.
type OnRecordCB func(rec common.Record)

type StateListenerOpt struct {
	// If OneOff is true, the listener will only be called once; otherwise
	// it'll be called every time the requested state becomes active.
	OneOff bool

	// If CallImmediately is true, and the state being subscribed to is active
	// at the moment, the callback will be called immediately (with the "old"
	// state being equal to the new one)
	CallImmediately bool
}

// stateListener wraps a state change callback and its options.
type stateListener struct {
	cb  StateCallback
	opt StateListenerOpt
}

// internalEvent represents an event handled in eventLoop. Each field
// represents one kind of the event, and only a single field should be
// non-nil.
type internalEvent struct {
	// rxData contains data received from the server via websocket.
	rxData []byte

	// transportStateUpdate represents an update of transport layer state.
	transportStateUpdate *transportStateUpdate

	reqAddStateListener  *reqAddStateListener
	reqAddRecordListener *reqAddRecordListener
	reqAddHBListener     *reqAddHBListener
	reqAddErrorListener  *reqAddErrorListener
	reqConnState         *reqConnState
	reqSubscribe         *reqSubscribe
	reqUnsubscribe       *reqUnsubscribe
	reqClose             *reqClose
}

type reqAddStateListener struct {
	state ConnState
	cb    StateCallback
	opt   StateListenerOpt

	result chan<- struct{}
}

type reqAddRecordListener struct {
	cb     OnRecordCB
	result chan<- struct{}
}

type reqAddHBListener struct {
	cb     OnHeartbeatCB
	result chan<- struct{}
}

type reqAddErrorListener struct {
	cb     OnErrorCB
	result chan<- struct{}
}

type reqConnState struct {
	result chan<- ConnState
}

// reqSubscribe carries already-built requests; before the session is active
// they are queued, afterwards they are sent right away.
type reqSubscribe struct {
	reqs   []streamRequest
	result chan<- error
}

// reqUnsubscribe requires an active session; ack is registered under the
// request id before the frame goes out.
type reqUnsubscribe struct {
	req    streamRequest
	ack    chan ServiceAck
	result chan<- error
}

type reqClose struct {
	result chan<- error
}

// transportStateUpdate is an update of transport layer state.
type transportStateUpdate struct {
	oldState internal.TransportState
	state    internal.TransportState

	cause error
}

// StreamClient is a client for the brokerage streamer. It decodes every
// feed into flat records; see Next and OnRecord.
//
// The session is single-use: once it reaches ConnStateClosed it never
// reconnects on its own.
type StreamClient struct {
	params WSParams

	transport *internal.StreamTransportConn
	builder   *requestBuilder

	// All fields below are owned by eventLoop; nothing else reads or writes
	// them.

	state      ConnState
	stateCause error

	// actualCauseOfDisconnection is set whenever the client initiates the
	// disconnection; it's set to the specific error causing the
	// disconnection. When the disconnection happens, and
	// actualCauseOfDisconnection is not nil, then this error is passed to the
	// clients instead of the generic websocket disconnection error.
	actualCauseOfDisconnection error

	// closeRequested is set when the user asked for the closure, in which
	// case the transport teardown error is not a cause worth reporting.
	closeRequested bool

	stateListeners     map[ConnState][]stateListener
	recordListeners    []OnRecordCB
	heartbeatListeners []OnHeartbeatCB
	errorListeners     []OnErrorCB

	// records is the pull-side delivery channel, read by Next. It is closed
	// (only by eventLoop) on entering ConnStateClosed.
	records chan common.Record

	// loginResult delivers the outcome of the login handshake to Open. It is
	// signaled exactly once per session.
	loginResult chan error
	loginDone   bool

	// acks maps in-flight request ids to the channels awaiting their
	// acknowledgement.
	acks map[string]chan ServiceAck

	// subscribedKeys tracks the keys subscribed per service, so that
	// Unsubscribe(service) knows what to unsubscribe.
	subscribedKeys map[string][]string

	// heartbeatStop is non-nil only while the session is active; closing it
	// stops the heartbeat goroutine.
	heartbeatStop chan struct{}

	// internalEvents is a channel of events handled by eventLoop. See
	// internalEvent struct.
	internalEvents chan internalEvent
}

// NewStreamClient creates a new streamer client with the given params.
//
// Note that clients should manually call Connect (or Open) on a newly
// created client; the rationale is that clients might register some state
// and/or record listeners before connecting, to avoid any possible races.
func NewStreamClient(params *WSParams) (*StreamClient, error) {
	p := *params

	if p.URL == "" {
		return nil, errors.Errorf("URL is required")
	}

	if p.RecordBufferSize == 0 {
		p.RecordBufferSize = defaultRecordBufferSize
	}

	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = defaultHeartbeatInterval
	}

	transport, err := internal.NewStreamTransportConn(&internal.StreamTransportParams{
		URL: p.URL,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	c := &StreamClient{
		params:    p,
		transport: transport,
		builder:   newRequestBuilder(p.Credentials.AccountID, p.Credentials.AppID),

		state:          ConnStateDisconnected,
		stateListeners: make(map[ConnState][]stateListener),
		records:        make(chan common.Record, p.RecordBufferSize),
		loginResult:    make(chan error, 1),
		acks:           make(map[string]chan ServiceAck),
		subscribedKeys: make(map[string][]string),
		internalEvents: make(chan internalEvent, 8),
	}

	transport.OnStateChange(
		func(_ *internal.StreamTransportConn, oldTransportState, transportState internal.TransportState, cause error) {
			c.internalEvents <- internalEvent{
				transportStateUpdate: &transportStateUpdate{
					oldState: oldTransportState,
					state:    transportState,
					cause:    cause,
				},
			}
		},
	)

	transport.OnRead(
		func(_ *internal.StreamTransportConn, data []byte) {
			c.internalEvents <- internalEvent{
				rxData: data,
			}
		},
	)

	// Start goroutine which owns all session state
	go c.eventLoop()

	return c, nil
}

// Connect starts the connection goroutine. It doesn't wait for the login
// handshake to complete; use Open for that, or register a state listener for
// ConnStateActive.
func (c *StreamClient) Connect() (err error) {
	defer func() {
		// Translate internal transport errors to public ones
		if errors.Cause(err) == internal.ErrConnLoopActive {
			err = errors.Trace(ErrConnLoopActive)
		}
	}()

	if err := c.transport.Connect(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// Open connects and waits until the login handshake completes; on success
// the session is active and subscriptions flow. On failure the session ends
// up in ConnStateClosed and the reason is returned: ErrConnectionFailure if
// the transport could not be established, ErrLoginRejected if the server
// denied the credentials.
func (c *StreamClient) Open(ctx context.Context) error {
	if err := c.Connect(); err != nil {
		return errors.Trace(err)
	}

	select {
	case err := <-c.loginResult:
		return errors.Trace(err)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Close requests the session to close, and is idempotent: closing an
// already-closed client returns nil. It doesn't wait for the closure to
// complete; register a state listener for ConnStateClosed if you need that.
func (c *StreamClient) Close() error {
	result := make(chan error, 1)

	c.internalEvents <- internalEvent{
		reqClose: &reqClose{result: result},
	}

	return <-result
}

// ConnState returns the current session state.
func (c *StreamClient) ConnState() ConnState {
	result := make(chan ConnState, 1)

	c.internalEvents <- internalEvent{
		reqConnState: &reqConnState{result: result},
	}

	return <-result
}

// URL returns the url the client connects to.
func (c *StreamClient) URL() string {
	return c.params.URL
}

// AddStateListener registers a new listener for the given state. Listener is
// registered with the default options (zero values of all fields in
// StateListenerOpt). All registered callbacks for all states (and all
// records, see OnRecord) are called by the same internal goroutine, i.e.
// they are never called concurrently with each other.
//
// The order of listeners invocation for the same state is unspecified, and
// clients shouldn't rely on it.
//
// The listeners shouldn't block; a blocked listener will cause the whole
// stream connection to stuck. If you need to block there, consider spawning
// a goroutine for that.
//
// To subscribe to all state changes, use ConnStateAny as a state.
func (c *StreamClient) AddStateListener(state ConnState, cb StateCallback) {
	c.AddStateListenerOpt(state, cb, StateListenerOpt{})
}

// AddStateListenerOpt is like AddStateListener, but also takes additional
// options; see StateListenerOpt for details.
func (c *StreamClient) AddStateListenerOpt(state ConnState, cb StateCallback, opt StateListenerOpt) {
	result := make(chan struct{})

	c.internalEvents <- internalEvent{
		reqAddStateListener: &reqAddStateListener{
			state: state,
			cb:    cb,
			opt:   opt,

			result: result,
		},
	}

	<-result
}

// OnRecord registers a record listener. When at least one record listener is
// registered, records are delivered to the listeners and the Next channel is
// not used. Like state listeners, record listeners are all invoked from a
// single internal goroutine.
func (c *StreamClient) OnRecord(cb OnRecordCB) {
	result := make(chan struct{})

	c.internalEvents <- internalEvent{
		reqAddRecordListener: &reqAddRecordListener{cb: cb, result: result},
	}

	<-result
}

// OnHeartbeat registers a listener for server heartbeat notifies.
func (c *StreamClient) OnHeartbeat(cb OnHeartbeatCB) {
	result := make(chan struct{})

	c.internalEvents <- internalEvent{
		reqAddHBListener: &reqAddHBListener{cb: cb, result: result},
	}

	<-result
}

// OnError registers an error listener. Errors which don't end the session
// (malformed records, unparsable frames) are reported with
// disconnecting=false; the error ending the session is reported with
// disconnecting=true, before the ConnStateClosed state listeners run.
func (c *StreamClient) OnError(cb OnErrorCB) {
	result := make(chan struct{})

	c.internalEvents <- internalEvent{
		reqAddErrorListener: &reqAddErrorListener{cb: cb, result: result},
	}

	<-result
}

// Next returns the next decoded record. It blocks until a record is
// available, the context is canceled, or the session is closed, in which
// case it returns ErrStreamClosed.
//
// Next and OnRecord are alternatives: once a record listener is registered,
// records stop flowing into Next.
func (c *StreamClient) Next(ctx context.Context) (common.Record, error) {
	select {
	case rec, ok := <-c.records:
		if !ok {
			return common.Record{}, errors.Trace(ErrStreamClosed)
		}
		return rec, nil
	case <-ctx.Done():
		return common.Record{}, errors.Trace(ctx.Err())
	}
}

// subscribe hands the given requests to the event loop: queued if the
// session isn't active yet, sent right away otherwise.
func (c *StreamClient) subscribe(reqs ...streamRequest) error {
	result := make(chan error, 1)

	c.internalEvents <- internalEvent{
		reqSubscribe: &reqSubscribe{reqs: reqs, result: result},
	}

	return errors.Trace(<-result)
}

// Unsubscribe stops the subscription for every key previously subscribed on
// the given service, and waits for the server's acknowledgement. It requires
// an active session: before login completes it fails with ErrNotActive.
func (c *StreamClient) Unsubscribe(ctx context.Context, service string) (ServiceAck, error) {
	keysResult := make(chan error, 1)
	ack := make(chan ServiceAck, 1)

	c.internalEvents <- internalEvent{
		reqUnsubscribe: &reqUnsubscribe{
			req:    streamRequest{Service: service},
			ack:    ack,
			result: keysResult,
		},
	}

	if err := <-keysResult; err != nil {
		return ServiceAck{}, errors.Trace(err)
	}

	select {
	case sa, ok := <-ack:
		if !ok {
			return ServiceAck{}, errors.Trace(ErrStreamClosed)
		}
		return sa, nil
	case <-ctx.Done():
		return ServiceAck{}, errors.Trace(ctx.Err())
	}
}

// disconnect sends a "normal closure" websocket message to the server,
// causing it to disconnect, and when we receive the actual disconnection
// soon, the cause error given to the clients will be the cause given to
// disconnect.
//
// If cause is nil, then the upcoming disconnection error will be passed to
// clients as is.
//
// NOTE: disconnect should only be called from the eventLoop.
func (c *StreamClient) disconnect(cause error) {
	if err := c.transport.Close(); err != nil {
		// Transport is already down; settle the session right here.
		c.updateState(ConnStateClosed, errors.Trace(cause))
		return
	}

	c.actualCauseOfDisconnection = cause
}

// sendRequests marshals the given requests into one envelope and sends it.
//
// NOTE: sendRequests should only be called from the eventLoop.
func (c *StreamClient) sendRequests(reqs []streamRequest) (err error) {
	defer func() {
		if errors.Cause(err) == internal.ErrNotConnected {
			err = errors.Trace(ErrNotConnected)
		}
	}()

	data, err := json.Marshal(requestEnvelope{Requests: reqs})
	if err != nil {
		return errors.Annotatef(err, "marshalling request envelope")
	}

	if err := c.transport.Send(context.Background(), data); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// sendLogin sends the ADMIN LOGIN frame; it's the only frame whose request
// id is the string "0".
//
// NOTE: sendLogin should only be called from the eventLoop.
func (c *StreamClient) sendLogin() error {
	creds := &c.params.Credentials

	req := loginRequest{
		Service:   adminService,
		RequestID: "0",
		Command:   cmdLogin,
		Account:   creds.AccountID,
		Source:    creds.AppID,
		Parameters: map[string]string{
			"credential": creds.credential(),
			"token":      creds.Token,
			"version":    "1.0",
		},
	}

	data, err := json.Marshal(loginEnvelope{Requests: []loginRequest{req}})
	if err != nil {
		return errors.Annotatef(err, "marshalling login envelope")
	}

	if err := c.transport.Send(context.Background(), data); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// heartbeatLoop pings the server on a fixed interval while the session is
// active. When the transport goes away the ping fails and the loop just
// exits; the session teardown is driven by the transport state update, not
// by us.
func (c *StreamClient) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.params.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

type callStateListenersReq struct {
	listeners       []stateListener
	oldState, state ConnState
	cause           error
}

// NOTE: updateState should only be called from the eventLoop.
func (c *StreamClient) updateState(state ConnState, cause error) {
	if c.state == state {
		// No need to do anything
		return
	}

	// Properly leave the current state
	c.enterLeaveState(c.state, false)

	oldState := c.state
	c.state = state
	c.stateCause = cause

	// Properly enter the new state
	c.enterLeaveState(c.state, true)

	// Collect all listeners to call now
	listeners := append(c.stateListeners[state], c.stateListeners[ConnStateAny]...)

	// Remove one-off listeners
	c.stateListeners[state] = removeOneOff(c.stateListeners[state])
	c.stateListeners[ConnStateAny] = removeOneOff(c.stateListeners[ConnStateAny])

	c.callStateListeners(&callStateListenersReq{
		listeners: listeners,
		oldState:  oldState,
		state:     state,
		cause:     cause,
	})
}

// enterLeaveState should be called on leaving and entering each state. So,
// when changing state from A to B, it's called twice, like this:
//
//	enterLeaveState(A, false)
//	enterLeaveState(B, true)
//
// NOTE: enterLeaveState should only be called from eventLoop.
func (c *StreamClient) enterLeaveState(state ConnState, enter bool) {
	switch state {

	case ConnStateActive:
		// The heartbeat goroutine runs only while the session is active.
		if enter {
			c.heartbeatStop = make(chan struct{})
			go c.heartbeatLoop(c.heartbeatStop)
		} else {
			close(c.heartbeatStop)
			c.heartbeatStop = nil
		}

	case ConnStateClosed:
		if enter {
			// The session is over: settle everyone still waiting. The error
			// listeners run first, so that by the time state listeners and
			// Next observe the closure, the cause has been reported.
			cause := c.stateCause

			if cause != nil {
				c.callErrorListeners(errors.Trace(cause), true)
			}

			if !c.loginDone {
				c.loginDone = true
				if cause == nil {
					cause = ErrStreamClosed
				}
				c.loginResult <- errors.Trace(cause)
			}

			for id, ack := range c.acks {
				close(ack)
				delete(c.acks, id)
			}

			close(c.records)
		}
	}
}

// removeOneOff takes a slice of listeners and returns a new one, with
// one-off listeners removed.
func removeOneOff(listeners []stateListener) []stateListener {
	newListeners := []stateListener{}

	for _, sl := range listeners {
		if !sl.opt.OneOff {
			newListeners = append(newListeners, sl)
		}
	}

	return newListeners
}

// NOTE: callStateListeners should only be called from the eventLoop, to
// ensure that all callbacks are only invoked from a single goroutine.
func (c *StreamClient) callStateListeners(req *callStateListenersReq) {
	for _, sl := range req.listeners {
		sl.cb(req.oldState, req.state, req.cause)
	}
}

// NOTE: callErrorListeners should only be called from the eventLoop.
func (c *StreamClient) callErrorListeners(err error, disconnecting bool) {
	for _, cb := range c.errorListeners {
		cb(err, disconnecting)
	}
}

// eventLoop handles all internal events like transport state change,
// received data, or client calls to add listeners or subscribe. It is the
// only goroutine touching session state. See internalEvent struct.
func (c *StreamClient) eventLoop() {
	for {
		event := <-c.internalEvents

		if tsu := event.transportStateUpdate; tsu != nil {
			c.handleTransportStateUpdate(tsu)
		} else if data := event.rxData; data != nil {
			c.handleRxData(data)
		} else if al := event.reqAddStateListener; al != nil {
			sl := stateListener{
				cb:  al.cb,
				opt: al.opt,
			}

			// Determine whether the callback should be called right now
			callNow := al.opt.CallImmediately && (al.state == c.state || al.state == ConnStateAny)

			// Update stored listeners if needed
			if !al.opt.OneOff || !callNow {
				c.stateListeners[al.state] = append(c.stateListeners[al.state], sl)
			}

			if callNow {
				c.callStateListeners(&callStateListenersReq{
					listeners: []stateListener{sl},
					oldState:  c.state,
					state:     c.state,
					cause:     c.stateCause,
				})
			}

			al.result <- struct{}{}
		} else if rl := event.reqAddRecordListener; rl != nil {
			c.recordListeners = append(c.recordListeners, rl.cb)
			rl.result <- struct{}{}
		} else if hl := event.reqAddHBListener; hl != nil {
			c.heartbeatListeners = append(c.heartbeatListeners, hl.cb)
			hl.result <- struct{}{}
		} else if el := event.reqAddErrorListener; el != nil {
			c.errorListeners = append(c.errorListeners, el.cb)
			el.result <- struct{}{}
		} else if req := event.reqConnState; req != nil {
			req.result <- c.state
		} else if req := event.reqSubscribe; req != nil {
			req.result <- c.handleSubscribe(req.reqs)
		} else if req := event.reqUnsubscribe; req != nil {
			req.result <- c.handleUnsubscribe(req)
		} else if req := event.reqClose; req != nil {
			req.result <- c.handleClose()
		}
	}
}

// NOTE: handleTransportStateUpdate should only be called from the eventLoop.
func (c *StreamClient) handleTransportStateUpdate(tsu *transportStateUpdate) {
	switch tsu.state {
	case internal.TransportStateConnecting:
		c.updateState(ConnStateConnecting, nil)

	case internal.TransportStateConnected:
		// Transport is up: log in right away.
		c.updateState(ConnStateLoggingIn, nil)

		if err := c.sendLogin(); err != nil {
			c.disconnect(errors.Trace(err))
		}

	case internal.TransportStateDisconnected:
		// Whatever the reason, a dead transport ends the session for good.
		cause := tsu.cause
		switch {
		case c.actualCauseOfDisconnection != nil:
			cause = c.actualCauseOfDisconnection
			c.actualCauseOfDisconnection = nil
		case c.closeRequested:
			cause = nil
		case tsu.oldState == internal.TransportStateConnecting && cause != nil:
			// Dial failure
			cause = errors.Annotatef(ErrConnectionFailure, "%s", cause.Error())
		}

		if cause != nil {
			cause = errors.Trace(cause)
		}
		c.updateState(ConnStateClosed, cause)

	default:
		panic(fmt.Sprintf("invalid transport layer state %v", tsu.state))
	}
}

// NOTE: handleSubscribe should only be called from the eventLoop.
func (c *StreamClient) handleSubscribe(reqs []streamRequest) error {
	switch c.state {
	case ConnStateClosing, ConnStateClosed:
		return errors.Trace(ErrStreamClosed)

	case ConnStateActive:
		if err := c.sendRequests(reqs); err != nil {
			return errors.Trace(err)
		}

	default:
		// Not logged in yet: queue, to be flushed right after login.
		for _, req := range reqs {
			c.builder.enqueue(req)
		}
	}

	for _, req := range reqs {
		c.trackSubscription(req)
	}

	return nil
}

// trackSubscription remembers the keys of a SUBS request so that a later
// Unsubscribe(service) knows what to undo. GETs are one-shot and not
// tracked.
//
// NOTE: trackSubscription should only be called from the eventLoop.
func (c *StreamClient) trackSubscription(req streamRequest) {
	if req.Command != cmdSubs {
		return
	}

	keys := req.Parameters["keys"]
	if keys == "" {
		return
	}

	// A repeated SUBS for a service replaces the previous key set on the
	// server, so mirror that here.
	c.subscribedKeys[req.Service] = splitKeys(keys)
}

// NOTE: handleUnsubscribe should only be called from the eventLoop.
func (c *StreamClient) handleUnsubscribe(req *reqUnsubscribe) error {
	if c.state != ConnStateActive {
		return errors.Trace(ErrNotActive)
	}

	service := req.req.Service

	keys, ok := c.subscribedKeys[service]
	if !ok {
		return errors.Annotatef(ErrNotActive, "no subscription for service %s", service)
	}

	unsub, err := c.builder.unsubs(service, keys)
	if err != nil {
		return errors.Trace(err)
	}

	c.acks[strconv.Itoa(unsub.RequestID)] = req.ack

	if err := c.sendRequests([]streamRequest{unsub}); err != nil {
		delete(c.acks, strconv.Itoa(unsub.RequestID))
		return errors.Trace(err)
	}

	delete(c.subscribedKeys, service)

	return nil
}

// NOTE: handleClose should only be called from the eventLoop.
func (c *StreamClient) handleClose() error {
	switch c.state {
	case ConnStateClosed:
		// Idempotent
		return nil

	case ConnStateDisconnected:
		// Never connected; settle immediately.
		c.updateState(ConnStateClosed, nil)
		return nil

	default:
		c.closeRequested = true
		c.updateState(ConnStateClosing, nil)
		c.disconnect(nil)
		return nil
	}
}

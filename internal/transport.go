package internal

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

type TransportState int

const (
	// TransportStateDisconnected means we're disconnected and connLoop is not
	// running. It is both the initial and the terminal state: this transport
	// never reconnects on its own, because retry policy belongs to whatever
	// orchestrates the session.
	TransportStateDisconnected TransportState = iota

	// TransportStateConnecting means we're calling
	// websocket.DefaultDialer.Dial() right now.
	TransportStateConnecting

	// TransportStateConnected means the websocket connection is established.
	TransportStateConnected
)

var (
	ErrNotConnected   = errors.New("transport error: not connected")
	ErrConnLoopActive = errors.New("transport error: connection loop is already active")
)

// StreamTransportParams contains params for opening a client stream connection
// (see StreamTransportConn).
type StreamTransportParams struct {
	// Server URL, e.g. wss://streamer.example.com/ws
	URL string
}

// StreamTransportConn is a client stream connection; it's wrapped into a more
// specific type of connection which knows how to interpret the frames being
// received. It owns the websocket handle exclusively: reads happen in
// connLoop, writes are serialized through writeLoop.
type StreamTransportConn struct {
	params StreamTransportParams

	connTx chan WebsocketTx

	// Current state
	state TransportState
	// Error which caused the current state; only relevant for
	// TransportStateDisconnected, for other states it's always nil.
	stateCause error

	// onReadCB, if not nil, is called for each received websocket message.
	onReadCB onReadCallback

	// onStateChangeCB, if not nil, is called for each updated state.
	onStateChangeCB onStateChangeCallback

	// connCtx and connCtxCancel are context and its cancel func for the
	// currently running connLoop. If no connLoop is running at the moment
	// (i.e. the state is TransportStateDisconnected), these are nil.
	connCtx       context.Context
	connCtxCancel context.CancelFunc

	// wsConn is the currently active websocket connection, or nil if no
	// connection is established.
	wsConn *websocket.Conn

	mtx sync.Mutex
}

// WebsocketTx represents a message to send to the websocket.
type WebsocketTx struct {
	MessageType int
	Data        []byte
	Res         chan error
}

// NewStreamTransportConn creates a new stream transport connection.
//
// Note that a client should manually call Connect on a newly created
// connection; the rationale is that clients might register state and/or
// message handlers before the connection, to avoid any possible races.
func NewStreamTransportConn(params *StreamTransportParams) (*StreamTransportConn, error) {
	c := &StreamTransportConn{
		// Copy params defensively
		params: *params,

		state:  TransportStateDisconnected,
		connTx: make(chan WebsocketTx, 1),
	}

	// Start writeLoop right away, before even connecting, so that an attempt
	// to write something while not connected will result in a proper error.
	go c.writeLoop()

	return c, nil
}

// Connect starts the connection goroutine (if the state is
// TransportStateDisconnected); for other states it returns an error.
//
// It doesn't wait for the connection to establish, and returns immediately.
func (c *StreamTransportConn) Connect() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	switch c.state {
	case TransportStateDisconnected:
		// NOTE that we need to enter the state TransportStateConnecting here
		// and not in connLoop, in order to prevent the race which would result
		// in multiple running connLoops.
		c.updateState(TransportStateConnecting, nil)

		go c.connLoop(c.connCtx, c.connCtxCancel)

	case TransportStateConnecting, TransportStateConnected:
		return errors.Trace(ErrConnLoopActive)
	}

	return nil
}

// Close closes the websocket connection if one is active (with the code 1000,
// i.e. normal closure). If graceful websocket closure fails, the forceful one
// is performed.
func (c *StreamTransportConn) Close() error {
	if err := c.CloseOpt(websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// CloseOpt is like Close but sends the given close message.
func (c *StreamTransportConn) CloseOpt(data []byte) error {
	c.mtx.Lock()
	wsConn := c.wsConn

	if c.state == TransportStateDisconnected {
		c.mtx.Unlock()
		return errors.Trace(ErrNotConnected)
	}

	// Cancel the conn context, which will cause connLoop to quit once the
	// current websocket connection (if any) is closed.
	c.connCtxCancel()
	c.mtx.Unlock()

	// If the websocket connection is active, close it, which will cause
	// connLoop to break out of the read loop and quit.
	if wsConn != nil {
		if err := wsConn.WriteControl(websocket.CloseMessage, data, time.Time{}); err != nil {
			// Graceful close failed, try to close forcefully
			return errors.Trace(wsConn.Close())
		}
	}

	return nil
}

// URL returns the url used for connection.
func (c *StreamTransportConn) URL() string {
	return c.params.URL
}

// GetState returns the connection state.
func (c *StreamTransportConn) GetState() TransportState {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

type onReadCallback func(conn *StreamTransportConn, data []byte)
type onStateChangeCallback func(conn *StreamTransportConn, oldState, state TransportState, cause error)

// OnRead sets the on-read callback; it should be called once right after
// creation of the StreamTransportConn by a wrapper, before the connection is
// established.
func (c *StreamTransportConn) OnRead(cb onReadCallback) {
	c.onReadCB = cb
}

func (c *StreamTransportConn) OnStateChange(cb onStateChangeCallback) {
	c.onStateChangeCB = cb
}

// Send sends data to the websocket if it's connected.
func (c *StreamTransportConn) Send(ctx context.Context, data []byte) error {
	// Note that we don't check here whether the socket is connected,
	// as it's checked by the writeLoop() which will receive our message
	// from c.connTx.

	res := make(chan error)

	// Request the websocket write
	c.connTx <- WebsocketTx{
		MessageType: websocket.TextMessage,
		Data:        data,
		Res:         res,
	}

	select {
	case err := <-res:
		if err != nil {
			return errors.Annotatef(err, "sending msg")
		}
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}

	return nil
}

// Ping sends a websocket ping control frame. It returns ErrNotConnected if
// there is no active connection.
func (c *StreamTransportConn) Ping() error {
	c.mtx.Lock()
	wsConn := c.wsConn
	c.mtx.Unlock()

	if wsConn == nil {
		return errors.Trace(ErrNotConnected)
	}

	deadline := time.Now().Add(5 * time.Second)
	if err := wsConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// enterLeaveState should be called on leaving and entering each state. So,
// when changing state from A to B, it's called twice, like this:
//
//	enterLeaveState(A, false)
//	enterLeaveState(B, true)
func (c *StreamTransportConn) enterLeaveState(state TransportState, enter bool) {
	switch state {

	case TransportStateDisconnected:
		// connCtx and its cancel func should be present in all states but
		// TransportStateDisconnected
		if enter {
			c.connCtx = nil
			c.connCtxCancel = nil
		} else {
			c.connCtx, c.connCtxCancel = context.WithCancel(context.Background())
		}

	case TransportStateConnecting:
		// Nothing special to do for the TransportStateConnecting state

	case TransportStateConnected:
		// wsConn is present only in TransportStateConnected
		if enter {
			// wsConn is set by the calling code
		} else {
			c.wsConn = nil
		}
	}
}

func (c *StreamTransportConn) updateState(state TransportState, cause error) {
	// NOTE: c.mtx should be locked when updateState is called

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

	if c.onStateChangeCB != nil {
		c.onStateChangeCB(c, oldState, state, cause)
	}
}

// connLoop establishes a connection, then keeps receiving all websocket
// messages (and calls onReadCB for each of them) until the connection is
// closed, then quits. There is no reconnection here: the wrapper decides what
// a closed connection means for the session.
func (c *StreamTransportConn) connLoop(connCtx context.Context, connCtxCancel context.CancelFunc) {
	var connErr error

	defer func() {
		c.mtx.Lock()
		defer c.mtx.Unlock()
		c.updateState(TransportStateDisconnected, connErr)
	}()

	var wsConn *websocket.Conn
	wsConn, _, connErr = websocket.DefaultDialer.Dial(c.params.URL, nil)
	if connErr != nil {
		connCtxCancel()
		return
	}

	c.mtx.Lock()
	c.wsConn = wsConn
	c.updateState(TransportStateConnected, nil)
	c.mtx.Unlock()

	// Will loop here until the websocket connection is closed
recvLoop:
	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			connErr = err
			break recvLoop
		}

		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// Call on-read callback, if any
			if c.onReadCB != nil {
				c.onReadCB(c, data)
			}

		case websocket.CloseMessage:
			break recvLoop
		}
	}

	connCtxCancel()
}

// writeLoop receives messages from c.connTx, and tries to send them
// to the active websocket connection, if any.
func (c *StreamTransportConn) writeLoop() {
cloop:
	for {
		msg := <-c.connTx

		// Get currently active websocket connection
		c.mtx.Lock()
		wsConn := c.wsConn
		c.mtx.Unlock()

		if wsConn == nil {
			msg.Res <- errors.Trace(ErrNotConnected)
			continue cloop
		}

		// Try to write the message
		err := errors.Trace(wsConn.WriteMessage(msg.MessageType, msg.Data))

		// Send resulting error to the requester
		msg.Res <- err
	}
}

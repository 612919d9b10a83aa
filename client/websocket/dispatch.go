package websocket

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/juju/errors"

	"github.com/tdstream/td-sdk-go/common"
)

// invalidUTF8Replacement is the UTF-8 encoding of U+FFFD. The streamer
// occasionally emits it in place of a value it couldn't render; left alone
// it corrupts the surrounding JSON, so it is replaced with a literal None
// before decoding.
var (
	invalidUTF8Replacement = []byte{0xEF, 0xBF, 0xBD}
	noneLiteral            = []byte(`None`)
)

// scrubFrame sanitizes a raw frame before JSON decoding.
func scrubFrame(data []byte) []byte {
	if !bytes.Contains(data, invalidUTF8Replacement) {
		return data
	}

	return bytes.ReplaceAll(data, invalidUTF8Replacement, noneLiteral)
}

// handleRxData processes one received websocket message: scrub, decode the
// frame, and route by frame kind. A frame carries exactly one of response,
// data, snapshot or notify.
//
// NOTE: handleRxData should only be called from the eventLoop.
func (c *StreamClient) handleRxData(data []byte) {
	if c.state == ConnStateClosed {
		// The session is settled and the record channel is closed; frames
		// queued behind the closure (the server may keep sending right up to
		// the disconnect) have nowhere to deliver.
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(scrubFrame(data), &frame); err != nil {
		// An unparsable frame is reported but never ends the session.
		c.callErrorListeners(errors.Annotatef(err, "parsing frame"), false)
		return
	}

	switch {
	case frame.Response != nil:
		for i := range frame.Response {
			c.handleResponse(&frame.Response[i])
		}

	case frame.Data != nil:
		c.handleServiceResults(frame.Data)

	case frame.Snapshot != nil:
		c.handleServiceResults(frame.Snapshot)

	case frame.Notify != nil:
		c.handleNotify(frame.Notify)
	}
}

// handleResponse processes one command acknowledgement. The distinguished
// fatal code ends the session no matter which request it acknowledges; in
// practice the server only sends it for a denied login, but a post-login
// occurrence is just as terminal.
//
// NOTE: handleResponse should only be called from the eventLoop.
func (c *StreamClient) handleResponse(sr *serviceResult) {
	var content responseContent
	if err := json.Unmarshal(sr.Content, &content); err != nil {
		c.callErrorListeners(errors.Annotatef(err, "parsing %s %s response", sr.Service, sr.Command), false)
		return
	}

	if content.Code == loginDeniedCode {
		c.disconnect(errors.Annotatef(ErrLoginRejected, "%s", content.Msg))
		return
	}

	if c.state == ConnStateLoggingIn && sr.Service == adminService && sr.Command == cmdLogin {
		if content.Code != 0 {
			c.disconnect(errors.Annotatef(ErrLoginRejected, "code %d: %s", content.Code, content.Msg))
			return
		}

		// Login succeeded: the session is active, flush everything queued
		// while we were connecting.
		c.updateState(ConnStateActive, nil)

		if pending := c.builder.takePending(); len(pending) > 0 {
			if err := c.sendRequests(pending); err != nil {
				c.disconnect(errors.Trace(err))
				return
			}
		}

		c.loginDone = true
		c.loginResult <- nil
		return
	}

	// Route to whoever awaits this acknowledgement, if anyone.
	id := string(sr.RequestID)
	if ack, ok := c.acks[id]; ok {
		delete(c.acks, id)
		ack <- ServiceAck{
			Service:   sr.Service,
			Command:   sr.Command,
			RequestID: id,
			Code:      content.Code,
			Msg:       content.Msg,
		}
	}
}

// handleServiceResults decodes data/snapshot results into records and
// delivers them. A result that fails to decode is reported and skipped;
// sibling results in the same frame are unaffected.
//
// NOTE: handleServiceResults should only be called from the eventLoop.
func (c *StreamClient) handleServiceResults(results []serviceResult) {
	for i := range results {
		recs, err := decodeServiceResult(results[i])
		if err != nil {
			c.callErrorListeners(errors.Trace(err), false)
			continue
		}

		for _, rec := range recs {
			c.deliverRecord(rec)
		}
	}
}

// deliverRecord hands one record to the consumer: to the record listeners
// if any are registered, to the Next channel otherwise. The channel send
// blocks when the buffer is full; that is the backpressure contract, a slow
// consumer slows the whole session down rather than losing records.
//
// NOTE: deliverRecord should only be called from the eventLoop.
func (c *StreamClient) deliverRecord(rec common.Record) {
	if len(c.recordListeners) > 0 {
		for _, cb := range c.recordListeners {
			cb(rec)
		}
		return
	}

	c.records <- rec
}

// handleNotify processes server keepalive notices.
//
// NOTE: handleNotify should only be called from the eventLoop.
func (c *StreamClient) handleNotify(events []notifyEvent) {
	for _, ev := range events {
		hb, ok := ev["heartbeat"]
		if !ok {
			continue
		}

		ts, err := strconv.ParseInt(hb, 10, 64)
		if err != nil {
			c.callErrorListeners(errors.Annotatef(err, "parsing heartbeat %q", hb), false)
			continue
		}

		for _, cb := range c.heartbeatListeners {
			cb(ts)
		}
	}
}

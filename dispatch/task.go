package dispatch

import (
	"bytes"
	"strings"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/natsproto"
)

// Request channels served by the worker.
const (
	ChannelPing         = "Ping"
	ChannelGetAppInfo   = "GetAppInfo"
	ChannelProcessImage = "ProcessImage"
)

// Channels lists every channel the handler understands, in provisioning order.
func Channels() []string {
	return []string{ChannelPing, ChannelGetAppInfo, ChannelProcessImage}
}

// Task is a request detached from the read buffer it arrived in. It is safe
// to hand to another goroutine.
type Task struct {
	CorrelationID string
	ReplyTo       string
	// Delivery is the broker handle used to ack or reject the message. Empty
	// for core NATS messages, which need no settlement.
	Delivery string
	Channel  string
	Payload  []byte
}

// NewTask copies everything the handler needs out of msg.
func NewTask(msg natsproto.Msg, channel string) Task {
	t := Task{
		Delivery: msg.Reply,
		Channel:  channel,
		Payload:  bytes.Clone(msg.Data),
	}
	if msg.Header != nil {
		t.CorrelationID = msg.Header.Get(natsproto.HeaderCorrelationID)
		t.ReplyTo = msg.Header.Get(natsproto.HeaderReplyTo)
	}
	if t.Payload == nil {
		t.Payload = []byte{}
	}
	return t
}

// Validate checks the request metadata that is echoed back to the broker. A
// reply destination must be a plain subject and the correlation id must fit
// on one header line.
func (t Task) Validate() error {
	if t.ReplyTo != "" && !natsproto.ValidSubject(t.ReplyTo) {
		return errors.Newf(errors.KindInvalidInput, "reply destination %q", t.ReplyTo)
	}
	if strings.ContainsAny(t.CorrelationID, "\r\n") {
		return errors.Newf(errors.KindInvalidInput, "correlation id %q", t.CorrelationID)
	}
	return nil
}

package bridge

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	envelopepkg "github.com/hrmesh/hrmesh/internal/runtime/envelope"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
)

// HandlerFunc produces the reply payload for one fetch request. Returning
// an error publishes an error reply so the caller fails fast instead of
// waiting out its deadline.
type HandlerFunc func(ctx context.Context, operation string, ids []string) (any, error)

// Responder is the serving side of the bridge, run by the service that owns
// the data. It consumes request events and publishes correlated replies.
type Responder struct {
	source  string
	handler HandlerFunc
	logger  loggingpkg.ServiceLogger
}

// NewResponder wraps a handler for registration as a watermill handler
// consuming the request topic and publishing to the response topic.
func NewResponder(source string, handler HandlerFunc, logger loggingpkg.ServiceLogger) *Responder {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return &Responder{source: source, handler: handler, logger: logger}
}

// Handle consumes one request event and returns the correlated reply.
// Non-request events and malformed envelopes are dropped so a poison
// message cannot wedge the request topic.
func (r *Responder) Handle(msg *message.Message) ([]*message.Message, error) {
	evt, err := envelopepkg.FromMessage(msg)
	if err != nil {
		r.logger.Error("Dropping malformed request", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil, nil
	}
	if !envelopepkg.IsRequest(evt.Type) {
		return nil, nil
	}

	var req FetchRequest
	if err := DecodeData(evt, &req); err != nil {
		r.logger.Error("Dropping request with malformed payload", err, loggingpkg.LogFields{
			"correlation_id": evt.CorrelationID,
			"type":           evt.Type,
		})
		return nil, nil
	}

	operation := envelopepkg.Operation(evt.Type)
	data, err := r.handler(msg.Context(), operation, req.IDs)

	var reply envelopepkg.Event
	if err != nil {
		r.logger.Error("Request handler failed", err, loggingpkg.LogFields{
			"correlation_id": evt.CorrelationID,
			"operation":      operation,
		})
		reply = envelopepkg.NewReply(evt, r.source, nil).WithExtension(ExtensionError, err.Error())
	} else {
		reply = envelopepkg.NewReply(evt, r.source, data)
	}

	out, err := envelopepkg.ToMessage(reply)
	if err != nil {
		r.logger.Error("Dropping unmarshalable reply", err, loggingpkg.LogFields{
			"correlation_id": evt.CorrelationID,
		})
		return nil, nil
	}
	return []*message.Message{out}, nil
}

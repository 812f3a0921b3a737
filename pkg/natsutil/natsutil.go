// Package natsutil publishes and consumes JSON events over NATS, carrying
// the OpenTelemetry trace context in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	PublishMsg(*nats.Msg) error
}

// carrier views NATS headers through the HTTP header carrier. Both are
// map[string][]string, so keys are canonicalized the same way on each side.
func carrier(msg *nats.Msg) propagation.HeaderCarrier {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	return propagation.HeaderCarrier(http.Header(msg.Header))
}

// NewMsg builds a message for subject with v as its JSON body and the span
// context of ctx in its headers.
func NewMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = body
	otel.GetTextMapPropagator().Inject(ctx, carrier(msg))
	return msg, nil
}

// Publish sends v to subject through p.
func Publish[T any](ctx context.Context, p Publisher, subject string, v T) error {
	msg, err := NewMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	if err := p.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Decode parses the body of msg into a T and returns a context holding the
// remote span context, if the sender attached one.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return context.Background(), v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	return otel.GetTextMapPropagator().Extract(context.Background(), carrier(msg)), v, nil
}

// Subscribe calls handler for every message on subject that decodes as a T.
// Bodies that fail to decode are skipped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		if ctx, v, err := Decode[T](msg); err == nil {
			handler(ctx, v)
		}
	})
}

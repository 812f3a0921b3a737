package natsutil

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type capturePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (c *capturePublisher) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func TestCarrierAllocatesHeader(t *testing.T) {
	msg := &nats.Msg{}
	c := carrier(msg)
	if c.Get("traceparent") != "" || len(c.Keys()) != 0 {
		t.Fatal("fresh header should read empty")
	}
	c.Set("traceparent", "00-abc-def-01")
	if msg.Header == nil || c.Get("TraceParent") != "00-abc-def-01" {
		t.Fatalf("header = %v", msg.Header)
	}
}

func TestPublishRoundTripsPayloadAndTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	pub := &capturePublisher{}
	if err := Publish(ctx, pub, "medalparser.outcome", testMsg{Name: "coin", Value: 3}); err != nil {
		t.Fatal(err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != "medalparser.outcome" {
		t.Fatalf("published %v", pub.msgs)
	}
	if carrier(pub.msgs[0]).Get("traceparent") == "" {
		t.Fatal("trace context not injected")
	}

	gotCtx, got, err := Decode[testMsg](pub.msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "coin" || got.Value != 3 {
		t.Fatalf("decoded %+v", got)
	}
	if trace.SpanContextFromContext(gotCtx).TraceID() != traceID {
		t.Fatal("trace id not propagated")
	}
}

func TestPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("down")}
	if err := Publish(context.Background(), pub, "s", testMsg{}); err == nil {
		t.Fatal("expected publisher error")
	}
	if err := Publish(context.Background(), pub, "s", func() {}); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := Decode[testMsg](&nats.Msg{Subject: "s", Data: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
}

package kafka

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
)

func TestDecodeJSON(t *testing.T) {
	type event struct {
		Reason string `json:"reason"`
	}
	got, err := DecodeJSON[event]([]byte(`{"reason":"reindex"}`))
	if err != nil || got.Reason != "reindex" {
		t.Errorf("got %+v, %v", got, err)
	}
	if _, err := DecodeJSON[event]([]byte(`{`)); err == nil {
		t.Error("expected error for truncated json")
	}
}

func TestNewProducer(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"a:9092"}}, "query-events")
	defer p.Close()
	if p.Topic() != "query-events" || p.writer.Addr.String() != "a:9092" {
		t.Errorf("writer topic=%q addr=%q", p.writer.Topic, p.writer.Addr.String())
	}
}

func TestEncode(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "east", Value: map[string]string{"reason": "api"}},
		{Key: "west", Value: 42},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || string(msgs[0].Key) != "east" || string(msgs[0].Value) != `{"reason":"api"}` {
		t.Errorf("msgs = %+v", msgs)
	}
	if h := msgs[1].Headers; len(h) != 1 || string(h[0].Value) != contentTypeJSON {
		t.Errorf("headers = %+v", h)
	}

	if _, err := encode([]Event{{Key: "ok", Value: 1}, {Key: "bad", Value: make(chan int)}}); err == nil {
		t.Error("expected error for unencodable value")
	}
}

func TestPublishBatch_EmptyAndUnencodable(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "query-events")
	defer p.Close()
	if err := p.PublishBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
	if err := p.Publish(context.Background(), Event{Key: "k", Value: func() {}}); err == nil {
		t.Error("expected encode error before any write")
	}
}

package bus

import (
	"context"
	"testing"
)

func TestClientSubject(t *testing.T) {
	if ClientSubject("", "alert") != "" {
		t.Fatalf("expected empty subject")
	}
	if got := ClientSubject("agent-1", "alert"); got != "gridstore.client.agent-1.alert" {
		t.Fatalf("unexpected subject %s", got)
	}
}

func TestInitJetStreamEnabled(t *testing.T) {
	t.Setenv(envUseJetStream, "")
	if initJetStreamEnabled() {
		t.Fatalf("expected jetstream disabled by default")
	}
	for _, val := range []string{"1", "true", "yes", "y", "on"} {
		t.Setenv(envUseJetStream, val)
		if !initJetStreamEnabled() {
			t.Fatalf("expected jetstream enabled for %s", val)
		}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv(envJSMaxDeliver, "")
	if got := envInt(envJSMaxDeliver, defaultMaxDeliver); got != defaultMaxDeliver {
		t.Fatalf("expected default, got %d", got)
	}
	t.Setenv(envJSMaxDeliver, "3")
	if got := envInt(envJSMaxDeliver, defaultMaxDeliver); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	t.Setenv(envJSMaxDeliver, "many")
	if got := envInt(envJSMaxDeliver, defaultMaxDeliver); got != defaultMaxDeliver {
		t.Fatalf("expected default for junk, got %d", got)
	}
}

func TestIsDurableSubject(t *testing.T) {
	cases := map[string]bool{
		SubjectClientConnect: true,
		SubjectClientClose:   true,
		SubjectUploadChunk:   false,
		SubjectFixInventory:  false,
	}
	for subject, expect := range cases {
		if got := isDurableSubject(subject); got != expect {
			t.Fatalf("subject %s expected durable=%v got=%v", subject, expect, got)
		}
	}
}

func TestDurableName(t *testing.T) {
	if durableName("", "") != "" {
		t.Fatalf("expected empty durable name")
	}
	if got := durableName("gridstore.session.>", ""); got != "dur_gridstore_session_GT" {
		t.Fatalf("unexpected durable %s", got)
	}
	if got := durableName("a.*", "q.1"); got != "dur_q_1__a_STAR" {
		t.Fatalf("unexpected durable %s", got)
	}
}

func TestLocalBusPublishAndWildcard(t *testing.T) {
	b := NewLocalBus()
	var exact, wild []string
	_ = b.Subscribe("gridstore.client.a.alert", "", func(m *Message) error {
		var body map[string]string
		if err := m.Decode(&body); err != nil {
			return err
		}
		exact = append(exact, body["message"])
		return nil
	})
	_ = b.Subscribe("gridstore.client.>", "", func(m *Message) error {
		wild = append(wild, m.Subject)
		return nil
	})
	if err := b.Publish("gridstore.client.a.alert", map[string]string{"message": "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(exact) != 1 || exact[0] != "hi" || len(wild) != 1 {
		t.Fatalf("unexpected deliveries exact=%v wild=%v", exact, wild)
	}
	if err := b.Subscribe("", "", func(*Message) error { return nil }); err == nil {
		t.Fatalf("expected empty subject error")
	}
}

func TestLocalBusRequest(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()
	if err := b.Request(ctx, "nobody", 1, nil); err == nil {
		t.Fatalf("expected no responders error")
	}
	_ = b.Subscribe("echo", "", func(m *Message) error {
		var n int
		if err := m.Decode(&n); err != nil {
			return err
		}
		return m.Respond(n * 2)
	})
	var out int
	if err := b.Request(ctx, "echo", 21, &out); err != nil || out != 42 {
		t.Fatalf("request: out=%d err=%v", out, err)
	}
	msg := &Message{Subject: "x"}
	if err := msg.Respond(1); err == nil {
		t.Fatalf("expected respond error without reply")
	}
	if err := (&Message{Subject: "x", Data: []byte("{")}).Decode(&out); err == nil {
		t.Fatalf("expected decode error")
	}
}

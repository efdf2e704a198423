package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/questline/internal/storage"
)

type memoryOutbox struct {
	messages map[string]*storage.OutboxMessage
}

func newMemoryOutbox(messages ...storage.OutboxMessage) *memoryOutbox {
	out := &memoryOutbox{messages: map[string]*storage.OutboxMessage{}}
	for i := range messages {
		m := messages[i]
		if m.Status == "" {
			m.Status = storage.OutboxPending
		}
		out.messages[m.ID] = &m
	}
	return out
}

func (m *memoryOutbox) DuePending(_ context.Context, now time.Time, limit int) ([]storage.OutboxMessage, error) {
	var due []storage.OutboxMessage
	for _, message := range m.messages {
		if message.Status == storage.OutboxPending && !message.NextAttemptAt.After(now) {
			due = append(due, *message)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (m *memoryOutbox) MarkDelivered(_ context.Context, id string) error {
	m.messages[id].Status = storage.OutboxDelivered
	return nil
}

func (m *memoryOutbox) MarkFailed(_ context.Context, id string, next time.Time, dead bool) error {
	message := m.messages[id]
	message.Attempts++
	message.NextAttemptAt = next
	if dead {
		message.Status = storage.OutboxDead
	}
	return nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func pendingMessage(id string) storage.OutboxMessage {
	return storage.OutboxMessage{
		ID:            id,
		Topic:         "world.vault_opened",
		Payload:       json.RawMessage(`{}`),
		NextAttemptAt: fixedNow(),
		CreatedAt:     fixedNow(),
	}
}

func TestDispatchOnceDelivers(t *testing.T) {
	outbox := newMemoryOutbox(pendingMessage("a"), pendingMessage("b"))
	var delivered []string
	d := &Dispatcher{
		Store: outbox,
		Handler: func(_ context.Context, message storage.OutboxMessage) error {
			delivered = append(delivered, message.ID)
			return nil
		},
		Now: fixedNow,
	}

	n, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if n != 2 || len(delivered) != 2 {
		t.Errorf("delivered %d messages (%v), want 2", n, delivered)
	}
	for _, id := range []string{"a", "b"} {
		if outbox.messages[id].Status != storage.OutboxDelivered {
			t.Errorf("message %s status = %s", id, outbox.messages[id].Status)
		}
	}
}

func TestDispatchRetriesWithBackoff(t *testing.T) {
	outbox := newMemoryOutbox(pendingMessage("a"))
	d := &Dispatcher{
		Store: outbox,
		Handler: func(context.Context, storage.OutboxMessage) error {
			return errors.New("downstream unavailable")
		},
		Backoff: time.Second,
		Now:     fixedNow,
	}

	if _, err := d.DispatchOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	message := outbox.messages["a"]
	if message.Status != storage.OutboxPending || message.Attempts != 1 {
		t.Errorf("after first failure: status=%s attempts=%d", message.Status, message.Attempts)
	}
	if !message.NextAttemptAt.Equal(fixedNow().Add(time.Second)) {
		t.Errorf("next attempt = %v, want +1s", message.NextAttemptAt)
	}

	// Not due yet at the same instant.
	n, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || message.Attempts != 1 {
		t.Errorf("retried before backoff elapsed: n=%d attempts=%d", n, message.Attempts)
	}
}

func TestDispatchDeadLettersAfterBudget(t *testing.T) {
	message := pendingMessage("a")
	message.Attempts = 2
	outbox := newMemoryOutbox(message)
	d := &Dispatcher{
		Store: outbox,
		Handler: func(context.Context, storage.OutboxMessage) error {
			return errors.New("still broken")
		},
		MaxAttempts: 3,
		Now:         fixedNow,
	}

	if _, err := d.DispatchOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if outbox.messages["a"].Status != storage.OutboxDead {
		t.Errorf("status = %s, want dead", outbox.messages["a"].Status)
	}
}

func TestGatewayBroadcast(t *testing.T) {
	gateway := NewGateway()
	defer gateway.Close()

	server := httptest.NewServer(gateway)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// Registration races the dial; give the server a beat.
	deadline := time.Now().Add(2 * time.Second)
	for {
		gateway.mu.Lock()
		n := len(gateway.clients)
		gateway.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := gateway.Broadcast(context.Background(), pendingMessage("a")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var got struct {
		ID    string `json:"id"`
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.ID != "a" || got.Topic != "world.vault_opened" {
		t.Errorf("unexpected frame %+v", got)
	}
}

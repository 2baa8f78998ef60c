package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rapidroute/cashbox/internal/logging"
)

func TestLoggerNotifierWritesWarning(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(logging.New(logging.Options{ServiceName: "cashbox-test", Output: &buf}))

	if err := n.Send(context.Background(), Message{Kind: KindLedgerMismatch, Destination: "finance", Body: "ledger mismatch"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "warn" || entry["kind"] != KindLedgerMismatch || entry["message"] != "ledger mismatch" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestRedisNotifierPublishes(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n := NewRedisNotifier(client, "")
	msg := Message{Kind: KindLedgerMismatch, Body: "2 mismatches", Details: []string{"a", "b"}, RaisedAt: time.Unix(0, 0).UTC()}
	if err := n.Send(ctx, msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-sub.Channel():
		var decoded Message
		if err := json.Unmarshal([]byte(got.Payload), &decoded); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if decoded.Body != msg.Body || len(decoded.Details) != 2 {
			t.Fatalf("unexpected message %+v", decoded)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for published alert")
	}
}

type failing struct{ calls *int }

func (f failing) Send(context.Context, Message) error {
	*f.calls++
	return errors.New("sink down")
}

func TestFanoutTriesEverySink(t *testing.T) {
	calls := 0
	var buf bytes.Buffer
	f := Fanout{failing{&calls}, nil, NewLoggerNotifier(logging.New(logging.Options{Output: &buf})), failing{&calls}}

	err := f.Send(context.Background(), Message{Body: "x"})
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected first sink error, got %v", err)
	}
	if calls != 2 || buf.Len() == 0 {
		t.Fatalf("expected every sink to be tried, calls=%d logged=%d", calls, buf.Len())
	}
}

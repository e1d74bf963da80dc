package realtime

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-health/portalsync/pkg/logger"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
	})

	return server
}

func connect(t *testing.T, server *natsserver.Server) *NATSChannel {
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return NewNATSChannel(nc, logger.Nop())
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	server := startTestNATSServer(t)
	ch := connect(t, server)

	received := make(chan ChangeEvent, 10)
	sub, err := ch.Subscribe("notifications", "user-1", func(ev ChangeEvent) {
		received <- ev
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	row, _ := json.Marshal(map[string]string{"id": "n-1", "title": "Lab results ready"})
	require.NoError(t, ch.Publish("notifications", "user-1", ChangeEvent{
		Table: "notifications",
		Type:  ChangeInsert,
		Row:   row,
	}))

	select {
	case ev := <-received:
		assert.Equal(t, "notifications", ev.Table)
		assert.Equal(t, ChangeInsert, ev.Type)
		assert.JSONEq(t, string(row), string(ev.Row))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSubscribeKeyIsolation(t *testing.T) {
	server := startTestNATSServer(t)
	ch := connect(t, server)

	received := make(chan ChangeEvent, 10)
	sub, err := ch.Subscribe("notifications", "user-1", func(ev ChangeEvent) {
		received <- ev
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	// Event for a different user must not be delivered
	require.NoError(t, ch.Publish("notifications", "user-2", ChangeEvent{
		Table: "notifications",
		Type:  ChangeInsert,
		Row:   json.RawMessage(`{"id":"other"}`),
	}))
	require.NoError(t, ch.Publish("notifications", "user-1", ChangeEvent{
		Table: "notifications",
		Type:  ChangeInsert,
		Row:   json.RawMessage(`{"id":"mine"}`),
	}))

	select {
	case ev := <-received:
		assert.JSONEq(t, `{"id":"mine"}`, string(ev.Row))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	select {
	case ev := <-received:
		t.Fatalf("unexpected extra event: %s", ev.Row)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribeOrdering(t *testing.T) {
	server := startTestNATSServer(t)
	ch := connect(t, server)

	received := make(chan string, 20)
	sub, err := ch.Subscribe("messages", "user-1", func(ev ChangeEvent) {
		var row struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(ev.Row, &row))
		received <- row.ID
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	ids := []string{"m-1", "m-2", "m-3", "m-4", "m-5"}
	for _, id := range ids {
		row, _ := json.Marshal(map[string]string{"id": id})
		require.NoError(t, ch.Publish("messages", "user-1", ChangeEvent{
			Table: "messages", Type: ChangeInsert, Row: row,
		}))
	}

	for _, want := range ids {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	server := startTestNATSServer(t)
	ch := connect(t, server)

	received := make(chan ChangeEvent, 10)
	sub, err := ch.Subscribe("notifications", "user-1", func(ev ChangeEvent) {
		received <- ev
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	// Second call is a no-op
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, ch.Publish("notifications", "user-1", ChangeEvent{
		Table: "notifications", Type: ChangeInsert, Row: json.RawMessage(`{"id":"late"}`),
	}))

	select {
	case ev := <-received:
		t.Fatalf("event delivered after unsubscribe: %s", ev.Row)
	case <-time.After(300 * time.Millisecond):
	}
}

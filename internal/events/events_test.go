package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("sink down") }

type counting struct{ n int }

func (c *counting) Publish(context.Context, Event) error { c.n++; return nil }

func TestKafkaPublisher_KeysByBet(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), Event{Type: TypeWagerPlaced, BetID: "bet-1", Amount: 100, At: at})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "bet-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, TypeWagerPlaced, string(msg.Headers[0].Value))

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, int64(100), got.Amount)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("no brokers")}}
	err := p.Publish(context.Background(), Event{Type: TypeBetResolved, BetID: "bet-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bet_resolved")
}

func TestMulti_PublishesToAllSinks(t *testing.T) {
	c := &counting{}
	m := Multi{failing{}, c, Nop{}}

	err := m.Publish(context.Background(), Event{Type: TypeBetCreated})
	assert.Error(t, err)
	assert.Equal(t, 1, c.n, "a failing sink must not stop the others")
}

func TestWSHub_BroadcastsToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, Event{Type: TypeWagerPlaced, BetID: "bet-1", TotalPool: 400}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, TypeWagerPlaced, got.Type)
	assert.Equal(t, int64(400), got.TotalPool)
}

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
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
		server.WaitForShutdown()
	})

	return server
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "docindex.documents.612e62.build_started", Subject("", "a.b", KindBuildStarted))
	assert.Equal(t, "acme.documents.78.deleted", Subject("acme", "x", KindDeleted))
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("docindex.documents.*.build_committed")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub := NewNATSPublisher(nc, "", nil)
	err = pub.Publish(context.Background(), Event{
		Kind:       KindBuildCommitted,
		DocumentID: "report 2024.pdf",
		Version:    3,
		ChunkCount: 42,
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, Subject("docindex", "report 2024.pdf", KindBuildCommitted), msg.Subject)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "report 2024.pdf", ev.DocumentID)
	assert.Equal(t, 3, ev.Version)
	assert.Equal(t, 42, ev.ChunkCount)

	// Borrowed connections stay open.
	require.NoError(t, pub.Close())
	assert.True(t, nc.IsConnected())
}

func TestNATSPublisher_Connect(t *testing.T) {
	server := startTestNATSServer(t)

	pub, err := Connect(server.ClientURL(), "custom", nil)
	require.NoError(t, err)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("custom.documents.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, pub.Publish(context.Background(), Event{Kind: KindDeleted, DocumentID: "d"}))
	require.NoError(t, pub.nc.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "custom.documents.64.deleted", msg.Subject)

	require.NoError(t, pub.Close())
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewNATSPublisher(nc, "", nil).Publish(ctx, Event{Kind: KindBuildStarted, DocumentID: "d"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Kind: KindBuildFailed}))
	assert.NoError(t, p.Close())
}

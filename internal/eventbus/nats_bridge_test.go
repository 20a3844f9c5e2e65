package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-physics/internal/logging"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	fail     bool
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("connection closed")
	}
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, data)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

func TestNATSBridgeForwardsFilteredEvents(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	pub := &recordingPublisher{}
	b, err := newBridge(context.Background(), bus, pub, NATSConfig{Types: []string{TypeObjectLanded}}, logging.NewNopLogger())
	require.NoError(t, err)
	defer b.Close()

	ev := landed(t, 9)
	ev.CorrelationID = "corr"
	require.NoError(t, bus.Publish(context.Background(), ev))

	spawned, err := NewEnvelope(TypeObjectSpawned, "sim", PriorityNormal, ObjectSpawned{ObjectID: 9})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), spawned))

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, pub.count(), "ObjectSpawned отфильтрован")

	pub.mu.Lock()
	subject, body := pub.subjects[0], pub.bodies[0]
	pub.mu.Unlock()
	assert.Equal(t, "physics.events.ObjectLanded", subject)

	var wire WireEvent
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, ev.ID, wire.ID)
	assert.Equal(t, "corr", wire.CorrelationID)

	var payload ObjectLanded
	require.NoError(t, json.Unmarshal(wire.Payload, &payload))
	assert.Equal(t, uint64(9), payload.ObjectID)
	assert.Equal(t, BridgeStats{Forwarded: 1}, b.Stats())
}

func TestNATSBridgeCountsFailures(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	pub := &recordingPublisher{fail: true}
	b, err := newBridge(context.Background(), bus, pub, NATSConfig{SubjectPrefix: "sim"}, logging.NewNopLogger())
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "sim.ChunkLoaded", b.Subject(TypeChunkLoaded))

	require.NoError(t, bus.Publish(context.Background(), landed(t, 1)))
	require.Eventually(t, func() bool { return b.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Stats().Forwarded)
}

// TestNATSBridgeLive требует живой NATS: NATS_URL=nats://localhost:4222
func TestNATSBridgeLive(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL не задан")
	}

	bus := NewMemoryBus(16)
	defer bus.Close()

	b, err := NewNATSBridge(context.Background(), bus, NATSConfig{URL: url, SubjectPrefix: "physics.test"}, logging.NewNopLogger())
	require.NoError(t, err)
	defer b.Close()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("physics.test.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, bus.Publish(context.Background(), landed(t, 3)))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "physics.test.ObjectLanded", msg.Subject)
}

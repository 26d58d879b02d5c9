package services

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviatgo/kiviatgo-backend/internal/models"
)

// serialConn records whether two WriteJSON calls ever overlapped.
// gorilla/websocket panics on concurrent writes, so any overlap here
// would crash the process in production.
type serialConn struct {
	writing int32
	overlap int32
	writes  int32
	closed  int32
	block   chan struct{}
}

func (c *serialConn) WriteJSON(v interface{}) error {
	if !atomic.CompareAndSwapInt32(&c.writing, 0, 1) {
		atomic.AddInt32(&c.overlap, 1)
	}
	if c.block != nil {
		<-c.block
	} else {
		time.Sleep(2 * time.Millisecond)
	}
	atomic.AddInt32(&c.writes, 1)
	atomic.StoreInt32(&c.writing, 0)
	return nil
}

func (c *serialConn) Close() error {
	atomic.AddInt32(&c.closed, 1)
	return nil
}

func TestPublishSerializesWritesPerConnection(t *testing.T) {
	hub := NewProfileHub()
	conn := &serialConn{}
	client := hub.Register("u1", conn)
	defer hub.Unregister(client)

	profile := &models.UserProfile{ID: "u1"}

	// Back-to-back snapshots, the shape a daily reset produces: the
	// initial publish followed immediately by the change-stream echo.
	client.Send(profile)
	hub.Publish("u1", profile)
	hub.Publish("u1", profile)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&conn.writes) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 0, atomic.LoadInt32(&conn.overlap))
}

func TestPublishSerializesAcrossConnections(t *testing.T) {
	hub := NewProfileHub()
	connA := &serialConn{}
	connB := &serialConn{}
	clientA := hub.Register("u1", connA)
	clientB := hub.Register("u1", connB)
	defer hub.Unregister(clientA)
	defer hub.Unregister(clientB)

	profile := &models.UserProfile{ID: "u1"}
	for i := 0; i < 5; i++ {
		hub.Publish("u1", profile)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&connA.writes) == 5 && atomic.LoadInt32(&connB.writes) == 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 0, atomic.LoadInt32(&connA.overlap))
	assert.EqualValues(t, 0, atomic.LoadInt32(&connB.overlap))
}

func TestSlowClientIsDroppedNotBlocked(t *testing.T) {
	hub := NewProfileHub()
	conn := &serialConn{block: make(chan struct{})}
	_ = hub.Register("u1", conn)

	profile := &models.UserProfile{ID: "u1"}

	// One write stuck in flight plus a full queue, then one more.
	// Publish must return promptly and the client gets closed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendBuffer+2; i++ {
			hub.Publish("u1", profile)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow client")
	}

	close(conn.block)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&conn.closed) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendAfterUnregisterIsNoOp(t *testing.T) {
	hub := NewProfileHub()
	conn := &serialConn{}
	client := hub.Register("u1", conn)
	hub.Unregister(client)

	// Must not panic on the closed queue.
	client.Send(&models.UserProfile{ID: "u1"})
	hub.Publish("u1", &models.UserProfile{ID: "u1"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&conn.closed) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&conn.writes))
}

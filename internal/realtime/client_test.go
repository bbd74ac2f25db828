package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDispatchViewer(hub *Hub, r *Registry) *Client {
	return &Client{
		ID:       "conn-v",
		UserID:   uuid.New(),
		Role:     "student",
		Name:     "Alice",
		hub:      hub,
		registry: r,
		send:     make(chan WSMessage, 8),
		logger:   zap.NewNop(),
	}
}

func TestDispatch_LeaveStreamEmptyPayload(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zap.NewNop(), nil, nil)
	r := NewRegistry(hub, &fakePersister{}, fakeTickets{}, 0, nil)
	req.NoError(r.Start(context.Background(), "k1", "conn-host", uuid.New(), uuid.New(), uuid.New(), "Teacher"))

	viewer := newDispatchViewer(hub, r)
	hub.Join(StreamRoom("k1"), viewer)
	req.NoError(r.Join(context.Background(), "k1", viewer.ID, viewer.UserID, viewer.Name, "ok"))
	req.Equal(1, r.ViewerCount("k1"))

	// the session is resolved from the connection binding, no stream_key needed
	viewer.dispatch(WSMessage{Event: "leave-stream", Data: json.RawMessage(`{}`)})

	req.Equal(0, r.ViewerCount("k1"))
	req.Equal(0, hub.Count(StreamRoom("k1")))
}

func TestDispatch_LeaveStreamExplicitKey(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zap.NewNop(), nil, nil)
	r := NewRegistry(hub, &fakePersister{}, fakeTickets{}, 0, nil)
	req.NoError(r.Start(context.Background(), "k1", "conn-host", uuid.New(), uuid.New(), uuid.New(), "Teacher"))

	viewer := newDispatchViewer(hub, r)
	hub.Join(StreamRoom("k1"), viewer)
	req.NoError(r.Join(context.Background(), "k1", viewer.ID, viewer.UserID, viewer.Name, "ok"))

	viewer.dispatch(WSMessage{Event: "leave-stream", Data: json.RawMessage(`{"stream_key":"k1"}`)})

	req.Equal(0, r.ViewerCount("k1"))
	req.True(r.IsLive("k1"))
}

func TestDispatch_LeaveStreamNotJoinedNoOp(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zap.NewNop(), nil, nil)
	r := NewRegistry(hub, &fakePersister{}, fakeTickets{}, 0, nil)
	req.NoError(r.Start(context.Background(), "k1", "conn-host", uuid.New(), uuid.New(), uuid.New(), "Teacher"))

	viewer := newDispatchViewer(hub, r)
	viewer.dispatch(WSMessage{Event: "leave-stream"}) // must not panic
	req.Equal(0, r.ViewerCount("k1"))
}

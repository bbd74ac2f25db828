package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(id string) *Client {
	return &Client{ID: id, send: make(chan WSMessage, 8)}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubBroadcastReachesRoomOnly(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zap.NewNop(), nil, nil)
	a, b, outsider := newTestClient("a"), newTestClient("b"), newTestClient("c")
	hub.Join("stream:k1", a)
	hub.Join("stream:k1", b)
	hub.Join("stream:other", outsider)

	hub.Broadcast("stream:k1", "chat-message", map[string]string{"message": "hi"})

	req.Len(drain(a), 1)
	req.Len(drain(b), 1)
	req.Empty(drain(outsider))
}

func TestHubSendToSingleClient(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zap.NewNop(), nil, nil)
	a, b := newTestClient("a"), newTestClient("b")
	hub.Join("stream:k1", a)
	hub.Join("stream:k1", b)

	hub.SendTo("stream:k1", "b", "new-viewer", map[string]int{"count": 1})

	req.Empty(drain(a))
	msgs := drain(b)
	req.Len(msgs, 1)
	req.Equal("new-viewer", msgs[0].Event)

	var payload struct {
		Count int `json:"count"`
	}
	req.NoError(json.Unmarshal(msgs[0].Data, &payload))
	req.Equal(1, payload.Count)
}

func TestHubClientInMultipleRooms(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zap.NewNop(), nil, nil)
	a := newTestClient("a")
	hub.Join("course:c1", a)
	hub.Join("stream:k1", a)

	hub.Broadcast("course:c1", "stream-started", struct{}{})
	hub.Broadcast("stream:k1", "viewer-count-updated", struct{}{})
	req.Len(drain(a), 2)

	hub.LeaveAll(a)
	req.Equal(0, hub.Count("course:c1"))
	req.Equal(0, hub.Count("stream:k1"))

	hub.Broadcast("stream:k1", "viewer-count-updated", struct{}{})
	req.Empty(drain(a))
}

func TestHubLeaveLastClientDropsRoom(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zap.NewNop(), nil, nil)
	a := newTestClient("a")
	hub.Join("stream:k1", a)
	req.Equal(1, hub.Count("stream:k1"))
	hub.Leave("stream:k1", a)
	req.Equal(0, hub.Count("stream:k1"))
}

package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type broadcastCall struct {
	Room    string
	Event   string
	Payload interface{}
}

type sendToCall struct {
	Room    string
	ConnID  string
	Event   string
	Payload interface{}
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	broadcasts []broadcastCall
	sends      []sendToCall
}

func (f *fakeBroadcaster) Broadcast(room, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcastCall{room, event, payload})
}

func (f *fakeBroadcaster) SendTo(room, connID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendToCall{room, connID, event, payload})
}

func (f *fakeBroadcaster) events(event string) []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastCall
	for _, b := range f.broadcasts {
		if b.Event == event {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeBroadcaster) sendsFor(event string) []sendToCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sendToCall
	for _, s := range f.sends {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

type liveCall struct {
	ClassID uuid.UUID
	Live    bool
	Peak    int
}

type fakePersister struct {
	mu        sync.Mutex
	liveCalls []liveCall
	chats     []string
}

func (f *fakePersister) SetLive(_ context.Context, classID uuid.UUID, live bool, peak int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCalls = append(f.liveCalls, liveCall{classID, live, peak})
	return nil
}

func (f *fakePersister) AppendChat(_ context.Context, _, _ uuid.UUID, _, message string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, message)
	return nil
}

func (f *fakePersister) UpdateViewerCount(context.Context, uuid.UUID, int) error { return nil }

func (f *fakePersister) setLiveCalls() []liveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]liveCall(nil), f.liveCalls...)
}

// fakeTickets accepts any ticket equal to "ok".
type fakeTickets struct{}

func (fakeTickets) Mint(context.Context, string, uuid.UUID) (string, error) { return "ok", nil }

func (fakeTickets) Consume(_ context.Context, _ string, _ uuid.UUID, ticket string) error {
	if ticket != "ok" {
		return ErrInvalidTicket
	}
	return nil
}

func newTestRegistry(grace time.Duration) (*Registry, *fakeBroadcaster, *fakePersister) {
	b := &fakeBroadcaster{}
	p := &fakePersister{}
	return NewRegistry(b, p, fakeTickets{}, grace, nil), b, p
}

func startStream(t *testing.T, r *Registry, key string) (hostConn string, hostID, courseID, classID uuid.UUID) {
	t.Helper()
	hostConn = "conn-host"
	hostID, courseID, classID = uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, r.Start(context.Background(), key, hostConn, hostID, courseID, classID, "Teacher"))
	return
}

func TestStart_AnnouncesToCourseRoom(t *testing.T) {
	req := require.New(t)
	r, b, p := newTestRegistry(0)

	_, _, courseID, classID := startStream(t, r, "k1")

	started := b.events("stream-started")
	req.Len(started, 1)
	req.Equal(CourseRoom(courseID), started[0].Room)
	ev := started[0].Payload.(StreamStartedEvent)
	req.Equal("k1", ev.StreamKey)
	req.Equal(classID, ev.ClassID)

	calls := p.setLiveCalls()
	req.Len(calls, 1)
	req.True(calls[0].Live)
	req.True(r.IsLive("k1"))
}

func TestStart_DuplicateByOtherHostRejected(t *testing.T) {
	req := require.New(t)
	r, _, _ := newTestRegistry(0)

	startStream(t, r, "k1")
	err := r.Start(context.Background(), "k1", "conn-other", uuid.New(), uuid.New(), uuid.New(), "Imposter")
	req.ErrorIs(err, ErrAlreadyLive)
}

func TestStart_SameHostRebindsPreservingViewers(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)

	_, hostID, courseID, classID := startStream(t, r, "k1")
	viewer := uuid.New()
	req.NoError(r.Join(context.Background(), "k1", "conn-v1", viewer, "Alice", "ok"))
	req.Equal(1, r.ViewerCount("k1"))

	// host refresh: same user, new connection
	req.NoError(r.Start(context.Background(), "k1", "conn-host2", hostID, courseID, classID, "Teacher"))
	req.Equal(1, r.ViewerCount("k1"))
	req.True(r.IsLive("k1"))
	// no second announcement, the session continued
	req.Len(b.events("stream-started"), 1)
}

func TestJoin_DistinctViewersCounted(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)
	startStream(t, r, "k1")

	for i := 0; i < 3; i++ {
		req.NoError(r.Join(context.Background(), "k1", uuid.New().String(), uuid.New(), "viewer", "ok"))
	}
	req.Equal(3, r.ViewerCount("k1"))

	updates := b.events("viewer-count-updated")
	req.Len(updates, 3)
	req.Equal(3, updates[2].Payload.(ViewerCountEvent).Count)

	// host learns about every viewer individually
	req.Len(b.sendsFor("new-viewer"), 3)
}

func TestJoin_SameUserTwiceNotDoubleCounted(t *testing.T) {
	req := require.New(t)
	r, _, _ := newTestRegistry(0)
	startStream(t, r, "k1")

	viewer := uuid.New()
	req.NoError(r.Join(context.Background(), "k1", "conn-a", viewer, "Alice", "ok"))
	req.NoError(r.Join(context.Background(), "k1", "conn-b", viewer, "Alice", "ok"))
	req.Equal(1, r.ViewerCount("k1"))

	// routing follows the latest connection
	key, ok := r.StreamKeyForConn("conn-b")
	req.True(ok)
	req.Equal("k1", key)
	_, ok = r.StreamKeyForConn("conn-a")
	req.False(ok)
}

func TestJoin_UnknownStreamNoBroadcast(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)

	err := r.Join(context.Background(), "nope", "conn-v", uuid.New(), "Alice", "ok")
	req.ErrorIs(err, ErrStreamNotFound)
	req.Empty(b.events("viewer-count-updated"))
}

// countingTickets records every consume attempt, accepting only "ok".
type countingTickets struct {
	mu       sync.Mutex
	consumed int
}

func (c *countingTickets) Mint(context.Context, string, uuid.UUID) (string, error) { return "ok", nil }

func (c *countingTickets) Consume(_ context.Context, _ string, _ uuid.UUID, ticket string) error {
	c.mu.Lock()
	c.consumed++
	c.mu.Unlock()
	if ticket != "ok" {
		return ErrInvalidTicket
	}
	return nil
}

func TestJoin_UnknownStreamDoesNotBurnTicket(t *testing.T) {
	req := require.New(t)
	tickets := &countingTickets{}
	r := NewRegistry(&fakeBroadcaster{}, &fakePersister{}, tickets, 0, nil)

	// a single-use ticket must survive a join against a key that never started
	err := r.Join(context.Background(), "never-started", "conn-v", uuid.New(), "Alice", "ok")
	req.ErrorIs(err, ErrStreamNotFound)
	req.Equal(0, tickets.consumed)

	req.NoError(r.Start(context.Background(), "k1", "conn-host", uuid.New(), uuid.New(), uuid.New(), "Teacher"))
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))
	req.Equal(1, tickets.consumed)
}

func TestJoin_BadTicketRejected(t *testing.T) {
	req := require.New(t)
	r, _, _ := newTestRegistry(0)
	startStream(t, r, "k1")

	err := r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "forged")
	req.ErrorIs(err, ErrInvalidTicket)
	req.Equal(0, r.ViewerCount("k1"))
}

func TestRelay_OfferOnlyFromHost(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)
	hostConn, _, _, _ := startStream(t, r, "k1")
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))

	req.NoError(r.Relay(RelayOffer, "k1", hostConn, "conn-v", map[string]string{"sdp": "x"}))
	sends := b.sendsFor("offer")
	req.Len(sends, 1)
	req.Equal("conn-v", sends[0].ConnID)
	req.Equal(hostConn, sends[0].Payload.(SignalEvent).From)

	err := r.Relay(RelayOffer, "k1", "conn-v", hostConn, map[string]string{"sdp": "x"})
	req.ErrorIs(err, ErrNotHost)
}

func TestRelay_TargetMustBeParticipant(t *testing.T) {
	req := require.New(t)
	r, _, _ := newTestRegistry(0)
	hostConn, _, _, _ := startStream(t, r, "k1")

	err := r.Relay(RelayOffer, "k1", hostConn, "conn-stranger", nil)
	req.ErrorIs(err, ErrUnknownTarget)
}

func TestRelay_NonParticipantRejected(t *testing.T) {
	req := require.New(t)
	r, _, _ := newTestRegistry(0)
	startStream(t, r, "k1")

	err := r.Relay(RelayICECandidate, "k1", "conn-stranger", "", nil)
	req.ErrorIs(err, ErrNotParticipant)
}

func TestChat_BroadcastToWholeGroup(t *testing.T) {
	req := require.New(t)
	r, b, p := newTestRegistry(0)
	hostConn, hostID, _, _ := startStream(t, r, "k1")
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))

	req.NoError(r.ChatMessage("k1", hostConn, "hello everyone"))

	msgs := b.events("chat-message")
	req.Len(msgs, 1)
	req.Equal(StreamRoom("k1"), msgs[0].Room)
	ev := msgs[0].Payload.(ChatEvent)
	req.Equal(hostID, ev.SenderID)
	req.Equal("hello everyone", ev.Message)

	req.Eventually(func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.chats) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestChat_MissingSessionIsSafe(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)

	err := r.ChatMessage("gone", "conn-x", "anyone here?")
	req.ErrorIs(err, ErrStreamNotFound)
	req.Empty(b.events("chat-message"))
}

func TestLeave_UpdatesCountAndNotifiesHost(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)
	hostConn, _, _, _ := startStream(t, r, "k1")
	v1, v2 := uuid.New(), uuid.New()
	req.NoError(r.Join(context.Background(), "k1", "conn-v1", v1, "Alice", "ok"))
	req.NoError(r.Join(context.Background(), "k1", "conn-v2", v2, "Bob", "ok"))
	req.Equal(2, r.ViewerCount("k1"))

	r.Leave("k1", v1)
	req.Equal(1, r.ViewerCount("k1"))

	updates := b.events("viewer-count-updated")
	req.Equal(1, updates[len(updates)-1].Payload.(ViewerCountEvent).Count)

	left := b.sendsFor("viewer-left")
	req.Len(left, 1)
	req.Equal(hostConn, left[0].ConnID)
	req.Equal("conn-v1", left[0].Payload.(ViewerLeftEvent).ConnectionID)
}

func TestLeave_UnknownViewerNoOp(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)
	startStream(t, r, "k1")

	before := len(b.events("viewer-count-updated"))
	r.Leave("k1", uuid.New())
	req.Len(b.events("viewer-count-updated"), before)
}

func TestStop_EndsSessionOnce(t *testing.T) {
	req := require.New(t)
	r, b, p := newTestRegistry(0)
	hostConn, _, _, classID := startStream(t, r, "k1")
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))

	req.NoError(r.Stop(context.Background(), "k1", hostConn))
	req.False(r.IsLive("k1"))
	req.Len(b.events("stream-ended"), 1)

	// no resurrection: a late join must fail without announcing anything
	countBefore := len(b.events("viewer-count-updated"))
	err := r.Join(context.Background(), "k1", "conn-late", uuid.New(), "Late", "ok")
	req.ErrorIs(err, ErrStreamNotFound)
	req.Len(b.events("viewer-count-updated"), countBefore)

	calls := p.setLiveCalls()
	req.Len(calls, 2)
	req.False(calls[1].Live)
	req.Equal(classID, calls[1].ClassID)
	req.Equal(1, calls[1].Peak)
}

func TestStop_OnlyHostMayStop(t *testing.T) {
	req := require.New(t)
	r, _, _ := newTestRegistry(0)
	startStream(t, r, "k1")
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))

	err := r.Stop(context.Background(), "k1", "conn-v")
	req.ErrorIs(err, ErrNotHost)
	req.True(r.IsLive("k1"))
}

func TestDisconnect_HostWithoutGraceEndsImmediately(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)
	hostConn, _, _, _ := startStream(t, r, "k1")
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))

	r.Disconnect(hostConn)
	req.False(r.IsLive("k1"))
	req.Len(b.events("stream-ended"), 1)
}

func TestDisconnect_HostGraceAllowsReconnect(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(200 * time.Millisecond)
	hostConn, hostID, courseID, classID := startStream(t, r, "k1")
	viewer := uuid.New()
	req.NoError(r.Join(context.Background(), "k1", "conn-v", viewer, "Alice", "ok"))

	r.Disconnect(hostConn)
	req.True(r.IsLive("k1"))
	req.Empty(b.events("stream-ended"))

	// host comes back within the window
	req.NoError(r.Start(context.Background(), "k1", "conn-host2", hostID, courseID, classID, "Teacher"))
	req.Equal(1, r.ViewerCount("k1"))

	time.Sleep(350 * time.Millisecond)
	req.True(r.IsLive("k1"))
	req.Empty(b.events("stream-ended"))
}

func TestDisconnect_HostGraceExpiryEndsOnce(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(50 * time.Millisecond)
	hostConn, _, _, _ := startStream(t, r, "k1")
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))

	r.Disconnect(hostConn)
	req.Eventually(func() bool { return !r.IsLive("k1") }, time.Second, 10*time.Millisecond)
	req.Len(b.events("stream-ended"), 1)
}

func TestDisconnect_ViewerBehavesLikeLeave(t *testing.T) {
	req := require.New(t)
	r, b, _ := newTestRegistry(0)
	startStream(t, r, "k1")
	req.NoError(r.Join(context.Background(), "k1", "conn-v", uuid.New(), "Alice", "ok"))

	r.Disconnect("conn-v")
	req.Equal(0, r.ViewerCount("k1"))
	req.True(r.IsLive("k1"))
	updates := b.events("viewer-count-updated")
	req.Equal(0, updates[len(updates)-1].Payload.(ViewerCountEvent).Count)
}

func TestDisconnect_UnknownConnectionNoOp(t *testing.T) {
	r, _, _ := newTestRegistry(0)
	r.Disconnect("never-seen") // must not panic
}

func TestConcurrentJoinLeave(t *testing.T) {
	req := require.New(t)
	r, _, _ := newTestRegistry(0)
	startStream(t, r, "k1")

	const n = 20
	viewers := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		viewers[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Join(context.Background(), "k1", uuid.New().String(), viewers[i], "v", "ok")
		}(i)
	}
	wg.Wait()
	req.Equal(n, r.ViewerCount("k1"))

	for i := 0; i < n/2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Leave("k1", viewers[i])
		}(i)
	}
	wg.Wait()
	req.Equal(n/2, r.ViewerCount("k1"))
}

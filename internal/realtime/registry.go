package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry errors reported back to the originating connection only.
var (
	ErrStreamNotFound = errors.New("stream not found")
	ErrAlreadyLive    = errors.New("stream already live")
	ErrNotHost        = errors.New("only the host may do that")
	ErrNotParticipant = errors.New("not a participant of this stream")
	ErrUnknownTarget  = errors.New("unknown relay target")
	ErrInvalidTicket  = errors.New("invalid or expired join ticket")
)

// RelayKind is the category of a forwarded signaling message.
type RelayKind string

const (
	RelayOffer        RelayKind = "offer"
	RelayAnswer       RelayKind = "answer"
	RelayICECandidate RelayKind = "ice-candidate"
)

// Broadcaster delivers events to connections. Implemented by Hub.
type Broadcaster interface {
	Broadcast(room, event string, payload interface{})
	SendTo(room, connectionID, event string, payload interface{})
}

// Persister mirrors registry transitions into the course store.
// The registry is the single authority for the is_live flag; REST start/stop
// goes through the registry, never directly to the store.
type Persister interface {
	SetLive(ctx context.Context, liveClassID uuid.UUID, live bool, peakViewers int) error
	AppendChat(ctx context.Context, liveClassID, userID uuid.UUID, userName, message string, at time.Time) error
	UpdateViewerCount(ctx context.Context, liveClassID uuid.UUID, current int) error
}

// TicketStore verifies short-lived join tickets minted by the REST layer after
// its enrollment/ownership check.
type TicketStore interface {
	Mint(ctx context.Context, streamKey string, userID uuid.UUID) (string, error)
	Consume(ctx context.Context, streamKey string, userID uuid.UUID, ticket string) error
}

type viewerInfo struct {
	ConnID   string
	Name     string
	JoinedAt time.Time
}

// session is one live broadcasting instance. All mutation goes through its mutex
// so concurrent join/leave on the same stream cannot lose count updates.
type session struct {
	mu          sync.Mutex
	key         string
	courseID    uuid.UUID
	liveClassID uuid.UUID
	hostConnID  string // empty while the host is within its disconnect grace window
	hostUserID  uuid.UUID
	hostName    string
	viewers     map[uuid.UUID]viewerInfo
	peak        int
	graceTimer  *time.Timer
	ended       bool
}

// Registry tracks active live-class sessions and mediates control, signaling
// and chat relay between one host and its viewers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	byConn   map[string]string // connection id -> stream key

	broadcaster Broadcaster
	persister   Persister
	tickets     TicketStore
	hostGrace   time.Duration
	logger      *zap.Logger
}

// NewRegistry creates a stream registry. hostGrace is how long a session
// survives a host disconnect before teardown; zero means immediate.
func NewRegistry(b Broadcaster, p Persister, t TicketStore, hostGrace time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:    make(map[string]*session),
		byConn:      make(map[string]string),
		broadcaster: b,
		persister:   p,
		tickets:     t,
		hostGrace:   hostGrace,
		logger:      logger,
	}
}

// StreamRoom returns the broadcast group name for a stream key.
func StreamRoom(streamKey string) string { return "stream:" + streamKey }

// CourseRoom returns the course-wide update channel name.
func CourseRoom(courseID uuid.UUID) string { return "course:" + courseID.String() }

// StreamStartedEvent is broadcast to the course room when a host goes live.
type StreamStartedEvent struct {
	StreamKey string    `json:"stream_key"`
	ClassID   uuid.UUID `json:"class_id"`
	CourseID  uuid.UUID `json:"course_id"`
}

// ViewerCountEvent carries the current distinct-viewer count.
type ViewerCountEvent struct {
	Count int `json:"count"`
}

// NewViewerEvent is sent to the host only, so it can open a peer connection
// to exactly that viewer.
type NewViewerEvent struct {
	Name         string `json:"name"`
	Count        int    `json:"count"`
	ConnectionID string `json:"connection_id"`
}

// ViewerLeftEvent is sent to the host only, so it can tear down the matching
// peer connection.
type ViewerLeftEvent struct {
	ConnectionID string `json:"connection_id"`
	Count        int    `json:"count"`
}

// ChatEvent is broadcast to the whole group, sender included.
type ChatEvent struct {
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// SignalEvent wraps a relayed offer/answer/ICE payload with the sender's
// connection id so the receiver can address its reply.
type SignalEvent struct {
	From string      `json:"from"`
	Data interface{} `json:"data"`
}

// Start registers a live session for streamKey. A duplicate start is rejected
// unless it comes from the same host user, in which case the host connection is
// re-bound and existing viewers are preserved (covers host page refresh).
func (r *Registry) Start(ctx context.Context, streamKey, hostConnID string, hostUserID, courseID, liveClassID uuid.UUID, hostName string) error {
	r.mu.Lock()
	s, exists := r.sessions[streamKey]
	if exists && !s.isEnded() {
		if s.hostUserID != hostUserID {
			r.mu.Unlock()
			return ErrAlreadyLive
		}
		s.mu.Lock()
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
		if s.hostConnID != "" {
			delete(r.byConn, s.hostConnID)
		}
		s.hostConnID = hostConnID
		s.mu.Unlock()
		r.byConn[hostConnID] = streamKey
		r.mu.Unlock()
		r.logger.Info("host reconnected to stream", zap.String("stream_key", streamKey))
		return nil
	}
	s = &session{
		key:         streamKey,
		courseID:    courseID,
		liveClassID: liveClassID,
		hostConnID:  hostConnID,
		hostUserID:  hostUserID,
		hostName:    hostName,
		viewers:     make(map[uuid.UUID]viewerInfo),
	}
	r.sessions[streamKey] = s
	r.byConn[hostConnID] = streamKey
	r.mu.Unlock()

	if err := r.persister.SetLive(ctx, liveClassID, true, 0); err != nil {
		r.logger.Warn("mark class live failed", zap.Error(err), zap.String("stream_key", streamKey))
	}
	r.broadcaster.Broadcast(CourseRoom(courseID), "stream-started", StreamStartedEvent{
		StreamKey: streamKey,
		ClassID:   liveClassID,
		CourseID:  courseID,
	})
	r.logger.Info("stream started", zap.String("stream_key", streamKey), zap.String("host", hostUserID.String()))
	return nil
}

// Join adds a viewer to the session after consuming its join ticket. The
// session must exist before the ticket is touched, so joining an unknown key
// reports the missing stream and does not burn the single-use ticket.
// Duplicate joins by the same user are idempotent for the set but still
// re-broadcast the count.
func (r *Registry) Join(ctx context.Context, streamKey, viewerConnID string, viewerUserID uuid.UUID, viewerName, ticket string) error {
	r.mu.RLock()
	s, ok := r.sessions[streamKey]
	r.mu.RUnlock()
	if !ok || s.isEnded() {
		return ErrStreamNotFound
	}
	if r.tickets != nil {
		if err := r.tickets.Consume(ctx, streamKey, viewerUserID, ticket); err != nil {
			return ErrInvalidTicket
		}
	}
	// the stream may have ended while the ticket was being consumed
	r.mu.Lock()
	s, ok = r.sessions[streamKey]
	if !ok || s.isEnded() {
		r.mu.Unlock()
		return ErrStreamNotFound
	}
	r.byConn[viewerConnID] = streamKey
	r.mu.Unlock()

	s.mu.Lock()
	staleConn := ""
	if prev, dup := s.viewers[viewerUserID]; dup && prev.ConnID != viewerConnID {
		staleConn = prev.ConnID
	}
	s.viewers[viewerUserID] = viewerInfo{ConnID: viewerConnID, Name: viewerName, JoinedAt: time.Now()}
	count := len(s.viewers)
	if count > s.peak {
		s.peak = count
	}
	hostConn := s.hostConnID
	classID := s.liveClassID
	s.mu.Unlock()

	if staleConn != "" {
		// stale connection from an earlier join; forget its routing entry
		r.mu.Lock()
		delete(r.byConn, staleConn)
		r.mu.Unlock()
	}

	r.broadcaster.Broadcast(StreamRoom(streamKey), "viewer-count-updated", ViewerCountEvent{Count: count})
	if hostConn != "" {
		r.broadcaster.SendTo(StreamRoom(streamKey), hostConn, "new-viewer", NewViewerEvent{
			Name:         viewerName,
			Count:        count,
			ConnectionID: viewerConnID,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.persister.UpdateViewerCount(ctx, classID, count); err != nil {
			r.logger.Warn("viewer count persist failed", zap.Error(err), zap.String("stream_key", streamKey))
		}
	}()
	return nil
}

// Relay forwards a signaling message. Offers may only come from the host.
// A target connection id, when present, must belong to the session.
func (r *Registry) Relay(kind RelayKind, streamKey, senderConnID, targetConnID string, payload interface{}) error {
	r.mu.RLock()
	s, ok := r.sessions[streamKey]
	r.mu.RUnlock()
	if !ok || s.isEnded() {
		return ErrStreamNotFound
	}

	s.mu.Lock()
	isHost := senderConnID == s.hostConnID
	isParticipant := isHost
	if !isParticipant {
		for _, v := range s.viewers {
			if v.ConnID == senderConnID {
				isParticipant = true
				break
			}
		}
	}
	targetOK := targetConnID == "" || targetConnID == s.hostConnID
	if !targetOK {
		for _, v := range s.viewers {
			if v.ConnID == targetConnID {
				targetOK = true
				break
			}
		}
	}
	s.mu.Unlock()

	if !isParticipant {
		return ErrNotParticipant
	}
	if kind == RelayOffer && !isHost {
		return ErrNotHost
	}
	if !targetOK {
		return ErrUnknownTarget
	}

	event := string(kind)
	signal := SignalEvent{From: senderConnID, Data: payload}
	if targetConnID != "" {
		r.broadcaster.SendTo(StreamRoom(streamKey), targetConnID, event, signal)
		return nil
	}
	r.broadcaster.Broadcast(StreamRoom(streamKey), event, signal)
	return nil
}

// ChatMessage broadcasts a chat line to the whole group (sender included) and
// appends it to the live-class record without blocking delivery.
func (r *Registry) ChatMessage(streamKey, senderConnID, text string) error {
	r.mu.RLock()
	s, ok := r.sessions[streamKey]
	r.mu.RUnlock()
	if !ok || s.isEnded() {
		return ErrStreamNotFound
	}

	s.mu.Lock()
	var senderID uuid.UUID
	var senderName string
	found := false
	if senderConnID == s.hostConnID {
		senderID, senderName, found = s.hostUserID, s.hostName, true
	} else {
		for id, v := range s.viewers {
			if v.ConnID == senderConnID {
				senderID, senderName, found = id, v.Name, true
				break
			}
		}
	}
	classID := s.liveClassID
	s.mu.Unlock()

	if !found {
		return ErrNotParticipant
	}

	now := time.Now()
	r.broadcaster.Broadcast(StreamRoom(streamKey), "chat-message", ChatEvent{
		SenderID:   senderID,
		SenderName: senderName,
		Message:    text,
		Timestamp:  now,
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.persister.AppendChat(ctx, classID, senderID, senderName, text, now); err != nil {
			r.logger.Warn("chat persist failed", zap.Error(err), zap.String("stream_key", streamKey))
		}
	}()
	return nil
}

// Leave removes a viewer from the session. A no-op for unknown users.
func (r *Registry) Leave(streamKey string, viewerUserID uuid.UUID) {
	r.mu.RLock()
	s, ok := r.sessions[streamKey]
	r.mu.RUnlock()
	if !ok || s.isEnded() {
		return
	}

	s.mu.Lock()
	v, present := s.viewers[viewerUserID]
	if present {
		delete(s.viewers, viewerUserID)
	}
	count := len(s.viewers)
	hostConn := s.hostConnID
	classID := s.liveClassID
	s.mu.Unlock()

	if !present {
		return
	}
	r.mu.Lock()
	delete(r.byConn, v.ConnID)
	r.mu.Unlock()

	r.broadcaster.Broadcast(StreamRoom(streamKey), "viewer-count-updated", ViewerCountEvent{Count: count})
	if hostConn != "" {
		r.broadcaster.SendTo(StreamRoom(streamKey), hostConn, "viewer-left", ViewerLeftEvent{
			ConnectionID: v.ConnID,
			Count:        count,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.persister.UpdateViewerCount(ctx, classID, count); err != nil {
			r.logger.Warn("viewer count persist failed", zap.Error(err), zap.String("stream_key", streamKey))
		}
	}()
}

// Stop ends a session. Only the host connection may stop it explicitly.
func (r *Registry) Stop(ctx context.Context, streamKey, requesterConnID string) error {
	r.mu.RLock()
	s, ok := r.sessions[streamKey]
	r.mu.RUnlock()
	if !ok || s.isEnded() {
		return ErrStreamNotFound
	}
	s.mu.Lock()
	isHost := requesterConnID == "" || requesterConnID == s.hostConnID
	s.mu.Unlock()
	if !isHost {
		return ErrNotHost
	}
	r.endSession(ctx, s)
	return nil
}

// Disconnect handles a transport-level drop. Host disconnects start the grace
// timer; viewer disconnects behave like Leave; unknown connections are no-ops.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	streamKey, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, connID)
	s, ok := r.sessions[streamKey]
	r.mu.Unlock()
	if !ok || s.isEnded() {
		return
	}

	s.mu.Lock()
	if connID == s.hostConnID {
		s.hostConnID = ""
		if r.hostGrace <= 0 {
			s.mu.Unlock()
			r.endSession(context.Background(), s)
			return
		}
		s.graceTimer = time.AfterFunc(r.hostGrace, func() {
			s.mu.Lock()
			stillGone := s.hostConnID == "" && !s.ended
			s.mu.Unlock()
			if stillGone {
				r.logger.Info("host grace expired, ending stream", zap.String("stream_key", s.key))
				r.endSession(context.Background(), s)
			}
		})
		s.mu.Unlock()
		r.logger.Info("host disconnected, grace window started",
			zap.String("stream_key", streamKey), zap.Duration("grace", r.hostGrace))
		return
	}
	var viewerID uuid.UUID
	found := false
	for id, v := range s.viewers {
		if v.ConnID == connID {
			viewerID, found = id, true
			break
		}
	}
	s.mu.Unlock()
	if found {
		r.Leave(streamKey, viewerID)
	}
}

// ViewerCount returns the current distinct-viewer count, or 0 for unknown keys.
func (r *Registry) ViewerCount(streamKey string) int {
	r.mu.RLock()
	s, ok := r.sessions[streamKey]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// IsLive reports whether streamKey has an active session.
func (r *Registry) IsLive(streamKey string) bool {
	r.mu.RLock()
	s, ok := r.sessions[streamKey]
	r.mu.RUnlock()
	return ok && !s.isEnded()
}

// StreamKeyForConn returns the stream a connection participates in, if any.
func (r *Registry) StreamKeyForConn(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byConn[connID]
	return key, ok
}

func (r *Registry) endSession(ctx context.Context, s *session) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	hostConn := s.hostConnID
	viewers := s.viewers
	s.viewers = make(map[uuid.UUID]viewerInfo)
	peak := s.peak
	classID := s.liveClassID
	key := s.key
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, key)
	if hostConn != "" {
		delete(r.byConn, hostConn)
	}
	for _, v := range viewers {
		delete(r.byConn, v.ConnID)
	}
	r.mu.Unlock()

	r.broadcaster.Broadcast(StreamRoom(key), "stream-ended", struct{}{})
	if err := r.persister.SetLive(ctx, classID, false, peak); err != nil {
		r.logger.Warn("mark class ended failed", zap.Error(err), zap.String("stream_key", key))
	}
	r.logger.Info("stream ended", zap.String("stream_key", key), zap.Int("peak_viewers", peak))
}

func (s *session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

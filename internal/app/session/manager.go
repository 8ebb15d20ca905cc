/*
Package session implements the per-connection room session: the state machine that creates,
joins and leaves rooms, keeps the local view of the room and its participants, and applies
local and remote document changes.

Concurrent edits are not merged. Every remote document change replaces the local copy in
arrival order, so a participant's own recent edit can be silently overwritten by a change
that was published earlier but delivered later. Two sessions may end on different documents.
*/
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"linkroom/internal/app/directory"
	"linkroom/internal/app/realtime"
	"linkroom/internal/app/room"
	"linkroom/internal/pkg/errs"
	"linkroom/internal/pkg/logx"
	"linkroom/internal/pkg/metrics"
	"linkroom/internal/pkg/randx"
)

// MaxCodeAttempts is how many freshly generated codes CreateRoom tries before giving up.
const MaxCodeAttempts = 5

// Manager is one client's room session. All methods are safe for concurrent use.
type Manager struct {
	dir       directory.Directory
	substrate realtime.Substrate

	newCode  func() (string, error)
	now      func() time.Time
	listener func(State)

	logger zerolog.Logger

	// publishMu keeps a session's own document broadcasts in call order.
	publishMu sync.Mutex

	// mu guards every field below.
	mu sync.Mutex

	phase Phase

	// epoch identifies the current room attempt. Bumping it invalidates pending
	// operations and every delivery handler bound to an earlier attempt.
	epoch uint64

	room         *room.Room
	self         *room.Participant
	participants []room.Participant
	channel      *realtime.RoomChannel
}

// Option configures a Manager.
type Option func(*Manager)

// WithListener registers fn to receive the state after every change. fn is called with
// the session lock held: it must not block and must not call back into the Manager.
func WithListener(fn func(State)) Option {
	return func(m *Manager) { m.listener = fn }
}

// WithCodeGenerator replaces randx.RoomCode.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(m *Manager) { m.newCode = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// NewManager returns an Idle session using dir and substrate.
func NewManager(dir directory.Directory, substrate realtime.Substrate, opts ...Option) *Manager {
	m := &Manager{
		dir:       dir,
		substrate: substrate,
		newCode:   randx.RoomCode,
		now:       time.Now,
		logger:    logx.Component("session"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateRoom registers a new room seeded with the welcome document, enters it as
// username and returns its code.
func (m *Manager) CreateRoom(ctx context.Context, username string) (string, error) {
	name, ok := room.NormalizeUsername(username)
	if !ok {
		metrics.RoomOperations.WithLabelValues("create", "invalid").Inc()
		return "", errs.NewError(errs.ErrInvalidParams)
	}

	epoch, err := m.begin(Creating)
	if err != nil {
		return "", err
	}

	r, err := m.registerRoom(ctx)
	if err != nil {
		m.abort(epoch)
		metrics.RoomOperations.WithLabelValues("create", "error").Inc()
		return "", err
	}

	if err := m.enter(ctx, epoch, r, m.newParticipant(name)); err != nil {
		metrics.RoomOperations.WithLabelValues("create", "error").Inc()
		return "", err
	}

	metrics.RoomOperations.WithLabelValues("create", "ok").Inc()
	m.logger.Info().Str("room_code", r.Code).Str("username", name).Msg("Room created.")
	return r.Code, nil
}

// JoinRoom enters the room registered under code. It returns false with a nil error
// when no such room exists, leaving the session Idle.
func (m *Manager) JoinRoom(ctx context.Context, code string, username string) (bool, error) {
	name, ok := room.NormalizeUsername(username)
	code = randx.NormalizeRoomCode(code)
	if !ok || !randx.IsValidRoomCode(code) {
		metrics.RoomOperations.WithLabelValues("join", "invalid").Inc()
		return false, errs.NewError(errs.ErrInvalidParams)
	}

	epoch, err := m.begin(Joining)
	if err != nil {
		return false, err
	}

	r, err := m.dir.Lookup(ctx, code)
	if errors.Is(err, directory.ErrNotFound) {
		m.abort(epoch)
		metrics.RoomOperations.WithLabelValues("join", "not_found").Inc()
		m.logger.Info().Str("room_code", code).Msg("Join failed, room not found.")
		return false, nil
	}
	if err != nil {
		m.abort(epoch)
		metrics.RoomOperations.WithLabelValues("join", "error").Inc()
		return false, errs.Wrap(errs.ErrDirectoryUnavailable, err)
	}

	if err := m.enter(ctx, epoch, r, m.newParticipant(name)); err != nil {
		metrics.RoomOperations.WithLabelValues("join", "error").Inc()
		return false, err
	}

	metrics.RoomOperations.WithLabelValues("join", "ok").Inc()
	m.logger.Info().Str("room_code", code).Str("username", name).Msg("Room joined.")
	return true, nil
}

// LeaveRoom withdraws presence, unsubscribes and clears the local state. It also
// cancels a pending create or join. Calling it while Idle does nothing.
func (m *Manager) LeaveRoom(ctx context.Context) {
	m.mu.Lock()
	if m.phase == Idle {
		m.mu.Unlock()
		return
	}

	prev := m.phase
	code := ""
	if m.room != nil {
		code = m.room.Code
	}
	ch := m.channel

	m.epoch++
	m.reset()
	m.notifyLocked()
	m.mu.Unlock()

	if prev == InRoom {
		metrics.SessionsInRoom.Dec()
	}
	metrics.RoomOperations.WithLabelValues("leave", "ok").Inc()

	if ch != nil {
		if err := ch.Presence.Withdraw(ctx); err != nil && !errors.Is(err, realtime.ErrClosed) {
			m.logger.Warn().Err(err).Str("room_code", code).Msg("Failed to withdraw presence.")
		}
		if err := ch.Close(ctx); err != nil {
			m.logger.Warn().Err(err).Str("room_code", code).Msg("Failed to unsubscribe from room.")
		}
	}

	m.logger.Info().Str("room_code", code).Str("phase", prev.String()).Msg("Left room.")
}

// UpdateDocument replaces the document locally and broadcasts the change. It does
// nothing outside a room. A failed broadcast is returned but the local change is kept.
func (m *Manager) UpdateDocument(ctx context.Context, content string) error {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if m.phase != InRoom {
		m.mu.Unlock()
		return nil
	}
	m.room.Document = content
	code := m.room.Code
	ch := m.channel
	at := m.now()
	m.notifyLocked()
	m.mu.Unlock()

	metrics.DocumentUpdates.WithLabelValues("local").Inc()

	err := ch.Broadcast.PublishDocumentChange(ctx, realtime.DocumentChange{
		Content:   content,
		Timestamp: at.UnixMilli(),
	})
	if errors.Is(err, realtime.ErrClosed) {
		// The session left the room concurrently.
		return nil
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("room_code", code).Msg("Failed to broadcast document change.")
		return errs.Wrap(errs.ErrTransportUnavailable, err)
	}

	if err := m.dir.SaveDocument(ctx, code, content, at); err != nil {
		metrics.DocumentSnapshotFailures.Inc()
		m.logger.Warn().Err(err).Str("room_code", code).Msg("Failed to store document snapshot.")
	}

	return nil
}

// State returns a copy of the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CurrentRoom returns the current room, or nil outside a room.
func (m *Manager) CurrentRoom() *room.Room {
	return m.State().Room
}

// CurrentUser returns the local participant, or nil outside a room.
func (m *Manager) CurrentUser() *room.Participant {
	return m.State().Self
}

// Participants returns the participant set from the latest presence snapshot.
func (m *Manager) Participants() []room.Participant {
	return m.State().Participants
}

// begin moves an Idle session into a transient phase and returns the new epoch.
func (m *Manager) begin(phase Phase) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != Idle {
		return 0, errs.NewError(errs.ErrAlreadyInRoom)
	}

	m.phase = phase
	m.epoch++
	m.notifyLocked()
	return m.epoch, nil
}

// abort returns the session to Idle if the attempt identified by epoch is still current.
func (m *Manager) abort(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return
	}
	m.reset()
	m.notifyLocked()
}

// enter opens the room channel, announces self and moves the session InRoom.
// The local state is seeded before subscribing so that no delivery finds it empty.
func (m *Manager) enter(ctx context.Context, epoch uint64, r room.Room, self room.Participant) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return errs.NewError(errs.ErrOperationAborted)
	}
	m.room = &r
	m.self = &self
	m.participants = []room.Participant{self.Clone()}
	m.mu.Unlock()

	ch, err := realtime.OpenRoomChannel(ctx, m.substrate, r.Code, realtime.RoomHandlers{
		OnSync:           func(ps []room.Participant) { m.applySync(epoch, ps) },
		OnDocumentChange: func(c realtime.DocumentChange) { m.applyRemoteDocument(epoch, c) },
	})
	if err != nil {
		m.abort(epoch)
		m.logger.Warn().Err(err).Str("room_code", r.Code).Msg("Failed to subscribe to room.")
		return errs.Wrap(errs.ErrTransportUnavailable, err)
	}

	if err := ch.Presence.Announce(ctx, self); err != nil {
		m.abort(epoch)
		m.closeChannel(ch)
		m.logger.Warn().Err(err).Str("room_code", r.Code).Msg("Failed to announce presence.")
		return errs.Wrap(errs.ErrTransportUnavailable, err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.closeChannel(ch)
		return errs.NewError(errs.ErrOperationAborted)
	}
	m.phase = InRoom
	m.channel = ch
	m.notifyLocked()
	m.mu.Unlock()

	metrics.SessionsInRoom.Inc()
	return nil
}

// registerRoom registers a new room, drawing a fresh code whenever one is taken.
func (m *Manager) registerRoom(ctx context.Context) (room.Room, error) {
	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code, err := m.newCode()
		if err != nil {
			return room.Room{}, errs.NewError(errs.ErrUnknown, err)
		}

		r := room.Room{
			ID:        randx.RoomID(),
			Code:      code,
			CreatedAt: m.now(),
			Document:  room.WelcomeDocument,
			Language:  room.DefaultLanguage,
		}

		err = m.dir.Register(ctx, r)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, directory.ErrCodeTaken) {
			m.logger.Warn().Err(err).Str("room_code", code).Msg("Failed to register room.")
			return room.Room{}, errs.Wrap(errs.ErrDirectoryUnavailable, err)
		}

		m.logger.Debug().Str("room_code", code).Int("attempt", attempt).Msg("Room code taken, retrying.")
	}

	return room.Room{}, errs.NewError(errs.ErrRoomCodeExists)
}

func (m *Manager) applySync(epoch uint64, participants []room.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.room == nil {
		return
	}
	m.participants = participants
	metrics.PresenceSyncs.Inc()
	m.notifyLocked()
}

// applyRemoteDocument overwrites the local document with c, whatever its timestamp.
func (m *Manager) applyRemoteDocument(epoch uint64, c realtime.DocumentChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.room == nil {
		return
	}
	m.room.Document = c.Content
	metrics.DocumentUpdates.WithLabelValues("remote").Inc()
	m.notifyLocked()
}

func (m *Manager) newParticipant(username string) room.Participant {
	return room.Participant{
		ID:       randx.ParticipantID(),
		Username: username,
		Color:    randx.ParticipantColor(),
		Active:   true,
	}
}

func (m *Manager) closeChannel(ch *realtime.RoomChannel) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.Close(ctx); err != nil {
		m.logger.Warn().Err(err).Str("room_code", ch.Code()).Msg("Failed to close room channel.")
	}
}

// reset clears the room state and returns to Idle. Callers hold mu.
func (m *Manager) reset() {
	m.phase = Idle
	m.room = nil
	m.self = nil
	m.participants = nil
	m.channel = nil
}

func (m *Manager) notifyLocked() {
	if m.listener != nil {
		m.listener(m.snapshotLocked())
	}
}

func (m *Manager) snapshotLocked() State {
	s := State{Phase: m.phase}
	if m.phase != InRoom {
		return s
	}

	r := *m.room
	self := m.self.Clone()
	s.Room = &r
	s.Self = &self
	s.Participants = room.CloneParticipants(m.participants)
	if s.Participants == nil {
		s.Participants = []room.Participant{}
	}
	return s
}

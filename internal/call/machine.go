// Package call implements the call-session state machine: idle → calling →
// connected → ended. Each session is owned by the machine and mutated only
// under its lock; clients observe immutable snapshots.
package call

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"codechat/internal/domain"
)

// Notifier delivers call events to users' live connections. Push is
// fire-and-forget; the machine never waits on the network.
type Notifier interface {
	// CallIncoming announces a new ringing session to its invitees.
	CallIncoming(userIDs []int64, s domain.CallSession)
	// CallState announces a session transition. reason is one of
	// "ringing", "accepted", "joined", "rejected", "missed", "media",
	// "left", "ended"; actorID is the user who caused it (0 for timeouts).
	CallState(userIDs []int64, s domain.CallSession, reason string, actorID int64)
}

type session struct {
	id           string
	initiatorID  int64
	typ          domain.CallType
	status       domain.CallStatus
	participants map[int64]*domain.CallParticipant
	invited      map[int64]struct{}
	screenSharer *int64
	startedAt    time.Time
	endedAt      *time.Time
}

// Machine tracks every call session in the process. All transitions are
// serialized under one mutex; ring timeouts are cancellable timers keyed by
// session id and stopped on every terminal transition.
type Machine struct {
	mu         sync.Mutex
	notifier   Notifier
	ringWindow time.Duration

	sessions map[string]*session
	byUser   map[int64]string // active session per participating user
	timers   map[string]*time.Timer
}

func NewMachine(notifier Notifier, ringWindow time.Duration) *Machine {
	return &Machine{
		notifier:   notifier,
		ringWindow: ringWindow,
		sessions:   make(map[string]*session),
		byUser:     make(map[int64]string),
		timers:     make(map[string]*time.Timer),
	}
}

// Initiate creates a ringing session. A user with a non-ended session may
// not start another one.
func (m *Machine) Initiate(initiatorID int64, recipientIDs []int64, typ domain.CallType) (domain.CallSession, error) {
	if typ != domain.CallAudio && typ != domain.CallVideo {
		return domain.CallSession{}, domain.ErrValidation
	}
	if len(recipientIDs) == 0 {
		return domain.CallSession{}, domain.ErrValidation
	}
	for _, id := range recipientIDs {
		if id == initiatorID {
			return domain.CallSession{}, domain.ErrValidation
		}
	}

	m.mu.Lock()
	if _, busy := m.byUser[initiatorID]; busy {
		m.mu.Unlock()
		return domain.CallSession{}, domain.ErrConflict
	}

	s := &session{
		id:          uuid.NewString(),
		initiatorID: initiatorID,
		typ:         typ,
		status:      domain.CallCalling,
		participants: map[int64]*domain.CallParticipant{
			initiatorID: newParticipant(initiatorID, typ),
		},
		invited:   make(map[int64]struct{}, len(recipientIDs)),
		startedAt: time.Now().UTC(),
	}
	for _, id := range recipientIDs {
		s.invited[id] = struct{}{}
	}

	m.sessions[s.id] = s
	m.byUser[initiatorID] = s.id

	id := s.id
	m.timers[id] = time.AfterFunc(m.ringWindow, func() { m.timeout(id) })

	snap := s.snapshot()
	invited := s.invitedIDs()
	m.mu.Unlock()

	m.notifier.CallIncoming(invited, snap)
	m.notifier.CallState([]int64{initiatorID}, snap, "ringing", initiatorID)
	return snap, nil
}

// Accept joins an invited user. The first accept moves the session from
// calling to connected; later accepts add participants without a state
// change.
func (m *Machine) Accept(sessionID string, userID int64) (domain.CallSession, error) {
	m.mu.Lock()
	s, err := m.live(sessionID)
	if err != nil {
		m.mu.Unlock()
		return domain.CallSession{}, err
	}
	if _, already := s.participants[userID]; already {
		snap := s.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	if _, invited := s.invited[userID]; !invited {
		m.mu.Unlock()
		return domain.CallSession{}, domain.ErrForbidden
	}
	if other, busy := m.byUser[userID]; busy && other != sessionID {
		m.mu.Unlock()
		return domain.CallSession{}, domain.ErrConflict
	}

	delete(s.invited, userID)
	s.participants[userID] = newParticipant(userID, s.typ)
	m.byUser[userID] = sessionID

	reason := "joined"
	if s.status == domain.CallCalling {
		s.status = domain.CallConnected
		m.stopTimer(sessionID)
		reason = "accepted"
	}

	snap := s.snapshot()
	audience := s.audience()
	m.mu.Unlock()

	m.notifier.CallState(audience, snap, reason, userID)
	return snap, nil
}

// Reject removes an invitee. If nobody has accepted yet and no invitees
// remain, the whole session ends.
func (m *Machine) Reject(sessionID string, userID int64) error {
	m.mu.Lock()
	s, err := m.live(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if _, invited := s.invited[userID]; !invited {
		m.mu.Unlock()
		return domain.ErrForbidden
	}
	delete(s.invited, userID)

	if s.status == domain.CallCalling && len(s.invited) == 0 {
		m.terminateLocked(s, "rejected", userID)
		return nil
	}

	snap := s.snapshot()
	audience := s.audience()
	m.mu.Unlock()

	m.notifier.CallState(audience, snap, "rejected", userID)
	return nil
}

// ToggleAudio flips the caller's audio flag.
func (m *Machine) ToggleAudio(sessionID string, userID int64) (domain.CallSession, error) {
	return m.toggle(sessionID, userID, func(p *domain.CallParticipant, _ *session) error {
		p.Audio = !p.Audio
		return nil
	})
}

// ToggleVideo flips the caller's video flag.
func (m *Machine) ToggleVideo(sessionID string, userID int64) (domain.CallSession, error) {
	return m.toggle(sessionID, userID, func(p *domain.CallParticipant, _ *session) error {
		p.Video = !p.Video
		return nil
	})
}

// ToggleScreenShare starts or stops sharing. At most one participant may
// share at a time; contention is a conflict, not a takeover.
func (m *Machine) ToggleScreenShare(sessionID string, userID int64) (domain.CallSession, error) {
	return m.toggle(sessionID, userID, func(p *domain.CallParticipant, s *session) error {
		if p.Screen {
			p.Screen = false
			s.screenSharer = nil
			return nil
		}
		if s.screenSharer != nil {
			return domain.ErrConflict
		}
		p.Screen = true
		uid := p.UserID
		s.screenSharer = &uid
		return nil
	})
}

func (m *Machine) toggle(sessionID string, userID int64, apply func(*domain.CallParticipant, *session) error) (domain.CallSession, error) {
	m.mu.Lock()
	s, err := m.live(sessionID)
	if err != nil {
		m.mu.Unlock()
		return domain.CallSession{}, err
	}
	p, ok := s.participants[userID]
	if !ok {
		m.mu.Unlock()
		return domain.CallSession{}, domain.ErrForbidden
	}
	if err := apply(p, s); err != nil {
		m.mu.Unlock()
		return domain.CallSession{}, err
	}

	snap := s.snapshot()
	audience := s.audience()
	m.mu.Unlock()

	m.notifier.CallState(audience, snap, "media", userID)
	return snap, nil
}

// End terminates the session for everyone. Ending an already-ended session
// is a no-op, so repeated ends are observably identical to one.
func (m *Machine) End(sessionID string, userID int64) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrInvalidState
	}
	if s.status == domain.CallEnded {
		m.mu.Unlock()
		return nil
	}
	if _, isParticipant := s.participants[userID]; !isParticipant {
		m.mu.Unlock()
		return domain.ErrForbidden
	}
	m.terminateLocked(s, "ended", userID)
	return nil
}

// Leave removes a participant; the last participant leaving ends the
// session. Used for both explicit hang-ups of one leg and connection
// teardown.
func (m *Machine) Leave(sessionID string, userID int64) error {
	m.mu.Lock()
	s, err := m.live(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	p, ok := s.participants[userID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrForbidden
	}

	delete(s.participants, userID)
	delete(m.byUser, userID)
	if p.Screen {
		s.screenSharer = nil
	}

	if len(s.participants) == 0 {
		m.terminateLocked(s, "ended", userID)
		return nil
	}

	snap := s.snapshot()
	audience := s.audience()
	m.mu.Unlock()

	m.notifier.CallState(audience, snap, "left", userID)
	return nil
}

// LeaveAll removes the user from their active session, if any. Called on
// connection teardown when no other connection remains for the user.
func (m *Machine) LeaveAll(userID int64) {
	m.mu.Lock()
	sessionID, ok := m.byUser[userID]
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = m.Leave(sessionID, userID)
}

// Get returns a snapshot of the session, ended or not.
func (m *Machine) Get(sessionID string) (domain.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.CallSession{}, domain.ErrNotFound
	}
	return s.snapshot(), nil
}

// ActiveSession returns the id of the user's non-ended session, if any.
func (m *Machine) ActiveSession(userID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[userID]
	return id, ok
}

// timeout fires when the ringing window elapses without an accept.
func (m *Machine) timeout(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.status != domain.CallCalling {
		// a terminal transition won the race; nothing to do
		m.mu.Unlock()
		return
	}
	m.terminateLocked(s, "missed", 0)
}

// live returns the session if it exists and is not ended. Callers hold m.mu.
func (m *Machine) live(sessionID string) (*session, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.status == domain.CallEnded {
		return nil, domain.ErrInvalidState
	}
	return s, nil
}

// terminateLocked moves the session to ended, cancels its timer, releases
// its participants and notifies everyone involved. It unlocks m.mu.
func (m *Machine) terminateLocked(s *session, reason string, actorID int64) {
	s.status = domain.CallEnded
	now := time.Now().UTC()
	s.endedAt = &now
	s.screenSharer = nil
	m.stopTimer(s.id)

	audience := s.audience()
	for uid := range s.participants {
		if m.byUser[uid] == s.id {
			delete(m.byUser, uid)
		}
	}

	snap := s.snapshot()
	m.mu.Unlock()

	m.notifier.CallState(audience, snap, reason, actorID)
}

// stopTimer cancels the ring timer, if one is pending. Callers hold m.mu.
func (m *Machine) stopTimer(sessionID string) {
	if t, ok := m.timers[sessionID]; ok {
		t.Stop()
		delete(m.timers, sessionID)
	}
}

func newParticipant(userID int64, typ domain.CallType) *domain.CallParticipant {
	return &domain.CallParticipant{
		UserID:   userID,
		Audio:    true,
		Video:    typ == domain.CallVideo,
		JoinedAt: time.Now().UTC(),
	}
}

func (s *session) snapshot() domain.CallSession {
	parts := make([]domain.CallParticipant, 0, len(s.participants))
	for _, p := range s.participants {
		parts = append(parts, *p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].UserID < parts[j].UserID })

	snap := domain.CallSession{
		ID:           s.id,
		InitiatorID:  s.initiatorID,
		Type:         s.typ,
		Status:       s.status,
		Participants: parts,
		Invited:      s.invitedIDs(),
		StartedAt:    s.startedAt,
	}
	if s.screenSharer != nil {
		uid := *s.screenSharer
		snap.ScreenSharerID = &uid
	}
	if s.endedAt != nil {
		t := *s.endedAt
		snap.EndedAt = &t
	}
	return snap
}

func (s *session) invitedIDs() []int64 {
	ids := make([]int64, 0, len(s.invited))
	for id := range s.invited {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// audience is everyone who should hear about a transition: current
// participants plus still-invited users.
func (s *session) audience() []int64 {
	ids := make([]int64, 0, len(s.participants)+len(s.invited))
	for id := range s.participants {
		ids = append(ids, id)
	}
	for id := range s.invited {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Package chatroom holds the per-room state machine and the room directory.
package chatroom

import (
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"parley/internal/alias"
	"parley/internal/metrics"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// State is derived from the clock and the closed latch, never stored.
type State int

const (
	StatePending State = iota
	StateActive
	StateInactive
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "inactive"
	}
}

// Unbounded is reported by RemainingTime for rooms without an end time.
const Unbounded = time.Duration(math.MaxInt64)

// Room is one chat room's transcript, reactions and time window.
// ARCHITECTURAL DISCOVERY: a single RWMutex per room. Reads share it,
// mutations take it exclusively, and no method ever holds two rooms' locks.
// Ordinals are assigned under the exclusive lock, which serialises
// concurrent senders into a gap-free sequence.
type Room struct {
	id     string
	prompt string
	logged bool
	now    func() time.Time

	mu           sync.RWMutex
	participants map[string]string // userID -> alias
	startTime    time.Time
	endTime      *time.Time
	closed       bool
	messages     []types.Message
	reactions    map[int]types.Reaction
	assessedBy   map[string]struct{}
	listeners    []interfaces.RoomListener

	notifyMu sync.Mutex
	turn     *sync.Cond
	issued   uint64
	served   uint64
}

func newRoom(id string, participants map[string]string, prompt string, logged bool, start time.Time, now func() time.Time) *Room {
	r := &Room{
		id:           id,
		prompt:       prompt,
		logged:       logged,
		now:          now,
		participants: participants,
		startTime:    start,
		reactions:    make(map[int]types.Reaction),
		assessedBy:   make(map[string]struct{}),
	}
	r.turn = sync.NewCond(&r.notifyMu)
	return r
}

func (r *Room) ID() string     { return r.id }
func (r *Room) Prompt() string { return r.prompt }
func (r *Room) Logged() bool   { return r.logged }

func (r *Room) stateLocked(now time.Time) State {
	switch {
	case r.closed:
		return StateInactive
	case now.Before(r.startTime):
		return StatePending
	case r.endTime != nil && !now.Before(*r.endTime):
		return StateInactive
	default:
		return StateActive
	}
}

// State reports Pending, Active or Inactive at the current time.
func (r *Room) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateLocked(r.now())
}

// Active reports whether now lies within [start, end).
func (r *Room) Active() bool {
	return r.State() == StateActive
}

// RemainingTime is Unbounded until an end time is set, and never negative.
func (r *Room) RemainingTime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0
	}
	if r.endTime == nil {
		return Unbounded
	}
	return max(r.endTime.Sub(r.now()), 0)
}

// NextOrdinal is the ordinal the next appended message will receive.
func (r *Room) NextOrdinal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

// Message returns the message at ordinal.
func (r *Room) Message(ordinal int) (types.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ordinal < 0 || ordinal >= len(r.messages) {
		return types.Message{}, false
	}
	return r.messages[ordinal], true
}

// AllMessages returns a copy of the full transcript.
func (r *Room) AllMessages() []types.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.messages)
}

// MessagesSince returns messages stamped at or after since that the viewer
// may see. The viewer's alias is looked up in this room when not supplied.
func (r *Room) MessagesSince(since time.Time, viewer types.Viewer) []types.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if viewer.Alias == "" {
		viewer.Alias = r.participants[viewer.UserID]
	}
	return lo.Filter(r.messages, func(m types.Message, _ int) bool {
		return !m.Timestamp.Before(since) && m.VisibleTo(viewer)
	})
}

// AddMessage appends msg at the next ordinal. The room must be active and the
// author a participant. A NoopOrdinal message is accepted and dropped.
func (r *Room) AddMessage(msg types.Message) (types.Message, error) {
	r.mu.Lock()
	now := r.now()
	if r.stateLocked(now) != StateActive {
		r.mu.Unlock()
		return msg, ErrRoomNotActive
	}
	authorAlias, ok := r.participants[msg.UserID]
	if !ok {
		r.mu.Unlock()
		return msg, ErrSessionNotInRoom
	}
	if msg.Ordinal == types.NoopOrdinal {
		r.mu.Unlock()
		return msg, nil
	}
	if err := msg.Validate(); err != nil {
		r.mu.Unlock()
		return msg, err
	}

	msg.Ordinal = len(r.messages)
	msg.RoomID = r.id
	msg.Alias = authorAlias
	msg.Timestamp = now
	msg.Recipients = lo.Uniq(msg.Recipients)
	r.messages = append(r.messages, msg)

	info := r.infoLocked(now)
	t := r.ticketLocked(notification{
		listeners: r.activeListenersLocked(),
		deliver:   func(l interfaces.RoomListener) { l.OnMessage(msg, info) },
	})
	r.mu.Unlock()

	metrics.MessagesAppended.Inc()
	r.deliver(t)
	return msg, nil
}

// AddReaction upserts the reaction for its message ordinal.
func (r *Room) AddReaction(reaction types.Reaction) (types.Reaction, error) {
	r.mu.Lock()
	now := r.now()
	if reaction.MessageOrdinal < 0 || reaction.MessageOrdinal >= len(r.messages) {
		r.mu.Unlock()
		return reaction, ErrOrdinalOutOfBounds
	}
	if r.stateLocked(now) != StateActive {
		r.mu.Unlock()
		return reaction, ErrRoomNotActive
	}
	if _, ok := r.participants[reaction.UserID]; !ok {
		r.mu.Unlock()
		return reaction, ErrSessionNotInRoom
	}
	if err := reaction.Validate(); err != nil {
		r.mu.Unlock()
		return reaction, err
	}

	reaction.RoomID = r.id
	reaction.Timestamp = now
	r.reactions[reaction.MessageOrdinal] = reaction

	info := r.infoLocked(now)
	t := r.ticketLocked(notification{
		listeners: r.activeListenersLocked(),
		deliver:   func(l interfaces.RoomListener) { l.OnReaction(reaction, info) },
	})
	r.mu.Unlock()

	metrics.ReactionsRecorded.Inc()
	r.deliver(t)
	return reaction, nil
}

// Reactions returns the current reaction per ordinal, ordered by ordinal.
func (r *Room) Reactions() []types.Reaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Collect(maps.Values(r.reactions))
	sort.Slice(out, func(i, j int) bool { return out[i].MessageOrdinal < out[j].MessageOrdinal })
	return out
}

// SetEndTime starts, extends or shortens the room's window. A room that has
// already become inactive stays inactive.
func (r *Room) SetEndTime(ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stateLocked(r.now()) == StateInactive {
		return ErrRoomClosed
	}
	r.endTime = &ts
	return nil
}

// Deactivate ends an active room now. It reports whether the state changed.
func (r *Room) Deactivate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.stateLocked(now) != StateActive {
		return false
	}
	r.endTime = &now
	r.closed = true
	return true
}

// MarkAssessed records userID's feedback submission. It returns false when
// the user had already assessed this room.
func (r *Room) MarkAssessed(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.assessedBy[userID]; done {
		return false
	}
	r.assessedBy[userID] = struct{}{}
	return true
}

func (r *Room) IsAssessedBy(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assessedBy[userID]
	return ok
}

func (r *Room) HasParticipant(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.participants[userID]
	return ok
}

// AliasOf returns the participant's alias in this room.
func (r *Room) AliasOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.participants[userID]
	return a, ok
}

// Participants returns a copy of userID -> alias.
func (r *Room) Participants() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.participants)
}

// AddParticipant widens an active room with a fresh alias unique in the room.
// Adding an existing participant returns their alias unchanged.
func (r *Room) AddParticipant(userID string, gen alias.Generator) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stateLocked(r.now()) != StateActive {
		return "", ErrRoomNotActive
	}
	if existing, ok := r.participants[userID]; ok {
		return existing, nil
	}
	a := alias.Unique(gen, r.aliasTakenLocked)
	r.participants[userID] = a
	return a, nil
}

func (r *Room) aliasTakenLocked(candidate string) bool {
	return lo.Contains(lo.Values(r.participants), candidate)
}

// AddListener registers l on behalf of ownerUserID and delivers OnNewRoom to
// it. A listener whose owner is not a participant is ignored without error so
// that room existence does not leak. Registering the same listener twice is a
// no-op.
func (r *Room) AddListener(ownerUserID string, l interfaces.RoomListener) bool {
	r.mu.Lock()
	if _, ok := r.participants[ownerUserID]; !ok {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()
	return r.attach(l)
}

// attach registers a trusted listener without the participant check.
func (r *Room) attach(l interfaces.RoomListener) bool {
	r.mu.Lock()
	if lo.Contains(r.listeners, l) {
		r.mu.Unlock()
		return true
	}
	r.listeners = append(r.listeners, l)
	info := r.infoLocked(r.now())
	t := r.ticketLocked(notification{
		listeners: []interfaces.RoomListener{l},
		deliver:   func(l interfaces.RoomListener) { l.OnNewRoom(info) },
	})
	r.mu.Unlock()

	r.deliver(t)
	return true
}

// Info returns a snapshot of the room.
func (r *Room) Info() types.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infoLocked(r.now())
}

func (r *Room) infoLocked(now time.Time) types.RoomInfo {
	info := types.RoomInfo{
		ID:           r.id,
		Prompt:       r.prompt,
		Participants: maps.Clone(r.participants),
		StartTime:    r.startTime,
		Active:       r.stateLocked(now) == StateActive,
		Logged:       r.logged,
		MessageCount: len(r.messages),
	}
	if r.endTime != nil {
		end := *r.endTime
		info.EndTime = &end
	}
	return info
}

package chatroom

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"parley/internal/alias"
	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// Directory owns every room created during the process lifetime.
// Rooms are only ever added; deactivation is the end of a room's life.
type Directory struct {
	mu            sync.RWMutex
	rooms         map[string]*Room
	userListeners map[string][]interfaces.RoomListener

	transcript interfaces.RoomListener
	aliases    alias.Generator
	now        func() time.Time
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithTranscript sets the listener attached to every logged room.
func WithTranscript(l interfaces.RoomListener) DirectoryOption {
	return func(d *Directory) { d.transcript = l }
}

func WithDirectoryClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) { d.now = now }
}

func WithRoomAliases(g alias.Generator) DirectoryOption {
	return func(d *Directory) { d.aliases = g }
}

// NewDirectory creates an empty directory.
func NewDirectory(opts ...DirectoryOption) *Directory {
	d := &Directory{
		rooms:         make(map[string]*Room),
		userListeners: make(map[string][]interfaces.RoomListener),
		aliases:       alias.NewRandom(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create starts a room for the given participants. Duplicate ids collapse.
// Logged rooms get the transcript listener before the room becomes visible,
// so the durable mirror never misses an event.
func (d *Directory) Create(participantUserIDs []string, prompt string, logged bool) (*Room, error) {
	ids := lo.Uniq(lo.Compact(participantUserIDs))
	if len(ids) == 0 {
		return nil, ErrNoParticipants
	}
	for _, id := range ids {
		if !types.IsValidUserID(id) {
			return nil, types.ErrInvalidUserID
		}
	}

	participants := make(map[string]string, len(ids))
	taken := func(a string) bool { return lo.Contains(lo.Values(participants), a) }
	for _, id := range ids {
		participants[id] = alias.Unique(d.aliases, taken)
	}

	room := newRoom(uuid.NewString(), participants, prompt, logged, d.now(), d.now)
	if logged && d.transcript != nil {
		room.attach(d.transcript)
	}

	d.mu.Lock()
	d.rooms[room.id] = room
	attach := make(map[string][]interfaces.RoomListener, len(ids))
	for _, id := range ids {
		if ls := d.activeUserListenersLocked(id); len(ls) > 0 {
			attach[id] = ls
		}
	}
	d.mu.Unlock()

	for userID, ls := range attach {
		for _, l := range ls {
			room.AddListener(userID, l)
		}
	}

	metrics.RoomsCreated.Inc()
	logging.Info().Str("room_id", room.id).Strs("participants", ids).Bool("logged", logged).Msg("room created")
	return room, nil
}

// CreateRound stands up one timed room per group, ending duration from now.
// Every group is validated before any room is created.
func (d *Directory) CreateRound(groups [][]string, prompt string, duration time.Duration, logged bool) ([]*Room, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	for _, g := range groups {
		ids := lo.Uniq(lo.Compact(g))
		if len(ids) == 0 {
			return nil, ErrNoParticipants
		}
		if !lo.EveryBy(ids, types.IsValidUserID) {
			return nil, types.ErrInvalidUserID
		}
	}

	rooms := make([]*Room, 0, len(groups))
	for _, g := range groups {
		room, err := d.Create(g, prompt, logged)
		if err != nil {
			return rooms, err
		}
		if err := room.SetEndTime(d.now().Add(duration)); err != nil {
			return rooms, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// Get returns the room with the given id.
func (d *Directory) Get(roomID string) (*Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, ok := d.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Message returns the message at ordinal in roomID.
func (d *Directory) Message(roomID string, ordinal int) (types.Message, bool) {
	room, err := d.Get(roomID)
	if err != nil {
		return types.Message{}, false
	}
	return room.Message(ordinal)
}

// ListAll returns every room, oldest first.
func (d *Directory) ListAll() []*Room {
	d.mu.RLock()
	rooms := lo.Values(d.rooms)
	d.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].startTime.Equal(rooms[j].startTime) {
			return rooms[i].id < rooms[j].id
		}
		return rooms[i].startTime.Before(rooms[j].startTime)
	})
	return rooms
}

// ListActive filters by each room's active state at call time.
func (d *Directory) ListActive() []*Room {
	active := lo.Filter(d.ListAll(), func(r *Room, _ int) bool { return r.Active() })
	metrics.RoomsActive.Set(float64(len(active)))
	return active
}

// GetByUser returns rooms where userID is a participant.
func (d *Directory) GetByUser(userID string) []*Room {
	return lo.Filter(d.ListAll(), func(r *Room, _ int) bool { return r.HasParticipant(userID) })
}

// GetAssessedRoomsByUser returns rooms userID has submitted feedback for.
func (d *Directory) GetAssessedRoomsByUser(userID string) []*Room {
	return lo.Filter(d.ListAll(), func(r *Room, _ int) bool { return r.IsAssessedBy(userID) })
}

// MarkAsAssessed records feedback for a room; a second submission fails.
func (d *Directory) MarkAsAssessed(userID, roomID string) error {
	room, err := d.Get(roomID)
	if err != nil {
		return err
	}
	if !room.MarkAssessed(userID) {
		return ErrAlreadyAssessed
	}
	return nil
}

func (d *Directory) IsAssessedBy(userID, roomID string) (bool, error) {
	room, err := d.Get(roomID)
	if err != nil {
		return false, err
	}
	return room.IsAssessedBy(userID), nil
}

// AddUser widens an active room and attaches the user's listeners to it.
func (d *Directory) AddUser(roomID, userID string) (string, error) {
	if !types.IsValidUserID(userID) {
		return "", types.ErrInvalidUserID
	}
	room, err := d.Get(roomID)
	if err != nil {
		return "", err
	}
	a, err := room.AddParticipant(userID, d.aliases)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	ls := d.activeUserListenersLocked(userID)
	d.mu.Unlock()
	for _, l := range ls {
		room.AddListener(userID, l)
	}

	logging.Info().Str("room_id", roomID).Str("user_id", userID).Str("alias", a).Msg("participant added")
	return a, nil
}

// GetChatPartner returns the other participant of a two-party room.
func (d *Directory) GetChatPartner(roomID, userID string) (string, bool, error) {
	room, err := d.Get(roomID)
	if err != nil {
		return "", false, err
	}
	participants := room.Participants()
	if _, ok := participants[userID]; !ok {
		return "", false, ErrSessionNotInRoom
	}
	others := lo.Without(lo.Keys(participants), userID)
	if len(others) != 1 {
		return "", false, nil
	}
	return others[0], true, nil
}

// AddUserListener attaches l to every room of userID, now and in future.
// The listener and the room snapshot are taken under one lock, so a room
// created concurrently is attached exactly once, by either this call or Create.
func (d *Directory) AddUserListener(userID string, l interfaces.RoomListener) {
	d.mu.Lock()
	d.userListeners[userID] = append(d.activeUserListenersLocked(userID), l)
	rooms := lo.Values(d.rooms)
	d.mu.Unlock()

	for _, room := range rooms {
		room.AddListener(userID, l)
	}
}

// activeUserListenersLocked prunes inactive listeners for userID. Caller
// holds d.mu for writing.
func (d *Directory) activeUserListenersLocked(userID string) []interfaces.RoomListener {
	ls := lo.Filter(d.userListeners[userID], func(l interfaces.RoomListener, _ int) bool {
		return l.IsActive()
	})
	if len(ls) == 0 {
		delete(d.userListeners, userID)
		return nil
	}
	d.userListeners[userID] = ls
	return slices.Clone(ls)
}

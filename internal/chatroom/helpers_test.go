package chatroom

import (
	"sync"
	"sync/atomic"
	"time"

	"parley/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequenceAliases struct {
	mu    sync.Mutex
	names []string
	i     int
}

func (s *sequenceAliases) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.names[s.i%len(s.names)]
	s.i++
	return name
}

// recordingListener captures every notification it receives.
type recordingListener struct {
	mu        sync.Mutex
	rooms     []types.RoomInfo
	messages  []types.Message
	reactions []types.Reaction
	inactive  atomic.Bool
}

func (l *recordingListener) OnNewRoom(room types.RoomInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms = append(l.rooms, room)
}

func (l *recordingListener) OnMessage(msg types.Message, _ types.RoomInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *recordingListener) OnReaction(r types.Reaction, _ types.RoomInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reactions = append(l.reactions, r)
}

func (l *recordingListener) IsActive() bool { return !l.inactive.Load() }

func (l *recordingListener) Rooms() []types.RoomInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.RoomInfo(nil), l.rooms...)
}

func (l *recordingListener) Messages() []types.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Message(nil), l.messages...)
}

func (l *recordingListener) Reactions() []types.Reaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Reaction(nil), l.reactions...)
}

// panickingListener blows up on every callback.
type panickingListener struct{}

func (panickingListener) OnNewRoom(types.RoomInfo)                  { panic("new room") }
func (panickingListener) OnMessage(types.Message, types.RoomInfo)   { panic("message") }
func (panickingListener) OnReaction(types.Reaction, types.RoomInfo) { panic("reaction") }
func (panickingListener) IsActive() bool                            { return true }

func newTestDirectory(clock *fakeClock, opts ...DirectoryOption) *Directory {
	base := []DirectoryOption{
		WithDirectoryClock(clock.Now),
		WithRoomAliases(&sequenceAliases{names: []string{"CalmOtter", "SwiftYak", "KeenLynx", "QuietNewt"}}),
	}
	return NewDirectory(append(base, opts...)...)
}

func say(userID, content string, recipients ...string) types.Message {
	return types.Message{UserID: userID, Content: content, Recipients: recipients}
}

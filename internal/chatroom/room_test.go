package chatroom

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/pkg/types"
)

func newTestRoom(clock *fakeClock, userIDs ...string) *Room {
	participants := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		participants[id] = "alias-" + id
	}
	return newRoom("room-1", participants, "discuss", false, clock.Now(), clock.Now)
}

func TestRoom_ConcurrentAddMessageAssignsGapFreeOrdinals(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a", "b", "c")

	const perSender = 40
	errs := make(chan error, 3*perSender)
	var wg sync.WaitGroup
	for _, user := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := range perSender {
				_, err := room.AddMessage(say(user, fmt.Sprintf("%s-%d", user, i)))
				errs <- err
			}
		}(user)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	msgs := room.AllMessages()
	req.Len(msgs, 3*perSender)
	for i, m := range msgs {
		req.Equal(i, m.Ordinal)
	}
	req.Equal(3*perSender, room.NextOrdinal())
}

func TestRoom_AddMessageStampsAuthorAndRoom(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a", "b")

	got, err := room.AddMessage(types.Message{UserID: "a", SessionID: "s-1", Content: "hi", Ordinal: 17})
	req.NoError(err)
	req.Equal(0, got.Ordinal, "the room assigns ordinals")
	req.Equal("room-1", got.RoomID)
	req.Equal("alias-a", got.Alias)
	req.Equal(clock.Now(), got.Timestamp)
}

func TestRoom_NoopOrdinalLeavesStateUnchanged(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a")
	l := &recordingListener{}
	room.AddListener("a", l)

	msg := say("a", "probe")
	msg.Ordinal = types.NoopOrdinal
	_, err := room.AddMessage(msg)

	req.NoError(err)
	req.Zero(room.NextOrdinal())
	req.Empty(l.Messages())
}

func TestRoom_AddMessageRejections(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a")

	_, err := room.AddMessage(say("stranger", "hello"))
	req.ErrorIs(err, ErrSessionNotInRoom)
	req.Equal(types.KindUnauthorized, types.KindOf(err))

	_, err = room.AddMessage(say("a", "   "))
	req.ErrorIs(err, types.ErrValidation)

	room.Deactivate()
	_, err = room.AddMessage(say("a", "late"))
	req.ErrorIs(err, ErrRoomNotActive)
	req.ErrorIs(err, types.ErrInvalidState)
	req.Zero(room.NextOrdinal())
}

func TestRoom_PendingRoomRejectsMessages(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newRoom("future", map[string]string{"a": "A"}, "", false, clock.Now().Add(time.Minute), clock.Now)

	req.Equal(StatePending, room.State())
	_, err := room.AddMessage(say("a", "early"))
	req.ErrorIs(err, ErrRoomNotActive)

	clock.Advance(time.Minute)
	req.Equal(StateActive, room.State())
	_, err = room.AddMessage(say("a", "on time"))
	req.NoError(err)
}

func TestRoom_AddReactionOnEmptyRoomIsOutOfBounds(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")

	_, err := room.AddReaction(types.Reaction{UserID: "a", MessageOrdinal: 0, Type: "like"})
	req.ErrorIs(err, ErrOrdinalOutOfBounds)
	req.ErrorIs(err, types.ErrValidation)
	req.Equal("ordinal out of bounds", err.Error())
}

func TestRoom_AddReactionOutOfBoundsInAnyState(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")
	_, err := room.AddMessage(say("a", "one"))
	req.NoError(err)

	_, err = room.AddReaction(types.Reaction{UserID: "a", MessageOrdinal: 1, Type: "like"})
	req.ErrorIs(err, types.ErrValidation)

	room.Deactivate()
	_, err = room.AddReaction(types.Reaction{UserID: "a", MessageOrdinal: 5, Type: "like"})
	req.ErrorIs(err, types.ErrValidation)

	_, err = room.AddReaction(types.Reaction{UserID: "a", MessageOrdinal: 0, Type: "like"})
	req.ErrorIs(err, ErrRoomNotActive)
}

func TestRoom_ReactionUpsertsPerOrdinal(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a", "b")
	_, err := room.AddMessage(say("a", "one"))
	req.NoError(err)

	_, err = room.AddReaction(types.Reaction{UserID: "b", MessageOrdinal: 0, Type: "like"})
	req.NoError(err)
	_, err = room.AddReaction(types.Reaction{UserID: "b", MessageOrdinal: 0, Type: "laugh"})
	req.NoError(err)

	reactions := room.Reactions()
	req.Len(reactions, 1)
	req.Equal("laugh", reactions[0].Type)
	req.Equal("room-1", reactions[0].RoomID)
}

func TestRoom_DeactivateIsTerminal(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a")

	req.True(room.Deactivate())
	req.False(room.Active())
	req.False(room.Deactivate(), "second deactivate is a no-op")

	err := room.SetEndTime(clock.Now().Add(time.Hour))
	req.ErrorIs(err, ErrRoomClosed)
	req.False(room.Active())
	req.Equal(StateInactive, room.State())
	req.Zero(room.RemainingTime())
}

func TestRoom_TimedWindow(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a")

	req.True(room.Active())
	req.Equal(Unbounded, room.RemainingTime())

	req.NoError(room.SetEndTime(clock.Now().Add(1000 * time.Millisecond)))
	req.True(room.Active())
	req.Equal(1000*time.Millisecond, room.RemainingTime())

	clock.Advance(999 * time.Millisecond)
	req.True(room.Active())

	clock.Advance(time.Millisecond)
	req.False(room.Active())
	req.Zero(room.RemainingTime())

	req.ErrorIs(room.SetEndTime(clock.Now().Add(time.Hour)), ErrRoomClosed, "an expired room stays inactive")
	req.False(room.Active())
}

func TestRoom_SetEndTimeExtendsActiveRoom(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a")

	req.NoError(room.SetEndTime(clock.Now().Add(time.Minute)))
	req.NoError(room.SetEndTime(clock.Now().Add(time.Hour)))
	clock.Advance(2 * time.Minute)
	req.True(room.Active())
}

func TestRoom_MessagesSinceVisibility(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	room := newTestRoom(clock, "a", "b", "c")

	_, err := room.AddMessage(say("a", "hello all"))
	req.NoError(err)
	clock.Advance(time.Second)
	_, err = room.AddMessage(say("a", "secret", "alias-b"))
	req.NoError(err)

	req.Len(room.MessagesSince(time.Time{}, types.Viewer{UserID: "b"}), 2)
	req.Len(room.MessagesSince(time.Time{}, types.Viewer{UserID: "c"}), 1)
	req.Len(room.MessagesSince(time.Time{}, types.Viewer{UserID: "admin", Elevated: true}), 2)
	req.Len(room.MessagesSince(clock.Now(), types.Viewer{UserID: "b"}), 1)
	req.Empty(room.MessagesSince(clock.Now().Add(time.Second), types.Viewer{UserID: "b"}))
}

func TestRoom_AddListenerIgnoresNonParticipant(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")
	l := &recordingListener{}

	req.False(room.AddListener("stranger", l))
	_, err := room.AddMessage(say("a", "hi"))
	req.NoError(err)

	req.Empty(l.Rooms())
	req.Empty(l.Messages())
}

func TestRoom_ListenerReceivesEventsInOrder(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a", "b")
	l := &recordingListener{}

	req.True(room.AddListener("a", l))
	req.True(room.AddListener("a", l), "re-registering is a no-op")
	req.Len(l.Rooms(), 1)
	req.Equal("room-1", l.Rooms()[0].ID)

	for i := range 5 {
		_, err := room.AddMessage(say("b", fmt.Sprintf("m%d", i)))
		req.NoError(err)
	}
	_, err := room.AddReaction(types.Reaction{UserID: "a", MessageOrdinal: 2, Type: "like"})
	req.NoError(err)

	msgs := l.Messages()
	req.Len(msgs, 5)
	for i, m := range msgs {
		req.Equal(i, m.Ordinal)
	}
	req.Len(l.Reactions(), 1)
}

func TestRoom_PanickingListenerIsIsolated(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")
	good := &recordingListener{}

	room.AddListener("a", panickingListener{})
	room.AddListener("a", good)

	got, err := room.AddMessage(say("a", "still works"))
	req.NoError(err)
	req.Equal(0, got.Ordinal)
	req.Len(good.Messages(), 1)
	req.Equal(1, room.NextOrdinal())
}

func TestRoom_InactiveListenerIsPruned(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")
	l := &recordingListener{}
	room.AddListener("a", l)

	l.inactive.Store(true)
	_, err := room.AddMessage(say("a", "one"))
	req.NoError(err)

	req.Empty(l.Messages())
	room.mu.RLock()
	defer room.mu.RUnlock()
	req.Empty(room.listeners)
}

// reentrantListener reads the room from inside a callback.
type reentrantListener struct {
	recordingListener
	room *Room
	seen []int
	mu   sync.Mutex
}

func (l *reentrantListener) OnMessage(types.Message, types.RoomInfo) {
	n := l.room.NextOrdinal()
	l.mu.Lock()
	l.seen = append(l.seen, n)
	l.mu.Unlock()
}

func TestRoom_ListenerMayReadRoom(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")
	l := &reentrantListener{room: room}
	room.AddListener("a", l)

	_, err := room.AddMessage(say("a", "one"))
	req.NoError(err)

	l.mu.Lock()
	defer l.mu.Unlock()
	req.Equal([]int{1}, l.seen)
}

func TestRoom_AssessmentTracking(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")

	req.False(room.IsAssessedBy("a"))
	req.True(room.MarkAssessed("a"))
	req.False(room.MarkAssessed("a"))
	req.True(room.IsAssessedBy("a"))
}

func TestRoom_AddParticipantRequiresActive(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")
	gen := &sequenceAliases{names: []string{"alias-a", "Fresh"}}

	a, err := room.AddParticipant("b", gen)
	req.NoError(err)
	req.Equal("Fresh", a, "aliases already in the room are skipped")
	req.True(room.HasParticipant("b"))

	room.Deactivate()
	_, err = room.AddParticipant("c", gen)
	req.ErrorIs(err, ErrRoomNotActive)
}

// gateListener holds its first OnMessage until release is closed.
type gateListener struct {
	recordingListener
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (l *gateListener) OnMessage(msg types.Message, info types.RoomInfo) {
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})
	l.recordingListener.OnMessage(msg, info)
}

func TestRoom_EachCallerDeliversItsOwnEvent(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a")
	gate := &gateListener{entered: make(chan struct{}), release: make(chan struct{})}
	rec := &recordingListener{}
	req.True(room.AddListener("a", gate))
	req.True(room.AddListener("a", rec))

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = room.AddMessage(say("a", "one"))
	}()
	<-gate.entered

	delivered := make(chan int, 1)
	go func() {
		_, err := room.AddMessage(say("a", "two"))
		if err != nil {
			delivered <- -1
			return
		}
		delivered <- len(rec.Messages())
	}()

	req.Eventually(func() bool { return room.NextOrdinal() == 2 }, time.Second, 5*time.Millisecond,
		"readers are not blocked by a slow listener")
	select {
	case <-delivered:
		t.Fatal("second AddMessage returned before its event was delivered")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	req.Equal(2, <-delivered, "both events reach the listener before the second call returns")
	<-first

	late := &recordingListener{}
	req.True(room.AddListener("a", late))
	req.Len(late.Rooms(), 1, "OnNewRoom is delivered before AddListener returns")

	msgs := rec.Messages()
	req.Equal(0, msgs[0].Ordinal)
	req.Equal(1, msgs[1].Ordinal)
}

func TestRoom_ConcurrentDeliveryFollowsOrdinals(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(newFakeClock(), "a", "b")
	rec := &recordingListener{}
	req.True(room.AddListener("a", rec))

	const total = 60
	missing := make(chan int, total)
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := []string{"a", "b"}[i%2]
			msg, err := room.AddMessage(say(user, fmt.Sprintf("m%d", i)))
			if err != nil {
				missing <- -1
				return
			}
			if len(rec.Messages()) <= msg.Ordinal {
				missing <- msg.Ordinal
			}
		}(i)
	}
	wg.Wait()
	close(missing)

	for ord := range missing {
		t.Fatalf("AddMessage for ordinal %d returned before delivery", ord)
	}
	msgs := rec.Messages()
	req.Len(msgs, total)
	for i, m := range msgs {
		req.Equal(i, m.Ordinal)
	}
}

package transcript

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/internal/chatroom"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

type mockDurableLog struct {
	mu        sync.Mutex
	rooms     []types.RoomInfo
	messages  []types.Message
	reactions []types.Reaction
}

func (m *mockDurableLog) AppendSessionAudit(types.SessionAuditRecord) {}

func (m *mockDurableLog) AppendRoom(room types.RoomInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, room)
}

func (m *mockDurableLog) AppendMessage(msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockDurableLog) AppendReaction(r types.Reaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, r)
}

func TestRecorder_InterfaceCompliance(t *testing.T) {
	var _ interfaces.RoomListener = (*Recorder)(nil)
}

func TestRecorder_MirrorsLoggedRoom(t *testing.T) {
	req := require.New(t)
	log := &mockDurableLog{}
	dir := chatroom.NewDirectory(chatroom.WithTranscript(NewRecorder(log)))

	room, err := dir.Create([]string{"a", "b"}, "prompt", true)
	req.NoError(err)
	_, err = room.AddMessage(types.Message{UserID: "a", Content: "first"})
	req.NoError(err)
	_, err = room.AddMessage(types.Message{UserID: "b", Content: "second"})
	req.NoError(err)
	_, err = room.AddReaction(types.Reaction{UserID: "b", MessageOrdinal: 0, Type: "like"})
	req.NoError(err)
	_, err = room.AddReaction(types.Reaction{UserID: "b", MessageOrdinal: 0, Type: "love"})
	req.NoError(err)

	log.mu.Lock()
	defer log.mu.Unlock()
	req.Len(log.rooms, 1)
	req.Equal(room.ID(), log.rooms[0].ID)
	req.True(log.rooms[0].Logged)
	req.Len(log.messages, 2)
	req.Equal(0, log.messages[0].Ordinal)
	req.Equal(1, log.messages[1].Ordinal)
	req.Len(log.reactions, 2, "the durable log keeps reaction history")
	req.Len(room.Reactions(), 1, "the room keeps one reaction per ordinal")
}

package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dbconfig "parley/pkg/database"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "parley.db")
	cfg.RetryDelay = 10 * time.Millisecond

	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func flush(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Flush(ctx))
}

func testRoom(id string) types.RoomInfo {
	return types.RoomInfo{
		ID:           id,
		Prompt:       "discuss",
		Participants: map[string]string{"alice": "Red Fox", "bob": "Blue Owl"},
		StartTime:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Logged:       true,
	}
}

func TestManager_SchemaIsValidAfterOpen(t *testing.T) {
	m := setupTestDB(t)
	require.NoError(t, dbconfig.NewSchemaValidator(m.GetDB()).Validate())
}

func TestManager_TranscriptRoundTrip(t *testing.T) {
	req := require.New(t)
	m := setupTestDB(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	m.AppendRoom(testRoom("r1"))
	m.AppendMessage(types.Message{Ordinal: 0, RoomID: "r1", SessionID: "s1", UserID: "alice", Alias: "Red Fox", Content: "hello", Timestamp: ts})
	m.AppendMessage(types.Message{Ordinal: 1, RoomID: "r1", SessionID: "s2", UserID: "bob", Alias: "Blue Owl", Content: "psst",
		Recipients: []string{"Red Fox"}, Timestamp: ts.Add(time.Second)})
	flush(t, m)

	msgs, err := m.Transcript(ctx, "r1")
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("hello", msgs[0].Content)
	req.Empty(msgs[0].Recipients)
	req.Equal([]string{"Red Fox"}, msgs[1].Recipients)
	req.True(ts.Equal(msgs[0].Timestamp))

	empty, err := m.Transcript(ctx, "missing")
	req.NoError(err)
	req.Empty(empty)
}

func TestManager_RoomUpsertKeepsLatestEndTime(t *testing.T) {
	req := require.New(t)
	m := setupTestDB(t)

	room := testRoom("r1")
	m.AppendRoom(room)
	end := room.StartTime.Add(time.Hour)
	room.EndTime = &end
	m.AppendRoom(room)
	flush(t, m)

	var count int
	req.NoError(m.GetDB().QueryRow("SELECT COUNT(*) FROM rooms").Scan(&count))
	req.Equal(1, count)

	var stored time.Time
	req.NoError(m.GetDB().QueryRow("SELECT end_time FROM rooms WHERE id = 'r1'").Scan(&stored))
	req.True(end.Equal(stored))
}

func TestManager_ReactionHistoryKeepsEveryReaction(t *testing.T) {
	req := require.New(t)
	m := setupTestDB(t)
	ts := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	m.AppendRoom(testRoom("r1"))
	m.AppendMessage(types.Message{Ordinal: 0, RoomID: "r1", UserID: "alice", Alias: "Red Fox", Content: "hi", Timestamp: ts})
	m.AppendReaction(types.Reaction{RoomID: "r1", MessageOrdinal: 0, UserID: "bob", Type: "like", Timestamp: ts})
	m.AppendReaction(types.Reaction{RoomID: "r1", MessageOrdinal: 0, UserID: "bob", Type: "love", Timestamp: ts.Add(time.Second)})
	flush(t, m)

	history, err := m.ReactionHistory(context.Background(), "r1")
	req.NoError(err)
	req.Len(history, 2)
	req.Equal("like", history[0].Type)
	req.Equal("love", history[1].Type)
}

func TestManager_SessionAuditOrdered(t *testing.T) {
	req := require.New(t)
	m := setupTestDB(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	m.AppendSessionAudit(types.SessionAuditRecord{Timestamp: base.Add(time.Minute), SessionID: "s2", Token: "t2", UserID: "alice", Username: "alice"})
	m.AppendSessionAudit(types.SessionAuditRecord{Timestamp: base, SessionID: "s1", Token: "t1", UserID: "alice", Username: "alice"})
	m.AppendSessionAudit(types.SessionAuditRecord{Timestamp: base, SessionID: "s3", Token: "t3", UserID: "bob", Username: "bob"})
	flush(t, m)

	records, err := m.SessionAudit(context.Background(), "alice")
	req.NoError(err)
	req.Len(records, 2)
	req.Equal("s1", records[0].SessionID)
	req.Equal("s2", records[1].SessionID)
}

func TestManager_FailedAppendDoesNotStopWriter(t *testing.T) {
	req := require.New(t)
	m := setupTestDB(t)

	// No such room: the foreign key rejects it, and the writer carries on.
	m.AppendMessage(types.Message{Ordinal: 0, RoomID: "ghost", UserID: "alice", Alias: "A", Content: "lost", Timestamp: time.Now()})
	m.AppendRoom(testRoom("r1"))
	flush(t, m)

	var count int
	req.NoError(m.GetDB().QueryRow("SELECT COUNT(*) FROM rooms").Scan(&count))
	req.Equal(1, count)
}

func TestManager_UserStore(t *testing.T) {
	req := require.New(t)
	m := setupTestDB(t)
	ctx := context.Background()

	user := interfaces.StoredUser{
		User:         types.User{ID: "u1", Username: "alice", Role: types.RoleHuman},
		PasswordHash: "hash",
	}
	req.NoError(m.CreateUser(ctx, user))
	req.ErrorIs(m.CreateUser(ctx, user), ErrUserExists)

	got, err := m.GetUserByUsername(ctx, "alice")
	req.NoError(err)
	req.Equal(user, got)

	got, err = m.GetUser(ctx, "u1")
	req.NoError(err)
	req.Equal(types.RoleHuman, got.Role)

	_, err = m.GetUser(ctx, "nobody")
	req.ErrorIs(err, ErrUserNotFound)
	req.ErrorIs(err, types.ErrNotFound)

	req.NoError(m.DeleteUser(ctx, "u1"))
	req.ErrorIs(m.DeleteUser(ctx, "u1"), ErrUserNotFound)
}

func TestManager_ConcurrentAppendsSerialised(t *testing.T) {
	req := require.New(t)
	m := setupTestDB(t)
	m.AppendRoom(testRoom("r1"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(ordinal int) {
			defer wg.Done()
			m.AppendMessage(types.Message{Ordinal: ordinal, RoomID: "r1", UserID: "alice", Alias: "A", Content: "x", Timestamp: time.Now()})
		}(i)
	}
	wg.Wait()
	flush(t, m)

	msgs, err := m.Transcript(context.Background(), "r1")
	req.NoError(err)
	req.Len(msgs, 50)
	for i, msg := range msgs {
		req.Equal(i, msg.Ordinal)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	m := setupTestDB(t)
	require.NoError(t, m.HealthCheck(context.Background()))
}

func TestManager_CloseFlushesAndIsIdempotent(t *testing.T) {
	req := require.New(t)
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "parley.db")

	m, err := NewManager(cfg)
	req.NoError(err)
	m.AppendRoom(testRoom("r1"))
	req.NoError(m.Close())
	req.NoError(m.Close())

	m.AppendRoom(testRoom("r2")) // dropped, must not panic
	req.ErrorIs(m.Flush(context.Background()), ErrManagerClosed)

	reopened, err := NewManager(cfg)
	req.NoError(err)
	defer func() { _ = reopened.Close() }()
	var count int
	req.NoError(reopened.GetDB().QueryRow("SELECT COUNT(*) FROM rooms").Scan(&count))
	req.Equal(1, count)
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = ""
	_, err := NewManager(cfg)
	require.Error(t, err)
}

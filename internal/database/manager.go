// Package database is the sqlite durable log and account store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"

	"parley/internal/logging"
	"parley/internal/metrics"
	dbconfig "parley/pkg/database"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

const backendName = "sqlite"

var (
	_ interfaces.Journal   = (*Manager)(nil)
	_ interfaces.UserStore = (*Manager)(nil)
)

// Manager owns the sqlite handle. Reads go straight to the pool; every write
// is funnelled through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	kind      string
	operation func(*sql.DB) error
	result    chan error // nil for fire-and-forget appends
}

// NewManager opens the database, applies pending migrations and starts the
// writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, config.WriteBuffer),
		shutdown:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.run(op)
		case <-m.shutdown:
			// Drain what was queued before Close so appends are not lost.
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op)
				default:
					logging.Debug().Msg("database write loop stopped")
					return
				}
			}
		}
	}
}

// run executes op, retrying once when sqlite reports contention.
func (m *Manager) run(op writeOperation) {
	err := op.operation(m.db)
	if err != nil && isBusy(err) {
		logging.Warn().Err(err).Str("kind", op.kind).Dur("retry_in", m.config.RetryDelay).Msg("database write busy, retrying")
		time.Sleep(m.config.RetryDelay)
		err = op.operation(m.db)
	}

	result := "ok"
	if err != nil {
		result = "failed"
		if op.result == nil {
			logging.Error().Err(err).Str("kind", op.kind).Msg("durable log append failed")
		}
	}
	metrics.JournalWrites.WithLabelValues(backendName, op.kind, result).Inc()

	if op.result != nil {
		op.result <- err
	}
}

func isBusy(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

// enqueue hands an append to the writer without waiting. A full queue drops
// the record.
func (m *Manager) enqueue(kind string, operation func(*sql.DB) error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		logging.Warn().Str("kind", kind).Msg("durable log append after close dropped")
		metrics.JournalWrites.WithLabelValues(backendName, kind, "dropped").Inc()
		return
	}
	select {
	case m.writeChannel <- writeOperation{kind: kind, operation: operation}:
	default:
		logging.Warn().Err(ErrWriteQueueFull).Str("kind", kind).Msg("durable log append dropped")
		metrics.JournalWrites.WithLabelValues(backendName, kind, "dropped").Inc()
	}
}

// executeWrite queues a write and waits for its result.
func (m *Manager) executeWrite(ctx context.Context, kind string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{kind: kind, operation: operation, result: result}:
		m.mu.RUnlock()
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every append queued before the call has been written.
func (m *Manager) Flush(ctx context.Context) error {
	return m.executeWrite(ctx, "flush", func(*sql.DB) error { return nil })
}

func (m *Manager) AppendSessionAudit(rec types.SessionAuditRecord) {
	m.enqueue("session_audit", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO session_audit (timestamp, session_id, token, user_id, username)
			VALUES (?, ?, ?, ?, ?)
		`, rec.Timestamp.UTC(), rec.SessionID, rec.Token, rec.UserID, rec.Username)
		return err
	})
}

// AppendRoom records a room, or refreshes its participants and end time when
// the room was seen before.
func (m *Manager) AppendRoom(room types.RoomInfo) {
	participants, err := json.Marshal(room.Participants)
	if err != nil {
		logging.Error().Err(err).Str("room_id", room.ID).Msg("failed to marshal participants")
		return
	}
	var endTime any
	if room.EndTime != nil {
		endTime = room.EndTime.UTC()
	}

	m.enqueue("room", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO rooms (id, prompt, participants, start_time, end_time)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				participants = excluded.participants,
				end_time = excluded.end_time
		`, room.ID, room.Prompt, string(participants), room.StartTime.UTC(), endTime)
		return err
	})
}

func (m *Manager) AppendMessage(msg types.Message) {
	recipients, err := json.Marshal(msg.Recipients)
	if err != nil {
		logging.Error().Err(err).Str("room_id", msg.RoomID).Msg("failed to marshal recipients")
		return
	}

	m.enqueue("message", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO messages (room_id, ordinal, session_id, user_id, alias, content, recipients, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.RoomID, msg.Ordinal, msg.SessionID, msg.UserID, msg.Alias, msg.Content, string(recipients), msg.Timestamp.UTC())
		return err
	})
}

// AppendReaction keeps every reaction; the room itself only keeps the latest.
func (m *Manager) AppendReaction(reaction types.Reaction) {
	m.enqueue("reaction", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO reactions (room_id, message_ordinal, session_id, user_id, type, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, reaction.RoomID, reaction.MessageOrdinal, reaction.SessionID, reaction.UserID, reaction.Type, reaction.Timestamp.UTC())
		return err
	})
}

// Transcript returns a room's recorded messages in ordinal order.
func (m *Manager) Transcript(ctx context.Context, roomID string) ([]types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT room_id, ordinal, session_id, user_id, alias, content, recipients, timestamp
		FROM messages
		WHERE room_id = ?
		ORDER BY ordinal ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []types.Message
	for rows.Next() {
		var (
			msg        types.Message
			recipients string
		)
		if err := rows.Scan(&msg.RoomID, &msg.Ordinal, &msg.SessionID, &msg.UserID, &msg.Alias,
			&msg.Content, &recipients, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &msg.Recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// ReactionHistory returns every recorded reaction in arrival order.
func (m *Manager) ReactionHistory(ctx context.Context, roomID string) ([]types.Reaction, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT room_id, message_ordinal, session_id, user_id, type, timestamp
		FROM reactions
		WHERE room_id = ?
		ORDER BY id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reactions []types.Reaction
	for rows.Next() {
		var r types.Reaction
		if err := rows.Scan(&r.RoomID, &r.MessageOrdinal, &r.SessionID, &r.UserID, &r.Type, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan reaction row: %w", err)
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reaction rows: %w", err)
	}
	return reactions, nil
}

func (m *Manager) SessionAudit(ctx context.Context, userID string) ([]types.SessionAuditRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT timestamp, session_id, token, user_id, username
		FROM session_audit
		WHERE user_id = ?
		ORDER BY timestamp ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.SessionAuditRecord
	for rows.Next() {
		var rec types.SessionAuditRecord
		if err := rows.Scan(&rec.Timestamp, &rec.SessionID, &rec.Token, &rec.UserID, &rec.Username); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return records, nil
}

func (m *Manager) CreateUser(ctx context.Context, user interfaces.StoredUser) error {
	err := m.executeWrite(ctx, "user", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, username, role, password_hash)
			VALUES (?, ?, ?, ?)
		`, user.ID, user.Username, string(user.Role), user.PasswordHash)
		return err
	})
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (m *Manager) GetUserByUsername(ctx context.Context, username string) (interfaces.StoredUser, error) {
	return m.getUser(ctx, "username", username)
}

func (m *Manager) GetUser(ctx context.Context, userID string) (interfaces.StoredUser, error) {
	return m.getUser(ctx, "id", userID)
}

func (m *Manager) getUser(ctx context.Context, column, value string) (interfaces.StoredUser, error) {
	var (
		user interfaces.StoredUser
		role string
	)
	err := m.db.QueryRowContext(ctx,
		"SELECT id, username, role, password_hash FROM users WHERE "+column+" = ?", value,
	).Scan(&user.ID, &user.Username, &role, &user.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return user, ErrUserNotFound
	}
	if err != nil {
		return user, fmt.Errorf("failed to query user: %w", err)
	}
	user.Role = types.Role(role)
	return user, nil
}

func (m *Manager) DeleteUser(ctx context.Context, userID string) error {
	var affected int64
	err := m.executeWrite(ctx, "user", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// HealthCheck pings the pool and runs a read against the rooms table.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB exposes the handle for migrations and schema checks.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close flushes queued appends and closes the database. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

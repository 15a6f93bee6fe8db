// Package journal is the badger-backed durable log.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

const backendName = "badger"

var _ interfaces.Journal = (*Store)(nil)

var (
	ErrStoreClosed = errors.New("journal store is closed")
	ErrQueueFull   = errors.New("journal queue full")
)

// Keys sort lexicographically into replay order:
//
//	room:{room}
//	msg:{room}:{ordinal, 10 digits}
//	react:{room}:{unix nanos, 19 digits}:{uuid}
//	audit:{user}:{unix nanos, 19 digits}:{session}
func roomKey(roomID string) []byte { return []byte("room:" + roomID) }

func messageKey(m types.Message) []byte {
	return fmt.Appendf(nil, "msg:%s:%010d", m.RoomID, m.Ordinal)
}

func reactionKey(r types.Reaction) []byte {
	return fmt.Appendf(nil, "react:%s:%019d:%s", r.RoomID, r.Timestamp.UnixNano(), uuid.NewString())
}

func auditKey(rec types.SessionAuditRecord) []byte {
	return fmt.Appendf(nil, "audit:%s:%019d:%s", rec.UserID, rec.Timestamp.UnixNano(), rec.SessionID)
}

type record struct {
	kind  string
	key   []byte
	value []byte
	done  chan struct{} // set on flush barriers only
}

// Store queues appends and writes them from Serve.
type Store struct {
	db    *badger.DB
	queue chan record

	mu     sync.RWMutex
	closed bool
}

// Open opens a badger directory. An empty dir opens an in-memory store.
func Open(dir string, queueSize int) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db, queue: make(chan record, queueSize)}, nil
}

// Serve writes queued records until ctx is cancelled, then drains the queue.
func (s *Store) Serve(ctx context.Context) error {
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-s.queue:
					s.write(rec)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Store) String() string { return "badger-journal" }

func (s *Store) write(rec record) {
	if rec.done != nil {
		close(rec.done)
		return
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rec.key, rec.value)
	})
	result := "ok"
	if err != nil {
		result = "failed"
		logging.Error().Err(err).Str("kind", rec.kind).Msg("durable log append failed")
	}
	metrics.JournalWrites.WithLabelValues(backendName, rec.kind, result).Inc()
}

func (s *Store) enqueue(kind string, key []byte, v any) {
	value, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Str("kind", kind).Msg("failed to encode journal record")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.JournalWrites.WithLabelValues(backendName, kind, "dropped").Inc()
		return
	}
	select {
	case s.queue <- record{kind: kind, key: key, value: value}:
	default:
		logging.Warn().Err(ErrQueueFull).Str("kind", kind).Msg("durable log append dropped")
		metrics.JournalWrites.WithLabelValues(backendName, kind, "dropped").Inc()
	}
}

// Flush waits until Serve has written everything queued before the call.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	done := make(chan struct{})
	select {
	case s.queue <- record{kind: "flush", done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) AppendSessionAudit(rec types.SessionAuditRecord) {
	s.enqueue("session_audit", auditKey(rec), rec)
}

// AppendRoom overwrites the room record, so the latest snapshot wins.
func (s *Store) AppendRoom(room types.RoomInfo) {
	s.enqueue("room", roomKey(room.ID), room)
}

func (s *Store) AppendMessage(msg types.Message) {
	s.enqueue("message", messageKey(msg), msg)
}

func (s *Store) AppendReaction(reaction types.Reaction) {
	s.enqueue("reaction", reactionKey(reaction), reaction)
}

func (s *Store) Transcript(ctx context.Context, roomID string) ([]types.Message, error) {
	return scan[types.Message](ctx, s.db, "msg:"+roomID+":")
}

func (s *Store) ReactionHistory(ctx context.Context, roomID string) ([]types.Reaction, error) {
	return scan[types.Reaction](ctx, s.db, "react:"+roomID+":")
}

func (s *Store) SessionAudit(ctx context.Context, userID string) ([]types.SessionAuditRecord, error) {
	return scan[types.SessionAuditRecord](ctx, s.db, "audit:"+userID+":")
}

// Room returns the last recorded snapshot of a room.
func (s *Store) Room(roomID string) (types.RoomInfo, error) {
	var info types.RoomInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return info, types.NewError(types.KindNotFound, "room not recorded")
	}
	return info, err
}

func scan[T any](ctx context.Context, db *badger.DB, prefix string) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %q: %w", prefix, err)
	}
	return out, nil
}

func (s *Store) HealthCheck(context.Context) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// Close stops accepting appends and closes badger. Serve should have
// returned first so that queued records are written.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Records queued after Serve stopped are still owed to the log.
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		default:
			return s.db.Close()
		}
	}
}

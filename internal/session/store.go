package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/whisper/report-bot/internal/report"
)

const (
	// SessionPrefix is the Redis key prefix for report conversations.
	SessionPrefix = "report_session:"

	// SessionTTL is how long an idle report conversation is kept. Every
	// message refreshes it.
	SessionTTL = 1 * time.Hour

	// LockPrefix is the Redis key prefix for the per-reporter lock held while
	// a message is handled.
	LockPrefix = "report_lock:"

	// LockTTL bounds how long a crashed gateway can keep a reporter locked.
	LockTTL = 15 * time.Second

	lockRetry = 25 * time.Millisecond
)

// releaseLockLua deletes the lock only if it still carries our token, so an
// expired lock taken over by another gateway is left alone.
const releaseLockLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrNoSession is returned by a SnapshotStore when the reporter has no report
// in progress.
var ErrNoSession = errors.New("session: no report in progress")

// ErrBadSnapshot is returned when a stored snapshot no longer decodes.
var ErrBadSnapshot = errors.New("session: unreadable snapshot")

// SnapshotStore persists report snapshots keyed by reporter id. Lock
// serialises load, handle and save for one reporter across every process
// sharing the store; it blocks until the lock is free or ctx is done.
type SnapshotStore interface {
	Load(ctx context.Context, reporterID string) (report.Snapshot, error)
	Save(ctx context.Context, reporterID string, snap report.Snapshot) error
	Delete(ctx context.Context, reporterID string) error
	Lock(ctx context.Context, reporterID string) (unlock func(), err error)
}

// RedisStore keeps snapshots as JSON strings with a sliding TTL, so
// abandoned conversations expire on their own.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	release *redis.Script
}

// NewRedisStore creates a RedisStore. A non-positive ttl falls back to
// SessionTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &RedisStore{
		client:  client,
		ttl:     ttl,
		release: redis.NewScript(releaseLockLua),
	}
}

// Load fetches the snapshot for a reporter.
func (s *RedisStore) Load(ctx context.Context, reporterID string) (report.Snapshot, error) {
	data, err := s.client.Get(ctx, SessionPrefix+reporterID).Bytes()
	if errors.Is(err, redis.Nil) {
		return report.Snapshot{}, ErrNoSession
	}
	if err != nil {
		return report.Snapshot{}, fmt.Errorf("session: load: %w", err)
	}
	return decodeSnapshot(data)
}

// Save stores the snapshot and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, reporterID string, snap report.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, SessionPrefix+reporterID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Delete removes a reporter's snapshot.
func (s *RedisStore) Delete(ctx context.Context, reporterID string) error {
	if err := s.client.Del(ctx, SessionPrefix+reporterID).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of a reporter's snapshot.
func (s *RedisStore) TTL(ctx context.Context, reporterID string) (time.Duration, error) {
	return s.client.TTL(ctx, SessionPrefix+reporterID).Result()
}

// Lock takes report_lock:<id> with SET NX PX, polling until it is free. The
// lock expires after LockTTL if the holder never releases it.
func (s *RedisStore) Lock(ctx context.Context, reporterID string) (func(), error) {
	key := LockPrefix + reporterID
	token := uuid.New().String()

	for {
		ok, err := s.client.SetNX(ctx, key, token, LockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("session: lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("session: lock reporter=%s: %w", reporterID, ctx.Err())
		case <-time.After(lockRetry):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.release.Run(ctx, s.client, []string{key}, token).Err(); err != nil {
			log.Printf("[session] release lock reporter=%s: %v", reporterID, err)
		}
	}, nil
}

// MemoryStore is an in-process SnapshotStore. Snapshots are kept encoded so
// callers never share state with the store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
	locks *keyedMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
		locks: newKeyedMutex(),
	}
}

func (s *MemoryStore) Load(_ context.Context, reporterID string) (report.Snapshot, error) {
	s.mu.Lock()
	data, ok := s.items[reporterID]
	s.mu.Unlock()
	if !ok {
		return report.Snapshot{}, ErrNoSession
	}
	return decodeSnapshot(data)
}

func (s *MemoryStore) Save(_ context.Context, reporterID string, snap report.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: marshal snapshot: %w", err)
	}
	s.mu.Lock()
	s.items[reporterID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, reporterID string) error {
	s.mu.Lock()
	delete(s.items, reporterID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, reporterID string) (func(), error) {
	return s.locks.Lock(reporterID), nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func decodeSnapshot(data []byte) (report.Snapshot, error) {
	var snap report.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return report.Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return snap, nil
}

package flowstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/intake/intake/internal/domain/survey"
)

// ErrNotFound is returned when no flow state exists for a session,
// either because it never started or because its TTL lapsed.
var ErrNotFound = errors.New("flow state not found")

// Store keeps in-flight traversal state in Redis, one JSON document per
// session. Completed and abandoned sessions live only in Postgres; the
// Redis copy expires on its own once a session stops being touched.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the sliding expiration applied on every save.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New connects to Redis and returns a store.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient wraps an existing client, mainly for tests.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "intake:flow:",
		ttl:    0,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// farFuture scores index entries that never expire.
const farFuture = 4102444800 // 2100-01-01

// Save writes the state and refreshes its TTL. The session id is also
// tracked in a sorted-set index, scored by expiry, so Active can list
// live sessions without scanning keys.
func (s *Store) Save(ctx context.Context, sessionID string, state *survey.FlowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal flow state: %w", err)
	}

	score := float64(farFuture)
	if s.ttl > 0 {
		score = float64(time.Now().Add(s.ttl).Unix())
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(sessionID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save flow state: %w", err)
	}
	return nil
}

// Load retrieves the state for a session.
func (s *Store) Load(ctx context.Context, sessionID string) (*survey.FlowState, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load flow state: %w", err)
	}

	var state survey.FlowState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("unmarshal flow state: %w", err)
	}
	return &state, nil
}

// Delete drops a session's state and its index entry.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Active lists session ids with live state. Index entries whose score
// has passed are pruned first; the state keys themselves expire through
// their TTL.
func (s *Store) Active(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

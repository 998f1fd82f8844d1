package reachstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/flowreach/pkg/types"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	URL    string
	Prefix string
}

// DefaultRedisConfig returns settings suitable for local development.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:    "redis://localhost:6379/0",
		Prefix: "flowreach",
	}
}

// RedisStore implements Store on Redis. All lock and cache mutations run
// as server-side scripts, so every operation is a single atomic round trip.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis at cfg.URL and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests and by
// callers sharing one connection pool across stores.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisConfig().Prefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Client exposes the underlying connection for the pub/sub bridge.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) versionKey() string {
	return s.prefix + ":version"
}

func (s *RedisStore) metaKey(gen Generation) string {
	return fmt.Sprintf("%s:%s:%d:%s:meta", s.prefix, gen.GraphID, gen.Version, gen.Fingerprint)
}

func (s *RedisStore) writerKey(gen Generation) string {
	return fmt.Sprintf("%s:%s:%d:%s:writer", s.prefix, gen.GraphID, gen.Version, gen.Fingerprint)
}

func (s *RedisStore) readersKey(gen Generation) string {
	return fmt.Sprintf("%s:%s:%d:%s:readers", s.prefix, gen.GraphID, gen.Version, gen.Fingerprint)
}

func (s *RedisStore) targetsKey(u Unit) string {
	return fmt.Sprintf("%s:data:%s:%s:targets", s.prefix, u.DataID, u.keySuffix())
}

// pathsPrefix is the common prefix of the per-target path list keys. The
// scripts append the target slug to it.
func (s *RedisStore) pathsPrefix(u Unit) string {
	return fmt.Sprintf("%s:data:%s:%s:paths:", s.prefix, u.DataID, u.keySuffix())
}

func (s *RedisStore) CurrentVersion(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, s.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cache version: %w", err)
	}
	if v < 1 {
		return 1, nil
	}
	return v, nil
}

func (s *RedisStore) BumpVersion(ctx context.Context) (int64, error) {
	v, err := bumpVersionScript.Run(ctx, s.client, []string{s.versionKey()}).Int64()
	if err != nil {
		return 0, fmt.Errorf("bump cache version: %w", err)
	}
	return v, nil
}

func (s *RedisStore) AcquireWrite(ctx context.Context, gen Generation, p AcquireParams) (*Acquired, error) {
	keys := []string{s.metaKey(gen), s.writerKey(gen), s.readersKey(gen)}
	argv := []interface{}{
		p.Now.UnixMilli(),
		p.Freshness.Milliseconds(),
		p.SnapshotTTL.Milliseconds(),
		p.LockTTL.Milliseconds(),
		p.LockID,
		p.DataID,
	}
	reply, err := acquireWriteScript.Run(ctx, s.client, keys, argv...).Slice()
	if err != nil {
		return nil, fmt.Errorf("acquire write lock: %w", err)
	}
	status := scriptStatus(reply)
	switch status {
	case "already_locked":
		return nil, ErrAlreadyLocked
	case string(OutcomeInitialized), string(OutcomeReplacedStale), string(OutcomeExisting):
	default:
		return nil, fmt.Errorf("acquire write lock: unexpected reply %v", reply)
	}
	if len(reply) < 2 {
		return nil, fmt.Errorf("acquire write lock: unexpected reply %v", reply)
	}
	return &Acquired{
		Lock: &Lock{
			Generation: gen,
			DataID:     asString(reply[1]),
			Kind:       LockKindWriter,
			ID:         p.LockID,
			AcquiredAt: p.Now,
			StaleAt:    p.Now.Add(p.LockTTL),
		},
		Outcome: AcquireOutcome(status),
		State:   LockState{Readers: 0, Writer: true},
	}, nil
}

func (s *RedisStore) AcquireRead(ctx context.Context, gen Generation, p AcquireParams) (*Acquired, error) {
	keys := []string{s.metaKey(gen), s.writerKey(gen), s.readersKey(gen)}
	argv := []interface{}{
		p.Now.UnixMilli(),
		p.Freshness.Milliseconds(),
		p.LockTTL.Milliseconds(),
		p.LockID,
	}
	reply, err := acquireReadScript.Run(ctx, s.client, keys, argv...).Slice()
	if err != nil {
		return nil, fmt.Errorf("acquire read lock: %w", err)
	}
	switch scriptStatus(reply) {
	case "not_found":
		return nil, ErrNotFound
	case "already_locked":
		return nil, ErrAlreadyLocked
	case string(OutcomeExisting):
	default:
		return nil, fmt.Errorf("acquire read lock: unexpected reply %v", reply)
	}
	if len(reply) < 3 {
		return nil, fmt.Errorf("acquire read lock: unexpected reply %v", reply)
	}
	return &Acquired{
		Lock: &Lock{
			Generation: gen,
			DataID:     asString(reply[1]),
			Kind:       LockKindReader,
			ID:         p.LockID,
			AcquiredAt: p.Now,
			StaleAt:    p.Now.Add(p.LockTTL),
		},
		Outcome: OutcomeExisting,
		State:   LockState{Readers: asInt(reply[2]), Writer: false},
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, lock *Lock, now time.Time) (LockState, error) {
	keys := []string{s.writerKey(lock.Generation), s.readersKey(lock.Generation)}
	argv := []interface{}{now.UnixMilli(), string(lock.Kind), lock.ID}
	reply, err := releaseScript.Run(ctx, s.client, keys, argv...).Slice()
	if err != nil {
		return LockState{}, fmt.Errorf("release lock: %w", err)
	}
	if len(reply) < 3 {
		return LockState{}, fmt.Errorf("release lock: unexpected reply %v", reply)
	}
	state := LockState{Readers: asInt(reply[1]), Writer: asInt(reply[2]) == 1}
	if asInt(reply[0]) != 1 {
		return state, ErrNotHeld
	}
	return state, nil
}

func (s *RedisStore) WriteBatch(ctx context.Context, lock *Lock, unit Unit, first, last bool, entries []Entry, now time.Time) error {
	payload, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	keys := []string{
		s.versionKey(),
		s.metaKey(lock.Generation),
		s.writerKey(lock.Generation),
		s.targetsKey(unit),
	}
	argv := []interface{}{
		strconv.FormatInt(lock.Generation.Version, 10),
		now.UnixMilli(),
		lock.ID,
		s.pathsPrefix(unit),
		boolArg(first),
		boolArg(last),
		payload,
		computedSentinel,
	}
	reply, err := writeBatchScript.Run(ctx, s.client, keys, argv...).Slice()
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	switch scriptStatus(reply) {
	case "ok":
		return nil
	case "lock_lost":
		return ErrLockLost
	default:
		return fmt.Errorf("write batch: unexpected reply %v", reply)
	}
}

func (s *RedisStore) ReadTargets(ctx context.Context, lock *Lock, unit Unit, cursor uint64, count int64, now time.Time) ([]string, uint64, error) {
	if count <= 0 {
		count = 100
	}
	keys := []string{
		s.versionKey(),
		s.writerKey(lock.Generation),
		s.readersKey(lock.Generation),
		s.targetsKey(unit),
	}
	argv := []interface{}{
		strconv.FormatInt(lock.Generation.Version, 10),
		now.UnixMilli(),
		string(lock.Kind),
		lock.ID,
		strconv.FormatUint(cursor, 10),
		count,
		computedSentinel,
		s.pathsPrefix(unit),
		types.DoneMarker,
	}
	reply, err := readTargetsScript.Run(ctx, s.client, keys, argv...).Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("read targets: %w", err)
	}
	switch scriptStatus(reply) {
	case "lock_lost":
		return nil, 0, ErrLockLost
	case "not_initialized":
		return nil, 0, ErrNotInitialized
	case "corrupted":
		return nil, 0, ErrCorrupted
	case "ok":
	default:
		return nil, 0, fmt.Errorf("read targets: unexpected reply %v", reply)
	}
	if len(reply) < 3 {
		return nil, 0, fmt.Errorf("read targets: unexpected reply %v", reply)
	}
	next, err := strconv.ParseUint(asString(reply[1]), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("read targets: parse cursor: %w", err)
	}
	targets, err := asStrings(reply[2])
	if err != nil {
		return nil, 0, fmt.Errorf("read targets: %w", err)
	}
	return targets, next, nil
}

func (s *RedisStore) ReadPathItems(ctx context.Context, lock *Lock, unit Unit, target string, offset, limit int64, now time.Time) ([]string, int64, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = offset + limit - 1
	}
	keys := []string{
		s.versionKey(),
		s.writerKey(lock.Generation),
		s.readersKey(lock.Generation),
		s.targetsKey(unit),
		s.pathsPrefix(unit) + target,
	}
	argv := []interface{}{
		strconv.FormatInt(lock.Generation.Version, 10),
		now.UnixMilli(),
		string(lock.Kind),
		lock.ID,
		target,
		offset,
		stop,
		computedSentinel,
		types.DoneMarker,
	}
	reply, err := readPathsScript.Run(ctx, s.client, keys, argv...).Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("read path items: %w", err)
	}
	switch scriptStatus(reply) {
	case "lock_lost":
		return nil, 0, ErrLockLost
	case "not_found":
		return nil, 0, ErrNotFound
	case "no_paths":
		return nil, 0, ErrNoPaths
	case "corrupted":
		return nil, 0, ErrCorrupted
	case "ok":
	default:
		return nil, 0, fmt.Errorf("read path items: unexpected reply %v", reply)
	}
	if len(reply) < 3 {
		return nil, 0, fmt.Errorf("read path items: unexpected reply %v", reply)
	}
	items, err := asStrings(reply[2])
	if err != nil {
		return nil, 0, fmt.Errorf("read path items: %w", err)
	}
	return items, asInt(reply[1]), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// encodeEntries renders a batch as the JSON payload the write script
// decodes. Nil slices are normalized so the script always sees arrays.
func encodeEntries(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	cleaned := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Items == nil {
			e.Items = []string{}
		}
		cleaned[i] = e
	}
	b, err := json.Marshal(cleaned)
	if err != nil {
		return "", fmt.Errorf("encode batch entries: %w", err)
	}
	return string(b), nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func scriptStatus(reply []interface{}) string {
	if len(reply) == 0 {
		return ""
	}
	return asString(reply[0])
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func asStrings(v interface{}) ([]string, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array reply, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, asString(item))
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)

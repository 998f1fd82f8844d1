package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/flowreach/pkg/types"
)

const (
	flowKeyPrefix   = "flowdef:"
	flowSetKey      = "flowdefs"
	screenKeyPrefix = "screendef:"
	screenSetKey    = "screendefs"
)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-backed definition store.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) flowKey(slug string) string {
	return flowKeyPrefix + slug
}

func (s *RedisStore) screenKey(slug string) string {
	return screenKeyPrefix + slug
}

// GetFlow retrieves a flow by slug.
func (s *RedisStore) GetFlow(ctx context.Context, slug string) (*types.Flow, error) {
	data, err := s.client.Get(ctx, s.flowKey(slug)).Bytes()
	if err == redis.Nil {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}

	var flow types.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("unmarshal flow: %w", err)
	}

	return &flow, nil
}

// GetScreen retrieves a screen definition by slug.
func (s *RedisStore) GetScreen(ctx context.Context, slug string) (*types.Screen, error) {
	data, err := s.client.Get(ctx, s.screenKey(slug)).Bytes()
	if err == redis.Nil {
		return nil, ErrScreenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get screen: %w", err)
	}

	var screen types.Screen
	if err := json.Unmarshal(data, &screen); err != nil {
		return nil, fmt.Errorf("unmarshal screen: %w", err)
	}

	return &screen, nil
}

// ListFlowSlugs returns every flow slug in lexical order.
func (s *RedisStore) ListFlowSlugs(ctx context.Context) ([]string, error) {
	slugs, err := s.client.SMembers(ctx, flowSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list flow slugs: %w", err)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// CreateFlow saves a new flow.
func (s *RedisStore) CreateFlow(ctx context.Context, flow *types.Flow) error {
	if err := ValidateFlow(flow); err != nil {
		return err
	}

	exists, err := s.client.Exists(ctx, s.flowKey(flow.Slug)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists > 0 {
		return ErrFlowExists
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}

	// Use transaction to set flow and add to list
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.flowKey(flow.Slug), data, 0)
	pipe.SAdd(ctx, flowSetKey, flow.Slug)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save flow: %w", err)
	}

	return nil
}

// UpdateFlow replaces an existing flow.
func (s *RedisStore) UpdateFlow(ctx context.Context, flow *types.Flow) error {
	if err := ValidateFlow(flow); err != nil {
		return err
	}

	exists, err := s.client.Exists(ctx, s.flowKey(flow.Slug)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists == 0 {
		return ErrFlowNotFound
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}

	if err := s.client.Set(ctx, s.flowKey(flow.Slug), data, 0).Err(); err != nil {
		return fmt.Errorf("save flow: %w", err)
	}

	return nil
}

// DeleteFlow removes a flow.
func (s *RedisStore) DeleteFlow(ctx context.Context, slug string) error {
	exists, err := s.client.Exists(ctx, s.flowKey(slug)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists == 0 {
		return ErrFlowNotFound
	}

	// Use transaction to delete flow and remove from list
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.flowKey(slug))
	pipe.SRem(ctx, flowSetKey, slug)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}

	return nil
}

// ListFlows returns all flows ordered by slug.
func (s *RedisStore) ListFlows(ctx context.Context) ([]*types.Flow, error) {
	slugs, err := s.ListFlowSlugs(ctx)
	if err != nil {
		return nil, err
	}

	flows := make([]*types.Flow, 0, len(slugs))
	for _, slug := range slugs {
		flow, err := s.GetFlow(ctx, slug)
		if err == ErrFlowNotFound {
			// Stale reference, clean up
			s.client.SRem(ctx, flowSetKey, slug)
			continue
		}
		if err != nil {
			continue // Skip on error
		}
		flows = append(flows, flow)
	}

	return flows, nil
}

// PutScreen creates or replaces a screen definition.
func (s *RedisStore) PutScreen(ctx context.Context, screen *types.Screen) error {
	if err := ValidateScreen(screen); err != nil {
		return err
	}

	data, err := json.Marshal(screen)
	if err != nil {
		return fmt.Errorf("marshal screen: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.screenKey(screen.Slug), data, 0)
	pipe.SAdd(ctx, screenSetKey, screen.Slug)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save screen: %w", err)
	}

	return nil
}

// DeleteScreen removes a screen definition.
func (s *RedisStore) DeleteScreen(ctx context.Context, slug string) error {
	exists, err := s.client.Exists(ctx, s.screenKey(slug)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists == 0 {
		return ErrScreenNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.screenKey(slug))
	pipe.SRem(ctx, screenSetKey, slug)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete screen: %w", err)
	}

	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zpam/mailclass/pkg/maxent"
)

// RedisStore keeps model artifacts in Redis so several filter hosts can share
// one trained model
type RedisStore struct {
	client *redis.Client
	config *RedisConfig
	ctx    context.Context
	logger zerolog.Logger
}

// RedisConfig holds the Redis model store configuration
type RedisConfig struct {
	RedisURL    string        `json:"redis_url" yaml:"redis_url"`
	KeyPrefix   string        `json:"key_prefix" yaml:"key_prefix"`
	DatabaseNum int           `json:"database_num" yaml:"database_num"`
	ModelTTL    time.Duration `json:"model_ttl" yaml:"model_ttl"` // 0 keeps models forever
}

// DefaultRedisConfig returns the default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		RedisURL:    "redis://localhost:6379",
		KeyPrefix:   "mailclass",
		DatabaseNum: 0,
	}
}

// ModelInfo describes a stored model without decoding it
type ModelInfo struct {
	Ref       string
	ID        string
	CreatedAt time.Time
	Size      int64
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.DB = config.DatabaseNum
	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis connection failed: %w", err)
	}

	return &RedisStore{
		client: client,
		config: config,
		ctx:    ctx,
		logger: log.Logger,
	}, nil
}

// WithLogger sets the store logger
func (rs *RedisStore) WithLogger(logger zerolog.Logger) *RedisStore {
	rs.logger = logger
	return rs
}

// Save stores m under ref and marks it as the latest model. An empty ref
// uses the model ID.
func (rs *RedisStore) Save(m *maxent.Model, ref string) (string, error) {
	if ref == "" {
		ref = m.ID()
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return "", &WriteError{Path: rs.modelKey(ref), Reason: ReasonIO, Err: err}
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(rs.ctx, rs.modelKey(ref), buf.Bytes(), rs.config.ModelTTL)
	pipe.HSet(rs.ctx, rs.metaKey(ref),
		"id", m.ID(),
		"created_at", m.CreatedAt().Unix(),
		"size", buf.Len(),
	)
	if rs.config.ModelTTL > 0 {
		pipe.Expire(rs.ctx, rs.metaKey(ref), rs.config.ModelTTL)
	}
	pipe.SAdd(rs.ctx, rs.indexKey(), ref)
	pipe.Set(rs.ctx, rs.latestKey(), ref, 0)

	if _, err := pipe.Exec(rs.ctx); err != nil {
		return "", &WriteError{Path: rs.modelKey(ref), Reason: ReasonIO, Err: err}
	}

	rs.logger.Info().Str("ref", ref).Str("model_id", m.ID()).Int("bytes", buf.Len()).Msg("Model published to Redis")
	return ref, nil
}

// Load fetches the model stored under ref. An empty ref loads the latest.
func (rs *RedisStore) Load(ref string) (*maxent.Model, error) {
	if ref == "" {
		latest, err := rs.client.Get(rs.ctx, rs.latestKey()).Result()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: no latest model under %s", ErrNotFound, rs.config.KeyPrefix)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest model: %w", err)
		}
		ref = latest
	}

	data, err := rs.client.Get(rs.ctx, rs.modelKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rs.modelKey(ref))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model %s: %w", ref, err)
	}

	m, err := maxent.ReadModel(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptModel, rs.modelKey(ref), err)
	}
	return m, nil
}

// List returns metadata for every stored model, newest first. Entries whose
// model has expired are pruned from the index.
func (rs *RedisStore) List() ([]ModelInfo, error) {
	refs, err := rs.client.SMembers(rs.ctx, rs.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	pipe := rs.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(refs))
	for i, ref := range refs {
		cmds[i] = pipe.HGetAll(rs.ctx, rs.metaKey(ref))
	}
	if _, err := pipe.Exec(rs.ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}

	var infos []ModelInfo
	var stale []interface{}
	for i, ref := range refs {
		meta := cmds[i].Val()
		if len(meta) == 0 {
			stale = append(stale, ref)
			continue
		}
		infos = append(infos, rs.modelInfo(ref, meta))
	}

	if len(stale) > 0 {
		if err := rs.client.SRem(rs.ctx, rs.indexKey(), stale...).Err(); err != nil {
			rs.logger.Warn().Err(err).Int("stale", len(stale)).Msg("Failed to prune expired models from index")
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

// modelInfo decodes a metadata hash. Fields that do not parse are logged
// and left zero.
func (rs *RedisStore) modelInfo(ref string, meta map[string]string) ModelInfo {
	info := ModelInfo{Ref: ref, ID: meta["id"]}

	if created, err := strconv.ParseInt(meta["created_at"], 10, 64); err != nil {
		rs.logger.Warn().Err(err).Str("ref", ref).Str("field", "created_at").Msg("Invalid model metadata")
	} else {
		info.CreatedAt = time.Unix(created, 0).UTC()
	}

	if size, err := strconv.ParseInt(meta["size"], 10, 64); err != nil {
		rs.logger.Warn().Err(err).Str("ref", ref).Str("field", "size").Msg("Invalid model metadata")
	} else {
		info.Size = size
	}

	return info
}

// Delete removes a stored model
func (rs *RedisStore) Delete(ref string) error {
	pipe := rs.client.TxPipeline()
	pipe.Del(rs.ctx, rs.modelKey(ref), rs.metaKey(ref))
	pipe.SRem(rs.ctx, rs.indexKey(), ref)
	_, err := pipe.Exec(rs.ctx)
	return err
}

// Close closes the Redis connection
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func (rs *RedisStore) modelKey(ref string) string {
	return fmt.Sprintf("%s:model:%s", rs.config.KeyPrefix, ref)
}

func (rs *RedisStore) metaKey(ref string) string {
	return fmt.Sprintf("%s:meta:%s", rs.config.KeyPrefix, ref)
}

func (rs *RedisStore) indexKey() string {
	return rs.config.KeyPrefix + ":models"
}

func (rs *RedisStore) latestKey() string {
	return rs.config.KeyPrefix + ":latest"
}

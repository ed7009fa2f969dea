package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"eurobot/internal/lottery"
	"eurobot/pkg/logx"
)

const (
	defaultKeyPrefix = "eurobot:"
	defaultAuditMax  = 10000
)

// redisStore keeps selections in a hash, the marker in a string key and the
// audit trail in a capped list.
type redisStore struct {
	client   *redis.Client
	log      logx.Logger
	prefix   string
	auditMax int64
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisStore(client, cfg, log), nil
}

func newRedisStore(client *redis.Client, cfg Config, log logx.Logger) *redisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	max := cfg.AuditMax
	if max <= 0 {
		max = defaultAuditMax
	}
	return &redisStore{client: client, log: log, prefix: prefix, auditMax: int64(max)}
}

func (s *redisStore) key(name string) string { return s.prefix + name }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) GetSelection(ctx context.Context, userID int64) (lottery.Selection, bool, error) {
	raw, err := s.client.HGet(ctx, s.key("selections"), strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var sel lottery.Selection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil, false, fmt.Errorf("decode selection %d: %w", userID, err)
	}
	return sel, true, nil
}

func (s *redisStore) PutSelection(ctx context.Context, userID int64, sel lottery.Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key("selections"), strconv.FormatInt(userID, 10), string(b)).Err()
}

func (s *redisStore) ListSelections(ctx context.Context) (map[int64]lottery.Selection, error) {
	all, err := s.client.HGetAll(ctx, s.key("selections")).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]lottery.Selection, len(all))
	for k, raw := range all {
		uid, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			s.log.Warn("skipping registration with bad user id", logx.String("key", k))
			continue
		}
		var sel lottery.Selection
		if err := json.Unmarshal([]byte(raw), &sel); err != nil {
			s.log.Warn("skipping undecodable selection", logx.Int64("user_id", uid), logx.Err(err))
			continue
		}
		out[uid] = sel
	}
	return out, nil
}

func (s *redisStore) LastAnnounced(ctx context.Context) (string, bool, error) {
	date, err := s.client.Get(ctx, s.key("last_draw")).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return date, date != "", nil
}

func (s *redisStore) MarkAnnounced(ctx context.Context, date string) error {
	return s.client.Set(ctx, s.key("last_draw"), date, 0).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.key("audit"), string(b))
		p.LTrim(ctx, s.key("audit"), 0, s.auditMax-1)
		return nil
	})
	return err
}

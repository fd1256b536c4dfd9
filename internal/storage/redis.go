package storage

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	logx "eventbot/pkg/logx"
)

const (
	defaultRedisKey = "eventbot:subscriptions"
	auditMaxLen     = 1000
)

// redisStore keeps the registry in a Redis set so several bot replicas can
// share it. The audit trail is a capped list.
type redisStore struct {
	client   redis.UniversalClient
	key      string
	auditKey string
	log      logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, persistErr(err, "redis ping %s", addr)
	}
	log.Debug("redis registry opened", logx.String("addr", addr))
	return newRedisStore(client, cfg.Redis.Key, log), nil
}

func newRedisStore(client redis.UniversalClient, key string, log logx.Logger) *redisStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, key: key, auditKey: key + ":audit", log: log}
}

func (s *redisStore) List(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, persistErr(err, "list")
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.log.Warn("ignoring malformed registry member", logx.String("member", m))
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (s *redisStore) Add(ctx context.Context, channelID int64) error {
	return persistErr(s.client.SAdd(ctx, s.key, channelID).Err(), "add %d", channelID)
}

func (s *redisStore) Remove(ctx context.Context, channelID int64) error {
	return persistErr(s.client.SRem(ctx, s.key, channelID).Err(), "remove %d", channelID)
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return persistErr(err, "audit")
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.auditKey, b)
	pipe.LTrim(ctx, s.auditKey, 0, auditMaxLen-1)
	_, err = pipe.Exec(ctx)
	return persistErr(err, "audit")
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

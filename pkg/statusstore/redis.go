// pkg/statusstore/redis.go
package statusstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	cfg "github.com/slideguard/slidereview/config"
	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/logger"
)

const (
	recordKeyPrefix  = "review:sub:"
	resultsKeyPrefix = "review:res:"
)

// 条件状态变更：比较当前 status 与期望值，匹配才写入新字段
var condUpdateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
if ARGV[4] ~= '-1' then redis.call('HSET', KEYS[1], 'slide_count', ARGV[4]) end
if ARGV[5] ~= '' then redis.call('HSET', KEYS[1], 'error', ARGV[5]) end
if ARGV[6] ~= '' then redis.call('HSET', KEYS[1], 'overall', ARGV[6]) end
return 1
`)

// 终态 ERROR：从任意非终态进入，终态保持不变
var markErrorScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur == 'COMPLETED' or cur == 'ERROR' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'ERROR', 'error', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// 结果追加：按幻灯片序号 HSETNX 去重，返回当前结果数
var appendResultScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], 'updated_at', ARGV[3])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return redis.call('HLEN', KEYS[1])
`)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1],
    'file_name', ARGV[1], 'kind', ARGV[2], 'status', ARGV[3],
    'slide_count', ARGV[4], 'prompt', ARGV[5],
    'created_at', ARGV[6], 'updated_at', ARGV[6])
redis.call('EXPIRE', KEYS[1], ARGV[7])
return 1
`)

// RedisStore 基于 Redis 的提交记录存储。每个提交一个 hash 存记录
// 字段，另一个 hash 以幻灯片序号为 field 存各页结果。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: log}
}

func GetStore(log logger.Logger) (*RedisStore, error) {
	redisCfg := cfg.GetRedisConfig()
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, redisCfg.RecordTTL, log), nil
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, sub *models.Submission) error {
	created, err := createScript.Run(ctx, s.client,
		[]string{recordKeyPrefix + sub.Key},
		sub.FileName,
		string(sub.Kind),
		string(sub.Status),
		strconv.Itoa(sub.SlideCount),
		sub.Prompt,
		sub.CreatedAt.UTC().Format(time.RFC3339Nano),
		int(s.ttl.Seconds()),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	if created == 0 {
		return apperr.ErrConflict
	}
	return nil
}

func (s *RedisStore) ConditionalUpdate(ctx context.Context, key string, expected models.Status, upd Update) error {
	// 状态机只允许前进，非法方向在发往 Redis 之前就拒绝
	if !expected.CanTransitionTo(upd.Status) {
		return apperr.ErrConflict
	}

	overall := ""
	if upd.Overall != nil {
		data, err := json.Marshal(upd.Overall)
		if err != nil {
			return fmt.Errorf("failed to marshal overall result: %w", err)
		}
		overall = string(data)
	}

	res, err := condUpdateScript.Run(ctx, s.client,
		[]string{recordKeyPrefix + key},
		string(expected),
		string(upd.Status),
		time.Now().UTC().Format(time.RFC3339Nano),
		strconv.Itoa(upd.SlideCount),
		upd.Error,
		overall,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	switch res {
	case -1:
		return &apperr.NotFoundError{Key: key}
	case 0:
		return apperr.ErrConflict
	}
	return nil
}

func (s *RedisStore) MarkError(ctx context.Context, key string, cause string) error {
	res, err := markErrorScript.Run(ctx, s.client,
		[]string{recordKeyPrefix + key},
		cause,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to mark error: %w", err)
	}
	if res == -1 {
		return &apperr.NotFoundError{Key: key}
	}
	return nil
}

func (s *RedisStore) AppendResult(ctx context.Context, key string, res models.SlideResult) (int, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal slide result: %w", err)
	}

	count, err := appendResultScript.Run(ctx, s.client,
		[]string{resultsKeyPrefix + key, recordKeyPrefix + key},
		strconv.Itoa(res.SlideIndex),
		string(data),
		time.Now().UTC().Format(time.RFC3339Nano),
		int(s.ttl.Seconds()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to append result: %w", err)
	}
	if count == -1 {
		return 0, &apperr.NotFoundError{Key: key}
	}
	return count, nil
}

func (s *RedisStore) Read(ctx context.Context, key string) (*models.Submission, error) {
	fields, err := s.client.HGetAll(ctx, recordKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if len(fields) == 0 {
		return nil, &apperr.NotFoundError{Key: key}
	}

	sub := &models.Submission{
		Key:      key,
		FileName: fields["file_name"],
		Kind:     models.ContentKind(fields["kind"]),
		Status:   models.Status(fields["status"]),
		Prompt:   fields["prompt"],
		Error:    fields["error"],
	}
	sub.SlideCount, _ = strconv.Atoi(fields["slide_count"])
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])

	if raw := fields["overall"]; raw != "" {
		var overall models.OverallResult
		if err := json.Unmarshal([]byte(raw), &overall); err != nil {
			s.logger.Warn("Corrupt overall result in record",
				logger.String("key", key),
				logger.Error(err),
			)
		} else {
			sub.Overall = &overall
		}
	}

	resultFields, err := s.client.HGetAll(ctx, resultsKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	for _, raw := range resultFields {
		var res models.SlideResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			s.logger.Warn("Corrupt slide result in record",
				logger.String("key", key),
				logger.Error(err),
			)
			continue
		}
		sub.Results = append(sub.Results, res)
	}
	sort.Slice(sub.Results, func(i, j int) bool {
		return sub.Results[i].SlideIndex < sub.Results[j].SlideIndex
	})

	return sub, nil
}

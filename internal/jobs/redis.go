package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix      = "docforge:job:"
	maxUpdateAttempts = 16
)

// RedisBackend はジョブレコードを JSON として Redis に保存します。
// 複数の API インスタンスから同じジョブ状態を参照する場合に使います。
type RedisBackend struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisBackend は RedisBackend を作成します。ttl が 0 の場合は有効期限を設定しません。
func NewRedisBackend(rdb *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		rdb: rdb,
		ttl: ttl,
	}
}

// Insert はキーが存在しない場合のみレコードを保存します。
func (b *RedisBackend) Insert(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := b.rdb.SetNX(ctx, jobKey(job.ID), payload, b.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: insert job: %w", err)
	}
	if !ok {
		return errDuplicateID
	}
	return nil
}

// Load はジョブ情報を取得します。
func (b *RedisBackend) Load(ctx context.Context, id string) (*Job, error) {
	data, err := b.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis: load job: %w", err)
	}
	return decodeJob(data)
}

// Update は WATCH による楽観ロックでレコードを書き換えます。
func (b *RedisBackend) Update(ctx context.Context, id string, mutate MutateFunc) (*Job, error) {
	key := jobKey(id)
	var updated *Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, b.ttl)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := b.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("redis: job %s: too many concurrent updates", id)
}

// Delete はレコードを削除します。
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	n, err := b.rdb.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis: delete job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List は SCAN で全レコードを取得します。
func (b *RedisBackend) List(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	iter := b.rdb.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := b.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: list jobs: %w", err)
		}
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Close は何もしません。クライアントは呼び出し側が閉じます。
func (b *RedisBackend) Close() error {
	return nil
}

func decodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &job, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

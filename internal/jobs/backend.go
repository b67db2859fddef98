package jobs

import (
	"context"
	"sort"
	"sync"
)

// MutateFunc はレコードを書き換えます。エラーを返した場合は何も保存されません。
type MutateFunc func(job *Job) error

// Backend はジョブレコードの保存先です。Update はレコード単位で原子的でなければなりません。
type Backend interface {
	Insert(ctx context.Context, job *Job) error
	Load(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, mutate MutateFunc) (*Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Job, error)
	Close() error
}

type memoryRecord struct {
	mu      sync.Mutex
	job     *Job
	deleted bool
}

// MemoryBackend はプロセス内にレコードを保持します。
// マップ自体のロックは参照時のみ短く取り、更新はレコードごとのロックで直列化します。
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

// NewMemoryBackend は MemoryBackend を作成します。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*memoryRecord)}
}

func (b *MemoryBackend) lookup(id string) (*memoryRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	return rec, ok
}

// Insert は新しいレコードを追加します。
func (b *MemoryBackend) Insert(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.records[job.ID]; exists {
		return errDuplicateID
	}
	b.records[job.ID] = &memoryRecord{job: job.Clone()}
	return nil
}

// Load はレコードのコピーを返します。
func (b *MemoryBackend) Load(_ context.Context, id string) (*Job, error) {
	rec, ok := b.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, ErrNotFound
	}
	return rec.job.Clone(), nil
}

// Update はレコードロックを保持したまま mutate を適用します。
func (b *MemoryBackend) Update(_ context.Context, id string, mutate MutateFunc) (*Job, error) {
	rec, ok := b.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, ErrNotFound
	}
	next := rec.job.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	rec.job = next
	return next.Clone(), nil
}

// Delete はレコードを削除します。存在しない場合は ErrNotFound を返します。
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	rec, ok := b.records[id]
	delete(b.records, id)
	b.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	rec.deleted = true
	rec.mu.Unlock()
	return nil
}

// List は作成日時順に全レコードのコピーを返します。
func (b *MemoryBackend) List(_ context.Context) ([]*Job, error) {
	b.mu.RLock()
	recs := make([]*memoryRecord, 0, len(b.records))
	for _, rec := range b.records {
		recs = append(recs, rec)
	}
	b.mu.RUnlock()

	jobs := make([]*Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.deleted {
			jobs = append(jobs, rec.job.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Close は何もしません。
func (b *MemoryBackend) Close() error {
	return nil
}

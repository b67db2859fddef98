package jobs

import (
	"context"
	"sync"
)

type jobLock struct {
	sem  chan struct{}
	refs int
}

// Acquire は同一ジョブに対する操作を直列化するためのロックを取得します。
// 返された関数でロックを解放します（複数回呼んでも安全です）。
func (s *Store) Acquire(ctx context.Context, id string) (func(), error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	l := s.lockRef(id)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.releaseRef(id, l)
		return nil, ctx.Err()
	}
	return s.unlocker(id, l), nil
}

// tryAcquire は待たずにロックを取得します。保持中なら false を返します。
func (s *Store) tryAcquire(id string) (func(), bool) {
	l := s.lockRef(id)
	select {
	case l.sem <- struct{}{}:
		return s.unlocker(id, l), true
	default:
		s.releaseRef(id, l)
		return nil, false
	}
}

func (s *Store) lockRef(id string) *jobLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &jobLock{sem: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	return l
}

func (s *Store) unlocker(id string, l *jobLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.releaseRef(id, l)
		})
	}
}

func (s *Store) releaseRef(id string, l *jobLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	uploadsDirName = "uploads"
	outputsDirName = "outputs"
	attemptPrefix  = "attempt-"
)

// Store はジョブレコードとジョブ用ディレクトリを管理します。
// status / output_files / error を書き換えるのは Store だけで、ジョブのパスを組み立てるのも Store だけです。
type Store struct {
	backend    Backend
	uploadRoot string
	outputRoot string
	logger     *zap.Logger

	now   func() time.Time
	newID func() string

	locksMu sync.Mutex
	locks   map[string]*jobLock
}

// NewStore は Store を作成し、root 配下に uploads/ と outputs/ を用意します。
func NewStore(backend Backend, root string, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	s := &Store{
		backend:    backend,
		uploadRoot: filepath.Join(abs, uploadsDirName),
		outputRoot: filepath.Join(abs, outputsDirName),
		logger:     logger,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
		locks:      make(map[string]*jobLock),
	}
	for _, dir := range []string{s.uploadRoot, s.outputRoot} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Close はバックエンドを閉じます。
func (s *Store) Close() error {
	return s.backend.Close()
}

// UploadDir はジョブの入力ディレクトリを返します。
func (s *Store) UploadDir(id string) string {
	return filepath.Join(s.uploadRoot, id)
}

// OutputDir はジョブの出力ディレクトリを返します。
func (s *Store) OutputDir(id string) string {
	return filepath.Join(s.outputRoot, id)
}

// OutputKey は成果物パスを outputs/ からの相対キー（"<id>/attempt-N/name"）に変換します。
// オブジェクトストレージのキーに使います。
func (s *Store) OutputKey(id, path string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.outputRoot, filepath.Clean(path))
	if err != nil || !strings.HasPrefix(rel, id+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideAttempt, path)
	}
	return filepath.ToSlash(rel), nil
}

func (s *Store) attemptDir(id string, seq int) string {
	return filepath.Join(s.OutputDir(id), attemptPrefix+strconv.Itoa(seq))
}

// Create は PENDING のジョブを作成します。
func (s *Store) Create(ctx context.Context) (*Job, error) {
	id := s.newID()
	if err := validID(id); err != nil {
		return nil, err
	}
	for _, dir := range []string{s.UploadDir(id), s.OutputDir(id)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			s.removeDirs(id)
			return nil, fmt.Errorf("create job directory: %w", err)
		}
	}

	now := s.now().UTC()
	job := &Job{
		ID:          id,
		Status:      StatusPending,
		InputFiles:  []string{},
		OutputFiles: []string{},
		Progress:    ProgressInfo{Stage: "uploaded"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.backend.Insert(ctx, job); err != nil {
		s.removeDirs(id)
		return nil, fmt.Errorf("insert job: %w", err)
	}
	s.logger.Debug("job created", zap.String("job_id", id))
	return job.Clone(), nil
}

// AddInput は入力ファイルを1件登録し、書き込み先のパスを返します。
// 同名のファイルがある場合は "name-1.ext" のように連番を付けます。
func (s *Store) AddInput(ctx context.Context, id, filename string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	var path string
	_, err = s.update(ctx, id, func(job *Job) error {
		if job.Status != StatusPending || job.InputsFrozen() {
			return ErrInputsFrozen
		}
		taken := make(map[string]struct{}, len(job.InputFiles))
		for _, p := range job.InputFiles {
			taken[filepath.Base(p)] = struct{}{}
		}
		path = filepath.Join(s.UploadDir(id), uniqueName(name, taken))
		job.InputFiles = append(job.InputFiles, path)
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Begin は PENDING / DONE / FAILED のジョブを RUNNING に遷移させ、新しい試行を払い出します。
func (s *Store) Begin(ctx context.Context, id, operation string) (*Attempt, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	job, err := s.update(ctx, id, func(job *Job) error {
		if job.Status == StatusRunning {
			return fmt.Errorf("%w: %s is already running", ErrInvalidTransition, id)
		}
		job.Status = StatusRunning
		job.Operation = operation
		job.Queued = ""
		job.Attempt++
		job.Error = nil
		job.Progress = ProgressInfo{Percent: 0, Stage: "load"}
		return nil
	})
	if err != nil {
		return nil, err
	}

	attempt := &Attempt{JobID: id, Seq: job.Attempt, Dir: s.attemptDir(id, job.Attempt)}
	if err := os.MkdirAll(attempt.Dir, 0o750); err != nil {
		mkErr := fmt.Errorf("create attempt directory: %w", err)
		if failErr := s.Fail(ctx, id, ErrorInfo{Code: "STORAGE_ERROR", Message: mkErr.Error()}); failErr != nil {
			s.logger.Error("failed to record attempt failure", zap.String("job_id", id), zap.Error(failErr))
		}
		return nil, mkErr
	}
	s.logger.Debug("job started",
		zap.String("job_id", id),
		zap.String("operation", operation),
		zap.Int("attempt", attempt.Seq),
	)
	return attempt, nil
}

// UpdateProgress は RUNNING のジョブの進捗を保存します。
func (s *Store) UpdateProgress(ctx context.Context, id string, progress ProgressInfo) error {
	if err := validID(id); err != nil {
		return err
	}
	if progress.Percent < 0 {
		progress.Percent = 0
	}
	if progress.Percent > 100 {
		progress.Percent = 100
	}
	_, err := s.update(ctx, id, func(job *Job) error {
		if job.Status != StatusRunning {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, job.Status)
		}
		job.Progress = progress
		return nil
	})
	return err
}

// MarkQueued はキュー投入済みの操作名を記録します。状態は変えません。
func (s *Store) MarkQueued(ctx context.Context, id, operation string) error {
	if err := validID(id); err != nil {
		return err
	}
	_, err := s.update(ctx, id, func(job *Job) error {
		job.Queued = operation
		return nil
	})
	return err
}

// Complete は RUNNING のジョブを DONE にし、成果物を置き換えます。
// outputs は現在の試行ディレクトリ配下のパスでなければなりません。
func (s *Store) Complete(ctx context.Context, id string, outputs []string, meta any) error {
	if err := validID(id); err != nil {
		return err
	}
	job, err := s.update(ctx, id, func(job *Job) error {
		if job.Status != StatusRunning {
			return fmt.Errorf("%w: complete on %s job", ErrInvalidTransition, job.Status)
		}
		dir := s.attemptDir(id, job.Attempt) + string(filepath.Separator)
		for _, p := range outputs {
			if !strings.HasPrefix(filepath.Clean(p), dir) {
				return fmt.Errorf("%w: %s", ErrOutsideAttempt, p)
			}
		}
		job.Status = StatusDone
		job.OutputFiles = append([]string{}, outputs...)
		job.Meta = meta
		job.Error = nil
		job.Progress = ProgressInfo{Percent: 100, Stage: "completed"}
		return nil
	})
	if err != nil {
		return err
	}
	s.pruneAttempts(id, job.Attempt)
	s.logger.Debug("job completed", zap.String("job_id", id), zap.Int("outputs", len(outputs)))
	return nil
}

// Fail は RUNNING のジョブを FAILED にします。直前に成功した成果物はそのまま残します。
func (s *Store) Fail(ctx context.Context, id string, info ErrorInfo) error {
	if err := validID(id); err != nil {
		return err
	}
	job, err := s.update(ctx, id, func(job *Job) error {
		if job.Status != StatusRunning {
			return fmt.Errorf("%w: fail on %s job", ErrInvalidTransition, job.Status)
		}
		job.Status = StatusFailed
		errInfo := info
		job.Error = &errInfo
		job.Progress.Stage = "failed"
		job.Progress.Message = info.Message
		return nil
	})
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.attemptDir(id, job.Attempt)); err != nil {
		s.logger.Warn("failed to remove attempt directory", zap.String("job_id", id), zap.Error(err))
	}
	s.logger.Debug("job failed", zap.String("job_id", id), zap.String("code", info.Code))
	return nil
}

// Get はジョブ情報を取得します。
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return s.backend.Load(ctx, id)
}

// Delete はジョブレコードとディレクトリを削除します。
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	s.removeDirs(id)
	return nil
}

// Sweep は olderThan より長く更新されていない、実行中でないジョブを削除します。
// 操作のためにロックされているジョブは次回に回します。
func (s *Store) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := s.backend.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, job := range jobs {
		if job.Status == StatusRunning || job.UpdatedAt.After(cutoff) {
			continue
		}
		release, ok := s.tryAcquire(job.ID)
		if !ok {
			continue
		}
		err := s.Delete(ctx, job.ID)
		release()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) update(ctx context.Context, id string, mutate MutateFunc) (*Job, error) {
	return s.backend.Update(ctx, id, func(job *Job) error {
		if err := mutate(job); err != nil {
			return err
		}
		job.UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *Store) pruneAttempts(id string, keep int) {
	entries, err := os.ReadDir(s.OutputDir(id))
	if err != nil {
		return
	}
	keepName := attemptPrefix + strconv.Itoa(keep)
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keepName || !strings.HasPrefix(e.Name(), attemptPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.OutputDir(id), e.Name())); err != nil {
			s.logger.Warn("failed to prune attempt", zap.String("job_id", id), zap.String("dir", e.Name()), zap.Error(err))
		}
	}
}

func (s *Store) removeDirs(id string) {
	for _, dir := range []string{s.UploadDir(id), s.OutputDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove job directory", zap.String("dir", dir), zap.Error(err))
		}
	}
}

// validID は UUID 形式以外の ID をパスに使わせないためのチェックです。
func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

func sanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return name, nil
}

func uniqueName(name string, taken map[string]struct{}) string {
	if _, ok := taken[name]; !ok {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

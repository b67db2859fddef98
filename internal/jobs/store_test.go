package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(NewMemoryBackend(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	return store
}

func writeOutput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("out"), 0o640); err != nil {
		t.Fatalf("failed to write output: %v", err)
	}
	return path
}

func TestStoreCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", job.Status)
	}
	if len(job.InputFiles) != 0 || len(job.OutputFiles) != 0 {
		t.Fatalf("new job should have no files: %#v", job)
	}
	for _, dir := range []string{store.UploadDir(job.ID), store.OutputDir(job.ID)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("job directory %s missing: %v", dir, err)
		}
	}

	other, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if other.ID == job.ID {
		t.Fatal("job ids must be unique")
	}
}

func TestStoreGetUnknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "../etc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestStoreAddInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job, _ := store.Create(ctx)

	first, err := store.AddInput(ctx, job.ID, "report.pdf")
	if err != nil {
		t.Fatalf("AddInput returned error: %v", err)
	}
	second, err := store.AddInput(ctx, job.ID, `C:\tmp\report.pdf`)
	if err != nil {
		t.Fatalf("AddInput returned error: %v", err)
	}
	third, err := store.AddInput(ctx, job.ID, "../../report.pdf")
	if err != nil {
		t.Fatalf("AddInput returned error: %v", err)
	}

	if filepath.Dir(first) != store.UploadDir(job.ID) {
		t.Fatalf("input not placed in upload dir: %s", first)
	}
	if filepath.Base(second) != "report-1.pdf" || filepath.Base(third) != "report-2.pdf" {
		t.Fatalf("unexpected dedupe names: %s, %s", second, third)
	}

	got, _ := store.Get(ctx, job.ID)
	if len(got.InputFiles) != 3 || got.InputFiles[0] != first {
		t.Fatalf("input order not preserved: %#v", got.InputFiles)
	}

	if _, err := store.AddInput(ctx, job.ID, ".."); !errors.Is(err, ErrInvalidFilename) {
		t.Fatalf("expected ErrInvalidFilename, got %v", err)
	}
}

func TestStoreInputsFrozenAfterBegin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job, _ := store.Create(ctx)
	if _, err := store.AddInput(ctx, job.ID, "a.pdf"); err != nil {
		t.Fatalf("AddInput returned error: %v", err)
	}

	if _, err := store.Begin(ctx, job.ID, "merge"); err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if _, err := store.AddInput(ctx, job.ID, "b.pdf"); !errors.Is(err, ErrInputsFrozen) {
		t.Fatalf("expected ErrInputsFrozen while running, got %v", err)
	}
	if err := store.Fail(ctx, job.ID, ErrorInfo{Code: "X", Message: "boom"}); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	if _, err := store.AddInput(ctx, job.ID, "b.pdf"); !errors.Is(err, ErrInputsFrozen) {
		t.Fatalf("expected ErrInputsFrozen after attempt, got %v", err)
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job, _ := store.Create(ctx)

	attempt, err := store.Begin(ctx, job.ID, "split")
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if attempt.Seq != 1 {
		t.Fatalf("attempt seq = %d, want 1", attempt.Seq)
	}
	running, _ := store.Get(ctx, job.ID)
	if running.Status != StatusRunning || running.Operation != "split" {
		t.Fatalf("unexpected running job: %#v", running)
	}

	if _, err := store.Begin(ctx, job.ID, "split"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for double begin, got %v", err)
	}

	if err := store.UpdateProgress(ctx, job.ID, ProgressInfo{Percent: 150, Stage: "write"}); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	progressed, _ := store.Get(ctx, job.ID)
	if progressed.Progress.Percent != 100 {
		t.Fatalf("percent not clamped: %d", progressed.Progress.Percent)
	}

	out := writeOutput(t, attempt.Dir, "split_1_1-3.pdf")
	if err := store.Complete(ctx, job.ID, []string{out}, map[string]int{"parts": 1}); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	done, _ := store.Get(ctx, job.ID)
	if done.Status != StatusDone || len(done.OutputFiles) != 1 || done.OutputFiles[0] != out {
		t.Fatalf("unexpected done job: %#v", done)
	}
	if done.Progress.Percent != 100 || done.Progress.Stage != "completed" {
		t.Fatalf("unexpected final progress: %#v", done.Progress)
	}

	if err := store.UpdateProgress(ctx, job.ID, ProgressInfo{Percent: 10}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on DONE job, got %v", err)
	}
	if err := store.Complete(ctx, job.ID, nil, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on DONE job, got %v", err)
	}
}

func TestStoreCompleteRejectsForeignPaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job, _ := store.Create(ctx)
	if _, err := store.Begin(ctx, job.ID, "merge"); err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}

	foreign := filepath.Join(store.UploadDir(job.ID), "x.pdf")
	if err := store.Complete(ctx, job.ID, []string{foreign}, nil); !errors.Is(err, ErrOutsideAttempt) {
		t.Fatalf("expected ErrOutsideAttempt, got %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusRunning {
		t.Fatalf("rejected completion must not change status: %s", got.Status)
	}
}

func TestStoreRerunReplacesOutputs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job, _ := store.Create(ctx)

	first, _ := store.Begin(ctx, job.ID, "split")
	firstOut := writeOutput(t, first.Dir, "a.pdf")
	if err := store.Complete(ctx, job.ID, []string{firstOut}, nil); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	// 失敗した再実行では直前の成果物が残る
	failed, _ := store.Begin(ctx, job.ID, "rotate")
	writeOutput(t, failed.Dir, "partial.pdf")
	if err := store.Fail(ctx, job.ID, ErrorInfo{Code: "PDF_ERROR", Message: "broken"}); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	afterFail, _ := store.Get(ctx, job.ID)
	if afterFail.Status != StatusFailed || afterFail.Error == nil || afterFail.Error.Code != "PDF_ERROR" {
		t.Fatalf("unexpected failed job: %#v", afterFail)
	}
	if len(afterFail.OutputFiles) != 1 || afterFail.OutputFiles[0] != firstOut {
		t.Fatalf("previous outputs must survive a failed attempt: %#v", afterFail.OutputFiles)
	}
	if _, err := os.Stat(failed.Dir); !os.IsNotExist(err) {
		t.Fatalf("failed attempt directory should be removed: %v", err)
	}

	third, _ := store.Begin(ctx, job.ID, "reorder")
	if third.Seq != 3 {
		t.Fatalf("attempt seq = %d, want 3", third.Seq)
	}
	thirdOut := writeOutput(t, third.Dir, "reordered.pdf")
	if err := store.Complete(ctx, job.ID, []string{thirdOut}, nil); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	final, _ := store.Get(ctx, job.ID)
	if len(final.OutputFiles) != 1 || final.OutputFiles[0] != thirdOut || final.Error != nil {
		t.Fatalf("outputs not replaced: %#v", final)
	}
	if _, err := os.Stat(first.Dir); !os.IsNotExist(err) {
		t.Fatalf("superseded attempt directory should be removed: %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job, _ := store.Create(ctx)

	if err := store.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Get(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(store.UploadDir(job.ID)); !os.IsNotExist(err) {
		t.Fatalf("upload dir should be removed: %v", err)
	}
	if err := store.Delete(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	stale, _ := store.Create(ctx)
	busy, _ := store.Create(ctx)
	if _, err := store.Begin(ctx, busy.ID, "compress"); err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	fresh, _ := store.Create(ctx)

	removed, err := store.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.Get(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale job should be swept, got %v", err)
	}
	for _, id := range []string{busy.ID, fresh.ID} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("job %s should survive sweep: %v", id, err)
		}
	}
}

func TestStoreSweepSkipsLockedJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	job, _ := store.Create(ctx)
	store.now = func() time.Time { return base.Add(2 * time.Hour) }

	// 操作が Acquire 済みで Begin 前の状態
	release, err := store.Acquire(ctx, job.ID)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	removed, err := store.Sweep(ctx, time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("Sweep = %d, %v; want 0, nil", removed, err)
	}
	if _, err := os.Stat(store.UploadDir(job.ID)); err != nil {
		t.Fatalf("upload dir should survive while locked: %v", err)
	}

	release()
	removed, err = store.Sweep(ctx, time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("Sweep after release = %d, %v; want 1, nil", removed, err)
	}
	if len(store.locks) != 0 {
		t.Fatalf("lock table should be empty, got %d entries", len(store.locks))
	}
}

func TestStoreAcquireSerializesSameJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job, _ := store.Create(ctx)

	release, err := store.Acquire(ctx, job.ID)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := store.Acquire(waitCtx, job.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second acquire to block, got %v", err)
	}

	release()
	release()

	again, err := store.Acquire(ctx, job.ID)
	if err != nil {
		t.Fatalf("Acquire after release returned error: %v", err)
	}
	again()
}

func TestStoreConcurrentDistinctJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	for i := range ids {
		job, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		ids[i] = job.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			release, err := store.Acquire(ctx, id)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			attempt, err := store.Begin(ctx, id, "compress")
			if err != nil {
				errs <- err
				return
			}
			out := filepath.Join(attempt.Dir, "compressed_medium.pdf")
			if err := os.WriteFile(out, []byte("x"), 0o640); err != nil {
				errs <- err
				return
			}
			if err := store.Complete(ctx, id, []string{out}, nil); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent job failed: %v", err)
	}

	for _, id := range ids {
		job, _ := store.Get(ctx, id)
		if job.Status != StatusDone || len(job.OutputFiles) != 1 {
			t.Fatalf("job %s not completed: %#v", id, job)
		}
		if filepath.Dir(filepath.Dir(job.OutputFiles[0])) != store.OutputDir(id) {
			t.Fatalf("job %s output leaked outside its directory: %s", id, job.OutputFiles[0])
		}
	}
}

package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrToolUnavailable は外部コマンドが設定されていない、または見つからない場合に返されます。
var ErrToolUnavailable = errors.New("external tool unavailable")

// Runner は外部コマンドを実行します。テストではスタブに差し替えます。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner は os/exec で外部コマンドを実行する Runner です。
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner は ExecRunner を作成します。
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Run はコマンドを実行し、標準出力と標準エラーを返します。
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, ErrToolUnavailable
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Error("exec failed",
			zap.String("cmd", name),
			zap.String("args", strings.Join(args, " ")),
			zap.Duration("elapsed", elapsed),
			zap.String("stderr", truncate(errb.String(), 8<<10)),
			zap.Error(err),
		)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrToolUnavailable, name)
		}
		return out.Bytes(), errb.Bytes(), err
	}

	r.logger.Debug("exec ok",
		zap.String("cmd", name),
		zap.Duration("elapsed", elapsed),
		zap.Int("stdout_bytes", out.Len()),
		zap.Int("stderr_bytes", errb.Len()),
	)
	return out.Bytes(), errb.Bytes(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// toolError は外部コマンドの失敗を標準エラーの内容つきで包みます。
func toolError(tool string, stderr []byte, err error) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return fmt.Errorf("%s: %w", tool, err)
	}
	return fmt.Errorf("%s: %w: %s", tool, err, truncate(msg, 512))
}

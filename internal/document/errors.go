package document

import (
	"errors"
	"fmt"

	"github.com/yourusername/docforge/internal/jobs"
)

// エラー種別です。errors.Is で判定します。
var (
	ErrParse                 = errors.New("parse error")
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrNotReady              = errors.New("not ready")
	ErrUnsupportedConversion = errors.New("unsupported conversion")
	ErrOperation             = errors.New("operation failed")
)

// Error は API に返すエラーを表します。Message は利用者向け、Err は内部原因です。
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別の一致を判定します。ErrNotFound は jobs.ErrNotFound とも一致します。
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrNotFound && target == jobs.ErrNotFound
}

func newError(kind error, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func parseError(err error) *Error {
	return newError(ErrParse, "INVALID_RANGE", "ページ指定の形式が正しくありません。", err)
}

func validationError(code, message string) *Error {
	return newError(ErrValidation, code, message, nil)
}

func notFoundError(err error) *Error {
	return newError(ErrNotFound, "NOT_FOUND", "ジョブが見つかりません。", err)
}

// storeError はジョブストアのエラーを API エラーに変換します。
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jobs.ErrNotFound):
		return notFoundError(err)
	case errors.Is(err, jobs.ErrInvalidTransition):
		return newError(ErrNotReady, "JOB_BUSY", "このジョブは処理中です。完了後に再度お試しください。", err)
	case errors.Is(err, jobs.ErrInputsFrozen):
		return newError(ErrValidation, "INPUTS_FROZEN", "処理開始後のジョブにはファイルを追加できません。", err)
	case errors.Is(err, jobs.ErrInvalidFilename):
		return newError(ErrValidation, "INVALID_FILENAME", "ファイル名が不正です。", err)
	}
	return err
}

package jobs

import "errors"

var (
	// ErrNotFound は指定したジョブが存在しない場合に返されます。
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition は状態遷移が許されていない場合に返されます。
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrInputsFrozen は処理開始後に入力を追加しようとした場合に返されます。
	ErrInputsFrozen = errors.New("job inputs are frozen")

	// ErrInvalidFilename はファイル名として使えない値が渡された場合に返されます。
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrOutsideAttempt は成果物パスが現在の試行ディレクトリ外を指している場合に返されます。
	ErrOutsideAttempt = errors.New("output path outside of attempt directory")

	errDuplicateID = errors.New("job id already exists")
)

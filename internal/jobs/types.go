package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// IsTerminal は DONE または FAILED の場合に true を返します。
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job はジョブの現在状態を表します。
//
// InputFiles はアップロード中のみ追記でき、最初の Begin 以降は変更されません。
// OutputFiles は Complete のたびに丸ごと置き換えられます。
type Job struct {
	ID          string       `json:"jobId"`
	Status      Status       `json:"status"`
	Operation   string       `json:"operation,omitempty"`
	Queued      string       `json:"queued,omitempty"`
	InputFiles  []string     `json:"inputFiles"`
	OutputFiles []string     `json:"outputFiles"`
	Progress    ProgressInfo `json:"progress"`
	Meta        any          `json:"meta,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
	Attempt     int          `json:"attempt"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// InputsFrozen は一度でも処理が開始されたかどうかを返します。
func (j *Job) InputsFrozen() bool {
	return j.Attempt > 0
}

// Clone はスライスを複製したコピーを返します。Meta は不変として共有します。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.InputFiles = append([]string(nil), j.InputFiles...)
	c.OutputFiles = append([]string(nil), j.OutputFiles...)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// Attempt は Begin で払い出される処理試行です。成果物は Dir 配下に書き出します。
type Attempt struct {
	JobID string
	Seq   int
	Dir   string
}

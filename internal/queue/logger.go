package queue

import "go.uber.org/zap"

// zapLogger は asynq.Logger を zap で実装します。
type zapLogger struct {
	s *zap.SugaredLogger
}

func newLogger(l *zap.Logger) *zapLogger {
	return &zapLogger{s: l.Named("asynq").Sugar()}
}

func (l *zapLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l *zapLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *zapLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l *zapLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l *zapLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }

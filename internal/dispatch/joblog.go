package dispatch

import (
	"bytes"
	"sync"

	zaplogfmt "github.com/sykesm/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// jobLog captures the log output of one job execution.
// The returned logger writes logfmt lines into an in-memory buffer
// and additionally tees to the parent logger, so job logs show up in
// the process log too.
type jobLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func newJobLog(parent *zap.Logger) (*zap.Logger, *jobLog) {
	jl := &jobLog{}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.LevelKey = "loglevel"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	captureCore := zapcore.NewCore(
		zaplogfmt.NewEncoder(encCfg),
		zapcore.AddSync(jl),
		zapcore.DebugLevel,
	)

	logger := parent.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, captureCore)
	}))

	return logger, jl
}

func (l *jobLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.buf.Write(p)
}

func (l *jobLog) Sync() error { return nil }

func (l *jobLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.buf.String()
}

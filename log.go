package dataengine

import "go.uber.org/zap"

// newLogger builds the process-wide structured logger. Engine threads the
// *zap.Logger explicitly rather than stashing it in a context, since there
// is no per-request HTTP context layer here.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	zapLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = zapLevel
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

package glia

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/glia-dev/glia/internal/config"
)

var (
	defaultMu     sync.Mutex
	defaultSender Sender

	loggerOnce sync.Once
	baseLogger *zap.Logger
)

// SetDefaultSender replaces the sender used by adapters that were not given
// one with WithSender. Passing nil restores the environment-configured default.
func SetDefaultSender(s Sender) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultSender = s
}

// DefaultSender returns the process-wide sender. On first use it builds a
// Transmitter from GLIA_API_URL and GLIA_TIMEOUT.
func DefaultSender() Sender {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultSender == nil {
		defaultSender = NewTransmitter(transmitterConfigFromEnv())
	}
	return defaultSender
}

func transmitterConfigFromEnv() TransmitterConfig {
	// c keeps GLIA_API_URL and the default timeout even when GLIA_TIMEOUT is unusable.
	c, err := config.LoadClient(context.Background())
	if err != nil {
		defaultLogger().Warn("Ignoring invalid telemetry timeout",
			zap.Duration("timeout", c.Timeout),
			zap.Error(err))
	}
	return TransmitterConfig{
		BaseURL: c.APIURL,
		Timeout: c.Timeout,
	}
}

// defaultLogger writes warnings and above to stderr.
func defaultLogger() *zap.Logger {
	loggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		cfg.Encoding = "console"
		cfg.DisableStacktrace = true
		cfg.DisableCaller = true

		l, err := cfg.Build()
		if err != nil {
			baseLogger = zap.NewNop()
			return
		}
		baseLogger = l.Named("glia")
	})
	return baseLogger
}

package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/commitguard/internal/runtime/config"
	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	handlerpkg "github.com/drblury/commitguard/internal/runtime/handlers"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
)

func withLogLevelBinding(c *configpkg.Config) {
	c.Bindings[configpkg.LogLevelAdjusterBinding] = configpkg.LogLevelAdjustmentTopic
	c.ConsumeBindings = map[string]string{
		configpkg.LogLevelAdjusterBinding: configpkg.LogLevelAdjustmentTopic + "_orders",
	}
}

func adjustmentContext(f *serviceFixture, adj LogLevelAdjustment) handlerpkg.JSONMessageContext[LogLevelAdjustment] {
	env := envelopepkg.New(nil, nil)
	return handlerpkg.JSONMessageContext[LogLevelAdjustment]{
		MessageContextBase: handlerpkg.MessageContextBase{
			Envelope: env,
			Metadata: env.Metadata,
			Logger:   f.logger,
		},
		Payload: adj,
	}
}

func TestRegisterLogLevelAdjusterValidates(t *testing.T) {
	f := newServiceFixture(t, nil)
	registry := loggingpkg.NewLevelRegistry(slog.LevelInfo)

	assert.Error(t, RegisterLogLevelAdjuster(nil, registry))
	assert.Error(t, RegisterLogLevelAdjuster(f.svc, nil))
	assert.ErrorContains(t, RegisterLogLevelAdjuster(f.svc, registry), "log level adjustment")
	assert.Empty(t, f.svc.Handlers())
}

func TestRegisterLogLevelAdjuster(t *testing.T) {
	f := newServiceFixture(t, withLogLevelBinding)
	registry := loggingpkg.NewLevelRegistry(slog.LevelInfo)

	require.NoError(t, RegisterLogLevelAdjuster(f.svc, registry))

	handlers := f.svc.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, LogLevelAdjusterHandlerName, handlers[0].Name)
	assert.Equal(t, configpkg.LogLevelAdjustmentTopic, handlers[0].Topic)
	assert.Equal(t, "log_level_adjustment_orders", handlers[0].Group)
}

func TestAdjustLogLevel(t *testing.T) {
	f := newServiceFixture(t, withLogLevelBinding)
	registry := loggingpkg.NewLevelRegistry(slog.LevelInfo)
	registry.Register("payments")
	handler := adjustLogLevel(f.svc, registry)

	t.Run("other application", func(t *testing.T) {
		err := handler(context.Background(), adjustmentContext(f, LogLevelAdjustment{
			ApplicationName: "billing", LoggerName: "root", LogLevel: "DEBUG",
		}))
		require.NoError(t, err)
		root, _ := registry.Lookup("root")
		assert.Equal(t, slog.LevelInfo, root.Level())
		_, ok := f.logger.find("debug", "Logger not changed, not for this application")
		assert.True(t, ok)
	})

	t.Run("root logger", func(t *testing.T) {
		err := handler(context.Background(), adjustmentContext(f, LogLevelAdjustment{
			ApplicationName: "orders", LoggerName: "root", LogLevel: "debug",
		}))
		require.NoError(t, err)
		root, _ := registry.Lookup("root")
		assert.Equal(t, slog.LevelDebug, root.Level())
		_, ok := f.logger.find("info", "Changed logger: root to level DEBUG")
		assert.True(t, ok)
		_, ok = f.logger.find("info", "Std headers: ")
		assert.True(t, ok)
	})

	t.Run("named logger", func(t *testing.T) {
		err := handler(context.Background(), adjustmentContext(f, LogLevelAdjustment{
			ApplicationName: "orders", LoggerName: "payments", LogLevel: "ERROR",
		}))
		require.NoError(t, err)
		lv, _ := registry.Lookup("payments")
		assert.Equal(t, slog.LevelError, lv.Level())
	})

	t.Run("unknown logger", func(t *testing.T) {
		err := handler(context.Background(), adjustmentContext(f, LogLevelAdjustment{
			ApplicationName: "orders", LoggerName: "nobody", LogLevel: "ERROR",
		}))
		require.NoError(t, err)
		entry, ok := f.logger.find("error", "Unable to change logger level")
		require.True(t, ok)
		assert.Equal(t, "nobody", entry.fields["logger_name"])
	})
}

func TestLogLevelAdjusterEndToEnd(t *testing.T) {
	f := newServiceFixture(t, withLogLevelBinding)
	registry := loggingpkg.NewLevelRegistry(slog.LevelInfo)
	require.NoError(t, RegisterLogLevelAdjuster(f.svc, registry))
	f.run(t)

	f.publish(t, configpkg.LogLevelAdjustmentTopic, "adj-1",
		`{"applicationName":"orders","loggerName":"root","logLevel":"WARN"}`)

	root, _ := registry.Lookup("root")
	require.Eventually(t, func() bool {
		return root.Level() == slog.LevelWarn
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.svc.Metrics().GetSnapshot().TotalCommits == 1
	}, waitFor, 10*time.Millisecond)
}

package runtime

import (
	"context"
	"strings"

	configpkg "github.com/drblury/commitguard/internal/runtime/config"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	handlerpkg "github.com/drblury/commitguard/internal/runtime/handlers"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
)

// LogLevelAdjustment asks one application to change the level of a logger.
// LoggerName "root" addresses the process-wide level.
type LogLevelAdjustment struct {
	ApplicationName string `json:"applicationName"`
	LoggerName      string `json:"loggerName"`
	LogLevel        string `json:"logLevel"`
}

// LogLevelAdjusterHandlerName names the handler registered by RegisterLogLevelAdjuster.
const LogLevelAdjusterHandlerName = "log_level_adjuster"

// RegisterLogLevelAdjuster consumes log level adjustment messages and applies
// the ones addressed to this application to registry. The adjuster binding
// must point at the adjustment topic with a group unique to the application.
func RegisterLogLevelAdjuster(svc *Service, registry *loggingpkg.LevelRegistry) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if registry == nil {
		return errspkg.ErrLoggerRequired
	}
	if err := svc.Conf.ValidateLogLevelAdjustment(); err != nil {
		return err
	}

	return RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[LogLevelAdjustment]{
		Name:           LogLevelAdjusterHandlerName,
		ConsumeBinding: configpkg.LogLevelAdjusterBinding,
		Handler:        adjustLogLevel(svc, registry),
	})
}

func adjustLogLevel(svc *Service, registry *loggingpkg.LevelRegistry) handlerpkg.JSONMessageHandler[LogLevelAdjustment] {
	return func(_ context.Context, msg handlerpkg.JSONMessageContext[LogLevelAdjustment]) error {
		adj := msg.Payload
		if !strings.EqualFold(strings.TrimSpace(adj.ApplicationName), svc.Conf.AppName) {
			msg.Logger.Debug("Logger not changed, not for this application", loggingpkg.LogFields{
				"application_name": adj.ApplicationName,
			})
			return nil
		}

		svc.coordinator.LogStandardHeaders(msg.Envelope)

		name := strings.TrimSpace(adj.LoggerName)
		if name == "" {
			name = loggingpkg.RootLoggerName
		}
		if err := registry.Set(name, adj.LogLevel); err != nil {
			// Redelivery will not make the logger or level known, so the
			// message is committed anyway.
			msg.Logger.Error("Unable to change logger level", err, loggingpkg.LogFields{
				"logger_name": name,
				"log_level":   adj.LogLevel,
			})
			return nil
		}

		msg.Logger.Info("Changed logger: "+name+" to level "+strings.ToUpper(adj.LogLevel), nil)
		return nil
	}
}

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// RootLoggerName addresses the process-wide level in a LevelRegistry.
const RootLoggerName = "root"

// LevelRegistry holds named slog.LevelVars so levels can be changed while the
// process runs. Loggers built from the registry pick up changes immediately.
type LevelRegistry struct {
	mu    sync.RWMutex
	root  *slog.LevelVar
	named map[string]*slog.LevelVar
}

// NewLevelRegistry creates a registry whose root level starts at initial.
func NewLevelRegistry(initial slog.Level) *LevelRegistry {
	root := new(slog.LevelVar)
	root.Set(initial)
	return &LevelRegistry{root: root, named: make(map[string]*slog.LevelVar)}
}

// Register returns the LevelVar for name, creating it at the current root
// level when it does not exist yet.
func (r *LevelRegistry) Register(name string) *slog.LevelVar {
	if name == "" || strings.EqualFold(name, RootLoggerName) {
		return r.root
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if lv, ok := r.named[name]; ok {
		return lv
	}
	lv := new(slog.LevelVar)
	lv.Set(r.root.Level())
	r.named[name] = lv
	return lv
}

// Lookup returns the LevelVar registered under name.
func (r *LevelRegistry) Lookup(name string) (*slog.LevelVar, bool) {
	if strings.EqualFold(name, RootLoggerName) {
		return r.root, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	lv, ok := r.named[name]
	return lv, ok
}

// Set changes the level of a registered logger. Unknown names are rejected so
// typos in adjustment messages do not silently create new loggers.
func (r *LevelRegistry) Set(name, level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}
	lv, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("commitguard: unknown logger %q", name)
	}
	lv.Set(parsed)
	return nil
}

// Names lists the registered logger names, root first.
func (r *LevelRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.named))
	for name := range r.named {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return append([]string{RootLoggerName}, names...)
}

// NewLogger builds a JSON slog-backed ServiceLogger whose level follows the
// registry entry for name.
func (r *LevelRegistry) NewLogger(name string, w io.Writer) ServiceLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: r.Register(name)})
	log := slog.New(handler)
	if name != "" && !strings.EqualFold(name, RootLoggerName) {
		log = log.With("logger", name)
	}
	return NewSlogServiceLogger(log)
}

// ParseLevel accepts the usual level names, case-insensitively, including
// TRACE and the WARNING alias.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("commitguard: unknown log level %q", level)
	}
}

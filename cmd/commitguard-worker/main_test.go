package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/commitguard"
)

type recordingCycle struct {
	enqueued map[string][]*commitguard.Envelope
}

func (c *recordingCycle) SendNow(context.Context, string, *commitguard.Envelope) bool { return true }

func (c *recordingCycle) EnqueueAtCommit(binding string, env *commitguard.Envelope) error {
	if c.enqueued == nil {
		c.enqueued = map[string][]*commitguard.Envelope{}
	}
	c.enqueued[binding] = append(c.enqueued[binding], env)
	return nil
}

func (c *recordingCycle) Commit(context.Context) error { return nil }

func (c *recordingCycle) Committed() bool { return false }

func TestRelayEnqueuesPayloadWithCorrelationID(t *testing.T) {
	cycle := &recordingCycle{}
	md := commitguard.NewMetadata(commitguard.MetadataKeyCorrelationID, "corr-1")
	msg := commitguard.JSONMessageContext[map[string]any]{
		MessageContextBase: commitguard.MessageContextBase{
			Envelope: commitguard.NewEnvelope(nil, md),
			Metadata: md,
			Cycle:    cycle,
		},
		Payload: map[string]any{"id": "p-1"},
	}

	require.NoError(t, relay("relay-out-0")(context.Background(), msg))

	require.Len(t, cycle.enqueued["relay-out-0"], 1)
	out := cycle.enqueued["relay-out-0"][0]
	assert.Equal(t, map[string]any{"id": "p-1"}, out.Payload)
	assert.Equal(t, "corr-1", out.Metadata[commitguard.MetadataKeyCorrelationID])
}

func TestNewLogger(t *testing.T) {
	levels := commitguard.NewLevelRegistry(slog.LevelInfo)

	for _, format := range []string{"slog", "zap", "logrus"} {
		t.Run(format, func(t *testing.T) {
			logger, err := newLogger(format, "debug", levels)
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}

	root, _ := levels.Lookup("root")
	assert.Equal(t, slog.LevelDebug, root.Level())

	_, err := newLogger("syslog", "info", levels)
	assert.Error(t, err)
	_, err = newLogger("zap", "loud", levels)
	assert.Error(t, err)
}

func TestCheckConfigCommand(t *testing.T) {
	t.Setenv("CGTEST_APP_NAME", "relay")
	t.Setenv("CGTEST_REDIS_PASSWORD", "hunter2")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"commitguard-worker", "--env-prefix", "CGTEST", "check-config"}))

	assert.Contains(t, out.String(), "AppName:relay")
	assert.NotContains(t, out.String(), "hunter2")
}

func TestCheckConfigRejectsInvalidConfig(t *testing.T) {
	t.Setenv("CGBAD_PUBSUB_SYSTEM", "kafka")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"commitguard-worker", "--env-prefix", "CGBAD", "check-config"})
	assert.ErrorContains(t, err, "brokers are required")
}

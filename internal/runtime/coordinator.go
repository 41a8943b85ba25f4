package runtime

import (
	"context"
	"strconv"
	"sync"
	"time"

	dedupkg "github.com/drblury/commitguard/internal/runtime/dedup"
	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	outboxpkg "github.com/drblury/commitguard/internal/runtime/outbox"
	overtimepkg "github.com/drblury/commitguard/internal/runtime/overtime"
)

// CoordinatorOptions configures a Coordinator. Only Producer is required.
type CoordinatorOptions struct {
	Store    dedupkg.Store
	Producer *Producer
	Logger   loggingpkg.ServiceLogger
	Metrics  *CommitMetrics
	Hooks    CycleHooks

	// MaxProcessingTime is the overtime threshold; zero selects the default.
	MaxProcessingTime time.Duration
	// PartitionScoped adds the partition to the dedup key.
	PartitionScoped bool
	// Clock replaces time.Now.
	Clock func() time.Time
}

// Coordinator ties deduplication, the outbox and the overtime monitor to the
// processing cycle of each inbound message.
type Coordinator struct {
	store           dedupkg.Store
	producer        *Producer
	overtime        *overtimepkg.Monitor
	logger          loggingpkg.ServiceLogger
	metrics         *CommitMetrics
	hooks           CycleHooks
	partitionScoped bool
	now             func() time.Time
	attempts        *attemptTracker

	mu     sync.Mutex
	cycles map[string]*Cycle
}

// NewCoordinator builds a Coordinator. A nil store selects the in-memory
// dedup store.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Producer == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	store := opts.Store
	if store == nil {
		store = dedupkg.NewMemoryStore()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		store:           store,
		producer:        opts.Producer,
		overtime:        overtimepkg.New(opts.MaxProcessingTime, logger, overtimepkg.WithClock(now)),
		logger:          logger,
		metrics:         opts.Metrics,
		hooks:           opts.Hooks,
		partitionScoped: opts.PartitionScoped,
		now:             now,
		attempts:        newAttemptTracker(),
		cycles:          make(map[string]*Cycle),
	}, nil
}

// Store returns the dedup store.
func (c *Coordinator) Store() dedupkg.Store {
	return c.store
}

// Producer returns the producer used for outbound sends.
func (c *Coordinator) Producer() *Producer {
	return c.producer
}

// BeginProcessing opens the processing cycle of env. It starts the overtime
// window for the message identity and partition, stamps the delivery attempt
// when the transport did not, and drops outbound messages a previous
// uncommitted cycle of the same partition left behind. Partitions of one
// topic/group are processed concurrently and never share a cycle.
func (c *Coordinator) BeginProcessing(ctx context.Context, env *envelopepkg.Envelope) (*Cycle, error) {
	if env == nil {
		return nil, errspkg.ErrEnvelopeRequired
	}
	if env.Metadata == nil {
		env.Metadata = metadatapkg.Metadata{}
	}
	if ctx == nil {
		ctx = env.Context()
	}

	key, slot, id, hasIdentity := c.keysOf(env)
	if !hasIdentity {
		id.Topic = env.Metadata[metadatapkg.KeyReceivedTopic]
	}
	position, hasPosition := env.Metadata.Position()
	if hasIdentity && hasPosition {
		attempt := c.attempts.next(slot, position.String())
		if _, ok := env.Metadata[metadatapkg.KeyDeliveryAttempt]; !ok {
			env.Metadata[metadatapkg.KeyDeliveryAttempt] = strconv.Itoa(attempt)
		}
	}

	cycle := &Cycle{
		coordinator: c,
		ctx:         ctx,
		env:         env,
		key:         key,
		slot:        slot,
		identity:    id,
		hasIdentity: hasIdentity,
		buffer:      outboxpkg.NewBuffer(c.logger.With(loggingpkg.LogFields{"identity": slot})),
		startedAt:   c.now(),
	}

	c.mu.Lock()
	previous := c.cycles[slot]
	c.cycles[slot] = cycle
	c.mu.Unlock()

	if previous != nil {
		c.metrics.RecordDiscarded(previous.discard())
	}

	c.overtime.Begin(slot)
	c.hooks.begin(cycle.event())
	return cycle, nil
}

// IsDuplicate reports whether env is a redelivery of the message last
// committed for its identity. Messages without identity or position headers
// are never duplicates. A failing store is logged and the message treated as
// new.
func (c *Coordinator) IsDuplicate(env *envelopepkg.Envelope) bool {
	if env == nil {
		return false
	}
	key, id, ok := c.identityOf(env)
	if !ok {
		return false
	}
	position, ok := env.Metadata.Position()
	if !ok {
		return false
	}

	stored, found, err := c.store.Lookup(env.Context(), key)
	if err != nil {
		c.logger.Error("Dedup lookup failed, treating message as new", err, loggingpkg.LogFields{
			"identity": key,
			"position": position.String(),
		})
		return false
	}
	if !found || stored != position.String() {
		return false
	}

	c.metrics.RecordDuplicate(id.Topic)
	c.hooks.duplicate(CycleEvent{
		Context:     env.Context(),
		MessageUUID: env.UUID,
		Identity:    key,
		Topic:       id.Topic,
		Position:    stored,
		Metadata:    env.Metadata,
	})
	return true
}

// SendNow publishes env on binding outside of any cycle.
func (c *Coordinator) SendNow(ctx context.Context, binding string, env *envelopepkg.Envelope) bool {
	return c.producer.SendNow(ctx, binding, env)
}

// Commit commits the open cycle of env.
func (c *Coordinator) Commit(ctx context.Context, env *envelopepkg.Envelope) error {
	cycle, ok := c.CycleFor(env)
	if !ok {
		return errspkg.ErrNoCycle
	}
	return cycle.Commit(ctx)
}

// CycleFor returns the open cycle of env's identity and partition.
func (c *Coordinator) CycleFor(env *envelopepkg.Envelope) (*Cycle, bool) {
	if env == nil {
		return nil, false
	}
	_, slot, _, _ := c.keysOf(env)
	c.mu.Lock()
	defer c.mu.Unlock()
	cycle, ok := c.cycles[slot]
	return cycle, ok
}

// LogStandardHeaders logs the standard inbound headers of env.
func (c *Coordinator) LogStandardHeaders(env *envelopepkg.Envelope) {
	if env == nil {
		return
	}
	c.logger.Info("Std headers: "+env.Metadata.StandardSummary(), nil)
}

// identityOf returns the dedup key of env. Messages without identity headers
// are keyed by UUID so they still get an overtime window.
func (c *Coordinator) identityOf(env *envelopepkg.Envelope) (string, metadatapkg.Identity, bool) {
	id, ok := env.Metadata.Identity()
	if !ok {
		return "uuid:" + env.UUID, metadatapkg.Identity{}, false
	}
	if c.partitionScoped {
		if position, ok := env.Metadata.Position(); ok {
			id = id.WithPartition(position.Partition)
		}
	}
	return id.Key(), id, true
}

// keysOf returns the dedup key of env and the slot its cycle, overtime
// window and delivery attempts are tracked under. The slot always carries the
// partition when one is known, whether or not the dedup key does.
func (c *Coordinator) keysOf(env *envelopepkg.Envelope) (string, string, metadatapkg.Identity, bool) {
	key, id, ok := c.identityOf(env)
	if !ok {
		return key, key, id, false
	}
	position, hasPosition := env.Metadata.Position()
	if !hasPosition {
		return key, key, id, true
	}
	return key, id.WithPartition(position.Partition).Key(), id, true
}

// release closes cycle without committing it.
func (c *Coordinator) release(cycle *Cycle) {
	c.overtime.Cancel(cycle.slot)
	c.forget(cycle)
}

func (c *Coordinator) forget(cycle *Cycle) {
	c.mu.Lock()
	if c.cycles[cycle.slot] == cycle {
		delete(c.cycles, cycle.slot)
	}
	c.mu.Unlock()
}

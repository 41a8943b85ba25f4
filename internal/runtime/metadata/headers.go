package metadata

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/drblury/commitguard/internal/runtime/logging"
)

// Standard headers attached to every inbound message by the consumer side.
const (
	KeyReceivedTopic     = "received-topic"
	KeyConsumerGroup     = "consumer-group"
	KeyReceivedPartition = "received-partition"
	KeyOffset            = "offset"
	KeyReceivedTimestamp = "received-timestamp"
	KeyDeliveryAttempt   = "delivery-attempt"

	// KeyProducerID is set on outbound messages from the binding name.
	KeyProducerID = "producerid"

	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"
)

const nullValue = "null"

// Value returns the header stored under key.
func (m Metadata) Value(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// IsPresent reports whether key exists and equals one of candidates. When a
// logger is supplied the matching value is logged at info level.
func (m Metadata) IsPresent(logger logging.ServiceLogger, key string, candidates ...string) bool {
	if key == "" || len(candidates) == 0 {
		return false
	}
	value, ok := m.Value(key)
	if !ok || !slices.Contains(candidates, value) {
		return false
	}
	if logger != nil {
		logger.Info("Selected on header", logging.LogFields{"key": key, "value": value})
	}
	return true
}

// StandardSummary renders the standard headers into one diagnostic line.
// Missing values print as null; a missing delivery attempt prints as -1.
func (m Metadata) StandardSummary() string {
	attempt, ok := m.Value(KeyDeliveryAttempt)
	if !ok || attempt == "" {
		attempt = "-1"
	}
	return fmt.Sprintf("topic/group: %s/%s, part/off: %s/%s, produced: %s, attempt: %s",
		m.orNull(KeyReceivedTopic),
		m.orNull(KeyConsumerGroup),
		m.orNull(KeyReceivedPartition),
		m.orNull(KeyOffset),
		m.orNull(KeyReceivedTimestamp),
		attempt,
	)
}

func (m Metadata) orNull(key string) string {
	if v, ok := m.Value(key); ok {
		return v
	}
	return nullValue
}

// Identity is the (topic, consumer group) pair a message was received on.
// When PartitionScoped is set the partition becomes part of the key.
type Identity struct {
	Topic           string
	Group           string
	Partition       int32
	PartitionScoped bool
}

// Key renders the identity as "topic/group", or "topic/group#partition" when
// partition scoped.
func (i Identity) Key() string {
	if i.PartitionScoped {
		return fmt.Sprintf("%s/%s#%d", i.Topic, i.Group, i.Partition)
	}
	return i.Topic + "/" + i.Group
}

// WithPartition returns a partition-scoped copy of the identity.
func (i Identity) WithPartition(partition int32) Identity {
	i.Partition = partition
	i.PartitionScoped = true
	return i
}

func (i Identity) String() string {
	return i.Key()
}

// Position locates a message in the log.
type Position struct {
	Partition int32
	Offset    int64
}

// String renders "partition/offset". Dedup compares this form as a unit.
func (p Position) String() string {
	return fmt.Sprintf("%d/%d", p.Partition, p.Offset)
}

// Identity extracts the received topic and consumer group. Both must be present.
func (m Metadata) Identity() (Identity, bool) {
	topic, ok := m.Value(KeyReceivedTopic)
	if !ok || topic == "" {
		return Identity{}, false
	}
	group, ok := m.Value(KeyConsumerGroup)
	if !ok || group == "" {
		return Identity{}, false
	}
	return Identity{Topic: topic, Group: group}, true
}

// Position parses the received partition and offset headers.
func (m Metadata) Position() (Position, bool) {
	rawPartition, ok := m.Value(KeyReceivedPartition)
	if !ok {
		return Position{}, false
	}
	rawOffset, ok := m.Value(KeyOffset)
	if !ok {
		return Position{}, false
	}
	partition, err := strconv.ParseInt(rawPartition, 10, 32)
	if err != nil {
		return Position{}, false
	}
	offset, err := strconv.ParseInt(rawOffset, 10, 64)
	if err != nil {
		return Position{}, false
	}
	return Position{Partition: int32(partition), Offset: offset}, true
}

// DeliveryAttempt parses the delivery-attempt header, returning -1 when absent
// or malformed.
func (m Metadata) DeliveryAttempt() int {
	raw, ok := m.Value(KeyDeliveryAttempt)
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// WithPosition returns a copy carrying the given identity and position as
// standard headers.
func (m Metadata) WithPosition(id Identity, pos Position) Metadata {
	return m.Merge(Metadata{
		KeyReceivedTopic:     id.Topic,
		KeyConsumerGroup:     id.Group,
		KeyReceivedPartition: strconv.FormatInt(int64(pos.Partition), 10),
		KeyOffset:            strconv.FormatInt(pos.Offset, 10),
	})
}

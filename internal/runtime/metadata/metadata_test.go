package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromPairs(t *testing.T) {
	md := New(KeyCorrelationID, "corr-1", "type", "created", "dangling")
	assert.Equal(t, Metadata{KeyCorrelationID: "corr-1", "type": "created"}, md)
	assert.Empty(t, New())
}

func TestStampingOutboundCopyLeavesInboundHeaders(t *testing.T) {
	in := inbound()
	out := in.With(KeyProducerID, "shipments")

	assert.Equal(t, "shipments", out[KeyProducerID])
	_, stamped := in[KeyProducerID]
	assert.False(t, stamped)

	id, ok := out.Identity()
	require.True(t, ok)
	assert.Equal(t, "orders/worker-1", id.Key())
}

func TestCloneOfNilIsWritable(t *testing.T) {
	var md Metadata
	cloned := md.Clone()
	require.NotNil(t, cloned)
	cloned[KeyDeliveryAttempt] = "1"
	assert.Nil(t, md)

	assert.Equal(t, Metadata{KeyProducerID: "audit"}, md.With(KeyProducerID, "audit"))
}

func TestMergeOverridesPosition(t *testing.T) {
	md := inbound().Merge(Metadata{KeyReceivedPartition: "3", KeyOffset: "7"})

	pos, ok := md.Position()
	require.True(t, ok)
	assert.Equal(t, "3/7", pos.String())

	original, _ := inbound().Position()
	assert.Equal(t, "0/42", original.String())
}

func TestWatermillRoundTrip(t *testing.T) {
	consumed := message.Metadata{
		KeyReceivedTopic:     "orders",
		KeyConsumerGroup:     "worker-1",
		KeyReceivedPartition: "2",
		KeyOffset:            "99",
	}
	md := FromWatermill(consumed)
	consumed[KeyOffset] = "100"

	pos, ok := md.Position()
	require.True(t, ok)
	assert.Equal(t, Position{Partition: 2, Offset: 99}, pos)

	out := md.With(KeyProducerID, "orders")
	wm := out.Watermill()
	wm.Set(KeyProducerID, "changed")
	assert.Equal(t, "orders", out[KeyProducerID])
	_, leaked := md[KeyProducerID]
	assert.False(t, leaked)

	assert.NotNil(t, FromWatermill(nil))
	assert.Empty(t, Metadata(nil).Watermill())
}

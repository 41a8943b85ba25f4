package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata holds message headers as text. Kafka record headers are bytes on
// the wire; the transport marshaler turns them into strings before they land
// here.
type Metadata map[string]string

// New builds headers from alternating keys and values. A trailing key
// without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 1; i < len(pairs); i += 2 {
		md[pairs[i-1]] = pairs[i]
	}
	return md
}

// FromWatermill copies the headers of a consumed Watermill message.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// Clone copies the headers. The result is never nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// With returns a copy of m with key set. m is left as it was.
func (m Metadata) With(key, value string) Metadata {
	out := m.Clone()
	out[key] = value
	return out
}

// Merge returns a copy of m overlaid with entries.
func (m Metadata) Merge(entries Metadata) Metadata {
	out := m.Clone()
	maps.Copy(out, entries)
	return out
}

// Watermill copies m into the header map of an outbound Watermill message.
func (m Metadata) Watermill() message.Metadata {
	return message.Metadata(m.Clone())
}

package message

import (
	"math/bits"

	"github.com/sirupsen/logrus"
)

type key struct {
	group uint16
	typ   uint16
}

// Registry is the table of known (group, type) pairs and the bit widths used
// to encode them.
//
// Registration is a start-up phase: Register is called from one goroutine
// before any connection manager starts, after which Freeze makes the registry
// read-only and safe to share without locking.
type Registry struct {
	byKey       map[key]*Descriptor
	descriptors []*Descriptor
	maxGroup    uint16
	maxType     uint16
	groupBits   uint8
	typeBits    uint8
	frozen      bool
}

// NewRegistry creates a registry holding the system descriptors.
func NewRegistry() *Registry {
	r := &Registry{
		byKey: make(map[key]*Descriptor),
	}
	for _, d := range systemDescriptors {
		r.add(d)
	}
	return r
}

// Register adds a caller descriptor. It returns false for a nil descriptor,
// the reserved system group, a duplicate (group, type) pair, or when the
// registry has been frozen.
func (r *Registry) Register(d *Descriptor) bool {
	log := logrus.WithFields(logrus.Fields{
		"function":  "Register",
		"component": "MessageRegistry",
	})

	if d == nil {
		log.Warn("Rejected nil message descriptor")
		return false
	}
	log = log.WithField("descriptor", d.String())

	if r.frozen {
		log.Warn("Rejected message registration after network start")
		return false
	}
	if d.Group == SystemGroup {
		log.Warn("Rejected message registration in reserved system group")
		return false
	}
	if _, exists := r.byKey[key{d.Group, d.Type}]; exists {
		log.Warn("Rejected duplicate message registration")
		return false
	}

	r.add(d)
	log.WithFields(logrus.Fields{
		"group_bits": r.groupBits,
		"type_bits":  r.typeBits,
	}).Debug("Registered message")
	return true
}

func (r *Registry) add(d *Descriptor) {
	r.byKey[key{d.Group, d.Type}] = d
	r.descriptors = append(r.descriptors, d)
	if d.Group > r.maxGroup {
		r.maxGroup = d.Group
	}
	if d.Type > r.maxType {
		r.maxType = d.Type
	}
	r.groupBits = bitsFor(r.maxGroup)
	r.typeBits = bitsFor(r.maxType)
}

// bitsFor returns ceil(log2(n+1)), never less than one.
func bitsFor(n uint16) uint8 {
	b := bits.Len16(n)
	if b == 0 {
		b = 1
	}
	return uint8(b)
}

// Find returns the descriptor registered for (group, type), or nil.
func (r *Registry) Find(group, typ uint16) *Descriptor {
	return r.byKey[key{group, typ}]
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// GroupBits is the fixed width used to encode group ids.
func (r *Registry) GroupBits() uint8 {
	return r.groupBits
}

// TypeBits is the fixed width used to encode type ids.
func (r *Registry) TypeBits() uint8 {
	return r.typeBits
}

// Descriptors returns all descriptors in registration order, system ones first.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

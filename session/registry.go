package session

import (
	"cmp"
	"slices"

	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/transport"
)

type rosterEntry struct {
	channel *channel.Channel
	marked  bool
}

// ChannelRegistry maps peer addresses to their channels.
//
// Entries are removed in two phases: Mark flags an entry while events are
// being processed and Sweep deletes flagged entries once iteration is over.
type ChannelRegistry struct {
	entries map[transport.Address]*rosterEntry
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{entries: make(map[transport.Address]*rosterEntry)}
}

// Add registers ch under its remote address, replacing a marked entry.
// It returns false when a live entry already holds the address.
func (r *ChannelRegistry) Add(ch *channel.Channel) bool {
	addr := ch.RemoteAddress()
	if e, ok := r.entries[addr]; ok && !e.marked {
		return false
	}
	r.entries[addr] = &rosterEntry{channel: ch}
	return true
}

// Lookup returns the live channel registered for addr, or nil.
func (r *ChannelRegistry) Lookup(addr transport.Address) *channel.Channel {
	if e, ok := r.entries[addr]; ok && !e.marked {
		return e.channel
	}
	return nil
}

// Mark flags ch's entry for deletion by the next Sweep.
func (r *ChannelRegistry) Mark(ch *channel.Channel) bool {
	e, ok := r.entries[ch.RemoteAddress()]
	if !ok || e.channel != ch || e.marked {
		return false
	}
	e.marked = true
	return true
}

// Sweep deletes every marked entry and returns how many were removed.
func (r *ChannelRegistry) Sweep() int {
	n := 0
	for addr, e := range r.entries {
		if e.marked {
			delete(r.entries, addr)
			n++
		}
	}
	return n
}

// Len returns the number of live entries.
func (r *ChannelRegistry) Len() int {
	n := 0
	for _, e := range r.entries {
		if !e.marked {
			n++
		}
	}
	return n
}

// Channels returns the live channels ordered by connect time.
func (r *ChannelRegistry) Channels() []*channel.Channel {
	out := make([]*channel.Channel, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.marked {
			out = append(out, e.channel)
		}
	}
	slices.SortFunc(out, func(a, b *channel.Channel) int {
		if c := a.ConnectTime().Compare(b.ConnectTime()); c != 0 {
			return c
		}
		return cmp.Compare(a.RemoteAddress().String(), b.RemoteAddress().String())
	})
	return out
}

// Package message implements the message registry and the generic envelope
// carried by channel streams.
//
// A Descriptor names a (group, type) pair. Group 0 is reserved for the
// session layer's own messages (nop, disconnect); callers register their
// descriptors with non-zero groups before any connection manager starts:
//
//	reg := message.NewRegistry()
//	reg.Register(&message.Descriptor{Group: 1, Type: 1, Name: "chat", Reliable: true})
//	reg.Freeze()
//
// Every registration recomputes GroupBits and TypeBits, the fixed widths used
// for all records of a session. StreamWriter packs records with those widths;
// StreamReader yields them back one message at a time.
package message

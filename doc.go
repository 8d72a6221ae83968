// Package gamenet is the datagram session layer of a game engine.
//
// A process acts as a server, a client or both. Peers exchange datagrams over
// UDP; out-of-band ("connectionless") datagrams carry the connect handshake
// and server pings, and every established session gets a channel with
// sequencing and mixed reliable and unreliable delivery. Everything the
// network does is observed through a pull-based event queue.
//
// # Getting Started
//
//	net := gamenet.New(config.Default())
//	net.RegisterMessage(chatDescriptor) // before any Start call
//
//	if !net.StartServer(0) { // 0 selects the configured port, 27001 by default
//		log.Fatal("cannot listen")
//	}
//	defer net.Shutdown()
//
//	for range ticker.C {
//		net.ServerReceiveMessages()
//		for ev, ok := net.FirstEvent(); ok; ev, ok = net.NextEvent() {
//			switch ev.Type {
//			case gamenet.EventConnected:
//			case gamenet.EventMessageReceived:
//				ev.Channel.AddMessage(reply, false)
//			case gamenet.EventDisconnected:
//				log.Println(ev.Reason)
//			}
//		}
//		net.ServerSendMessages()
//	}
//
// # Packages
//
//   - [github.com/opd-ai/gamenet/message]: descriptors, registry and the bit-packed stream envelope
//   - [github.com/opd-ai/gamenet/channel]: per-peer sequencing and reliability
//   - [github.com/opd-ai/gamenet/session]: classifier, event queue, server and client roles
//   - [github.com/opd-ai/gamenet/transport]: UDP and in-memory datagram transports
//   - [github.com/opd-ai/gamenet/banlist]: SQLite ban list usable as a gatekeeper
//   - [github.com/opd-ai/gamenet/config] and [github.com/opd-ai/gamenet/logging]: process setup
//
// # Threading
//
// NetworkSystem is single-threaded and tick-driven. The UDP transport reads
// on its own goroutine into a bounded buffer; everything else happens inside
// the calls made by the tick loop.
package gamenet

// Package session ties channels to a transport: it classifies inbound
// datagrams, runs the connectionless handshake for the server and client
// roles and exposes everything that happens as a pull-based event stream.
//
// A tick looks like this:
//
//	srv.ReadPackets()
//	for ev, ok := queue.First(); ok; ev, ok = queue.Next() {
//		handle(ev)
//	}
//	srv.SendUpdates()
//
// Packets are only decoded while the queue is iterated. Peers that close
// during iteration are marked and removed by the following ReadPackets.
package session

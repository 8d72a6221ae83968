// Package channel implements a sequenced connection to one peer over an
// unreliable datagram transport.
//
// Every datagram carries a header with the sender's sequence number, the last
// sequence it received and two reliable-state bits. Messages travel in two
// bit-packed streams: an unreliable stream that is sent once and cleared, and
// a reliable stream that is frozen into a block and resent with every datagram
// until the peer echoes the block's state bit back.
//
//	ch := channel.New(registry, peer, channel.Config{Rate: 80000})
//	ch.Setup(false, peer, tr, "player", handler)
//	ch.AddMessage(msg, false)
//	if ch.CanSend(time.Now()) {
//		ch.SendDatagram(nil)
//	}
//
// Received datagrams are decoded with StartProcessingPacket, then
// ProcessPacket until it returns false, then EndProcessingPacket.
package channel

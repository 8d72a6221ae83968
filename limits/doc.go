// Package limits provides the centralized size, rate and timing limits of the
// gamenet session layer.
//
// # Datagram Layout Budget
//
// Every sequenced datagram is bounded by MaxDatagramSize. The fixed header
// (SequencedHeaderSize) and the reliable length prefix (ReliableLengthSize)
// leave MaxPayload bytes for the reliable block and the unreliable stream:
//
//   - MaxReliableStream: reliable data waiting for the in-flight block to be
//     acknowledged. Queuing more than this overflows the channel, which is
//     fatal for that connection.
//
//   - MaxUnreliableStream: unreliable data for the next datagram. Queuing more
//     than this drops the single message that did not fit.
//
// # Channel Configuration
//
// Channels clamp their configuration before use:
//
//	rate := limits.ClampRate(cfg.Rate)          // bytes per second
//	timeout := limits.ClampTimeout(cfg.Timeout) // silence before disconnect
//
// # Validation
//
// ValidateDatagram and ValidateMessageSize return ErrMessageEmpty or a wrapped
// ErrMessageTooLarge, so callers can test with errors.Is.
package limits

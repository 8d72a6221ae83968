package session

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/transport"
)

// ConnectionlessMarker opens every out-of-band datagram. Sequenced datagrams
// never carry it because their sequence numbers stay below it.
const ConnectionlessMarker uint32 = 0xFFFFFFFF

// Command identifies an out-of-band request or reply.
type Command uint8

const (
	CommandConnect Command = iota + 1
	CommandConnectAccepted
	CommandConnectRejected
	CommandPing
	CommandPong
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CommandConnect:
		return "connect"
	case CommandConnectAccepted:
		return "connect-accepted"
	case CommandConnectRejected:
		return "connect-rejected"
	case CommandPing:
		return "ping"
	case CommandPong:
		return "pong"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// ServerInfo is what a server reports in reply to a ping.
type ServerInfo struct {
	Name       string
	Version    uint16
	Peers      int
	MaxClients int
}

// connectionlessPacket is the decoded form of an out-of-band datagram.
// Which fields are set depends on Command.
type connectionlessPacket struct {
	Command Command
	Version uint16 // connect
	Name    string // connect: client name; accepted: server name
	Reason  string // rejected
	Info    ServerInfo
}

// IsConnectionless reports whether data starts with ConnectionlessMarker.
func IsConnectionless(data []byte) bool {
	return len(data) >= limits.ConnectionlessMarkerSize &&
		binary.BigEndian.Uint32(data) == ConnectionlessMarker
}

func appendMarker(buf []byte, cmd Command) []byte {
	buf = binary.BigEndian.AppendUint32(buf, ConnectionlessMarker)
	return append(buf, byte(cmd))
}

func encodeConnect(version uint16, name string) []byte {
	buf := appendMarker(nil, CommandConnect)
	buf = binary.BigEndian.AppendUint16(buf, version)
	return transport.AppendString(buf, name)
}

// validateName checks a player name against limits.MaxNameLength.
func validateName(name string) error {
	return limits.ValidateMessageSize([]byte(name), limits.MaxNameLength)
}

func encodeConnectAccepted(serverName string) []byte {
	return transport.AppendString(appendMarker(nil, CommandConnectAccepted), truncateName(serverName))
}

func encodeConnectRejected(reason string) []byte {
	return transport.AppendString(appendMarker(nil, CommandConnectRejected), reason)
}

func encodePing() []byte {
	return appendMarker(nil, CommandPing)
}

func encodePong(info ServerInfo) []byte {
	buf := appendMarker(nil, CommandPong)
	buf = binary.BigEndian.AppendUint16(buf, info.Version)
	buf = append(buf, byte(min(info.Peers, 0xFF)), byte(min(info.MaxClients, 0xFF)))
	return transport.AppendString(buf, truncateName(info.Name))
}

func truncateName(name string) string {
	if len(name) > limits.MaxNameLength {
		return name[:limits.MaxNameLength]
	}
	return name
}

// decodeConnectionless parses an out-of-band datagram. The packet cursor is
// left at the end of what was read.
func decodeConnectionless(p *transport.Packet) (connectionlessPacket, error) {
	var out connectionlessPacket

	p.Rewind()
	marker, err := p.ReadUint32()
	if err != nil || marker != ConnectionlessMarker {
		return out, ErrNotConnectionless
	}
	cmd, err := p.ReadByte()
	if err != nil {
		return out, fmt.Errorf("%w: missing command", ErrMalformedConnectionless)
	}
	out.Command = Command(cmd)

	switch out.Command {
	case CommandConnect:
		if out.Version, err = p.ReadUint16(); err == nil {
			if out.Name, err = p.ReadString(); err == nil {
				err = validateName(out.Name)
			}
		}
	case CommandConnectAccepted:
		out.Name, err = p.ReadString()
	case CommandConnectRejected:
		out.Reason, err = p.ReadString()
	case CommandPing:
	case CommandPong:
		var counts []byte
		if out.Info.Version, err = p.ReadUint16(); err == nil {
			if counts, err = p.Next(2); err == nil {
				out.Info.Peers = int(counts[0])
				out.Info.MaxClients = int(counts[1])
				out.Info.Name, err = p.ReadString()
			}
		}
	default:
		return out, fmt.Errorf("%w: unknown command %d", ErrMalformedConnectionless, cmd)
	}
	if err != nil {
		return out, fmt.Errorf("%w: %s: %w", ErrMalformedConnectionless, out.Command, err)
	}
	return out, nil
}

package main

import (
	"errors"

	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/message"
)

// chatGroup is the message group of the demo chat.
const chatGroup = 1

var errChatTooShort = errors.New("chat message too short")

var chatDescriptor = &message.Descriptor{
	Group:    chatGroup,
	Type:     1,
	Name:     "chat",
	Reliable: true,
	New:      func() message.Message { return &ChatMessage{} },
}

// ChatMessage is one line of chat. Servers fill in From before relaying.
type ChatMessage struct {
	From string
	Text string
}

// Descriptor implements message.Message.
func (m *ChatMessage) Descriptor() *message.Descriptor { return chatDescriptor }

// MarshalBinary encodes a length-prefixed sender followed by the text.
func (m *ChatMessage) MarshalBinary() ([]byte, error) {
	from := m.From
	if len(from) > limits.MaxNameLength {
		from = from[:limits.MaxNameLength]
	}
	text := m.Text
	if room := limits.MaxMessageBody - 1 - len(from); len(text) > room {
		text = text[:room]
	}
	out := make([]byte, 0, 1+len(from)+len(text))
	out = append(out, byte(len(from)))
	out = append(out, from...)
	return append(out, text...), nil
}

// UnmarshalBinary decodes the MarshalBinary layout.
func (m *ChatMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 1 || len(data) < 1+int(data[0]) {
		return errChatTooShort
	}
	n := int(data[0])
	m.From = string(data[1 : 1+n])
	m.Text = string(data[1+n:])
	return nil
}

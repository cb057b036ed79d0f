package realtime

import (
	"encoding/json"
	"time"
)

// FrameKind identifies a decoded control frame. The client protocol is a
// small JSON envelope dispatched on its "type" field; decoding happens once
// at this boundary and the rest of the code works with the closed set below.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FramePing
	FrameStatus
	FrameChat
	FrameTyping
)

const (
	frameTypePing   = "ping"
	frameTypeStatus = "status"
	frameTypeChat   = "chat"
	frameTypeTyping = "typing"
)

// errProcessingMessage is the reply body for frames that fail to decode.
const errProcessingMessage = "Error processing message"

// clientEnvelope is the raw wire shape of an inbound frame
type clientEnvelope struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	To      string `json:"to,omitempty"`
}

// ControlFrame is a decoded inbound frame
type ControlFrame struct {
	Kind    FrameKind
	Type    string // raw type string, kept for logging unrecognized frames
	Content string
	To      string
}

// DecodeFrame decodes a text frame into a ControlFrame. A malformed payload
// returns an error; a well-formed payload with an unrecognized type decodes
// to FrameUnknown.
func DecodeFrame(data []byte) (ControlFrame, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ControlFrame{}, err
	}

	frame := ControlFrame{
		Type:    env.Type,
		Content: env.Content,
		To:      env.To,
	}

	switch env.Type {
	case frameTypePing:
		frame.Kind = FramePing
	case frameTypeStatus:
		frame.Kind = FrameStatus
	case frameTypeChat:
		frame.Kind = FrameChat
	case frameTypeTyping:
		frame.Kind = FrameTyping
	default:
		frame.Kind = FrameUnknown
	}
	return frame, nil
}

// ServerEnvelope is the wire shape of an outbound frame
type ServerEnvelope struct {
	Type        string `json:"type"`
	UserID      string `json:"userId,omitempty"`
	From        string `json:"from,omitempty"`
	Content     string `json:"content,omitempty"`
	Message     string `json:"message,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	IsConnected *bool  `json:"isConnected,omitempty"`
}

// Encode marshals the envelope. Marshalling these fixed shapes cannot fail,
// so the error is swallowed.
func (e ServerEnvelope) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}

// NewPong builds the reply to an application-level ping
func NewPong() ServerEnvelope {
	return ServerEnvelope{Type: "pong"}
}

// NewStatusReply builds the reply to a status request
func NewStatusReply(userID string, now time.Time) ServerEnvelope {
	connected := true
	return ServerEnvelope{
		Type:        frameTypeStatus,
		UserID:      userID,
		Timestamp:   now.Unix(),
		IsConnected: &connected,
	}
}

// NewErrorEnvelope builds an error reply
func NewErrorEnvelope(message string) ServerEnvelope {
	return ServerEnvelope{Type: "error", Message: message}
}

// NewChatRelay builds a chat frame relayed to another user
func NewChatRelay(from, content string, now time.Time) ServerEnvelope {
	return ServerEnvelope{
		Type:      frameTypeChat,
		From:      from,
		Content:   content,
		Timestamp: now.Unix(),
	}
}

// NewTypingRelay builds a typing indicator relayed to another user
func NewTypingRelay(from string, now time.Time) ServerEnvelope {
	return ServerEnvelope{
		Type:      frameTypeTyping,
		From:      from,
		Timestamp: now.Unix(),
	}
}

// NewNotification builds a notification frame raised by the backend
func NewNotification(notifType, message string, now time.Time) ServerEnvelope {
	return ServerEnvelope{
		Type:      notifType,
		Message:   message,
		Timestamp: now.Unix(),
	}
}

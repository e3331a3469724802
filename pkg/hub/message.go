// Package hub fans websocket messages out to connected dashboard clients.
//
// One goroutine owns the client set; each client has its own writer
// goroutine, so a slow browser never blocks the render loop. Clients whose
// queue fills up are dropped.
package hub

import "github.com/gofiber/websocket/v2"

// Kind is the payload kind of a broadcast.
type Kind uint8

const (
	// KindJSON is an encoded JSON document sent as a text frame.
	KindJSON Kind = iota
	// KindFrame is an encoded camera image sent as a binary frame.
	KindFrame
)

// Message is one broadcast payload. Data is shared by every client and must
// not be modified after broadcasting.
type Message struct {
	Kind Kind
	Data []byte
}

// JSON wraps pre-encoded JSON.
func JSON(data []byte) Message {
	return Message{Kind: KindJSON, Data: data}
}

// Frame wraps an encoded image.
func Frame(data []byte) Message {
	return Message{Kind: KindFrame, Data: data}
}

// opcode is the websocket frame type for the message.
func (m Message) opcode() int {
	if m.Kind == KindFrame {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

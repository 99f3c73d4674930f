package types

import (
	"encoding/json"
	"time"
)

const (
	WireMessageTypeSync     = "sync"
	WireMessageTypeInfo     = "info"
	WireMessageTypePresence = "presence"
	WireMessageTypeError    = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SyncMessage carries an opaque payload produced by the synchronization
// engine. The gateway relays it to the other connections on the same target
// without inspecting it.
type SyncMessage struct {
	Target    string          `json:"target" mapstructure:"-"`   // document identifier, outgoing
	From      string          `json:"from" mapstructure:"-"`     // sender user id, outgoing
	Timestamp time.Time       `json:"timestamp" mapstructure:"-"` // relay time, outgoing
	Payload   json.RawMessage `json:"payload" mapstructure:"payload"`
}

// PresenceMessage is broadcast when a connection joins or leaves a target.
type PresenceMessage struct {
	Target string `json:"target"`
	UserId string `json:"userId"`
	Online bool   `json:"online"`
}

// ErrorMessage is sent to a client before the connection is closed or a frame
// is dropped.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

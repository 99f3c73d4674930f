package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/lightspeed-sync/admission"
	"github.com/tcriess/lightspeed-sync/types"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	socketId string
	clientIp string
	identity types.Identity

	orchestrator *admission.Orchestrator
	doneChan     chan struct{}

	// WaitGroup which keeps track of running read/write loops and write access to Send. If the WaitGroup is done,
	// it is safe to close all channels (all loops are done and there are no more write operations on the channels)
	sync.WaitGroup
}

func NewClient(conn *websocket.Conn, socketId, clientIp string, identity types.Identity, orchestrator *admission.Orchestrator, doneChan chan struct{}) *Client {
	return &Client{
		conn:         conn,
		Send:         make(chan []byte, sendChannelSize),
		socketId:     socketId,
		clientIp:     clientIp,
		identity:     identity,
		orchestrator: orchestrator,
		doneChan:     doneChan,
	}
}

// SendError queues an error frame for the client, dropping it when the send
// buffer is full.
func (c *Client) SendError(code, message string) {
	data, err := json.Marshal(types.ErrorMessage{Code: code, Message: message})
	if err != nil {
		return
	}
	messageBytes, err := json.Marshal(types.WebsocketMessage{Event: types.WireMessageTypeError, Data: data})
	if err != nil {
		return
	}
	select {
	case c.Send <- messageBytes:
	default:
	}
}

// inboundSync is the client-supplied part of a sync frame.
type inboundSync struct {
	Payload interface{} `mapstructure:"payload"`
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("info: ws closed unexpected: %s", err)
			}
			return
		}

		// a fresh envelope per frame, a stale Data must not leak into the
		// next message
		message := types.WebsocketMessage{}
		err = json.Unmarshal(raw, &message)
		if err != nil {
			log.Printf("info: could not unmarshal ws message: %s", err)
			continue
		}

		switch message.Event {
		case types.WireMessageTypeSync:
			// the throttle decision is advisory unless enforcement is
			// configured, in which case the frame is dropped
			err := c.orchestrator.BeforeMessage(context.Background(), c.hub.target, c.socketId)
			if err != nil {
				if errors.Is(err, admission.ErrMessageRateExceeded) {
					c.SendError("RATE_LIMITED", "message rate exceeded")
					continue
				}
				log.Printf("info: dropping frame: %s", err)
				continue
			}

			syncMsgMap := make(map[string]interface{})
			err = json.Unmarshal(message.Data, &syncMsgMap)
			if err != nil {
				log.Printf("info: could not unmarshal sync message: %s", err)
				continue
			}
			inbound := inboundSync{}
			err = mapstructure.Decode(syncMsgMap, &inbound)
			if err != nil {
				log.Printf("info: could not decode sync message: %s", err)
				continue
			}
			payload, err := json.Marshal(inbound.Payload)
			if err != nil {
				continue
			}
			c.relay(payload)

		default:
			log.Printf("info: ignoring unknown event type %q", message.Event)
		}
	}
}

func (c *Client) relay(payload []byte) {
	data, err := json.Marshal(types.SyncMessage{
		Target:    c.hub.target,
		From:      c.identity.UserId,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	messageBytes, err := json.Marshal(types.WebsocketMessage{Event: types.WireMessageTypeSync, Data: data})
	if err != nil {
		return
	}
	c.hub.Broadcast <- broadcast{sender: c, data: messageBytes}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.doneChan:
			return
		}
	}
}

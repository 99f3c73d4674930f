package ws

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/handlers"
	"github.com/tcriess/lightspeed-sync/limiter"
	"github.com/tcriess/lightspeed-sync/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates and admits a connection, upgrades it and starts the
// read and write pumps. All gates run before the upgrade so a rejected
// request gets a plain http status instead of a short-lived socket.
func (s *HubSet) ServeWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	target := vars["target"]
	token := r.URL.Query().Get("token")
	clientIp := handlers.ClientIP(r)

	identity, err := s.orchestrator.OnAuthenticate(r.Context(), token, target)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrRoomMismatch) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	socketId := uuid.NewString()
	if err := s.orchestrator.OnConnect(r.Context(), identity, target, socketId, clientIp); err != nil {
		status := http.StatusForbidden
		switch {
		case errors.Is(err, limiter.ErrIpCapExceeded):
			status = http.StatusTooManyRequests
		case errors.Is(err, room.ErrRoomNotFound):
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error: could not upgrade connection: %s", err)
		s.orchestrator.OnDisconnect(r.Context(), socketId, clientIp)
		return
	}

	doneChan := make(chan struct{})
	client := NewClient(conn, socketId, clientIp, *identity, s.orchestrator, doneChan)
	s.Join(target, client)

	client.Add(2)
	go client.WriteLoop()
	go client.ReadLoop()

	go func() {
		<-doneChan
		s.Leave(client)
		s.orchestrator.OnDisconnect(context.Background(), socketId, clientIp)
	}()
}

package ws

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-sync/admission"
	"github.com/tcriess/lightspeed-sync/types"
)

const (
	maxMessageSize       = 65536
	pongWait             = 2 * time.Minute
	pingPeriod           = time.Minute
	writeWait            = 10 * time.Second
	sendChannelSize      = 256
	broadcastChannelSize = 1000
)

type broadcast struct {
	sender *Client
	data   []byte
}

// Hub relays frames between the connections of one target (document). There is
// one hub per target; the actual merge of concurrent edits happens in the
// synchronization engine, the hub only forwards payloads.
type Hub struct {
	target string

	// Registered clients.
	clients map[*Client]struct{}

	// Broadcast relays a frame to every client except the sender.
	Broadcast chan broadcast

	doneChan chan struct{}

	// mutex for manipulating the clients
	sync.RWMutex
}

func newHub(target string) *Hub {
	return &Hub{
		target:    target,
		clients:   make(map[*Client]struct{}),
		Broadcast: make(chan broadcast, broadcastChannelSize),
		doneChan:  make(chan struct{}),
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

func (h *Hub) Run() {
	for {
		select {
		case msg := <-h.Broadcast:
			h.RLock()
			for client := range h.clients {
				if client == msg.sender {
					continue
				}
				select {
				case client.Send <- msg.data:
				default:
					log.Printf("info: dropping frame for slow client %s", client.socketId)
				}
			}
			h.RUnlock()

		case <-h.doneChan:
			return
		}
	}
}

func (h *Hub) sendPresence(userId string, online bool) {
	data, err := json.Marshal(types.PresenceMessage{Target: h.target, UserId: userId, Online: online})
	if err != nil {
		return
	}
	messageBytes, err := json.Marshal(types.WebsocketMessage{Event: types.WireMessageTypePresence, Data: data})
	if err != nil {
		return
	}
	h.RLock()
	for client := range h.clients {
		select {
		case client.Send <- messageBytes:
		default:
		}
	}
	h.RUnlock()
}

// HubSet owns the hubs by target and implements the admission transport query
// surface.
type HubSet struct {
	orchestrator *admission.Orchestrator

	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewHubSet(orchestrator *admission.Orchestrator) *HubSet {
	return &HubSet{
		orchestrator: orchestrator,
		hubs:         make(map[string]*Hub),
	}
}

// Join adds an admitted client to the hub of its target, creating the hub on
// first use.
func (s *HubSet) Join(target string, client *Client) *Hub {
	s.mu.Lock()
	hub, ok := s.hubs[target]
	if !ok {
		hub = newHub(target)
		s.hubs[target] = hub
		go hub.Run()
	}
	hub.Lock()
	hub.clients[client] = struct{}{}
	hub.Unlock()
	s.mu.Unlock()
	client.hub = hub
	hub.sendPresence(client.identity.UserId, true)
	return hub
}

// Leave removes a client again. The connection is closed (probably already is
// closed, just to make sure), then we wait for all loops and write operations
// to finish before it is safe to close the send channel. A drained hub is
// stopped and removed, a fresh one replaces it on the next connect.
func (s *HubSet) Leave(client *Client) {
	hub := client.hub
	s.mu.Lock()
	hub.Lock()
	_, ok := hub.clients[client]
	delete(hub.clients, client)
	empty := len(hub.clients) == 0
	hub.Unlock()
	if empty && s.hubs[hub.target] == hub {
		delete(s.hubs, hub.target)
		close(hub.doneChan)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	client.conn.Close()
	client.Wait()
	close(client.Send)
	hub.sendPresence(client.identity.UserId, false)
}

// ActiveConnectionCount returns the number of connections over all targets.
func (s *HubSet) ActiveConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, hub := range s.hubs {
		count += hub.NoClients()
	}
	return count
}

// DocumentsByTarget reports the connection count per target.
func (s *HubSet) DocumentsByTarget() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.hubs))
	for target, hub := range s.hubs {
		out[target] = hub.NoClients()
	}
	return out
}

// CloseTarget force-closes every connection whose target starts with
// targetPrefix and returns how many connections were closed. Each client's
// normal disconnect path runs as its read loop exits, so gauges are released
// and drained hubs removed as on any other disconnect.
func (s *HubSet) CloseTarget(targetPrefix string, reason string) int {
	s.mu.Lock()
	hubs := make([]*Hub, 0)
	for target, hub := range s.hubs {
		if strings.HasPrefix(target, targetPrefix) {
			hubs = append(hubs, hub)
		}
	}
	s.mu.Unlock()

	count := 0
	for _, hub := range hubs {
		hub.RLock()
		clients := make([]*Client, 0, len(hub.clients))
		for client := range hub.clients {
			clients = append(clients, client)
		}
		hub.RUnlock()
		for _, client := range clients {
			client.SendError("ROOM_CLOSED", reason)
			client.conn.Close()
			count++
		}
	}
	if count > 0 {
		log.Printf("info: closed %d connection(s) for target prefix %s", count, targetPrefix)
	}
	return count
}

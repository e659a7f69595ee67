package matchmaking

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/orincore/circle-backend/internal/auth"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Configure origin checking in production
		return true
	},
}

// Hub pushes proposal and match events to connected users. It satisfies
// MatchNotifier so the queue manager can stay transport-agnostic.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	userID string
}

type Message struct {
	Type   string      `json:"type"`
	UserID string      `json:"user_id"`
	Data   interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan Message),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.userID] = client
			log.Printf("User %s connected", client.userID)

		case client := <-h.unregister:
			if _, ok := h.clients[client.userID]; ok {
				delete(h.clients, client.userID)
				close(client.send)
				log.Printf("User %s disconnected", client.userID)
			}

		case message := <-h.broadcast:
			if client, ok := h.clients[message.UserID]; ok {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client.userID)
				}
			}
		}
	}
}

// ProposalCreated tells both sides a proposal is waiting for their answer.
func (h *Hub) ProposalCreated(p *Proposal) {
	message := Message{
		Type: "proposal_created",
		Data: p,
	}

	message.UserID = p.UserA
	h.broadcast <- message

	message.UserID = p.UserB
	h.broadcast <- message
}

// MatchMade tells both sides the proposal became a mutual match.
func (h *Hub) MatchMade(m *Match) {
	message := Message{
		Type: "match_made",
		Data: m,
	}

	message.UserID = m.UserA
	h.broadcast <- message

	message.UserID = m.UserB
	h.broadcast <- message
}

// ProposalEnded tells both sides the proposal was declined, expired or
// cancelled and they are back in the search pool.
func (h *Hub) ProposalEnded(p *Proposal) {
	message := Message{
		Type: "proposal_ended",
		Data: p,
	}

	message.UserID = p.UserA
	h.broadcast <- message

	message.UserID = p.UserB
	h.broadcast <- message
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan Message, 256),
		userID: userID,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

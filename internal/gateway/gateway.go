// Package gateway streams transcript records of running games to websocket
// spectators.
package gateway

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"secrethitler-lite/internal/auth"
	"secrethitler-lite/transcript"
)

const (
	sendBuffer   = 256
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeTimeout = 10 * time.Second
)

const (
	FormatProto = "proto"
	FormatJSON  = "json"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Backlog returns what a game has produced so far. ok is false for an
// unknown game.
type Backlog interface {
	Records(gameID string) (recs []transcript.Record, ok bool)
}

// Connection is one spectator watching one game.
type Connection struct {
	ID       string
	GameID   string
	Username string
	Format   string
	Conn     *websocket.Conn
	Send     chan []byte
	Gateway  *Gateway
	LastPing time.Time

	mu        sync.Mutex
	replaying bool
	pending   []transcript.Record
	lastSeq   uint64
	closed    bool
}

// Gateway manages spectator connections grouped by game.
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	byGame      map[string]map[string]*Connection
	nextConnID  uint64

	auth    auth.Service
	backlog Backlog
}

func New(authService auth.Service, backlog Backlog) *Gateway {
	return &Gateway{
		connections: make(map[string]*Connection),
		byGame:      make(map[string]map[string]*Connection),
		auth:        authService,
		backlog:     backlog,
	}
}

// HandleWebSocket serves /ws?game={id}&token={session}[&format=json].
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if g.auth == nil {
		http.Error(w, "spectating disabled", http.StatusForbidden)
		return
	}
	_, username, ok := g.auth.ResolveSession(token)
	if !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}
	gameID := strings.TrimSpace(q.Get("game"))
	if gameID == "" {
		http.Error(w, "missing game", http.StatusBadRequest)
		return
	}
	if _, known := g.backlog.Records(gameID); !known {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	format := FormatProto
	if strings.EqualFold(q.Get("format"), FormatJSON) {
		format = FormatJSON
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Upgrade error: %v", err)
		return
	}

	g.mu.Lock()
	g.nextConnID++
	c := &Connection{
		ID:        fmt.Sprintf("conn_%d", g.nextConnID),
		GameID:    gameID,
		Username:  username,
		Format:    format,
		Conn:      conn,
		Gateway:   g,
		LastPing:  time.Now(),
		replaying: true,
	}
	g.connections[c.ID] = c
	if g.byGame[gameID] == nil {
		g.byGame[gameID] = make(map[string]*Connection)
	}
	g.byGame[gameID][c.ID] = c
	total := len(g.connections)
	g.mu.Unlock()

	log.Printf("[Gateway] Spectator connected: %s user=%s game=%s format=%s, total: %d", c.ID, username, gameID, format, total)

	// Registered before the backlog is read, so nothing falls in between;
	// records published meanwhile are held in pending.
	backlog, _ := g.backlog.Records(gameID)
	c.replay(backlog)

	go c.readPump()
	go c.writePump()
}

func (c *Connection) replay(backlog []transcript.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Send = make(chan []byte, sendBuffer+len(backlog)+len(c.pending))
	for _, rec := range backlog {
		c.enqueueLocked(rec)
	}
	for _, rec := range c.pending {
		c.enqueueLocked(rec)
	}
	c.pending = nil
	c.replaying = false
}

// deliver queues a live record. A spectator that cannot keep up is dropped
// rather than handed a transcript with holes.
func (c *Connection) deliver(rec transcript.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaying {
		c.pending = append(c.pending, rec)
		return
	}
	c.enqueueLocked(rec)
}

func (c *Connection) enqueueLocked(rec transcript.Record) {
	if c.closed || rec.Seq <= c.lastSeq {
		return
	}
	data, err := encode(c.Format, rec)
	if err != nil {
		log.Printf("[Gateway] encode record failed: game=%s seq=%d err=%v", rec.GameID, rec.Seq, err)
		return
	}
	select {
	case c.Send <- data:
		c.lastSeq = rec.Seq
	default:
		log.Printf("[Gateway] Send buffer full, dropping spectator %s", c.ID)
		c.closeLocked()
	}
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

func encode(format string, rec transcript.Record) ([]byte, error) {
	if format == FormatJSON {
		return transcript.ToJSON(rec)
	}
	return transcript.Encode(rec)
}

func (c *Connection) readPump() {
	defer func() {
		c.Gateway.removeConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(readLimit)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	// Spectators are read-only; inbound frames only keep the connection alive.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Gateway] Read error: %v", err)
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	messageType := websocket.BinaryMessage
	if c.Format == FormatJSON {
		messageType = websocket.TextMessage
	}
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(messageType, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	delete(g.connections, c.ID)
	if conns := g.byGame[c.GameID]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(g.byGame, c.GameID)
		}
	}
	total := len(g.connections)
	g.mu.Unlock()

	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	log.Printf("[Gateway] Spectator disconnected: %s, total: %d", c.ID, total)
}

// Publish forwards rec to every spectator of rec.GameID.
func (g *Gateway) Publish(rec transcript.Record) {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.byGame[rec.GameID]))
	for _, c := range g.byGame[rec.GameID] {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		c.deliver(rec)
	}
}

// Sink returns a transcript sink publishing into the gateway.
func (g *Gateway) Sink() transcript.Sink {
	return transcript.SinkFunc(g.Publish)
}

// Spectators reports how many connections watch gameID.
func (g *Gateway) Spectators(gameID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byGame[gameID])
}

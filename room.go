package main

import (
	"crypto/rand"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "priceguesser_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// Client is one websocket session. The hub never touches the
// connection directly; it enqueues onto send and the write pump
// serializes.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		c.closeConn()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case h.inbound <- inboundMessage{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.closeConn()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// RoomManager holds the set of live rooms keyed by room code. It owns
// the code namespace, so collisions are checked at allocation time.
type RoomManager struct {
	mu          sync.Mutex
	cfg         *Config
	clock       clockwork.Clock
	catalog     catalog
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newRoomManager(cfg *Config, clock clockwork.Clock, cat catalog) *RoomManager {
	gm := &RoomManager{
		cfg:         cfg,
		clock:       clock,
		catalog:     cat,
		hubs:        make(map[string]*Hub),
		idleTimeout: cfg.sessionTimeout,
	}
	if gm.idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

const (
	roomCodeLength  = 5
	roomCodeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func newRoomCode() string {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, roomCodeLength)
	for i := range out {
		out[i] = roomCodeLetters[int(buf[i])%len(roomCodeLetters)]
	}
	return string(out)
}

func (gm *RoomManager) createRoom() *Hub {
	for {
		code := newRoomCode()

		gm.mu.Lock()
		if _, exists := gm.hubs[code]; exists {
			gm.mu.Unlock()
			continue
		}

		hub := newHub(code, gm.cfg, gm.clock, gm.catalog, func() {
			gm.remove(code)
		})
		gm.hubs[code] = hub
		gm.mu.Unlock()

		go hub.run()

		return hub
	}
}

func (gm *RoomManager) lookup(code string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	return gm.hubs[code]
}

func (gm *RoomManager) remove(code string) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	delete(gm.hubs, code)
}

// reaperLoop periodically shuts down rooms idle longer than the
// session timeout.
func (gm *RoomManager) reaperLoop() {
	ticker := gm.clock.NewTicker(gm.idleTimeout / 2)
	for range ticker.Chan() {
		cutoff := gm.clock.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for code, hub := range gm.hubs {
			if hub.idle(cutoff) {
				delete(gm.hubs, code)
				close(hub.quit)
			}
		}
		gm.mu.Unlock()
	}
}

// Websocket handler that picks the room based on :code. An unknown
// code is answered with a room_not_found error and a close, so the
// client can surface it without parsing HTTP failures.
func serveWSForManager(cfg *Config, gm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := strings.ToUpper(ps.ByName("code"))
		if code == "" {
			http.Error(w, errRoomCodeRequired.Error(), http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		hub := gm.lookup(code)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		if hub == nil {
			_ = conn.WriteJSON(errorMessage(errRoomNotFound))
			_ = conn.Close()
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.WriteJSON(errorMessage(errRoomNotFound))
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

// serveRoomPage answers the per-room URL guests are given. With no
// embedded client shipped, it is a plain landing page; the game is
// played over the websocket endpoint.
func serveRoomPage(cfg *Config, gm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := strings.ToUpper(ps.ByName("code"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		if gm.lookup(code) == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Room Not Found", errRoomNotFound.Error())))
			return
		}

		_, _ = w.Write([]byte(newPage("Price Guesser", "Room "+code)))
	}
}

// QR handler: generates a PNG QR code for the current room URL using
// go-qrcode, for sharing a join link across the table.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewRoom handles GET /path by allocating a fresh room code
// (collision-checked against live rooms) and redirecting to
// /path/:code. The redirected host then joins over the websocket.
func redirectNewRoom(cfg *Config, path string, gm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		hub := gm.createRoom()
		logf(cfg, "GAMES: Created room %s/%s", path, hub.code)
		http.Redirect(w, r, path+"/"+hub.code, http.StatusTemporaryRedirect)
	}
}

// registerPriceGame sets up routes so that:
//   - $path              → redirects to a new random room (5-char code)
//   - $path/:code        → room landing page
//   - $path/:code/ws     → websocket for that room
//   - $path/:code/qr     → PNG QR code for that room URL
func registerPriceGame(cfg *Config, path string, mux *httprouter.Router, gm *RoomManager) {
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, cfg.prefix+path, gm))

	mux.GET(cfg.prefix+path+"/:code", serveRoomPage(cfg, gm))

	mux.GET(cfg.prefix+path+"/:code/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:code/qr", qrHandler)
}

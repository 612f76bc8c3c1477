/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/Seednode/npat/games"
	"github.com/Seednode/npat/history"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	sendBuffer    = 64
	maxNameLength = 32
	maxRoomLength = 64
	qrSize        = 320
)

// Inbound event names.
const (
	msgJoinRoom          = "joinRoom"
	msgStartGame         = "startGame"
	msgSubmitAnswers     = "submitAnswers"
	msgGetFinalResults   = "getFinalResults"
	msgUpdateScores      = "updateScores"
	msgOverrideScore     = "overrideScore"
	msgMarkValid         = "markValid"
	msgSplitPoints       = "splitPoints"
	msgStartNextRound    = "startNextRound"
	msgEndGame           = "endGame"
	msgGetPlayerStatuses = "getPlayerStatuses"
	msgRestartGame       = "restartGame"
)

// frame is the envelope of every websocket message in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type joinRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type submitRequest struct {
	Player  string          `json:"player"`
	RoomID  string          `json:"roomId"`
	Answers games.AnswerSet `json:"answers"`
}

type updateScoresRequest struct {
	RoomID  string                `json:"roomId"`
	Results games.CategoryResults `json:"results"`
}

type overrideRequest struct {
	RoomID   string          `json:"roomId"`
	Category *games.Category `json:"category"`
	PlayerID string          `json:"playerId"`
	Player   string          `json:"player"`
	Points   int             `json:"points"`
	Answer   string          `json:"answer"`
}

// RoomInfo is the public summary served for a room.
type RoomInfo struct {
	RoomID        string      `json:"roomId"`
	Phase         games.Phase `json:"phase"`
	CurrentRound  int         `json:"currentRound"`
	CurrentLetter string      `json:"currentLetter"`
	Players       int         `json:"players"`
	GameEnded     bool        `json:"gameEnded"`
}

// Client is one websocket connection. Its id doubles as the player id in
// whichever room it joins.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	roomID string
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.roomID
}

// trySend queues a frame without blocking. It reports false when the
// client's buffer is full.
func (c *Client) trySend(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Gateway bridges websocket clients to rooms. It implements
// games.Broadcaster.
type Gateway struct {
	cfg   *Config
	rooms *games.Registry

	mu      sync.RWMutex
	clients map[string]*Client
	members map[string]map[*Client]struct{}
}

func newGateway(cfg *Config) *Gateway {
	return &Gateway{
		cfg:     cfg,
		clients: make(map[string]*Client),
		members: make(map[string]map[*Client]struct{}),
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: payload})
}

func (g *Gateway) Broadcast(roomID, event string, payload any) {
	b, err := encodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Str("event", event).Msg("failed to encode broadcast")
		return
	}

	var slow []*Client

	g.mu.RLock()
	for c := range g.members[roomID] {
		if !c.trySend(b) {
			slow = append(slow, c)
		}
	}
	g.mu.RUnlock()

	// Closing the connection ends its read loop, which unregisters it.
	for _, c := range slow {
		log.Warn().Str("room", roomID).Str("conn", c.id).Msg("dropping slow client")
		_ = c.conn.Close()
	}
}

func (g *Gateway) Send(connID, event string, payload any) {
	b, err := encodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("conn", connID).Str("event", event).Msg("failed to encode reply")
		return
	}

	g.mu.RLock()
	c, ok := g.clients[connID]
	if ok && !c.trySend(b) {
		log.Warn().Str("conn", connID).Str("event", event).Msg("reply dropped")
	}
	g.mu.RUnlock()
}

func (g *Gateway) register(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.clients[c.id] = c
}

// unregister forgets a client and closes its send queue. It returns the room
// the client was in, if any.
func (g *Gateway) unregister(c *Client) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.clients[c.id]; !ok {
		return ""
	}
	delete(g.clients, c.id)

	roomID := c.room()
	g.leaveLocked(c, roomID)
	close(c.send)

	return roomID
}

func (g *Gateway) leaveLocked(c *Client, roomID string) {
	if roomID == "" {
		return
	}
	if m, ok := g.members[roomID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(g.members, roomID)
		}
	}
}

// moveTo puts the client in roomID's broadcast group and returns the room it
// was in before.
func (g *Gateway) moveTo(c *Client, roomID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	c.mu.Lock()
	prev := c.roomID
	c.roomID = roomID
	c.mu.Unlock()

	if prev != roomID {
		g.leaveLocked(c, prev)
	}

	m, ok := g.members[roomID]
	if !ok {
		m = make(map[*Client]struct{})
		g.members[roomID] = m
	}
	m[c] = struct{}{}

	return prev
}

func (g *Gateway) memberCount(roomID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.members[roomID])
}

func cleanRoomID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxRoomLength {
		return ""
	}
	return id
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

// roomOf extracts the roomId from a payload. getPlayerStatuses has
// historically been sent with a bare room id string, so that is accepted too.
func roomOf(data json.RawMessage) string {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err == nil && req.RoomID != "" {
		return cleanRoomID(req.RoomID)
	}

	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		return cleanRoomID(bare)
	}

	return ""
}

func (g *Gateway) lookup(roomID string) (*games.Session, bool) {
	if roomID == "" {
		return nil, false
	}
	return g.rooms.Lookup(roomID)
}

func (g *Gateway) dispatch(c *Client, f frame) {
	logger := log.With().Str("conn", c.id).Str("event", f.Event).Logger()

	var err error

	switch f.Event {
	case msgJoinRoom:
		var req joinRequest
		if err = json.Unmarshal(f.Data, &req); err != nil {
			break
		}
		roomID, name := cleanRoomID(req.RoomID), cleanName(req.Name)
		if roomID == "" || name == "" {
			logger.Debug().Msg("join without room or name")
			return
		}

		if prev := g.moveTo(c, roomID); prev != "" && prev != roomID {
			g.rooms.Remove(prev, c.id)
		}
		g.rooms.GetOrCreate(roomID).Join(c.id, name, req.IsHost)

	case msgSubmitAnswers:
		var req submitRequest
		if err = json.Unmarshal(f.Data, &req); err != nil {
			break
		}
		// Answers are always filed under the sending connection, whatever
		// name the payload claims.
		if s, ok := g.lookup(cleanRoomID(req.RoomID)); ok {
			err = s.Submit(c.id, req.Answers)
		}

	case msgUpdateScores:
		var req updateScoresRequest
		if err = json.Unmarshal(f.Data, &req); err != nil {
			break
		}
		if s, ok := g.lookup(cleanRoomID(req.RoomID)); ok {
			err = s.ReplaceScores(c.id, req.Results)
		}

	case msgOverrideScore, msgMarkValid, msgSplitPoints:
		var req overrideRequest
		if err = json.Unmarshal(f.Data, &req); err != nil {
			break
		}
		if req.Category == nil {
			err = games.ErrUnknownCategory
			break
		}
		s, ok := g.lookup(cleanRoomID(req.RoomID))
		if !ok {
			return
		}
		playerID := req.PlayerID
		if playerID == "" {
			playerID, _ = s.PlayerIDByName(req.Player)
		}
		switch f.Event {
		case msgOverrideScore:
			err = s.OverrideScore(c.id, *req.Category, playerID, req.Points)
		case msgMarkValid:
			err = s.MarkValid(c.id, *req.Category, playerID)
		default:
			err = s.SplitPoints(c.id, *req.Category, req.Answer)
		}

	case msgStartGame, msgGetFinalResults, msgStartNextRound, msgEndGame, msgGetPlayerStatuses, msgRestartGame:
		s, ok := g.lookup(roomOf(f.Data))
		if !ok {
			logger.Debug().Msg("unknown room")
			return
		}
		switch f.Event {
		case msgStartGame:
			err = s.Start(c.id)
		case msgGetFinalResults:
			s.SendSnapshot(c.id)
		case msgStartNextRound:
			err = s.AdvanceRound(c.id)
		case msgEndGame:
			err = s.EndGame(c.id)
		case msgGetPlayerStatuses:
			s.SendStatuses(c.id)
		default:
			err = s.Restart(c.id)
		}

	default:
		logger.Debug().Msg("unknown event")
		return
	}

	if err != nil {
		logger.Debug().Err(err).Msg("request ignored")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (g *Gateway) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("ip", realIP(r)).Msg("upgrade failed")
			return
		}

		c := &Client{
			id:      uuid.NewString(),
			conn:    conn,
			send:    make(chan []byte, sendBuffer),
			limiter: rate.NewLimiter(rate.Limit(g.cfg.rateLimit), g.cfg.rateBurst),
		}

		g.register(c)

		log.Debug().Str("conn", c.id).Str("ip", realIP(r)).Msg("client connected")

		go c.writePump()
		g.readPump(c)
	}
}

func (g *Gateway) readPump(c *Client) {
	defer func() {
		if roomID := g.unregister(c); roomID != "" {
			g.rooms.Remove(roomID, c.id)
		}
		_ = c.conn.Close()

		log.Debug().Str("conn", c.id).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(g.cfg.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Msg("unexpected close")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			log.Debug().Str("conn", c.id).Msg("rate limited")
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("malformed frame")
			continue
		}

		g.dispatch(c, f)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs <- err
	}
}

func serveNewRoom(cfg *Config, g *Gateway, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := g.rooms.NewRoomID()

		log.Debug().Str("room", id).Str("ip", realIP(r)).Msg("GAMES: Minted room code")

		writeJSON(cfg, w, http.StatusOK, roomRequest{RoomID: id}, errs)
	}
}

func serveRoomInfo(cfg *Config, g *Gateway, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, ok := g.lookup(cleanRoomID(ps.ByName("roomid")))
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		st := s.State()
		writeJSON(cfg, w, http.StatusOK, RoomInfo{
			RoomID:        st.RoomID,
			Phase:         st.Phase,
			CurrentRound:  st.CurrentRound,
			CurrentLetter: st.CurrentLetter,
			Players:       len(st.Players),
			GameEnded:     st.GameEnded,
		}, errs)
	}
}

// serveQR renders the room's URL as a PNG so players can join from a phone.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if cleanRoomID(ps.ByName("roomid")) == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func serveRoomHistory(cfg *Config, store *history.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := cleanRoomID(ps.ByName("roomid"))
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		stats, err := store.RoomStats(r.Context(), roomID)
		if err != nil {
			log.Error().Err(err).Str("room", roomID).Msg("history lookup failed")
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}

		writeJSON(cfg, w, http.StatusOK, stats, errs)
	}
}

// registerNpat sets up routes so that:
//   - /ws                 → websocket carrying every game message
//   - /new                → fresh room code
//   - /rooms/:roomid      → JSON room summary
//   - /rooms/:roomid/qr   → PNG QR code for the room URL
//   - /rooms/:roomid/history → archived standings, when a history db is set
func registerNpat(cfg *Config, mux *httprouter.Router, g *Gateway, store *history.Store, errs chan<- error) {
	mux.GET(cfg.prefix+"/ws", g.serveWS())
	mux.GET(cfg.prefix+"/new", serveNewRoom(cfg, g, errs))
	mux.GET(cfg.prefix+"/rooms/:roomid", serveRoomInfo(cfg, g, errs))
	mux.GET(cfg.prefix+"/rooms/:roomid/qr", serveQR(cfg))

	if store != nil {
		mux.GET(cfg.prefix+"/rooms/:roomid/history", serveRoomHistory(cfg, store, errs))
	}
}

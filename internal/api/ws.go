package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/postgres-live-table/internal/protocol"
	"github.com/zoravur/postgres-live-table/internal/reactive"
	"github.com/zoravur/postgres-live-table/pkg/livequery"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler serves GET /ws. Each subscribe message opens one live query whose
// events are streamed back on the same connection until the client
// unsubscribes or goes away.
type WSHandler struct {
	Deps
}

func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	log := L(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsClient{
		h:        h,
		id:       uuid.NewString(),
		conn:     conn,
		remote:   r.RemoteAddr,
		ctx:      ctx,
		sessions: make(map[string]*reactive.Session),
	}
	c.log = log.With(zap.String("client", c.id))
	defer func() {
		cancel()
		c.closeAll()
	}()

	c.log.Info("websocket connected", zap.String("remote", c.remote))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			break
		}
		if err := protocol.HandleMessage(ctx, raw, c, c.send); err != nil {
			c.log.Warn("websocket write failed", zap.Error(err))
			break
		}
	}
	c.log.Info("websocket disconnected")
}

// wsClient is one websocket connection and the sessions it opened.
type wsClient struct {
	h      *WSHandler
	id     string
	conn   *websocket.Conn
	remote string
	ctx    context.Context
	log    *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*reactive.Session
	pumps    sync.WaitGroup
}

func (c *wsClient) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) Subscribe(ctx context.Context, sub protocol.Subscribe) error {
	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	channel := sub.Channel
	if channel == "" {
		channel = c.h.Live.Channel
	}

	subs := make([]livequery.Subscription, 0, len(sub.Subscriptions))
	tables := make([]tablequery.Table, 0, len(sub.Subscriptions))
	for _, s := range sub.Subscriptions {
		t := s.Target()
		if err := c.h.Catalog.Validate(t, s.Filter.Expr); err != nil {
			return err
		}
		subs = append(subs, livequery.Subscription{Table: t, Filter: s.Filter.Expr})
		tables = append(tables, t)
	}

	q, err := livequery.New(c.h.Dial, channel, subs,
		livequery.WithBuffer(c.h.Live.Buffer),
		livequery.WithLogger(c.log.With(zap.String("session", id))),
	)
	if err != nil {
		return err
	}

	s := &reactive.Session{
		ID:      id,
		Client:  c.id,
		Channel: channel,
		Tables:  tables,
		Remote:  c.remote,
		Started: time.Now(),
		Query:   q,
	}

	c.mu.Lock()
	_, dup := c.sessions[id]
	if !dup {
		dup = !c.h.Registry.Register(s)
	}
	if !dup {
		c.sessions[id] = s
	}
	c.mu.Unlock()
	if dup {
		_ = q.Close()
		return fmt.Errorf("subscription %q is already open", id)
	}

	if err := c.send(protocol.Subscribed{
		Message: protocol.Message{Type: protocol.TypeSubscribed, ID: id},
		Tables:  tables,
	}); err != nil {
		c.drop(id)
		return err
	}

	c.log.Info("subscribed", zap.String("session", id), zap.String("channel", channel), zap.Int("tables", len(tables)))

	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		err := reactive.Pump(c.ctx, reactive.Deps{Handle: c.h.Catalog.Handle, Send: c.send, Log: c.log}, s)
		if err != nil {
			c.drop(id)
		}
	}()
	return nil
}

func (c *wsClient) Unsubscribe(ctx context.Context, id string) error {
	if !c.drop(id) {
		return fmt.Errorf("no subscription %q", id)
	}
	c.log.Info("unsubscribed", zap.String("session", id))
	return nil
}

// drop closes and forgets session id. It reports whether it was open.
func (c *wsClient) drop(id string) bool {
	c.mu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.h.Registry.Unregister(s.Key())
	if err := s.Query.Close(); err != nil {
		c.log.Warn("closing live query", zap.String("session", id), zap.Error(err))
	}
	return true
}

func (c *wsClient) closeAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.drop(id)
	}
	c.pumps.Wait()
}

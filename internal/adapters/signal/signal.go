package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Broadcast/internal/app/orch"
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// TokenVerifier resolves a bearer token to the user it was issued for.
type TokenVerifier interface {
	Verify(token string) (*domain.User, error)
}

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	SendBuffer   int
	AuthRequired bool
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Auth    TokenVerifier
	Limiter *RateLimiter
	Opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, auth TokenVerifier, limiter *RateLimiter, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{Orch: o, Auth: auth, Limiter: limiter, Opts: opts}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken reads the token from the Authorization header, falling back
// to the token query parameter browsers can set on a websocket URL.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

func (ctl *SignalWSController) roomFromQuery(c *gin.Context) domain.RoomID {
	for _, key := range []string{"roomId", "debateZoneId"} {
		if v := strings.TrimSpace(c.Query(key)); v != "" {
			return domain.RoomID(v)
		}
	}
	return ctl.Orch.DefaultRoom()
}

func (ctl *SignalWSController) authenticate(c *gin.Context) (*domain.User, bool) {
	token := bearerToken(c)
	if token == "" {
		if ctl.Opts.AuthRequired {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return nil, false
		}
		return domain.Anonymous(), true
	}
	if ctl.Auth == nil {
		return domain.Anonymous(), true
	}
	user, err := ctl.Auth.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejected token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	return user, true
}

// HandleSignal authenticates the request, upgrades it and starts the
// connection pumps. ctx bounds the lifetime of the connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, ok := ctl.authenticate(c)
	if !ok {
		return
	}
	room := ctl.roomFromQuery(c)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Opts.ReadLimit)
	}

	sid := core.SessionID(ulid.Make().String())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Opts.SendBuffer),
	}
	meta := domain.NewMember(user, c.Query("deviceName"))
	meta.ClientToken = c.GetString("client_token")
	sess := core.NewMemberSession(sid, room, meta, conn)

	ctx, cancel := context.WithCancel(ctx)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("new WS connection")
	ctl.Orch.Connect(ctx, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

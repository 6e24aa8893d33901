package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Broadcast/internal/adapters/rtc"
	"github.com/dkeye/Broadcast/internal/adapters/signal"
	"github.com/dkeye/Broadcast/internal/app/orch"
	"github.com/dkeye/Broadcast/internal/config"
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EngineStats is the media engine view the health endpoint reports.
type EngineStats interface {
	Stats(ctx context.Context) (rtc.Stats, error)
}

func genClientToken() string {
	return uuid.NewString()
}

const clientTokenKey = "client_token"

// ClientTokenMiddleware pins a browser to a stable client token kept in
// its cookie session, exposed to handlers as "client_token".
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController, engine EngineStats) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("BroadcastSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		members, err := o.Members(domain.RoomID(c.Param("id")))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, members)
	})

	admin := api.Group("/admin", adminOnly(cfg.Secret))
	admin.DELETE("/rooms/:id", func(c *gin.Context) {
		o.EvictRoom(domain.RoomID(c.Param("id")))
		c.Status(http.StatusNoContent)
	})
	admin.POST("/sessions/:sid/kick", func(c *gin.Context) {
		if !o.KickBySID(core.SessionID(c.Param("sid"))) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/healthz", func(c *gin.Context) {
		_, ready := o.Router()
		body := gin.H{"status": "ok", "router": ready, "rooms": len(o.Rooms.List()), "sessions": o.Registry.Count()}
		if engine != nil {
			sctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			st, err := engine.Stats(sctx)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
			body["engine"] = st
		}
		c.JSON(http.StatusOK, body)
	})

	return r
}

// adminOnly gates operator endpoints behind the X-Admin-Secret header.
func adminOnly(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader("X-Admin-Secret") != secret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

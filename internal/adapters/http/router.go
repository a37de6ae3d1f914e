package http

import (
	"net/http"

	"github.com/dkeye/soundmesh/internal/adapters/signal"
	"github.com/dkeye/soundmesh/internal/app/orch"
	"github.com/dkeye/soundmesh/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionName     = "SoundmeshSessions"
	clientTokenKey  = "client_token"
	clientTokenLife = 3600 * 24 * 7
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable token kept in the
// signed session cookie. /api/ws/signal uses it as the requested client id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.SessionKey))
	store.Options(sessions.Options{Path: "/", MaxAge: clientTokenLife, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": o.Registry.Len(), "relays": o.Relays.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws/:client_id", func(c *gin.Context) {
		ctrl.HandleSignal(c, c.Param("client_id"))
	})

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		token := c.GetString(clientTokenKey)
		log.Info().Str("module", "adapters.http").Str("sid", token).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(c, token)
	})

	admin := &AdminHandlers{Orch: o}
	admin.Register(api.Group("/v1"))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

// Package web serves the relay's http surface: the websocket endpoint, the
// static browser client, a small status api and prometheus metrics.
package web

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/blukai/fragrelay/internal/relayserver"
	"github.com/blukai/fragrelay/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Status struct {
	Sessions          int     `json:"sessions"`
	Capacity          int     `json:"capacity"`
	FlushHz           float64 `json:"flush_hz"`
	SchemaFingerprint string  `json:"schema_fingerprint"`
}

type RouterConfig struct {
	// AssetsDir holds the built browser client. empty disables static files.
	AssetsDir string
	Debug     bool
	// Gatherer backs /metrics. nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func NewRouter(relay *relayserver.RelayServer, cfg RouterConfig, logger *log.Logger) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/ws", gin.WrapH(relay))

	api := router.Group("/api")
	api.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet},
		MaxAge:          12 * time.Hour,
	}))
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, Status{
			Sessions:          relay.Sessions(),
			Capacity:          session.Capacity,
			FlushHz:           float64(time.Second) / float64(relay.FlushInterval()),
			SchemaFingerprint: fmt.Sprintf("%016x", protocol.TableFingerprint()),
		})
	})

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	if cfg.AssetsDir != "" {
		// the client is a single page app with hashed asset names; anything
		// that is not an api route is a file.
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.AssetsDir))))
	}

	return router
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// the websocket handler only returns when the session ends
		if c.FullPath() == "/ws" {
			return
		}
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	}
}

// httpAdmin is the local observability surface: Prometheus metrics and
// a couple of JSON stats endpoints. Bind it to loopback; it carries no
// auth of its own.
package main

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

func runAdminServer(s *server, relay *relayServer, addr string) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/api/stats", func(c echo.Context) error {
		online := s.sessions.OnlineLogins()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"uptime_sec":      int(time.Since(s.startup).Seconds()),
			"online_users":    len(online),
			"sessions":        s.sessions.String(),
			"active_calls":    len(s.calls.ActivePairs()),
			"relay_endpoints": relay.EndpointCount(),
			"voice_rooms":     s.presence.Counts(),
		})
	})

	e.GET("/api/calls/active", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"pairs": s.calls.ActivePairs(),
		})
	})

	log.Infof("admin http listening on %s", addr)
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		if !shutdownStarted.Load() {
			log.Errorf("# admin http err=%v", err)
		}
	}
}

package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/faults"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to the
// connection manager. Origins beyond the server's own host must be
// listed in allowed_ws_origins.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return s.fail(c, faults.Unavailable("websocket"))
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedWSOrigins,
	})
	if err != nil {
		// Accept already wrote the HTTP error response.
		return nil
	}

	s.metrics.WSConnectionOpened()
	defer s.metrics.WSConnectionClosed()

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

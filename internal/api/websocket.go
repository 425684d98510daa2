package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/pkg/db"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamJobs pushes every job.completed result for strategies the caller
// owns. ?strategy_id= narrows the stream to one strategy.
func (s *Server) streamJobs(c *gin.Context) {
	userID := CurrentUserID(c)
	only := c.Query("strategy_id")
	if only != "" && !s.canAccessStrategy(c, only) {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(events.EventJobCompleted, 100)
	defer unsub()

	// The read loop only exists to notice the client going away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	owned := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-stream:
			if !ok {
				return
			}
			res, ok := msg.(db.JobResult)
			if !ok {
				continue
			}
			if only != "" && res.StrategyID != only {
				continue
			}
			if !s.owns(ctx, owned, userID, res.StrategyID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(res); err != nil {
				s.log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}

// owns caches ownership lookups for the lifetime of one connection.
func (s *Server) owns(ctx context.Context, cache map[string]bool, userID, strategyID string) bool {
	if v, ok := cache[strategyID]; ok {
		return v
	}
	st, err := s.Engine.GetStrategy(ctx, strategyID)
	ok := err == nil && st.OwnerID == userID
	cache[strategyID] = ok
	return ok
}

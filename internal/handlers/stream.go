package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/gorilla/websocket"

	"luckydraw/internal/reel"
)

const writeWait = 5 * time.Second

// StreamDraw streams reel frames for the running round over a websocket.
// The stream ends with a final frame holding the winners once the round is stopped.
func (h *HTTPHandler) StreamDraw(c *gin.Context) {
	tenantID := tenantFrom(c)
	round := h.service.CurrentRound(tenantID)
	if round == nil {
		c.String(http.StatusConflict, "当前没有进行中的抽奖")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warningf("Websocket upgrade failed for tenant %s: %v", tenantID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client never sends frames; reading only detects that it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	spin := reel.Spin{
		Names: round.CandidateNames(),
		Slots: round.Count,
		Stop:  round.Stopped(),
		Result: func() []string {
			winners := round.Winners()
			names := make([]string, len(winners))
			for i, w := range winners {
				names[i] = w.Name
			}
			return names
		},
	}

	err = h.reel.Run(ctx, spin, func(f reel.Frame) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warningf("Reel stream for round %s ended: %v", round.ID, err)
		}
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

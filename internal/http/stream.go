package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	"github.com/fyrsmithlabs/tutord/internal/provider"
)

// handleStream answers one message as server-sent events: loading and
// thinking progress frames, then one complete or error frame. Every pipeline
// event is forwarded as a frame, including a budget denial, which arrives as
// a single error frame carrying health_status.
func (s *Server) handleStream(c echo.Context) error {
	req, code, msg := s.bindChat(c)
	if code != 0 {
		return c.JSON(code, ErrorResponse{Error: msg})
	}
	ctx := c.Request().Context()

	opened := false
	for ev := range s.pipeline.Stream(ctx, req) {
		if !opened {
			openStream(c.Response())
			opened = true
		}
		if err := s.writeFrame(c, ev); err != nil {
			s.logger.Debug(ctx, "stream client went away", zap.Error(err))
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func openStream(w *echo.Response) {
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()
}

func (s *Server) writeFrame(c echo.Context, ev orchestrator.Event) error {
	frame := Frame{Status: string(ev.Kind), Outcome: ev.Outcome}
	if ev.Outcome == nil {
		frame.Message = ev.Message
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", ev.Kind, err)
	}
	w := c.Response()
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	s.metrics.frame(c, frame.Status)
	return nil
}

func isUpstream(err error) bool {
	return errors.Is(err, provider.ErrUnavailable) || errors.Is(err, provider.ErrRateLimited)
}

package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"dermassist/internal/assistant"
	"dermassist/internal/utility"
)

const (
	sessionCookieName = "dermassist_session"

	// Uploaded images are bounded well below Gemini's inline-data limit.
	maxImageBytes = 8 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The chat UI may be served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

/* ====================================================================
                              Health
==================================================================== */

func (s *Server) healthHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	stats := map[string]string{
		"status":     "up",
		"goroutines": fmt.Sprintf("%d", runtime.NumGoroutine()),
	}

	if err := s.store.Ping(ctx); err != nil {
		stats["status"] = "degraded"
		stats["sheets"] = "down"
		stats["sheets_error"] = err.Error()
		utility.RequestLogger(c).Warn().Err(err).Msg("Health check: sheets store unreachable")
	} else {
		stats["sheets"] = "up"
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_used_percent"] = fmt.Sprintf("%.1f", vm.UsedPercent)
	}
	if uptime, err := host.Uptime(); err == nil {
		stats["host_uptime_s"] = fmt.Sprintf("%d", uptime)
	}

	return c.JSON(http.StatusOK, stats)
}

/* ====================================================================
                         Profile sidebar
==================================================================== */

// profileHandler serves the sidebar data. A store failure is not an error
// response: the UI shows an explicit "profile unavailable" state instead.
func (s *Server) profileHandler(c echo.Context) error {
	ctx := c.Request().Context()

	profile, audit, err := s.store.FetchProfile(ctx, s.cfg.DefaultUserID)
	if err != nil {
		utility.RequestLogger(c).Warn().Err(err).Msg("Could not load user profile from sheet")
		return c.JSON(http.StatusOK, map[string]any{"available": false})
	}

	resp := map[string]any{
		"available": true,
		"profile":   profile,
		"audit":     audit,
	}

	if user, err := s.store.GetUser(ctx, s.cfg.DefaultUserID); err == nil {
		resp["user"] = user
	} else {
		utility.RequestLogger(c).Warn().Err(err).Msg("Could not load users row")
	}

	return c.JSON(http.StatusOK, resp)
}

/* ====================================================================
                           Chat workflow
==================================================================== */

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) chatHandler(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	sessionID := s.sessionID(c)
	result := s.assistant.HandleText(c.Request().Context(), sessionID, req.Message, nil)

	return c.JSON(http.StatusOK, result)
}

func (s *Server) chatImageHandler(c echo.Context) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "image file is required"})
	}
	if fileHeader.Size > maxImageBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "image too large"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read image"})
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read image"})
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	sessionID := s.sessionID(c)
	result := s.assistant.HandleImage(c.Request().Context(), sessionID, image, mimeType, fileHeader.Filename)

	return c.JSON(http.StatusOK, result)
}

func (s *Server) historyHandler(c echo.Context) error {
	sessionID := s.sessionID(c)
	return c.JSON(http.StatusOK, map[string]any{
		"messages": s.assistant.History(sessionID),
	})
}

func (s *Server) clearHistoryHandler(c echo.Context) error {
	sessionID := s.sessionID(c)
	s.assistant.ClearSession(sessionID)
	return c.NoContent(http.StatusNoContent)
}

/* ====================================================================
                        Streaming chat (websocket)
==================================================================== */

// streamFrame is one websocket frame of a streamed turn: chunk frames carry
// reply fragments as they arrive, the final done frame carries the turn
// result including any resolved product.
type streamFrame struct {
	Type    string                `json:"type"` // "chunk" or "done"
	Content string                `json:"content,omitempty"`
	Result  *assistant.TurnResult `json:"result,omitempty"`
}

// chatStreamHandler upgrades to a websocket and runs one turn per received
// text message, forwarding reply fragments as they arrive.
func (s *Server) chatStreamHandler(c echo.Context) error {
	// Resolve the session before the connection is hijacked; a cookie can no
	// longer be set afterwards.
	sessionID := s.sessionID(c)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("session_id", sessionID).Msg("Chat stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Info().Str("session_id", sessionID).Msg("Chat stream disconnected")
			return nil
		}

		text := strings.TrimSpace(string(msg))
		if text == "" {
			continue
		}

		onChunk := func(chunk string) {
			if err := conn.WriteJSON(streamFrame{Type: "chunk", Content: chunk}); err != nil {
				log.Warn().Err(err).Msg("Failed to write stream chunk")
			}
		}

		result := s.assistant.HandleText(c.Request().Context(), sessionID, text, onChunk)

		if err := conn.WriteJSON(streamFrame{Type: "done", Result: result}); err != nil {
			log.Warn().Err(err).Msg("Failed to write final stream frame")
			return nil
		}
	}
}

/* ====================================================================
                           Session helper
==================================================================== */

// sessionID reads the transcript key from the session cookie, minting one on
// first use. Transcripts themselves stay in memory; the cookie only carries
// the id.
func (s *Server) sessionID(c echo.Context) string {
	sess, _ := s.cookies.Get(c.Request(), sessionCookieName)

	if id, ok := sess.Values["sid"].(string); ok && id != "" {
		return id
	}

	id := uuid.New().String()
	sess.Values["sid"] = id
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		utility.RequestLogger(c).Warn().Err(err).Msg("Failed to save session cookie")
	}
	return id
}

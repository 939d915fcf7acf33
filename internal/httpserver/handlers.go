package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/chat"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/conversation"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/leads"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/live"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/solar"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/store"
)

// Transcriber transcribes one complete recording.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Analyzer runs a rooftop solar analysis.
type Analyzer interface {
	Analyze(ctx context.Context, address string) (solar.Summary, error)
}

// LeadCapturer forwards a contact request.
type LeadCapturer interface {
	Capture(ctx context.Context, lead leads.Lead) (leads.Confirmation, error)
}

// Handlers wires the REST endpoints and the widget WebSocket.
// Optional collaborators may be nil; their endpoints answer 503.
type Handlers struct {
	Chat        conversation.Transport
	Store       *store.Sessions
	Transcriber Transcriber
	Solar       Analyzer
	Leads       LeadCapturer
	Live        *live.Handler
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/chat", h.chat)
	e.POST("/api/transcribe", h.transcribe)
	e.POST("/api/solar-analysis", h.solarAnalysis)
	e.POST("/api/leads", h.leads)
	if h.Live != nil {
		e.GET("/ws/session", func(c echo.Context) error {
			h.Live.ServeWS(c.Response(), c.Request())
			return nil
		})
	}
}

type chatRequest struct {
	Message   string            `json:"message"`
	SessionID string            `json:"session_id"`
	Stream    bool              `json:"stream,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// chat runs one conversational turn over plain HTTP, for embedders that
// do not hold a WebSocket open. stream=true answers as an SSE stream of
// delta frames terminated by a [DONE] sentinel.
func (h Handlers) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" || req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message and session_id are required"})
	}

	upstream := chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		Messages:  h.priorTurns(req.SessionID),
		Context:   req.Context,
	}
	h.Store.Append(req.SessionID, store.Turn{Role: "user", Content: req.Message})

	ctx := c.Request().Context()
	if !req.Stream {
		reply, err := h.Chat.Send(ctx, upstream)
		if err != nil {
			c.Echo().Logger.Errorf("chat turn failed for session %s: %v", req.SessionID, err)
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "conversation unavailable"})
		}
		h.Store.Append(req.SessionID, store.Turn{Role: "assistant", Content: reply})
		return c.JSON(http.StatusOK, chatResponse{Reply: reply, SessionID: req.SessionID})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	full, err := h.Chat.Stream(ctx, upstream, func(delta string) {
		payload, _ := json.Marshal(map[string]map[string]string{"delta": {"content": delta}})
		fmt.Fprintf(res, "data: %s\n\n", payload)
		res.Flush()
	})
	if err != nil {
		c.Echo().Logger.Errorf("chat stream failed for session %s: %v", req.SessionID, err)
		fmt.Fprint(res, "data: [DONE]\n\n")
		res.Flush()
		return nil
	}
	h.Store.Append(req.SessionID, store.Turn{Role: "assistant", Content: full})
	fmt.Fprint(res, "data: [DONE]\n\n")
	res.Flush()
	return nil
}

func (h Handlers) priorTurns(sessionID string) []chat.HistoryMessage {
	turns := h.Store.History(sessionID)
	out := make([]chat.HistoryMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, chat.HistoryMessage{Role: t.Role, Content: t.Content})
	}
	return out
}

type transcribeRequest struct {
	AudioBase64 string `json:"audio_base64"`
}

func (h Handlers) transcribe(c echo.Context) error {
	if h.Transcriber == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "transcription not configured"})
	}
	var req transcribeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil || len(audio) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "audio_base64 is required"})
	}
	text, err := h.Transcriber.Transcribe(c.Request().Context(), audio)
	if err != nil {
		c.Echo().Logger.Errorf("transcription failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "transcription failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

type solarRequest struct {
	Address string `json:"address"`
}

func (h Handlers) solarAnalysis(c echo.Context) error {
	if h.Solar == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "solar analysis not configured"})
	}
	var req solarRequest
	if err := c.Bind(&req); err != nil || req.Address == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "address is required"})
	}
	summary, err := h.Solar.Analyze(c.Request().Context(), req.Address)
	if err != nil {
		c.Echo().Logger.Errorf("solar analysis for %q failed: %v", req.Address, err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "analysis failed"})
	}
	return c.JSON(http.StatusOK, summary)
}

func (h Handlers) leads(c echo.Context) error {
	if h.Leads == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "lead capture not configured"})
	}
	var lead leads.Lead
	if err := c.Bind(&lead); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	conf, err := h.Leads.Capture(c.Request().Context(), lead)
	if err != nil {
		c.Echo().Logger.Errorf("lead capture failed: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, conf)
}

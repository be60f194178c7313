package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/plantsage/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine Asker
}

func NewWebSocketHandler(engine Asker) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

type wsMessage struct {
	Type string `json:"type"`
	queryRequest
}

// jsonConn is the part of a websocket connection the handler uses.
type jsonConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// HandleConnection answers "query" messages on the socket. Each answer is
// streamed word by word and closed with a "complete" message carrying the
// full structured answer.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.serve(c)
}

// serve reads on its own goroutine so a disconnect cancels the query in
// flight. One goroutine reads and only this one writes.
func (h *WebSocketHandler) serve(c jsonConn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	msgs := make(chan wsMessage)
	go func() {
		defer close(msgs)
		defer cancel()
		for {
			var msg wsMessage
			if err := c.ReadJSON(&msg); err != nil {
				logger.Debug("WebSocket read ended", zap.Error(err))
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range msgs {
		if msg.Type != "query" {
			continue
		}

		logger.Info("Processing WebSocket query", zap.String("query", msg.Query))

		if err := h.streamResponse(ctx, c, msg.queryRequest); err != nil {
			if ctx.Err() != nil {
				logger.Info("WebSocket query abandoned", zap.Error(err))
				return
			}
			logger.Error("Failed to stream response", zap.Error(err))
			_, clientMsg := statusFor(err)
			h.sendError(c, clientMsg)
		}
	}
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c jsonConn, req queryRequest) error {
	engineReq, err := req.toEngine()
	if err != nil {
		return err
	}

	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return err
	}

	response, err := h.engine.Ask(ctx, engineReq)
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Answer.Text)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	complete := answerBody(response)
	complete["type"] = "complete"
	return c.WriteJSON(complete)
}

func (h *WebSocketHandler) sendChunk(c jsonConn, msgType, content string) error {
	return c.WriteJSON(map[string]string{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c jsonConn, errorMsg string) {
	if err := c.WriteJSON(map[string]string{"type": "error", "error": errorMsg}); err != nil {
		logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}

// splitIntoWords splits on spaces and keeps line breaks as their own tokens.
func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gemchat/internal/chat"
	"gemchat/internal/models"
)

const (
	streamTimeout = 5 * time.Minute
	streamBuffer  = 64
)

type sendRequest struct {
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments"`
	Hidden      bool                `json:"hidden"`
}

func (h *Handler) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or attachments required"})
		return
	}
	for i := range req.Attachments {
		if req.Attachments[i].Type == "" {
			req.Attachments[i].Type = models.ClassifyMIME(req.Attachments[i].MIMEType)
		}
	}
	in := chat.Input{Text: req.Text, Attachments: req.Attachments, Hidden: req.Hidden}
	h.streamReply(c, func(ctx context.Context) (*models.Session, error) {
		return h.chat.Send(ctx, in)
	})
}

func (h *Handler) resend(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	h.streamReply(c, func(ctx context.Context) (*models.Session, error) {
		return h.chat.Resend(ctx, index)
	})
}

func (h *Handler) stop(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stopped": h.chat.Stop()})
}

type sendResult struct {
	session *models.Session
	err     error
}

// streamReply runs a send and relays its events as SSE. Errors raised
// before the send starts are plain JSON responses.
func (h *Handler) streamReply(c *gin.Context, run func(ctx context.Context) (*models.Session, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), streamTimeout)
	defer cancel()

	events := make(chan chat.Event, streamBuffer)
	ctx = chat.WithObserver(ctx, func(ev chat.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	done := make(chan sendResult, 1)
	go func() {
		s, err := run(ctx)
		done <- sendResult{session: s, err: err}
	}()

	var stream *sseStream
	for {
		select {
		case ev := <-events:
			if stream == nil {
				if stream = startSSE(c); stream == nil {
					<-done
					return
				}
			}
			if stream.relay(ev) != nil {
				<-done
				return
			}
		case res := <-done:
			if stream == nil {
				if res.err != nil && len(events) == 0 {
					writeError(c, res.err)
					return
				}
				if stream = startSSE(c); stream == nil {
					return
				}
			}
			for drained := false; !drained; {
				select {
				case ev := <-events:
					_ = stream.relay(ev)
				default:
					drained = true
				}
			}
			if res.err != nil {
				_ = stream.send("error", gin.H{"message": res.err.Error()})
				return
			}
			_ = stream.send("done", gin.H{
				"session": res.session,
				"model":   h.chat.Model(),
			})
			return
		}
	}
}

type sseStream struct {
	c       *gin.Context
	flusher http.Flusher
}

func startSSE(c *gin.Context) *sseStream {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return nil
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &sseStream{c: c, flusher: flusher}
}

func (s *sseStream) relay(ev chat.Event) error {
	switch ev.Kind {
	case chat.EventMessage:
		return s.send("ack", gin.H{"sessionId": ev.SessionID, "message": ev.Message})
	case chat.EventUpdate:
		return s.send("update", gin.H{"sessionId": ev.SessionID, "message": ev.Message})
	default:
		return nil
	}
}

func (s *sseStream) send(event string, payload interface{}) error {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.c.Writer, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

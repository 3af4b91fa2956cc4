package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/events"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingEvery   = wsPongWait * 9 / 10
	wsEventBuffer = 128
)

// Frame types on the thread chat socket.
const (
	FrameReply = "reply"
	FrameEvent = "event"
	FrameError = "error"
)

// Frame is one server-to-client message on the thread chat socket.
type Frame struct {
	Type  string           `json:"type"`
	Reply *MessageResponse `json:"reply,omitempty"`
	Event *events.Event    `json:"event,omitempty"`
	Error string           `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleEventSocket streams bus events as JSON. ?thread= limits the
// stream to one thread.
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusNotFound, "event stream not enabled")
		return
	}
	thread := r.URL.Query().Get("thread")

	// Subscribe before the handshake so nothing published after the
	// client connects is missed.
	ch := s.bus.Subscribe(wsEventBuffer)
	defer s.bus.Unsubscribe(ch)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}

	s.logger.Info("event stream opened", "remote", r.RemoteAddr, "thread", thread)
	done := readUntilClose(conn)
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.logger.Info("event stream closed", "remote", r.RemoteAddr)
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if thread != "" && e.Data["thread_id"] != thread {
				continue
			}
			if err := c.send(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// readUntilClose drains control frames so pongs and close messages are
// processed. The returned channel closes when the peer goes away.
func readUntilClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}

// handleThreadSocket is an interactive chat on one thread. Each text
// frame {"content": "..."} runs a turn; the reply, and this thread's
// events while connected, are written back as Frames.
func (s *Server) handleThreadSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var ch <-chan events.Event
	if s.bus != nil {
		ch = s.bus.Subscribe(wsEventBuffer)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		if ch != nil {
			s.bus.Unsubscribe(ch)
		}
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}
	log := s.logger.With("thread", id, "remote", r.RemoteAddr)
	log.Info("chat socket opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if ch != nil {
		defer s.bus.Unsubscribe(ch)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-ch:
					if !ok {
						return
					}
					if e.Data["thread_id"] != id {
						continue
					}
					_ = c.send(Frame{Type: FrameEvent, Event: &e})
				}
			}
		}()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("chat socket read failed", "error", err)
			}
			log.Info("chat socket closed")
			return
		}

		var req MessageRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.send(Frame{Type: FrameError, Error: "invalid message"})
			continue
		}

		resp, err := s.loop.Run(ctx, agent.Request{
			ThreadID: id,
			Content:  req.Content,
			System:   s.systemPrompt(),
			Model:    req.Model,
		})
		if err != nil {
			_, msg := turnStatus(err)
			log.Warn("turn failed", "error", err)
			if err := c.send(Frame{Type: FrameError, Error: msg}); err != nil {
				return
			}
			continue
		}
		reply := newMessageResponse(resp)
		if err := c.send(Frame{Type: FrameReply, Reply: &reply}); err != nil {
			log.Debug("chat socket write failed", "error", err)
			return
		}
	}
}

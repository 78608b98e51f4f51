package webchat

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/channel"
	"github.com/gorilla/websocket"
)

type WebChatAdapter struct {
	port     int
	incoming chan *channel.Message
	upgrader websocket.Upgrader
	conns    map[string]*websocket.Conn
	connMux  sync.RWMutex
	stopCh   chan struct{}
	logger   *slog.Logger
	nextID   int64
	idMux    sync.Mutex
}

// WSMessage is the browser-facing frame. Partial frames carry the
// growing text of a streaming answer; the final frame repeats the
// complete text.
type WSMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
	Final     bool   `json:"final,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

func NewWebChatAdapter(port int, logger *slog.Logger) *WebChatAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebChatAdapter{
		port:     port,
		incoming: make(chan *channel.Message, 100),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(map[string]*websocket.Conn),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

func (w *WebChatAdapter) Name() string {
	return "webchat"
}

func (w *WebChatAdapter) IsEnabled() bool {
	return w.port > 0
}

func (w *WebChatAdapter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.wsHandler)
	server := &http.Server{Addr: ":" + strconv.Itoa(w.port), Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.Error("webchat server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
		close(w.stopCh)
	}()

	return nil
}

func (w *WebChatAdapter) Stop() error {
	close(w.incoming)
	return nil
}

func (w *WebChatAdapter) Send(chatID string, resp *channel.Response) (string, error) {
	w.idMux.Lock()
	w.nextID++
	messageID := strconv.FormatInt(w.nextID, 10)
	w.idMux.Unlock()

	return messageID, w.write(chatID, WSMessage{
		Type:      "message",
		Content:   resp.Content,
		MessageID: messageID,
		Final:     resp.Final,
	})
}

// Update re-sends the full text under the same message id; the
// browser replaces the bubble contents.
func (w *WebChatAdapter) Update(chatID, messageID string, resp *channel.Response) error {
	return w.write(chatID, WSMessage{
		Type:      "update",
		Content:   resp.Content,
		MessageID: messageID,
		Final:     resp.Final,
	})
}

func (w *WebChatAdapter) write(chatID string, msg WSMessage) error {
	w.connMux.RLock()
	conn, exists := w.conns[chatID]
	w.connMux.RUnlock()
	if !exists {
		return nil // connection gone, nothing to deliver
	}
	return conn.WriteJSON(msg)
}

func (w *WebChatAdapter) Incoming() <-chan *channel.Message {
	return w.incoming
}

func (w *WebChatAdapter) wsHandler(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous_" + strconv.FormatInt(time.Now().Unix(), 10)
	}

	w.connMux.Lock()
	w.conns[userID] = conn
	w.connMux.Unlock()

	defer func() {
		w.connMux.Lock()
		delete(w.conns, userID)
		w.connMux.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-w.stopCh:
			return
		default:
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				w.logger.Debug("websocket closed", "user", userID, "error", err)
				return
			}
			if msg.Type != "message" {
				continue
			}
			w.incoming <- &channel.Message{
				ID:        strconv.FormatInt(time.Now().UnixNano(), 10),
				Channel:   "webchat",
				UserID:    userID,
				ChatID:    userID,
				Content:   msg.Content,
				Metadata:  map[string]string{"connection_id": userID},
				Timestamp: time.Now().Unix(),
			}
		}
	}
}

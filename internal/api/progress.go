package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"expertgate/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// ProgressSnapshot is what subscribers receive after every recompute.
type ProgressSnapshot struct {
	EvaluationID           string                  `json:"evaluationId"`
	Status                 models.EvaluationStatus `json:"status"`
	TotalQuestions         int                     `json:"totalQuestions"`
	QuestionsTested        int                     `json:"questionsTested"`
	QuestionsPassedQuality int                     `json:"questionsPassedQuality"`
	AverageQuality         *float64                `json:"averageQuality"`
	PhantomRefsDetected    int                     `json:"phantomRefsDetected"`
	AvgSimilarity          *float64                `json:"avgSimilarity"`
	Revision               int64                   `json:"revision"`
}

func snapshotOf(e *models.Evaluation) ProgressSnapshot {
	return ProgressSnapshot{
		EvaluationID:           e.ID,
		Status:                 e.Status,
		TotalQuestions:         e.TotalQuestions,
		QuestionsTested:        e.QuestionsTested,
		QuestionsPassedQuality: e.QuestionsPassedQuality,
		AverageQuality:         e.AverageQuality,
		PhantomRefsDetected:    e.PhantomRefsDetected,
		AvgSimilarity:          e.AvgSimilarity,
		Revision:               e.Revision,
	}
}

// ProgressHub fans recompute snapshots out to websocket subscribers of each evaluation.
type ProgressHub struct {
	mu       sync.Mutex
	subs     map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	logger   *zerolog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewProgressHub creates a hub. allowedOrigins empty accepts any origin.
func NewProgressHub(allowedOrigins []string, logger *zerolog.Logger) *ProgressHub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &ProgressHub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
		logger: logger,
	}
}

// Broadcast sends the evaluation's snapshot to its subscribers. Slow subscribers drop messages.
func (h *ProgressHub) Broadcast(e *models.Evaluation) {
	data, err := json.Marshal(snapshotOf(e))
	if err != nil {
		h.logger.Error().Err(err).Str("evaluation_id", e.ID).Msg("Error marshaling progress snapshot")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[e.ID] {
		select {
		case sub.send <- data:
		default:
			h.logger.Warn().Str("evaluation_id", e.ID).Msg("WebSocket buffer full, dropping snapshot")
		}
	}
}

// Serve upgrades the request and streams snapshots of evaluationID, starting with initial.
func (h *ProgressHub) Serve(c *gin.Context, initial *models.Evaluation) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(initial.ID, sub)

	if data, err := json.Marshal(snapshotOf(initial)); err == nil {
		sub.send <- data
	}

	go h.writePump(sub)
	go h.readPump(initial.ID, sub)
}

func (h *ProgressHub) add(id string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[*subscriber]struct{})
	}
	h.subs[id][sub] = struct{}{}
}

func (h *ProgressHub) remove(id string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id][sub]; !ok {
		return
	}
	delete(h.subs[id], sub)
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
	close(sub.send)
}

// readPump discards client messages and unsubscribes when the connection closes
func (h *ProgressHub) readPump(id string, sub *subscriber) {
	defer func() {
		h.remove(id, sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(4096)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Str("evaluation_id", id).Msg("WebSocket closed")
			}
			return
		}
	}
}

// writePump pumps snapshots and pings to the connection
func (h *ProgressHub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

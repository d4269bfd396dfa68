package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/crev/internal/diff"
	"github.com/sprite-ai/crev/internal/review"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool; the server binds to loopback by default
	},
}

// WebSocket message types from client.
const (
	wsMsgAnalyze = "analyze"
	wsMsgParse   = "parse"
)

// WebSocket message types to client.
const (
	wsMsgProgress = "progress"
	wsMsgRun      = "run"
	wsMsgParsed   = "parsed"
	wsMsgError    = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// handleWebSocket serves one client. Requests on a connection are handled
// one at a time; progress events of an analysis are sent before its final
// "run" message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendWSError(conn, "invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgAnalyze:
			s.handleWSAnalyze(r, conn, msg.Data)
		case wsMsgParse:
			s.handleWSParse(conn, msg.Data)
		default:
			s.sendWSError(conn, "unknown message type: "+msg.Type)
		}
	}
}

func (s *Server) handleWSAnalyze(r *http.Request, conn *websocket.Conn, data json.RawMessage) {
	var req review.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWSError(conn, "invalid analyze data")
		return
	}
	req.Observer = func(e review.Event) {
		s.sendWSMessage(conn, wsMsgProgress, e)
	}

	run, err := s.analyze(r, req)
	if err != nil {
		s.sendWSError(conn, err.Error())
		return
	}
	s.sendWSMessage(conn, wsMsgRun, run)
}

func (s *Server) handleWSParse(conn *websocket.Conn, data json.RawMessage) {
	var req parseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWSError(conn, "invalid parse data")
		return
	}
	files, err := diff.ParsePatch(strings.NewReader(req.Diff))
	if err != nil {
		s.sendWSError(conn, err.Error())
		return
	}
	s.sendWSMessage(conn, wsMsgParsed, parseResponse{Files: files, Stats: stats(files)})
}

func (s *Server) sendWSMessage(conn *websocket.Conn, msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("ws marshal", "error", err)
		return
	}
	msg := wsMessage{Type: msgType, Data: raw}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("ws write", "error", err)
	}
}

func (s *Server) sendWSError(conn *websocket.Conn, errMsg string) {
	s.sendWSMessage(conn, wsMsgError, map[string]string{"message": errMsg})
}

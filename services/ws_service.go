package service

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
)

// SocketConn is the part of a websocket connection the hub writes to.
type SocketConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WebSocketService fans messages out to every connection watching a canvas.
type WebSocketService struct {
	rooms  map[int64]map[SocketConn]bool
	mu     sync.Mutex
	logger zerolog.Logger
}

func NewWebSocketService(logger zerolog.Logger) *WebSocketService {
	return &WebSocketService{
		rooms:  make(map[int64]map[SocketConn]bool),
		logger: logger,
	}
}

func (s *WebSocketService) Subscribe(canvasID int64, conn SocketConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[canvasID]; !exists {
		s.rooms[canvasID] = make(map[SocketConn]bool)
	}
	s.rooms[canvasID][conn] = true
	s.logger.Debug().Int64("canvas_id", canvasID).Msg("client subscribed")
}

// Publish writes message to every subscriber of canvasID. Connections that
// fail to accept the write are closed and dropped.
func (s *WebSocketService) Publish(canvasID int64, message []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients, exists := s.rooms[canvasID]
	if !exists {
		return
	}
	for client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			s.logger.Warn().Err(err).Int64("canvas_id", canvasID).Msg("dropping client after failed write")
			client.Close()
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(s.rooms, canvasID)
	}
}

func (s *WebSocketService) RemoveClient(canvasID int64, conn SocketConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients, exists := s.rooms[canvasID]
	if !exists {
		return
	}
	delete(clients, conn)
	if len(clients) == 0 {
		delete(s.rooms, canvasID)
	}
	s.logger.Debug().Int64("canvas_id", canvasID).Msg("client removed")
}

// Subscribers reports how many connections watch canvasID.
func (s *WebSocketService) Subscribers(canvasID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[canvasID])
}

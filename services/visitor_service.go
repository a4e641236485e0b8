package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/123bigmirros/electronic-grave/models"
)

// VisitorStore keeps the visitor list of each canvas.
type VisitorStore interface {
	AddVisitor(ctx context.Context, canvasID int64, visitor models.Visitor) error
	GetVisitors(ctx context.Context, canvasID int64) ([]models.Visitor, error)
	RemoveVisitor(ctx context.Context, canvasID int64, sessionID string) error
}

// VisitorsMessage is pushed to every socket of a canvas when its visitor
// list changes.
type VisitorsMessage struct {
	Type     string           `json:"type"`
	CanvasID int64            `json:"canvasId"`
	Visitors []models.Visitor `json:"visitors"`
}

type VisitorService struct {
	store  VisitorStore
	hub    *WebSocketService
	logger zerolog.Logger
}

func NewVisitorService(store VisitorStore, hub *WebSocketService, logger zerolog.Logger) *VisitorService {
	return &VisitorService{store: store, hub: hub, logger: logger}
}

func (s *VisitorService) Join(ctx context.Context, canvasID int64, conn SocketConn, visitor models.Visitor) error {
	if visitor.JoinedAt.IsZero() {
		visitor.JoinedAt = time.Now().UTC()
	}
	if err := s.store.AddVisitor(ctx, canvasID, visitor); err != nil {
		return err
	}
	s.hub.Subscribe(canvasID, conn)
	s.broadcast(ctx, canvasID)
	return nil
}

func (s *VisitorService) Leave(ctx context.Context, canvasID int64, conn SocketConn, sessionID string) error {
	s.hub.RemoveClient(canvasID, conn)
	if err := s.store.RemoveVisitor(ctx, canvasID, sessionID); err != nil {
		return err
	}
	s.broadcast(ctx, canvasID)
	return nil
}

func (s *VisitorService) Visitors(ctx context.Context, canvasID int64) ([]models.Visitor, error) {
	return s.store.GetVisitors(ctx, canvasID)
}

func (s *VisitorService) broadcast(ctx context.Context, canvasID int64) {
	visitors, err := s.store.GetVisitors(ctx, canvasID)
	if err != nil {
		s.logger.Error().Err(err).Int64("canvas_id", canvasID).Msg("load visitors")
		return
	}
	msg, err := json.Marshal(VisitorsMessage{Type: "visitors", CanvasID: canvasID, Visitors: visitors})
	if err != nil {
		s.logger.Error().Err(err).Msg("encode visitors")
		return
	}
	s.hub.Publish(canvasID, msg)
}

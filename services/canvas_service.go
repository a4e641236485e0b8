package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/123bigmirros/electronic-grave/models"
	"github.com/123bigmirros/electronic-grave/repository"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidCanvas   = errors.New("invalid canvas")
)

const DefaultPublicSampleSize = 20

func authenticated(callerID int64) bool {
	return callerID > 0
}

// CanvasService is the entry point for everything a caller does with canvases
// and heritage items.
type CanvasService struct {
	repo        repository.CanvasRepositoryInterface
	claimer     Claimer
	publicLimit int
	logger      zerolog.Logger
}

func NewCanvasService(repo repository.CanvasRepositoryInterface, claimer Claimer, publicLimit int, logger zerolog.Logger) *CanvasService {
	if publicLimit <= 0 {
		publicLimit = DefaultPublicSampleSize
	}
	return &CanvasService{repo: repo, claimer: claimer, publicLimit: publicLimit, logger: logger}
}

func validateCanvas(canvas *models.Canvas) error {
	if canvas == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidCanvas)
	}
	for i, img := range canvas.Images {
		if strings.TrimSpace(img.ImageURL) == "" {
			return fmt.Errorf("%w: image %d has no url", ErrInvalidCanvas, i)
		}
	}
	return nil
}

// carryOverClaims resets the owner of every incoming item except those whose
// id matches a stored item that is already claimed.
func carryOverClaims(stored []models.HeritageItem, next *models.Canvas) {
	claimed := map[int64]int64{}
	for _, it := range stored {
		if it.Claimed() {
			claimed[it.ID] = it.OwnerID
		}
	}
	for h := range next.Heritages {
		items := next.Heritages[h].Items
		for i := range items {
			items[i].OwnerID = claimed[items[i].ID]
		}
	}
}

// SaveCanvas creates the canvas when it has no id yet and otherwise replaces
// the stored one in full. The returned id is stable across re-saves.
func (s *CanvasService) SaveCanvas(ctx context.Context, canvas *models.Canvas, callerID int64) (int64, error) {
	if !authenticated(callerID) {
		return 0, ErrUnauthenticated
	}
	if err := validateCanvas(canvas); err != nil {
		return 0, err
	}
	canvas.OwnerID = callerID

	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.CanvasRepositoryInterface) error {
		if canvas.IsNew() {
			carryOverClaims(nil, canvas)
			if _, err := tx.CreateCanvas(ctx, canvas); err != nil {
				return err
			}
		} else {
			prev, err := tx.LoadCanvas(ctx, canvas.ID, callerID)
			if err != nil {
				return err
			}
			canvas.CreatedAt = prev.CreatedAt
			// owners are read again under lock; a claim may have landed
			// after the canvas was loaded
			stored, err := tx.LockCanvasItems(ctx, canvas.ID)
			if err != nil {
				return err
			}
			carryOverClaims(stored, canvas)
			if err := tx.UpdateCanvas(ctx, canvas); err != nil {
				return err
			}
		}
		canvas.SetCanvasID(canvas.ID)
		return tx.ReplaceCanvasContent(ctx, canvas.ID, canvas.Children())
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug().Int64("canvas_id", canvas.ID).Int64("user_id", callerID).Msg("canvas saved")
	return canvas.ID, nil
}

// GetPublicHeritageContent lists the items of a shrine the caller may read:
// every public item plus the private ones the caller owns.
func (s *CanvasService) GetPublicHeritageContent(ctx context.Context, heritageID, callerID int64) ([]models.HeritageItem, error) {
	exists, err := s.repo.HeritageExists(ctx, heritageID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	items, err := s.repo.FetchAllItems(ctx, heritageID)
	if err != nil {
		return nil, err
	}
	visible := make([]models.HeritageItem, 0, len(items))
	for _, it := range items {
		if it.VisibleTo(callerID) {
			visible = append(visible, it)
		}
	}
	return visible, nil
}

func (s *CanvasService) AttemptPrivateClaim(ctx context.Context, heritageID, callerID int64) (*models.HeritageItem, error) {
	if !authenticated(callerID) {
		return nil, ErrUnauthenticated
	}
	return s.claimer.ClaimPrivateHeritageItem(ctx, heritageID, callerID)
}

// AttemptPrivateClaimAsync starts a claim and returns at once. Anonymous
// callers are rejected before anything is started.
func (s *CanvasService) AttemptPrivateClaimAsync(ctx context.Context, heritageID, callerID int64) (<-chan ClaimResponse, error) {
	if !authenticated(callerID) {
		return nil, ErrUnauthenticated
	}
	return ClaimAsync(ctx, s.claimer, heritageID, callerID), nil
}

func (s *CanvasService) DeleteCanvas(ctx context.Context, canvasID, callerID int64, contentOnly bool) error {
	if !authenticated(callerID) {
		return ErrUnauthenticated
	}
	return s.repo.InTx(ctx, func(ctx context.Context, tx repository.CanvasRepositoryInterface) error {
		if _, err := tx.LoadCanvas(ctx, canvasID, callerID); err != nil {
			return err
		}
		return tx.DeleteCanvas(ctx, canvasID, contentOnly)
	})
}

// ListOwned returns the caller's canvases without their children.
func (s *CanvasService) ListOwned(ctx context.Context, callerID int64) ([]models.Canvas, error) {
	if !authenticated(callerID) {
		return nil, ErrUnauthenticated
	}
	return s.repo.ListCanvasesByOwner(ctx, callerID)
}

// ListPublic samples public canvases. A non-positive limit uses the
// configured sample size.
func (s *CanvasService) ListPublic(ctx context.Context, callerID int64, limit int) ([]models.Canvas, error) {
	if limit <= 0 {
		limit = s.publicLimit
	}
	canvases, err := s.repo.ListPublicCanvases(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range canvases {
		redact(&canvases[i], callerID)
	}
	return canvases, nil
}

// GetByID loads one canvas. With requireOwnership only the caller's own
// canvases are found. Otherwise private canvases of other users are reported
// as not found, and shrine items the caller may not read are redacted.
func (s *CanvasService) GetByID(ctx context.Context, canvasID, callerID int64, requireOwnership bool) (*models.Canvas, error) {
	if requireOwnership {
		if !authenticated(callerID) {
			return nil, ErrUnauthenticated
		}
		return s.repo.LoadCanvas(ctx, canvasID, callerID)
	}

	canvas, err := s.repo.LoadCanvas(ctx, canvasID, models.AnonymousUserID)
	if err != nil {
		return nil, err
	}
	if !canvas.IsPublic && canvas.OwnerID != callerID {
		return nil, repository.ErrNotFound
	}
	redact(canvas, callerID)
	return canvas, nil
}

// redact clears the content of items callerID may not read, unless the
// caller owns the canvas.
func redact(canvas *models.Canvas, callerID int64) {
	if authenticated(callerID) && canvas.OwnerID == callerID {
		return
	}
	for h := range canvas.Heritages {
		items := canvas.Heritages[h].Items
		for i := range items {
			if !items[i].VisibleTo(callerID) {
				items[i] = items[i].Placeholder()
			}
		}
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/123bigmirros/electronic-grave/models"
)

// ErrNotFound is returned when a canvas does not exist or is not visible
// under the requested ownership scope.
var ErrNotFound = errors.New("not found")

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// HeritageItemRepositoryInterface is the narrow surface the claim engine needs.
type HeritageItemRepositoryInterface interface {
	FetchUnclaimedPrivateItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error)
	FetchAllItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error)
	// ConditionalAssignOwner sets the owner of an unclaimed private item in a
	// single conditional write. It reports false when the item is already owned.
	ConditionalAssignOwner(ctx context.Context, itemID, newOwnerID int64) (bool, error)
}

// CanvasRepositoryInterface persists the canvas aggregate.
type CanvasRepositoryInterface interface {
	HeritageItemRepositoryInterface

	CreateCanvas(ctx context.Context, canvas *models.Canvas) (int64, error)
	UpdateCanvas(ctx context.Context, canvas *models.Canvas) error
	// ReplaceCanvasContent deletes every child of the canvas and inserts the
	// given children. Ids generated by the store are written back into them.
	ReplaceCanvasContent(ctx context.Context, canvasID int64, children []models.Child) error
	// LoadCanvas returns the canvas with all children. A concrete callerID
	// restricts the lookup to canvases owned by that user; the anonymous id
	// loads the canvas whoever owns it.
	LoadCanvas(ctx context.Context, canvasID, callerID int64) (*models.Canvas, error)
	ListPublicCanvases(ctx context.Context, limit int) ([]models.Canvas, error)
	ListCanvasesByOwner(ctx context.Context, ownerID int64) ([]models.Canvas, error)
	DeleteCanvas(ctx context.Context, canvasID int64, contentOnly bool) error
	HeritageExists(ctx context.Context, heritageID int64) (bool, error)
	// LockCanvasItems returns the stored heritage items of a canvas. Inside
	// InTx, stores with row locks keep them locked against claims until the
	// transaction ends.
	LockCanvasItems(ctx context.Context, canvasID int64) ([]models.HeritageItem, error)
	// InTx runs fn against a store bound to one transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, tx CanvasRepositoryInterface) error) error
}

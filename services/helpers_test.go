package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/123bigmirros/electronic-grave/models"
	"github.com/123bigmirros/electronic-grave/repository"
)

func newSQLiteRepo(t *testing.T) *repository.SQLCanvasRepository {
	t.Helper()
	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "grave.db"))
	require.NoError(t, err)
	repo := repository.NewSQLCanvasRepository(db, repository.DialectSQLite)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

// memItemRepo is an in-memory heritage item store with a mutex-guarded
// conditional write.
type memItemRepo struct {
	mu    sync.Mutex
	items map[int64]*models.HeritageItem

	fetchErr  error
	assignErr error
	// keepUnclaimed makes successful assignments leave the item available,
	// so a pool never drains.
	keepUnclaimed bool
	// attempted counts conditional writes per item id.
	attempted map[int64]int
}

func newMemItemRepo(items ...models.HeritageItem) *memItemRepo {
	r := &memItemRepo{items: map[int64]*models.HeritageItem{}, attempted: map[int64]int{}}
	for i := range items {
		it := items[i]
		r.items[it.ID] = &it
	}
	return r
}

func (r *memItemRepo) FetchUnclaimedPrivateItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.HeritageItem
	for id := int64(1); id <= int64(len(r.items)); id++ {
		it, ok := r.items[id]
		if ok && it.HeritageID == heritageID && it.IsPrivate && !it.Claimed() {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *memItemRepo) FetchAllItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.HeritageItem
	for id := int64(1); id <= int64(len(r.items)); id++ {
		if it, ok := r.items[id]; ok && it.HeritageID == heritageID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *memItemRepo) ConditionalAssignOwner(ctx context.Context, itemID, newOwnerID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempted[itemID]++
	if r.assignErr != nil {
		return false, r.assignErr
	}
	if newOwnerID <= 0 {
		return false, errors.New("invalid owner")
	}
	it, ok := r.items[itemID]
	if !ok || !it.IsPrivate || it.Claimed() {
		return false, nil
	}
	if !r.keepUnclaimed {
		it.OwnerID = newOwnerID
	}
	return true, nil
}

func privateItems(heritageID int64, n int) []models.HeritageItem {
	items := make([]models.HeritageItem, n)
	for i := range items {
		items[i] = models.HeritageItem{ID: int64(i + 1), HeritageID: heritageID, Content: "item", IsPrivate: true}
	}
	return items
}

// stubClaimer returns a fixed answer and records its calls.
type stubClaimer struct {
	mu    sync.Mutex
	item  *models.HeritageItem
	err   error
	calls []int64
}

func (s *stubClaimer) ClaimPrivateHeritageItem(ctx context.Context, heritageID, callerID int64) (*models.HeritageItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, callerID)
	return s.item, s.err
}

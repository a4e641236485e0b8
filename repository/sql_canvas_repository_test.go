package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/123bigmirros/electronic-grave/models"
)

func newSQLiteRepo(t *testing.T) *SQLCanvasRepository {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "grave.db"))
	require.NoError(t, err)
	repo := NewSQLCanvasRepository(db, DialectSQLite)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func sampleCanvas(owner int64) *models.Canvas {
	return &models.Canvas{
		ID:       models.NewCanvasID,
		OwnerID:  owner,
		Title:    "grandmother",
		IsPublic: true,
		Images: []models.ImageBox{
			{ImageURL: "/uploads/a.png", Position: models.Position{Left: 1, Top: 2, Width: 30, Height: 40}},
		},
		Texts:     []models.TextBox{{Content: "rest well", Position: models.Position{Left: 5}}},
		Markdowns: []models.MarkdownBox{{Content: "## 1931-2020"}},
		Heritages: []models.Heritage{{
			Position: models.Position{Width: 100, Height: 100},
			Items: []models.HeritageItem{
				{Content: "photo album", IsPrivate: false},
				{Content: "letter", IsPrivate: true},
				{Content: "ring", IsPrivate: true},
			},
		}},
	}
}

// saveCanvas stores c the way the composition service does.
func saveCanvas(t *testing.T, repo CanvasRepositoryInterface, c *models.Canvas) int64 {
	t.Helper()
	ctx := context.Background()
	err := repo.InTx(ctx, func(ctx context.Context, tx CanvasRepositoryInterface) error {
		if _, err := tx.CreateCanvas(ctx, c); err != nil {
			return err
		}
		return tx.ReplaceCanvasContent(ctx, c.ID, c.Children())
	})
	require.NoError(t, err)
	return c.ID
}

func countRows(t *testing.T, repo *SQLCanvasRepository, table string) int {
	t.Helper()
	var n int
	require.NoError(t, repo.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestSQLCanvasRepository_CreateAndLoad(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	c := sampleCanvas(7)
	id := saveCanvas(t, repo, c)
	require.Positive(t, id)
	assert.Positive(t, c.Images[0].ID, "generated ids are written back")
	assert.Equal(t, id, c.Heritages[0].CanvasID)
	assert.Equal(t, c.Heritages[0].ID, c.Heritages[0].Items[0].HeritageID)

	loaded, err := repo.LoadCanvas(ctx, id, 7)
	require.NoError(t, err)
	assert.Equal(t, "grandmother", loaded.Title)
	assert.True(t, loaded.IsPublic)
	assert.Equal(t, int64(7), loaded.OwnerID)
	require.Len(t, loaded.Images, 1)
	assert.Equal(t, models.Position{Left: 1, Top: 2, Width: 30, Height: 40}, loaded.Images[0].Position)
	require.Len(t, loaded.Texts, 1)
	assert.Equal(t, "rest well", loaded.Texts[0].Content)
	require.Len(t, loaded.Markdowns, 1)
	require.Len(t, loaded.Heritages, 1)
	assert.False(t, loaded.Heritages[0].PublicTime.IsZero())
	require.Len(t, loaded.Heritages[0].Items, 3)
	for _, it := range loaded.Heritages[0].Items {
		assert.Equal(t, models.UnclaimedOwner, it.OwnerID)
	}
	assert.WithinDuration(t, time.Now(), loaded.CreatedAt, time.Minute)
}

func TestSQLCanvasRepository_LoadIsOwnerScoped(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	id := saveCanvas(t, repo, sampleCanvas(7))

	_, err := repo.LoadCanvas(ctx, id, 8)
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := repo.LoadCanvas(ctx, id, models.AnonymousUserID)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)

	_, err = repo.LoadCanvas(ctx, id+100, models.AnonymousUserID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLCanvasRepository_ReplaceContentIsFull(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	id := saveCanvas(t, repo, sampleCanvas(7))

	next := &models.Canvas{
		Texts:     []models.TextBox{{Content: "only text"}},
		Heritages: []models.Heritage{{}},
	}
	require.NoError(t, repo.ReplaceCanvasContent(ctx, id, next.Children()))
	require.NoError(t, repo.ReplaceCanvasContent(ctx, id, next.Children()))

	loaded, err := repo.LoadCanvas(ctx, id, 7)
	require.NoError(t, err)
	assert.Empty(t, loaded.Images)
	assert.Empty(t, loaded.Markdowns)
	require.Len(t, loaded.Texts, 1)
	require.Len(t, loaded.Heritages, 1)
	assert.Empty(t, loaded.Heritages[0].Items)
	assert.Equal(t, 0, countRows(t, repo, "heritage_items"))
}

func TestSQLCanvasRepository_UpdateCanvas(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	c := sampleCanvas(7)
	id := saveCanvas(t, repo, c)

	c.Title = "renamed"
	c.IsPublic = false
	require.NoError(t, repo.UpdateCanvas(ctx, c))

	loaded, err := repo.LoadCanvas(ctx, id, 7)
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Title)
	assert.False(t, loaded.IsPublic)

	other := *c
	other.OwnerID = 8
	assert.ErrorIs(t, repo.UpdateCanvas(ctx, &other), ErrNotFound)
}

func TestSQLCanvasRepository_DeleteCascades(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	keep := saveCanvas(t, repo, sampleCanvas(9))
	id := saveCanvas(t, repo, sampleCanvas(7))

	require.NoError(t, repo.DeleteCanvas(ctx, id, true))
	c, err := repo.LoadCanvas(ctx, id, 7)
	require.NoError(t, err, "content-only delete keeps the canvas row")
	assert.Empty(t, c.Images)
	assert.Empty(t, c.Heritages)

	require.NoError(t, repo.DeleteCanvas(ctx, id, false))
	_, err = repo.LoadCanvas(ctx, id, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, table := range []string{"image_boxes", "text_boxes", "markdown_boxes", "heritages"} {
		assert.Equal(t, 1, countRows(t, repo, table), table)
	}
	assert.Equal(t, 3, countRows(t, repo, "heritage_items"))

	other, err := repo.LoadCanvas(ctx, keep, 9)
	require.NoError(t, err)
	assert.Len(t, other.Heritages[0].Items, 3)
}

func TestSQLCanvasRepository_ConditionalAssignOwner(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	c := sampleCanvas(7)
	saveCanvas(t, repo, c)
	items := c.Heritages[0].Items
	public, letter := items[0], items[1]

	won, err := repo.ConditionalAssignOwner(ctx, letter.ID, 11)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ConditionalAssignOwner(ctx, letter.ID, 12)
	require.NoError(t, err)
	assert.False(t, won, "an owned item never changes hands")

	won, err = repo.ConditionalAssignOwner(ctx, public.ID, 12)
	require.NoError(t, err)
	assert.False(t, won, "public items are not claimable")

	_, err = repo.ConditionalAssignOwner(ctx, items[2].ID, models.UnclaimedOwner)
	assert.Error(t, err)

	all, err := repo.FetchAllItems(ctx, c.Heritages[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11), all[1].OwnerID)
}

func TestSQLCanvasRepository_HeritageExists(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	c := sampleCanvas(7)
	c.Heritages = append(c.Heritages, models.Heritage{})
	saveCanvas(t, repo, c)

	for _, h := range c.Heritages {
		ok, err := repo.HeritageExists(ctx, h.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	items, err := repo.FetchAllItems(ctx, c.Heritages[1].ID)
	require.NoError(t, err)
	assert.Empty(t, items, "an empty shrine still exists")

	ok, err := repo.HeritageExists(ctx, 999999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLCanvasRepository_LockCanvasItems(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	c := sampleCanvas(7)
	saveCanvas(t, repo, c)
	other := sampleCanvas(8)
	saveCanvas(t, repo, other)

	letter := c.Heritages[0].Items[1]
	won, err := repo.ConditionalAssignOwner(ctx, letter.ID, 11)
	require.NoError(t, err)
	require.True(t, won)

	err = repo.InTx(ctx, func(ctx context.Context, tx CanvasRepositoryInterface) error {
		items, err := tx.LockCanvasItems(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, items, 3, "only items of the requested canvas")
		assert.Equal(t, int64(11), items[1].OwnerID)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLCanvasRepository_FetchUnclaimedPrivateItems(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	c := sampleCanvas(7)
	saveCanvas(t, repo, c)
	hid := c.Heritages[0].ID

	items, err := repo.FetchUnclaimedPrivateItems(ctx, hid)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "letter", items[0].Content)

	_, err = repo.ConditionalAssignOwner(ctx, items[0].ID, 3)
	require.NoError(t, err)
	items, err = repo.FetchUnclaimedPrivateItems(ctx, hid)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ring", items[0].Content)

	items, err = repo.FetchUnclaimedPrivateItems(ctx, hid+1000)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSQLCanvasRepository_ListPublicCanvases(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		saveCanvas(t, repo, sampleCanvas(int64(i+1)))
	}
	hidden := sampleCanvas(1)
	hidden.IsPublic = false
	saveCanvas(t, repo, hidden)

	list, err := repo.ListPublicCanvases(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = repo.ListPublicCanvases(ctx, 50)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for _, c := range list {
		assert.True(t, c.IsPublic)
		assert.Len(t, c.Heritages, 1, "public listing loads children")
	}

	list, err = repo.ListPublicCanvases(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLCanvasRepository_ListCanvasesByOwner(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	a := saveCanvas(t, repo, sampleCanvas(7))
	b := saveCanvas(t, repo, sampleCanvas(7))
	saveCanvas(t, repo, sampleCanvas(8))

	list, err := repo.ListCanvasesByOwner(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, b, list[1].ID)
	assert.Nil(t, list[0].Heritages, "summaries carry no children")

	list, err = repo.ListCanvasesByOwner(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLCanvasRepository_InTxRollsBack(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var created int64
	err := repo.InTx(ctx, func(ctx context.Context, tx CanvasRepositoryInterface) error {
		c := sampleCanvas(7)
		id, err := tx.CreateCanvas(ctx, c)
		if err != nil {
			return err
		}
		created = id
		if err := tx.ReplaceCanvasContent(ctx, id, c.Children()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.LoadCanvas(ctx, created, models.AnonymousUserID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, countRows(t, repo, "heritage_items"))
}

func TestDialectRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE id = ? AND b = ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE t SET a = $1 WHERE id = $2 AND b = $3`, DialectPostgres.rebind(q))
}

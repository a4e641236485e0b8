package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/123bigmirros/electronic-grave/models"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Dialect selects placeholder style and schema for a SQL database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// rebind rewrites ? placeholders into the dialect's style.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqlQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLCanvasRepository stores canvases in SQLite or PostgreSQL.
type SQLCanvasRepository struct {
	db      *sql.DB
	q       sqlQueryer
	dialect Dialect
	inTx    bool
}

func NewSQLCanvasRepository(db *sql.DB, dialect Dialect) *SQLCanvasRepository {
	return &SQLCanvasRepository{db: db, q: db, dialect: dialect}
}

// OpenSQLite opens a SQLite database file. Use ":memory:" for a private
// in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// OpenPostgres opens a PostgreSQL connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the schema if it does not exist yet.
func (r *SQLCanvasRepository) Migrate(ctx context.Context) error {
	script, err := schemaFS.ReadFile("schema/" + string(r.dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("read %s schema: %w", r.dialect, err)
	}
	for _, stmt := range strings.Split(string(script), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.q.ExecContext(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}
	return nil
}

func (r *SQLCanvasRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLCanvasRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx CanvasRepositoryInterface) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	txRepo := &SQLCanvasRepository{db: r.db, q: tx, dialect: r.dialect, inTx: true}
	if err := fn(ctx, txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, storageErr("rollback", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (r *SQLCanvasRepository) CreateCanvas(ctx context.Context, canvas *models.Canvas) (int64, error) {
	now := time.Now().UTC()
	if canvas.CreatedAt.IsZero() {
		canvas.CreatedAt = now
	}
	canvas.UpdatedAt = now

	id, err := r.insertReturningID(ctx,
		`INSERT INTO canvases (owner_id, title, is_public, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		canvas.OwnerID, canvas.Title, canvas.IsPublic, toMillis(canvas.CreatedAt), toMillis(canvas.UpdatedAt),
	)
	if err != nil {
		return 0, storageErr("create canvas", err)
	}
	canvas.ID = id
	return id, nil
}

func (r *SQLCanvasRepository) UpdateCanvas(ctx context.Context, canvas *models.Canvas) error {
	canvas.UpdatedAt = time.Now().UTC()
	res, err := r.q.ExecContext(ctx, r.dialect.rebind(
		`UPDATE canvases SET title = ?, is_public = ?, updated_at = ? WHERE id = ? AND owner_id = ?`),
		canvas.Title, canvas.IsPublic, toMillis(canvas.UpdatedAt), canvas.ID, canvas.OwnerID,
	)
	if err != nil {
		return storageErr("update canvas", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update canvas", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLCanvasRepository) ReplaceCanvasContent(ctx context.Context, canvasID int64, children []models.Child) error {
	if !r.inTx {
		return r.InTx(ctx, func(ctx context.Context, tx CanvasRepositoryInterface) error {
			return tx.ReplaceCanvasContent(ctx, canvasID, children)
		})
	}
	if err := r.deleteContent(ctx, canvasID); err != nil {
		return err
	}
	for _, child := range children {
		if err := r.insertChild(ctx, canvasID, child); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLCanvasRepository) insertChild(ctx context.Context, canvasID int64, child models.Child) error {
	switch c := child.(type) {
	case *models.ImageBox:
		id, err := r.insertReturningID(ctx,
			`INSERT INTO image_boxes (canvas_id, image_url, pos_left, pos_top, pos_width, pos_height) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			canvasID, c.ImageURL, c.Left, c.Top, c.Width, c.Height)
		if err != nil {
			return storageErr("insert image box", err)
		}
		c.ID, c.CanvasID = id, canvasID
	case *models.TextBox:
		id, err := r.insertReturningID(ctx,
			`INSERT INTO text_boxes (canvas_id, content, pos_left, pos_top, pos_width, pos_height) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			canvasID, c.Content, c.Left, c.Top, c.Width, c.Height)
		if err != nil {
			return storageErr("insert text box", err)
		}
		c.ID, c.CanvasID = id, canvasID
	case *models.MarkdownBox:
		id, err := r.insertReturningID(ctx,
			`INSERT INTO markdown_boxes (canvas_id, content, pos_left, pos_top, pos_width, pos_height) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			canvasID, c.Content, c.Left, c.Top, c.Width, c.Height)
		if err != nil {
			return storageErr("insert markdown box", err)
		}
		c.ID, c.CanvasID = id, canvasID
	case *models.Heritage:
		if c.PublicTime.IsZero() {
			c.PublicTime = time.Now().UTC()
		}
		id, err := r.insertReturningID(ctx,
			`INSERT INTO heritages (canvas_id, public_time, pos_left, pos_top, pos_width, pos_height) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			canvasID, toMillis(c.PublicTime), c.Left, c.Top, c.Width, c.Height)
		if err != nil {
			return storageErr("insert heritage", err)
		}
		c.ID, c.CanvasID = id, canvasID
		for i := range c.Items {
			item := &c.Items[i]
			itemID, err := r.insertReturningID(ctx,
				`INSERT INTO heritage_items (heritage_id, content, is_private, owner_id) VALUES (?, ?, ?, ?) RETURNING id`,
				id, item.Content, item.IsPrivate, item.OwnerID)
			if err != nil {
				return storageErr("insert heritage item", err)
			}
			item.ID, item.HeritageID = itemID, id
		}
	default:
		return fmt.Errorf("unsupported canvas child %T", child)
	}
	return nil
}

func (r *SQLCanvasRepository) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := r.q.QueryRowContext(ctx, r.dialect.rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

var contentDeletes = []string{
	`DELETE FROM heritage_items WHERE heritage_id IN (SELECT id FROM heritages WHERE canvas_id = ?)`,
	`DELETE FROM heritages WHERE canvas_id = ?`,
	`DELETE FROM image_boxes WHERE canvas_id = ?`,
	`DELETE FROM text_boxes WHERE canvas_id = ?`,
	`DELETE FROM markdown_boxes WHERE canvas_id = ?`,
}

func (r *SQLCanvasRepository) deleteContent(ctx context.Context, canvasID int64) error {
	for _, stmt := range contentDeletes {
		if _, err := r.q.ExecContext(ctx, r.dialect.rebind(stmt), canvasID); err != nil {
			return storageErr("delete canvas content", err)
		}
	}
	return nil
}

func (r *SQLCanvasRepository) DeleteCanvas(ctx context.Context, canvasID int64, contentOnly bool) error {
	if !r.inTx {
		return r.InTx(ctx, func(ctx context.Context, tx CanvasRepositoryInterface) error {
			return tx.DeleteCanvas(ctx, canvasID, contentOnly)
		})
	}
	if err := r.deleteContent(ctx, canvasID); err != nil {
		return err
	}
	if contentOnly {
		return nil
	}
	if _, err := r.q.ExecContext(ctx, r.dialect.rebind(`DELETE FROM canvases WHERE id = ?`), canvasID); err != nil {
		return storageErr("delete canvas", err)
	}
	return nil
}

const canvasColumns = `id, owner_id, title, is_public, created_at, updated_at`

func scanCanvas(row interface{ Scan(...any) error }) (models.Canvas, error) {
	var (
		c                models.Canvas
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.IsPublic, &created, &updated); err != nil {
		return models.Canvas{}, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func (r *SQLCanvasRepository) LoadCanvas(ctx context.Context, canvasID, callerID int64) (*models.Canvas, error) {
	query := `SELECT ` + canvasColumns + ` FROM canvases WHERE id = ?`
	args := []any{canvasID}
	if callerID != models.AnonymousUserID {
		query += ` AND owner_id = ?`
		args = append(args, callerID)
	}
	canvas, err := scanCanvas(r.q.QueryRowContext(ctx, r.dialect.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load canvas", err)
	}
	if err := r.loadChildren(ctx, &canvas); err != nil {
		return nil, err
	}
	return &canvas, nil
}

func (r *SQLCanvasRepository) ListPublicCanvases(ctx context.Context, limit int) ([]models.Canvas, error) {
	if limit <= 0 {
		return nil, nil
	}
	canvases, err := r.queryCanvases(ctx,
		`SELECT `+canvasColumns+` FROM canvases WHERE is_public = ? ORDER BY RANDOM() LIMIT ?`, true, limit)
	if err != nil {
		return nil, storageErr("list public canvases", err)
	}
	for i := range canvases {
		if err := r.loadChildren(ctx, &canvases[i]); err != nil {
			return nil, err
		}
	}
	return canvases, nil
}

func (r *SQLCanvasRepository) ListCanvasesByOwner(ctx context.Context, ownerID int64) ([]models.Canvas, error) {
	canvases, err := r.queryCanvases(ctx,
		`SELECT `+canvasColumns+` FROM canvases WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, storageErr("list canvases by owner", err)
	}
	return canvases, nil
}

func (r *SQLCanvasRepository) queryCanvases(ctx context.Context, query string, args ...any) ([]models.Canvas, error) {
	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	canvases := []models.Canvas{}
	for rows.Next() {
		c, err := scanCanvas(rows)
		if err != nil {
			return nil, err
		}
		canvases = append(canvases, c)
	}
	return canvases, rows.Err()
}

func (r *SQLCanvasRepository) loadChildren(ctx context.Context, canvas *models.Canvas) error {
	var err error
	if canvas.Images, err = r.loadImages(ctx, canvas.ID); err != nil {
		return storageErr("load image boxes", err)
	}
	texts, err := r.loadContentBoxes(ctx, "text_boxes", canvas.ID)
	if err != nil {
		return storageErr("load text boxes", err)
	}
	canvas.Texts = make([]models.TextBox, 0, len(texts))
	for _, b := range texts {
		canvas.Texts = append(canvas.Texts, models.TextBox{ID: b.id, CanvasID: b.canvasID, Content: b.content, Position: b.pos})
	}
	markdowns, err := r.loadContentBoxes(ctx, "markdown_boxes", canvas.ID)
	if err != nil {
		return storageErr("load markdown boxes", err)
	}
	canvas.Markdowns = make([]models.MarkdownBox, 0, len(markdowns))
	for _, b := range markdowns {
		canvas.Markdowns = append(canvas.Markdowns, models.MarkdownBox{ID: b.id, CanvasID: b.canvasID, Content: b.content, Position: b.pos})
	}
	if canvas.Heritages, err = r.loadHeritages(ctx, canvas.ID); err != nil {
		return storageErr("load heritages", err)
	}
	return nil
}

func (r *SQLCanvasRepository) loadImages(ctx context.Context, canvasID int64) ([]models.ImageBox, error) {
	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(
		`SELECT id, canvas_id, image_url, pos_left, pos_top, pos_width, pos_height FROM image_boxes WHERE canvas_id = ? ORDER BY id`), canvasID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := []models.ImageBox{}
	for rows.Next() {
		var b models.ImageBox
		if err := rows.Scan(&b.ID, &b.CanvasID, &b.ImageURL, &b.Left, &b.Top, &b.Width, &b.Height); err != nil {
			return nil, err
		}
		images = append(images, b)
	}
	return images, rows.Err()
}

type contentBoxRow struct {
	id       int64
	canvasID int64
	content  string
	pos      models.Position
}

// loadContentBoxes reads text_boxes or markdown_boxes, which share one shape.
func (r *SQLCanvasRepository) loadContentBoxes(ctx context.Context, table string, canvasID int64) ([]contentBoxRow, error) {
	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(
		`SELECT id, canvas_id, content, pos_left, pos_top, pos_width, pos_height FROM `+table+` WHERE canvas_id = ? ORDER BY id`), canvasID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boxes []contentBoxRow
	for rows.Next() {
		var b contentBoxRow
		if err := rows.Scan(&b.id, &b.canvasID, &b.content, &b.pos.Left, &b.pos.Top, &b.pos.Width, &b.pos.Height); err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	return boxes, rows.Err()
}

func (r *SQLCanvasRepository) loadHeritages(ctx context.Context, canvasID int64) ([]models.Heritage, error) {
	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(
		`SELECT id, canvas_id, public_time, pos_left, pos_top, pos_width, pos_height FROM heritages WHERE canvas_id = ? ORDER BY id`), canvasID)
	if err != nil {
		return nil, err
	}
	heritages := []models.Heritage{}
	index := map[int64]int{}
	for rows.Next() {
		var (
			h          models.Heritage
			publicTime int64
		)
		if err := rows.Scan(&h.ID, &h.CanvasID, &publicTime, &h.Left, &h.Top, &h.Width, &h.Height); err != nil {
			rows.Close()
			return nil, err
		}
		h.PublicTime = fromMillis(publicTime)
		h.Items = []models.HeritageItem{}
		index[h.ID] = len(heritages)
		heritages = append(heritages, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(heritages) == 0 {
		return heritages, nil
	}

	items, err := r.queryItems(ctx,
		`SELECT i.id, i.heritage_id, i.content, i.is_private, i.owner_id FROM heritage_items i
		 JOIN heritages h ON h.id = i.heritage_id WHERE h.canvas_id = ? ORDER BY i.id`, canvasID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if pos, ok := index[item.HeritageID]; ok {
			heritages[pos].Items = append(heritages[pos].Items, item)
		}
	}
	return heritages, nil
}

func (r *SQLCanvasRepository) queryItems(ctx context.Context, query string, args ...any) ([]models.HeritageItem, error) {
	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.HeritageItem{}
	for rows.Next() {
		var item models.HeritageItem
		if err := rows.Scan(&item.ID, &item.HeritageID, &item.Content, &item.IsPrivate, &item.OwnerID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *SQLCanvasRepository) FetchUnclaimedPrivateItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error) {
	items, err := r.queryItems(ctx,
		`SELECT id, heritage_id, content, is_private, owner_id FROM heritage_items
		 WHERE heritage_id = ? AND is_private = ? AND owner_id = ? ORDER BY id`,
		heritageID, true, models.UnclaimedOwner)
	if err != nil {
		return nil, storageErr("fetch unclaimed items", err)
	}
	return items, nil
}

func (r *SQLCanvasRepository) FetchAllItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error) {
	items, err := r.queryItems(ctx,
		`SELECT id, heritage_id, content, is_private, owner_id FROM heritage_items WHERE heritage_id = ? ORDER BY id`,
		heritageID)
	if err != nil {
		return nil, storageErr("fetch items", err)
	}
	return items, nil
}

func (r *SQLCanvasRepository) HeritageExists(ctx context.Context, heritageID int64) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, r.dialect.rebind(`SELECT 1 FROM heritages WHERE id = ?`), heritageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("heritage exists", err)
	}
	return true, nil
}

// LockCanvasItems takes row locks on postgres. SQLite needs none: the store
// runs on a single connection, so a claim cannot interleave with an open
// transaction.
func (r *SQLCanvasRepository) LockCanvasItems(ctx context.Context, canvasID int64) ([]models.HeritageItem, error) {
	query := `SELECT id, heritage_id, content, is_private, owner_id FROM heritage_items
		 WHERE heritage_id IN (SELECT id FROM heritages WHERE canvas_id = ?) ORDER BY id`
	if r.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	items, err := r.queryItems(ctx, query, canvasID)
	if err != nil {
		return nil, storageErr("lock canvas items", err)
	}
	return items, nil
}

func (r *SQLCanvasRepository) ConditionalAssignOwner(ctx context.Context, itemID, newOwnerID int64) (bool, error) {
	if newOwnerID <= models.UnclaimedOwner {
		return false, fmt.Errorf("invalid owner id %d", newOwnerID)
	}
	res, err := r.q.ExecContext(ctx, r.dialect.rebind(
		`UPDATE heritage_items SET owner_id = ? WHERE id = ? AND is_private = ? AND owner_id = ?`),
		newOwnerID, itemID, true, models.UnclaimedOwner)
	if err != nil {
		return false, storageErr("assign owner", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("assign owner", err)
	}
	return n == 1, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

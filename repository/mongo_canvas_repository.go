package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/123bigmirros/electronic-grave/models"
)

const (
	collCanvases  = "canvases"
	collImages    = "image_boxes"
	collTexts     = "text_boxes"
	collMarkdowns = "markdown_boxes"
	collHeritages = "heritages"
	collItems     = "heritage_items"
	collCounters  = "counters"
)

// MongoCanvasRepository keeps one collection per canvas element kind. Ids are
// int64 sequences handed out by the counters collection.
type MongoCanvasRepository struct {
	db           *mongo.Database
	transactions bool
	inTx         bool
}

// NewMongoCanvasRepository creates a repository on db. Multi-document
// transactions need a replica set, so they are opt-in.
func NewMongoCanvasRepository(db *mongo.Database, transactions bool) *MongoCanvasRepository {
	return &MongoCanvasRepository{db: db, transactions: transactions}
}

func (r *MongoCanvasRepository) coll(name string) *mongo.Collection {
	return r.db.Collection(name)
}

// EnsureIndexes creates the lookup indexes used by the repository.
func (r *MongoCanvasRepository) EnsureIndexes(ctx context.Context) error {
	byCanvas := mongo.IndexModel{Keys: bson.D{{Key: "canvas_id", Value: 1}}}
	for _, name := range []string{collImages, collTexts, collMarkdowns, collHeritages} {
		if _, err := r.coll(name).Indexes().CreateOne(ctx, byCanvas); err != nil {
			return storageErr("create index on "+name, err)
		}
	}
	if _, err := r.coll(collCanvases).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		{Keys: bson.D{{Key: "is_public", Value: 1}}},
	}); err != nil {
		return storageErr("create canvas indexes", err)
	}
	unclaimed := mongo.IndexModel{Keys: bson.D{
		{Key: "heritage_id", Value: 1},
		{Key: "is_private", Value: 1},
		{Key: "owner_id", Value: 1},
	}}
	if _, err := r.coll(collItems).Indexes().CreateOne(ctx, unclaimed); err != nil {
		return storageErr("create heritage item index", err)
	}
	return nil
}

func (r *MongoCanvasRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx CanvasRepositoryInterface) error) error {
	if !r.transactions || r.inTx {
		return fn(ctx, r)
	}
	session, err := r.db.Client().StartSession()
	if err != nil {
		return storageErr("start session", err)
	}
	defer session.EndSession(ctx)

	txRepo := &MongoCanvasRepository{db: r.db, transactions: r.transactions, inTx: true}
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, txRepo)
	})
	return err
}

// nextIDs reserves n consecutive ids for the named sequence and returns the first.
func (r *MongoCanvasRepository) nextIDs(ctx context.Context, sequence string, n int) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.coll(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": sequence},
		bson.M{"$inc": bson.M{"seq": n}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq - int64(n) + 1, nil
}

func (r *MongoCanvasRepository) CreateCanvas(ctx context.Context, canvas *models.Canvas) (int64, error) {
	id, err := r.nextIDs(ctx, collCanvases, 1)
	if err != nil {
		return 0, storageErr("create canvas", err)
	}
	now := time.Now().UTC()
	if canvas.CreatedAt.IsZero() {
		canvas.CreatedAt = now
	}
	canvas.UpdatedAt = now
	canvas.ID = id
	if _, err := r.coll(collCanvases).InsertOne(ctx, canvas); err != nil {
		return 0, storageErr("create canvas", err)
	}
	return id, nil
}

func (r *MongoCanvasRepository) UpdateCanvas(ctx context.Context, canvas *models.Canvas) error {
	canvas.UpdatedAt = time.Now().UTC()
	filter := bson.M{"_id": canvas.ID, "owner_id": canvas.OwnerID}
	update := bson.M{"$set": bson.M{
		"title":      canvas.Title,
		"is_public":  canvas.IsPublic,
		"updated_at": canvas.UpdatedAt,
	}}
	res, err := r.coll(collCanvases).UpdateOne(ctx, filter, update, options.Update().SetUpsert(false))
	if err != nil {
		return storageErr("update canvas", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoCanvasRepository) ReplaceCanvasContent(ctx context.Context, canvasID int64, children []models.Child) error {
	if r.transactions && !r.inTx {
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

func (r *MongoCanvasRepository) insertChild(ctx context.Context, canvasID int64, child models.Child) error {
	var (
		collection string
		assign     func(id int64)
	)
	switch c := child.(type) {
	case *models.ImageBox:
		collection = collImages
		assign = func(id int64) { c.ID, c.CanvasID = id, canvasID }
	case *models.TextBox:
		collection = collTexts
		assign = func(id int64) { c.ID, c.CanvasID = id, canvasID }
	case *models.MarkdownBox:
		collection = collMarkdowns
		assign = func(id int64) { c.ID, c.CanvasID = id, canvasID }
	case *models.Heritage:
		collection = collHeritages
		assign = func(id int64) { c.ID, c.CanvasID = id, canvasID }
		if c.PublicTime.IsZero() {
			c.PublicTime = time.Now().UTC()
		}
	default:
		return fmt.Errorf("unsupported canvas child %T", child)
	}

	op := "insert " + child.Kind().String()
	id, err := r.nextIDs(ctx, collection, 1)
	if err != nil {
		return storageErr(op, err)
	}
	assign(id)
	if _, err := r.coll(collection).InsertOne(ctx, child); err != nil {
		return storageErr(op, err)
	}

	if h, ok := child.(*models.Heritage); ok && len(h.Items) > 0 {
		first, err := r.nextIDs(ctx, collItems, len(h.Items))
		if err != nil {
			return storageErr("insert heritage items", err)
		}
		docs := make([]interface{}, len(h.Items))
		for i := range h.Items {
			h.Items[i].ID = first + int64(i)
			h.Items[i].HeritageID = h.ID
			docs[i] = h.Items[i]
		}
		if _, err := r.coll(collItems).InsertMany(ctx, docs); err != nil {
			return storageErr("insert heritage items", err)
		}
	}
	return nil
}

func (r *MongoCanvasRepository) heritageIDs(ctx context.Context, canvasID int64) ([]int64, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := r.coll(collHeritages).Find(ctx, bson.M{"canvas_id": canvasID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (r *MongoCanvasRepository) deleteContent(ctx context.Context, canvasID int64) error {
	ids, err := r.heritageIDs(ctx, canvasID)
	if err != nil {
		return storageErr("delete canvas content", err)
	}
	if len(ids) > 0 {
		if _, err := r.coll(collItems).DeleteMany(ctx, bson.M{"heritage_id": bson.M{"$in": ids}}); err != nil {
			return storageErr("delete heritage items", err)
		}
	}
	for _, name := range []string{collHeritages, collImages, collTexts, collMarkdowns} {
		if _, err := r.coll(name).DeleteMany(ctx, bson.M{"canvas_id": canvasID}); err != nil {
			return storageErr("delete "+name, err)
		}
	}
	return nil
}

func (r *MongoCanvasRepository) DeleteCanvas(ctx context.Context, canvasID int64, contentOnly bool) error {
	if r.transactions && !r.inTx {
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
	if _, err := r.coll(collCanvases).DeleteOne(ctx, bson.M{"_id": canvasID}); err != nil {
		return storageErr("delete canvas", err)
	}
	return nil
}

func (r *MongoCanvasRepository) LoadCanvas(ctx context.Context, canvasID, callerID int64) (*models.Canvas, error) {
	filter := bson.M{"_id": canvasID}
	if callerID != models.AnonymousUserID {
		filter["owner_id"] = callerID
	}
	var canvas models.Canvas
	err := r.coll(collCanvases).FindOne(ctx, filter).Decode(&canvas)
	if errors.Is(err, mongo.ErrNoDocuments) {
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

func (r *MongoCanvasRepository) findByCanvas(ctx context.Context, collection string, canvasID int64, out interface{}) error {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.coll(collection).Find(ctx, bson.M{"canvas_id": canvasID}, opts)
	if err != nil {
		return storageErr("load "+collection, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return storageErr("load "+collection, err)
	}
	return nil
}

func (r *MongoCanvasRepository) loadChildren(ctx context.Context, canvas *models.Canvas) error {
	canvas.Images = []models.ImageBox{}
	canvas.Texts = []models.TextBox{}
	canvas.Markdowns = []models.MarkdownBox{}
	canvas.Heritages = []models.Heritage{}
	if err := r.findByCanvas(ctx, collImages, canvas.ID, &canvas.Images); err != nil {
		return err
	}
	if err := r.findByCanvas(ctx, collTexts, canvas.ID, &canvas.Texts); err != nil {
		return err
	}
	if err := r.findByCanvas(ctx, collMarkdowns, canvas.ID, &canvas.Markdowns); err != nil {
		return err
	}
	if err := r.findByCanvas(ctx, collHeritages, canvas.ID, &canvas.Heritages); err != nil {
		return err
	}
	if len(canvas.Heritages) == 0 {
		return nil
	}

	ids := make([]int64, len(canvas.Heritages))
	index := make(map[int64]int, len(canvas.Heritages))
	for i := range canvas.Heritages {
		ids[i] = canvas.Heritages[i].ID
		index[ids[i]] = i
		canvas.Heritages[i].Items = []models.HeritageItem{}
	}
	items, err := r.findItems(ctx, bson.M{"heritage_id": bson.M{"$in": ids}})
	if err != nil {
		return storageErr("load heritage items", err)
	}
	for _, item := range items {
		if pos, ok := index[item.HeritageID]; ok {
			canvas.Heritages[pos].Items = append(canvas.Heritages[pos].Items, item)
		}
	}
	return nil
}

func (r *MongoCanvasRepository) ListPublicCanvases(ctx context.Context, limit int) ([]models.Canvas, error) {
	if limit <= 0 {
		return nil, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"is_public": true}}},
		{{Key: "$sample", Value: bson.M{"size": limit}}},
	}
	cursor, err := r.coll(collCanvases).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storageErr("list public canvases", err)
	}
	canvases := []models.Canvas{}
	if err := cursor.All(ctx, &canvases); err != nil {
		return nil, storageErr("list public canvases", err)
	}
	for i := range canvases {
		if err := r.loadChildren(ctx, &canvases[i]); err != nil {
			return nil, err
		}
	}
	return canvases, nil
}

func (r *MongoCanvasRepository) ListCanvasesByOwner(ctx context.Context, ownerID int64) ([]models.Canvas, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.coll(collCanvases).Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, storageErr("list canvases by owner", err)
	}
	canvases := []models.Canvas{}
	if err := cursor.All(ctx, &canvases); err != nil {
		return nil, storageErr("list canvases by owner", err)
	}
	return canvases, nil
}

func (r *MongoCanvasRepository) findItems(ctx context.Context, filter bson.M) ([]models.HeritageItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.coll(collItems).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	items := []models.HeritageItem{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *MongoCanvasRepository) FetchUnclaimedPrivateItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error) {
	items, err := r.findItems(ctx, bson.M{
		"heritage_id": heritageID,
		"is_private":  true,
		"owner_id":    models.UnclaimedOwner,
	})
	if err != nil {
		return nil, storageErr("fetch unclaimed items", err)
	}
	return items, nil
}

func (r *MongoCanvasRepository) FetchAllItems(ctx context.Context, heritageID int64) ([]models.HeritageItem, error) {
	items, err := r.findItems(ctx, bson.M{"heritage_id": heritageID})
	if err != nil {
		return nil, storageErr("fetch items", err)
	}
	return items, nil
}

func (r *MongoCanvasRepository) HeritageExists(ctx context.Context, heritageID int64) (bool, error) {
	opts := options.FindOne().SetProjection(bson.M{"_id": 1})
	err := r.coll(collHeritages).FindOne(ctx, bson.M{"_id": heritageID}, opts).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("heritage exists", err)
	}
	return true, nil
}

// LockCanvasItems only reads. With transactions enabled a claim committed
// after this read makes the following delete fail with a write conflict and
// the transaction is retried; without them the read is best effort.
func (r *MongoCanvasRepository) LockCanvasItems(ctx context.Context, canvasID int64) ([]models.HeritageItem, error) {
	ids, err := r.heritageIDs(ctx, canvasID)
	if err != nil {
		return nil, storageErr("lock canvas items", err)
	}
	if len(ids) == 0 {
		return []models.HeritageItem{}, nil
	}
	items, err := r.findItems(ctx, bson.M{"heritage_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, storageErr("lock canvas items", err)
	}
	return items, nil
}

func (r *MongoCanvasRepository) ConditionalAssignOwner(ctx context.Context, itemID, newOwnerID int64) (bool, error) {
	if newOwnerID <= models.UnclaimedOwner {
		return false, fmt.Errorf("invalid owner id %d", newOwnerID)
	}
	filter := bson.M{"_id": itemID, "is_private": true, "owner_id": models.UnclaimedOwner}
	update := bson.M{"$set": bson.M{"owner_id": newOwnerID}}
	res, err := r.coll(collItems).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, storageErr("assign owner", err)
	}
	return res.MatchedCount == 1, nil
}

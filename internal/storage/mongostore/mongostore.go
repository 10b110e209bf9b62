// Package mongostore is the durable storage backend. Each concern lives in
// its own collection with the floor as partition key.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

// Collection names
const (
	CollectionItems     = "menu_items"
	CollectionSnapshots = "cart_snapshots"
	CollectionOrders    = "floor_orders"
	CollectionBills     = "bills"
)

// Store is a MongoDB backed storage.Store
type Store struct {
	client    *mongo.Client
	items     *mongo.Collection
	snapshots *mongo.Collection
	orders    *mongo.Collection
	bills     *mongo.Collection
	now       func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Connect opens a client, verifies it and ensures indexes
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := New(client.Database(database))
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle
func New(db *mongo.Database) *Store {
	return &Store{
		client:    db.Client(),
		items:     db.Collection(CollectionItems),
		snapshots: db.Collection(CollectionSnapshots),
		orders:    db.Collection(CollectionOrders),
		bills:     db.Collection(CollectionBills),
		now:       time.Now,
	}
}

// EnsureIndexes creates the secondary indexes the queries rely on
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.items.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "floor", Value: 1}, {Key: "name_key", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create item indexes: %w", err)
	}
	if _, err := s.orders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "floor", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	if _, err := s.snapshots.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "saved_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create snapshot indexes: %w", err)
	}
	return nil
}

// Catalog returns the menu item store
func (s *Store) Catalog() storage.CatalogStore { return catalogStore{s} }

// Snapshots returns the abandoned-cart snapshot store
func (s *Store) Snapshots() storage.SnapshotStore { return snapshotStore{s} }

// Orders returns the floor order store
func (s *Store) Orders() storage.OrderStore { return orderStore{s} }

// Bills returns the bill store
func (s *Store) Bills() storage.BillStore { return billStore{s} }

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type catalogStore struct{ *Store }

func (c catalogStore) Insert(ctx context.Context, item models.MenuItem) error {
	doc, err := encodeItem(item)
	if err != nil {
		return err
	}
	if _, err := c.items.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("item %s already exists: %w", item.ID, storage.ErrConflict)
		}
		return err
	}
	return nil
}

// UpdateDetails $sets the editable fields only. Stock is never written back
// from item, so it cannot clobber a concurrent $inc.
func (c catalogStore) UpdateDetails(ctx context.Context, item models.MenuItem, stock *int) (models.MenuItem, error) {
	doc, err := encodeItem(item)
	if err != nil {
		return models.MenuItem{}, err
	}
	set := bson.M{
		"name":             doc.Name,
		"name_key":         doc.NameKey,
		"description":      doc.Description,
		"price":            doc.Price,
		"category":         doc.Category,
		"image_ref":        doc.ImageRef,
		"has_custom_image": doc.HasCustomImage,
		"updated_at":       doc.UpdatedAt,
	}
	if stock != nil {
		set["stock"] = *stock
	}

	var updated itemDoc
	err = c.items.FindOneAndUpdate(ctx, bson.M{"_id": item.ID, "floor": item.Floor}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.MenuItem{}, storage.ErrNotFound
	}
	if err != nil {
		return models.MenuItem{}, err
	}
	return updated.decode()
}

func (c catalogStore) Delete(ctx context.Context, floor, id string) error {
	res, err := c.items.DeleteOne(ctx, bson.M{"_id": id, "floor": floor})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c catalogStore) Get(ctx context.Context, id string) (models.MenuItem, error) {
	return c.findOne(ctx, bson.M{"_id": id})
}

func (c catalogStore) findOne(ctx context.Context, filter bson.M) (models.MenuItem, error) {
	var doc itemDoc
	err := c.items.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.MenuItem{}, storage.ErrNotFound
	}
	if err != nil {
		return models.MenuItem{}, err
	}
	return doc.decode()
}

func (c catalogStore) ListFloor(ctx context.Context, floor string) ([]models.MenuItem, error) {
	return c.find(ctx, bson.M{"floor": floor})
}

func (c catalogStore) ListAll(ctx context.Context) ([]models.MenuItem, error) {
	return c.find(ctx, bson.M{})
}

func (c catalogStore) FindByName(ctx context.Context, floor, name string) ([]models.MenuItem, error) {
	return c.find(ctx, bson.M{"floor": floor, "name_key": nameKey(name)})
}

func (c catalogStore) find(ctx context.Context, filter bson.M) ([]models.MenuItem, error) {
	cursor, err := c.items.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []itemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]models.MenuItem, 0, len(docs))
	for _, d := range docs {
		item, err := d.decode()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// AdjustStock guards the $inc with a stock bound in the filter, so the check
// and the write are one atomic server-side operation.
func (c catalogStore) AdjustStock(ctx context.Context, id string, delta, ceiling int) (models.MenuItem, error) {
	filter := bson.M{"_id": id}
	switch {
	case delta < 0:
		filter["stock"] = bson.M{"$gte": -delta}
	case delta > 0 && ceiling > 0:
		filter["stock"] = bson.M{"$lte": ceiling - delta}
	}
	update := bson.M{
		"$inc": bson.M{"stock": delta},
		"$set": bson.M{"updated_at": c.now().UTC()},
	}

	var doc itemDoc
	err := c.items.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := c.Get(ctx, id)
		if getErr != nil {
			return models.MenuItem{}, getErr
		}
		return current, storage.ErrConflict
	}
	if err != nil {
		return models.MenuItem{}, err
	}
	return doc.decode()
}

func (c catalogStore) SetStock(ctx context.Context, id string, stock int) (models.MenuItem, error) {
	var doc itemDoc
	err := c.items.FindOneAndUpdate(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"stock": stock, "updated_at": c.now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.MenuItem{}, storage.ErrNotFound
	}
	if err != nil {
		return models.MenuItem{}, err
	}
	return doc.decode()
}

type snapshotStore struct{ *Store }

func (s snapshotStore) Put(ctx context.Context, snap models.CartSnapshot) error {
	doc, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.snapshots.ReplaceOne(ctx, bson.M{"_id": snap.CartID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s snapshotStore) Take(ctx context.Context, cartID string) (models.CartSnapshot, error) {
	var doc snapshotDoc
	err := s.snapshots.FindOneAndDelete(ctx, bson.M{"_id": cartID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.CartSnapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return models.CartSnapshot{}, err
	}
	return doc.decode()
}

func (s snapshotStore) OlderThan(ctx context.Context, cutoff time.Time) ([]models.CartSnapshot, error) {
	cursor, err := s.snapshots.Find(ctx, bson.M{"saved_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []snapshotDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.CartSnapshot, 0, len(docs))
	for _, d := range docs {
		snap, err := d.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

type orderStore struct{ *Store }

func (o orderStore) Upsert(ctx context.Context, rec models.OrderRecord) error {
	doc, err := encodeOrder(rec)
	if err != nil {
		return err
	}
	_, err = o.orders.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (o orderStore) Get(ctx context.Context, floor, orderID string) (models.OrderRecord, error) {
	var doc orderDoc
	err := o.orders.FindOne(ctx, bson.M{"_id": orderKey(floor, orderID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.OrderRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return models.OrderRecord{}, err
	}
	return doc.decode()
}

func (o orderStore) ListFloor(ctx context.Context, floor string) ([]models.OrderRecord, error) {
	cursor, err := o.orders.Find(ctx, bson.M{"floor": floor},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.OrderRecord, 0, len(docs))
	for _, d := range docs {
		rec, err := d.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (o orderStore) Delete(ctx context.Context, floor, orderID string) error {
	res, err := o.orders.DeleteOne(ctx, bson.M{"_id": orderKey(floor, orderID)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (o orderStore) DeleteFloor(ctx context.Context, floor string) (int, error) {
	res, err := o.orders.DeleteMany(ctx, bson.M{"floor": floor})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

type billStore struct{ *Store }

func (b billStore) Save(ctx context.Context, bill models.Bill) error {
	doc, err := encodeBill(bill)
	if err != nil {
		return err
	}
	_, err = b.bills.ReplaceOne(ctx, bson.M{"_id": bill.OrderID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (b billStore) Get(ctx context.Context, orderID string) (models.Bill, error) {
	var doc billDoc
	err := b.bills.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Bill{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Bill{}, err
	}
	return doc.decode()
}

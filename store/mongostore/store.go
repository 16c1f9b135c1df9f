// Package mongostore mirrors the in-memory order tables into two MongoDB
// collections, one per storage location.
package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-restaurant-orderhub/database"
	"go-restaurant-orderhub/models"
	"go-restaurant-orderhub/store"
)

const (
	activeCollection   = "orders"
	archiveCollection  = "archived_orders"
	sequenceCollection = "order_sequences"
)

var _ store.OrderStore = (*Store)(nil)

// collection is the part of *mongo.Collection the store uses.
type collection interface {
	Name() string
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type Store struct {
	*store.MemoryStore
	active  collection
	archive collection
	// sequences holds the highest number handed to a discarded order,
	// one document per branch.
	sequences collection
}

type lineItemDocument struct {
	Name      string `bson:"name"`
	Quantity  int    `bson:"quantity"`
	UnitPrice string `bson:"unit_price"`
}

// orderDocument keeps money as decimal strings; decimal.Decimal has no
// exported fields for bson to encode.
type orderDocument struct {
	ID             string             `bson:"_id"`
	SequenceNumber int                `bson:"order_number"`
	Customer       models.Customer    `bson:"customer"`
	LineItems      []lineItemDocument `bson:"items"`
	TotalPrice     string             `bson:"total_price"`
	Branch         string             `bson:"branch"`
	Status         string             `bson:"status"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

type sequenceDocument struct {
	Branch string `bson:"_id"`
	Seq    int    `bson:"seq"`
}

// Open hydrates the memory tables from the collections and returns a
// store that writes every mutation through to them.
func Open(ctx context.Context, client *mongo.Client, dbName string, opts ...store.Option) (*Store, error) {
	return open(ctx,
		database.OpenCollection(client, dbName, activeCollection),
		database.OpenCollection(client, dbName, archiveCollection),
		database.OpenCollection(client, dbName, sequenceCollection),
		opts...)
}

func open(ctx context.Context, active, archive, sequences collection, opts ...store.Option) (*Store, error) {
	s := &Store{active: active, archive: archive, sequences: sequences}
	activeOrders, err := s.loadAll(ctx, s.active)
	if err != nil {
		return nil, err
	}
	archived, err := s.loadAll(ctx, s.archive)
	if err != nil {
		return nil, err
	}
	floors, err := s.loadSequences(ctx)
	if err != nil {
		return nil, err
	}
	s.MemoryStore = store.NewMemoryStore(append(opts, store.WithPersister(s))...)
	s.MemoryStore.Hydrate(activeOrders, archived, floors)
	return s, nil
}

func (s *Store) loadAll(ctx context.Context, coll collection) ([]models.Order, error) {
	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", coll.Name())
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode %s", coll.Name())
	}
	out := make([]models.Order, 0, len(docs))
	for _, d := range docs {
		o, err := fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Store) loadSequences(ctx context.Context) (map[string]int, error) {
	cursor, err := s.sequences.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", s.sequences.Name())
	}
	defer cursor.Close(ctx)

	var docs []sequenceDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode %s", s.sequences.Name())
	}
	floors := make(map[string]int, len(docs))
	for _, d := range docs {
		floors[d.Branch] = d.Seq
	}
	return floors, nil
}

// SaveOrder implements store.Persister. Archiving writes the archive copy
// before removing the active one. If the removal fails the archive copy
// is deleted again so the order stays active on disk as it does in memory.
func (s *Store) SaveOrder(ctx context.Context, order models.Order, loc models.Location) error {
	doc := toDocument(order)
	upsert := options.Replace().SetUpsert(true)
	if loc == models.LocationActive {
		_, err := s.active.ReplaceOne(ctx, bson.M{"_id": order.ID}, doc, upsert)
		return errors.Wrapf(err, "save active order %s", order.ID)
	}
	if _, err := s.archive.ReplaceOne(ctx, bson.M{"_id": order.ID}, doc, upsert); err != nil {
		return errors.Wrapf(err, "archive order %s", order.ID)
	}
	if _, err := s.active.DeleteOne(ctx, bson.M{"_id": order.ID}); err != nil {
		if _, undoErr := s.archive.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": order.ID}); undoErr != nil {
			return errors.Wrapf(err, "remove archived order %s from active (archive copy left behind: %v)", order.ID, undoErr)
		}
		return errors.Wrapf(err, "remove archived order %s from active", order.ID)
	}
	return nil
}

// DeleteOrder implements store.Persister. The branch floor is raised
// before the order is removed, so a failed removal only leaves a floor
// that was already covered by the live order.
func (s *Store) DeleteOrder(ctx context.Context, order models.Order) error {
	_, err := s.sequences.UpdateOne(ctx,
		bson.M{"_id": order.Branch},
		bson.M{"$max": bson.M{"seq": order.SequenceNumber}},
		options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "reserve sequence of order %s", order.ID)
	}
	_, err = s.active.DeleteOne(ctx, bson.M{"_id": order.ID})
	return errors.Wrapf(err, "delete order %s", order.ID)
}

func toDocument(o models.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, lineItemDocument{Name: li.Name, Quantity: li.Quantity, UnitPrice: li.UnitPrice.String()})
	}
	return orderDocument{
		ID:             o.ID,
		SequenceNumber: o.SequenceNumber,
		Customer:       o.Customer,
		LineItems:      items,
		TotalPrice:     o.TotalPrice.String(),
		Branch:         o.Branch,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func fromDocument(d orderDocument) (models.Order, error) {
	total, err := decimal.NewFromString(d.TotalPrice)
	if err != nil {
		return models.Order{}, errors.Wrapf(err, "order %s total", d.ID)
	}
	items := make([]models.LineItem, 0, len(d.LineItems))
	for _, li := range d.LineItems {
		price, err := decimal.NewFromString(li.UnitPrice)
		if err != nil {
			return models.Order{}, errors.Wrapf(err, "order %s item %s price", d.ID, li.Name)
		}
		items = append(items, models.LineItem{Name: li.Name, Quantity: li.Quantity, UnitPrice: price})
	}
	return models.Order{
		ID:             d.ID,
		SequenceNumber: d.SequenceNumber,
		Customer:       d.Customer,
		LineItems:      items,
		TotalPrice:     total,
		Branch:         d.Branch,
		Status:         models.Status(d.Status),
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}, nil
}

package card

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cardsCollection = "cards"

// MongoRepository stores cards as documents in MongoDB. The database must be
// opened with a registry that knows how to encode decimal amounts
// (see infra.NewMongoDatabase).
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository builds a repository on the cards collection of db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(cardsCollection)}
}

// EnsureIndexes creates the customer lookup index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "customerId", Value: 1}},
	})
	return err
}

func (r *MongoRepository) Get(ctx context.Context, id string) (Card, error) {
	var c Card
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Card{}, ErrCardNotFound
	}
	if err != nil {
		return Card{}, err
	}
	return c, nil
}

func (r *MongoRepository) Save(ctx context.Context, c Card) (Card, error) {
	expected := c.Version
	c.Version = expected + 1

	if expected == 0 {
		if _, err := r.coll.InsertOne(ctx, c); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return Card{}, ErrVersionConflict
			}
			return Card{}, err
		}
		return c, nil
	}

	res, err := r.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: c.ID}, {Key: "version", Value: expected}}, c)
	if err != nil {
		return Card{}, err
	}
	if res.MatchedCount == 0 {
		return Card{}, ErrVersionConflict
	}
	return c, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (r *MongoRepository) List(ctx context.Context) ([]Card, error) {
	return r.find(ctx, bson.D{})
}

func (r *MongoRepository) ListByCustomer(ctx context.Context, customerID string) ([]Card, error) {
	return r.find(ctx, bson.D{{Key: "customerId", Value: customerID}})
}

func (r *MongoRepository) find(ctx context.Context, filter bson.D) ([]Card, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []Card
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

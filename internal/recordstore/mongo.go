package recordstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore запись зеркала в MongoDB: документ {_id, url} в коллекции table.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri, database, table string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &MongoStore{
		client: client,
		col:    client.Database(database).Collection(table),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Record, error) {
	var r Record
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	return foundRecord(r, err)
}

func (s *MongoStore) UpdateURL(ctx context.Context, id, url string) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"url": url}})
	return updated(res, err)
}

// foundRecord отсутствующий документ и пустой url дают ErrNotFound.
func foundRecord(r Record, err error) (Record, error) {
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if r.URL == "" {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func updated(res *mongo.UpdateResult, err error) error {
	if err != nil {
		return err
	}
	if res == nil || res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/slime-worlds/internal/config"
)

// worldDocument is the stored shape of a world. The document key is the world name.
type worldDocument struct {
	Name      string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoLoader keeps one document per world in a collection.
// Worlds larger than the 16MB BSON limit are rejected by the server.
type MongoLoader struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoLoader establishes the connection and pings the server.
func NewMongoLoader(ctx context.Context, cfg config.MongoConfig) (*MongoLoader, error) {
	opts := options.Client()
	if cfg.URI != "" {
		opts.ApplyURI(cfg.URI)
	} else {
		port := cfg.Port
		if port == 0 {
			port = 27017
		}
		opts.ApplyURI(fmt.Sprintf("mongodb://%s:%d", cfg.Host, port))
		if cfg.Username != "" {
			opts.SetAuth(options.Credential{
				Username:   cfg.Username,
				Password:   cfg.Password,
				AuthSource: cfg.AuthSource,
			})
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, &ConnectionError{Backend: "mongo", Err: err}
	}
	// ping
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &ConnectionError{Backend: "mongo", Err: err}
	}

	return &MongoLoader{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 10 * time.Second,
	}, nil
}

func (m *MongoLoader) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": name}, options.Count().SetLimit(1))
	if err != nil {
		return false, ioErr("exists", name, err)
	}
	return n > 0, nil
}

func (m *MongoLoader) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	cur, err := m.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, ioErr("list", "", err)
	}
	defer cur.Close(ctx)

	var names []string
	for cur.Next(ctx) {
		var doc struct {
			Name string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, ioErr("list", "", err)
		}
		names = append(names, doc.Name)
	}
	if err := cur.Err(); err != nil {
		return nil, ioErr("list", "", err)
	}
	return names, nil
}

func (m *MongoLoader) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc worldDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, ioErr("read", name, err)
	}
	return doc.Data, nil
}

// Write replaces the whole document in one upsert.
func (m *MongoLoader) Write(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	doc := worldDocument{Name: name, Data: data, UpdatedAt: time.Now().UTC()}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": name}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return ioErr("write", name, err)
	}
	return nil
}

func (m *MongoLoader) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return ioErr("delete", name, err)
	}
	if res.DeletedCount == 0 {
		return notFound(name)
	}
	return nil
}

// Close terminates connection.
func (m *MongoLoader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoCollection = "documents"

// MongoConfig holds the remote endpoint and credential pair.
type MongoConfig struct {
	URI            string
	Username       string
	Password       string
	Database       string
	ConnectTimeout time.Duration
}

// Mongo stores partitions as documents of a single collection, one
// partition per tenant.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo dials the cluster and verifies it answers a ping before
// returning. Ping failures are retried with exponential backoff.
func ConnectMongo(ctx context.Context, cfg MongoConfig, logger *slog.Logger) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri not configured")
	}
	if (cfg.Username == "") != (cfg.Password == "") {
		return nil, errors.New("mongo username and password must be set together")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo database not configured")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
			logger.Warn("mongo ping failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(mongoCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "partition", Value: 1},
			{Key: "type", Value: 1},
			{Key: "owner", Value: 1},
			{Key: "sortKey", Value: -1},
		},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create index: %w", err)
	}

	logger.Info("mongo storage connected", "database", cfg.Database)
	return &Mongo{client: client, coll: coll}, nil
}

// Partition returns the record space named name.
func (m *Mongo) Partition(name string) Partition {
	return &mongoPartition{coll: m.coll, name: name}
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

type mongoPartition struct {
	coll *mongo.Collection
	name string
}

// mongoDoc is the stored shape of a Record. Data keeps the record's JSON
// text verbatim so keys such as "$date" and large integers survive a
// round trip unchanged.
type mongoDoc struct {
	Key       string    `bson:"_id"`
	Partition string    `bson:"partition"`
	ID        string    `bson:"docId"`
	Type      string    `bson:"type"`
	Owner     string    `bson:"owner"`
	SortKey   string    `bson:"sortKey"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (p *mongoPartition) Name() string { return p.name }

func (p *mongoPartition) key(id string) string {
	return p.name + "/" + id
}

func newMongoDoc(partition string, rec Record, now time.Time) (mongoDoc, error) {
	if !json.Valid(rec.Data) {
		return mongoDoc{}, fmt.Errorf("record %q: data is not valid JSON", rec.ID)
	}
	return mongoDoc{
		Key:       partition + "/" + rec.ID,
		Partition: partition,
		ID:        rec.ID,
		Type:      rec.Type,
		Owner:     rec.Owner,
		SortKey:   rec.SortKey,
		Data:      string(rec.Data),
		UpdatedAt: now.UTC(),
	}, nil
}

func (d mongoDoc) record() Record {
	return Record{ID: d.ID, Type: d.Type, Owner: d.Owner, SortKey: d.SortKey, Data: json.RawMessage(d.Data)}
}

func (p *mongoPartition) Get(ctx context.Context, id string) (*Record, error) {
	var doc mongoDoc
	err := p.coll.FindOne(ctx, bson.M{"_id": p.key(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %q: %w", id, err)
	}
	rec := doc.record()
	return &rec, nil
}

func (p *mongoPartition) Put(ctx context.Context, rec Record) error {
	doc, err := newMongoDoc(p.name, rec, time.Now())
	if err != nil {
		return err
	}
	_, err = p.coll.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put record %q: %w", rec.ID, err)
	}
	return nil
}

func (p *mongoPartition) Delete(ctx context.Context, id string) error {
	result, err := p.coll.DeleteOne(ctx, bson.M{"_id": p.key(id)})
	if err != nil {
		return fmt.Errorf("delete record %q: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *mongoPartition) Query(ctx context.Context, q Query) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sortKey", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	filter := bson.M{"partition": p.name, "type": q.Type, "owner": q.Owner}

	cursor, err := p.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", q.Type, err)
	}
	defer cursor.Close(ctx)

	var records []Record
	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, doc.record())
	}
	return records, cursor.Err()
}

// Package store persists decoded events into MongoDB's `events` collection
// (spec §6 persisted schema). Spec §1 lists the document database driver as
// an external collaborator; this package is still the minimal concrete
// adapter both the listener and historical sync depend on, the same way
// spec §1's other "out of scope" items get a minimal concrete home.
//
// Grounded on the original Rust db/mod.rs's DatabaseConnection::new: env-var
// credential override, URI assembly with/without credentials, app_name, and
// a synchronous admin-database ping as a startup readiness gate.
package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mrzigha/evm-indexer/internal/config"
)

const eventsCollection = "events"

// EventLog is the persisted document shape of spec §3's EventLog entity.
// Identity for historical-sync dedup is the (TransactionHash, BlockNumber)
// pair, mirrored in db/models.rs.
type EventLog struct {
	ChainName       string    `bson:"chain_name"`
	EventName       string    `bson:"event_name"`
	BlockNumber     uint64    `bson:"block_number"`
	TransactionHash string    `bson:"transaction_hash"`
	Params          bson.M    `bson:"params"`
	Timestamp       time.Time `bson:"timestamp"`
}

// EventStore is the persistence boundary consumed by the listener and
// historical sync packages, kept as an interface so tests can substitute an
// in-memory fake instead of a live Mongo deployment.
type EventStore interface {
	// Exists reports whether an EventLog with the given identity is already
	// stored, for historical sync's read-before-write dedup (spec §4.5).
	Exists(ctx context.Context, txHash string, blockNumber uint64) (bool, error)
	// Insert writes a new EventLog.
	Insert(ctx context.Context, log EventLog) error
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Store is the MongoDB-backed EventStore.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Dial connects to MongoDB following db/mod.rs's DatabaseConnection::new:
// EVM_INDEXER_DATABASE_USERNAME/_PASSWORD env vars take priority over the
// config file's username/password; the URI includes credentials only if
// both resolve; app name is "evm-indexer"; and a synchronous ping against
// the admin database gates startup (spec §6 "exit non-zero ... on DB ping
// failure").
func Dial(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	username := firstNonEmpty(os.Getenv("EVM_INDEXER_DATABASE_USERNAME"), cfg.Username)
	password := firstNonEmpty(os.Getenv("EVM_INDEXER_DATABASE_PASSWORD"), cfg.Password)

	var uri string
	if username != "" && password != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", username, password, cfg.DbHost, cfg.DbPort)
	} else {
		uri = fmt.Sprintf("mongodb://%s:%d", cfg.DbHost, cfg.DbPort)
	}

	opts := options.Client().ApplyURI(uri).SetAppName("evm-indexer")
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to MongoDB")
	}

	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, errors.Wrap(err, "pinging MongoDB")
	}

	db := client.Database(cfg.DbName)
	return &Store{client: client, collection: db.Collection(eventsCollection)}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Exists implements EventStore.
func (s *Store) Exists(ctx context.Context, txHash string, blockNumber uint64) (bool, error) {
	filter := bson.D{
		{Key: "transaction_hash", Value: txHash},
		{Key: "block_number", Value: blockNumber},
	}
	count, err := s.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "checking event existence")
	}
	return count > 0, nil
}

// Insert implements EventStore.
func (s *Store) Insert(ctx context.Context, log EventLog) error {
	if _, err := s.collection.InsertOne(ctx, log); err != nil {
		return errors.Wrap(err, "inserting event")
	}
	return nil
}

// Close implements EventStore.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

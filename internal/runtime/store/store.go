// Package store persists the question/answer exchanges the worker published.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const connectTimeout = 10 * time.Second

// Exchange is one answered request.
type Exchange struct {
	MessageUUID       string    `bson:"message_uuid" json:"message_uuid"`
	RequestUUID       string    `bson:"request_uuid" json:"request_uuid"`
	CorrelationID     string    `bson:"correlation_id" json:"correlation_id"`
	UserUUID          string    `bson:"user_uuid" json:"user_uuid"`
	ChatUUID          string    `bson:"chat_uuid" json:"chat_uuid"`
	SocketIOSessionID string    `bson:"socketio_session_id" json:"socketio_session_id"`
	Question          string    `bson:"question" json:"question"`
	Answer            string    `bson:"answer" json:"answer"`
	RequestQueue      string    `bson:"request_queue" json:"request_queue"`
	ResponseQueue     string    `bson:"response_queue" json:"response_queue"`
	PublishedAt       time.Time `bson:"published_at" json:"published_at"`
}

// ExchangeStore records exchanges.
type ExchangeStore interface {
	Record(ctx context.Context, ex Exchange) error
	Close(ctx context.Context) error
}

// MongoStore writes one document per exchange.
type MongoStore struct {
	insert     func(ctx context.Context, doc any) error
	disconnect func(ctx context.Context) error
}

// NewMongoStore connects to uri and verifies the deployment is reachable.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" || database == "" || collection == "" {
		return nil, errors.New("mongo uri, database and collection are required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	return newMongoStore(
		func(ctx context.Context, doc any) error {
			_, err := coll.InsertOne(ctx, doc)
			return err
		},
		client.Disconnect,
	), nil
}

func newMongoStore(insert func(context.Context, any) error, disconnect func(context.Context) error) *MongoStore {
	return &MongoStore{insert: insert, disconnect: disconnect}
}

func (m *MongoStore) Record(ctx context.Context, ex Exchange) error {
	if ex.PublishedAt.IsZero() {
		ex.PublishedAt = time.Now().UTC()
	}
	if err := m.insert(ctx, ex); err != nil {
		return fmt.Errorf("insert exchange %s: %w", ex.MessageUUID, err)
	}
	return nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	if m.disconnect == nil {
		return nil
	}
	return m.disconnect(ctx)
}

// MemoryStore keeps exchanges in memory. It backs tests and embedded use.
type MemoryStore struct {
	mu        sync.Mutex
	exchanges []Exchange
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(_ context.Context, ex Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, ex)
	return nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }

// Exchanges returns a copy of everything recorded so far.
func (m *MemoryStore) Exchanges() []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Exchange, len(m.exchanges))
	copy(out, m.exchanges)
	return out
}

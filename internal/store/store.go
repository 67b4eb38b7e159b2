package store

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CollectionDeleter is the delete RPC of the store's collections service, as served by
// (*qdrant.Client).GetCollectionsClient()
type CollectionDeleter interface {
	Delete(ctx context.Context, in *qdrant.DeleteCollection, opts ...grpc.CallOption) (*qdrant.CollectionOperationResponse, error)
}

type Config struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration
}

// NewClient connects to the vector store over gRPC
func NewClient(conf Config) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   conf.Host,
		Port:   conf.Port,
		APIKey: conf.APIKey,
		UseTLS: conf.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to vector store at %s:%d: %w", conf.Host, conf.Port, err)
	}
	return client, nil
}

// Resetter drops the target collection before every attempt so each attempt starts from an empty collection.
// The ingestion job recreates the collection itself.
type Resetter struct {
	client     CollectionDeleter
	collection string
	timeout    time.Duration
}

func NewResetter(client CollectionDeleter, collection string, timeout time.Duration) *Resetter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resetter{client: client, collection: collection, timeout: timeout}
}

// Reset deletes the collection. It never fails the caller: errors are logged and the attempt that follows
// goes ahead regardless.
func (r *Resetter) Reset(ctx context.Context) {
	if err := r.Drop(ctx); err != nil {
		log.Warn().Err(err).Str("collection", r.collection).Msg("Could not reset collection, continuing")
	}
}

// Drop deletes the collection and reports any error other than the collection being absent
func (r *Resetter) Drop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// the store answers result=false when there was nothing to delete
	res, err := r.client.Delete(ctx, &qdrant.DeleteCollection{CollectionName: r.collection})
	switch {
	case err == nil && res.GetResult():
		log.Info().Str("collection", r.collection).Msg("Deleted collection")
		return nil
	case err == nil, IsNotFound(err):
		log.Info().Str("collection", r.collection).Msg("Collection already absent")
		return nil
	default:
		return fmt.Errorf("could not delete collection %s: %w", r.collection, err)
	}
}

// IsNotFound reports whether err is the store telling us the collection does not exist
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	return ok && s.Code() == codes.NotFound
}

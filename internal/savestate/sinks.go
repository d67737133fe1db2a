package savestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

// ErrNotFound is returned by sinks that have never seen a document.
var ErrNotFound = errors.New("document not found")

// LocalSink is the durable local cache. Writes are expected to succeed; a
// failure is logged and never blocks the remote write.
type LocalSink interface {
	Put(ctx context.Context, docID string, content []byte, revision int64) error
	Get(ctx context.Context, docID string) ([]byte, int64, error)
}

// RemoteSink is the system of record for document content.
type RemoteSink interface {
	SaveContent(ctx context.Context, docID string, content []byte, revision int64) error
	LoadContent(ctx context.Context, docID string) ([]byte, int64, error)
}

type itineraryStore interface {
	GetItinerary(ctx context.Context, id string) (store.Itinerary, error)
	SaveItineraryContent(ctx context.Context, id string, content json.RawMessage, revision int64) error
}

// StoreSink persists content on the itineraries table.
type StoreSink struct {
	store itineraryStore
}

func NewStoreSink(s itineraryStore) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) SaveContent(ctx context.Context, docID string, content []byte, revision int64) error {
	if err := s.store.SaveItineraryContent(ctx, docID, json.RawMessage(content), revision); err != nil {
		return fmt.Errorf("save itinerary %s: %w", docID, err)
	}
	return nil
}

func (s *StoreSink) LoadContent(ctx context.Context, docID string) ([]byte, int64, error) {
	item, err := s.store.GetItinerary(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load itinerary %s: %w", docID, err)
	}
	return item.Content, item.Revision, nil
}

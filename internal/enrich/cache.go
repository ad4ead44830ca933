package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"dialwatch/internal/calls"
	"dialwatch/internal/logging"
)

// Fetcher is the subset of the vendor API the cache needs.
type Fetcher interface {
	FetchConversation(ctx context.Context, conversationID string) (*calls.Conversation, error)
}

// entry is a tagged variant over a conversation's fetch lifecycle. While the
// fetch is in flight, done is open; once closed, exactly one of conv or err is
// set. Failed entries are removed from the map before done closes so a later
// Ensure retries.
type entry struct {
	done chan struct{}
	conv *calls.Conversation
	err  error
}

// Cache stores enrichment records keyed by conversation id with
// exactly-once-fetch semantics. A successfully fetched conversation is
// immutable and never refetched; a failed fetch leaves no record.
type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache constructs an empty cache backed by fetcher.
func NewCache(fetcher Fetcher, logger *slog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(logger, "enrich"),
		entries: make(map[string]*entry),
	}
}

// Get returns the cached conversation without performing I/O.
func (c *Cache) Get(conversationID string) (*calls.Conversation, bool) {
	c.mu.Lock()
	e, ok := c.entries[conversationID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.conv, e.err == nil && e.conv != nil
	default:
		return nil, false
	}
}

// Ensure returns the cached conversation, joining an in-flight fetch when one
// exists, or performs the fetch itself. Concurrent callers for the same id
// share a single vendor request; callers for distinct ids never block each
// other. A failed fetch is returned to every waiter and is retried on the
// next Ensure call.
func (c *Cache) Ensure(ctx context.Context, conversationID string) (*calls.Conversation, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id must not be empty")
	}

	c.mu.Lock()
	if e, ok := c.entries[conversationID]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.conv, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &entry{done: make(chan struct{})}
	c.entries[conversationID] = e
	c.mu.Unlock()

	conv, err := c.fetcher.FetchConversation(ctx, conversationID)
	c.mu.Lock()
	if err != nil {
		delete(c.entries, conversationID)
		e.err = err
	} else {
		e.conv = conv
	}
	c.mu.Unlock()
	close(e.done)

	if err != nil {
		c.logger.Debug("enrichment fetch failed",
			logging.String(logging.FieldConversationID, conversationID),
			logging.Error(err),
		)
		return nil, err
	}
	return conv, nil
}

// Evict drops the cached records for the given conversation ids. In-flight
// entries are left alone so concurrent Ensure callers keep their
// exactly-once guarantee.
func (c *Cache) Evict(conversationIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range conversationIDs {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		select {
		case <-e.done:
			delete(c.entries, id)
		default:
		}
	}
}

// Len reports how many conversations are cached or in flight.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

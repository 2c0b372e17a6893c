// Package outbox delivers queued remote mutations in order.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/remote"
	"github.com/dukerupert/teacaddy/internal/store"
	"golang.org/x/time/rate"
)

// Handler delivers one intent to the remote store.
type Handler interface {
	Deliver(ctx context.Context, in model.OutboxIntent) error
}

// CollectionHandler replays intents against a remote collection of T.
type CollectionHandler[T any] struct {
	Remote remote.Collection[T]
}

func (h CollectionHandler[T]) Deliver(ctx context.Context, in model.OutboxIntent) error {
	switch in.Op {
	case model.OutboxUpsert:
		var record T
		if err := json.Unmarshal(in.Payload, &record); err != nil {
			return fmt.Errorf("decode payload: %w: %w", model.ErrFormat, err)
		}
		return h.Remote.Upsert(ctx, in.OwnerID, record)
	case model.OutboxDelete:
		return h.Remote.Delete(ctx, in.OwnerID, in.RecordID)
	default:
		return fmt.Errorf("%w: unknown op %q", model.ErrFormat, in.Op)
	}
}

type Config struct {
	// Interval between background drains.
	Interval time.Duration
	// MaxAttempts after which an intent is dropped.
	MaxAttempts int
	// Rate and Burst throttle deliveries.
	Rate  rate.Limit
	Burst int
	// BatchSize is how many intents are read per query.
	BatchSize int
}

func (c *Config) setDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.Rate == 0 {
		c.Rate = 5
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
}

// Worker drains the outbox of the current owner. Only one drain runs at a
// time, so intents reach the remote in the order they were queued.
type Worker struct {
	store    *store.OutboxStore
	owner    func() string
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
	handlers map[string]Handler

	drainMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a worker. owner returns the id whose intents may be
// delivered, or "" when nobody is signed in.
func New(st *store.OutboxStore, owner func() string, cfg Config, logger *slog.Logger) *Worker {
	cfg.setDefaults()
	return &Worker{
		store:    st,
		owner:    owner,
		cfg:      cfg,
		limiter:  rate.NewLimiter(cfg.Rate, cfg.Burst),
		logger:   logger.With("component", "outbox"),
		handlers: make(map[string]Handler),
	}
}

// Register routes intents of collection to h. Call before Start.
func (w *Worker) Register(collection string, h Handler) {
	w.handlers[collection] = h
}

// Enqueue stores an intent for record. record is only encoded for upserts.
func (w *Worker) Enqueue(ctx context.Context, collection string, op model.OutboxOp, ownerID, recordID string, record any) (*model.OutboxIntent, error) {
	in := model.OutboxIntent{
		Collection: collection,
		Op:         op,
		RecordID:   recordID,
		OwnerID:    ownerID,
	}
	if op == model.OutboxUpsert {
		payload, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", collection, recordID, err)
		}
		in.Payload = payload
	}
	return w.store.Enqueue(ctx, in)
}

// Submit queues the intent and drains right away. It returns an error when
// the intent could not be delivered; the intent then stays queued.
func (w *Worker) Submit(ctx context.Context, collection string, op model.OutboxOp, ownerID, recordID string, record any) error {
	in, err := w.Enqueue(ctx, collection, op, ownerID, recordID, record)
	if err != nil {
		return err
	}
	drainErr := w.Drain(ctx)

	pending, err := w.store.GetByID(ctx, in.ID)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}
	if drainErr != nil {
		return fmt.Errorf("push %s %s: %w", collection, recordID, drainErr)
	}
	return fmt.Errorf("push %s %s: %w: still queued", collection, recordID, model.ErrRemote)
}

// Drain delivers pending intents of the current owner in sequence order. It
// stops at the first failed delivery and returns that error.
func (w *Worker) Drain(ctx context.Context) error {
	ownerID := w.owner()
	if ownerID == "" {
		return nil
	}

	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	for {
		batch, err := w.store.Pending(ctx, ownerID, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, in := range batch {
			if err := w.deliver(ctx, in); err != nil {
				return err
			}
		}
		if len(batch) < w.cfg.BatchSize {
			return nil
		}
	}
}

func (w *Worker) deliver(ctx context.Context, in model.OutboxIntent) error {
	log := w.logger.With("intent", in.ID, "collection", in.Collection, "op", in.Op, "record", in.RecordID)

	if in.Attempts >= w.cfg.MaxAttempts {
		log.Error("dropping intent", "attempts", in.Attempts, "last_error", in.LastError)
		return w.store.Remove(ctx, in.ID)
	}
	h, ok := w.handlers[in.Collection]
	if !ok {
		log.Error("dropping intent for unknown collection")
		return w.store.Remove(ctx, in.ID)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}

	err := h.Deliver(ctx, in)
	if errors.Is(err, model.ErrFormat) {
		log.Error("dropping undeliverable intent", "error", err)
		return w.store.Remove(ctx, in.ID)
	}
	if err != nil {
		if markErr := w.store.MarkFailed(ctx, in.ID, err); markErr != nil {
			log.Error("record failed delivery", "error", markErr)
		}
		log.Warn("delivery failed", "attempt", in.Attempts+1, "error", err)
		return err
	}
	log.Debug("delivered")
	return w.store.Remove(ctx, in.ID)
}

// Pending returns how many intents wait for the current owner.
func (w *Worker) Pending(ctx context.Context) (int, error) {
	ownerID := w.owner()
	if ownerID == "" {
		return 0, nil
	}
	return w.store.Count(ctx, ownerID)
}

// Start begins the background drain loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
					w.logger.Warn("background drain stopped", "error", err)
				}
			}
		}
	}()
}

// Stop ends the drain loop and waits for it to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

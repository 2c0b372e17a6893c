package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/teacaddy/internal/remote"
	"github.com/dukerupert/teacaddy/internal/store"
)

const pushTimeout = 2 * time.Minute

// LocalStore is the cache side of one collection.
type LocalStore[T any] interface {
	List(ctx context.Context) ([]T, error)
	Replace(ctx context.Context, records []T) error
}

// Collection runs merge passes and debounced pushes for one collection.
type Collection[T any] struct {
	name   string
	local  LocalStore[T]
	remote remote.Collection[T]
	id     func(T) string
	owner  func() string
	state  *store.SyncStateStore
	quiet  time.Duration
	logger *slog.Logger
	notify func(Event)

	// writeMu serializes writers of the local collection.
	writeMu sync.Mutex

	mu          sync.Mutex
	merging     bool
	mergeOwner  string
	nextOwner   string
	deleted     map[string]struct{}
	active      int
	pushing     bool
	pushPending bool
	pushOwner   string
	timer       *time.Timer
	gen         int
	lastSync    time.Time
}

func newCollection[T any](name string, local LocalStore[T], rc remote.Collection[T], id func(T) string,
	owner func() string, state *store.SyncStateStore, quiet time.Duration, logger *slog.Logger,
	notify func(Event)) *Collection[T] {
	return &Collection[T]{
		name:   name,
		local:  local,
		remote: rc,
		id:     id,
		owner:  owner,
		state:  state,
		quiet:  quiet,
		logger: logger.With("collection", name),
		notify: notify,
	}
}

// Exclusive runs fn while holding the collection's write lock.
func (c *Collection[T]) Exclusive(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn()
}

// tryAcquire starts a pass for owner. While one runs, a trigger for another
// owner, or any trigger after one, is remembered as the next pass.
func (c *Collection[T]) tryAcquire(owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.merging {
		if owner != c.mergeOwner || c.nextOwner != "" {
			c.nextOwner = owner
		}
		return false
	}
	c.merging = true
	c.mergeOwner = owner
	c.deleted = make(map[string]struct{})
	return true
}

// releaseOrNext ends the running pass, or hands back the owner of the next
// one.
func (c *Collection[T]) releaseOrNext() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextOwner == "" {
		c.merging = false
		c.mergeOwner = ""
		c.deleted = nil
		return "", false
	}
	next := c.nextOwner
	c.nextOwner = ""
	c.mergeOwner = next
	c.deleted = make(map[string]struct{})
	return next, true
}

// noteDeleted records a local delete made while a pass runs so the pass does
// not restore the record from its remote snapshot. Callers hold writeMu.
func (c *Collection[T]) noteDeleted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted != nil {
		c.deleted[id] = struct{}{}
	}
}

func (c *Collection[T]) withoutDeleted(records []T) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deleted) == 0 {
		return records
	}
	kept := make([]T, 0, len(records))
	for _, r := range records {
		if _, gone := c.deleted[c.id(r)]; !gone {
			kept = append(kept, r)
		}
	}
	return kept
}

func (c *Collection[T]) begin() {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
	c.notify(Event{Entity: EntitySync, Action: ActionStarted, ID: c.name})
}

func (c *Collection[T]) end() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	c.notify(Event{Entity: EntitySync, Action: ActionFinished, ID: c.name})
}

// Syncing reports whether a merge pass or push is running.
func (c *Collection[T]) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active > 0
}

func (c *Collection[T]) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

func (c *Collection[T]) loadLastSync(ctx context.Context) error {
	at, err := c.state.LastSync(ctx, c.name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lastSync = at
	c.mu.Unlock()
	return nil
}

func (c *Collection[T]) markSynced(ctx context.Context) {
	now := time.Now().UTC()
	c.mu.Lock()
	c.lastSync = now
	c.mu.Unlock()
	if err := c.state.SetLastSync(ctx, c.name, now); err != nil {
		c.logger.Error("persist last sync", "error", err)
	}
}

// MergePass pulls the owner's remote records into the cache and pushes
// local-only records back. A trigger for the owner whose pass is running is a
// no-op; a trigger for another owner runs one more pass when the current one
// ends.
func (c *Collection[T]) MergePass(ctx context.Context, ownerID string) error {
	if !c.tryAcquire(ownerID) {
		c.logger.Debug("merge pass already running", "owner", ownerID)
		return nil
	}
	err := c.mergeOnce(ctx, ownerID)
	for {
		next, ok := c.releaseOrNext()
		if !ok {
			return err
		}
		c.logger.Info("owner changed during merge pass", "owner", next)
		if nerr := c.mergeOnce(ctx, next); nerr != nil {
			c.logger.Warn("merge pass failed", "owner", next, "error", nerr)
		}
	}
}

func (c *Collection[T]) mergeOnce(ctx context.Context, ownerID string) error {
	c.begin()
	defer c.end()

	remoteRecords, err := c.remote.List(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("merge %s: %w", c.name, err)
	}

	var added []T
	stale := false
	err = c.Exclusive(func() error {
		// A sign-out lets the pass finish; another owner's session does not.
		if c.owner != nil {
			if cur := c.owner(); cur != "" && cur != ownerID {
				stale = true
				return nil
			}
		}
		local, err := c.local.List(ctx)
		if err != nil {
			return err
		}
		var merged []T
		merged, added = Merge(local, c.withoutDeleted(remoteRecords), c.id)
		return c.local.Replace(ctx, merged)
	})
	if err != nil {
		return fmt.Errorf("merge %s: %w", c.name, err)
	}
	if stale {
		c.logger.Debug("owner changed, merge result dropped", "owner", ownerID)
		return nil
	}
	c.logger.Info("merge pass done", "remote", len(remoteRecords), "carried_forward", len(added))
	c.notify(Event{Entity: EntitySync, Action: ActionMerged, ID: c.name})

	if len(added) > 0 {
		if err := c.remote.Upsert(ctx, ownerID, added...); err != nil {
			c.logger.Warn("push of local-only records failed, retrying later", "count", len(added), "error", err)
			c.SchedulePush(ownerID)
		}
	}
	c.markSynced(ctx)
	return nil
}

// SchedulePush pushes the whole collection once no further call has been
// made for the quiet period.
func (c *Collection[T]) SchedulePush(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.pushOwner = ownerID
	c.timer = time.AfterFunc(c.quiet, func() { c.firePush(gen) })
}

// Cancel drops a scheduled push. A push already running finishes.
func (c *Collection[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.pushOwner = ""
	c.pushPending = false
}

func (c *Collection[T]) firePush(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.pushOwner == "" {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.pushing {
		c.pushPending = true
		c.mu.Unlock()
		return
	}
	c.pushing = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		owner := c.pushOwner
		c.mu.Unlock()

		if owner != "" {
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			if err := c.Push(ctx, owner); err != nil {
				c.logger.Warn("debounced push failed", "error", err)
			}
			cancel()
		}

		c.mu.Lock()
		if !c.pushPending {
			c.pushing = false
			c.mu.Unlock()
			return
		}
		c.pushPending = false
		c.mu.Unlock()
	}
}

// Push upserts the whole local collection in one round trip.
func (c *Collection[T]) Push(ctx context.Context, ownerID string) error {
	records, err := c.local.List(ctx)
	if err != nil {
		return fmt.Errorf("push %s: %w", c.name, err)
	}
	if len(records) == 0 {
		return nil
	}
	c.begin()
	defer c.end()
	if err := c.remote.Upsert(ctx, ownerID, records...); err != nil {
		return fmt.Errorf("push %s: %w", c.name, err)
	}
	c.logger.Debug("pushed collection", "count", len(records))
	c.markSynced(ctx)
	return nil
}

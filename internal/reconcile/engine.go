package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/teacaddy/internal/backup"
	"github.com/dukerupert/teacaddy/internal/blob"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/outbox"
	"github.com/dukerupert/teacaddy/internal/remote"
	"github.com/dukerupert/teacaddy/internal/session"
	"github.com/dukerupert/teacaddy/internal/store"
	"github.com/google/uuid"
)

// Event entities.
const (
	EntityTea     = "tea"
	EntityBrewLog = "brew_log"
	EntitySync    = "sync"
	EntitySession = "session"
	EntityBackup  = "backup"
)

// Event actions.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionImported = "imported"
	ActionStarted  = "started"
	ActionFinished = "finished"
	ActionMerged   = "merged"
	ActionChanged  = "changed"
)

// Event tells observers that the observable state changed.
type Event struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// State is the snapshot presented to the UI.
type State struct {
	Teas          []model.TeaView     `json:"teas"`
	BrewLogs      []model.BrewLogView `json:"brewLogs"`
	IsSyncing     bool                `json:"isSyncing"`
	LastSyncTime  *time.Time          `json:"lastSyncTime"`
	Session       session.State       `json:"session"`
	OwnerID       string              `json:"ownerId,omitempty"`
	PendingPushes int                 `json:"pendingPushes"`
}

type Config struct {
	// Quiet is the debounce window of whole-collection pushes.
	Quiet time.Duration
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Cache     *store.Cache
	Blobs     blob.Store
	SyncState *store.SyncStateStore
	Remote    *remote.Backend
	Session   *session.Session
	Outbox    *outbox.Worker
	Codec     *backup.Codec
}

// Engine owns the local state of both collections and keeps it in step with
// the remote store of the signed-in owner.
type Engine struct {
	cache   *store.Cache
	blobs   blob.Store
	session *session.Session
	outbox  *outbox.Worker
	codec   *backup.Codec
	logger  *slog.Logger

	teas     *Collection[model.Tea]
	brewLogs *Collection[model.BrewLog]

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int

	unsubscribe func()
	background  sync.WaitGroup
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Quiet == 0 {
		cfg.Quiet = time.Second
	}
	e := &Engine{
		cache:     deps.Cache,
		blobs:     deps.Blobs,
		session:   deps.Session,
		outbox:    deps.Outbox,
		codec:     deps.Codec,
		logger:    logger.With("component", "reconcile"),
		observers: make(map[int]func(Event)),
	}
	e.teas = newCollection(model.CollectionTeas, deps.Cache.Teas, deps.Remote.Teas,
		model.Tea.RecordID, deps.Session.OwnerID, deps.SyncState, cfg.Quiet, e.logger, e.publish)
	e.brewLogs = newCollection(model.CollectionBrewLogs, deps.Cache.BrewLogs, deps.Remote.BrewLogs,
		model.BrewLog.RecordID, deps.Session.OwnerID, deps.SyncState, cfg.Quiet, e.logger, e.publish)
	return e
}

// Start loads the persisted sync times and follows the session. When the
// session is already authenticated a merge runs right away.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.teas.loadLastSync(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := e.brewLogs.loadLastSync(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	e.unsubscribe = e.session.OnChange(e.onSessionChange)
	if id := e.session.Current(); id != nil {
		e.reconcileInBackground(id.OwnerID)
	}
	return nil
}

// Close stops following the session, drops scheduled pushes and waits for
// background merges.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.teas.Cancel()
	e.brewLogs.Cancel()
	e.background.Wait()
}

// Wait blocks until background merges started by session changes finish.
func (e *Engine) Wait() {
	e.background.Wait()
}

func (e *Engine) onSessionChange(c session.Change) {
	e.publish(Event{Entity: EntitySession, Action: ActionChanged})
	switch c.State {
	case session.StateAuthenticated:
		e.teas.Cancel()
		e.brewLogs.Cancel()
		e.reconcileInBackground(c.Identity.OwnerID)
	case session.StateUnauthenticated:
		e.teas.Cancel()
		e.brewLogs.Cancel()
	}
}

func (e *Engine) reconcileInBackground(ownerID string) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if err := e.reconcile(context.Background(), ownerID); err != nil {
			e.logger.Warn("merge after sign-in failed", "owner", ownerID, "error", err)
		}
	}()
}

func (e *Engine) reconcile(ctx context.Context, ownerID string) error {
	// Queued mutations go first so the merge sees them.
	if err := e.outbox.Drain(ctx); err != nil {
		e.logger.Warn("outbox drain before merge failed", "error", err)
	}

	var wg sync.WaitGroup
	var teaErr, logErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		teaErr = e.teas.MergePass(ctx, ownerID)
	}()
	go func() {
		defer wg.Done()
		logErr = e.brewLogs.MergePass(ctx, ownerID)
	}()
	wg.Wait()
	return errors.Join(teaErr, logErr)
}

// Reconcile runs a merge pass of both collections for the current owner.
func (e *Engine) Reconcile(ctx context.Context) error {
	ownerID := e.session.OwnerID()
	if ownerID == "" {
		return fmt.Errorf("reconcile: %w", model.ErrNotAuthenticated)
	}
	return e.reconcile(ctx, ownerID)
}

// SyncNow delivers queued mutations and pushes both collections in full.
func (e *Engine) SyncNow(ctx context.Context) error {
	ownerID := e.session.OwnerID()
	if ownerID == "" {
		return fmt.Errorf("sync: %w", model.ErrNotAuthenticated)
	}
	if err := e.outbox.Drain(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return errors.Join(e.teas.Push(ctx, ownerID), e.brewLogs.Push(ctx, ownerID))
}

// Subscribe registers fn for state change events and returns a function
// that removes it. fn runs synchronously and must not block.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) publish(ev Event) {
	e.obsMu.Lock()
	ids := make([]int, 0, len(e.observers))
	for id := range e.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.observers[id])
	}
	e.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// push sends one mutation to the remote when someone is signed in. The
// local write has already happened and is kept whatever the outcome.
func (e *Engine) push(ctx context.Context, collection string, op model.OutboxOp, id string, record any) error {
	ownerID := e.session.OwnerID()
	if ownerID == "" {
		return nil
	}
	if err := e.outbox.Submit(ctx, collection, op, ownerID, id, record); err != nil {
		e.logger.Warn("push failed, kept in outbox", "collection", collection, "op", op, "id", id, "error", err)
		return err
	}
	return nil
}

func (e *Engine) Teas(ctx context.Context) ([]model.Tea, error) {
	return e.cache.Teas.List(ctx)
}

func (e *Engine) BrewLogs(ctx context.Context) ([]model.BrewLog, error) {
	return e.cache.BrewLogs.List(ctx)
}

// Tea returns one tea or ErrNotFound.
func (e *Engine) Tea(ctx context.Context, id string) (*model.Tea, error) {
	t, err := e.cache.Teas.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("tea %s: %w", id, model.ErrNotFound)
	}
	return t, nil
}

// Photo returns a stored photo or ErrNotFound.
func (e *Engine) Photo(ctx context.Context, id string) (*model.Blob, error) {
	b, err := e.blobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("photo %s: %w", id, model.ErrNotFound)
	}
	return b, nil
}

// StorePhoto saves a photo and returns its id.
func (e *Engine) StorePhoto(ctx context.Context, data []byte, mimeType string) (string, error) {
	id, err := e.blobs.Put(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return id, nil
}

// State returns the current observable state.
func (e *Engine) State(ctx context.Context) (*State, error) {
	teas, err := e.cache.Teas.List(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := e.cache.BrewLogs.List(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := e.outbox.Pending(ctx)
	if err != nil {
		return nil, err
	}

	s := &State{
		Teas:          make([]model.TeaView, 0, len(teas)),
		BrewLogs:      make([]model.BrewLogView, 0, len(logs)),
		IsSyncing:     e.teas.Syncing() || e.brewLogs.Syncing(),
		Session:       e.session.State(),
		OwnerID:       e.session.OwnerID(),
		PendingPushes: pending,
	}
	for _, t := range teas {
		s.Teas = append(s.Teas, t.View())
	}
	for _, l := range logs {
		s.BrewLogs = append(s.BrewLogs, l.View(teas))
	}
	last := e.teas.LastSync()
	if bl := e.brewLogs.LastSync(); bl.After(last) {
		last = bl
	}
	if !last.IsZero() {
		s.LastSyncTime = &last
	}
	return s, nil
}

// AddTea stores a new tea. A remote failure is returned alongside the
// created tea, which stays in the local cache.
func (e *Engine) AddTea(ctx context.Context, t model.Tea) (*model.Tea, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	err := e.teas.Exclusive(func() error {
		existing, err := e.cache.Teas.GetByID(ctx, t.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: tea %s already exists", model.ErrInvalid, t.ID)
		}
		return e.cache.Teas.Put(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("add tea: %w", err)
	}
	e.publish(Event{Entity: EntityTea, Action: ActionCreated, ID: t.ID})
	return &t, e.push(ctx, model.CollectionTeas, model.OutboxUpsert, t.ID, t)
}

// AddTeaWithImage stores the photo and then the tea. When the photo cannot
// be stored the tea is still added, without a photo, and the storage error
// is returned with it.
func (e *Engine) AddTeaWithImage(ctx context.Context, t model.Tea, data []byte, mimeType string) (*model.Tea, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var photoErr error
	t.ImageBlobID = ""
	if len(data) > 0 {
		id, err := e.blobs.Put(ctx, data, mimeType)
		if err != nil {
			e.logger.Warn("photo not stored, adding tea without it", "error", err)
			photoErr = fmt.Errorf("store photo: %w", err)
		} else {
			t.ImageBlobID = id
		}
	}
	created, err := e.AddTea(ctx, t)
	if created == nil {
		return nil, err
	}
	return created, errors.Join(photoErr, err)
}

// UpdateTea applies fn to a copy of the tea and stores the result.
func (e *Engine) UpdateTea(ctx context.Context, id string, fn func(*model.Tea) error) (*model.Tea, error) {
	return e.modifyTea(ctx, id, ActionUpdated, func(t *model.Tea) error {
		prev := *t
		if err := fn(t); err != nil {
			return err
		}
		t.ID = id
		return t.ValidateChange(prev)
	})
}

// ConsumeTea subtracts grams from the stock. The stored stock may go below
// zero; views clamp it.
func (e *Engine) ConsumeTea(ctx context.Context, id string, grams float64) (*model.Tea, error) {
	if grams <= 0 {
		return nil, fmt.Errorf("%w: grams must be positive", model.ErrInvalid)
	}
	return e.modifyTea(ctx, id, ActionUpdated, func(t *model.Tea) error {
		t.StockWeight -= grams
		return nil
	})
}

func (e *Engine) modifyTea(ctx context.Context, id, action string, fn func(*model.Tea) error) (*model.Tea, error) {
	var updated model.Tea
	err := e.teas.Exclusive(func() error {
		t, err := e.cache.Teas.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("tea %s: %w", id, model.ErrNotFound)
		}
		if err := fn(t); err != nil {
			return err
		}
		updated = *t
		return e.cache.Teas.Put(ctx, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("update tea: %w", err)
	}
	e.publish(Event{Entity: EntityTea, Action: action, ID: id})
	return &updated, e.push(ctx, model.CollectionTeas, model.OutboxUpsert, id, updated)
}

// DeleteTea removes a tea locally and remotely. Its photo is kept.
func (e *Engine) DeleteTea(ctx context.Context, id string) error {
	err := e.teas.Exclusive(func() error {
		deleted, err := e.cache.Teas.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("tea %s: %w", id, model.ErrNotFound)
		}
		e.teas.noteDeleted(id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete tea: %w", err)
	}
	e.publish(Event{Entity: EntityTea, Action: ActionDeleted, ID: id})
	return e.push(ctx, model.CollectionTeas, model.OutboxDelete, id, nil)
}

// AddBrewLog stores a journal entry. The tea id is not checked.
func (e *Engine) AddBrewLog(ctx context.Context, b model.BrewLog) (*model.BrewLog, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Date.IsZero() {
		b.Date = time.Now().UTC()
	}
	if b.TastingNotes == nil {
		b.TastingNotes = []string{}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	err := e.brewLogs.Exclusive(func() error {
		existing, err := e.cache.BrewLogs.GetByID(ctx, b.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: brew log %s already exists", model.ErrInvalid, b.ID)
		}
		return e.cache.BrewLogs.Put(ctx, b)
	})
	if err != nil {
		return nil, fmt.Errorf("add brew log: %w", err)
	}
	e.publish(Event{Entity: EntityBrewLog, Action: ActionCreated, ID: b.ID})
	return &b, e.push(ctx, model.CollectionBrewLogs, model.OutboxUpsert, b.ID, b)
}

// UpdateBrewLog edits a journal entry. Entries are immutable while signed in.
func (e *Engine) UpdateBrewLog(ctx context.Context, id string, fn func(*model.BrewLog) error) (*model.BrewLog, error) {
	if e.session.State() == session.StateAuthenticated {
		return nil, fmt.Errorf("update brew log %s: %w", id, model.ErrImmutable)
	}
	var updated model.BrewLog
	err := e.brewLogs.Exclusive(func() error {
		b, err := e.cache.BrewLogs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("brew log %s: %w", id, model.ErrNotFound)
		}
		if err := fn(b); err != nil {
			return err
		}
		b.ID = id
		if err := b.Validate(); err != nil {
			return err
		}
		updated = *b
		return e.cache.BrewLogs.Put(ctx, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("update brew log: %w", err)
	}
	e.publish(Event{Entity: EntityBrewLog, Action: ActionUpdated, ID: id})
	return &updated, nil
}

func (e *Engine) DeleteBrewLog(ctx context.Context, id string) error {
	err := e.brewLogs.Exclusive(func() error {
		deleted, err := e.cache.BrewLogs.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("brew log %s: %w", id, model.ErrNotFound)
		}
		e.brewLogs.noteDeleted(id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete brew log: %w", err)
	}
	e.publish(Event{Entity: EntityBrewLog, Action: ActionDeleted, ID: id})
	return e.push(ctx, model.CollectionBrewLogs, model.OutboxDelete, id, nil)
}

// ExportBackup snapshots the local state while no writer runs.
func (e *Engine) ExportBackup(ctx context.Context) (*model.BackupDocument, error) {
	var doc *model.BackupDocument
	err := e.teas.Exclusive(func() error {
		return e.brewLogs.Exclusive(func() error {
			var err error
			doc, err = e.codec.Export(ctx)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ImportBackup restores doc into the local state. When signed in, both
// collections are pushed after the quiet period.
func (e *Engine) ImportBackup(ctx context.Context, doc *model.BackupDocument, mode model.ImportMode) (*model.ImportResult, error) {
	var result *model.ImportResult
	err := e.teas.Exclusive(func() error {
		return e.brewLogs.Exclusive(func() error {
			var err error
			result, err = e.codec.Import(ctx, doc, mode)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	e.publish(Event{Entity: EntityBackup, Action: ActionImported})

	if ownerID := e.session.OwnerID(); ownerID != "" {
		e.teas.SchedulePush(ownerID)
		e.brewLogs.SchedulePush(ownerID)
	}
	return result, nil
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/teacaddy/internal/backup"
	"github.com/dukerupert/teacaddy/internal/blob"
	"github.com/dukerupert/teacaddy/internal/database"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/outbox"
	"github.com/dukerupert/teacaddy/internal/remote"
	"github.com/dukerupert/teacaddy/internal/session"
	"github.com/dukerupert/teacaddy/internal/store"
	"golang.org/x/time/rate"
)

const owner = "owner-1"

type testEnv struct {
	engine  *Engine
	cache   *store.Cache
	blobs   *store.BlobStore
	session *session.Session
	teas    *remote.Memory[model.Tea]
	logs    *remote.Memory[model.BrewLog]
}

func setup(t *testing.T, quiet time.Duration) *testEnv {
	t.Helper()
	return setupWithBlobs(t, quiet, nil)
}

func setupWithBlobs(t *testing.T, quiet time.Duration, blobs blob.Store) *testEnv {
	t.Helper()
	return setupEnv(t, quiet, blobs, nil)
}

// setupEnv builds an engine. wrapTeas, when set, wraps the remote teas
// collection the engine merges from; the outbox still delivers to env.teas.
func setupEnv(t *testing.T, quiet time.Duration, blobs blob.Store,
	wrapTeas func(*remote.Memory[model.Tea]) remote.Collection[model.Tea]) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		cache:   store.NewCache(db),
		blobs:   store.NewBlobStore(db),
		session: session.New(nil, logger),
		teas:    remote.NewMemory(model.Tea.RecordID),
		logs:    remote.NewMemory(model.BrewLog.RecordID),
	}
	if blobs == nil {
		blobs = env.blobs
	}

	var remoteTeas remote.Collection[model.Tea] = env.teas
	if wrapTeas != nil {
		remoteTeas = wrapTeas(env.teas)
	}

	worker := outbox.New(store.NewOutboxStore(db), env.session.OwnerID, outbox.Config{Rate: rate.Inf}, logger)
	worker.Register(model.CollectionTeas, outbox.CollectionHandler[model.Tea]{Remote: env.teas})
	worker.Register(model.CollectionBrewLogs, outbox.CollectionHandler[model.BrewLog]{Remote: env.logs})

	env.engine = New(Deps{
		Cache:     env.cache,
		Blobs:     blobs,
		SyncState: store.NewSyncStateStore(db),
		Remote:    &remote.Backend{Teas: remoteTeas, BrewLogs: env.logs},
		Session:   env.session,
		Outbox:    worker,
		Codec:     backup.NewCodec(env.cache, blobs, logger),
	}, Config{Quiet: quiet}, logger)
	if err := env.engine.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(env.engine.Close)
	return env
}

// login authenticates the owner and waits for the merge it triggers.
func (env *testEnv) login(t *testing.T) {
	t.Helper()
	if _, err := env.session.LoginOwner(owner, ""); err != nil {
		t.Fatalf("login: %v", err)
	}
	env.engine.Wait()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// heldTeas returns the remote snapshot of one owner only after release is
// closed, so writes can land while a merge pass is between fetch and replace.
type heldTeas struct {
	*remote.Memory[model.Tea]
	owner   string
	fetched chan struct{}
	release chan struct{}
	once    sync.Once
}

func holdTeas(owner string) *heldTeas {
	return &heldTeas{owner: owner, fetched: make(chan struct{}, 1), release: make(chan struct{})}
}

func (h *heldTeas) wrap(m *remote.Memory[model.Tea]) remote.Collection[model.Tea] {
	h.Memory = m
	return h
}

func (h *heldTeas) List(ctx context.Context, ownerID string) ([]model.Tea, error) {
	teas, err := h.Memory.List(ctx, ownerID)
	if ownerID == h.owner {
		select {
		case h.fetched <- struct{}{}:
		default:
		}
		<-h.release
	}
	return teas, err
}

func (h *heldTeas) open() {
	h.once.Do(func() { close(h.release) })
}

func (h *heldTeas) waitFetched(t *testing.T) {
	t.Helper()
	select {
	case <-h.fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote fetch")
	}
}

func teaUpserts(m *remote.Memory[model.Tea]) int {
	_, upserts, _ := m.Calls()
	return upserts
}

func newTea(id, name string, stock float64) model.Tea {
	return model.Tea{ID: id, Name: name, Type: model.TeaOolong, StockWeight: stock}
}

func TestAddTeaUnauthenticatedStaysLocal(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	created, err := env.engine.AddTea(ctx, model.Tea{Name: "Tieguanyin", Type: model.TeaOolong, StockWeight: 100})
	if err != nil {
		t.Fatalf("add tea: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated id")
	}
	teas, err := env.engine.Teas(ctx)
	if err != nil {
		t.Fatalf("teas: %v", err)
	}
	if len(teas) != 1 || teas[0].Name != "Tieguanyin" {
		t.Errorf("teas = %+v", teas)
	}
	lists, upserts, deletes := env.teas.Calls()
	if lists+upserts+deletes != 0 {
		t.Errorf("remote calls = %d/%d/%d, want none", lists, upserts, deletes)
	}
}

func TestAddTeaInvalid(t *testing.T) {
	env := setup(t, time.Hour)
	_, err := env.engine.AddTea(context.Background(), model.Tea{Name: "", Type: model.TeaGreen})
	if !errors.Is(err, model.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestMutationsPushWhenAuthenticated(t *testing.T) {
	env := setup(t, time.Hour)
	env.login(t)
	ctx := context.Background()

	created, err := env.engine.AddTea(ctx, newTea("", "Da Hong Pao", 50))
	if err != nil {
		t.Fatalf("add tea: %v", err)
	}
	if got := env.teas.Records(owner); len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("remote teas = %+v", got)
	}

	if _, err := env.engine.ConsumeTea(ctx, created.ID, 5); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := env.teas.Records(owner)[0].StockWeight; got != 45 {
		t.Errorf("remote stock = %v, want 45", got)
	}

	if err := env.engine.DeleteTea(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := env.teas.Records(owner); len(got) != 0 {
		t.Errorf("remote teas after delete = %+v", got)
	}
}

func TestRemoteFailureKeepsLocalWrite(t *testing.T) {
	env := setup(t, time.Hour)
	env.login(t)
	ctx := context.Background()

	env.teas.Fail(errors.New("offline"))
	created, err := env.engine.AddTea(ctx, newTea("t1", "Bai Mudan", 30))
	if !errors.Is(err, model.ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
	if created == nil || created.ID != "t1" {
		t.Fatalf("created = %+v", created)
	}
	local, err := env.engine.Tea(ctx, "t1")
	if err != nil {
		t.Fatalf("tea: %v", err)
	}
	if local.Name != "Bai Mudan" {
		t.Errorf("name = %q, want %q", local.Name, "Bai Mudan")
	}

	state, err := env.engine.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.PendingPushes != 1 {
		t.Errorf("pending pushes = %d, want 1", state.PendingPushes)
	}

	env.teas.Fail(nil)
	if err := env.engine.SyncNow(ctx); err != nil {
		t.Fatalf("sync now: %v", err)
	}
	if got := env.teas.Records(owner); len(got) != 1 {
		t.Errorf("remote teas = %+v", got)
	}
	state, _ = env.engine.State(ctx)
	if state.PendingPushes != 0 {
		t.Errorf("pending pushes = %d, want 0", state.PendingPushes)
	}
}

func TestLoginMergeRemoteWins(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	if err := env.cache.Teas.Put(ctx, newTea("a", "Local A", 10)); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	env.teas.Seed(owner, newTea("a", "Remote A", 7), newTea("b", "Remote B", 3))

	env.login(t)

	teas, err := env.engine.Teas(ctx)
	if err != nil {
		t.Fatalf("teas: %v", err)
	}
	stock := map[string]float64{}
	for _, tea := range teas {
		stock[tea.ID] = tea.StockWeight
	}
	if len(stock) != 2 || stock["a"] != 7 || stock["b"] != 3 {
		t.Errorf("local stock = %v, want a:7 b:3", stock)
	}
	if n := teaUpserts(env.teas); n != 0 {
		t.Errorf("upserts = %d, want 0", n)
	}
	if got := env.teas.Records(owner); len(got) != 2 {
		t.Errorf("remote teas = %+v", got)
	}
}

func TestLoginCarriesLocalRecordsForward(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	for i := range 3 {
		if err := env.cache.Teas.Put(ctx, newTea(fmt.Sprintf("local-%d", i), "Local", 1)); err != nil {
			t.Fatalf("seed local: %v", err)
		}
	}
	log := model.BrewLog{ID: "log-1", TeaID: "local-0", Date: time.Now().UTC(), TastingNotes: []string{}}
	if err := env.cache.BrewLogs.Put(ctx, log); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	env.teas.Seed(owner, newTea("remote-1", "Remote", 2))

	env.login(t)

	if n := teaUpserts(env.teas); n != 1 {
		t.Errorf("tea upserts = %d, want 1", n)
	}
	if got := env.teas.Records(owner); len(got) != 4 {
		t.Errorf("remote teas = %d, want 4", len(got))
	}
	if got := env.logs.Records(owner); len(got) != 1 {
		t.Errorf("remote logs = %d, want 1", len(got))
	}

	// A second pass with the same remote adds nothing.
	if err := env.engine.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	teas, _ := env.engine.Teas(ctx)
	if len(teas) != 4 {
		t.Errorf("local teas = %d, want 4", len(teas))
	}
	if n := teaUpserts(env.teas); n != 1 {
		t.Errorf("tea upserts = %d, want 1", n)
	}
}

func TestOwnerSwitchDuringMergeRunsNewOwnerPass(t *testing.T) {
	held := holdTeas("alice")
	env := setupEnv(t, time.Hour, nil, held.wrap)
	t.Cleanup(held.open)
	ctx := context.Background()
	env.teas.Seed("alice", newTea("alice-tea", "Alice", 5))
	env.teas.Seed("bob", newTea("bob-tea", "Bob", 5))

	if _, err := env.session.LoginOwner("alice", ""); err != nil {
		t.Fatalf("login alice: %v", err)
	}
	held.waitFetched(t)
	if _, err := env.session.LoginOwner("bob", ""); err != nil {
		t.Fatalf("login bob: %v", err)
	}
	waitFor(t, "queued pass for bob", func() bool {
		env.engine.teas.mu.Lock()
		defer env.engine.teas.mu.Unlock()
		return env.engine.teas.nextOwner == "bob"
	})
	held.open()
	env.engine.Wait()

	teas, err := env.engine.Teas(ctx)
	if err != nil {
		t.Fatalf("teas: %v", err)
	}
	ids := map[string]bool{}
	for _, tea := range teas {
		ids[tea.ID] = true
	}
	if !ids["bob-tea"] {
		t.Errorf("local teas = %+v, want bob-tea", teas)
	}
	if ids["alice-tea"] {
		t.Errorf("local teas = %+v, alice's snapshot written after switching to bob", teas)
	}
	if got := env.teas.Records("bob"); len(got) != 1 {
		t.Errorf("bob remote teas = %+v, want 1", got)
	}
}

func TestSameOwnerTriggerDuringMergeIsNoop(t *testing.T) {
	held := holdTeas(owner)
	env := setupEnv(t, time.Hour, nil, held.wrap)
	t.Cleanup(held.open)
	ctx := context.Background()
	env.teas.Seed(owner, newTea("a", "Remote A", 3))

	if _, err := env.session.LoginOwner(owner, ""); err != nil {
		t.Fatalf("login: %v", err)
	}
	held.waitFetched(t)
	if err := env.engine.teas.MergePass(ctx, owner); err != nil {
		t.Fatalf("merge pass: %v", err)
	}
	held.open()
	env.engine.Wait()

	lists, _, _ := env.teas.Calls()
	if lists != 1 {
		t.Errorf("remote lists = %d, want 1", lists)
	}
}

func TestDeleteDuringMergeStaysDeleted(t *testing.T) {
	held := holdTeas(owner)
	env := setupEnv(t, time.Hour, nil, held.wrap)
	t.Cleanup(held.open)
	ctx := context.Background()

	if err := env.cache.Teas.Put(ctx, newTea("a", "Shared", 10)); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	env.teas.Seed(owner, newTea("a", "Shared", 10))

	if _, err := env.session.LoginOwner(owner, ""); err != nil {
		t.Fatalf("login: %v", err)
	}
	held.waitFetched(t)
	if err := env.engine.DeleteTea(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	held.open()
	env.engine.Wait()

	teas, _ := env.engine.Teas(ctx)
	if len(teas) != 0 {
		t.Errorf("local teas = %+v, want none", teas)
	}
	if got := env.teas.Records(owner); len(got) != 0 {
		t.Errorf("remote teas = %+v, want none", got)
	}
}

func TestMergeFailureLeavesLocalUntouched(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	if err := env.cache.Teas.Put(ctx, newTea("a", "Local", 10)); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	env.teas.Fail(errors.New("unreachable"))
	env.login(t)

	err := env.engine.Reconcile(ctx)
	if !errors.Is(err, model.ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
	teas, _ := env.engine.Teas(ctx)
	if len(teas) != 1 || teas[0].StockWeight != 10 {
		t.Errorf("local teas = %+v", teas)
	}
}

func TestReconcileRequiresSession(t *testing.T) {
	env := setup(t, time.Hour)
	if err := env.engine.Reconcile(context.Background()); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("reconcile err = %v, want ErrNotAuthenticated", err)
	}
	if err := env.engine.SyncNow(context.Background()); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("sync err = %v, want ErrNotAuthenticated", err)
	}
}

func TestSchedulePushCoalesces(t *testing.T) {
	quiet := 50 * time.Millisecond
	env := setup(t, quiet)
	ctx := context.Background()
	if err := env.cache.Teas.Put(ctx, newTea("a", "Yunnan Gold", 20)); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	for range 5 {
		env.engine.teas.SchedulePush(owner)
	}
	waitFor(t, "first push", func() bool { return teaUpserts(env.teas) == 1 })
	time.Sleep(4 * quiet)
	if n := teaUpserts(env.teas); n != 1 {
		t.Fatalf("upserts = %d, want 1", n)
	}

	env.engine.teas.SchedulePush(owner)
	waitFor(t, "second push", func() bool { return teaUpserts(env.teas) == 2 })
	time.Sleep(2 * quiet)
	env.engine.teas.SchedulePush(owner)
	waitFor(t, "third push", func() bool { return teaUpserts(env.teas) == 3 })
}

func TestLogoutCancelsScheduledPush(t *testing.T) {
	quiet := 50 * time.Millisecond
	env := setup(t, quiet)
	ctx := context.Background()
	if err := env.cache.Teas.Put(ctx, newTea("a", "Yunnan Gold", 20)); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	env.login(t)
	before := teaUpserts(env.teas)

	env.engine.teas.SchedulePush(owner)
	env.session.Logout()
	time.Sleep(4 * quiet)
	if n := teaUpserts(env.teas); n != before {
		t.Errorf("upserts = %d, want %d", n, before)
	}
}

func TestImportSchedulesPush(t *testing.T) {
	env := setup(t, 20*time.Millisecond)
	env.login(t)
	ctx := context.Background()

	doc := &model.BackupDocument{
		Version:  model.BackupVersion,
		Teas:     []model.Tea{newTea("x", "Imported", 40)},
		BrewLogs: []model.BrewLog{{ID: "l", TeaID: "x", Date: time.Now().UTC(), TastingNotes: []string{"malt"}}},
		Images:   map[string]string{},
	}
	result, err := env.engine.ImportBackup(ctx, doc, model.ImportReplace)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.TeasAdded != 1 || result.BrewLogsAdded != 1 {
		t.Errorf("result = %+v", result)
	}
	waitFor(t, "teas pushed", func() bool { return len(env.teas.Records(owner)) == 1 })
	waitFor(t, "logs pushed", func() bool { return len(env.logs.Records(owner)) == 1 })
}

func TestImportUnsupportedVersion(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()
	if _, err := env.engine.AddTea(ctx, newTea("keep", "Keep Me", 5)); err != nil {
		t.Fatalf("add tea: %v", err)
	}

	doc := &model.BackupDocument{Version: "2.0", Teas: []model.Tea{}, BrewLogs: []model.BrewLog{}, Images: map[string]string{}}
	_, err := env.engine.ImportBackup(ctx, doc, model.ImportReplace)
	if !errors.Is(err, model.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
	teas, _ := env.engine.Teas(ctx)
	if len(teas) != 1 || teas[0].ID != "keep" {
		t.Errorf("teas = %+v", teas)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	photo := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	created, err := env.engine.AddTeaWithImage(ctx, newTea("", "Fenghuang Dancong", 25), photo, "image/png")
	if err != nil {
		t.Fatalf("add tea: %v", err)
	}
	if _, err := env.engine.AddBrewLog(ctx, model.BrewLog{TeaID: created.ID, WaterTemp: 95, SteepTime: 20, Rating: 4}); err != nil {
		t.Fatalf("add brew log: %v", err)
	}

	doc, err := env.engine.ExportBackup(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := env.engine.ImportBackup(ctx, doc, model.ImportReplace); err != nil {
		t.Fatalf("import: %v", err)
	}

	teas, _ := env.engine.Teas(ctx)
	if len(teas) != 1 || teas[0].ImageBlobID != created.ImageBlobID {
		t.Fatalf("teas = %+v", teas)
	}
	b, err := env.engine.Photo(ctx, created.ImageBlobID)
	if err != nil {
		t.Fatalf("photo: %v", err)
	}
	if string(b.Data) != string(photo) {
		t.Errorf("photo bytes = %v, want %v", b.Data, photo)
	}
	logs, _ := env.engine.BrewLogs(ctx)
	if len(logs) != 1 || logs[0].TeaID != created.ID {
		t.Errorf("logs = %+v", logs)
	}
}

type failingBlobs struct {
	blob.Store
}

func (failingBlobs) Put(context.Context, []byte, string) (string, error) {
	return "", fmt.Errorf("put blob: %w: disk full", model.ErrStorage)
}

func TestAddTeaWithImageKeepsRecordWhenPhotoFails(t *testing.T) {
	env := setupWithBlobs(t, time.Hour, failingBlobs{})
	ctx := context.Background()

	created, err := env.engine.AddTeaWithImage(ctx, newTea("", "Lapsang", 80), []byte{1, 2, 3}, "image/jpeg")
	if !errors.Is(err, model.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if created == nil || created.ImageBlobID != "" {
		t.Fatalf("created = %+v", created)
	}
	if _, err := env.engine.Tea(ctx, created.ID); err != nil {
		t.Errorf("tea not stored: %v", err)
	}
}

func TestConsumeTeaClampsView(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()
	created, err := env.engine.AddTea(ctx, newTea("", "Sencha", 10))
	if err != nil {
		t.Fatalf("add tea: %v", err)
	}
	if _, err := env.engine.ConsumeTea(ctx, created.ID, 0); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("consume 0 err = %v, want ErrInvalid", err)
	}
	updated, err := env.engine.ConsumeTea(ctx, created.ID, 15)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if updated.StockWeight != -5 {
		t.Errorf("stored stock = %v, want -5", updated.StockWeight)
	}
	state, err := env.engine.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if got := state.Teas[0].StockWeight; got != 0 {
		t.Errorf("view stock = %v, want 0", got)
	}
	if _, err := env.engine.ConsumeTea(ctx, "missing", 1); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateAfterOverConsumption(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()
	created, err := env.engine.AddTea(ctx, newTea("", "Bai Mudan", 10))
	if err != nil {
		t.Fatalf("add tea: %v", err)
	}
	if _, err := env.engine.ConsumeTea(ctx, created.ID, 25); err != nil {
		t.Fatalf("consume: %v", err)
	}

	updated, err := env.engine.UpdateTea(ctx, created.ID, func(tea *model.Tea) error {
		tea.Notes = "finished the bag"
		return nil
	})
	if err != nil {
		t.Fatalf("notes-only update: %v", err)
	}
	if updated.Notes != "finished the bag" || updated.StockWeight != -15 {
		t.Errorf("updated = %+v", updated)
	}

	// Setting a new negative stock is still refused; restocking is allowed.
	_, err = env.engine.UpdateTea(ctx, created.ID, func(tea *model.Tea) error {
		tea.StockWeight = -1
		return nil
	})
	if !errors.Is(err, model.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	restocked, err := env.engine.UpdateTea(ctx, created.ID, func(tea *model.Tea) error {
		tea.StockWeight = 50
		return nil
	})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if restocked.StockWeight != 50 {
		t.Errorf("stock = %v, want 50", restocked.StockWeight)
	}
}

func TestUpdateTeaKeepsID(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()
	created, _ := env.engine.AddTea(ctx, newTea("t", "Old", 10))

	updated, err := env.engine.UpdateTea(ctx, created.ID, func(tea *model.Tea) error {
		tea.ID = "changed"
		tea.Name = "New"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != "t" || updated.Name != "New" {
		t.Errorf("updated = %+v", updated)
	}
	_, err = env.engine.UpdateTea(ctx, "t", func(tea *model.Tea) error {
		tea.Rating = 9
		return nil
	})
	if !errors.Is(err, model.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestBrewLogs(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	logEntry, err := env.engine.AddBrewLog(ctx, model.BrewLog{TeaID: "gone", WaterTemp: 85, SteepTime: 60})
	if err != nil {
		t.Fatalf("add brew log: %v", err)
	}
	if logEntry.Date.IsZero() || logEntry.TastingNotes == nil {
		t.Errorf("defaults not applied: %+v", logEntry)
	}
	state, _ := env.engine.State(ctx)
	if got := state.BrewLogs[0].TeaName; got != model.UnknownTeaName {
		t.Errorf("tea name = %q, want %q", got, model.UnknownTeaName)
	}

	if _, err := env.engine.UpdateBrewLog(ctx, logEntry.ID, func(b *model.BrewLog) error {
		b.Rating = 5
		return nil
	}); err != nil {
		t.Fatalf("update while signed out: %v", err)
	}

	env.login(t)
	_, err = env.engine.UpdateBrewLog(ctx, logEntry.ID, func(b *model.BrewLog) error { return nil })
	if !errors.Is(err, model.ErrImmutable) {
		t.Errorf("err = %v, want ErrImmutable", err)
	}

	if err := env.engine.DeleteBrewLog(ctx, logEntry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.engine.DeleteBrewLog(ctx, logEntry.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscribe(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	unsubscribe := env.engine.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	created, _ := env.engine.AddTea(ctx, newTea("", "Gyokuro", 40))
	_ = env.engine.DeleteTea(ctx, created.ID)
	unsubscribe()
	_, _ = env.engine.AddTea(ctx, newTea("", "Hojicha", 40))

	mu.Lock()
	defer mu.Unlock()
	want := []Event{
		{Entity: EntityTea, Action: ActionCreated, ID: created.ID},
		{Entity: EntityTea, Action: ActionDeleted, ID: created.ID},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestStateReportsSync(t *testing.T) {
	env := setup(t, time.Hour)
	ctx := context.Background()

	state, err := env.engine.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.LastSyncTime != nil {
		t.Errorf("last sync = %v, want nil", state.LastSyncTime)
	}
	if state.Session != session.StateUnknown {
		t.Errorf("session = %v, want unknown", state.Session)
	}

	env.login(t)
	state, _ = env.engine.State(ctx)
	if state.LastSyncTime == nil {
		t.Error("expected last sync time after merge")
	}
	if state.OwnerID != owner || state.IsSyncing {
		t.Errorf("state = %+v", state)
	}
}

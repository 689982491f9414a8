package loft_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"loft-go/internal/loft"
	"loft-go/internal/testutil"
)

const (
	localPath = "/home/me/Notes"
	cloudPath = "/Users/me/Library/Mobile Documents/com~apple~CloudDocs/Notes"
)

func setupWorkspace(t *testing.T, h *testutil.Harness, path string) {
	t.Helper()
	if err := h.Service.Setup(context.Background(), path); err != nil {
		t.Fatalf("Setup(%s) error = %v", path, err)
	}
}

func assertPhases(t *testing.T, h *testutil.Harness, want ...loft.Phase) {
	t.Helper()
	got := h.Phases()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}
}

func lastState(t *testing.T, h *testutil.Harness) loft.BootState {
	t.Helper()
	states := h.States()
	if len(states) == 0 {
		t.Fatal("no boot state published")
	}
	return states[len(states)-1]
}

func requireKind(t *testing.T, err error, kind loft.ErrorKind, reason loft.Reason) *loft.Error {
	t.Helper()
	var e *loft.Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v (%T), want *loft.Error", err, err)
	}
	if e.Kind != kind || e.Reason != reason {
		t.Fatalf("error kind/reason = %v/%q, want %v/%q (err = %v)", e.Kind, e.Reason, kind, reason, err)
	}
	return e
}

func TestOpen_LocalSuccess(t *testing.T) {
	h := testutil.NewHarness(t)
	setupWorkspace(t, h, localPath)

	res, err := h.Service.Open(context.Background(), localPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	assertPhases(t, h, loft.PhaseValidatePath, loft.PhaseOpeningDB, loft.PhaseReady)
	if ready := lastState(t, h); ready.Result != res {
		t.Error("READY state does not carry the open result")
	}
	if res.Metadata.ID != "id-1" || res.Metadata.AppVersion != testutil.TestAppVersion {
		t.Errorf("Metadata = %+v", res.Metadata)
	}
	if !loft.IsValidDatabase(res.Database) {
		t.Error("opened database failed the header check")
	}
	if got := h.Service.Pointer().Current(); got != localPath {
		t.Errorf("pointer = %q, want %q", got, localPath)
	}
	if got := len(h.Clock.Sleeps()); got != 0 {
		t.Errorf("slept %d times, want 0", got)
	}
}

func TestOpen_LocalMissingFailsImmediately(t *testing.T) {
	h := testutil.NewHarness(t)

	_, err := h.Service.Open(context.Background(), "/home/me/gone")
	requireKind(t, err, loft.KindWorkspaceMissing, loft.ReasonMovedOrDeleted)

	assertPhases(t, h, loft.PhaseValidatePath, loft.PhaseMissing)
	missing := lastState(t, h)
	if missing.Kind != loft.KindWorkspaceMissing || missing.Reason != loft.ReasonMovedOrDeleted || missing.Message == "" {
		t.Errorf("MISSING state = %+v", missing)
	}
	if got := h.Clock.Sleeps(); len(got) != 0 {
		t.Errorf("sleeps = %v, want none", got)
	}
	if got := h.Gateway.ExistsCalls(); got != 1 {
		t.Errorf("PathExists calls = %d, want 1", got)
	}
	if got := h.Gateway.OpenCalls(); got != 0 {
		t.Errorf("OpenWorkspace calls = %d, want 0", got)
	}
	if h.Store.Writes() != 0 {
		t.Error("pointer written after a failed open")
	}
}

func TestOpen_CloudTimeout(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Gateway.ExistsFunc = func(int) bool { return false }

	_, err := h.Service.Open(context.Background(), cloudPath)
	requireKind(t, err, loft.KindWorkspaceMissing, loft.ReasonNotDownloaded)

	assertPhases(t, h, loft.PhaseValidatePath, loft.PhaseWaitingMaterialization, loft.PhaseMissing)
	waiting := h.States()[1]
	if waiting.Timeout != 30*time.Second {
		t.Errorf("WAITING timeout = %v, want 30s", waiting.Timeout)
	}

	elapsed := h.Clock.Now().Sub(waiting.StartedAt)
	if elapsed < 30*time.Second || elapsed > 30*time.Second+500*time.Millisecond {
		t.Errorf("elapsed = %v, want within [30s, 30.5s]", elapsed)
	}
	for i, d := range h.Clock.Sleeps() {
		if d != 500*time.Millisecond {
			t.Fatalf("sleep[%d] = %v, want 500ms", i, d)
		}
	}
	if got := h.Gateway.OpenCalls(); got != 0 {
		t.Errorf("OpenWorkspace calls = %d, want 0", got)
	}
}

func TestOpen_CloudMaterializes(t *testing.T) {
	h := testutil.NewHarness(t)
	setupWorkspace(t, h, cloudPath)
	// The folder appears on the fifth probe, after three 500ms polls.
	h.Gateway.ExistsFunc = func(call int) bool { return call >= 5 }

	res, err := h.Service.Open(context.Background(), cloudPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	assertPhases(t, h, loft.PhaseValidatePath, loft.PhaseWaitingMaterialization, loft.PhaseOpeningDB, loft.PhaseReady)
	if slept := h.Clock.Slept(); slept != 1500*time.Millisecond {
		t.Errorf("slept %v, want 1.5s", slept)
	}
	if slept := h.Clock.Slept(); slept >= 3*time.Second {
		t.Errorf("slept %v, want under 3s", slept)
	}
	if res.Path != cloudPath {
		t.Errorf("Path = %q, want %q", res.Path, cloudPath)
	}
}

func TestOpen_LockRetries(t *testing.T) {
	locked := errors.New("database is locked")

	t.Run("exhausted", func(t *testing.T) {
		h := testutil.NewHarness(t)
		setupWorkspace(t, h, localPath)
		h.Gateway.OpenErrors = []error{locked, locked, locked}

		_, err := h.Service.Open(context.Background(), localPath)
		e := requireKind(t, err, loft.KindLockContention, loft.ReasonLocked)
		if !strings.Contains(e.Error(), "database is locked") {
			t.Errorf("error %q lost the original message", e.Error())
		}

		if got := h.Gateway.OpenCalls(); got != 3 {
			t.Errorf("OpenWorkspace calls = %d, want 3", got)
		}
		want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
		got := h.Clock.Sleeps()
		if len(got) != len(want) {
			t.Fatalf("sleeps = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sleep[%d] = %v, want %v", i, got[i], want[i])
			}
		}
		assertPhases(t, h, loft.PhaseValidatePath, loft.PhaseOpeningDB, loft.PhaseMissing)
	})

	t.Run("released after one attempt", func(t *testing.T) {
		h := testutil.NewHarness(t)
		setupWorkspace(t, h, localPath)
		h.Gateway.OpenErrors = []error{locked}

		if _, err := h.Service.Open(context.Background(), localPath); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if got := h.Gateway.OpenCalls(); got != 2 {
			t.Errorf("OpenWorkspace calls = %d, want 2", got)
		}
		if got := h.Clock.Slept(); got != 500*time.Millisecond {
			t.Errorf("slept %v, want 500ms", got)
		}
	})

	t.Run("gateway lock kind", func(t *testing.T) {
		h := testutil.NewHarness(t)
		setupWorkspace(t, h, localPath)
		h.Memory.SetLocked(localPath, true)

		_, err := h.Service.Open(context.Background(), localPath)
		requireKind(t, err, loft.KindLockContention, loft.ReasonLocked)
		if got := h.Gateway.OpenCalls(); got != 3 {
			t.Errorf("OpenWorkspace calls = %d, want 3", got)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		h := testutil.NewHarness(t)
		setupWorkspace(t, h, localPath)
		h.Gateway.OpenErrors = []error{errors.New("permission denied")}

		_, err := h.Service.Open(context.Background(), localPath)
		requireKind(t, err, loft.KindStructural, loft.ReasonUnreadable)
		if got := h.Gateway.OpenCalls(); got != 1 {
			t.Errorf("OpenWorkspace calls = %d, want 1", got)
		}
		if got := h.Clock.Sleeps(); len(got) != 0 {
			t.Errorf("sleeps = %v, want none", got)
		}
	})
}

func TestOpen_InvalidDatabase(t *testing.T) {
	h := testutil.NewHarness(t)
	setupWorkspace(t, h, localPath)
	h.Memory.PutDatabase(localPath, testutil.CorruptDatabase())

	_, err := h.Service.Open(context.Background(), localPath)
	requireKind(t, err, loft.KindInvalidDatabase, loft.ReasonCorrupt)
	if !errors.Is(err, loft.ErrInvalidDatabase) {
		t.Error("errors.Is(err, ErrInvalidDatabase) = false")
	}
	if got := lastState(t, h); got.Phase != loft.PhaseMissing || got.Reason != loft.ReasonCorrupt {
		t.Errorf("last state = %+v, want MISSING/corrupt", got)
	}
	if h.Service.Pointer().Current() != "" {
		t.Error("pointer moved to a corrupt workspace")
	}
}

func TestOpen_UnreadableMetadata(t *testing.T) {
	h := testutil.NewHarness(t)
	setupWorkspace(t, h, localPath)
	h.Memory.PutMetadata(localPath, []byte("{broken"))

	_, err := h.Service.Open(context.Background(), localPath)
	requireKind(t, err, loft.KindStructural, loft.ReasonUnreadable)
}

func TestOpen_MissingDatabaseFile(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Memory.AddFolder(localPath)

	_, err := h.Service.Open(context.Background(), localPath)
	requireKind(t, err, loft.KindWorkspaceMissing, loft.ReasonMovedOrDeleted)
}

func TestOpen_FailureKeepsPreviousPointer(t *testing.T) {
	h := testutil.NewHarness(t)
	setupWorkspace(t, h, localPath)

	if _, err := h.Service.Open(context.Background(), localPath); err != nil {
		t.Fatalf("Open(A) error = %v", err)
	}
	if _, err := h.Service.Switch(context.Background(), "/home/me/Other"); err == nil {
		t.Fatal("Switch(B) expected error")
	}

	if got := h.Service.Pointer().Current(); got != localPath {
		t.Errorf("pointer = %q, want %q", got, localPath)
	}
	if got, _ := h.Store.Load(); got != localPath {
		t.Errorf("stored pointer = %q, want %q", got, localPath)
	}
	if got := h.Store.Writes(); got != 1 {
		t.Errorf("pointer writes = %d, want 1", got)
	}
}

func TestOpen_PointerWriteFailure(t *testing.T) {
	h := testutil.NewHarness(t)
	setupWorkspace(t, h, localPath)
	h.Store.FailWrites(errors.New("read-only filesystem"))

	_, err := h.Service.Open(context.Background(), localPath)
	requireKind(t, err, loft.KindStructural, loft.ReasonUnreadable)
	if got := lastState(t, h).Phase; got != loft.PhaseMissing {
		t.Errorf("last phase = %v, want MISSING", got)
	}
	if h.Service.Pointer().Current() != "" {
		t.Error("pointer moved although it could not be stored")
	}
}

func TestOpen_CancelledWhileWaiting(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.Gateway.ExistsFunc = func(call int) bool {
		if call == 3 {
			cancel()
		}
		return false
	}

	_, err := h.Service.Open(ctx, cloudPath)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Open() error = %v, want context.Canceled", err)
	}
	assertPhases(t, h, loft.PhaseValidatePath, loft.PhaseWaitingMaterialization)
	if h.Store.Writes() != 0 {
		t.Error("pointer written after cancellation")
	}

	// A new attempt may start from the abandoned wait.
	h.Gateway.ExistsFunc = nil
	setupWorkspace(t, h, cloudPath)
	if _, err := h.Service.Open(context.Background(), cloudPath); err != nil {
		t.Fatalf("Open() after cancel error = %v", err)
	}
}

func TestOpen_CustomPolicy(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Service.SetPolicy(loft.Policy{MaterializationTimeout: 2 * time.Second, PollInterval: time.Second})
	h.Gateway.ExistsFunc = func(int) bool { return false }

	_, err := h.Service.Open(context.Background(), cloudPath)
	requireKind(t, err, loft.KindWorkspaceMissing, loft.ReasonNotDownloaded)
	if got := h.Clock.Sleeps(); len(got) != 2 {
		t.Errorf("sleeps = %v, want two 1s polls", got)
	}
}

func TestOpen_CustomCloudMarker(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Service.SetClassifier(loft.NewPathClassifier("Dropbox"))
	h.Gateway.ExistsFunc = func(int) bool { return false }

	_, err := h.Service.Open(context.Background(), "/home/me/Dropbox/Notes")
	requireKind(t, err, loft.KindWorkspaceMissing, loft.ReasonNotDownloaded)
}

func TestOpen_ConcurrentSamePath(t *testing.T) {
	h := testutil.NewHarness(t)
	setupWorkspace(t, h, localPath)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Service.Open(context.Background(), localPath)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Open() error = %v", err)
		}
	}
	if got := h.Store.Writes(); got != 1 {
		t.Errorf("pointer writes = %d, want 1", got)
	}
}

func TestWaitForMaterialization(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Gateway.ExistsFunc = func(call int) bool { return call >= 3 }

	ok, err := h.Service.WaitForMaterialization(context.Background(), cloudPath, 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("WaitForMaterialization() = %v, %v; want true, nil", ok, err)
	}
	if got := h.Clock.Slept(); got != time.Second {
		t.Errorf("slept %v, want 1s", got)
	}
	if len(h.States()) != 0 {
		t.Error("WaitForMaterialization published boot states")
	}
}

func TestResumeSwitchForget(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()

	if _, err := h.Service.Resume(ctx); !errors.Is(err, loft.ErrNoActiveWorkspace) {
		t.Fatalf("Resume() error = %v, want ErrNoActiveWorkspace", err)
	}

	setupWorkspace(t, h, localPath)
	setupWorkspace(t, h, "/home/me/Work")

	if _, err := h.Service.Switch(ctx, localPath); err != nil {
		t.Fatalf("Switch(A) error = %v", err)
	}
	if _, err := h.Service.Switch(ctx, "/home/me/Work"); err != nil {
		t.Fatalf("Switch(B) error = %v", err)
	}
	res, err := h.Service.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if res.Path != "/home/me/Work" {
		t.Errorf("Resume() opened %q, want /home/me/Work", res.Path)
	}

	if err := h.Service.Forget(); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if h.Service.Pointer().Current() != "" {
		t.Error("pointer not cleared by Forget")
	}
	if got := lastState(t, h).Phase; got != loft.PhaseUninitialized {
		t.Errorf("last phase = %v, want UNINITIALIZED", got)
	}
}

func TestOpen_ConcurrentDifferentPaths(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	const other = "/home/me/Other"
	setupWorkspace(t, h, localPath)
	setupWorkspace(t, h, other)

	// Start the second open while the first is reading its database.
	var once sync.Once
	done := make(chan error, 1)
	unsubscribe := h.Service.States().Subscribe(func(s loft.BootState) {
		if s.Phase == loft.PhaseOpeningDB && s.Path == localPath {
			once.Do(func() {
				go func() {
					_, err := h.Service.Open(ctx, other)
					done <- err
				}()
			})
		}
	})
	defer unsubscribe()

	res, err := h.Service.Open(ctx, localPath)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", localPath, err)
	}
	if res.Path != localPath {
		t.Errorf("result path = %q", res.Path)
	}
	if err := <-done; err != nil {
		t.Fatalf("Open(%s) error = %v", other, err)
	}

	assertPhases(t, h,
		loft.PhaseValidatePath, loft.PhaseOpeningDB, loft.PhaseReady,
		loft.PhaseValidatePath, loft.PhaseOpeningDB, loft.PhaseReady,
	)
	if got := lastState(t, h); got.Path != other {
		t.Errorf("last state path = %q, want %q", got.Path, other)
	}
	if got := h.Service.Pointer().Current(); got != other {
		t.Errorf("pointer = %q, want %q", got, other)
	}
	if got, _ := h.Store.Load(); got != other {
		t.Errorf("stored pointer = %q, want %q", got, other)
	}
}

func TestOpen_RejectedReadyRestoresPointer(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	const other = "/home/me/Other"
	setupWorkspace(t, h, localPath)
	setupWorkspace(t, h, other)
	if _, err := h.Service.Open(ctx, localPath); err != nil {
		t.Fatal(err)
	}

	// Reset the slot underneath the open so READY is an illegal transition.
	unsubscribe := h.Service.States().Subscribe(func(s loft.BootState) {
		if s.Phase == loft.PhaseOpeningDB && s.Path == other {
			h.Service.States().Publish(loft.BootState{Phase: loft.PhaseUninitialized})
		}
	})
	defer unsubscribe()

	_, err := h.Service.Open(ctx, other)
	if !errors.Is(err, loft.ErrIllegalTransition) {
		t.Fatalf("Open() error = %v, want ErrIllegalTransition", err)
	}
	if got := h.Service.Pointer().Current(); got != localPath {
		t.Errorf("pointer = %q, want %q", got, localPath)
	}
	if got, _ := h.Store.Load(); got != localPath {
		t.Errorf("stored pointer = %q, want %q", got, localPath)
	}
}

func TestOpen_EmptyDatabaseKeepsPointer(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	const other = "/home/me/Other"
	setupWorkspace(t, h, localPath)
	setupWorkspace(t, h, other)
	if _, err := h.Service.Open(ctx, localPath); err != nil {
		t.Fatal(err)
	}
	writes := h.Store.Writes()
	h.Memory.PutDatabase(other, []byte{})

	_, err := h.Service.Open(ctx, other)
	requireKind(t, err, loft.KindInvalidDatabase, loft.ReasonCorrupt)

	if got := lastState(t, h); got.Phase != loft.PhaseMissing || got.Reason != loft.ReasonCorrupt {
		t.Errorf("last state = %+v, want MISSING/corrupt", got)
	}
	if got := h.Service.Pointer().Current(); got != localPath {
		t.Errorf("pointer = %q, want %q", got, localPath)
	}
	if got := h.Store.Writes(); got != writes {
		t.Errorf("pointer writes = %d, want %d", got, writes)
	}
	if got := h.Gateway.SaveCalls(); got != 0 {
		t.Errorf("SaveWorkspace calls = %d, want 0", got)
	}
}

package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/installd/internal/component"
	"github.com/dokzlo13/installd/internal/host"
	"github.com/dokzlo13/installd/internal/workload"
)

// fakeComponent counts calls and applies transitions instantly.
type fakeComponent struct {
	id    string
	trace *callTrace

	mu      sync.Mutex
	state   component.State
	busy    bool
	stale   bool
	adds    int
	removes int
}

type callTrace struct {
	mu    sync.Mutex
	calls []string
}

func (t *callTrace) add(s string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, s)
}

func newFake(id string, state component.State) *fakeComponent {
	return &fakeComponent{id: id, state: state}
}

func (f *fakeComponent) ID() string { return f.id }

func (f *fakeComponent) Add(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	f.trace.add(f.id + ":add")
	if !f.busy && f.state != component.StateInstalled {
		f.busy = true
		f.state = component.StateInProgress
	}
}

func (f *fakeComponent) Remove(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	f.trace.add(f.id + ":remove")
	if !f.busy && f.state == component.StateInstalled {
		f.state = component.StateUninstalled
	}
}

func (f *fakeComponent) Observe(ctx context.Context) component.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace.add(f.id + ":observe")
	return component.Status{ID: f.id, State: f.state}
}

func (f *fakeComponent) SetObserved(s component.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	f.busy = s == component.StateInProgress
}

func (f *fakeComponent) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeComponent) Details() component.Details {
	f.mu.Lock()
	defer f.mu.Unlock()
	return component.Details{ID: f.id, State: f.state, Busy: f.busy, Stale: f.stale}
}

func (f *fakeComponent) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds, f.removes
}

type fakeRecorder struct {
	mu     sync.Mutex
	issued []Decision
	stale  []string
}

func (r *fakeRecorder) ActionIssued(controller string, d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued = append(r.issued, d)
}

func (r *fakeRecorder) ComponentStale(controller, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = append(r.stale, controller+"/"+id)
}

func desired(pairs ...string) Snapshot {
	s := Snapshot{}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Components = append(s.Components, Entry{ID: pairs[i], State: pairs[i+1]})
	}
	return s
}

func TestDetermineAction(t *testing.T) {
	tests := []struct {
		name     string
		desired  component.DesiredState
		observed component.State
		busy     bool
		expected Action
	}{
		{"install from uninstalled", component.DesiredInstalled, component.StateUninstalled, false, ActionAdd},
		{"install from unknown", component.DesiredInstalled, component.StateUnknown, false, ActionAdd},
		{"already installed", component.DesiredInstalled, component.StateInstalled, false, ActionNone},
		{"remove installed", component.DesiredUninstalled, component.StateInstalled, false, ActionRemove},
		{"already uninstalled", component.DesiredUninstalled, component.StateUninstalled, false, ActionNone},
		{"remove unknown is a no-op", component.DesiredUninstalled, component.StateUnknown, false, ActionNone},
		{"in progress waits", component.DesiredInstalled, component.StateInProgress, false, ActionWait},
		{"busy waits", component.DesiredUninstalled, component.StateInstalled, true, ActionWait},
		{"desired unknown waits", component.DesiredUnknown, component.StateUninstalled, false, ActionWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineAction(tt.desired, tt.observed, tt.busy)
			if got != tt.expected {
				t.Errorf("DetermineAction() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "add", ActionAdd.String())
	assert.Equal(t, "skip", ActionSkip.String())
	assert.Equal(t, "unknown", Action(99).String())
}

func TestSnapshot_CanonicalIgnoresOrder(t *testing.T) {
	a := desired("rustup", "installed", "llvm", "uninstalled")
	b := desired("llvm", "uninstalled", "rustup", "installed")
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, `{"components":[{"id":"llvm","state":"uninstalled"},{"id":"rustup","state":"installed"}]}`, a.Canonical())

	c := a.With("llvm", "installed")
	assert.NotEqual(t, a.Canonical(), c.Canonical())
	e, ok := a.Lookup("llvm")
	require.True(t, ok)
	assert.Equal(t, "uninstalled", e.State, "With must not mutate the original")

	d := a.With("espflash", "installed")
	assert.Len(t, d.Components, 3)
}

func TestSnapshotDiff(t *testing.T) {
	observed := desired("rustup", "uninstalled", "llvm", "installed")
	want := desired("rustup", "installed", "llvm", "installed")

	diff := SnapshotDiff(observed, want)
	assert.Contains(t, diff, "  llvm=installed\n")
	assert.Contains(t, diff, "- rustup=uninstalled\n")
	assert.Contains(t, diff, "+ rustup=installed\n")
}

func TestDesiredSnapshot(t *testing.T) {
	s, err := DesiredSnapshot(workload.Workload{Name: "w", Components: []workload.Component{
		{ID: "rustup", DesiredState: "installed"},
		{ID: "llvm"},
	}})
	require.NoError(t, err)
	assert.Equal(t, desired("rustup", "installed", "llvm", "unknown"), s)

	_, err = DesiredSnapshot(workload.Workload{Name: "w", Components: []workload.Component{{ID: "x", DesiredState: "in_progress"}}})
	assert.ErrorIs(t, err, workload.ErrInvalidWorkload)
}

func TestPlan_SkipsComponentsWithoutDesired(t *testing.T) {
	a := newFake("a", component.StateUninstalled)
	b := newFake("b", component.StateInstalled)
	plan := Plan(desired("a", "installed"), desired("a", "uninstalled", "b", "installed"), []component.Installable{a, b})

	require.Len(t, plan, 2)
	assert.Equal(t, ActionAdd, plan[0].Action)
	assert.Equal(t, ActionSkip, plan[1].Action)
	assert.Equal(t, component.StateInstalled, plan[1].Observed)
}

func TestController_NoopOnEmptyDesired(t *testing.T) {
	a := newFake("a", component.StateUninstalled)
	b := newFake("b", component.StateInstalled)
	c := NewController("w", a, b)

	c.Observe(context.Background())
	assert.Empty(t, c.Reconcile(context.Background()))

	for _, f := range []*fakeComponent{a, b} {
		adds, removes := f.counts()
		assert.Zero(t, adds)
		assert.Zero(t, removes)
	}
}

func TestController_Idempotence(t *testing.T) {
	t.Run("converged", func(t *testing.T) {
		a := newFake("a", component.StateInstalled)
		c := NewController("w", a)
		c.SetDesired(desired("a", "installed"))
		c.Observe(context.Background())

		assert.Empty(t, c.Reconcile(context.Background()))
		assert.Empty(t, c.Reconcile(context.Background()))
		adds, removes := a.counts()
		assert.Zero(t, adds+removes)
	})

	t.Run("second call while busy", func(t *testing.T) {
		a := newFake("a", component.StateUninstalled)
		c := NewController("w", a)
		c.SetDesired(desired("a", "installed"))
		c.Observe(context.Background())

		require.Len(t, c.Reconcile(context.Background()), 1)
		assert.Empty(t, c.Reconcile(context.Background()))
		adds, _ := a.counts()
		assert.Equal(t, 1, adds)
	})
}

func TestController_SkipUnknown(t *testing.T) {
	a := newFake("a", component.StateUninstalled)
	untouched := newFake("untouched", component.StateInstalled)
	c := NewController("w", a, untouched)
	c.SetDesired(desired("a", "installed"))
	c.Observe(context.Background())

	issued := c.Reconcile(context.Background())
	require.Len(t, issued, 1)
	assert.Equal(t, "a", issued[0].ID)

	adds, removes := untouched.counts()
	assert.Zero(t, adds)
	assert.Zero(t, removes)
}

func TestController_RustupScenario(t *testing.T) {
	rustup := component.NewEmulatedWithState("rustup", 30*time.Millisecond, component.StateUninstalled)
	c := NewController("rust-xtensa", rustup)
	c.SetDesired(desired("rustup", "installed"))
	ctx := context.Background()

	c.Observe(ctx)
	issued := c.Reconcile(ctx)
	require.Len(t, issued, 1)
	assert.Equal(t, ActionAdd, issued[0].Action)
	assert.True(t, rustup.Busy())
	assert.Equal(t, component.StateInProgress, rustup.Details().State)

	require.Eventually(t, func() bool { return !rustup.Busy() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, component.StateInstalled, rustup.Details().State)

	c.Observe(ctx)
	assert.Equal(t, desired("rustup", "installed"), c.Observed())
	assert.Empty(t, c.Reconcile(ctx))
	assert.True(t, c.Status().Converged)
}

func TestController_CompensatingRemove(t *testing.T) {
	llvm := component.NewEmulatedWithState("llvm", 20*time.Millisecond, component.StateUninstalled)
	c := NewController("w", llvm)
	ctx := context.Background()

	c.SetDesired(desired("llvm", "installed"))
	c.Observe(ctx)
	require.Len(t, c.Reconcile(ctx), 1)

	// Desired flips back before the install completes; the completion is
	// not cancelled, so the install finishes first.
	c.SetDesired(desired("llvm", "uninstalled"))
	c.Observe(ctx)
	assert.Empty(t, c.Reconcile(ctx))

	require.Eventually(t, func() bool { return !llvm.Busy() }, time.Second, 5*time.Millisecond)
	c.Observe(ctx)
	issued := c.Reconcile(ctx)
	require.Len(t, issued, 1)
	assert.Equal(t, ActionRemove, issued[0].Action)
	assert.Equal(t, component.StateUninstalled, llvm.Details().State)
}

func TestController_SetObserved(t *testing.T) {
	a := newFake("a", component.StateUnknown)
	c := NewController("w", a)

	assert.False(t, c.SetObserved("nope", component.StateInstalled))
	assert.True(t, c.SetObserved("a", component.StateInProgress))
	assert.True(t, a.Busy())

	e, ok := c.Observed().Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "in_progress", e.State)
}

func TestController_ApplyUpdateDropsStaleAnswers(t *testing.T) {
	var mu sync.Mutex
	var transitions []host.Command
	exec := host.ExecutorFunc(func(ctx context.Context, cmd host.Command) error {
		if cmd.Cmd == host.CmdSetComponentDesiredState {
			mu.Lock()
			transitions = append(transitions, cmd)
			mu.Unlock()
		}
		return nil
	})

	rustup := component.NewHosted("rustup", exec, time.Minute)
	c := NewController("w", rustup)
	c.SetDesired(desired("rustup", "installed"))
	require.True(t, c.ApplyUpdate("rustup", component.StateUninstalled, ""))

	c.Observe(context.Background())
	issued := c.Reconcile(context.Background())
	require.Len(t, issued, 1)
	require.Len(t, transitions, 1)

	assert.False(t, c.ApplyUpdate("rustup", component.StateUninstalled, "older-query"))
	assert.True(t, rustup.Busy())

	c.Observe(context.Background())
	assert.Empty(t, c.Reconcile(context.Background()), "no second install while the first is pending")

	assert.True(t, c.ApplyUpdate("rustup", component.StateInstalled, transitions[0].RequestID))
	e, _ := c.Observed().Lookup("rustup")
	assert.Equal(t, "installed", e.State)
	assert.False(t, c.ApplyUpdate("nope", component.StateInstalled, ""))
}

func TestController_DuplicateComponent(t *testing.T) {
	c := NewController("w", newFake("a", component.StateUnknown), newFake("a", component.StateInstalled))
	assert.Len(t, c.Components(), 1)
	assert.ErrorIs(t, c.AddComponent(newFake("a", component.StateUnknown)), ErrDuplicateComponent)
	assert.NoError(t, c.AddComponent(newFake("b", component.StateUnknown)))
	assert.True(t, c.Has("b"))
}

func TestController_RecordsActionsAndStaleness(t *testing.T) {
	a := newFake("a", component.StateUninstalled)
	s := newFake("s", component.StateUnknown)
	s.stale = true
	rec := &fakeRecorder{}
	c := NewController("w", a, s)
	c.SetRecorder(rec)
	c.SetDesired(desired("a", "installed"))

	c.Observe(context.Background())
	c.Reconcile(context.Background())
	c.Observe(context.Background())

	require.Len(t, rec.issued, 1)
	assert.Equal(t, ActionAdd, rec.issued[0].Action)
	assert.Equal(t, []string{"w/s"}, rec.stale, "staleness is reported once until the component answers")

	c.SetObserved("s", component.StateInstalled)
	c.Observe(context.Background())
	assert.Equal(t, []string{"w/s", "w/s"}, rec.stale)
}

func TestController_Status(t *testing.T) {
	a := newFake("a", component.StateUninstalled)
	c := NewController("w", a)
	c.SetDesired(desired("a", "installed"))
	c.Observe(context.Background())

	st := c.Status()
	assert.Equal(t, "w", st.Name)
	assert.False(t, st.Converged)
	require.Len(t, st.Components, 1)
	assert.Equal(t, component.StateUninstalled, st.Components[0].State)
}

func TestManager_ReconcileAllInRegistrationOrder(t *testing.T) {
	trace := &callTrace{}
	a := newFake("a", component.StateUninstalled)
	a.trace = trace
	b := newFake("b", component.StateUninstalled)
	b.trace = trace

	first := NewController("first", a)
	first.SetDesired(desired("a", "installed"))
	second := NewController("second", b)
	second.SetDesired(desired("b", "installed"))

	m := NewManager(time.Hour)
	m.AddController(first)
	m.AddController(second)

	require.True(t, m.ReconcileAll(context.Background()))
	assert.Equal(t, []string{"a:observe", "a:add", "b:observe", "b:add"}, trace.calls)
	assert.Equal(t, int64(1), m.Passes())
	assert.False(t, m.LastPass().IsZero())

	got, ok := m.Controller("second")
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = m.Controller("third")
	assert.False(t, ok)
}

func TestManager_SkipsOverlappingPass(t *testing.T) {
	m := NewManager(time.Hour)
	m.inFlight.Store(true)
	assert.False(t, m.ReconcileAll(context.Background()))
	assert.Zero(t, m.Passes())

	m.inFlight.Store(false)
	assert.True(t, m.ReconcileAll(context.Background()))
}

func TestManager_RunHonoursTriggerAndCancel(t *testing.T) {
	m := NewManager(time.Hour)
	a := newFake("a", component.StateUninstalled)
	c := NewController("w", a)
	c.SetDesired(desired("a", "installed"))
	m.AddController(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.Trigger()
	m.Trigger()
	require.Eventually(t, func() bool { return m.Passes() >= 1 }, time.Second, 5*time.Millisecond)
	adds, _ := a.counts()
	assert.Equal(t, 1, adds)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestManager_TicksOnPeriod(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return m.Passes() >= 3 }, time.Second, 5*time.Millisecond)
}

package inventory_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sjteam/spoolscan/internal/api"
	"github.com/sjteam/spoolscan/internal/inventory"
	"github.com/sjteam/spoolscan/internal/models"
	"github.com/sjteam/spoolscan/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeBackend struct {
	mu         sync.Mutex
	deleteErr  error
	usageErr   error
	projects   []models.Project
	deletes    []int64
	usages     []models.UsageCreate
	created    []models.ProjectCreate
	spools     []models.Spool
	listCalls  int
	listErr    error
	deleteGate chan struct{}
}

func (f *fakeBackend) DeleteSpool(_ context.Context, id int64) error {
	if f.deleteGate != nil {
		<-f.deleteGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func (f *fakeBackend) CreateUsage(_ context.Context, u models.UsageCreate) (*models.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usages = append(f.usages, u)
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	return &models.Usage{ID: int64(len(f.usages)), SpoolID: u.SpoolID, AmountUsed: u.AmountUsed}, nil
}

func (f *fakeBackend) ListProjects(context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Project(nil), f.projects...), nil
}

func (f *fakeBackend) CreateProject(_ context.Context, p models.ProjectCreate) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	created := models.Project{ID: int64(100 + len(f.created)), Name: p.Name, GroupID: p.GroupID}
	f.projects = append(f.projects, created)
	return &created, nil
}

func (f *fakeBackend) ListSpools(context.Context) ([]models.Spool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Spool(nil), f.spools...), nil
}

func (f *fakeBackend) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deletes) + len(f.usages) + len(f.created)
}

func groupID(v int64) *int64 { return &v }

func shownView(t *testing.T) *inventory.View {
	t.Helper()
	v := inventory.NewView()
	id := int64(42)
	v.Present(resolve.ResolvedSpool{
		Raw:     "SPOOL:42",
		SpoolID: &id,
		Spool:   &models.Spool{ID: 42, Color: "orange", WeightTotal: 1000, WeightRemaining: 150, GroupID: groupID(7)},
	})
	return v
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "12.5", want: 12.5},
		{in: " 3 ", want: 3},
		{in: "1e2", want: 100},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "Inf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := inventory.ValidateAmount(tt.in)
			if tt.wantErr {
				if !errors.Is(err, inventory.ErrValidation) {
					t.Errorf("Expected validation error for %q, got %v", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Expected %v, got %v (err %v)", tt.want, got, err)
			}
		})
	}
}

func TestRecordUsageValidationGate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		amount := rapid.OneOf(
			rapid.SampledFrom([]string{"0", "-5", "abc", "", " ", "-0", "NaN", "+Inf"}),
			rapid.Map(rapid.Float64Range(-1e6, 0), func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }),
			rapid.StringMatching(`[a-zA-Z ,]{0,8}`),
		).Draw(rt, "amount")

		backend := &fakeBackend{}
		bus := inventory.NewBus()
		signals, unsubscribe := bus.Subscribe()
		defer unsubscribe()
		bridge := inventory.NewBridge(backend, bus, nil)

		v := shownView(t)
		if err := v.OpenUsage(); err != nil {
			rt.Fatalf("open usage: %v", err)
		}
		form := inventory.UsageForm{Amount: amount, Purpose: "prints", Project: "drone"}
		v.SetForm(form)

		err := bridge.RecordUsage(context.Background(), v)
		if !errors.Is(err, inventory.ErrValidation) {
			rt.Fatalf("amount %q: expected validation error, got %v", amount, err)
		}
		if n := backend.networkCalls(); n != 0 {
			rt.Fatalf("amount %q: %d backend calls made", amount, n)
		}
		snap := v.Snapshot()
		if snap.State != inventory.ViewUsage || snap.Form != form || snap.UsageError != inventory.MsgInvalidAmount {
			rt.Fatalf("amount %q: unexpected view %+v", amount, snap)
		}
		select {
		case <-signals:
			rt.Fatalf("amount %q: change published for rejected usage", amount)
		default:
		}
	})
}

func TestRecordUsage(t *testing.T) {
	backend := &fakeBackend{}
	bus := inventory.NewBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	bridge := inventory.NewBridge(backend, bus, nil)

	v := shownView(t)
	require.NoError(t, v.OpenUsage())
	v.SetForm(inventory.UsageForm{Amount: "20", Purpose: " benchy "})
	require.NoError(t, bridge.RecordUsage(context.Background(), v))

	require.Len(t, backend.usages, 1)
	assert.Equal(t, models.UsageCreate{SpoolID: 42, AmountUsed: 20, Purpose: "benchy"}, backend.usages[0])

	snap := v.Snapshot()
	assert.Equal(t, inventory.ViewShowing, snap.State)
	assert.Equal(t, inventory.UsageForm{}, snap.Form)
	assert.Equal(t, 130.0, snap.Spool.WeightRemaining)
	select {
	case <-signals:
	default:
		t.Error("Expected inventory changed signal")
	}
}

func TestRecordUsageFailureKeepsForm(t *testing.T) {
	backend := &fakeBackend{usageErr: &api.Error{StatusCode: 400, Detail: "Недостаточно пластика на катушке"}}
	bus := inventory.NewBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	bridge := inventory.NewBridge(backend, bus, nil)

	v := shownView(t)
	require.NoError(t, v.OpenUsage())
	form := inventory.UsageForm{Amount: "500", Purpose: "helmet", Project: "3"}
	v.SetForm(form)

	err := bridge.RecordUsage(context.Background(), v)
	require.Error(t, err)
	snap := v.Snapshot()
	assert.Equal(t, inventory.ViewUsage, snap.State)
	assert.Equal(t, form, snap.Form)
	assert.Equal(t, "Недостаточно пластика на катушке", snap.UsageError)
	assert.Equal(t, 150.0, snap.Spool.WeightRemaining)
	assert.Empty(t, signals)
}

func TestRecordUsageProjectField(t *testing.T) {
	tests := []struct {
		name        string
		field       string
		projects    []models.Project
		wantProject *int64
		wantCreated int
	}{
		{name: "empty", field: "", wantProject: nil},
		{name: "numeric id", field: "12", wantProject: groupID(12)},
		{
			name:        "existing name",
			field:       "Drone",
			projects:    []models.Project{{ID: 5, Name: "drone", GroupID: groupID(1)}, {ID: 6, Name: "drone", GroupID: groupID(7)}},
			wantProject: groupID(6),
		},
		{name: "new name", field: "rover", wantProject: groupID(101), wantCreated: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{projects: tt.projects}
			bridge := inventory.NewBridge(backend, inventory.NewBus(), nil)
			v := shownView(t)
			require.NoError(t, v.OpenUsage())
			v.SetForm(inventory.UsageForm{Amount: "1", Project: tt.field})

			require.NoError(t, bridge.RecordUsage(context.Background(), v))
			require.Len(t, backend.usages, 1)
			assert.Equal(t, tt.wantProject, backend.usages[0].ProjectID)
			require.Len(t, backend.created, tt.wantCreated)
			if tt.wantCreated > 0 {
				assert.Equal(t, groupID(7), backend.created[0].GroupID)
			}
		})
	}
}

func TestDeleteSpool(t *testing.T) {
	backend := &fakeBackend{}
	bus := inventory.NewBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	bridge := inventory.NewBridge(backend, bus, nil)

	v := shownView(t)
	require.NoError(t, v.RequestDelete())
	assert.Equal(t, inventory.ViewConfirmDelete, v.Snapshot().State)
	v.CancelDelete()
	assert.Equal(t, inventory.ViewShowing, v.Snapshot().State)

	require.NoError(t, v.RequestDelete())
	require.NoError(t, bridge.DeleteSpool(context.Background(), v))
	assert.Equal(t, []int64{42}, backend.deletes)
	assert.Equal(t, inventory.ViewClosed, v.Snapshot().State)
	select {
	case <-signals:
	default:
		t.Error("Expected inventory changed signal")
	}
}

func TestDeleteSpoolFailureStaysOpen(t *testing.T) {
	backend := &fakeBackend{deleteErr: &api.Error{StatusCode: 403, Detail: "forbidden"}}
	bus := inventory.NewBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	bridge := inventory.NewBridge(backend, bus, nil)

	v := shownView(t)
	require.NoError(t, v.RequestDelete())
	require.Error(t, bridge.DeleteSpool(context.Background(), v))

	snap := v.Snapshot()
	assert.Equal(t, inventory.ViewShowing, snap.State)
	assert.Equal(t, "forbidden", snap.Error)
	require.NotNil(t, snap.Spool)
	assert.Empty(t, signals)
}

func TestDeleteResultAfterCloseIsDiscarded(t *testing.T) {
	backend := &fakeBackend{deleteGate: make(chan struct{}), deleteErr: errors.New("late failure")}
	bridge := inventory.NewBridge(backend, inventory.NewBus(), nil)
	v := shownView(t)
	require.NoError(t, v.RequestDelete())

	done := make(chan error, 1)
	go func() { done <- bridge.DeleteSpool(context.Background(), v) }()
	require.Eventually(t, func() bool { return v.Snapshot().State == inventory.ViewDeleting }, time.Second, time.Millisecond)

	v.Close()
	close(backend.deleteGate)
	<-done

	snap := v.Snapshot()
	assert.Equal(t, inventory.ViewClosed, snap.State)
	assert.Empty(t, snap.Error)
}

func TestDeleteSpoolNeedsConfirmation(t *testing.T) {
	backend := &fakeBackend{}
	bus := inventory.NewBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	bridge := inventory.NewBridge(backend, bus, nil)

	v := shownView(t)
	require.Error(t, bridge.DeleteSpool(context.Background(), v))
	assert.Empty(t, backend.deletes)
	assert.Equal(t, inventory.ViewShowing, v.Snapshot().State)

	require.NoError(t, v.RequestDelete())
	v.CancelDelete()
	require.Error(t, bridge.DeleteSpool(context.Background(), v))
	assert.Empty(t, backend.deletes)
	assert.Empty(t, signals)
}

func TestZeroBusIsUsable(t *testing.T) {
	var bus inventory.Bus
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish()
	select {
	case <-signals:
	default:
		t.Error("Expected inventory changed signal")
	}
}

func TestActionsNeedASpool(t *testing.T) {
	v := inventory.NewView()
	v.Present(resolve.ResolvedSpool{Raw: "junk", Err: resolve.ErrInvalidCode, Error: "invalid code"})

	assert.Error(t, v.RequestDelete())
	assert.Error(t, v.OpenUsage())
	snap := v.Snapshot()
	assert.Equal(t, inventory.ViewShowing, snap.State)
	assert.Equal(t, "invalid code", snap.Error)
	assert.Nil(t, snap.Spool)

	bridge := inventory.NewBridge(&fakeBackend{}, nil, nil)
	assert.Error(t, bridge.DeleteSpool(context.Background(), v))
}

func TestBusCoalescesSignals(t *testing.T) {
	bus := inventory.NewBus()
	a, unsubA := bus.Subscribe()
	b, unsubB := bus.Subscribe()

	bus.Publish()
	bus.Publish()
	bus.Publish()
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)

	unsubA()
	unsubA()
	_, open := <-a
	_, open2 := <-a
	assert.True(t, open, "pending signal is still delivered")
	assert.False(t, open2)

	bus.Publish()
	unsubB()
}

func TestListViewRefetchesOnChange(t *testing.T) {
	backend := &fakeBackend{spools: []models.Spool{{ID: 1}}}
	bus := inventory.NewBus()
	lv := inventory.NewListView(backend)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lv.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(lv.Snapshot().Spools) == 1 }, time.Second, time.Millisecond)

	backend.mu.Lock()
	backend.spools = append(backend.spools, models.Spool{ID: 2})
	backend.mu.Unlock()
	bus.Publish()
	require.Eventually(t, func() bool { return len(lv.Snapshot().Spools) == 2 }, time.Second, time.Millisecond)

	backend.mu.Lock()
	backend.listErr = errors.New("backend down")
	backend.mu.Unlock()
	bus.Publish()
	require.Eventually(t, func() bool { return lv.Snapshot().Error != "" }, time.Second, time.Millisecond)
	assert.Len(t, lv.Snapshot().Spools, 2, "last good list is kept on error")

	cancel()
	<-done
}

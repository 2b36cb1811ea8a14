package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mesa/internal/config"
	"mesa/internal/modules/order"
	"mesa/internal/modules/partner"
	"mesa/internal/types"
)

// memBinder holds a single order row with the same conditional-update
// semantics as the order store.
type memBinder struct {
	mu        sync.Mutex
	id        types.ID
	status    order.Status
	version   int
	partnerID *types.ID
}

var _ OrderBinder = (*memBinder)(nil)

func acceptedOrder(id types.ID) *memBinder {
	return &memBinder{id: id, status: order.StatusAccepted}
}

func (m *memBinder) UpdateStatus(_ context.Context, id types.ID, from, to order.Status, version int, partnerID *types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.id || m.status != from || m.version != version {
		return false, nil
	}
	m.status = to
	m.version++
	if partnerID != nil {
		p := *partnerID
		m.partnerID = &p
	}
	return true, nil
}

func (m *memBinder) UnbindPartner(_ context.Context, id types.ID, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.id || m.status != order.StatusAssigned || m.version != version {
		return false, nil
	}
	m.status = order.StatusAccepted
	m.version++
	m.partnerID = nil
	return true, nil
}

func (m *memBinder) snapshot() (order.Status, int, *types.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.version, m.partnerID
}

func (m *memBinder) asOrder() *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &order.Order{ID: m.id, Status: m.status, StatusVersion: m.version}
}

type fakeDirectory struct {
	mu        sync.Mutex
	list      []*partner.Partner
	nearby    []types.ID
	nearbyErr error
	// denyClaim simulates a claim lost to a concurrent assignment: the
	// directory row still read as available, but the flip fails.
	denyClaim map[types.ID]bool
}

var _ partner.Directory = (*fakeDirectory)(nil)

func activePartner(id types.ID, loc *types.Point) *partner.Partner {
	return &partner.Partner{ID: id, Name: string(id), Status: partner.StatusActive, Available: true, Location: loc}
}

func (f *fakeDirectory) Get(_ context.Context, id types.ID) (*partner.Partner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.list {
		if p.ID == id {
			c := *p
			return &c, nil
		}
	}
	return nil, partner.ErrNotFound
}

func (f *fakeDirectory) ListEligible(_ context.Context) ([]partner.Partner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []partner.Partner
	for _, p := range f.list {
		if p.Eligible() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeDirectory) Claim(_ context.Context, id types.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyClaim[id] {
		return false, nil
	}
	for _, p := range f.list {
		if p.ID == id {
			if !p.Eligible() {
				return false, nil
			}
			p.Available = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDirectory) Release(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.list {
		if p.ID == id {
			p.Available = true
		}
	}
	return nil
}

func (f *fakeDirectory) UpdateLocation(_ context.Context, _ types.ID, _ types.Point, _ time.Time) error {
	return nil
}

func (f *fakeDirectory) Nearby(_ context.Context, _ types.Point, _ float64) ([]types.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nearby, f.nearbyErr
}

func (f *fakeDirectory) UpdateStats(_ context.Context, _ types.ID, _ partner.Stats) error {
	return nil
}

func newService(orders OrderBinder, partners partner.Directory) *Service {
	return NewService(orders, partners, config.AssignmentConfig{RadiusKm: 10})
}

func TestBindHappyPath(t *testing.T) {
	ctx := context.Background()
	row := acceptedOrder("o1")
	dir := &fakeDirectory{list: []*partner.Partner{activePartner("p1", nil)}}
	svc := newService(row, dir)

	require.NoError(t, svc.Bind(ctx, row.asOrder(), "p1"))

	status, version, bound := row.snapshot()
	assert.Equal(t, order.StatusAssigned, status)
	assert.Equal(t, 1, version)
	require.NotNil(t, bound)
	assert.Equal(t, types.ID("p1"), *bound)

	p, err := dir.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p.Available)
}

func TestBindRejectsUnknownOrIneligiblePartner(t *testing.T) {
	ctx := context.Background()
	suspended := activePartner("p2", nil)
	suspended.Status = partner.StatusSuspended
	busy := activePartner("p3", nil)
	busy.Available = false
	dir := &fakeDirectory{list: []*partner.Partner{suspended, busy}}

	for _, id := range []types.ID{"missing", "p2", "p3"} {
		row := acceptedOrder("o1")
		svc := newService(row, dir)
		err := svc.Bind(ctx, row.asOrder(), id)
		assert.ErrorIs(t, err, order.ErrPartnerUnavailable, "partner %s", id)

		status, version, bound := row.snapshot()
		assert.Equal(t, order.StatusAccepted, status)
		assert.Equal(t, 0, version)
		assert.Nil(t, bound)
	}
}

func TestBindCompensatesFailedClaim(t *testing.T) {
	ctx := context.Background()
	row := acceptedOrder("o1")
	dir := &fakeDirectory{
		list:      []*partner.Partner{activePartner("p1", nil)},
		denyClaim: map[types.ID]bool{"p1": true},
	}
	svc := newService(row, dir)

	err := svc.Bind(ctx, row.asOrder(), "p1")
	assert.ErrorIs(t, err, order.ErrPartnerUnavailable)

	// The half-applied order move is rolled back: accepted again, no partner,
	// version bumped by the forward and the compensating write.
	status, version, bound := row.snapshot()
	assert.Equal(t, order.StatusAccepted, status)
	assert.Equal(t, 2, version)
	assert.Nil(t, bound)
}

func TestBindConcurrentOneWinner(t *testing.T) {
	ctx := context.Background()
	row := acceptedOrder("o1")
	dir := &fakeDirectory{list: []*partner.Partner{activePartner("p1", nil), activePartner("p2", nil)}}
	svc := newService(row, dir)

	snapshot := row.asOrder()
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []types.ID{"p1", "p2"} {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			errs <- svc.Bind(ctx, snapshot, id)
		}(id)
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, order.ErrInvalidTransition):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	status, _, bound := row.snapshot()
	assert.Equal(t, order.StatusAssigned, status)
	require.NotNil(t, bound)

	// The loser's partner was never claimed.
	claimed, free := *bound, types.ID("p1")
	if claimed == "p1" {
		free = "p2"
	}
	p, err := dir.Get(ctx, free)
	require.NoError(t, err)
	assert.True(t, p.Available)
	p, err = dir.Get(ctx, claimed)
	require.NoError(t, err)
	assert.False(t, p.Available)
}

func TestFindEligibleWithoutOrigin(t *testing.T) {
	dir := &fakeDirectory{list: []*partner.Partner{
		activePartner("p1", nil),
		activePartner("p2", nil),
	}}
	svc := newService(acceptedOrder("o1"), dir)

	out, err := svc.FindEligible(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, types.ID("p1"), out[0].Partner.ID)
	assert.Equal(t, types.ID("p2"), out[1].Partner.ID)
	assert.Nil(t, out[0].DistanceKm)
}

func TestFindEligibleOrdersByDistance(t *testing.T) {
	origin := &types.Point{Lat: 12.9716, Lng: 77.5946}
	far := activePartner("far", &types.Point{Lat: 13.30, Lng: 77.90})
	near := activePartner("near", &types.Point{Lat: 12.98, Lng: 77.60})
	unknown := activePartner("unknown", nil)
	dir := &fakeDirectory{
		list:   []*partner.Partner{far, unknown, near},
		nearby: []types.ID{"near", "far", "unknown"},
	}
	svc := newService(acceptedOrder("o1"), dir)

	out, err := svc.FindEligible(context.Background(), origin)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, types.ID("near"), out[0].Partner.ID)
	assert.Equal(t, types.ID("far"), out[1].Partner.ID)
	assert.Equal(t, types.ID("unknown"), out[2].Partner.ID, "unknown positions sort last")
	require.NotNil(t, out[0].DistanceKm)
	require.NotNil(t, out[1].DistanceKm)
	assert.Less(t, *out[0].DistanceKm, *out[1].DistanceKm)
}

func TestFindEligibleGeoNarrowsSet(t *testing.T) {
	origin := &types.Point{Lat: 12.9716, Lng: 77.5946}
	inRange := activePartner("in", &types.Point{Lat: 12.98, Lng: 77.60})
	outOfRange := activePartner("out", &types.Point{Lat: 28.61, Lng: 77.21})
	dir := &fakeDirectory{
		list:   []*partner.Partner{inRange, outOfRange},
		nearby: []types.ID{"in"},
	}
	svc := newService(acceptedOrder("o1"), dir)

	out, err := svc.FindEligible(context.Background(), origin)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.ID("in"), out[0].Partner.ID)
}

func TestFindEligibleFallsBackWhenGeoFails(t *testing.T) {
	origin := &types.Point{Lat: 12.9716, Lng: 77.5946}
	dir := &fakeDirectory{
		list: []*partner.Partner{
			activePartner("far", &types.Point{Lat: 13.30, Lng: 77.90}),
			activePartner("near", &types.Point{Lat: 12.98, Lng: 77.60}),
		},
		nearbyErr: errors.New("redis down"),
	}
	svc := newService(acceptedOrder("o1"), dir)

	// The GEO index failing must not hide eligible partners.
	out, err := svc.FindEligible(context.Background(), origin)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, types.ID("near"), out[0].Partner.ID)
}

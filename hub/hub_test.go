package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-restaurant-orderhub/models"
	"go-restaurant-orderhub/store"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	writeErr error
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if messageType == websocket.TextMessage {
		f.frames = append(f.frames, data)
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type decoded struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// drain returns every frame queued on c without running the write pump.
func drain(t *testing.T, c *Client) []decoded {
	t.Helper()
	var out []decoded
	for {
		select {
		case frame := <-c.send:
			var d decoded
			require.NoError(t, json.Unmarshal(frame, &d))
			out = append(out, d)
		default:
			return out
		}
	}
}

func activeOrders(t *testing.T, d decoded) models.ActiveOrdersPayload {
	t.Helper()
	require.Equal(t, models.EventActiveOrdersSnapshot, d.Event)
	var p models.ActiveOrdersPayload
	require.NoError(t, json.Unmarshal(d.Payload, &p))
	return p
}

func orderState(t *testing.T, d decoded) models.OrderStatePayload {
	t.Helper()
	require.Equal(t, models.EventOrderState, d.Event)
	var p models.OrderStatePayload
	require.NoError(t, json.Unmarshal(d.Payload, &p))
	return p
}

func newOrder(id, branch string, at time.Time) models.Order {
	return models.Order{
		ID:         id,
		Branch:     branch,
		Status:     models.StatusPending,
		Customer:   models.Customer{Name: "Sara", Phone: "0500000000"},
		LineItems:  []models.LineItem{{Name: "Tea", Quantity: 1, UnitPrice: decimal.NewFromInt(3)}},
		TotalPrice: decimal.NewFromInt(3),
		CreatedAt:  at,
	}
}

type fixture struct {
	store    *store.MemoryStore
	registry *Registry
	disp     *Dispatcher
}

func newFixture() *fixture {
	st := store.NewMemoryStore()
	reg := NewRegistry()
	return &fixture{store: st, registry: reg, disp: NewDispatcher(st, reg, nil)}
}

func (f *fixture) connect(id string, admin bool, queue int) (*Client, *fakeConn) {
	conn := &fakeConn{}
	c := NewClient(id, admin, conn, queue, time.Second)
	f.registry.Register(c)
	return c, conn
}

func TestAttachBranchSendsCurrentActiveOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_, err := f.store.Insert(ctx, newOrder(id, "okaz", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := f.store.Insert(ctx, newOrder("x", "corniche", base))
	require.NoError(t, err)

	c, _ := f.connect("kitchen", true, 8)
	require.NoError(t, f.disp.Attach(ctx, c, BranchScope("okaz")))

	frames := drain(t, c)
	require.Len(t, frames, 1)
	p := activeOrders(t, frames[0])
	assert.Equal(t, "okaz", p.Branch)
	require.Len(t, p.Orders, 3)
	assert.Equal(t, "c", p.Orders[0].ID)
	assert.Equal(t, "a", p.Orders[2].ID)
}

func TestAttachUnknownOrderLeavesScopeUnset(t *testing.T) {
	f := newFixture()
	c, _ := f.connect("guest", false, 8)

	err := f.disp.Attach(context.Background(), c, OrderScope("missing"))
	assert.True(t, errors.Is(err, models.ErrOrderNotFound))
	_, ok := c.Scope()
	assert.False(t, ok)
	assert.Empty(t, drain(t, c))
}

func TestOrderChangedReachesOnlyMatchingScopes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now()
	_, err := f.store.Insert(ctx, newOrder("a", "okaz", now))
	require.NoError(t, err)
	_, err = f.store.Insert(ctx, newOrder("b", "okaz", now))
	require.NoError(t, err)

	okaz, _ := f.connect("okaz-screen", true, 8)
	other, _ := f.connect("corniche-screen", true, 8)
	watcherA, _ := f.connect("guest-a", false, 8)
	watcherB, _ := f.connect("guest-b", false, 8)
	idle, _ := f.connect("idle", false, 8)
	require.NoError(t, f.disp.Attach(ctx, okaz, BranchScope("okaz")))
	require.NoError(t, f.disp.Attach(ctx, other, BranchScope("corniche")))
	require.NoError(t, f.disp.Attach(ctx, watcherA, OrderScope("a")))
	require.NoError(t, f.disp.Attach(ctx, watcherB, OrderScope("b")))
	for _, c := range []*Client{okaz, other, watcherA, watcherB} {
		drain(t, c)
	}

	_, err = f.store.ApplyTransition(ctx, "a", models.TransitionStartPreparing)
	require.NoError(t, err)
	f.disp.OrderChanged(ctx, "okaz", "a")

	frames := drain(t, okaz)
	require.Len(t, frames, 1)
	assert.Len(t, activeOrders(t, frames[0]).Orders, 2)

	frames = drain(t, watcherA)
	require.Len(t, frames, 1)
	st := orderState(t, frames[0])
	assert.Equal(t, models.StatusPreparing, st.Order.Status)
	assert.False(t, st.Archived)

	assert.Empty(t, drain(t, other))
	assert.Empty(t, drain(t, watcherB))
	assert.Empty(t, drain(t, idle))
}

func TestArchivedOrderLeavesSnapshotAndFlagsWatcher(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.store.Insert(ctx, newOrder("a", "okaz", time.Now()))
	require.NoError(t, err)
	for _, tr := range []models.Transition{models.TransitionStartPreparing, models.TransitionMarkReady} {
		_, err = f.store.ApplyTransition(ctx, "a", tr)
		require.NoError(t, err)
	}

	screen, _ := f.connect("screen", true, 8)
	guest, _ := f.connect("guest", false, 8)
	require.NoError(t, f.disp.Attach(ctx, screen, BranchScope("okaz")))
	require.NoError(t, f.disp.Attach(ctx, guest, OrderScope("a")))
	require.Len(t, activeOrders(t, drain(t, screen)[0]).Orders, 1)
	assert.Equal(t, models.StatusReady, orderState(t, drain(t, guest)[0]).Order.Status)

	_, err = f.store.ApplyTransition(ctx, "a", models.TransitionArchive)
	require.NoError(t, err)
	f.disp.OrderChanged(ctx, "okaz", "a")

	frames := drain(t, screen)
	require.Len(t, frames, 1)
	assert.Empty(t, activeOrders(t, frames[0]).Orders)

	frames = drain(t, guest)
	require.Len(t, frames, 1)
	st := orderState(t, frames[0])
	assert.True(t, st.Archived)
	assert.Equal(t, models.StatusCompleted, st.Order.Status)
}

func TestDiscardedOrderNotifiesWatcher(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.store.Insert(ctx, newOrder("a", "okaz", time.Now()))
	require.NoError(t, err)
	guest, _ := f.connect("guest", false, 8)
	require.NoError(t, f.disp.Attach(ctx, guest, OrderScope("a")))
	drain(t, guest)

	_, err = f.store.Discard(ctx, "a")
	require.NoError(t, err)
	f.disp.OrderChanged(ctx, "okaz", "a")

	frames := drain(t, guest)
	require.Len(t, frames, 1)
	assert.Equal(t, models.EventOrderDiscardedNotice, frames[0].Event)
	var ref models.OrderRef
	require.NoError(t, json.Unmarshal(frames[0].Payload, &ref))
	assert.Equal(t, "a", ref.OrderID)
}

func TestFullQueueClosesOnlyTheSlowClient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slow, slowConn := f.connect("slow", true, 1)
	fast, fastConn := f.connect("fast", true, 8)
	require.NoError(t, f.disp.Attach(ctx, slow, BranchScope("okaz")))
	require.NoError(t, f.disp.Attach(ctx, fast, BranchScope("okaz")))

	// slow's single slot is taken by its snapshot.
	f.disp.OrderChanged(ctx, "okaz", "")

	assert.True(t, slowConn.isClosed())
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client should be closed")
	}
	assert.False(t, fastConn.isClosed())
	assert.Len(t, drain(t, fast), 2)
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	c := NewClient("c", false, &fakeConn{}, 4, time.Second)
	c.Close()
	c.Close()
	assert.False(t, c.enqueue([]byte("{}")))
}

func TestWritePumpWritesInOrder(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("c", false, conn, 4, time.Second)
	require.True(t, c.enqueue([]byte(`{"n":1}`)))
	require.True(t, c.enqueue([]byte(`{"n":2}`)))

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()
	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.frames) == 2
	}, time.Second, 5*time.Millisecond)
	c.Close()
	<-done

	assert.Equal(t, `{"n":1}`, string(conn.frames[0]))
	assert.Equal(t, `{"n":2}`, string(conn.frames[1]))
}

func TestWritePumpClosesOnWriteError(t *testing.T) {
	conn := &fakeConn{writeErr: errors.New("broken pipe")}
	c := NewClient("c", false, conn, 4, time.Second)
	require.True(t, c.enqueue([]byte(`{}`)))

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not exit")
	}
	assert.True(t, conn.isClosed())
}

func TestResyncRebroadcastsSubscriptions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.store.Insert(ctx, newOrder("a", "okaz", time.Now()))
	require.NoError(t, err)
	screen, _ := f.connect("screen", true, 8)
	guest, _ := f.connect("guest", false, 8)
	require.NoError(t, f.disp.Attach(ctx, screen, BranchScope("okaz")))
	require.NoError(t, f.disp.Attach(ctx, guest, OrderScope("a")))
	drain(t, screen)
	drain(t, guest)

	f.disp.Resync(ctx)

	assert.Len(t, drain(t, screen), 1)
	assert.Len(t, drain(t, guest), 1)
}

func TestConcurrentBroadcastsKeepEachClientMonotonic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	const orders = 20
	screen, _ := f.connect("screen", true, 4*orders)
	require.NoError(t, f.disp.Attach(ctx, screen, BranchScope("okaz")))
	drain(t, screen)

	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := f.store.Insert(ctx, newOrder(string(rune('a'+i)), "okaz", time.Now()))
			if err == nil {
				f.disp.OrderChanged(ctx, "okaz", o.ID)
			}
		}(i)
	}
	wg.Wait()

	frames := drain(t, screen)
	require.Len(t, frames, orders)
	prev := 0
	for _, fr := range frames {
		n := len(activeOrders(t, fr).Orders)
		assert.GreaterOrEqual(t, n, prev)
		prev = n
	}
	assert.Equal(t, orders, prev)
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	c := NewClient("c", false, &fakeConn{}, 1, time.Second)
	reg.Register(c)
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.Unregister("c"))
	assert.False(t, reg.Unregister("c"))
	assert.Equal(t, 0, reg.Len())
}

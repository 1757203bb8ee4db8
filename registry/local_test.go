package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(Options{})
	require.NoError(t, err)
	return l
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ServiceChanged(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type countingFactory struct {
	mu     sync.Mutex
	gets   int
	ungets int
}

func (f *countingFactory) GetService(consumer string, _ Handle) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return "svc-for-" + consumer, nil
}

func (f *countingFactory) UngetService(string, Handle, any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ungets++
}

func TestLocal_QueryOrdering(t *testing.T) {
	l := newTestLocal(t)
	provider := l.Context("provider")

	_, err := provider.Register([]string{"log.Sink"}, "low", Properties{PropRanking: -1})
	require.NoError(t, err)
	_, err = provider.Register([]string{"log.Sink"}, "first", nil)
	require.NoError(t, err)
	_, err = provider.Register([]string{"log.Sink"}, "high", Properties{PropRanking: 10})
	require.NoError(t, err)
	_, err = provider.Register([]string{"log.Sink"}, "second", nil)
	require.NoError(t, err)
	_, err = provider.Register([]string{"other.Thing"}, "other", nil)
	require.NoError(t, err)

	handles, err := l.Query("log.Sink", "")
	require.NoError(t, err)
	require.Len(t, handles, 4)

	var got []any
	consumer := l.Context("consumer")
	for _, h := range handles {
		svc, ok := consumer.Retrieve(h)
		require.True(t, ok)
		got = append(got, svc)
	}
	assert.Equal(t, []any{"high", "first", "second", "low"}, got)
	assert.Equal(t, 10, handles[0].Ranking)
	assert.Equal(t, int64(handles[0].ID), handles[0].Property(PropServiceID))
	assert.True(t, handles[0].Provides("log.Sink"))

	all, err := l.Query("", "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestLocal_QueryFilter(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	_, _ = p.Register([]string{"db.Store"}, "a", Properties{"region": "eu"})
	_, _ = p.Register([]string{"db.Store"}, "b", Properties{"region": "us"})

	handles, err := l.Query("db.Store", `region == "us"`)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "us", handles[0].Property("region"))

	_, err = l.Query("db.Store", `region ==`)
	assert.True(t, errors.Is(err, errors.ErrFilterSyntax))
}

func TestLocal_EventsAndOrder(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	rec := &recorder{}

	sub, err := l.Subscribe("db.Store", `region == "eu"`, rec)
	require.NoError(t, err)

	reg, err := p.Register([]string{"db.Store"}, "a", Properties{"region": "eu"})
	require.NoError(t, err)
	_, err = p.Register([]string{"db.Store"}, "ignored", Properties{"region": "us"})
	require.NoError(t, err)

	require.NoError(t, reg.SetProperties(Properties{"region": "eu", "tier": 2}))
	require.NoError(t, reg.SetProperties(Properties{"region": "us"}))
	require.NoError(t, reg.SetProperties(Properties{"region": "us", "tier": 3}))
	require.NoError(t, reg.SetProperties(Properties{"region": "eu"}))
	require.NoError(t, reg.Unregister())

	assert.Equal(t, []EventType{Registered, Modified, ModifiedEndMatch, Modified, Unregistering}, rec.types())

	assert.True(t, errors.Is(reg.Unregister(), errors.ErrServiceGone))
	assert.True(t, errors.Is(reg.SetProperties(nil), errors.ErrServiceGone))
	assert.True(t, reg.Handle().IsZero())

	l.Unsubscribe(sub)
	_, _ = p.Register([]string{"db.Store"}, "late", Properties{"region": "eu"})
	assert.Len(t, rec.types(), 5)
}

func TestLocal_ReentrantListener(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	rec := &recorder{}

	var once sync.Once
	_, err := l.Subscribe("a", "", ListenerFunc(func(ev Event) {
		rec.ServiceChanged(ev)
		once.Do(func() {
			// registering from inside a delivery queues rather than recursing
			_, err := p.Register([]string{"a"}, "nested", nil)
			assert.NoError(t, err)
			assert.Len(t, rec.types(), 1)
		})
	}))
	require.NoError(t, err)

	_, err = p.Register([]string{"a"}, "outer", nil)
	require.NoError(t, err)
	assert.Equal(t, []EventType{Registered, Registered}, rec.types())
}

func TestLocal_ListenerPanicContained(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	rec := &recorder{}

	_, _ = l.Subscribe("a", "", ListenerFunc(func(Event) { panic("boom") }))
	_, _ = l.Subscribe("a", "", rec)

	assert.NotPanics(t, func() {
		_, _ = p.Register([]string{"a"}, "x", nil)
	})
	assert.Len(t, rec.types(), 1)
}

func TestLocal_UnregisteringStillRetrievable(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	c := l.Context("c")

	reg, err := p.Register([]string{"a"}, "x", nil)
	require.NoError(t, err)
	h := reg.Handle()

	var duringQuery []Handle
	var duringRetrieve bool
	_, _ = l.Subscribe("a", "", ListenerFunc(func(ev Event) {
		if ev.Type == Unregistering {
			duringQuery, _ = l.Query("a", "")
			_, duringRetrieve = c.Retrieve(ev.Handle)
		}
	}))

	require.NoError(t, reg.Unregister())
	assert.Empty(t, duringQuery)
	assert.True(t, duringRetrieve)
	assert.Equal(t, 0, c.UsageCount(h), "withdrawal drops remaining usages")

	_, ok := c.Retrieve(h)
	assert.False(t, ok)
}

func TestContext_UsageCounting(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	c := l.Context("c")

	reg, _ := p.Register([]string{"a"}, "x", nil)
	h := reg.Handle()

	_, ok := c.Retrieve(h)
	require.True(t, ok)
	_, ok = c.Retrieve(h)
	require.True(t, ok)
	assert.Equal(t, 2, c.UsageCount(h))

	c.Release(h)
	c.Release(h)
	c.Release(h)
	assert.Equal(t, 0, c.UsageCount(h))
}

func TestContext_ServiceFactory(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	c1 := l.Context("one")
	c2 := l.Context("two")

	factory := &countingFactory{}
	reg, err := p.Register([]string{"a"}, factory, nil)
	require.NoError(t, err)
	h := reg.Handle()

	s1, ok := c1.Retrieve(h)
	require.True(t, ok)
	s1again, _ := c1.Retrieve(h)
	s2, ok := c2.Retrieve(h)
	require.True(t, ok)

	assert.Equal(t, "svc-for-one", s1)
	assert.Equal(t, s1, s1again)
	assert.Equal(t, "svc-for-two", s2)
	assert.Equal(t, 2, factory.gets)

	c1.Release(h)
	assert.Equal(t, 0, factory.ungets)
	c1.Release(h)
	assert.Equal(t, 1, factory.ungets)

	c2.Close()
	assert.Equal(t, 2, factory.ungets)
}

func TestContext_CloseWithdraws(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	rec := &recorder{}

	_, err := p.Subscribe("a", "", rec)
	require.NoError(t, err)
	_, err = p.Register([]string{"a"}, "x", nil)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())

	p.Close()
	p.Close()
	assert.Equal(t, 0, l.Len())
	// own subscription was removed before the unregistration
	assert.Equal(t, []EventType{Registered}, rec.types())

	_, err = p.Register([]string{"a"}, "y", nil)
	assert.True(t, errors.Is(err, errors.ErrDisposed))
	_, err = p.Subscribe("a", "", rec)
	assert.True(t, errors.Is(err, errors.ErrDisposed))
}

func TestLocal_RegisterValidation(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")

	_, err := p.Register(nil, "x", nil)
	assert.True(t, errors.IsInvalid(err))
	_, err = p.Register([]string{"a"}, nil, nil)
	assert.True(t, errors.IsInvalid(err))
	_, err = l.Subscribe("a", "", nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestLocal_Metrics(t *testing.T) {
	m := metric.NewMetricsRegistry()
	l, err := NewLocal(Options{Metrics: m})
	require.NoError(t, err)

	p := l.Context("p")
	_, _ = p.Register([]string{"a"}, "x", nil)

	families, err := m.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["semwire_registry_services"])
}

func TestLocal_ConcurrentRegisterQuery(t *testing.T) {
	l := newTestLocal(t)
	p := l.Context("p")
	c := l.Context("c")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reg, err := p.Register([]string{"a"}, j, nil)
				if !assert.NoError(t, err) {
					return
				}
				handles, _ := l.Query("a", "")
				for _, h := range handles {
					if _, ok := c.Retrieve(h); ok {
						c.Release(h)
					}
				}
				_ = reg.Unregister()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
}

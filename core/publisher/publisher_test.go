package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"

	dcerrors "dashcore/core/errors"
	"dashcore/core/events"
	"dashcore/core/logger"
	"dashcore/core/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testPage struct{ name string }

func (p testPage) Name() string { return p.name }

type fetchCall struct {
	page        Page
	datasetName string
	param       registry.Params
}

// stubFetcher returns a fixed payload or error and records every call.
type stubFetcher struct {
	mu      sync.Mutex
	payload Payload
	err     error
	calls   []fetchCall
	onFetch func() // runs before returning, simulating work done while suspended
}

func (f *stubFetcher) Fetch(ctx context.Context, page Page, datasetName string, param registry.Params) (Payload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{page: page, datasetName: datasetName, param: param})
	onFetch := f.onFetch
	f.mu.Unlock()
	if onFetch != nil {
		onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type component struct{ id string }

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.L()
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(prev) })
	return logs
}

var page = testPage{name: "TestPage"}

func TestFetchAndPublish_StatsScenario(t *testing.T) {
	f := &stubFetcher{payload: map[string]any{"data": map[string]any{"revenue": 100}}}
	p := New(f)
	p.RegisterMapping(registry.Mapping{Topic: "stats", DatasetInfo: registry.DatasetDescriptor{DatasetName: "statsApi", Param: registry.Params{}}})

	a := &component{id: "A"}
	var got []Envelope
	p.Subscribe("stats", a, func(env Envelope) { got = append(got, env) })

	payload, err := p.FetchAndPublish(context.Background(), "stats", page, nil)
	require.NoError(t, err)

	want := Envelope{Response: map[string]any{"data": map[string]any{"revenue": 100}}}
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
	assert.Equal(t, want.Response, payload)
	require.Len(t, f.calls, 1)
	assert.Equal(t, "statsApi", f.calls[0].datasetName)
	assert.Equal(t, page, f.calls[0].page)
}

func TestFetchAndPublish_SharedTopicScenario(t *testing.T) {
	f := &stubFetcher{payload: map[string]any{"data": map[string]any{"value": 100}}}
	p := New(f)
	p.RegisterMapping(registry.Mapping{Topic: "shared", DatasetInfo: registry.DatasetDescriptor{DatasetName: "shared-api"}})

	a, b, c := &component{"A"}, &component{"B"}, &component{"C"}
	received := map[string][]Envelope{}
	for _, comp := range []*component{a, b, c} {
		comp := comp
		p.Subscribe("shared", comp, func(env Envelope) { received[comp.id] = append(received[comp.id], env) })
	}

	_, err := p.FetchAndPublish(context.Background(), "shared", page, nil)
	require.NoError(t, err)
	for _, id := range []string{"A", "B", "C"} {
		require.Len(t, received[id], 1, id)
		assert.Equal(t, received["A"][0], received[id][0])
	}

	p.Unsubscribe("shared", b)
	_, err = p.FetchAndPublish(context.Background(), "shared", page, nil)
	require.NoError(t, err)

	assert.Len(t, received["A"], 2)
	assert.Len(t, received["C"], 2)
	assert.Len(t, received["B"], 1)
}

func TestUnsubscribeRemovesAllHandlersOfOwner(t *testing.T) {
	p := New(&stubFetcher{})
	owner := &component{"table"}
	p.Subscribe("assets", owner, func(Envelope) {})
	p.Subscribe("assets", owner, func(Envelope) {})
	other := &component{"tree"}
	p.Subscribe("assets", other, func(Envelope) {})
	require.Equal(t, 3, p.SubscriberCount("assets"))

	p.Unsubscribe("assets", owner)

	assert.Equal(t, 1, p.SubscriberCount("assets"))
	assert.Empty(t, p.OwnerSubscriptions(owner))
	assert.Equal(t, map[string]int{"assets": 1}, p.OwnerSubscriptions(other))
}

func TestUnsubscribeIsTotal(t *testing.T) {
	p := New(&stubFetcher{})
	owner := &component{"x"}
	assert.NotPanics(t, func() {
		p.Unsubscribe("never", owner)
		p.Subscribe("t", owner, func(Envelope) {})
		p.Unsubscribe("t", owner)
		p.Unsubscribe("t", owner)
		p.UnsubscribeAll(owner)
	})
	assert.Equal(t, 0, p.SubscriberCount("t"))
	assert.Empty(t, p.SubscribedTopics())
}

func TestIncomparableOwnerIsRejected(t *testing.T) {
	logs := observeLogs(t)
	p := New(&stubFetcher{})
	type sliceOwner struct{ tags []string }
	type boxOwner struct{ v any }
	owners := []any{
		map[string]int{"a": 1},
		sliceOwner{tags: []string{"x"}},
		boxOwner{v: []int{1}},
		func() {},
	}
	keeper := &component{"keeper"}
	p.Subscribe("t", keeper, func(Envelope) {})

	for _, owner := range owners {
		assert.NotPanics(t, func() {
			p.Subscribe("t", owner, func(Envelope) {})
			p.Unsubscribe("t", owner)
			p.UnsubscribeAll(owner)
			assert.Empty(t, p.OwnerSubscriptions(owner))
		})
	}
	assert.Equal(t, 1, p.SubscriberCount("t"))
	assert.Equal(t, len(owners), logs.FilterMessage("Ignoring subscription with incomparable owner").Len())

	// A comparable struct value is a valid owner.
	p.Subscribe("t", boxOwner{v: "page"}, func(Envelope) {})
	assert.Equal(t, map[string]int{"t": 1}, p.OwnerSubscriptions(boxOwner{v: "page"}))
	p.Unsubscribe("t", boxOwner{v: "page"})
	assert.Equal(t, 1, p.SubscriberCount("t"))
}

func TestSubscribeUnsubscribeChurn(t *testing.T) {
	p := New(&stubFetcher{})
	owner := &component{"churn"}
	for i := 0; i < 100; i++ {
		p.Subscribe("tasks", owner, func(Envelope) {})
		p.Unsubscribe("tasks", owner)
	}
	assert.Equal(t, 0, p.SubscriberCount("tasks"))

	for i := 0; i < 5; i++ {
		p.Subscribe("tasks", owner, func(Envelope) {})
	}
	assert.Equal(t, 5, p.SubscriberCount("tasks"))
	p.Unsubscribe("tasks", owner)
	assert.Equal(t, 0, p.SubscriberCount("tasks"))
}

func TestUnsubscribeAll(t *testing.T) {
	p := New(&stubFetcher{})
	owner := &component{"sidebar"}
	other := &component{"chart"}
	p.Subscribe("tasks", owner, func(Envelope) {})
	p.Subscribe("activity", owner, func(Envelope) {})
	p.Subscribe("activity", other, func(Envelope) {})

	p.UnsubscribeAll(owner)

	assert.Empty(t, p.OwnerSubscriptions(owner))
	assert.Equal(t, []string{"activity"}, p.SubscribedTopics())
}

func TestSubscribeNilHandlerIgnored(t *testing.T) {
	p := New(&stubFetcher{})
	p.Subscribe("t", &component{}, nil)
	assert.Equal(t, 0, p.SubscriberCount("t"))
}

func TestFetchAndPublish_UnregisteredTopic(t *testing.T) {
	logs := observeLogs(t)
	f := &stubFetcher{payload: "x"}
	p := New(f)
	called := false
	p.Subscribe("ghost", &component{}, func(Envelope) { called = true })

	payload, err := p.FetchAndPublish(context.Background(), "ghost", page, nil)

	assert.NoError(t, err)
	assert.Nil(t, payload)
	assert.False(t, called)
	assert.Empty(t, f.calls)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestFetchAndPublish_FailureIsolation(t *testing.T) {
	logs := observeLogs(t)
	boom := errors.New("connection refused")
	f := &stubFetcher{err: boom}
	p := New(f)
	p.RegisterMapping(registry.Mapping{Topic: "assets", DatasetInfo: registry.DatasetDescriptor{DatasetName: "assets"}})
	owner := &component{"list"}
	delivered := 0
	p.Subscribe("assets", owner, func(Envelope) { delivered++ })

	topicsBefore := p.Registry().Topics()
	countBefore := p.SubscriberCount("assets")

	payload, err := p.FetchAndPublish(context.Background(), "assets", page, registry.Params{"zone": "A"})

	require.Error(t, err)
	assert.ErrorIs(t, err, dcerrors.ErrFetchFailed)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, payload)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, topicsBefore, p.Registry().Topics())
	assert.Equal(t, countBefore, p.SubscriberCount("assets"))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestFetchAndPublish_ParamMerge(t *testing.T) {
	f := &stubFetcher{payload: map[string]any{}}
	p := New(f)
	p.RegisterMapping(registry.Mapping{Topic: "tasks", DatasetInfo: registry.DatasetDescriptor{
		DatasetName: "tasksApi",
		Param:       registry.Params{"a": 1, "b": 2},
	}})

	_, err := p.FetchAndPublish(context.Background(), "tasks", page, registry.Params{"b": 3, "c": 4})
	require.NoError(t, err)
	_, err = p.FetchAndPublish(context.Background(), "tasks", page, nil)
	require.NoError(t, err)

	require.Len(t, f.calls, 2)
	assert.Equal(t, registry.Params{"a": 1, "b": 3, "c": 4}, f.calls[0].param)
	assert.Equal(t, registry.Params{"a": 1, "b": 2}, f.calls[1].param)

	d, _ := p.Registry().Lookup("tasks")
	assert.Equal(t, registry.Params{"a": 1, "b": 2}, d.Param, "stored params must not change")
}

func TestFetchAndPublish_ReadsSubscribersAfterFetch(t *testing.T) {
	f := &stubFetcher{payload: "fresh"}
	p := New(f)
	p.RegisterMapping(registry.Mapping{Topic: "tasks", DatasetInfo: registry.DatasetDescriptor{DatasetName: "tasksApi"}})

	leaving := &component{"leaving"}
	joining := &component{"joining"}
	leavingCalls, joiningCalls := 0, 0
	p.Subscribe("tasks", leaving, func(Envelope) { leavingCalls++ })

	// While the fetch is suspended, one component unmounts and another mounts.
	f.onFetch = func() {
		p.Unsubscribe("tasks", leaving)
		p.Subscribe("tasks", joining, func(Envelope) { joiningCalls++ })
	}

	_, err := p.FetchAndPublish(context.Background(), "tasks", page, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, leavingCalls)
	assert.Equal(t, 1, joiningCalls)
}

func TestFetchAndPublish_PanickingHandlerIsIsolated(t *testing.T) {
	observeLogs(t)
	bus := events.New()
	var failures []DeliveryFailure
	bus.On(EventDeliveryFailed, func(data any) { failures = append(failures, data.(DeliveryFailure)) })

	p := New(&stubFetcher{payload: "ok"}, WithEventBus(bus))
	p.RegisterMapping(registry.Mapping{Topic: "t", DatasetInfo: registry.DatasetDescriptor{DatasetName: "d"}})
	bad := &component{"bad"}
	good := &component{"good"}
	goodCalls := 0
	p.Subscribe("t", bad, func(Envelope) { panic("render failed") })
	p.Subscribe("t", good, func(Envelope) { goodCalls++ })

	var err error
	require.NotPanics(t, func() {
		_, err = p.FetchAndPublish(context.Background(), "t", page, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, goodCalls)
	require.Len(t, failures, 1)
	assert.Equal(t, "t", failures[0].Topic)
	assert.Equal(t, bad, failures[0].Owner)
}

func TestFetchAndPublish_HandlerUnsubscribingOtherDuringDelivery(t *testing.T) {
	p := New(&stubFetcher{payload: "ok"})
	p.RegisterMapping(registry.Mapping{Topic: "t", DatasetInfo: registry.DatasetDescriptor{DatasetName: "d"}})
	first, second, third := &component{"1"}, &component{"2"}, &component{"3"}
	calls := map[string]int{}
	p.Subscribe("t", first, func(Envelope) {
		calls["1"]++
		p.Unsubscribe("t", second)
	})
	p.Subscribe("t", second, func(Envelope) { calls["2"]++ })
	p.Subscribe("t", third, func(Envelope) { calls["3"]++ })

	_, err := p.FetchAndPublish(context.Background(), "t", page, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 1, "2": 1, "3": 1}, calls)

	_, err = p.FetchAndPublish(context.Background(), "t", page, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 2, "2": 1, "3": 2}, calls)
}

func TestFetchAndPublish_OverlappingCallsBothDeliver(t *testing.T) {
	p := New(&stubFetcher{payload: "ok"})
	p.RegisterMapping(registry.Mapping{Topic: "t", DatasetInfo: registry.DatasetDescriptor{DatasetName: "d"}})
	var mu sync.Mutex
	calls := 0
	p.Subscribe("t", &component{}, func(Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.FetchAndPublish(context.Background(), "t", page, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, calls)
}

type statsView struct {
	Data struct {
		Revenue int `json:"revenue"`
	} `json:"data"`
}

func TestDecodeAndData(t *testing.T) {
	env := Envelope{Response: map[string]any{"data": map[string]any{"revenue": 100}}}

	v, err := Decode[statsView](env)
	require.NoError(t, err)
	assert.Equal(t, 100, v.Data.Revenue)
	assert.Equal(t, map[string]any{"revenue": 100}, env.Data())
	assert.Equal(t, "raw", Envelope{Response: "raw"}.Data())
}

func TestMergeParams(t *testing.T) {
	base := registry.Params{"a": 1, "b": 2}
	got := MergeParams(base, registry.Params{"b": 3, "c": 4})
	assert.Equal(t, registry.Params{"a": 1, "b": 3, "c": 4}, got)
	assert.Equal(t, registry.Params{"a": 1, "b": 2}, base)
}

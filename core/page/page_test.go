package page

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dashcore/core/config"
	"dashcore/core/events"
	"dashcore/core/fetch"
	"dashcore/core/publisher"
	"dashcore/core/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskMonitorSpecs() []MappingSpec {
	return []MappingSpec{
		{
			Topic:           "tasks",
			DatasetInfo:     registry.DatasetDescriptor{DatasetName: "tasksApi", Param: registry.Params{"status": "all"}},
			RefreshInterval: 10 * time.Millisecond,
		},
		{
			Topic:       "statusSummary",
			DatasetInfo: registry.DatasetDescriptor{DatasetName: "statusApi", Param: registry.Params{}},
		},
	}
}

type collector struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *collector) handler(topic string) publisher.Handler {
	return func(publisher.Envelope) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.seen[topic]++
	}
}

func (c *collector) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[topic]
}

func setup(t *testing.T) (*Page, *publisher.Publisher, *fetch.Static, events.Bus, *collector) {
	t.Helper()
	src := fetch.NewStatic()
	bus := events.New()
	pub := publisher.New(src, publisher.WithEventBus(bus))
	col := &collector{seen: make(map[string]int)}
	pub.Subscribe("tasks", col, col.handler("tasks"))
	pub.Subscribe("statusSummary", col, col.handler("statusSummary"))
	p := New("TaskMonitor", pub, bus, taskMonitorSpecs())
	t.Cleanup(p.Unload)
	return p, pub, src, bus, col
}

func TestLoad_RegistersAndPublishesInitialData(t *testing.T) {
	p, pub, src, _, col := setup(t)

	p.Load(context.Background())

	assert.True(t, pub.IsRegistered("tasks"))
	assert.True(t, pub.IsRegistered("statusSummary"))
	assert.Equal(t, 1, col.count("tasks"))
	assert.Equal(t, 1, col.count("statusSummary"))
	assert.Equal(t, registry.Params{}, p.Params("tasks"))
	assert.False(t, p.IntervalsRunning())

	for _, c := range src.History() {
		assert.Equal(t, "TaskMonitor", c.Page)
	}
}

func TestLoad_Twice(t *testing.T) {
	p, _, src, _, _ := setup(t)
	p.Load(context.Background())
	p.Load(context.Background())
	assert.Len(t, src.History(), 2)
}

func TestLoad_FetchFailureIsLogged(t *testing.T) {
	p, pub, src, _, col := setup(t)
	src.SetError("tasksApi", errors.New("backend down"))

	p.Load(context.Background())

	assert.Equal(t, 0, col.count("tasks"))
	assert.Equal(t, 1, col.count("statusSummary"))
	assert.True(t, pub.IsRegistered("tasks"))
}

func TestIntervals(t *testing.T) {
	p, _, _, _, col := setup(t)
	p.Load(context.Background())

	p.StartAllIntervals(context.Background())
	p.StartAllIntervals(context.Background())
	assert.True(t, p.IntervalsRunning())
	assert.Eventually(t, func() bool { return col.count("tasks") >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, col.count("statusSummary"))

	p.StopAllIntervals()
	assert.False(t, p.IntervalsRunning())
}

func TestSetParams_MergedIntoTickAndRefresh(t *testing.T) {
	p, _, src, _, _ := setup(t)
	p.Load(context.Background())

	p.SetParams("statusSummary", registry.Params{"region": "north"})
	require.NoError(t, p.Refresh(context.Background(), "statusSummary"))

	h := src.History()
	last := h[len(h)-1]
	assert.Equal(t, "statusApi", last.DatasetName)
	assert.Equal(t, registry.Params{"region": "north"}, last.Param)

	p.SetParams("tasks", registry.Params{"status": "done"})
	p.StartAllIntervals(context.Background())
	assert.Eventually(t, func() bool {
		for _, c := range src.History() {
			if c.DatasetName == "tasksApi" && c.Param["status"] == "done" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestRefresh_ReturnsError(t *testing.T) {
	p, _, src, _, _ := setup(t)
	p.Load(context.Background())
	boom := errors.New("boom")
	src.SetError("statusApi", boom)

	err := p.Refresh(context.Background(), "statusSummary")
	assert.ErrorIs(t, err, boom)
}

func TestBeforeLoad_RefreshHandler(t *testing.T) {
	p, _, _, bus, col := setup(t)
	p.BeforeLoad(map[string]events.Listener{
		"@refreshClicked": p.RefreshHandler("statusSummary"),
	})
	p.Load(context.Background())

	bus.Emit("@refreshClicked", nil)
	assert.Equal(t, 2, col.count("statusSummary"))

	p.Unload()
	assert.Zero(t, bus.ListenerCount("@refreshClicked"))
}

func TestUnload(t *testing.T) {
	p, pub, _, _, _ := setup(t)
	p.Load(context.Background())
	p.StartAllIntervals(context.Background())

	p.Unload()
	assert.False(t, p.IntervalsRunning())
	assert.False(t, pub.IsRegistered("tasks"))
	assert.False(t, pub.IsRegistered("statusSummary"))

	p.Load(context.Background())
	assert.True(t, pub.IsRegistered("tasks"))
}

func TestApply(t *testing.T) {
	p, pub, _, _, _ := setup(t)
	p.Load(context.Background())
	p.SetParams("tasks", registry.Params{"status": "open"})

	p.Apply([]MappingSpec{
		{Topic: "tasks", DatasetInfo: registry.DatasetDescriptor{DatasetName: "tasksV2"}},
		{Topic: "activity", DatasetInfo: registry.DatasetDescriptor{DatasetName: "activityApi"}, RefreshInterval: time.Second},
	})

	d, ok := pub.Registry().Lookup("tasks")
	require.True(t, ok)
	assert.Equal(t, "tasksV2", d.DatasetName)
	assert.True(t, pub.IsRegistered("activity"))
	assert.False(t, pub.IsRegistered("statusSummary"))
	assert.Equal(t, registry.Params{"status": "open"}, p.Params("tasks"))
	assert.Len(t, p.Specs(), 2)
}

func TestSpecsFromConfig(t *testing.T) {
	specs := SpecsFromConfig([]config.MappingConfig{{
		Topic:           "assets",
		DatasetName:     "assets",
		Param:           map[string]interface{}{"status": "active"},
		RefreshInterval: 5 * time.Second,
	}})
	require.Len(t, specs, 1)
	assert.Equal(t, MappingSpec{
		Topic:           "assets",
		DatasetInfo:     registry.DatasetDescriptor{DatasetName: "assets", Param: registry.Params{"status": "active"}},
		RefreshInterval: 5 * time.Second,
	}, specs[0])
}

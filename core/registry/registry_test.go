package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMappingReturnsStoredPair(t *testing.T) {
	r := NewDefaultRegistry()
	got := r.RegisterMapping(Mapping{
		Topic:       "sensorData",
		DatasetInfo: DatasetDescriptor{DatasetName: "sensor-api", Param: Params{"type": "temperature"}},
	})

	assert.Equal(t, "sensorData", got.Topic)
	assert.Equal(t, "sensor-api", got.DatasetInfo.DatasetName)
	assert.Equal(t, Params{"type": "temperature"}, got.DatasetInfo.Param)
	assert.True(t, r.IsRegistered("sensorData"))
}

func TestRegisterMappingLastWriteWins(t *testing.T) {
	r := NewDefaultRegistry()
	r.RegisterMapping(Mapping{Topic: "tasks", DatasetInfo: DatasetDescriptor{DatasetName: "v1", Param: Params{"a": 1}}})
	r.RegisterMapping(Mapping{Topic: "tasks", DatasetInfo: DatasetDescriptor{DatasetName: "v2", Param: Params{"b": 2}}})

	d, ok := r.Lookup("tasks")
	require.True(t, ok)
	assert.Equal(t, "v2", d.DatasetName)
	assert.Equal(t, Params{"b": 2}, d.Param)
	assert.Equal(t, []string{"tasks"}, r.Topics())
}

func TestRegisterMappingCopiesParams(t *testing.T) {
	r := NewDefaultRegistry()
	param := Params{"limit": 10}
	r.RegisterMapping(Mapping{Topic: "activity", DatasetInfo: DatasetDescriptor{DatasetName: "activityApi", Param: param}})
	param["limit"] = 99

	d, _ := r.Lookup("activity")
	assert.Equal(t, 10, d.Param["limit"])
}

func TestRegisterMappingNilParamsBecomeEmpty(t *testing.T) {
	r := NewDefaultRegistry()
	got := r.RegisterMapping(Mapping{Topic: "stats", DatasetInfo: DatasetDescriptor{DatasetName: "statsApi"}})
	assert.NotNil(t, got.DatasetInfo.Param)
	assert.Empty(t, got.DatasetInfo.Param)
}

func TestUnregisterMapping(t *testing.T) {
	r := NewDefaultRegistry()
	r.RegisterMapping(Mapping{Topic: "sensorData", DatasetInfo: DatasetDescriptor{DatasetName: "sensor-api"}})
	r.RegisterMapping(Mapping{Topic: "alertData", DatasetInfo: DatasetDescriptor{DatasetName: "alert-api"}})

	r.UnregisterMapping("sensorData")
	r.UnregisterMapping("sensorData")
	r.UnregisterMapping("never-registered")

	assert.False(t, r.IsRegistered("sensorData"))
	assert.True(t, r.IsRegistered("alertData"))
	assert.Equal(t, []string{"alertData"}, r.Topics())
}

func TestDefaultMapping(t *testing.T) {
	m := DefaultMapping()
	assert.Equal(t, "weather", m.Topic)
	assert.Equal(t, "dummyjson", m.DatasetInfo.DatasetName)
	assert.Equal(t, "default", m.DatasetInfo.Param["id"])
}

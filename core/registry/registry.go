package registry

import (
	"maps"
	"sort"
	"sync"
)

// Params holds dataset request parameters.
type Params = map[string]any

// DatasetDescriptor names the remote dataset behind a topic and the default
// parameters used to fetch it.
type DatasetDescriptor struct {
	DatasetName string `mapstructure:"dataset_name" json:"datasetName" yaml:"dataset_name"`
	Param       Params `mapstructure:"param" json:"param" yaml:"param"`
}

// Mapping binds a topic to its dataset descriptor.
type Mapping struct {
	Topic       string            `mapstructure:"topic" json:"topic" yaml:"topic"`
	DatasetInfo DatasetDescriptor `mapstructure:"dataset_info" json:"datasetInfo" yaml:"dataset_info"`
}

// Registry maps topic names to dataset descriptors. Registration is
// independent of subscribers: a topic can be registered with nobody
// listening, and subscribers can wait on a topic that is not registered yet.
type Registry interface {
	// RegisterMapping stores or replaces the descriptor for m.Topic and
	// returns the stored pair. Re-registration is expected (pages register
	// again on reload) and the last write wins.
	RegisterMapping(m Mapping) Mapping
	// UnregisterMapping removes the descriptor for topic, if any.
	UnregisterMapping(topic string)
	// Lookup returns the descriptor registered for topic.
	Lookup(topic string) (DatasetDescriptor, bool)
	IsRegistered(topic string) bool
	// Topics returns every registered topic, sorted.
	Topics() []string
}

// DefaultRegistry is a concrete implementation of the Registry interface.
type DefaultRegistry struct {
	mu       sync.RWMutex
	mappings map[string]DatasetDescriptor
}

// NewDefaultRegistry creates an empty registry.
func NewDefaultRegistry() *DefaultRegistry {
	return &DefaultRegistry{mappings: make(map[string]DatasetDescriptor)}
}

func (r *DefaultRegistry) RegisterMapping(m Mapping) Mapping {
	// The registry keeps its own copy of the param map; later edits by the
	// caller must not leak into subsequent fetches.
	stored := DatasetDescriptor{
		DatasetName: m.DatasetInfo.DatasetName,
		Param:       maps.Clone(m.DatasetInfo.Param),
	}
	if stored.Param == nil {
		stored.Param = Params{}
	}

	r.mu.Lock()
	r.mappings[m.Topic] = stored
	r.mu.Unlock()

	return Mapping{Topic: m.Topic, DatasetInfo: stored}
}

func (r *DefaultRegistry) UnregisterMapping(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mappings, topic)
}

func (r *DefaultRegistry) Lookup(topic string) (DatasetDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.mappings[topic]
	return d, ok
}

func (r *DefaultRegistry) IsRegistered(topic string) bool {
	_, ok := r.Lookup(topic)
	return ok
}

func (r *DefaultRegistry) Topics() []string {
	r.mu.RLock()
	topics := make([]string, 0, len(r.mappings))
	for t := range r.mappings {
		topics = append(topics, t)
	}
	r.mu.RUnlock()
	sort.Strings(topics)
	return topics
}

// DefaultMapping returns the example mapping used when scaffolding a page
// configuration.
func DefaultMapping() Mapping {
	return Mapping{
		Topic: "weather",
		DatasetInfo: DatasetDescriptor{
			DatasetName: "dummyjson",
			Param:       Params{"dataType": "weather", "id": "default"},
		},
	}
}

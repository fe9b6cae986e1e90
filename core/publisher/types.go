package publisher

import (
	"context"

	"dashcore/core/registry"

	"github.com/mitchellh/mapstructure"
)

// Page is the page instance a fetch is made on behalf of. It is passed to
// the Fetcher verbatim; the publisher only uses its name for logging.
type Page interface {
	Name() string
}

// Payload is the remote result of a fetch. It is opaque to the publisher and
// typically decodes from JSON as map[string]any with "data" and "meta" keys.
type Payload = any

// Envelope is what every subscriber handler receives: the fetched payload
// wrapped under Response.
type Envelope struct {
	Response Payload `json:"response"`
}

// Data returns Response["data"] when the payload is a JSON object, and the
// whole payload otherwise.
func (e Envelope) Data() any {
	if m, ok := e.Response.(map[string]any); ok {
		if d, ok := m["data"]; ok {
			return d
		}
	}
	return e.Response
}

// Decode converts the envelope's payload into T using its json tags, for
// components that want a typed view of a topic.
func Decode[T any](env Envelope) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(env.Response); err != nil {
		return out, err
	}
	return out, nil
}

// Handler is a subscriber callback.
type Handler func(env Envelope)

// Fetcher performs the single remote call behind FetchAndPublish.
// Implementations must not modify param.
type Fetcher interface {
	Fetch(ctx context.Context, page Page, datasetName string, param registry.Params) (Payload, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, page Page, datasetName string, param registry.Params) (Payload, error)

func (f FetcherFunc) Fetch(ctx context.Context, page Page, datasetName string, param registry.Params) (Payload, error) {
	return f(ctx, page, datasetName, param)
}

// EventDeliveryFailed is emitted on the event bus when a subscriber handler
// panics during fan-out. The event data is a DeliveryFailure.
const EventDeliveryFailed = "@deliveryFailed"

// DeliveryFailure describes a handler that panicked during fan-out.
type DeliveryFailure struct {
	Topic string
	Owner any
	Err   error
}

func pageName(p Page) string {
	if p == nil {
		return ""
	}
	return p.Name()
}

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dashcore/core/publisher"
	"dashcore/core/registry"

	"github.com/go-resty/resty/v2"
)

const pageHeader = "X-Dashcore-Page"

// HTTP fetches datasets from a REST backend laid out as
// GET {baseURL}/api/{datasetName}?{param}. A dataset name may span several
// path segments, e.g. "assets/summary".
type HTTP struct {
	client *resty.Client
}

// NewHTTP returns an HTTP fetcher rooted at baseURL.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTP{client: c}
}

func (h *HTTP) Fetch(ctx context.Context, page publisher.Page, datasetName string, param registry.Params) (publisher.Payload, error) {
	req := h.client.R().
		SetContext(ctx).
		SetRawPathParam("dataset", datasetName).
		SetQueryParams(queryParams(param))
	if page != nil {
		req.SetHeader(pageHeader, page.Name())
	}

	r, err := req.Get("/api/{dataset}")
	if err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", datasetName, err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("get dataset %s: unexpected status %d: %s", datasetName, r.StatusCode(), string(r.Body()))
	}

	var out any
	if err := json.Unmarshal(r.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", datasetName, err)
	}
	return out, nil
}

// queryParams flattens params into query values; nil values are dropped.
func queryParams(param registry.Params) map[string]string {
	out := make(map[string]string, len(param))
	for k, v := range param {
		if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

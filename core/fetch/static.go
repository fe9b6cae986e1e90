package fetch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dashcore/core/publisher"
	"dashcore/core/registry"
)

// Call records one Fetch made against a Static fetcher.
type Call struct {
	Page        string
	DatasetName string
	Param       registry.Params
	At          time.Time
}

// Static serves canned responses from memory. It backs tests and the
// `watch --static` mode. Responses can be keyed by dataset alone or by
// dataset plus exact params; the more specific key wins.
type Static struct {
	mu        sync.Mutex
	responses map[string]publisher.Payload
	errs      map[string]error
	history   []Call
}

// NewStatic returns an empty Static fetcher.
func NewStatic() *Static {
	return &Static{
		responses: make(map[string]publisher.Payload),
		errs:      make(map[string]error),
	}
}

func staticKey(datasetName string, param registry.Params) string {
	if param == nil {
		return datasetName
	}
	b, err := json.Marshal(param)
	if err != nil {
		return datasetName
	}
	return datasetName + ":" + string(b)
}

// SetResponse registers payload for datasetName. A nil param matches any
// params; otherwise only an exact match is served.
func (s *Static) SetResponse(datasetName string, payload publisher.Payload, param registry.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[staticKey(datasetName, param)] = payload
}

// SetError makes every fetch of datasetName fail with err. A nil err clears it.
func (s *Static) SetError(datasetName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, datasetName)
		return
	}
	s.errs[datasetName] = err
}

func (s *Static) Fetch(ctx context.Context, page publisher.Page, datasetName string, param registry.Params) (publisher.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := ""
	if page != nil {
		name = page.Name()
	}
	s.history = append(s.history, Call{Page: name, DatasetName: datasetName, Param: param, At: time.Now()})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.errs[datasetName]; ok {
		return nil, err
	}
	if p, ok := s.responses[staticKey(datasetName, param)]; ok {
		return p, nil
	}
	if p, ok := s.responses[datasetName]; ok {
		return p, nil
	}
	return map[string]any{"data": nil}, nil
}

// History returns a copy of every call made so far.
func (s *Static) History() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.history))
	copy(out, s.history)
	return out
}

// Reset clears responses, errors and history.
func (s *Static) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = make(map[string]publisher.Payload)
	s.errs = make(map[string]error)
	s.history = nil
}

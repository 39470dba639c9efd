package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/programme-lv/runner/api"
	"golang.org/x/sync/errgroup"
)

type named struct {
	name string
	sink Sink
}

// Multi persists every result to all of its sinks concurrently. A failing
// sink does not stop the others; their errors are joined.
type Multi struct {
	sinks []named
}

func NewMulti() *Multi {
	return &Multi{}
}

func (m *Multi) Add(name string, s Sink) {
	m.sinks = append(m.sinks, named{name: name, sink: s})
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Persist(ctx context.Context, res api.Result) error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			if err := s.sink.Persist(ctx, res); err != nil {
				errs[i] = fmt.Errorf("%s sink: %w", s.name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

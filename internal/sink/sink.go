// Package sink delivers final submission results to the systems that store
// or display them.
package sink

//go:generate mockgen -source=sink.go -destination=mocks/mock_sink.go -package=mocks

import (
	"context"

	"github.com/programme-lv/runner/api"
)

// Sink persists the final state of a submission. Persist is called once per
// submission, after it has reached a terminal status.
type Sink interface {
	Persist(ctx context.Context, res api.Result) error
}

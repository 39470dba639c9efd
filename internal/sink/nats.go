package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/runner/api"
)

type publisher interface {
	Publish(subj string, data []byte) error
}

var _ publisher = (*nats.Conn)(nil)

// Nats publishes results as JSON to a subject. Output is trimmed to fit a
// message.
type Nats struct {
	conn    publisher
	subject string
}

func NewNats(conn *nats.Conn, subject string) *Nats {
	return &Nats{conn: conn, subject: subject}
}

func (n *Nats) Persist(ctx context.Context, res api.Result) error {
	b, err := json.Marshal(res.TrimForMessage())
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := n.conn.Publish(n.subject, b); err != nil {
		return fmt.Errorf("failed to publish result to %s: %w", n.subject, err)
	}
	return nil
}

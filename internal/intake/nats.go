package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/runner/api"
)

// ServeNats answers submission requests published to subject. Every reply
// is an api.SubmitResp. Runners sharing the queue group split the load.
func (in *Intake) ServeNats(ctx context.Context, nc *nats.Conn, subject, queueGroup string) error {
	sub, err := nc.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		resp := in.handleNatsMsg(ctx, msg.Data)
		b, err := json.Marshal(resp)
		if err != nil {
			in.log.Error("failed to marshal response", "error", err)
			return
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(b); err != nil {
			in.log.Warn("failed to respond", "subject", msg.Reply, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	in.log.Info("listening for submissions on nats", "subject", subject)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}

func (in *Intake) handleNatsMsg(ctx context.Context, data []byte) api.SubmitResp {
	var req api.SubmitReq
	if err := json.Unmarshal(data, &req); err != nil {
		return api.NewSubmitErrResp(fmt.Errorf("%w: %w", ErrInvalidRequest, err), false)
	}
	return in.acceptResp(ctx, req)
}

package behave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/pool"
)

type Submitter interface {
	Submit(sub pool.Submission) (*pool.Job, error)
	Await(ctx context.Context, id string) (pool.Snapshot, error)
}

type Outcome struct {
	Case     Case
	Snapshot pool.Snapshot
	Err      error
}

func (o Outcome) Passed() bool {
	if o.Err != nil || o.Snapshot.Status != o.Case.Expect.Status {
		return false
	}
	return o.Case.Expect.Verdict == "" || o.Snapshot.Verdict == o.Case.Expect.Verdict
}

// Run submits every case and waits for all of them. Submissions that meet
// a full queue are retried until ctx is done.
func Run(ctx context.Context, p Submitter, cases []Case) []Outcome {
	outcomes := make([]Outcome, len(cases))
	for i, c := range cases {
		outcomes[i].Case = c
		outcomes[i].Err = submit(ctx, p, c.Submission)
	}
	for i, c := range cases {
		if outcomes[i].Err != nil {
			continue
		}
		outcomes[i].Snapshot, outcomes[i].Err = p.Await(ctx, c.Submission.ID)
	}
	return outcomes
}

func submit(ctx context.Context, p Submitter, sub pool.Submission) error {
	for {
		_, err := p.Submit(sub)
		if !errors.Is(err, pool.ErrQueueFull) {
			return err
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Report renders outcomes as a table followed by a score line and returns
// the number of passed scenarios.
func Report(w io.Writer, outcomes []Outcome) int {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Scenario", "Expected", "Got", "Wall", "Result", "Info"})

	passed := 0
	for i, o := range outcomes {
		result := "FAIL"
		if o.Passed() {
			result = "OK"
			passed++
		}

		got := o.Snapshot.Status
		if o.Snapshot.Verdict != "" {
			got += "/" + o.Snapshot.Verdict
		}
		expected := o.Case.Expect.Status
		if o.Case.Expect.Verdict != "" {
			expected += "/" + o.Case.Expect.Verdict
		}

		info := ""
		switch {
		case o.Err != nil:
			info = o.Err.Error()
		case o.Snapshot.Message != nil:
			info = api.TrimStrToRect(*o.Snapshot.Message, 3, 60)
		}

		t.AppendRow(table.Row{
			i + 1,
			o.Case.Name,
			expected,
			got,
			fmt.Sprintf("%dms", o.Snapshot.WallMillis),
			result,
			info,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("score: %d/%d", passed, len(outcomes)), ""})

	t.SetStyle(table.StyleLight)
	t.SetColumnConfigs([]table.ColumnConfig{
		{
			Name: "Result",
			Transformer: text.Transformer(func(s interface{}) string {
				switch s {
				case "OK":
					return text.FgHiGreen.Sprint(s)
				case "FAIL":
					return text.FgHiRed.Sprint(s)
				}
				return fmt.Sprint(s)
			}),
			Align: text.AlignCenter,
		},
	})
	t.Render()
	return passed
}

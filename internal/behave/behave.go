// Package behave runs end-to-end scenarios described in TOML files through
// the worker pool and checks the resulting status and verdict.
package behave

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/programme-lv/runner/internal/sandbox"
)

// SpecRequest is the submission part of a scenario.
type SpecRequest struct {
	LangID         string  `toml:"lang_id"`
	Code           string  `toml:"code"`
	Input          string  `toml:"input"`
	ExpectedOutput *string `toml:"expected_output"`
	TimeMs         int64   `toml:"time_ms"`
	MemoryKiB      int64   `toml:"memory_kib"`
}

// SpecExpect is the terminal status and verdict a scenario must end with.
// An empty verdict is not checked.
type SpecExpect struct {
	Status  string `toml:"status"`
	Verdict string `toml:"verdict"`
}

type specScenario struct {
	Description string      `toml:"description"`
	Request     SpecRequest `toml:"request"`
	Expect      SpecExpect  `toml:"expect"`
}

type specRoot struct {
	Scenarios []specScenario `toml:"scenarios"`
	// Languages are added to the configured ones for the duration of the run.
	Languages []executor.Language `toml:"languages"`
}

// Case is a runnable scenario.
type Case struct {
	Name       string
	Submission pool.Submission
	Expect     SpecExpect
}

type Suite struct {
	Cases     []Case
	Languages []executor.Language
}

// Parse reads a behaviour file.
func Parse(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	suite := &Suite{Languages: root.Languages}
	for i, sc := range root.Scenarios {
		req := sc.Request
		if req.LangID == "" || req.Code == "" {
			return nil, fmt.Errorf("scenario %d (%q) needs lang_id and code", i+1, sc.Description)
		}
		if sc.Expect.Status == "" {
			return nil, fmt.Errorf("scenario %d (%q) has no expected status", i+1, sc.Description)
		}

		// limits default to 2s and 256 MiB
		timeMs := req.TimeMs
		if timeMs == 0 {
			timeMs = 2000
		}
		memKiB := req.MemoryKiB
		if memKiB == 0 {
			memKiB = 256 * 1024
		}

		name := sc.Description
		if name == "" {
			name = fmt.Sprintf("scenario %d", i+1)
		}

		suite.Cases = append(suite.Cases, Case{
			Name: name,
			Submission: pool.Submission{
				ID:       uuid.NewString(),
				Code:     req.Code,
				Language: req.LangID,
				Stdin:    req.Input,
				Limits: sandbox.Limits{
					Time:      time.Duration(timeMs) * time.Millisecond,
					MemoryKiB: memKiB,
				},
				ExpectedOutput: req.ExpectedOutput,
			},
			Expect: sc.Expect,
		})
	}
	return suite, nil
}

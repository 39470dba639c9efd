// Package verdict grades program output against an expected answer.
package verdict

import (
	"fmt"
	"strings"
)

type Verdict string

const (
	Pass    Verdict = "pass"
	Fail    Verdict = "fail"
	Error   Verdict = "error"
	Unknown Verdict = "unknown"
)

func (v Verdict) String() string {
	return string(v)
}

// Normalize strips trailing whitespace from every line and drops trailing
// blank lines. CRLF line endings become LF.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\v\f")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Compare returns Unknown when there is no expected answer. Otherwise the
// normalized outputs must be identical. Comparison is case-sensitive.
func Compare(actual string, expected *string) Verdict {
	if expected == nil {
		return Unknown
	}
	if Normalize(actual) == Normalize(*expected) {
		return Pass
	}
	return Fail
}

// Explain describes the first difference between actual and expected.
// It returns "ok" when Compare would return Pass.
func Explain(actual string, expected *string) string {
	if expected == nil {
		return "no expected output"
	}
	got := lines(Normalize(actual))
	want := lines(Normalize(*expected))

	for i, w := range want {
		if i >= len(got) {
			return fmt.Sprintf("unexpected EOF in line %d", i+1)
		}
		if got[i] != w {
			return fmt.Sprintf("line %d is not correct: expected %q but got %q", i+1, w, got[i])
		}
	}
	if len(got) > len(want) {
		return fmt.Sprintf("extra output starting at line %d", len(want)+1)
	}
	return "ok"
}

func lines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

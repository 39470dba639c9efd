package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(s string) *string { return &s }

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected *string
		want     Verdict
	}{
		{"trailing newline", "hello\n", ptr("hello"), Pass},
		{"trailing spaces and blank lines", "hello \n\n", ptr("hello"), Pass},
		{"case sensitive", "Hello", ptr("hello"), Fail},
		{"no expected output", "anything", nil, Unknown},
		{"crlf", "1\r\n2\r\n", ptr("1\n2"), Pass},
		{"leading whitespace matters", " 1", ptr("1"), Fail},
		{"inner blank line matters", "1\n\n2", ptr("1\n2"), Fail},
		{"both empty", "\n\n", ptr(""), Pass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.actual, tt.expected))
		})
	}
}

func TestCompareIsDeterministic(t *testing.T) {
	for range 100 {
		assert.Equal(t, Pass, Compare("a \nb\n\n", ptr("a\nb")))
	}
}

func TestExplain(t *testing.T) {
	assert.Equal(t, "ok", Explain("3\n", ptr("3")))
	assert.Equal(t, `line 2 is not correct: expected "5" but got "6"`, Explain("4\n6\n", ptr("4\n5")))
	assert.Equal(t, "unexpected EOF in line 2", Explain("4\n", ptr("4\n5")))
	assert.Equal(t, "extra output starting at line 2", Explain("4\n5", ptr("4")))
	assert.Equal(t, "no expected output", Explain("4", nil))
}

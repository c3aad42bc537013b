package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "trims whitespace", input: []string{"  design  ", "sql  ", "  go"}, expected: []string{"design", "sql", "go"}},
		{name: "keeps first occurrence", input: []string{"go", "sql", "go", "design", "sql"}, expected: []string{"go", "sql", "design"}},
		{name: "drops blanks", input: []string{"go", "", "  ", "sql"}, expected: []string{"go", "sql"}},
		{name: "preserves case", input: []string{"Go", "go", "GO"}, expected: []string{"Go", "go", "GO"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Nil(t, DedupeAndTrimLower(nil))
	assert.Equal(t, []string{"ana@example.org", "ben@example.org"},
		DedupeAndTrimLower([]string{" Ana@Example.org", "ben@example.org", "ANA@example.org "}))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, Dedupe([]int{3, 1, 3, 2, 1}))
	assert.Empty(t, Dedupe([]int{}))
}

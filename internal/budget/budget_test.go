package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	got := EstimateMessages(msgs)
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	// Two messages: 14
	if got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_TrimPassages_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	passages := []string{"first passage", "second passage"}
	got := TrimPassages(passages, 100, DefaultMaxContextTokens)
	if len(got) != 2 {
		t.Errorf("want 2 passages, got %d", len(got))
	}
}

func Test_TrimPassages_DropsLowestRanked(t *testing.T) {
	t.Parallel()
	// Each passage is 40 chars = 10 tokens. Reserved 5 tokens.
	// Budget 20: fits one passage (15) but not two (25).
	passages := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
	}
	got := TrimPassages(passages, 5, 20)
	if len(got) != 1 {
		t.Fatalf("want 1 passage after trim, got %d", len(got))
	}
	if got[0][0] != 'a' {
		t.Errorf("want top-ranked passage retained, got %q", got[0][:1])
	}
}

func Test_TrimPassages_AllDroppedWhenReservedExceedsBudget(t *testing.T) {
	t.Parallel()
	passages := []string{"a", "b"}
	got := TrimPassages(passages, 7000, 6000)
	if len(got) != 0 {
		t.Errorf("want 0 passages, got %d", len(got))
	}
}

func Test_TrimPassages_Empty(t *testing.T) {
	t.Parallel()
	got := TrimPassages(nil, 0, DefaultMaxContextTokens)
	if len(got) != 0 {
		t.Errorf("want empty, got %d", len(got))
	}
}

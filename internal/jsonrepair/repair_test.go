package jsonrepair

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_CleanObject(t *testing.T) {
	got, err := Repair(`{"a": 1, "b": "x"}`)
	require.NoError(t, err)
	want := map[string]any{"a": float64(1), "b": "x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestRepair_FencedEqualsBare(t *testing.T) {
	bare := `{"a": 1, "nested": {"b": [1, 2]}}`
	fenced := "```json\n" + bare + "\n```"
	plain := "```\n" + bare + "\n```"

	fromBare, err := Repair(bare)
	require.NoError(t, err)
	fromFenced, err := Repair(fenced)
	require.NoError(t, err)
	fromPlain, err := Repair(plain)
	require.NoError(t, err)

	if diff := cmp.Diff(fromBare, fromFenced); diff != "" {
		t.Errorf("json fence changed result:\n%s", diff)
	}
	if diff := cmp.Diff(fromBare, fromPlain); diff != "" {
		t.Errorf("bare fence changed result:\n%s", diff)
	}
}

func TestRepair_FencedTrailingComma(t *testing.T) {
	got, err := Repair("```json\n{\"a\": 1,}\n```")
	require.NoError(t, err)
	want := map[string]any{"a": float64(1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestRepair_ProseWrappedBareKeysSingleQuotes(t *testing.T) {
	got, err := Repair("Sure! Here you go: {a: 1, b: 'x'}")
	require.NoError(t, err)
	want := map[string]any{"a": float64(1), "b": "x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestRepair_SingleQuotedURLValue(t *testing.T) {
	// The "//" of the scheme must survive comment stripping even while
	// the value is still single-quoted.
	got, err := Repair(`{url: 'https://example.com/writeup'}`)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/writeup", got["url"])

	got, err = Repair(`{steps: ['visit https://example.com/a', 'send payload'], severity: 'high'}`)
	require.NoError(t, err)
	steps, ok := got["steps"].([]any)
	require.True(t, ok)
	require.Len(t, steps, 2)
	assert.Equal(t, "visit https://example.com/a", steps[0])
	assert.Equal(t, "high", got["severity"])
}

func TestRepair_TrailingCommas(t *testing.T) {
	cases := map[string]string{
		"object":  `{"a": 1, "b": 2,}`,
		"array":   `{"a": [1, 2, 3,]}`,
		"nested":  `{"a": {"b": [1,],},}`,
		"spaced":  "{\"a\": 1 , }",
		"newline": "{\"a\": 1,\n}",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Repair(in)
			assert.NoError(t, err)
		})
	}
}

func TestRepair_SmartQuotes(t *testing.T) {
	got, err := Repair(`{“a”: “hello”}`)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["a"])
}

func TestRepair_Comments(t *testing.T) {
	in := `{
		// generated config
		"a": 1, /* inline */ "b": 2
	}`
	got, err := Repair(in)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got["a"])
	assert.Equal(t, float64(2), got["b"])
}

func TestRepair_CommentMarkerInsideString(t *testing.T) {
	got, err := Repair(`{"url": "https://example.com/a"}`)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got["url"])
}

func TestRepair_ExtractionFromProse(t *testing.T) {
	in := "The analysis follows.\n\n{\"status\": \"ok\", \"note\": \"braces {inside} a string\"}\n\nLet me know if you need more."
	got, err := Repair(in)
	require.NoError(t, err)
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "braces {inside} a string", got["note"])
}

func TestRepair_UnterminatedString(t *testing.T) {
	got, err := Repair(`{"a": "truncated`)
	require.NoError(t, err)
	assert.Equal(t, "truncated", got["a"])
}

func TestRepairAny_Array(t *testing.T) {
	v, err := RepairAny(`[1, 2, 3,]`)
	require.NoError(t, err)
	arr, ok := v.([]any)
	require.True(t, ok)
	assert.Len(t, arr, 3)
}

func TestRepair_ArrayIsNotAnObject(t *testing.T) {
	_, err := Repair(`[1, 2, 3]`)
	require.Error(t, err)
	var f *Failure
	require.True(t, errors.As(err, &f))
}

func TestRepair_Idempotent(t *testing.T) {
	inputs := []string{
		"```json\n{\"a\": 1,}\n```",
		"Sure! Here you go: {a: 1, b: 'x'}",
		`{“k”: “v”,}`,
	}
	for _, in := range inputs {
		first, err := Repair(in)
		require.NoError(t, err, "input %q", in)

		canonical, err := json.Marshal(first)
		require.NoError(t, err)

		second, err := Repair(string(canonical))
		require.NoError(t, err)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("repair of canonical form diverged for %q:\n%s", in, diff)
		}
	}
}

func TestRepair_Deterministic(t *testing.T) {
	in := "noise {status: 'partial', n: 3,} trailing"
	a, errA := Repair(in)
	b, errB := Repair(in)
	require.Equal(t, errA == nil, errB == nil)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same input produced different values:\n%s", diff)
	}
}

func TestRepair_FailureCarriesBoundedExcerpt(t *testing.T) {
	raw := "no json here at all " + strings.Repeat("x", 2*ExcerptLimit)
	_, err := Repair(raw)
	require.Error(t, err)

	var f *Failure
	require.True(t, errors.As(err, &f), "error should be a *Failure, got %T", err)
	assert.LessOrEqual(t, len(f.Excerpt), ExcerptLimit+len("..."))
	assert.NotNil(t, f.Cause)
	assert.True(t, strings.HasPrefix(raw, strings.TrimSuffix(f.Excerpt, "...")))
}

func TestStripFence(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"json tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"no tag", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"upper tag", "```JSON\n{\"a\":1}\n```", `{"a":1}`},
		{"not fenced", `{"a":1}`, `{"a":1}`},
		{"other lang untouched", "```python\nprint()\n```", "```python\nprint()\n```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripFence(tc.in))
		})
	}
}

func TestExtractObject_DepthMatching(t *testing.T) {
	in := `prefix {"a": {"b": 1}, "c": "}"} suffix {"second": true}`
	frag, ok := ExtractObject(in)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}, "c": "}"}`, frag)
}

func TestExtractObject_Unbalanced(t *testing.T) {
	_, ok := ExtractObject(`{"a": {"b": 1}`)
	assert.False(t, ok)
}

func TestQuoteBareKeys(t *testing.T) {
	assert.Equal(t, `{"a": 1, "b_2": 2}`, QuoteBareKeys(`{a: 1, b_2: 2}`))
	// Quoted keys are left alone.
	assert.Equal(t, `{"a": 1}`, QuoteBareKeys(`{"a": 1}`))
	// Key-shaped text inside string values is not rewritten.
	assert.Equal(t, `{"snippet": "{ b: 1 }", "key": 2}`, QuoteBareKeys(`{"snippet": "{ b: 1 }", key: 2}`))
}

func TestRemoveTrailingCommas_IgnoresStringContent(t *testing.T) {
	in := `{"note": "wait, }", "a": 1,}`
	assert.Equal(t, `{"note": "wait, }", "a": 1}`, RemoveTrailingCommas(in))

	in = `{"csv": ", ]", "xs": [1, 2,]}`
	assert.Equal(t, `{"csv": ", ]", "xs": [1, 2]}`, RemoveTrailingCommas(in))
}

func TestSingleToDoubleQuotes(t *testing.T) {
	assert.Equal(t, `{"a": "x"}`, SingleToDoubleQuotes(`{"a": 'x'}`))
	// Apostrophes inside double-quoted strings are preserved.
	assert.Equal(t, `{"a": "it's"}`, SingleToDoubleQuotes(`{"a": "it's"}`))
	// Embedded double quotes get escaped.
	assert.Equal(t, `{"a": "say \"hi\""}`, SingleToDoubleQuotes(`{"a": 'say "hi"'}`))
}

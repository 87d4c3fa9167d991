package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khetimitra/crop-engine/pkg/types"
)

type fakeClient struct {
	answer string
	err    error
	prompt string
	model  string
}

func (f *fakeClient) Query(_ context.Context, model, prompt, _ string) (string, error) {
	f.model = model
	f.prompt = prompt
	return f.answer, f.err
}

func (f *fakeClient) Name() string { return "fake" }

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Disease ")
	require.NoError(t, err)
	assert.Equal(t, KindDisease, k)

	_, err = ParseKind("pests")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestAnalyze(t *testing.T) {
	fc := &fakeClient{answer: "```json\n" + `{
  "primary": {"label": "Leaf Rust", "confidence": 1.4, "severity": "HIGH",
    "box": {"x": 0.2, "y": 0.3, "w": 0.9, "h": 0.2}},
  // model commentary
  "description": "Orange pustules on the upper leaf surface.",
  "recommendations": ["Remove infected leaves", "  ", "Apply a fungicide",],
  "tags": ["Rust", "rust", "wheat", "fungal", "leaf", "orange", "extra"],
}` + "\n```"}

	d, err := New(fc).Analyze(context.Background(), "llava", KindDisease, "AAAA")
	require.NoError(t, err)

	assert.Equal(t, "llava", fc.model)
	assert.True(t, strings.Contains(fc.prompt, "plant disease"))

	assert.Equal(t, "disease", d.Kind)
	assert.Equal(t, "Leaf Rust", d.Primary.Label)
	assert.Equal(t, 1.0, d.Primary.Confidence)
	assert.Equal(t, "high", d.Primary.Severity)
	assert.InDelta(t, 0.8, d.Primary.Box.W, 1e-9)
	assert.InDelta(t, 0.2, d.Primary.Box.H, 1e-9)
	assert.Equal(t, []string{"Remove infected leaves", "Apply a fungicide"}, d.Recommendations)
	assert.Equal(t, []string{"rust", "wheat", "fungal", "leaf", "orange"}, d.Tags)
}

func TestAnalyzeFallback(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		label  string
	}{
		{"prose", "I think this is a healthy leaf.", "unclear"},
		{"broken json", `{"primary": {"label": }`, "parse error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := New(&fakeClient{answer: tc.answer}).Analyze(context.Background(), "m", KindSoil, "")
			require.NoError(t, err)
			assert.Equal(t, tc.label, d.Primary.Label)
			assert.Equal(t, "soil", d.Kind)
			assert.Equal(t, 0.1, d.Primary.Confidence)
			assert.Equal(t, types.Box{W: 1, H: 1}, d.Primary.Box)
			assert.Contains(t, d.Tags, "fallback")
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := New(&fakeClient{}).Analyze(context.Background(), "m", Kind("bugs"), "")
	assert.ErrorIs(t, err, ErrUnknownKind)

	backendErr := errors.New("connection refused")
	_, err = New(&fakeClient{err: backendErr}).Analyze(context.Background(), "m", KindWeed, "")
	assert.ErrorIs(t, err, backendErr)
}

func TestNormalizeDefaults(t *testing.T) {
	d := &types.Diagnosis{Primary: types.Finding{Severity: "catastrophic", Confidence: -2}}
	normalize(d)
	assert.Equal(t, "unknown", d.Primary.Label)
	assert.Equal(t, "medium", d.Primary.Severity)
	assert.Equal(t, 0.0, d.Primary.Confidence)
	assert.Equal(t, types.Box{W: 1, H: 1}, d.Primary.Box)
	assert.Empty(t, d.Tags)
}

// Package analysis turns a cropped field photo into a structured diagnosis by
// asking a vision model and cleaning up whatever JSON it sends back.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/khetimitra/crop-engine/pkg/client"
	"github.com/khetimitra/crop-engine/pkg/types"
)

// ErrUnknownKind is returned for an analysis kind that has no prompt
var ErrUnknownKind = errors.New("unknown analysis kind")

// Kind selects what the model is asked to look for
type Kind string

const (
	KindDisease Kind = "disease"
	KindWeed    Kind = "weed"
	KindSoil    Kind = "soil"
)

// ParseKind converts a user-supplied name to a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := prompts[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

const responseFormat = `
Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "severity": "none|low|medium|high",
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  },
  "description": "short factual sentence (<= 25 words)",
  "recommendations": ["step 1", "step 2", "step 3"],
  "tags": ["tag1", "tag2", "tag3"]
}

RULES
- Coordinates are normalized to [0,1], not pixels.
- The box tightly covers the affected area.
- If nothing is found use label "healthy", severity "none" and a box covering the whole image.
- Recommendations are practical actions a smallholder farmer can take.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

var prompts = map[Kind]string{
	KindDisease: `You are an agronomist looking at a cropped photo of a crop leaf or plant.
Identify the most likely plant disease or pest damage.` + responseFormat,
	KindWeed: `You are an agronomist looking at a cropped photo of a field.
Identify the dominant weed species competing with the crop.` + responseFormat,
	KindSoil: `You are a soil scientist looking at a cropped photo of soil.
Assess visible texture, moisture and signs of nutrient deficiency or salinity.` + responseFormat,
}

// Prompt returns the prompt sent for kind
func Prompt(kind Kind) (string, error) {
	p, ok := prompts[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return p, nil
}

var severities = map[string]struct{}{
	"none": {}, "low": {}, "medium": {}, "high": {},
}

// Analyzer asks a vision backend for a diagnosis
type Analyzer struct {
	client client.VisionClient
}

// New creates an analyzer backed by c
func New(c client.VisionClient) *Analyzer {
	return &Analyzer{client: c}
}

// Analyze sends the base64 image with the prompt for kind and parses the
// answer. Unparseable output yields a low-confidence fallback, not an error.
func (a *Analyzer) Analyze(ctx context.Context, model string, kind Kind, imageB64 string) (*types.Diagnosis, error) {
	prompt, err := Prompt(kind)
	if err != nil {
		return nil, err
	}

	raw, err := a.client.Query(ctx, model, prompt, imageB64)
	if err != nil {
		return nil, fmt.Errorf("%s query failed: %w", a.client.Name(), err)
	}

	d := parseDiagnosis(raw)
	d.Kind = string(kind)
	normalize(d)
	return d, nil
}

func fallback(label, description string, tags ...string) *types.Diagnosis {
	return &types.Diagnosis{
		Primary: types.Finding{
			Label:      label,
			Confidence: 0.1,
			Severity:   "none",
			Box:        types.Box{X: 0, Y: 0, W: 1, H: 1},
		},
		Description: description,
		Tags:        append(tags, "fallback"),
	}
}

func parseDiagnosis(raw string) *types.Diagnosis {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return fallback("unclear", "Model returned non-JSON response", "non-json")
	}

	var d types.Diagnosis
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return fallback("parse error", "Failed to parse model response", "parse-error")
	}
	return &d
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas, then
// keeps the outermost object
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

func normalize(d *types.Diagnosis) {
	p := &d.Primary
	p.Label = strings.TrimSpace(p.Label)
	if p.Label == "" {
		p.Label = "unknown"
	}
	p.Confidence = clamp(p.Confidence, 0, 1)

	p.Severity = strings.ToLower(strings.TrimSpace(p.Severity))
	if _, ok := severities[p.Severity]; !ok {
		p.Severity = "medium"
	}

	p.Box = normalizeBox(p.Box)
	d.Tags = normalizeTags(d.Tags)

	recs := d.Recommendations[:0]
	for _, r := range d.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
	}
	d.Recommendations = recs
}

// normalizeBox clamps the box into the unit square; an empty box becomes
// the whole image
func normalizeBox(b types.Box) types.Box {
	b.X = clamp(b.X, 0, 1)
	b.Y = clamp(b.Y, 0, 1)
	b.W = clamp(b.W, 0, 1-b.X)
	b.H = clamp(b.H, 0, 1-b.Y)
	if b.W == 0 || b.H == 0 {
		return types.Box{X: 0, Y: 0, W: 1, H: 1}
	}
	return b
}

// normalizeTags lowercases, dedupes and limits tags to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

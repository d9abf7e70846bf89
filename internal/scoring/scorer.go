// Package scoring converts raw model responses into ranked, validated
// suggestion records. The scorer is stateless; given the same response it
// always produces the same adjusted confidences and ranks.
package scoring

import (
	"encoding/json"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"curator/internal/logging"
	"curator/internal/types"
)

// Fixed penalties subtracted from the model confidence per validation flag.
const (
	penaltyEmptyValue       = 30
	penaltyIllegalChars     = 20
	penaltyExtensionChanged = 15
	penaltyTooLong          = 10
)

// maxValueLength is the longest value accepted without a too-long flag.
const maxValueLength = 100

// illegalFilenameChars are rejected in rename candidates and penalized
// everywhere else.
const illegalFilenameChars = `/\:*?"<>|`

// candidateResponse is the structured object prompts ask the model to emit.
type candidateResponse struct {
	Candidates []candidate `json:"candidates"`
	// Some models answer with "suggestions" despite the prompt; accept it.
	Suggestions []candidate `json:"suggestions"`
}

type candidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Scorer turns one model response into ranked suggestions. Priors, when
// set, shift confidence per (model, kind) based on observed model quality.
type Scorer struct {
	priors map[string]int

	now   func() time.Time
	newID func() string
}

// NewScorer creates a scorer with no priors.
func NewScorer() *Scorer {
	return &Scorer{
		priors: make(map[string]int),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetPrior registers a confidence delta for one model and analysis kind.
func (s *Scorer) SetPrior(model string, kind types.AnalysisKind, delta int) {
	s.priors[priorKey(model, kind)] = delta
}

func priorKey(model string, kind types.AnalysisKind) string {
	return model + "/" + string(kind)
}

// Score parses the raw response for one (file, kind) pair and returns
// ranked suggestions. A response that cannot be parsed yields exactly one
// unranked suggestion flagged parse-error.
func (s *Scorer) Score(file types.FileRecord, kind types.AnalysisKind, model string, durationMs int64, raw string) []types.Suggestion {
	candidates, err := parseCandidates(raw)
	if err != nil {
		logging.Scoring("Parse failure for file=%s kind=%s model=%s: %v", file.ID, kind, model, err)
		return []types.Suggestion{{
			ID:         s.newID(),
			FileID:     file.ID,
			Kind:       kind,
			Model:      model,
			DurationMs: durationMs,
			Flags:      []types.ValidationFlag{types.FlagParseError},
			Reasoning:  "response could not be parsed as structured candidates",
			CreatedAt:  s.now(),
		}}
	}

	suggestions := make([]types.Suggestion, 0, len(candidates))
	for _, c := range candidates {
		flags := s.validate(file, kind, c.Value)
		adjusted := s.adjust(model, kind, int(math.Round(c.Confidence)), flags)

		suggestions = append(suggestions, types.Suggestion{
			ID:                 s.newID(),
			FileID:             file.ID,
			Kind:               kind,
			Value:              c.Value,
			OriginalConfidence: clampConfidence(int(math.Round(c.Confidence))),
			AdjustedConfidence: adjusted,
			QualityScore:       qualityScore(adjusted, c.Reasoning, len(flags)),
			Reasoning:          c.Reasoning,
			Model:              model,
			DurationMs:         durationMs,
			Flags:              flags,
			CreatedAt:          s.now(),
		})
	}

	rank(suggestions)
	logging.ScoringDebug("Scored %d candidates for file=%s kind=%s", len(suggestions), file.ID, kind)
	return suggestions
}

// parseCandidates decodes the structured response. An object with neither a
// candidate list nor a suggestion list, or an empty list, is a parse failure.
func parseCandidates(raw string) ([]candidate, error) {
	trimmed := strings.TrimSpace(raw)

	// Models occasionally wrap JSON in a markdown fence despite format=json.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var resp candidateResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, types.NewKindError(types.ErrKindResponseInvalid, err)
	}

	candidates := resp.Candidates
	if len(candidates) == 0 {
		candidates = resp.Suggestions
	}
	if len(candidates) == 0 {
		return nil, types.Errorf(types.ErrKindResponseInvalid, "response carries no candidates")
	}
	return candidates, nil
}

// validate returns the flags a candidate value earns. Flag order is fixed
// so scoring stays deterministic.
func (s *Scorer) validate(file types.FileRecord, kind types.AnalysisKind, value string) []types.ValidationFlag {
	var flags []types.ValidationFlag

	if strings.TrimSpace(value) == "" {
		flags = append(flags, types.FlagEmptyValue)
		return flags
	}
	if strings.ContainsAny(value, illegalFilenameChars) {
		flags = append(flags, types.FlagIllegalChars)
	}
	if len(value) > maxValueLength {
		flags = append(flags, types.FlagTooLong)
	}
	if kind == types.KindRenameSuggestions {
		ext := strings.ToLower(filepath.Ext(value))
		if ext != file.Extension {
			flags = append(flags, types.FlagExtensionChanged)
		}
	}
	return flags
}

// adjust applies per-flag penalties and the model-quality prior, clamping
// the result to 0-100.
func (s *Scorer) adjust(model string, kind types.AnalysisKind, confidence int, flags []types.ValidationFlag) int {
	adjusted := confidence
	for _, f := range flags {
		switch f {
		case types.FlagEmptyValue:
			adjusted -= penaltyEmptyValue
		case types.FlagIllegalChars:
			adjusted -= penaltyIllegalChars
		case types.FlagExtensionChanged:
			adjusted -= penaltyExtensionChanged
		case types.FlagTooLong:
			adjusted -= penaltyTooLong
		}
	}
	adjusted += s.priors[priorKey(model, kind)]
	return clampConfidence(adjusted)
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// qualityScore composes adjusted confidence, reasoning length, and flag
// count into a 0-1 tie-break score. Reasoning length contributes with
// diminishing returns so a wall of text does not dominate.
func qualityScore(adjusted int, reasoning string, flagCount int) float64 {
	confidencePart := 0.7 * float64(adjusted) / 100

	// log-scaled against a 400-char reference; saturates near 1.
	reasoningPart := 0.3 * math.Min(1, math.Log1p(float64(len(reasoning)))/math.Log1p(400))

	q := confidencePart + reasoningPart - 0.05*float64(flagCount)
	return math.Max(0, math.Min(1, q))
}

// rank orders suggestions by (adjusted confidence desc, quality desc,
// original order) and assigns 1-based rank positions. The rank-1 candidate
// is recommended only when it carries no flags.
func rank(suggestions []types.Suggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].AdjustedConfidence != suggestions[j].AdjustedConfidence {
			return suggestions[i].AdjustedConfidence > suggestions[j].AdjustedConfidence
		}
		return suggestions[i].QualityScore > suggestions[j].QualityScore
	})

	for i := range suggestions {
		suggestions[i].Rank = i + 1
		suggestions[i].Recommended = i == 0 && len(suggestions[i].Flags) == 0
	}
}

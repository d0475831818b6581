package confidence

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

const contextRadius = 20

// Scorer extracts uncertainty signals from response text and combines them
// with the upstream model-confidence signal into a pass/fail verdict.
// Evaluate is deterministic and side-effect free: identical inputs always
// produce identical output, which audit reproducibility depends on.
type Scorer struct {
	config  Config
	markers []MarkerPattern
	// lowered scrutiny categories for case-insensitive membership checks
	scrutiny map[string]bool
	logger   *logger.Logger
}

// New validates the configuration once; Evaluate never fails afterward.
func New(cfg Config, log *logger.Logger) (*Scorer, error) {
	return NewWithMarkers(cfg, DefaultMarkers(), log)
}

// NewWithMarkers builds a scorer over a caller-supplied phrase catalogue.
func NewWithMarkers(cfg Config, markers []MarkerPattern, log *logger.Logger) (*Scorer, error) {
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence must be in [0,1], got %v", cfg.MinConfidence)
	}
	if cfg.MaxUncertainty < 0 || cfg.MaxUncertainty > 1 {
		return nil, fmt.Errorf("max uncertainty must be in [0,1], got %v", cfg.MaxUncertainty)
	}
	if cfg.RequireCitations && cfg.MinCitations <= 0 {
		return nil, fmt.Errorf("min citations must be positive when citations are required, got %d", cfg.MinCitations)
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Weights.NormalizationChars <= 0 {
		return nil, fmt.Errorf("normalization chars must be positive, got %d", cfg.Weights.NormalizationChars)
	}

	for _, m := range markers {
		if m.Phrase == "" {
			return nil, fmt.Errorf("marker pattern with empty phrase")
		}
		if m.Weight < 0 || m.Weight > 1 {
			return nil, fmt.Errorf("marker %q weight must be in [0,1], got %v", m.Phrase, m.Weight)
		}
	}

	scrutiny := make(map[string]bool, len(cfg.HighScrutinyCategories))
	for _, c := range cfg.HighScrutinyCategories {
		scrutiny[strings.ToLower(c)] = true
	}

	s := &Scorer{
		config:   cfg,
		markers:  markers,
		scrutiny: scrutiny,
		logger:   log.WithComponent("confidence"),
	}

	s.logger.Info("confidence scorer initialized",
		zap.Float64("min_confidence", cfg.MinConfidence),
		zap.Float64("max_uncertainty", cfg.MaxUncertainty),
		zap.Int("marker_patterns", len(markers)),
	)
	return s, nil
}

// Evaluate scores one response. Free text is never invalid; ambiguity comes
// back as numbers, not as an error.
func (s *Scorer) Evaluate(input Input) Evaluation {
	w := s.config.Weights

	markers := s.findMarkers(input.Content)

	var weightSum float64
	for _, m := range markers {
		weightSum += m.Weight
	}
	denom := float64(len(input.Content)) / float64(w.NormalizationChars)
	if denom < 1 {
		denom = 1
	}
	uncertainty := weightSum / denom
	if uncertainty > 1 {
		uncertainty = 1
	}

	quality := s.qualityScore(input.Content)

	modelConf := w.DefaultModelConfidence
	if input.ModelConfidence != nil {
		modelConf = *input.ModelConfidence
	}

	confidence := modelConf - uncertainty*w.UncertaintyPenalty + (quality-0.5)*w.QualityBonus
	highScrutiny := input.Category != "" && s.scrutiny[strings.ToLower(input.Category)]
	if highScrutiny {
		confidence -= w.ScrutinyPenalty
	}
	confidence = clamp01(confidence)

	var reasons []string
	if confidence < s.config.MinConfidence {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below minimum %.2f", confidence, s.config.MinConfidence))
	}
	if uncertainty > s.config.MaxUncertainty {
		reasons = append(reasons, fmt.Sprintf("uncertainty %.2f above maximum %.2f", uncertainty, s.config.MaxUncertainty))
	}
	if s.config.RequireCitations && len(input.Citations) < s.config.MinCitations {
		reasons = append(reasons, fmt.Sprintf("citations %d below required %d", len(input.Citations), s.config.MinCitations))
	}

	passed := len(reasons) == 0
	return Evaluation{
		Passed:              passed,
		ConfidenceScore:     confidence,
		UncertaintyScore:    uncertainty,
		QualityScore:        quality,
		RequiresHumanReview: !passed && !s.config.DisableEscalation,
		Reasons:             reasons,
		Markers:             markers,
	}
}

// findMarkers records every catalogue phrase occurrence with its position
// and a context window for operator explainability. Matching runs over a
// lowercased copy; positions are mapped back to the original text, which
// can differ in byte length once lowercasing touches non-ASCII runes.
func (s *Scorer) findMarkers(content string) []Marker {
	lowered, offsets := lowerPreservingOffsets(content)

	var markers []Marker
	for _, pattern := range s.markers {
		phrase := strings.ToLower(pattern.Phrase)
		from := 0
		for {
			idx := strings.Index(lowered[from:], phrase)
			if idx < 0 {
				break
			}
			pos := from + idx
			end := pos + len(phrase)

			ctxStart := pos - contextRadius
			if ctxStart < 0 {
				ctxStart = 0
			}
			ctxEnd := end + contextRadius
			if ctxEnd > len(lowered) {
				ctxEnd = len(lowered)
			}

			markers = append(markers, Marker{
				Text:     content[offsets[pos]:offsets[end]],
				Position: offsets[pos],
				Context:  content[offsets[ctxStart]:offsets[ctxEnd]],
				Weight:   pattern.Weight,
				Category: pattern.Category,
			})
			from = end
		}
	}

	sort.SliceStable(markers, func(i, j int) bool { return markers[i].Position < markers[j].Position })
	return markers
}

// lowerPreservingOffsets lowercases rune by rune and records, for every byte
// of the lowered text plus one past the end, the byte offset of the
// originating rune in the input. Offsets landing mid-rune map to that rune's
// start, so any mapped slice stays on rune boundaries of the original.
func lowerPreservingOffsets(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		lr := unicode.ToLower(r)
		for n := utf8.RuneLen(lr); n > 0; n-- {
			offsets = append(offsets, i)
		}
		b.WriteRune(lr)
	}
	offsets = append(offsets, len(s))
	return b.String(), offsets
}

// qualityScore is a crude well-formedness proxy, not semantic correctness:
// 0.5 base plus a fixed increment per satisfied signal, capped at 1.
func (s *Scorer) qualityScore(content string) float64 {
	w := s.config.Weights
	score := 0.5

	if len(strings.Fields(content)) >= 50 {
		score += w.QualityIncrement
	}
	if strings.Contains(content, "\n") {
		score += w.QualityIncrement
	}
	if strings.ContainsFunc(content, unicode.IsDigit) {
		score += w.QualityIncrement
	}
	if strings.ContainsAny(content, ".!?") {
		score += w.QualityIncrement
	}

	if score > 1 {
		score = 1
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package confidence

// Category groups uncertainty markers by what they signal.
type Category string

const (
	CategoryHedging     Category = "hedging"
	CategorySpeculation Category = "speculation"
	CategoryLimitation  Category = "limitation"
)

// MarkerPattern is one catalogued uncertainty phrase with its weight in
// [0,1]. The catalogue is matched case-insensitively.
type MarkerPattern struct {
	Phrase   string
	Weight   float64
	Category Category
}

// Marker is one occurrence of a catalogued phrase in the evaluated content,
// with surrounding context for explainability. Ephemeral: derived per
// evaluation, never stored.
type Marker struct {
	Text     string   `json:"text"`
	Position int      `json:"position"`
	Context  string   `json:"context"`
	Weight   float64  `json:"weight"`
	Category Category `json:"category"`
}

// Weights holds the scoring constants. They are tuned values, not physics;
// treat them as knobs and override per deployment where measurement says
// otherwise.
type Weights struct {
	// NormalizationChars divides content length when normalizing marker
	// density, so long documents are not over-penalized for a single hedge.
	NormalizationChars int `yaml:"normalization_chars" mapstructure:"normalization_chars"`
	// UncertaintyPenalty scales the uncertainty score's pull on confidence.
	UncertaintyPenalty float64 `yaml:"uncertainty_penalty" mapstructure:"uncertainty_penalty"`
	// QualityBonus scales the quality score's push on confidence.
	QualityBonus float64 `yaml:"quality_bonus" mapstructure:"quality_bonus"`
	// ScrutinyPenalty is subtracted for high-scrutiny categories.
	ScrutinyPenalty float64 `yaml:"scrutiny_penalty" mapstructure:"scrutiny_penalty"`
	// QualityIncrement is added per satisfied well-formedness signal.
	QualityIncrement float64 `yaml:"quality_increment" mapstructure:"quality_increment"`
	// DefaultModelConfidence stands in when the provider reports none.
	DefaultModelConfidence float64 `yaml:"default_model_confidence" mapstructure:"default_model_confidence"`
}

// DefaultWeights returns the stock scoring constants.
func DefaultWeights() Weights {
	return Weights{
		NormalizationChars:     500,
		UncertaintyPenalty:     0.3,
		QualityBonus:           0.2,
		ScrutinyPenalty:        0.1,
		QualityIncrement:       0.125,
		DefaultModelConfidence: 0.7,
	}
}

// Config controls the pass/fail verdict.
type Config struct {
	MinConfidence          float64  `yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxUncertainty         float64  `yaml:"max_uncertainty" mapstructure:"max_uncertainty"`
	RequireCitations       bool     `yaml:"require_citations" mapstructure:"require_citations"`
	MinCitations           int      `yaml:"min_citations" mapstructure:"min_citations"`
	HighScrutinyCategories []string `yaml:"high_scrutiny_categories" mapstructure:"high_scrutiny_categories"`
	// DisableEscalation turns off the requires-human-review flag on failed
	// evaluations. Escalation is on by default.
	DisableEscalation bool    `yaml:"disable_escalation" mapstructure:"disable_escalation"`
	Weights           Weights `yaml:"weights" mapstructure:"weights"`
}

// Input is one response to evaluate.
type Input struct {
	Content         string
	ModelConfidence *float64
	Category        string
	Citations       []string
	Metadata        map[string]interface{}
}

// Evaluation is the verdict. Low confidence is data, not an error: the
// engine reports RequiresHumanReview and leaves the rejection decision to
// the caller.
type Evaluation struct {
	Passed              bool     `json:"passed"`
	ConfidenceScore     float64  `json:"confidenceScore"`
	UncertaintyScore    float64  `json:"uncertaintyScore"`
	QualityScore        float64  `json:"qualityScore"`
	RequiresHumanReview bool     `json:"requiresHumanReview"`
	Reasons             []string `json:"reasons,omitempty"`
	Markers             []Marker `json:"markers,omitempty"`
}

package detect

import "regexp"

// Type identifies a sensitive-data pattern family.
type Type string

const (
	TypeSSN          Type = "ssn"
	TypeCreditCard   Type = "credit_card"
	TypeEmail        Type = "email"
	TypePhone        Type = "phone"
	TypeIPAddress    Type = "ip_address"
	TypeAPIKey       Type = "api_key"
	TypeAWSAccessKey Type = "aws_access_key"
)

// Mode selects what Process does with the text after detection.
type Mode string

const (
	ModeDetect Mode = "detect"
	ModeRedact Mode = "redact"
	ModeMask   Mode = "mask"
)

// Rule is one registered detection pattern. Rules are immutable after the
// detector is constructed.
//
// Validate, when set, rejects raw regex matches that fail structural checks
// (Luhn for cards, SSN area/group/serial rules). Mask produces the partially
// visible variant of a match. Priority decides the winner when matches from
// different rules overlap: higher priority wins, ties go to the later start
// offset.
type Rule struct {
	Type       Type
	Pattern    *regexp.Regexp
	Confidence float64
	Priority   int
	Validate   func(match string) bool
	Mask       func(match string) string
}

// Detection is a validated, located occurrence of a pattern in the input.
type Detection struct {
	Type          Type    `json:"type"`
	Value         string  `json:"-"` // never serialize the raw value
	MaskedValue   string  `json:"maskedValue"`
	RedactedToken string  `json:"redactedToken"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Confidence    float64 `json:"confidence"`
}

// Result is the outcome of one Process call. Detections are pairwise
// disjoint and ordered ascending by start offset. RedactedText and
// MaskedText are always derived; Text carries the variant selected by the
// configured mode.
type Result struct {
	Detections   []Detection `json:"detections"`
	Text         string      `json:"-"`
	RedactedText string      `json:"-"`
	MaskedText   string      `json:"-"`
	HasPII       bool        `json:"hasPII"`
}

// Config controls which rules run and how matches are rewritten.
type Config struct {
	EnabledTypes        []string          `yaml:"enabled_types" mapstructure:"enabled_types"`
	DisabledTypes       []string          `yaml:"disabled_types" mapstructure:"disabled_types"`
	RedactionTokens     map[string]string `yaml:"redaction_tokens" mapstructure:"redaction_tokens"`
	ConfidenceThreshold float64           `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	Mode                Mode              `yaml:"mode" mapstructure:"mode"`
}

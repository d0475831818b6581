package detect

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

// Detector matches sensitive-data patterns in text, resolves overlapping
// matches, and produces redacted and masked variants. It is pure per call
// and safe for concurrent use.
type Detector struct {
	rules   []Rule
	enabled map[Type]bool
	tokens  map[Type]string
	mode    Mode
	minConf float64
	logger  *logger.Logger
}

// New builds a detector over the built-in rule set. Malformed configuration
// fails here, never during Process.
func New(cfg Config, log *logger.Logger) (*Detector, error) {
	return NewWithRules(cfg, DefaultRules(), log)
}

// NewWithRules builds a detector over a caller-supplied rule table. Rule
// registration order is the documented tie-break order for overlapping
// matches of equal priority.
func NewWithRules(cfg Config, rules []Rule, log *logger.Logger) (*Detector, error) {
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold must be in [0,1], got %v", cfg.ConfidenceThreshold)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeRedact
	}
	switch mode {
	case ModeDetect, ModeRedact, ModeMask:
	default:
		return nil, fmt.Errorf("unknown mode: %s", mode)
	}

	known := make(map[Type]bool, len(rules))
	for _, rule := range rules {
		if rule.Pattern == nil {
			return nil, fmt.Errorf("rule %s has no pattern", rule.Type)
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, fmt.Errorf("rule %s confidence must be in [0,1], got %v", rule.Type, rule.Confidence)
		}
		if known[rule.Type] {
			return nil, fmt.Errorf("duplicate rule type: %s", rule.Type)
		}
		known[rule.Type] = true
	}

	enabled := make(map[Type]bool, len(rules))
	if len(cfg.EnabledTypes) == 0 {
		for t := range known {
			enabled[t] = true
		}
	} else {
		for _, name := range cfg.EnabledTypes {
			if name == "all" {
				for t := range known {
					enabled[t] = true
				}
				continue
			}
			if !known[Type(name)] {
				return nil, fmt.Errorf("unknown detector type: %s", name)
			}
			enabled[Type(name)] = true
		}
	}
	for _, name := range cfg.DisabledTypes {
		if !known[Type(name)] {
			return nil, fmt.Errorf("unknown detector type: %s", name)
		}
		enabled[Type(name)] = false
	}

	tokens := make(map[Type]string)
	for t, token := range DefaultRedactionTokens() {
		tokens[Type(t)] = token
	}
	for name, token := range cfg.RedactionTokens {
		if !known[Type(name)] {
			return nil, fmt.Errorf("redaction token for unknown type: %s", name)
		}
		if token == "" {
			return nil, fmt.Errorf("empty redaction token for type: %s", name)
		}
		tokens[Type(name)] = token
	}

	d := &Detector{
		rules:   rules,
		enabled: enabled,
		tokens:  tokens,
		mode:    mode,
		minConf: cfg.ConfidenceThreshold,
		logger:  log.WithComponent("detect"),
	}

	count := 0
	for _, on := range enabled {
		if on {
			count++
		}
	}
	d.logger.Info("pattern detector initialized",
		zap.Int("total_rules", len(rules)),
		zap.Int("enabled_rules", count),
		zap.String("mode", string(mode)),
	)

	return d, nil
}

type candidate struct {
	rule  *Rule
	start int
	end   int
	value string
}

// Process scans text with every enabled rule and returns the surviving,
// non-overlapping detections together with redacted and masked rewrites.
// Free text is never invalid; Process does not fail.
func (d *Detector) Process(text string) Result {
	var candidates []candidate
	for i := range d.rules {
		rule := &d.rules[i]
		if !d.enabled[rule.Type] || rule.Confidence < d.minConf {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if rule.Validate != nil && !rule.Validate(value) {
				continue
			}
			candidates = append(candidates, candidate{rule: rule, start: loc[0], end: loc[1], value: value})
		}
	}

	kept := resolveOverlaps(candidates)

	detections := make([]Detection, 0, len(kept))
	for _, c := range kept {
		masked := c.value
		if c.rule.Mask != nil {
			masked = c.rule.Mask(c.value)
		}
		detections = append(detections, Detection{
			Type:          c.rule.Type,
			Value:         c.value,
			MaskedValue:   masked,
			RedactedToken: d.tokens[c.rule.Type],
			Start:         c.start,
			End:           c.end,
			Confidence:    c.rule.Confidence,
		})
	}

	result := Result{
		Detections:   detections,
		RedactedText: replace(text, detections, func(det Detection) string { return det.RedactedToken }),
		MaskedText:   replace(text, detections, func(det Detection) string { return det.MaskedValue }),
		HasPII:       len(detections) > 0,
	}

	switch d.mode {
	case ModeRedact:
		result.Text = result.RedactedText
	case ModeMask:
		result.Text = result.MaskedText
	default:
		result.Text = text
	}

	if result.HasPII {
		types := make([]string, 0, len(detections))
		for _, det := range detections {
			types = append(types, string(det.Type))
		}
		d.logger.Debug("sensitive data detected",
			zap.Int("count", len(detections)),
			zap.String("types", strings.Join(types, ",")),
		)
	}

	return result
}

// resolveOverlaps keeps at most one match per overlapping region. Candidates
// are considered in rule-priority order, higher first; within a rule the
// match with the greater start offset is considered first. A candidate is
// kept only if its span intersects no already-kept span; losers are dropped
// whole, never merged. The survivors come back ordered ascending by start.
func resolveOverlaps(candidates []candidate) []candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rule.Priority != candidates[j].rule.Priority {
			return candidates[i].rule.Priority > candidates[j].rule.Priority
		}
		return candidates[i].start > candidates[j].start
	})

	var kept []candidate
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.start < k.end && k.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

// replace rewrites each detection span, walking from the highest start
// offset down so earlier offsets stay valid.
func replace(text string, detections []Detection, repl func(Detection) string) string {
	out := text
	for i := len(detections) - 1; i >= 0; i-- {
		det := detections[i]
		out = out[:det.Start] + repl(det) + out[det.End:]
	}
	return out
}

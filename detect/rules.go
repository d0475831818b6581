package detect

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultRules returns the built-in rule set. Registration order matches
// priority order: when spans from two rules overlap, the rule with the
// higher Priority keeps its match and the other is dropped whole.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:       TypeAWSAccessKey,
			Pattern:    regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Confidence: 0.95,
			Priority:   95,
			Mask:       maskKey,
		},
		{
			Type:       TypeAPIKey,
			Pattern:    regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}\b`),
			Confidence: 0.9,
			Priority:   90,
			Mask:       maskKey,
		},
		{
			Type:       TypeEmail,
			Pattern:    regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`),
			Confidence: 0.95,
			Priority:   88,
			Mask:       maskEmail,
		},
		{
			Type:       TypeCreditCard,
			Pattern:    regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
			Confidence: 0.85,
			Priority:   85,
			Validate:   luhnValid,
			Mask:       maskCard,
		},
		{
			Type:       TypeSSN,
			Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Confidence: 0.9,
			Priority:   80,
			Validate:   validSSN,
			Mask:       maskSSN,
		},
		{
			Type:       TypeIPAddress,
			Pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Confidence: 0.8,
			Priority:   60,
			Validate:   validIPv4,
			Mask:       maskIP,
		},
		{
			Type:       TypePhone,
			Pattern:    regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`),
			Confidence: 0.7,
			Priority:   50,
			Mask:       maskPhone,
		},
	}
}

// DefaultRedactionTokens maps each built-in type to its fixed replacement.
// Tokens deliberately contain no digit runs so redacted output can never
// re-trigger a rule.
func DefaultRedactionTokens() map[string]string {
	return map[string]string{
		string(TypeSSN):          "[SSN-REDACTED]",
		string(TypeCreditCard):   "[CARD-REDACTED]",
		string(TypeEmail):        "[EMAIL-REDACTED]",
		string(TypePhone):        "[PHONE-REDACTED]",
		string(TypeIPAddress):    "[IP-REDACTED]",
		string(TypeAPIKey):       "[API-KEY-REDACTED]",
		string(TypeAWSAccessKey): "[AWS-KEY-REDACTED]",
	}
}

// luhnValid runs the Luhn checksum over the digits of a candidate card
// number. Plain 16-digit sequences that fail the checksum are not cards.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// validSSN applies SSA structural rules: area != 000/666 and < 900,
// group != 00, serial != 0000.
func validSSN(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return false
	}

	area, err := strconv.Atoi(parts[0])
	if err != nil || area == 0 || area == 666 || area >= 900 {
		return false
	}
	group, err := strconv.Atoi(parts[1])
	if err != nil || group == 0 {
		return false
	}
	serial, err := strconv.Atoi(parts[2])
	if err != nil || serial == 0 {
		return false
	}
	return true
}

func validIPv4(s string) bool {
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func maskSSN(s string) string {
	return "XXX-XX-" + s[len(s)-4:]
}

func maskCard(s string) string {
	digits := digitsOf(s)
	return "****-****-****-" + digits[len(digits)-4:]
}

func maskEmail(s string) string {
	at := strings.Index(s, "@")
	if at <= 0 {
		return "***"
	}
	return s[:1] + "***" + s[at:]
}

func maskPhone(s string) string {
	digits := digitsOf(s)
	return "***-***-" + digits[len(digits)-4:]
}

func maskIP(s string) string {
	dot := strings.Index(s, ".")
	if dot < 0 {
		return "x.x.x.x"
	}
	return s[:dot] + ".x.x.x"
}

func maskKey(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Package parser extracts structured decisions from raw model output.
package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/alphagauge/biasbench/domain"
)

var (
	actionRe = regexp.MustCompile(`(?i)\b(BUY|SELL|HOLD|ABSTAIN)\b`)
	choiceRe = regexp.MustCompile(`(?i)\b([AB])\b`)

	confidenceRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)confidence(?:\s*score)?\s*[:=]?\s*(\d{1,3}(?:\.\d+)?)\s*%?`),
		regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s*confidence`),
	}
	barePercentRe = regexp.MustCompile(`\b(\d{1,3}(?:\.\d+)?)\s*%`)

	estimateRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:price\s*target|target\s*price|estimate|fair\s*value)\s*[:=]?\s*\$?\s*(-?\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)target\s*of\s*\$?\s*(-?\d+(?:\.\d+)?)`),
	}
	rationaleRe = regexp.MustCompile(`(?is)rationale\s*[:=]\s*(.+)$`)
)

// Parser recovers an action/estimate/confidence/rationale tuple from
// free-form or semi-structured model output. It applies a prioritized chain
// of strategies and never fails on malformed input: the second return value
// tags the result as parsed or unparseable, and unparseable responses are
// retained upstream for audit.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse runs the strategy chain for the given bias type. ok is false when no
// strategy could recover a usable decision.
func (p *Parser) Parse(raw string, biasType domain.BiasType) (*domain.ParsedDecision, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	if d, ok := p.parseStructured(raw, biasType); ok {
		return d, true
	}
	if d, ok := p.parsePatterns(raw, biasType); ok {
		return d, true
	}
	return nil, false
}

// structuredDecision is the shape models emit when they honor the JSON answer
// format. Confidence may arrive as a number or a quoted string.
type structuredDecision struct {
	Action     string          `json:"action"`
	Choice     string          `json:"choice"`
	Estimate   *float64        `json:"estimate"`
	Target     *float64        `json:"price_target"`
	Confidence json.RawMessage `json:"confidence"`
	Rationale  string          `json:"rationale"`
}

// parseStructured extracts the first balanced JSON object from the response
// and maps its fields. Models often wrap the object in prose or a code fence,
// so the scan is positional, not line-based.
func (p *Parser) parseStructured(raw string, biasType domain.BiasType) (*domain.ParsedDecision, bool) {
	block, ok := firstJSONObject(raw)
	if !ok {
		return nil, false
	}

	var sd structuredDecision
	if err := json.Unmarshal([]byte(block), &sd); err != nil {
		return nil, false
	}

	action := strings.ToUpper(strings.TrimSpace(sd.Action))
	if action == "" {
		action = strings.ToUpper(strings.TrimSpace(sd.Choice))
	}
	if !validAction(action, biasType) {
		return nil, false
	}

	estimate := sd.Estimate
	if estimate == nil {
		estimate = sd.Target
	}

	d := &domain.ParsedDecision{
		Action:     action,
		Estimate:   estimate,
		Confidence: normalizeConfidence(parseRawConfidence(sd.Confidence)),
		Rationale:  strings.TrimSpace(sd.Rationale),
		Strategy:   "structured",
	}
	return d, true
}

// parsePatterns is the regex fallback, ported field by field from the
// pattern set the prompts were designed against.
func (p *Parser) parsePatterns(raw string, biasType domain.BiasType) (*domain.ParsedDecision, bool) {
	var action string
	if biasType == domain.BiasLossAversion {
		if m := choiceRe.FindStringSubmatch(raw); m != nil {
			action = strings.ToUpper(m[1])
		}
	} else {
		if m := actionRe.FindStringSubmatch(raw); m != nil {
			action = strings.ToUpper(m[1])
		}
	}
	if action == "" {
		return nil, false
	}

	d := &domain.ParsedDecision{
		Action:     action,
		Estimate:   extractEstimate(raw),
		Confidence: extractConfidence(raw),
		Rationale:  extractRationale(raw),
		Strategy:   "pattern",
	}
	return d, true
}

func validAction(action string, biasType domain.BiasType) bool {
	if biasType == domain.BiasLossAversion {
		return action == domain.ChoiceA || action == domain.ChoiceB
	}
	switch action {
	case domain.ActionBuy, domain.ActionSell, domain.ActionHold, domain.ActionAbstain:
		return true
	}
	return false
}

// extractConfidence returns a confidence in [0, 1], defaulting to 0.5 when
// the response states none.
func extractConfidence(raw string) float64 {
	for _, re := range confidenceRes {
		if m := re.FindStringSubmatch(raw); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				return normalizeConfidence(v)
			}
		}
	}
	if m := barePercentRe.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return normalizeConfidence(v)
		}
	}
	return 0.5
}

func extractEstimate(raw string) *float64 {
	for _, re := range estimateRes {
		if m := re.FindStringSubmatch(raw); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return &v
			}
		}
	}
	return nil
}

func extractRationale(raw string) string {
	if m := rationaleRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func parseRawConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 50
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 50
}

// normalizeConfidence maps stated confidence to [0, 1]; values above 1 are
// treated as percentages.
func normalizeConfidence(v float64) float64 {
	if v > 1 {
		v = v / 100.0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// firstJSONObject scans for the first balanced top-level {...} block,
// respecting string literals and escapes.
func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

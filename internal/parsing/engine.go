// Package parsing implements the rule engine that enriches log entries at
// ingestion time. Rules are evaluated in priority order (highest first, rule
// ID ascending on ties) and the first matching rule wins: its extracted
// fields and configured tags are attached to the entry along with the rule ID.
//
// A broken rule never blocks ingestion. Invalid regexes, unparsable JSON, and
// missing key paths all degrade to "no match": the entry is stored unenriched,
// a warning is logged, and parsing_rule_errors_total is incremented so the
// operator can find the rule.
package parsing

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/telemetry"
)

// compiledRule caches a compiled regex for one rule version. The cache entry
// is invalidated when the rule's UpdatedAt changes, so pattern edits take
// effect on the next evaluation without an explicit flush.
type compiledRule struct {
	updatedAt time.Time
	re        *regexp.Regexp
	bad       bool // compilation failed; cached to avoid recompiling on every entry
}

// MatchResult is the outcome of evaluating rules against one log entry.
type MatchResult struct {
	RuleID int64             `json:"rule_id"`
	Rule   string            `json:"rule"`
	Fields map[string]string `json:"fields,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Engine evaluates parsing rules against log entries. It is safe for
// concurrent use; the ingest write path calls Apply from multiple goroutines.
type Engine struct {
	mu       sync.RWMutex
	compiled map[int64]*compiledRule

	jsonPool fastjson.ParserPool
}

// NewEngine returns an empty engine. Rules are supplied per call so the
// caller (the ingest pipeline) controls refresh cadence.
func NewEngine() *Engine {
	return &Engine{
		compiled: make(map[int64]*compiledRule),
	}
}

// Apply evaluates rules against entry and mutates it on the first match:
// ParsedFields and ParserRuleID are set, and the rule's tags are merged into
// entry.Tags without overwriting keys already present (client- and
// key-supplied tags take precedence over rule defaults).
//
// rules must be pre-filtered to enabled rules relevant to the entry's app and
// ordered by priority DESC, id ASC. The returned result is nil when no rule
// matched.
func (e *Engine) Apply(rules []*models.ParsingRule, entry *models.LogEntry) *MatchResult {
	for _, rule := range rules {
		fields, ok := e.eval(rule, entry.Message)
		if !ok {
			continue
		}

		entry.ParsedFields = fields
		id := rule.ID
		entry.ParserRuleID = &id
		if len(rule.Tags) > 0 {
			if entry.Tags == nil {
				entry.Tags = make(map[string]string, len(rule.Tags))
			}
			for k, v := range rule.Tags {
				if _, exists := entry.Tags[k]; !exists {
					entry.Tags[k] = v
				}
			}
		}

		telemetry.ParsingRuleMatchesTotal.WithLabelValues(rule.Name).Inc()
		return &MatchResult{RuleID: rule.ID, Rule: rule.Name, Fields: fields, Tags: rule.Tags}
	}
	return nil
}

// Test evaluates a single rule against a sample message regardless of the
// rule's enabled flag. Used by the rule test endpoint so operators can debug
// patterns before enabling them. A broken rule returns an error instead of
// the silent degradation used on the ingest path.
func (e *Engine) Test(rule *models.ParsingRule, message string) (map[string]string, bool, error) {
	switch rule.ParserType {
	case models.ParserTypeRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, false, fmt.Errorf("invalid regex: %w", err)
		}
		fields, ok := extractRegex(re, rule.FieldMappings, message)
		return fields, ok, nil
	case models.ParserTypeJSON:
		var p fastjson.Parser
		v, err := p.Parse(message)
		if err != nil {
			return nil, false, nil // non-JSON message is a non-match, not a rule error
		}
		fields, ok := extractJSON(v, rule.Pattern, rule.FieldMappings)
		return fields, ok, nil
	default:
		return nil, false, fmt.Errorf("unknown parser type %q", rule.ParserType)
	}
}

// eval evaluates one rule against a message, degrading rule errors to
// non-matches.
func (e *Engine) eval(rule *models.ParsingRule, message string) (map[string]string, bool) {
	switch rule.ParserType {
	case models.ParserTypeRegex:
		re := e.regex(rule)
		if re == nil {
			return nil, false
		}
		return extractRegex(re, rule.FieldMappings, message)

	case models.ParserTypeJSON:
		p := e.jsonPool.Get()
		defer e.jsonPool.Put(p)
		v, err := p.Parse(message)
		if err != nil {
			// Plain-text message against a json rule is an expected non-match,
			// not a broken rule.
			return nil, false
		}
		return extractJSON(v, rule.Pattern, rule.FieldMappings)

	default:
		e.ruleError(rule, fmt.Errorf("unknown parser type %q", rule.ParserType))
		return nil, false
	}
}

// regex returns the compiled pattern for a regex rule, compiling and caching
// it on first use. Returns nil when the pattern does not compile.
func (e *Engine) regex(rule *models.ParsingRule) *regexp.Regexp {
	e.mu.RLock()
	cr, ok := e.compiled[rule.ID]
	e.mu.RUnlock()
	if ok && cr.updatedAt.Equal(rule.UpdatedAt) {
		if cr.bad {
			return nil
		}
		return cr.re
	}

	re, err := regexp.Compile(rule.Pattern)
	cr = &compiledRule{updatedAt: rule.UpdatedAt, re: re, bad: err != nil}

	e.mu.Lock()
	e.compiled[rule.ID] = cr
	e.mu.Unlock()

	if err != nil {
		e.ruleError(rule, err)
		return nil
	}
	return re
}

func (e *Engine) ruleError(rule *models.ParsingRule, err error) {
	telemetry.ParsingRuleErrorsTotal.WithLabelValues(rule.Name).Inc()
	slog.Warn("parsing rule failed, entry stored unenriched",
		"rule_id", rule.ID,
		"rule", rule.Name,
		"parser_type", rule.ParserType,
		"error", err,
	)
}

// extractRegex matches message against re and maps named capture groups
// through fieldMappings. With an empty mapping every named group is kept
// under its own name.
func extractRegex(re *regexp.Regexp, fieldMappings map[string]string, message string) (map[string]string, bool) {
	match := re.FindStringSubmatch(message)
	if match == nil {
		return nil, false
	}

	fields := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" || i >= len(match) {
			continue
		}
		out := name
		if len(fieldMappings) > 0 {
			mapped, ok := fieldMappings[name]
			if !ok {
				continue
			}
			out = mapped
		}
		fields[out] = match[i]
	}
	return fields, true
}

// extractJSON checks that keyPath exists in the parsed document and extracts
// the mapped paths. With an empty mapping only the matched path's value is
// kept, keyed by its last path segment.
func extractJSON(v *fastjson.Value, keyPath string, fieldMappings map[string]string) (map[string]string, bool) {
	matched := v.Get(splitPath(keyPath)...)
	if matched == nil {
		return nil, false
	}

	fields := make(map[string]string)
	if len(fieldMappings) == 0 {
		segs := splitPath(keyPath)
		fields[segs[len(segs)-1]] = jsonScalar(matched)
		return fields, true
	}

	for path, out := range fieldMappings {
		fv := v.Get(splitPath(path)...)
		if fv == nil {
			continue
		}
		fields[out] = jsonScalar(fv)
	}
	return fields, true
}

// splitPath splits a dot-separated key path into fastjson Get arguments.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// jsonScalar renders a fastjson value as the string stored in parsed_fields.
// Strings are unquoted; everything else uses its JSON representation.
func jsonScalar(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		f := v.GetFloat64()
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case fastjson.TypeTrue:
		return "true"
	case fastjson.TypeFalse:
		return "false"
	case fastjson.TypeNull:
		return "null"
	default:
		return v.String()
	}
}

package notify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
)

// IgnoreRule suppresses comment notifications. Pattern is a regular
// expression matched against the comment text. When is an optional boolean
// expression over the flattened webhook payload; reference dotted paths with
// brackets, e.g. `[comment.author.emailAddress] == "ci@example.com"`.
// A rule with both fields set matches only when both do.
type IgnoreRule struct {
	Pattern string `yaml:"pattern"`
	When    string `yaml:"when"`
}

// DefaultIgnoreRules silences the merge checklist posted by the Bitbucket
// tasks bot.
var DefaultIgnoreRules = []IgnoreRule{
	{Pattern: `Please ensure the following tasks are completed before merging`},
}

type compiledIgnoreRule struct {
	pattern *regexp.Regexp
	expr    *govaluate.EvaluableExpression
}

// CommentFilter decides whether a comment should be dropped.
type CommentFilter struct {
	rules []compiledIgnoreRule
}

// NewCommentFilter compiles rules. Rules with neither a pattern nor an
// expression are rejected.
func NewCommentFilter(rules []IgnoreRule) (*CommentFilter, error) {
	compiled := make([]compiledIgnoreRule, 0, len(rules))
	for i, rule := range rules {
		pattern := strings.TrimSpace(rule.Pattern)
		when := strings.TrimSpace(rule.When)
		if pattern == "" && when == "" {
			return nil, fmt.Errorf("ignore rule %d is missing pattern or when", i)
		}
		var c compiledIgnoreRule
		if pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("ignore rule %d pattern: %w", i, err)
			}
			c.pattern = re
		}
		if when != "" {
			expr, err := govaluate.NewEvaluableExpression(when)
			if err != nil {
				return nil, fmt.Errorf("ignore rule %d when: %w", i, err)
			}
			c.expr = expr
		}
		compiled = append(compiled, c)
	}
	return &CommentFilter{rules: compiled}, nil
}

// Ignore reports whether any rule matches. params is the flattened payload;
// an expression that references a missing field does not match.
func (f *CommentFilter) Ignore(text string, params map[string]interface{}) bool {
	if f == nil {
		return false
	}
	for _, rule := range f.rules {
		if rule.pattern != nil && !rule.pattern.MatchString(text) {
			continue
		}
		if rule.expr != nil {
			result, err := rule.expr.Evaluate(params)
			if err != nil {
				continue
			}
			if ok, _ := result.(bool); !ok {
				continue
			}
		}
		return true
	}
	return false
}

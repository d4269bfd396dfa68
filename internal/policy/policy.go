// Package policy reclassifies finding severities through an ordered list of
// pattern rules. The first rule whose matchers all succeed is applied.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/crev/internal/model"
)

// Action is what a matching rule does to the final severity.
type Action string

const (
	ActionUpgrade   Action = "upgrade"
	ActionDowngrade Action = "downgrade"
	ActionSet       Action = "set"
	ActionKeep      Action = "keep"
)

// UnmarshalYAML accepts action names in any case.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	*a = Action(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

// Document is the parsed form of a rules document.
type Document struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Rules       []Rule `yaml:"rules" validate:"required,min=1,dive"`
}

// Rule is one entry of a rules document. Empty patterns match anything.
type Rule struct {
	RulePattern       string `yaml:"rulePattern" validate:"omitempty,regexp"`
	CategoryPattern   string `yaml:"categoryPattern" validate:"omitempty,regexp"`
	MessagePattern    string `yaml:"messagePattern" validate:"omitempty,regexp"`
	SeverityThreshold string `yaml:"severityThreshold" validate:"omitempty,severity"`
	Action            Action `yaml:"action" validate:"required,oneof=upgrade downgrade set keep"`
	TargetSeverity    string `yaml:"targetSeverity" validate:"required_unless=Action keep,omitempty,severity"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		_, err := model.ParseSeverity(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := fullMatch(fl.Field().String())
		return err == nil
	})
}

// Error describes why a rules document was rejected. Rule is the zero-based
// index of the offending rule, or -1 when the document as a whole is bad.
type Error struct {
	Rule  int
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Rule < 0 {
		return fmt.Sprintf("policy: %v", e.Err)
	}
	return fmt.Sprintf("policy: rule %d: %s: %v", e.Rule, e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoRules is wrapped when a document parses but holds no rules.
var ErrNoRules = errors.New("document contains no rules")

// Ruleset is a compiled, ready-to-apply rules document.
type Ruleset struct {
	rules []compiledRule
}

type compiledRule struct {
	rule      Rule
	ruleID    *regexp.Regexp
	category  *regexp.Regexp
	message   *regexp.Regexp
	threshold *model.Severity
	target    model.Severity
}

// Len returns the number of rules.
func (rs *Ruleset) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Parse decodes a YAML or JSON rules document without validating it.
func Parse(doc []byte) (*Document, error) {
	var d Document
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, &Error{Rule: -1, Err: fmt.Errorf("parsing rules: %w", err)}
	}
	return &d, nil
}

// Compile parses and validates doc and compiles its patterns.
func Compile(doc []byte) (*Ruleset, error) {
	d, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	if err := d.validate(); err != nil {
		return nil, err
	}

	rs := &Ruleset{rules: make([]compiledRule, len(d.Rules))}
	for i, r := range d.Rules {
		cr := compiledRule{rule: r}
		for _, p := range []struct {
			dst   **regexp.Regexp
			src   string
			field string
		}{
			{&cr.ruleID, r.RulePattern, "rulePattern"},
			{&cr.category, r.CategoryPattern, "categoryPattern"},
			{&cr.message, r.MessagePattern, "messagePattern"},
		} {
			re, err := fullMatch(p.src)
			if err != nil {
				return nil, &Error{Rule: i, Field: p.field, Err: fmt.Errorf("invalid pattern: %w", err)}
			}
			*p.dst = re
		}
		if r.SeverityThreshold != "" {
			s, _ := model.ParseSeverity(r.SeverityThreshold)
			cr.threshold = &s
		}
		if r.TargetSeverity != "" {
			cr.target, _ = model.ParseSeverity(r.TargetSeverity)
		}
		rs.rules[i] = cr
	}
	return rs, nil
}

// Validate reports why doc would be rejected by Compile.
func Validate(doc []byte) error {
	_, err := Compile(doc)
	return err
}

// ValidateRules reports whether doc is a well-formed, non-empty rules
// document.
func ValidateRules(doc []byte) bool {
	return Validate(doc) == nil
}

func (d *Document) validate() error {
	if len(d.Rules) == 0 {
		return &Error{Rule: -1, Err: ErrNoRules}
	}
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Rule: -1, Err: err}
	}
	fe := verrs[0]
	idx, convErr := strconv.Atoi(ruleIndex(fe.Namespace()))
	if convErr != nil {
		idx = -1
	}
	return &Error{Rule: idx, Field: fe.Field(), Err: fieldError(fe)}
}

// ruleIndex extracts "3" from a namespace such as "Document.rules[3].action".
func ruleIndex(ns string) string {
	start := strings.Index(ns, "[")
	end := strings.Index(ns, "]")
	if start < 0 || end < start {
		return ""
	}
	return ns[start+1 : end]
}

func fieldError(fe validator.FieldError) error {
	val := fmt.Sprint(fe.Value())
	switch fe.Tag() {
	case "required", "required_unless":
		return errors.New("is required")
	case "oneof":
		return fmt.Errorf("unknown action %q", val)
	case "severity":
		return fmt.Errorf("unknown severity %q", val)
	case "regexp":
		_, err := fullMatch(val)
		return fmt.Errorf("invalid pattern: %w", err)
	}
	return fmt.Errorf("failed %q check", fe.Tag())
}

// fullMatch compiles pattern anchored at both ends. An empty pattern yields
// a nil regexp. Validation must use this form too: `\QSEC` compiles alone
// but quotes the anchors away.
func fullMatch(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

// Match returns the index of the first rule matching f, or -1.
func (rs *Ruleset) Match(f *model.ClassifiedFinding) int {
	if rs == nil {
		return -1
	}
	for i := range rs.rules {
		if rs.rules[i].matches(f) {
			return i
		}
	}
	return -1
}

func (cr *compiledRule) matches(f *model.ClassifiedFinding) bool {
	if !matchField(cr.ruleID, f.RuleID) {
		return false
	}
	if !matchField(cr.category, f.Category) {
		return false
	}
	if !matchField(cr.message, f.Message) {
		return false
	}
	if cr.threshold != nil && !f.RawSeverity.AtLeast(*cr.threshold) {
		return false
	}
	return true
}

// matchField treats an absent pattern or an absent value as a match.
func matchField(re *regexp.Regexp, value string) bool {
	if re == nil || value == "" {
		return true
	}
	return re.MatchString(value)
}

// Apply resets f's final severity to its raw severity and applies the first
// matching rule of rs. A nil ruleset leaves the raw severity in place.
func Apply(f *model.ClassifiedFinding, rs *Ruleset) {
	f.FinalSeverity = f.RawSeverity
	i := rs.Match(f)
	if i < 0 {
		return
	}
	cr := rs.rules[i]
	switch cr.rule.Action {
	case ActionUpgrade:
		if cr.target.MoreSevereThan(f.FinalSeverity) {
			f.FinalSeverity = cr.target
		}
	case ActionDowngrade:
		if f.FinalSeverity.MoreSevereThan(cr.target) {
			f.FinalSeverity = cr.target
		}
	case ActionSet:
		f.FinalSeverity = cr.target
	case ActionKeep:
	}
}

package rules

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("rule validation failed")

// ValidationError reports a structurally invalid rule document.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) hold for any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Wire shape of a rule document. Pointers distinguish missing fields from zero values.
type rawFile struct {
	Month *string    `yaml:"month"`
	Rules *[]rawRule `yaml:"rules"`
}

type rawRule struct {
	ID         *string        `yaml:"id"`
	Title      *string        `yaml:"title"`
	Validity   *rawValidity   `yaml:"validity"`
	Reward     *rawReward     `yaml:"reward"`
	Conditions *rawConditions `yaml:"conditions"`
	AppliesTo  *rawAppliesTo  `yaml:"applies_to"`
	Priority   *int           `yaml:"priority"`
	Stackable  *bool          `yaml:"stackable"`
	Notes      *string        `yaml:"notes"`
}

type rawValidity struct {
	Start *string `yaml:"start"`
	End   *string `yaml:"end"`
}

type rawReward struct {
	Kind  *string `yaml:"kind"`
	Value *string `yaml:"value"`
	Cap   *rawCap `yaml:"cap"`
}

type rawCap struct {
	Period   *string `yaml:"period"`
	Amount   *string `yaml:"amount"`
	Currency *string `yaml:"currency"`
}

type rawConditions struct {
	Categories []string `yaml:"categories"`
	MCC        []int    `yaml:"mcc"`
	Merchants  []string `yaml:"merchants"`
	Tags       []string `yaml:"tags"`
	Expression string   `yaml:"expression"`
}

type rawAppliesTo struct {
	Accounts []string `yaml:"accounts"`
}

var hundred = decimal.NewFromInt(100)

// ParseRulesFile decodes and validates one rule document.
// YAML and JSON are both accepted. Defaults are applied to optional fields.
func ParseRulesFile(data []byte) (*domain.CashbackRulesFile, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Message: "malformed document: " + err.Error(), Err: err}
	}

	if raw.Month == nil {
		return nil, missing("month")
	}
	if raw.Rules == nil {
		return nil, missing("rules")
	}

	file := &domain.CashbackRulesFile{
		Month: *raw.Month,
		Rules: make([]domain.CashbackRule, 0, len(*raw.Rules)),
	}

	for i, rr := range *raw.Rules {
		rule, err := convertRule(fmt.Sprintf("rules[%d]", i), rr)
		if err != nil {
			return nil, err
		}
		file.Rules = append(file.Rules, rule)
	}

	return file, nil
}

func convertRule(path string, rr rawRule) (domain.CashbackRule, error) {
	var rule domain.CashbackRule

	switch {
	case rr.ID == nil:
		return rule, missing(path + ".id")
	case rr.Title == nil:
		return rule, missing(path + ".title")
	case rr.Validity == nil:
		return rule, missing(path + ".validity")
	case rr.Reward == nil:
		return rule, missing(path + ".reward")
	case rr.Conditions == nil:
		return rule, missing(path + ".conditions")
	case rr.AppliesTo == nil:
		return rule, missing(path + ".applies_to")
	}

	rule.ID = *rr.ID
	rule.Title = *rr.Title

	validity, err := convertValidity(path+".validity", *rr.Validity)
	if err != nil {
		return rule, err
	}
	rule.Validity = validity

	reward, err := convertReward(path+".reward", *rr.Reward)
	if err != nil {
		return rule, err
	}
	rule.Reward = reward

	cond, err := convertConditions(path+".conditions", *rr.Conditions)
	if err != nil {
		return rule, err
	}
	rule.Conditions = cond

	rule.AppliesTo = domain.AppliesTo{Accounts: nonNil(rr.AppliesTo.Accounts)}

	rule.Priority = domain.DefaultRulePriority
	if rr.Priority != nil {
		rule.Priority = *rr.Priority
	}
	if rr.Stackable != nil {
		rule.Stackable = *rr.Stackable
	}
	if rr.Notes != nil {
		rule.Notes = *rr.Notes
	}

	return rule, nil
}

func convertValidity(path string, rv rawValidity) (domain.Validity, error) {
	var v domain.Validity

	if rv.Start == nil {
		return v, missing(path + ".start")
	}
	if rv.End == nil {
		return v, missing(path + ".end")
	}

	start, err := parseDate(path+".start", *rv.Start)
	if err != nil {
		return v, err
	}
	end, err := parseDate(path+".end", *rv.End)
	if err != nil {
		return v, err
	}

	v.Start = start
	v.End = end
	return v, nil
}

func convertReward(path string, rr rawReward) (domain.Reward, error) {
	var r domain.Reward

	r.Kind = domain.RewardPercent
	if rr.Kind != nil {
		r.Kind = domain.RewardKind(strings.TrimSpace(*rr.Kind))
		if !r.Kind.Valid() {
			return r, &ValidationError{
				Field:   path + ".kind",
				Message: fmt.Sprintf("must be %q or %q, got %q", domain.RewardPercent, domain.RewardFixed, *rr.Kind),
			}
		}
	}

	if rr.Value == nil {
		return r, missing(path + ".value")
	}
	value, err := parseAmount(path+".value", *rr.Value)
	if err != nil {
		return r, err
	}
	if r.Kind == domain.RewardPercent && value.GreaterThan(hundred) {
		return r, &ValidationError{Field: path + ".value", Message: "percent must be between 0 and 100"}
	}
	r.Value = value

	if rr.Cap != nil {
		c, err := convertCap(path+".cap", *rr.Cap)
		if err != nil {
			return r, err
		}
		r.Cap = c
	}

	return r, nil
}

func convertCap(path string, rc rawCap) (*domain.Cap, error) {
	c := &domain.Cap{
		Period:   domain.CapMonthly,
		Currency: domain.DefaultCapCurrency,
	}

	if rc.Period != nil {
		c.Period = domain.CapPeriod(strings.TrimSpace(*rc.Period))
		if !c.Period.Valid() {
			return nil, &ValidationError{
				Field:   path + ".period",
				Message: fmt.Sprintf("must be one of monthly, weekly, total, got %q", *rc.Period),
			}
		}
	}

	if rc.Amount == nil {
		return nil, missing(path + ".amount")
	}
	amount, err := parseAmount(path+".amount", *rc.Amount)
	if err != nil {
		return nil, err
	}
	c.Amount = amount

	if rc.Currency != nil {
		c.Currency = *rc.Currency
	}

	return c, nil
}

func convertConditions(path string, rc rawConditions) (domain.Conditions, error) {
	cond := domain.Conditions{
		Categories: nonNil(rc.Categories),
		MCC:        rc.MCC,
		Merchants:  nonNil(rc.Merchants),
		Tags:       nonNil(rc.Tags),
		Expression: strings.TrimSpace(rc.Expression),
	}
	if cond.MCC == nil {
		cond.MCC = []int{}
	}

	if cond.Expression != "" {
		pred, err := CompileExpression(cond.Expression)
		if err != nil {
			return cond, &ValidationError{Field: path + ".expression", Message: err.Error(), Err: err}
		}
		cond.Predicate = pred
	}

	return cond, nil
}

func parseDate(field, s string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be a YYYY-MM-DD date, got %q", s),
			Err:     err,
		}
	}
	return d, nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be numeric, got %q", s),
			Err:     err,
		}
	}
	if d.IsNegative() {
		return decimal.Zero, &ValidationError{Field: field, Message: "must be non-negative"}
	}
	return d, nil
}

func missing(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

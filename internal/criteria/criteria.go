// Package criteria defines the predicate language automation rules use to
// select pipelines. A criterion is a conjunction of field conditions over a
// closed operator set; a few common conjunctions are registered under short
// names so CLI invocations stay terse.
package criteria

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salesline/internal/domain"
	"salesline/internal/fault"
)

// Op is a condition operator. The set is closed: anything else is an
// UnknownCriteria fault at parse time rather than a surprise at runtime.
type Op string

const (
	Equals             Op = "equals"
	GreaterThan        Op = "greater_than"
	LessThan           Op = "less_than"
	DaysInStageAtLeast Op = "days_in_stage_at_least"
)

// Condition is one field comparison.
type Condition struct {
	Field string
	Op    Op
	Value string
}

// Expr is a conjunction of conditions. The empty Expr matches nothing,
// so a typo'd name can never select every pipeline.
type Expr struct {
	Name       string
	Conditions []Condition
}

// registry holds the named criteria the automation commands accept.
var registry = map[string]Expr{
	"probability-gt-80": {
		Name: "probability-gt-80",
		Conditions: []Condition{
			{Field: "Probability", Op: GreaterThan, Value: "80"},
		},
	},
	"proposal-sent-and-7-days": {
		Name: "proposal-sent-and-7-days",
		Conditions: []Condition{
			{Field: "Stage", Op: Equals, Value: "Proposal/Price Quote"},
			{Field: "Stage", Op: DaysInStageAtLeast, Value: "7"},
		},
	},
}

// Names lists the registered criteria names, for help output.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// Resolve returns a named criterion or parses an inline
// "Field:op:value[,Field:op:value...]" expression.
func Resolve(name string) (Expr, error) {
	if expr, ok := registry[name]; ok {
		return expr, nil
	}
	if strings.Contains(name, ":") {
		return parse(name)
	}
	return Expr{}, fault.New(fault.UnknownCriteria, "unknown criteria %q (known: %s)", name, strings.Join(Names(), ", "))
}

func parse(raw string) (Expr, error) {
	expr := Expr{Name: raw}
	for _, part := range strings.Split(raw, ",") {
		pieces := strings.SplitN(strings.TrimSpace(part), ":", 3)
		if len(pieces) != 3 {
			return Expr{}, fault.New(fault.UnknownCriteria, "malformed condition %q, want Field:op:value", part)
		}
		op := Op(pieces[1])
		switch op {
		case Equals, GreaterThan, LessThan, DaysInStageAtLeast:
		default:
			return Expr{}, fault.New(fault.UnknownCriteria, "unknown operator %q in %q", pieces[1], part)
		}
		expr.Conditions = append(expr.Conditions, Condition{Field: pieces[0], Op: op, Value: pieces[2]})
	}
	return expr, nil
}

// Matches evaluates the expression against a pipeline at the given instant.
func (e Expr) Matches(p domain.Pipeline, now time.Time) bool {
	if len(e.Conditions) == 0 {
		return false
	}
	for _, c := range e.Conditions {
		if !c.matches(p, now) {
			return false
		}
	}
	return true
}

func (c Condition) matches(p domain.Pipeline, now time.Time) bool {
	if c.Op == DaysInStageAtLeast {
		days, err := strconv.Atoi(c.Value)
		if err != nil {
			return false
		}
		return daysInStage(p, now) >= days
	}
	field, ok := fieldValue(p, c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case Equals:
		if fd, fok := toNumber(field); fok {
			if vd, vok := toNumber(c.Value); vok {
				return fd.Equal(vd)
			}
		}
		return field == c.Value
	case GreaterThan, LessThan:
		fd, fok := toNumber(field)
		vd, vok := toNumber(c.Value)
		if !fok || !vok {
			return false
		}
		if c.Op == GreaterThan {
			return fd.GreaterThan(vd)
		}
		return fd.LessThan(vd)
	}
	return false
}

// daysInStage counts whole days since the last stage change, falling back
// to record timestamps when the history is empty.
func daysInStage(p domain.Pipeline, now time.Time) int {
	since := p.CreatedAt
	if n := len(p.StageHistory); n > 0 {
		since = p.StageHistory[n-1].At
	} else if !p.UpdatedAt.IsZero() {
		since = p.UpdatedAt
	}
	if since.IsZero() {
		return 0
	}
	return int(now.Sub(since).Hours() / 24)
}

func fieldValue(p domain.Pipeline, field string) (string, bool) {
	switch field {
	case domain.FieldDealName, "Name":
		return p.Name, true
	case domain.FieldStage:
		return p.Stage, true
	case domain.FieldStatus:
		return string(p.Status), true
	case domain.FieldAmount:
		return p.Amount.String(), true
	case domain.FieldProbability:
		return strconv.Itoa(p.Probability), true
	case domain.FieldOwner:
		return p.Owner, true
	case domain.FieldSubPipeline:
		return p.SubPipeline, true
	case domain.FieldClosingDate:
		if p.ClosingDate.IsZero() {
			return "", true
		}
		return p.ClosingDate.Format("2006-01-02"), true
	}
	return "", false
}

func toNumber(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// String renders the expression in Field:op:value form.
func (e Expr) String() string {
	if e.Name != "" && !strings.Contains(e.Name, ":") {
		return e.Name
	}
	parts := make([]string, 0, len(e.Conditions))
	for _, c := range e.Conditions {
		parts = append(parts, fmt.Sprintf("%s:%s:%s", c.Field, c.Op, c.Value))
	}
	return strings.Join(parts, ",")
}

package signals

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ConditionKind identifies one of the supported predicate kinds.
// The set is closed: extending it means adding a kind here, not
// embedding arbitrary expressions in configuration.
type ConditionKind string

const (
	// KindThreshold compares the latest sample against a constant.
	KindThreshold ConditionKind = "threshold"
	// KindRateOfChange fires when the value moved more than a magnitude
	// across a trailing window.
	KindRateOfChange ConditionKind = "rate_of_change"
	// KindSustained fires when every sample in a trailing window
	// satisfies a threshold predicate.
	KindSustained ConditionKind = "sustained"
)

// Op is a comparison operator usable in threshold predicates.
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpEQ Op = "=="
)

// Apply evaluates `value op constant`.
func (op Op) Apply(value, constant float64) bool {
	switch op {
	case OpLT:
		return value < constant
	case OpLE:
		return value <= constant
	case OpGT:
		return value > constant
	case OpGE:
		return value >= constant
	case OpEQ:
		return value == constant
	default:
		return false
	}
}

// Direction of a rate-of-change condition.
type Direction string

const (
	DirectionDrop Direction = "drop"
	DirectionRise Direction = "rise"
)

// Condition is a parsed rule predicate. Fields are populated per kind:
// threshold uses Op/Value; rate_of_change uses Direction/Magnitude/Window;
// sustained uses Op/Value/Window.
type Condition struct {
	Kind      ConditionKind
	Op        Op
	Value     float64
	Direction Direction
	Magnitude float64
	Window    time.Duration
}

// Condition grammar. Sustained must be tried before plain threshold
// since both start with "value <op> <num>".
var (
	sustainedRe = regexp.MustCompile(`^value\s*(<=|>=|==|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)\s+sustained\s+([0-9]+(?:\.[0-9]+)?(?:ms|s|m|h))$`)
	thresholdRe = regexp.MustCompile(`^value\s*(<=|>=|==|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)$`)
	rateRe      = regexp.MustCompile(`^(drop|rise)\s*>\s*([0-9]+(?:\.[0-9]+)?)\s+in\s+([0-9]+(?:\.[0-9]+)?(?:ms|s|m|h))$`)
)

// ParseCondition parses a condition expression into its structured form.
// Supported grammar:
//
//	value <op> <num>                   e.g. "value < 25"
//	value <op> <num> sustained <dur>   e.g. "value > 100 sustained 10s"
//	(drop|rise) > <num> in <dur>       e.g. "drop > 5 in 30s"
//
// Anything outside the grammar is rejected at load time.
func ParseCondition(expr string) (Condition, error) {
	if m := sustainedRe.FindStringSubmatch(expr); m != nil {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Condition{}, fmt.Errorf("invalid constant %q", m[2])
		}
		window, err := time.ParseDuration(m[3])
		if err != nil || window <= 0 {
			return Condition{}, fmt.Errorf("invalid duration %q", m[3])
		}
		return Condition{
			Kind:   KindSustained,
			Op:     Op(m[1]),
			Value:  value,
			Window: window,
		}, nil
	}

	if m := thresholdRe.FindStringSubmatch(expr); m != nil {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Condition{}, fmt.Errorf("invalid constant %q", m[2])
		}
		return Condition{
			Kind:  KindThreshold,
			Op:    Op(m[1]),
			Value: value,
		}, nil
	}

	if m := rateRe.FindStringSubmatch(expr); m != nil {
		magnitude, err := strconv.ParseFloat(m[2], 64)
		if err != nil || magnitude <= 0 {
			return Condition{}, fmt.Errorf("invalid magnitude %q", m[2])
		}
		window, err := time.ParseDuration(m[3])
		if err != nil || window <= 0 {
			return Condition{}, fmt.Errorf("invalid duration %q", m[3])
		}
		return Condition{
			Kind:      KindRateOfChange,
			Direction: Direction(m[1]),
			Magnitude: magnitude,
			Window:    window,
		}, nil
	}

	return Condition{}, fmt.Errorf("unsupported condition %q", expr)
}

// Describe renders a human-readable description of the condition,
// used as the alert's threshold field.
func (c Condition) Describe(unit string) string {
	switch c.Kind {
	case KindThreshold:
		return fmt.Sprintf("%s %g %s", c.Op, c.Value, unit)
	case KindRateOfChange:
		return fmt.Sprintf("%s > %g %s in %s", c.Direction, c.Magnitude, unit, c.Window)
	case KindSustained:
		return fmt.Sprintf("%s %g %s sustained for %s", c.Op, c.Value, unit, c.Window)
	default:
		return ""
	}
}

// Package strategy parses declarative if/then/else trading rules and
// evaluates them against the current price and moving average.
package strategy

import (
	"strings"

	"neptun/internal/domain"
)

// ParseRule reduces free-form rule text to a domain.Rule. Parsing happens
// once per run; evaluation afterwards is a pure comparison.
func ParseRule(condition, thenAction, elseAction string) domain.Rule {
	return domain.Rule{
		Condition: ParseCondition(condition),
		Then:      ParseAction(thenAction),
		Else:      ParseAction(elseAction),
	}
}

// ParseCondition matches the condition text case-insensitively against the
// four supported comparison forms. Compound operators are checked before
// their single-character prefixes. Text matching none of the forms falls
// back to greater-than; this permissive default is part of the contract and
// must not become an error.
func ParseCondition(text string) domain.Condition {
	s := strings.ToLower(text)
	switch {
	case strings.Contains(s, ">="):
		return domain.CondGreaterOrEqual
	case strings.Contains(s, "<="):
		return domain.CondLessOrEqual
	case strings.Contains(s, ">"):
		return domain.CondGreater
	case strings.Contains(s, "<"):
		return domain.CondLess
	default:
		return domain.CondGreater
	}
}

// ParseAction maps action text to a domain.Action. Anything other than buy
// or sell means hold.
func ParseAction(text string) domain.Action {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "buy":
		return domain.ActionBuy
	case "sell":
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// Evaluate applies the rule to the current bar. smaOK is false while the
// indicator window is still filling; an unavailable indicator means the
// condition is not met, so the else-action applies. No decision is ever
// based on an incomplete average.
func Evaluate(rule domain.Rule, price, sma float64, smaOK bool) domain.Action {
	if !smaOK {
		return rule.Else
	}

	var met bool
	switch rule.Condition {
	case domain.CondGreaterOrEqual:
		met = price >= sma
	case domain.CondLessOrEqual:
		met = price <= sma
	case domain.CondLess:
		met = price < sma
	default:
		met = price > sma
	}

	if met {
		return rule.Then
	}
	return rule.Else
}

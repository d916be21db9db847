// Package filter implements the listing matching engine.
package filter

import (
	"strings"

	"bcpea_notifier/internal/model"
)

// Evaluate checks a listing against the rules of a filter group.
// Every rule is evaluated and each failing one adds its reason, in a fixed order.
// The listing matches when no rule fails.
func Evaluate(l model.Listing, g model.FilterGroup) model.MatchResult {
	var reasons []model.Reason

	if !TitleHasRequiredWords(l, g.Rules) {
		reasons = append(reasons, model.ReasonTitleWords)
	}
	if !DescriptionHasRequiredWords(l, g.Rules) {
		reasons = append(reasons, model.ReasonDescriptionWords)
	}
	if !SettlementAllowed(l, g.Rules) {
		reasons = append(reasons, model.ReasonSettlement)
	}
	if !TypeNotExcluded(l, g.Rules) {
		reasons = append(reasons, model.ReasonExcludedType)
	}
	if !DescriptionClean(l, g.Rules) {
		reasons = append(reasons, model.ReasonBlacklist)
	}

	return model.MatchResult{
		Listing: l,
		Matched: len(reasons) == 0,
		Reasons: reasons,
	}
}

// SettlementAllowed passes when no settlements are configured or the listing's
// settlement equals one of them, ignoring case and surrounding space.
func SettlementAllowed(l model.Listing, r model.FilterRules) bool {
	if len(nonEmpty(r.Settlements)) == 0 {
		return true
	}
	return equalsAny(l.Settlement, r.Settlements)
}

// TypeNotExcluded passes unless the listing's type equals an excluded type, ignoring case.
func TypeNotExcluded(l model.Listing, r model.FilterRules) bool {
	return !equalsAny(l.Title, r.ExcludedTypes)
}

// DescriptionClean passes unless a blacklisted term occurs in the description.
func DescriptionClean(l model.Listing, r model.FilterRules) bool {
	desc := strings.ToLower(l.Description)
	for _, term := range r.BlacklistTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.Contains(desc, term) {
			return false
		}
	}
	return true
}

// TitleHasRequiredWords passes when every required word occurs in the title.
func TitleHasRequiredWords(l model.Listing, r model.FilterRules) bool {
	return containsAll(l.Title, r.RequiredTitleWords)
}

// DescriptionHasRequiredWords passes when every required word occurs in the description.
func DescriptionHasRequiredWords(l model.Listing, r model.FilterRules) bool {
	return containsAll(l.Description, r.RequiredDescriptionWords)
}

func containsAll(text string, words []string) bool {
	text = strings.ToLower(text)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

func equalsAny(value string, set []string) bool {
	value = strings.TrimSpace(value)
	for _, s := range set {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.EqualFold(value, s) {
			return true
		}
	}
	return false
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"bcpea_notifier/internal/model"
)

func plovdivGroup() model.FilterGroup {
	return model.FilterGroup{
		ID:       1,
		Category: model.CategoryProperty,
		Court:    16,
		Rules: model.FilterRules{
			Settlements:   []string{"гр. Пловдив"},
			ExcludedTypes: []string{"Офис"},
		},
		Subscribers: []string{"user@example.com"},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		listing     model.Listing
		rules       model.FilterRules
		wantMatched bool
		wantReasons []model.Reason
	}{
		{
			name:        "empty rules match everything",
			listing:     model.Listing{Title: "Апартамент", Settlement: "гр. Варна", Description: "нещо"},
			rules:       model.FilterRules{},
			wantMatched: true,
		},
		{
			name:        "empty rules match empty listing",
			listing:     model.Listing{},
			rules:       model.FilterRules{},
			wantMatched: true,
		},
		{
			name:        "blacklist term in description rejects",
			listing:     model.Listing{Title: "Апартамент", Description: "Продава се 1/2 ИДЕАЛНИ ЧАСТИ от имот"},
			rules:       model.FilterRules{BlacklistTerms: []string{"идеални части"}},
			wantReasons: []model.Reason{model.ReasonBlacklist},
		},
		{
			name:        "blacklist passes when description is empty",
			listing:     model.Listing{Title: "Апартамент"},
			rules:       model.FilterRules{BlacklistTerms: []string{"ид.ч."}},
			wantMatched: true,
		},
		{
			name:        "required title words all present",
			listing:     model.Listing{Title: "Лек автомобил BMW X5"},
			rules:       model.FilterRules{RequiredTitleWords: []string{"bmw", "x5"}},
			wantMatched: true,
		},
		{
			name:        "required title words partially present is not a match",
			listing:     model.Listing{Title: "Лек автомобил BMW 320"},
			rules:       model.FilterRules{RequiredTitleWords: []string{"bmw", "x5"}},
			wantReasons: []model.Reason{model.ReasonTitleWords},
		},
		{
			name:        "required description words against empty description",
			listing:     model.Listing{Title: "Апартамент"},
			rules:       model.FilterRules{RequiredDescriptionWords: []string{"тераса"}},
			wantReasons: []model.Reason{model.ReasonDescriptionWords},
		},
		{
			name:        "required description words use substring containment",
			listing:     model.Listing{Description: "Двустаен апартамент с тераси"},
			rules:       model.FilterRules{RequiredDescriptionWords: []string{"тераси", "двустаен"}},
			wantMatched: true,
		},
		{
			name:        "settlement outside list rejects",
			listing:     model.Listing{Title: "Къща", Settlement: "с. Марково"},
			rules:       model.FilterRules{Settlements: []string{"гр. Пловдив"}},
			wantReasons: []model.Reason{model.ReasonSettlement},
		},
		{
			name:        "excluded type ignores case",
			listing:     model.Listing{Title: "ОФИС", Settlement: "гр. Пловдив"},
			rules:       model.FilterRules{ExcludedTypes: []string{"Офис"}},
			wantReasons: []model.Reason{model.ReasonExcludedType},
		},
		{
			name:        "excluded type is equality, not containment",
			listing:     model.Listing{Title: "Офис сграда"},
			rules:       model.FilterRules{ExcludedTypes: []string{"Офис"}},
			wantMatched: true,
		},
		{
			name:    "every failing rule is reported in order",
			listing: model.Listing{Title: "Офис", Settlement: "гр. София", Description: "ид.ч. от сграда"},
			rules: model.FilterRules{
				Settlements:              []string{"гр. Пловдив"},
				ExcludedTypes:            []string{"Офис"},
				BlacklistTerms:           []string{"ид.ч."},
				RequiredTitleWords:       []string{"апартамент"},
				RequiredDescriptionWords: []string{"тераса"},
			},
			wantReasons: []model.Reason{
				model.ReasonTitleWords,
				model.ReasonDescriptionWords,
				model.ReasonSettlement,
				model.ReasonExcludedType,
				model.ReasonBlacklist,
			},
		},
		{
			name:    "empty string rule elements are ignored",
			listing: model.Listing{Title: "Гараж", Settlement: "гр. Пловдив", Description: "гараж"},
			rules: model.FilterRules{
				Settlements:        []string{"", "гр. Пловдив"},
				ExcludedTypes:      []string{""},
				BlacklistTerms:     []string{" "},
				RequiredTitleWords: []string{""},
			},
			wantMatched: true,
		},
		{
			name:        "settlement list of only empty strings matches any settlement",
			listing:     model.Listing{Settlement: "с. Оризари"},
			rules:       model.FilterRules{Settlements: []string{""}},
			wantMatched: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.listing, model.FilterGroup{Rules: tt.rules})
			if diff := cmp.Diff(tt.wantMatched, got.Matched); diff != "" {
				t.Errorf("Matched mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantReasons, got.Reasons); diff != "" {
				t.Errorf("Reasons mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// The property path of the old scraper compared settlements with exact case while
// the vehicle path lowered both sides. Both categories now ignore case.
func TestSettlementCaseInsensitiveForAllCategories(t *testing.T) {
	rules := model.FilterRules{Settlements: []string{"гр. Пловдив"}}

	for _, cat := range []model.Category{model.CategoryProperty, model.CategoryVehicle} {
		t.Run(string(cat), func(t *testing.T) {
			l := model.Listing{Category: cat, Settlement: "ГР. ПЛОВДИВ "}
			got := Evaluate(l, model.FilterGroup{Category: cat, Rules: rules})
			if !got.Matched {
				t.Errorf("expected match, got reasons %v", got.Reasons)
			}
		})
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	g := plovdivGroup()
	g.Rules.BlacklistTerms = []string{"ид.ч."}
	l := model.Listing{Title: "Офис", Settlement: "гр. Пловдив", Description: "ид.ч."}

	first := Evaluate(l, g)
	second := Evaluate(l, g)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Evaluate not idempotent (-first +second):\n%s", diff)
	}
}

func TestEvaluatePlovdivScenarios(t *testing.T) {
	g := plovdivGroup()

	office := Evaluate(model.Listing{Title: "Офис", Settlement: "гр. Пловдив"}, g)
	if office.Matched {
		t.Fatal("office listing should be rejected")
	}
	if diff := cmp.Diff([]model.Reason{model.ReasonExcludedType}, office.Reasons); diff != "" {
		t.Errorf("office reasons mismatch (-want +got):\n%s", diff)
	}

	flat := Evaluate(model.Listing{
		Title:       "Апартамент",
		Settlement:  "гр. Пловдив",
		Description: "Апартамент с идентификатор 68.134.11 в центъра",
	}, g)
	if !flat.Matched {
		t.Errorf("flat listing should match, got reasons %v", flat.Reasons)
	}
}

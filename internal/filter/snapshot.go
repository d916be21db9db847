package filter

import (
	"sort"
	"strings"

	"bcpea_notifier/internal/model"
)

// ParseList splits a comma-joined rule column into its trimmed values.
// NULL, empty input and empty tokens yield no values.
func ParseList(raw *string) []string {
	if raw == nil {
		return nil
	}
	var out []string
	for _, s := range strings.Split(*raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// JoinList is the inverse of ParseList. It returns nil when there is nothing to store.
func JoinList(values []string) *string {
	var kept []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		return nil
	}
	s := strings.Join(kept, ",")
	return &s
}

type groupKey struct {
	category model.Category
	court    int
	id       int64
}

// Groups assembles one FilterGroup per (category, court, group id) from snapshot rows,
// collecting the subscriber emails of every row. Groups keep the order in which they
// first appear; subscribers are de-duplicated and sorted.
func Groups(rows []model.FilterRow) []model.FilterGroup {
	var order []groupKey
	groups := make(map[groupKey]*model.FilterGroup)
	seen := make(map[groupKey]map[string]struct{})

	for _, row := range rows {
		key := groupKey{category: row.Category, court: row.Court, id: row.GroupID}
		g, ok := groups[key]
		if !ok {
			g = &model.FilterGroup{
				ID:       row.GroupID,
				Category: row.Category,
				Court:    row.Court,
				Rules: model.FilterRules{
					Settlements:              ParseList(row.Settlements),
					ExcludedTypes:            ParseList(row.ExcludedTypes),
					BlacklistTerms:           ParseList(row.Blacklist),
					RequiredTitleWords:       ParseList(row.RequiredTitleWords),
					RequiredDescriptionWords: ParseList(row.RequiredDescriptionWords),
				},
			}
			groups[key] = g
			seen[key] = make(map[string]struct{})
			order = append(order, key)
		}
		email := strings.TrimSpace(row.Email)
		if email == "" {
			continue
		}
		if _, dup := seen[key][email]; dup {
			continue
		}
		seen[key][email] = struct{}{}
		g.Subscribers = append(g.Subscribers, email)
	}

	out := make([]model.FilterGroup, 0, len(order))
	for _, key := range order {
		g := groups[key]
		sort.Strings(g.Subscribers)
		out = append(out, *g)
	}
	return out
}

// Package model defines the domain types used across the application.
package model

import (
	"sort"
	"time"
)

// Category selects which kind of auction listing a filter group watches.
type Category string

// Supported listing categories.
const (
	CategoryProperty Category = "property"
	CategoryVehicle  Category = "vehicle"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryProperty || c == CategoryVehicle
}

// Paginated reports whether listings of this category are served page by page.
// Properties are fetched as a single unbounded page.
func (c Category) Paginated() bool {
	return c == CategoryVehicle
}

// Label returns the plural display name of the category.
func (c Category) Label() string {
	switch c {
	case CategoryVehicle:
		return "Vehicles"
	default:
		return "Properties"
	}
}

// Listing is one scraped auction item. It only lives for the duration of a run.
type Listing struct {
	Category    Category
	Title       string
	Settlement  string
	Address     string
	Area        string
	Price       string
	Description string
	KaisID      string
	Number      string
	URL         string
	ImageURL    string
}

// FilterRules holds the rule lists of a filter group. An empty list never rejects.
type FilterRules struct {
	Settlements              []string
	ExcludedTypes            []string
	BlacklistTerms           []string
	RequiredTitleWords       []string
	RequiredDescriptionWords []string
}

// FilterGroup is a subscribable bundle of rules scoped to one category and one court.
type FilterGroup struct {
	ID          int64
	Category    Category
	Court       int
	Rules       FilterRules
	Subscribers []string
}

// FilterRow is one persisted (filter group, subscriber) pair as read from storage.
// Rule columns keep their comma-joined storage form; nil means NULL.
type FilterRow struct {
	GroupID                  int64
	Category                 Category
	Court                    int
	Settlements              *string
	ExcludedTypes            *string
	Blacklist                *string
	RequiredTitleWords       *string
	RequiredDescriptionWords *string
	Email                    string
}

// Reason names a failed rule in a MatchResult.
type Reason string

// Rejection reasons in evaluation order.
const (
	ReasonTitleWords       Reason = "required-title-words"
	ReasonDescriptionWords Reason = "required-description-words"
	ReasonSettlement       Reason = "settlement"
	ReasonExcludedType     Reason = "excluded-type"
	ReasonBlacklist        Reason = "blacklist"
)

// MatchResult is the outcome of evaluating one listing against one filter group.
type MatchResult struct {
	Listing Listing
	Matched bool
	Reasons []Reason
}

// GroupReport holds the matches of one filter group for one subscriber.
type GroupReport struct {
	GroupID  int64
	Category Category
	Court    int
	Region   string
	Count    int
	Listings []Listing
}

// RunReport maps subscriber → filter group id → matched listings.
type RunReport struct {
	users map[string]map[int64]GroupReport
}

// NewRunReport returns an empty report.
func NewRunReport() *RunReport {
	return &RunReport{users: make(map[string]map[int64]GroupReport)}
}

// Add records the group result for a subscriber, replacing any earlier entry for the same group.
func (r *RunReport) Add(user string, gr GroupReport) {
	groups, ok := r.users[user]
	if !ok {
		groups = make(map[int64]GroupReport)
		r.users[user] = groups
	}
	gr.Count = len(gr.Listings)
	groups[gr.GroupID] = gr
}

// Len returns the number of subscribers in the report.
func (r *RunReport) Len() int {
	return len(r.users)
}

// Users returns the subscribers in lexical order.
func (r *RunReport) Users() []string {
	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Groups returns a subscriber's group results ordered by group id.
func (r *RunReport) Groups(user string) []GroupReport {
	groups := r.users[user]
	out := make([]GroupReport, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// UserStatus is the approval state of an account.
type UserStatus string

// Supported user states.
const (
	UserPending  UserStatus = "pending"
	UserApproved UserStatus = "approved"
)

// User is an account that can subscribe to filter groups.
type User struct {
	ID        int64
	Name      string
	Email     string
	Status    UserStatus
	CreatedAt time.Time
}

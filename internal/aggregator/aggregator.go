// Package aggregator drives one pass over all active filter groups and collects
// the matching listings of every subscriber.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"bcpea_notifier/internal/fetcher"
	"bcpea_notifier/internal/filter"
	"bcpea_notifier/internal/model"
)

const (
	defaultMaxPages = 50
	unknownRegion   = "Unknown Court"
)

// FilterStore provides the snapshot of active filter groups.
type FilterStore interface {
	ActiveFilterRows(ctx context.Context) ([]model.FilterRow, error)
}

// Source produces listing summaries and their detail descriptions.
type Source interface {
	Page(ctx context.Context, cat model.Category, court, page int) ([]model.Listing, error)
	Description(ctx context.Context, detailURL string) (string, error)
}

// Options configures an Aggregator.
type Options struct {
	// Regions maps court codes to display names.
	Regions map[int]string
	// MaxPages caps pagination of paginated categories. Zero uses the default.
	MaxPages int
}

// Aggregator runs filter groups against the listing source.
type Aggregator struct {
	store    FilterStore
	source   Source
	regions  map[int]string
	maxPages int
	log      *slog.Logger
}

// New creates an Aggregator.
func New(store FilterStore, source Source, opts Options, log *slog.Logger) *Aggregator {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Aggregator{
		store:    store,
		source:   source,
		regions:  opts.Regions,
		maxPages: maxPages,
		log:      log,
	}
}

// Region returns the display name of a court code.
func (a *Aggregator) Region(court int) string {
	if name, ok := a.regions[court]; ok {
		return name
	}
	return unknownRegion
}

// Run performs one pass and returns the per-subscriber report.
// Failures of a single filter group or listing are logged and skipped; a failure to
// load the filter snapshot yields an empty report. Only cancellation of ctx is returned
// as an error, together with whatever was collected so far.
func (a *Aggregator) Run(ctx context.Context) (*model.RunReport, error) {
	r := &run{
		Aggregator:   a,
		log:          a.log.With("run_id", uuid.NewString()),
		candidates:   make(map[candidateKey]candidateResult),
		descriptions: make(map[string]descriptionResult),
	}
	return r.execute(ctx)
}

type candidateKey struct {
	category model.Category
	court    int
}

type candidateResult struct {
	listings []model.Listing
	err      error
}

type descriptionResult struct {
	text string
	err  error
}

// run holds the state of one pass. Pages and descriptions are fetched once per run
// even when several filter groups watch the same court.
type run struct {
	*Aggregator
	log          *slog.Logger
	candidates   map[candidateKey]candidateResult
	descriptions map[string]descriptionResult
}

func (r *run) execute(ctx context.Context) (*model.RunReport, error) {
	report := model.NewRunReport()
	r.log.Info("starting run")

	rows, err := r.store.ActiveFilterRows(ctx)
	if err != nil {
		r.log.Error("load active filters", "error", err)
		return report, nil
	}

	groups := filter.Groups(rows)
	if len(groups) == 0 {
		r.log.Warn("no active filters")
		return report, nil
	}
	r.log.Info("loaded active filter groups", "count", len(groups))

	total := 0
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		matched, err := r.processGroup(ctx, g)
		if err != nil {
			return report, err
		}
		total += len(matched)

		gr := model.GroupReport{
			GroupID:  g.ID,
			Category: g.Category,
			Court:    g.Court,
			Region:   r.Region(g.Court),
			Listings: matched,
		}
		for _, user := range g.Subscribers {
			report.Add(user, gr)
		}
	}

	r.log.Info("run complete", "groups", len(groups), "users", report.Len(), "matched", total)
	return report, nil
}

// processGroup returns the matching listings of one filter group in source order.
// The only error it returns is the cancellation of ctx.
func (r *run) processGroup(ctx context.Context, g model.FilterGroup) ([]model.Listing, error) {
	log := r.log.With("group_id", g.ID, "category", g.Category, "court", g.Court)
	log.Info("processing filter group")

	candidates, err := r.candidatesFor(ctx, g.Category, g.Court)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("fetch listings", "error", err)
		return nil, nil
	}
	log.Info("found listings", "count", len(candidates))

	var matched []model.Listing
	for i, l := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		desc, err := r.descriptionFor(ctx, l.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("fetch listing details", "url", l.URL, "error", err)
			continue
		}
		l.Description = desc
		l.KaisID, _ = fetcher.ExtractKaisID(desc)

		res := filter.Evaluate(l, g)
		if !res.Matched {
			log.Debug("listing rejected", "index", i+1, "url", l.URL, "reasons", res.Reasons)
			continue
		}
		log.Debug("listing matched", "index", i+1, "url", l.URL, "kais_id", l.KaisID)
		matched = append(matched, l)
	}

	log.Info("filter group done", "candidates", len(candidates), "matched", len(matched))
	return matched, nil
}

func (r *run) candidatesFor(ctx context.Context, cat model.Category, court int) ([]model.Listing, error) {
	key := candidateKey{category: cat, court: court}
	if res, ok := r.candidates[key]; ok {
		return res.listings, res.err
	}

	listings, err := r.fetchAll(ctx, cat, court)
	if ctx.Err() == nil {
		r.candidates[key] = candidateResult{listings: listings, err: err}
	}
	return listings, err
}

func (r *run) fetchAll(ctx context.Context, cat model.Category, court int) ([]model.Listing, error) {
	var all []model.Listing
	for page := 1; ; page++ {
		if page > r.maxPages {
			r.log.Warn("page limit reached", "category", cat, "court", court, "max_pages", r.maxPages)
			break
		}
		items, err := r.source.Page(ctx, cat, court, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		if !cat.Paginated() {
			break
		}
	}
	return all, nil
}

func (r *run) descriptionFor(ctx context.Context, detailURL string) (string, error) {
	if res, ok := r.descriptions[detailURL]; ok {
		return res.text, res.err
	}
	if detailURL == "" {
		return "", errors.New("listing has no detail url")
	}

	text, err := r.source.Description(ctx, detailURL)
	if ctx.Err() == nil {
		r.descriptions[detailURL] = descriptionResult{text: text, err: err}
	}
	return text, err
}

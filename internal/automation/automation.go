// Package automation implements the bulk hygiene routines: round-robin
// assignment of unowned pipelines, follow-up tasks for stale ones, rule
// driven advancement, and stuck-pipeline detection. Every routine runs its
// per-record work through the bounded batch runner and keeps going past
// individual failures; only the initial search aborts a run.
package automation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"salesline/internal/batch"
	"salesline/internal/criteria"
	"salesline/internal/domain"
	"salesline/internal/engine"
	"salesline/internal/fault"
	"salesline/internal/store"
)

// Runner executes automation routines on top of the lifecycle engine.
type Runner struct {
	Engine engine.Engine
}

func New(e engine.Engine) Runner {
	return Runner{Engine: e}
}

func (r Runner) workers() int {
	return r.Engine.Cfg.Automation.Workers
}

func (r Runner) now() time.Time {
	return r.Engine.Now().UTC()
}

// AssignUnassigned distributes ownerless open pipelines across the given
// owners round-robin. The rotation follows the order the store returned
// the candidates in, so the mapping stays the same however the batch
// executes.
func (r Runner) AssignUnassigned(ctx context.Context, owners []string) (batch.Result, error) {
	if len(owners) == 0 {
		return batch.Result{}, fault.New(fault.ValidationFailed, "at least one owner is required")
	}
	recs, err := r.Engine.Store.Search(ctx, store.Pipelines, store.Query{Filters: []store.Filter{
		{Field: domain.FieldStatus, Op: store.Equals, Value: string(domain.StatusOpen)},
		{Field: domain.FieldOwner, Op: store.IsEmpty},
	}})
	if err != nil {
		return batch.Result{}, err
	}

	var ids []string
	assigned := make(map[string]string, len(recs))
	for i, rec := range recs {
		ids = append(ids, rec.ID())
		assigned[rec.ID()] = owners[i%len(owners)]
	}

	res := batch.Run(ctx, r.workers(), ids, func(ctx context.Context, id string) error {
		owner := assigned[id]
		_, err := r.Engine.Update(ctx, id, engine.UpdateInput{Owner: &owner})
		return err
	})
	return res, nil
}

// FollowUp creates a high-priority follow-up task, due tomorrow, for every
// open pipeline untouched for at least staleDays (0 means the configured
// default). A pipeline already covered once gets covered again on the next
// run only if it stays stale; runs are not deduplicated here.
func (r Runner) FollowUp(ctx context.Context, staleDays int) ([]domain.Task, batch.Result, error) {
	if staleDays <= 0 {
		staleDays = r.Engine.Cfg.Automation.StaleDays
	}
	stale, err := r.olderThan(ctx, staleDays)
	if err != nil {
		return nil, batch.Result{}, err
	}

	byID := make(map[string]domain.Pipeline, len(stale))
	var ids []string
	for _, p := range stale {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)

	subject := r.Engine.Cfg.Automation.FollowUpSubject
	due := r.now().Add(24 * time.Hour)

	var (
		mu    sync.Mutex
		tasks []domain.Task
	)
	res := batch.Run(ctx, r.workers(), ids, func(ctx context.Context, id string) error {
		p := byID[id]
		name := p.Name
		if name == "" {
			name = "Unknown"
		}
		task, err := r.Engine.CreateTask(ctx, domain.Task{
			Subject:  subject + " - " + name,
			DueDate:  due,
			Priority: "High",
			Owner:    p.Owner,
			Related:  domain.RelatedRef{Collection: string(store.Pipelines), ID: p.ID},
		})
		if err != nil {
			return err
		}
		mu.Lock()
		tasks = append(tasks, task)
		mu.Unlock()
		return nil
	})
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Related.ID < tasks[j].Related.ID })
	r.Engine.Log.WithFields(logrus.Fields{"stale": len(ids), "created": res.Updated}).Info("follow-up run complete")
	return tasks, res, nil
}

// AutoAdvance advances every open pipeline the named criterion selects.
func (r Runner) AutoAdvance(ctx context.Context, criteriaName, actor string) (batch.Result, error) {
	expr, err := criteria.Resolve(criteriaName)
	if err != nil {
		return batch.Result{}, err
	}
	open, err := r.Engine.List(ctx, false, 0)
	if err != nil {
		return batch.Result{}, err
	}
	now := r.now()
	var ids []string
	for _, p := range open {
		if expr.Matches(p, now) {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)

	res := batch.Run(ctx, r.workers(), ids, func(ctx context.Context, id string) error {
		_, err := r.Engine.Advance(ctx, id, actor)
		return err
	})
	return res, nil
}

// StuckPipeline is one detection result with a suggested next action.
type StuckPipeline struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Stage       string          `json:"stage"`
	Amount      decimal.Decimal `json:"amount"`
	Owner       string          `json:"owner,omitempty"`
	LastChange  time.Time       `json:"last_change"`
	DaysInStage int             `json:"days_in_stage"`
	Suggestion  string          `json:"suggestion"`
}

var stageSuggestions = map[string]string{
	"Qualification":        "Schedule qualification call to understand requirements",
	"Needs Analysis":       "Send questionnaire or schedule deep-dive meeting",
	"Proposal/Price Quote": "Follow up on proposal acceptance",
	"Negotiation/Review":   "Address objections and finalize terms",
}

// Stuck lists open pipelines that have sat in their stage for at least
// days (0 means the configured default), each with a stage-appropriate
// suggestion.
func (r Runner) Stuck(ctx context.Context, days int) ([]StuckPipeline, error) {
	if days <= 0 {
		days = r.Engine.Cfg.Automation.StuckDays
	}
	stuck, err := r.olderThan(ctx, days)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := make([]StuckPipeline, 0, len(stuck))
	for _, p := range stuck {
		last := lastChange(p)
		suggestion, ok := stageSuggestions[p.Stage]
		if !ok {
			suggestion = "Review and follow up"
		}
		out = append(out, StuckPipeline{
			ID:          p.ID,
			Name:        p.Name,
			Stage:       p.Stage,
			Amount:      p.Amount,
			Owner:       p.Owner,
			LastChange:  last,
			DaysInStage: int(now.Sub(last).Hours() / 24),
			Suggestion:  suggestion,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// olderThan returns open pipelines whose last stage change (or record
// activity, when history is empty) is at least days old.
func (r Runner) olderThan(ctx context.Context, days int) ([]domain.Pipeline, error) {
	open, err := r.Engine.List(ctx, false, 0)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().AddDate(0, 0, -days)
	var out []domain.Pipeline
	for _, p := range open {
		last := lastChange(p)
		if last.IsZero() || !last.After(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func lastChange(p domain.Pipeline) time.Time {
	if n := len(p.StageHistory); n > 0 {
		return p.StageHistory[n-1].At
	}
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

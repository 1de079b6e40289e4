// Package engine implements the pipeline lifecycle: creation, field
// updates, stage advancement, and the win/lose close transitions. All state
// rules live here; the store adapters only persist what the engine decides.
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"salesline/internal/batch"
	"salesline/internal/config"
	"salesline/internal/criteria"
	"salesline/internal/domain"
	"salesline/internal/fault"
	"salesline/internal/store"
)

// Engine drives pipeline lifecycle operations over a record store.
type Engine struct {
	Store store.Store
	Cfg   *config.Config
	Log   *logrus.Logger

	// Now is the clock; tests pin it.
	Now func() time.Time
}

// New wires an engine with the real clock.
func New(st store.Store, cfg *config.Config, log *logrus.Logger) Engine {
	return Engine{Store: st, Cfg: cfg, Log: log, Now: time.Now}
}

// CreateInput carries the caller-supplied fields for a new pipeline.
type CreateInput struct {
	Name        string
	Stage       string
	Amount      decimal.Decimal
	Probability *int
	ClosingDate time.Time
	Owner       string
	ContactID   string
	CompanyID   string
	Actor       string
}

// Create validates and stores a new open pipeline. Stage defaults to the
// first configured stage; probability defaults to the stage's configured
// value. The first stage history entry is written at creation.
func (e Engine) Create(ctx context.Context, in CreateInput) (domain.Pipeline, error) {
	stage := in.Stage
	if stage == "" {
		stage = e.Cfg.Pipeline.Stages[0]
	}
	if e.Cfg.StageIndex(stage) < 0 {
		if e.Cfg.IsTerminalStage(stage) {
			return domain.Pipeline{}, fault.New(fault.ValidationFailed, "cannot create a pipeline in closed stage %q; create it open and use win or lose", stage)
		}
		return domain.Pipeline{}, fault.New(fault.ValidationFailed, "unknown stage %q", stage)
	}

	prob := 0
	if in.Probability != nil {
		prob = *in.Probability
	} else if p, ok := e.Cfg.StageProbability(stage); ok {
		prob = p
	}

	p := domain.Pipeline{
		Name:        in.Name,
		Stage:       stage,
		Status:      domain.StatusOpen,
		Amount:      in.Amount,
		Probability: prob,
		ClosingDate: in.ClosingDate,
		Owner:       in.Owner,
		ContactID:   in.ContactID,
		CompanyID:   in.CompanyID,
		SubPipeline: e.Cfg.Pipeline.SubPipeline,
		StageHistory: []domain.StageChange{
			{Stage: stage, At: e.Now().UTC(), Actor: in.Actor},
		},
	}
	if err := p.Validate(); err != nil {
		return domain.Pipeline{}, err
	}

	rec, err := e.Store.Create(ctx, store.Pipelines, domain.PipelineRecord(p))
	if err != nil {
		return domain.Pipeline{}, err
	}
	created := domain.DecodePipeline(rec)
	e.Log.WithFields(logrus.Fields{"id": created.ID, "stage": created.Stage}).Info("pipeline created")
	return created, nil
}

// Get loads one pipeline by id.
func (e Engine) Get(ctx context.Context, id string) (domain.Pipeline, error) {
	rec, err := e.Store.Get(ctx, store.Pipelines, id)
	if err != nil {
		return domain.Pipeline{}, err
	}
	return domain.DecodePipeline(rec), nil
}

// List returns pipelines, open only unless includeClosed is set.
func (e Engine) List(ctx context.Context, includeClosed bool, limit int) ([]domain.Pipeline, error) {
	q := store.Query{Limit: limit}
	if !includeClosed {
		q.Filters = []store.Filter{{Field: domain.FieldStatus, Op: store.Equals, Value: string(domain.StatusOpen)}}
	}
	return e.search(ctx, q)
}

// Search runs a free-text keyword search over pipelines.
func (e Engine) Search(ctx context.Context, word string, limit int) ([]domain.Pipeline, error) {
	return e.search(ctx, store.Query{Word: word, Limit: limit})
}

func (e Engine) search(ctx context.Context, q store.Query) ([]domain.Pipeline, error) {
	recs, err := e.Store.Search(ctx, store.Pipelines, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Pipeline, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.DecodePipeline(r))
	}
	return out, nil
}

// UpdateInput carries a partial field set; nil means leave unchanged.
type UpdateInput struct {
	Name        *string
	Stage       *string
	Amount      *decimal.Decimal
	Probability *int
	ClosingDate *time.Time
	Owner       *string
	ContactID   *string
	CompanyID   *string
	Actor       string
}

// Update applies a partial update. Terminal pipelines reject every update.
// A stage change must name a known open stage, appends to the stage
// history, and resets the probability to the stage default unless an
// explicit probability is part of the same update.
func (e Engine) Update(ctx context.Context, id string, in UpdateInput) (domain.Pipeline, error) {
	p, err := e.Get(ctx, id)
	if err != nil {
		return domain.Pipeline{}, err
	}
	if p.Status.Terminal() {
		return domain.Pipeline{}, fault.New(fault.InvalidStateTransition, "pipeline %s is %s and cannot change", id, p.Status)
	}

	fields := store.Record{}
	if in.Name != nil {
		if *in.Name == "" {
			return domain.Pipeline{}, fault.New(fault.ValidationFailed, "name must not be empty")
		}
		fields[domain.FieldDealName] = *in.Name
	}
	if in.Amount != nil {
		if in.Amount.IsNegative() {
			return domain.Pipeline{}, fault.New(fault.ValidationFailed, "amount must not be negative")
		}
		fields[domain.FieldAmount] = in.Amount.String()
	}
	if in.Probability != nil {
		if *in.Probability < 0 || *in.Probability > 100 {
			return domain.Pipeline{}, fault.New(fault.ValidationFailed, "probability must be between 0 and 100")
		}
		fields[domain.FieldProbability] = *in.Probability
	}
	if in.ClosingDate != nil {
		fields[domain.FieldClosingDate] = in.ClosingDate.Format("2006-01-02")
	}
	if in.Owner != nil {
		fields[domain.FieldOwner] = *in.Owner
	}
	if in.ContactID != nil {
		fields[domain.FieldContact] = *in.ContactID
	}
	if in.CompanyID != nil {
		fields[domain.FieldAccount] = *in.CompanyID
	}
	if in.Stage != nil && *in.Stage != p.Stage {
		stage := *in.Stage
		if e.Cfg.StageIndex(stage) < 0 {
			if e.Cfg.IsTerminalStage(stage) {
				return domain.Pipeline{}, fault.New(fault.InvalidStateTransition, "closing stage %q requires win or lose", stage)
			}
			return domain.Pipeline{}, fault.New(fault.ValidationFailed, "unknown stage %q", stage)
		}
		fields[domain.FieldStage] = stage
		if in.Probability == nil {
			if prob, ok := e.Cfg.StageProbability(stage); ok {
				fields[domain.FieldProbability] = prob
			}
		}
		fields[domain.FieldHistory] = appendHistory(p, stage, e.Now().UTC(), in.Actor)
	}
	if len(fields) == 0 {
		return p, nil
	}

	rec, err := e.Store.Update(ctx, store.Pipelines, id, fields)
	if err != nil {
		return domain.Pipeline{}, err
	}
	return domain.DecodePipeline(rec), nil
}

// Advance moves a pipeline to its next open stage. Advancing from the last
// open stage is refused: closing is always an explicit win or lose.
func (e Engine) Advance(ctx context.Context, id, actor string) (domain.Pipeline, error) {
	p, err := e.Get(ctx, id)
	if err != nil {
		return domain.Pipeline{}, err
	}
	if p.Status.Terminal() {
		return domain.Pipeline{}, fault.New(fault.InvalidStateTransition, "pipeline %s is %s and cannot advance", id, p.Status)
	}
	next, ok := e.Cfg.NextStage(p.Stage)
	if !ok {
		return domain.Pipeline{}, fault.New(fault.InvalidStateTransition, "pipeline %s is at %q, the last open stage; use win or lose", id, p.Stage)
	}

	fields := store.Record{
		domain.FieldStage:   next,
		domain.FieldHistory: appendHistory(p, next, e.Now().UTC(), actor),
	}
	if prob, ok := e.Cfg.StageProbability(next); ok {
		fields[domain.FieldProbability] = prob
	}
	rec, err := e.Store.Update(ctx, store.Pipelines, id, fields)
	if err != nil {
		return domain.Pipeline{}, err
	}
	e.Log.WithFields(logrus.Fields{"id": id, "stage": next}).Info("pipeline advanced")
	return domain.DecodePipeline(rec), nil
}

// Win closes a pipeline as won: won stage, probability 100. Winning an
// already won pipeline is a no-op; winning a lost one is refused.
func (e Engine) Win(ctx context.Context, id, actor string) (domain.Pipeline, error) {
	return e.close(ctx, id, actor, domain.StatusWon, "")
}

// Lose closes a pipeline as lost with a mandatory reason: lost stage,
// probability 0. Losing an already lost pipeline is a no-op; losing a won
// one is refused.
func (e Engine) Lose(ctx context.Context, id, reason, actor string) (domain.Pipeline, error) {
	if reason == "" {
		return domain.Pipeline{}, fault.New(fault.ValidationFailed, "a loss reason is required")
	}
	return e.close(ctx, id, actor, domain.StatusLost, reason)
}

func (e Engine) close(ctx context.Context, id, actor string, target domain.Status, reason string) (domain.Pipeline, error) {
	p, err := e.Get(ctx, id)
	if err != nil {
		return domain.Pipeline{}, err
	}
	if p.Status == target {
		return p, nil
	}
	if p.Status.Terminal() {
		return domain.Pipeline{}, fault.New(fault.InvalidStateTransition, "pipeline %s is already %s", id, p.Status)
	}

	stage := e.Cfg.Pipeline.WonStage
	prob := 100
	if target == domain.StatusLost {
		stage = e.Cfg.Pipeline.LostStage
		prob = 0
	}
	fields := store.Record{
		domain.FieldStage:       stage,
		domain.FieldStatus:      string(target),
		domain.FieldProbability: prob,
		domain.FieldHistory:     appendHistory(p, stage, e.Now().UTC(), actor),
	}
	if reason != "" {
		fields[domain.FieldLossReason] = reason
	}
	rec, err := e.Store.Update(ctx, store.Pipelines, id, fields)
	if err != nil {
		return domain.Pipeline{}, err
	}
	e.Log.WithFields(logrus.Fields{"id": id, "status": target}).Info("pipeline closed")
	return domain.DecodePipeline(rec), nil
}

// BulkUpdate applies the same partial update to every open pipeline the
// criterion selects, with bounded parallelism and per-item error capture.
// Only a failed initial search aborts the run.
func (e Engine) BulkUpdate(ctx context.Context, expr criteria.Expr, in UpdateInput, workers int) (batch.Result, error) {
	pipelines, err := e.List(ctx, false, 0)
	if err != nil {
		return batch.Result{}, err
	}
	now := e.Now().UTC()
	var ids []string
	for _, p := range pipelines {
		if expr.Matches(p, now) {
			ids = append(ids, p.ID)
		}
	}
	if workers <= 0 {
		workers = e.Cfg.Automation.Workers
	}
	res := batch.Run(ctx, workers, ids, func(ctx context.Context, id string) error {
		_, err := e.Update(ctx, id, in)
		return err
	})
	return res, nil
}

// Delete removes a pipeline record.
func (e Engine) Delete(ctx context.Context, id string) error {
	return e.Store.Delete(ctx, store.Pipelines, id)
}

func appendHistory(p domain.Pipeline, stage string, at time.Time, actor string) []any {
	history := append(append([]domain.StageChange{}, p.StageHistory...), domain.StageChange{
		Stage: stage,
		At:    at,
		Actor: actor,
	})
	return domain.HistoryList(history)
}

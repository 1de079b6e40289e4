// Package report computes the read-only summaries: pipeline breakdowns,
// weighted forecasts, owner performance, and activity counts. All
// aggregation happens in-process over decoded records; money stays in
// decimals until rendering.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"salesline/internal/domain"
	"salesline/internal/engine"
	"salesline/internal/fault"
)

// Reporter computes reports on top of the lifecycle engine.
type Reporter struct {
	Engine engine.Engine
}

func New(e engine.Engine) Reporter {
	return Reporter{Engine: e}
}

// Bucket is one aggregation cell.
type Bucket struct {
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

// PipelineReport summarizes the book of pipelines.
type PipelineReport struct {
	TotalCount  int               `json:"total_count"`
	TotalValue  decimal.Decimal   `json:"total_value"`
	ByStage     map[string]Bucket `json:"by_stage,omitempty"`
	ByOwner     map[string]Bucket `json:"by_owner,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Pipeline aggregates count and value, grouped by stage and/or owner.
// Closed pipelines are excluded unless includeClosed is set.
func (r Reporter) Pipeline(ctx context.Context, byStage, byOwner, includeClosed bool) (PipelineReport, error) {
	pipelines, err := r.Engine.List(ctx, includeClosed, 0)
	if err != nil {
		return PipelineReport{}, err
	}

	out := PipelineReport{
		TotalValue:  decimal.Zero,
		GeneratedAt: r.Engine.Now().UTC(),
	}
	if byStage {
		out.ByStage = map[string]Bucket{}
	}
	if byOwner {
		out.ByOwner = map[string]Bucket{}
	}
	for _, p := range pipelines {
		out.TotalCount++
		out.TotalValue = out.TotalValue.Add(p.Amount)
		if byStage {
			add(out.ByStage, p.Stage, p.Amount)
		}
		if byOwner {
			owner := p.Owner
			if owner == "" {
				owner = "Unassigned"
			}
			add(out.ByOwner, owner, p.Amount)
		}
	}
	return out, nil
}

// StageForecast is one stage's slice of the projection.
type StageForecast struct {
	Count    int             `json:"count"`
	Value    decimal.Decimal `json:"value"`
	Weighted decimal.Decimal `json:"weighted_value"`
}

// Forecast is the weighted revenue projection for one month.
type Forecast struct {
	Month       string                   `json:"month"`
	Count       int                      `json:"count"`
	TotalValue  decimal.Decimal          `json:"total_value"`
	Weighted    decimal.Decimal          `json:"weighted_forecast"`
	ByStage     map[string]StageForecast `json:"by_stage"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// Forecast sums open pipeline amounts weighted by probability. When month
// is non-empty ("2006-01") only pipelines closing in that month count;
// when empty, every open pipeline counts and the current month labels the
// result.
func (r Reporter) Forecast(ctx context.Context, month string) (Forecast, error) {
	var from, to time.Time
	if month != "" {
		start, err := time.Parse("2006-01", month)
		if err != nil {
			return Forecast{}, fault.New(fault.ValidationFailed, "month must look like 2006-01, got %q", month)
		}
		from, to = start, start.AddDate(0, 1, 0)
	} else {
		month = r.Engine.Now().UTC().Format("2006-01")
	}

	pipelines, err := r.Engine.List(ctx, false, 0)
	if err != nil {
		return Forecast{}, err
	}

	out := Forecast{
		Month:       month,
		TotalValue:  decimal.Zero,
		Weighted:    decimal.Zero,
		ByStage:     map[string]StageForecast{},
		GeneratedAt: r.Engine.Now().UTC(),
	}
	hundred := decimal.NewFromInt(100)
	for _, p := range pipelines {
		if !from.IsZero() {
			if p.ClosingDate.IsZero() || p.ClosingDate.Before(from) || !p.ClosingDate.Before(to) {
				continue
			}
		}
		// Records imported without a probability fall back to the stage
		// default. Open stages never map to zero.
		prob := p.Probability
		if prob == 0 {
			if d, ok := r.Engine.Cfg.StageProbability(p.Stage); ok {
				prob = d
			}
		}
		weighted := p.Amount.Mul(decimal.NewFromInt(int64(prob))).Div(hundred)
		out.Count++
		out.TotalValue = out.TotalValue.Add(p.Amount)
		out.Weighted = out.Weighted.Add(weighted)

		cell := out.ByStage[p.Stage]
		cell.Count++
		cell.Value = cell.Value.Add(p.Amount)
		cell.Weighted = cell.Weighted.Add(weighted)
		out.ByStage[p.Stage] = cell
	}
	return out, nil
}

// Performance summarizes closed and open outcomes for an owner.
type Performance struct {
	Period      string          `json:"period"`
	Owner       string          `json:"owner"`
	TotalDeals  int             `json:"total_deals"`
	WonDeals    int             `json:"won_deals"`
	LostDeals   int             `json:"lost_deals"`
	OpenDeals   int             `json:"open_deals"`
	TotalValue  decimal.Decimal `json:"total_value"`
	WonValue    decimal.Decimal `json:"won_value"`
	WinRate     decimal.Decimal `json:"win_rate"`
	AvgDealSize decimal.Decimal `json:"average_deal_size"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Performance computes win rate and deal size for one owner (empty means
// everyone) over one closing month (empty means all time).
func (r Reporter) Performance(ctx context.Context, owner, month string) (Performance, error) {
	var from, to time.Time
	if month != "" {
		start, err := time.Parse("2006-01", month)
		if err != nil {
			return Performance{}, fault.New(fault.ValidationFailed, "month must look like 2006-01, got %q", month)
		}
		from, to = start, start.AddDate(0, 1, 0)
	}

	pipelines, err := r.Engine.List(ctx, true, 0)
	if err != nil {
		return Performance{}, err
	}

	label := owner
	if label == "" {
		label = "All"
	}
	period := month
	if period == "" {
		period = "all"
	}
	out := Performance{
		Period:      period,
		Owner:       label,
		TotalValue:  decimal.Zero,
		WonValue:    decimal.Zero,
		WinRate:     decimal.Zero,
		AvgDealSize: decimal.Zero,
		GeneratedAt: r.Engine.Now().UTC(),
	}
	for _, p := range pipelines {
		if owner != "" && p.Owner != owner {
			continue
		}
		if !from.IsZero() {
			if p.ClosingDate.IsZero() || p.ClosingDate.Before(from) || !p.ClosingDate.Before(to) {
				continue
			}
		}
		out.TotalDeals++
		out.TotalValue = out.TotalValue.Add(p.Amount)
		switch p.Status {
		case domain.StatusWon:
			out.WonDeals++
			out.WonValue = out.WonValue.Add(p.Amount)
		case domain.StatusLost:
			out.LostDeals++
		default:
			out.OpenDeals++
		}
	}
	// Win rate is won over closed; open deals don't count against it.
	if closed := out.WonDeals + out.LostDeals; closed > 0 {
		out.WinRate = decimal.NewFromInt(int64(out.WonDeals)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(closed)))
	}
	if out.TotalDeals > 0 {
		out.AvgDealSize = out.TotalValue.Div(decimal.NewFromInt(int64(out.TotalDeals)))
	}
	return out, nil
}

// Activity counts one user's activities for one ISO week.
type Activity struct {
	User           string        `json:"user"`
	Week           string        `json:"week"`
	Calls          int           `json:"calls"`
	Meetings       int           `json:"meetings"`
	TasksCreated   int           `json:"tasks_created"`
	TasksCompleted int           `json:"tasks_completed"`
	CallMinutes    int           `json:"call_minutes"`
	TaskList       []domain.Task `json:"tasks,omitempty"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// Activity counts calls, meetings, and tasks for a user (empty means
// everyone) in an ISO week ("2026-35"; empty means the current one). The
// include flags drop whole sections from the report.
func (r Reporter) Activity(ctx context.Context, user, week string, includeCalls, includeTasks, includeEvents bool) (Activity, error) {
	if week == "" {
		y, w := r.Engine.Now().UTC().ISOWeek()
		week = fmt.Sprintf("%d-%02d", y, w)
	}
	from, to, err := weekRange(week)
	if err != nil {
		return Activity{}, err
	}

	out := Activity{User: userLabel(user), Week: week, GeneratedAt: r.Engine.Now().UTC()}

	if includeCalls {
		calls, err := r.Engine.ListCalls(ctx, user, 0)
		if err != nil {
			return Activity{}, err
		}
		for _, c := range calls {
			if inRange(c.StartsAt, from, to) {
				out.Calls++
				out.CallMinutes += c.Minutes
			}
		}
	}
	if includeTasks {
		tasks, err := r.Engine.ListTasks(ctx, user, 0)
		if err != nil {
			return Activity{}, err
		}
		for _, t := range tasks {
			ts := t.CreatedAt
			if ts.IsZero() {
				ts = t.DueDate
			}
			if !inRange(ts, from, to) {
				continue
			}
			if t.Status == "Completed" {
				out.TasksCompleted++
			} else {
				out.TasksCreated++
			}
			out.TaskList = append(out.TaskList, t)
		}
	}
	if includeEvents {
		events, err := r.Engine.ListEvents(ctx, user, 0)
		if err != nil {
			return Activity{}, err
		}
		for _, ev := range events {
			if inRange(ev.StartsAt, from, to) {
				out.Meetings++
			}
		}
	}
	return out, nil
}

// weekRange returns the [monday, next monday) span of an ISO week given
// as "2006-02" (year dash two-digit week).
func weekRange(week string) (time.Time, time.Time, error) {
	var year, num int
	if _, err := fmt.Sscanf(week, "%d-%d", &year, &num); err != nil || num < 1 || num > 53 {
		return time.Time{}, time.Time{}, fault.New(fault.ValidationFailed, "week must look like 2026-35, got %q", week)
	}
	// Jan 4 is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := jan4.AddDate(0, 0, 1-weekday).AddDate(0, 0, (num-1)*7)
	return monday, monday.AddDate(0, 0, 7), nil
}

func inRange(t, from, to time.Time) bool {
	return !t.IsZero() && !t.Before(from) && t.Before(to)
}

func userLabel(user string) string {
	if user == "" {
		return "All"
	}
	return user
}

func add(m map[string]Bucket, key string, amount decimal.Decimal) {
	b := m[key]
	b.Count++
	b.Value = b.Value.Add(amount)
	m[key] = b
}

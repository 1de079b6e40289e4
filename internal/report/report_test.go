package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"salesline/internal/config"
	"salesline/internal/domain"
	"salesline/internal/engine"
	"salesline/internal/fault"
	"salesline/internal/report"
	"salesline/internal/store/sqlite"
)

type testEnv struct {
	Engine   engine.Engine
	Reporter report.Reporter
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	st.Now = clock

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	eng := engine.New(st, config.Default(), log)
	eng.Now = clock
	return testEnv{Engine: eng, Reporter: report.New(eng), Ctx: context.Background()}
}

func amount(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestForecastWeightedSum(t *testing.T) {
	env := newTestEnv(t)
	p50 := 50
	p20 := 20
	closing := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "big", Amount: amount(100000), Probability: &p50, ClosingDate: closing}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "small", Amount: amount(50000), Probability: &p20, ClosingDate: closing}); err != nil {
		t.Fatal(err)
	}

	f, err := env.Reporter.Forecast(env.Ctx, "2026-03")
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if f.Count != 2 {
		t.Fatalf("count = %d", f.Count)
	}
	if !f.TotalValue.Equal(amount(150000)) {
		t.Fatalf("total = %s, want 150000", f.TotalValue)
	}
	if !f.Weighted.Equal(amount(60000)) {
		t.Fatalf("weighted = %s, want 60000", f.Weighted)
	}
	if b := f.ByStage["Qualification"]; b.Count != 2 || !b.Value.Equal(amount(150000)) || !b.Weighted.Equal(amount(60000)) {
		t.Fatalf("by stage = %+v", f.ByStage)
	}
}

func TestForecastMonthFilter(t *testing.T) {
	env := newTestEnv(t)
	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "march deal", Amount: amount(1000), ClosingDate: march}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "april deal", Amount: amount(2000), ClosingDate: april}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "undated deal", Amount: amount(4000)}); err != nil {
		t.Fatal(err)
	}

	f, err := env.Reporter.Forecast(env.Ctx, "2026-03")
	if err != nil {
		t.Fatal(err)
	}
	if f.Count != 1 || !f.TotalValue.Equal(amount(1000)) {
		t.Fatalf("march forecast = %+v", f)
	}

	all, err := env.Reporter.Forecast(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if all.Count != 3 {
		t.Fatalf("unfiltered count = %d", all.Count)
	}
}

func TestForecastRejectsBadMonth(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Reporter.Forecast(env.Ctx, "March 2026"); !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("got %v, want validation_failed", err)
	}
}

func TestPerformanceWinRateAndDealSize(t *testing.T) {
	env := newTestEnv(t)
	mk := func(name string, amt int64, owner string) domain.Pipeline {
		p, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: name, Amount: amount(amt), Owner: owner})
		if err != nil {
			t.Fatal(err)
		}
		return p
	}
	won := mk("won", 30000, "alice@example.com")
	lost := mk("lost", 10000, "alice@example.com")
	mk("open", 20000, "alice@example.com")
	mk("other", 99999, "bob@example.com")

	if _, err := env.Engine.Win(env.Ctx, won.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Lose(env.Ctx, lost.ID, "price", "alice"); err != nil {
		t.Fatal(err)
	}

	perf, err := env.Reporter.Performance(env.Ctx, "alice@example.com", "")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if perf.TotalDeals != 3 || perf.WonDeals != 1 || perf.LostDeals != 1 || perf.OpenDeals != 1 {
		t.Fatalf("counts = %+v", perf)
	}
	if !perf.WonValue.Equal(amount(30000)) {
		t.Fatalf("won value = %s", perf.WonValue)
	}
	// 1 won of 2 closed; the open deal does not dilute the rate.
	if !perf.WinRate.Equal(amount(50)) {
		t.Fatalf("win rate = %s, want 50", perf.WinRate)
	}
	if !perf.AvgDealSize.Equal(amount(20000)) {
		t.Fatalf("avg deal size = %s, want 20000", perf.AvgDealSize)
	}
}

func TestPerformanceWinRateZeroWithoutClosedDeals(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "open", Amount: amount(5000)}); err != nil {
		t.Fatal(err)
	}
	perf, err := env.Reporter.Performance(env.Ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !perf.WinRate.IsZero() {
		t.Fatalf("win rate = %s, want 0 with no closed deals", perf.WinRate)
	}
	if !perf.AvgDealSize.Equal(amount(5000)) {
		t.Fatalf("avg deal size = %s", perf.AvgDealSize)
	}
}

func TestPipelineReportGrouping(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "a", Amount: amount(100), Owner: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "b", Amount: amount(200), Stage: "Needs Analysis"}); err != nil {
		t.Fatal(err)
	}

	rep, err := env.Reporter.Pipeline(env.Ctx, true, true, false)
	if err != nil {
		t.Fatalf("pipeline report: %v", err)
	}
	if rep.TotalCount != 2 || !rep.TotalValue.Equal(amount(300)) {
		t.Fatalf("totals = %+v", rep)
	}
	if b := rep.ByStage["Needs Analysis"]; b.Count != 1 || !b.Value.Equal(amount(200)) {
		t.Fatalf("needs analysis bucket = %+v", b)
	}
	if b := rep.ByOwner["Unassigned"]; b.Count != 1 {
		t.Fatalf("unassigned bucket = %+v", rep.ByOwner)
	}
	if b := rep.ByOwner["alice@example.com"]; b.Count != 1 {
		t.Fatalf("alice bucket = %+v", rep.ByOwner)
	}
}

func TestActivityWeekCounts(t *testing.T) {
	env := newTestEnv(t)
	// 2026-03-01 falls in ISO week 9 (Mon 2026-02-23 through Sun 2026-03-01).
	inWeek := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	outOfWeek := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	if _, err := env.Engine.LogCall(env.Ctx, domain.Call{Subject: "intro call", StartsAt: inWeek, Minutes: 30, Owner: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.LogCall(env.Ctx, domain.Call{Subject: "old call", StartsAt: outOfWeek, Minutes: 15, Owner: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateEvent(env.Ctx, domain.Event{Title: "demo", StartsAt: inWeek, Owner: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{Subject: "send quote", Owner: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}

	act, err := env.Reporter.Activity(env.Ctx, "alice@example.com", "2026-09", true, true, true)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if act.Calls != 1 || act.CallMinutes != 30 {
		t.Fatalf("calls = %d (%d min)", act.Calls, act.CallMinutes)
	}
	if act.Meetings != 1 {
		t.Fatalf("meetings = %d", act.Meetings)
	}
	if act.TasksCreated != 1 || act.TasksCompleted != 0 {
		t.Fatalf("tasks = %d created / %d completed", act.TasksCreated, act.TasksCompleted)
	}
}

func TestActivitySectionsCanBeExcluded(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.LogCall(env.Ctx, domain.Call{Subject: "call", StartsAt: time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatal(err)
	}
	act, err := env.Reporter.Activity(env.Ctx, "", "2026-09", false, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if act.Calls != 0 && act.Meetings != 0 {
		t.Fatalf("excluded sections still counted: %+v", act)
	}
}

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"salesline/internal/config"
	"salesline/internal/criteria"
	"salesline/internal/domain"
	"salesline/internal/engine"
	"salesline/internal/fault"
	"salesline/internal/store/sqlite"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
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
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreate(t *testing.T, env testEnv, in engine.CreateInput) domain.Pipeline {
	t.Helper()
	p, err := env.Engine.Create(env.Ctx, in)
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	return p
}

func TestCreateDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.CreateInput{Name: "Acme deal", Actor: "alice"})

	if p.Stage != "Qualification" {
		t.Fatalf("stage = %q, want Qualification", p.Stage)
	}
	if p.Status != domain.StatusOpen {
		t.Fatalf("status = %q, want Open", p.Status)
	}
	if p.Probability != 25 {
		t.Fatalf("probability = %d, want stage default 25", p.Probability)
	}
	if p.SubPipeline != "Sales Pipeline Standard" {
		t.Fatalf("sub pipeline = %q", p.SubPipeline)
	}
	if len(p.StageHistory) != 1 || p.StageHistory[0].Stage != "Qualification" || p.StageHistory[0].Actor != "alice" {
		t.Fatalf("stage history = %+v, want one Qualification entry by alice", p.StageHistory)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: ""}); !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("empty name: got %v, want validation_failed", err)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "x", Stage: "Daydreaming"}); !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("unknown stage: got %v, want validation_failed", err)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "x", Stage: "Closed Won"}); !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("terminal stage: got %v, want validation_failed", err)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.CreateInput{Name: "x", Amount: decimal.NewFromInt(-5)}); !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("negative amount: got %v, want validation_failed", err)
	}
}

func TestAdvanceWalksEveryStageThenRefuses(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.CreateInput{Name: "walker"})

	stages := env.Engine.Cfg.Pipeline.Stages
	for i := 1; i < len(stages); i++ {
		var err error
		p, err = env.Engine.Advance(env.Ctx, p.ID, "alice")
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if p.Stage != stages[i] {
			t.Fatalf("after advance %d stage = %q, want %q", i, p.Stage, stages[i])
		}
		want, _ := env.Engine.Cfg.StageProbability(stages[i])
		if p.Probability != want {
			t.Fatalf("after advance %d probability = %d, want %d", i, p.Probability, want)
		}
	}
	if len(p.StageHistory) != len(stages) {
		t.Fatalf("history length = %d, want %d", len(p.StageHistory), len(stages))
	}

	// Last open stage: only win or lose may move it further.
	if _, err := env.Engine.Advance(env.Ctx, p.ID, "alice"); !fault.IsKind(err, fault.InvalidStateTransition) {
		t.Fatalf("advance past last stage: got %v, want invalid_state_transition", err)
	}
}

func TestWinIsIdempotentAndBlocksLose(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.CreateInput{Name: "winner"})

	won, err := env.Engine.Win(env.Ctx, p.ID, "alice")
	if err != nil {
		t.Fatalf("win: %v", err)
	}
	if won.Status != domain.StatusWon || won.Stage != "Closed Won" || won.Probability != 100 {
		t.Fatalf("after win: %+v", won)
	}
	histLen := len(won.StageHistory)

	again, err := env.Engine.Win(env.Ctx, p.ID, "alice")
	if err != nil {
		t.Fatalf("second win: %v", err)
	}
	if len(again.StageHistory) != histLen {
		t.Fatalf("second win appended history: %d -> %d", histLen, len(again.StageHistory))
	}

	if _, err := env.Engine.Lose(env.Ctx, p.ID, "budget", "alice"); !fault.IsKind(err, fault.InvalidStateTransition) {
		t.Fatalf("lose a won pipeline: got %v, want invalid_state_transition", err)
	}
}

func TestLoseRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.CreateInput{Name: "loser"})

	if _, err := env.Engine.Lose(env.Ctx, p.ID, "", "alice"); !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("lose without reason: got %v, want validation_failed", err)
	}

	lost, err := env.Engine.Lose(env.Ctx, p.ID, "went with competitor", "alice")
	if err != nil {
		t.Fatalf("lose: %v", err)
	}
	if lost.Status != domain.StatusLost || lost.Stage != "Closed Lost" || lost.Probability != 0 {
		t.Fatalf("after lose: %+v", lost)
	}
	if lost.LossReason != "went with competitor" {
		t.Fatalf("loss reason = %q", lost.LossReason)
	}

	// Idempotent: a second lose changes nothing.
	again, err := env.Engine.Lose(env.Ctx, p.ID, "other reason", "alice")
	if err != nil {
		t.Fatalf("second lose: %v", err)
	}
	if again.LossReason != "went with competitor" || len(again.StageHistory) != len(lost.StageHistory) {
		t.Fatalf("second lose mutated the record: %+v", again)
	}
}

func TestTerminalPipelineRejectsUpdates(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.CreateInput{Name: "closed"})
	if _, err := env.Engine.Win(env.Ctx, p.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	name := "renamed"
	if _, err := env.Engine.Update(env.Ctx, p.ID, engine.UpdateInput{Name: &name}); !fault.IsKind(err, fault.InvalidStateTransition) {
		t.Fatalf("update won pipeline: got %v, want invalid_state_transition", err)
	}
	if _, err := env.Engine.Advance(env.Ctx, p.ID, "alice"); !fault.IsKind(err, fault.InvalidStateTransition) {
		t.Fatalf("advance won pipeline: got %v, want invalid_state_transition", err)
	}
}

func TestUpdateStageResetsProbabilityAndAppendsHistory(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.CreateInput{Name: "mover"})

	stage := "Proposal/Price Quote"
	updated, err := env.Engine.Update(env.Ctx, p.ID, engine.UpdateInput{Stage: &stage, Actor: "bob"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Stage != stage || updated.Probability != 70 {
		t.Fatalf("after stage update: stage=%q prob=%d", updated.Stage, updated.Probability)
	}
	if len(updated.StageHistory) != 2 || updated.StageHistory[1].Actor != "bob" {
		t.Fatalf("history = %+v", updated.StageHistory)
	}

	// Explicit probability in the same update wins over the stage default.
	stage2 := "Negotiation/Review"
	prob := 55
	updated, err = env.Engine.Update(env.Ctx, p.ID, engine.UpdateInput{Stage: &stage2, Probability: &prob})
	if err != nil {
		t.Fatalf("update with probability: %v", err)
	}
	if updated.Probability != 55 {
		t.Fatalf("probability = %d, want explicit 55", updated.Probability)
	}
}

func TestUpdateToTerminalStageRefused(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.CreateInput{Name: "sneaky"})

	stage := "Closed Won"
	if _, err := env.Engine.Update(env.Ctx, p.ID, engine.UpdateInput{Stage: &stage}); !fault.IsKind(err, fault.InvalidStateTransition) {
		t.Fatalf("set stage to Closed Won via update: got %v, want invalid_state_transition", err)
	}
}

func TestGetUnknownIDIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Get(env.Ctx, "no-such-id"); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("got %v, want not_found", err)
	}
}

func TestListExcludesClosedByDefault(t *testing.T) {
	env := newTestEnv(t)
	open := mustCreate(t, env, engine.CreateInput{Name: "open deal"})
	closed := mustCreate(t, env, engine.CreateInput{Name: "closed deal"})
	if _, err := env.Engine.Win(env.Ctx, closed.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	pipelines, err := env.Engine.List(env.Ctx, false, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pipelines) != 1 || pipelines[0].ID != open.ID {
		t.Fatalf("open list = %+v", pipelines)
	}

	all, err := env.Engine.List(env.Ctx, true, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all list has %d entries, want 2", len(all))
	}
}

func TestBulkUpdateSelectsOpenMatches(t *testing.T) {
	env := newTestEnv(t)
	prob := 90
	low := 10
	a := mustCreate(t, env, engine.CreateInput{Name: "a", Probability: &prob})
	b := mustCreate(t, env, engine.CreateInput{Name: "b", Probability: &prob})
	mustCreate(t, env, engine.CreateInput{Name: "c", Probability: &low})

	// Won pipelines leave the open list and so the selection.
	if _, err := env.Engine.Win(env.Ctx, b.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	expr, err := criteria.Resolve("probability-gt-80")
	if err != nil {
		t.Fatal(err)
	}
	stage := "Needs Analysis"
	res, err := env.Engine.BulkUpdate(env.Ctx, expr, engine.UpdateInput{Stage: &stage, Actor: "alice"}, 2)
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if res.Matched != 1 || res.Updated != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want exactly a updated", res)
	}

	got, err := env.Engine.Get(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != "Needs Analysis" {
		t.Fatalf("a stage = %q", got.Stage)
	}
}

func TestBulkUpdateReportsPerItemFailures(t *testing.T) {
	env := newTestEnv(t)
	prob := 95
	good := mustCreate(t, env, engine.CreateInput{Name: "good", Probability: &prob})
	bad := mustCreate(t, env, engine.CreateInput{Name: "bad", Probability: &prob})

	expr, err := criteria.Resolve("probability-gt-80")
	if err != nil {
		t.Fatal(err)
	}
	// An invalid probability makes every item fail validation; check the
	// failures carry ids and kinds while matched stays accurate.
	tooHigh := 150
	res, err := env.Engine.BulkUpdate(env.Ctx, expr, engine.UpdateInput{Probability: &tooHigh}, 2)
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if res.Matched != 2 || res.Updated != 0 || res.Failed != 2 {
		t.Fatalf("result = %+v, want 2 failures", res)
	}
	ids := map[string]bool{}
	for _, f := range res.Failures {
		if f.Kind != fault.ValidationFailed {
			t.Fatalf("failure kind = %q", f.Kind)
		}
		ids[f.ID] = true
	}
	if !ids[good.ID] || !ids[bad.ID] {
		t.Fatalf("failure ids = %v", ids)
	}
}

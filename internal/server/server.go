// Package server exposes the lifecycle, automation, and reporting
// operations over HTTP. The API surface mirrors the CLI: same inputs, same
// error kinds, mapped onto statuses.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"salesline/internal/automation"
	"salesline/internal/batch"
	"salesline/internal/criteria"
	"salesline/internal/domain"
	"salesline/internal/engine"
	"salesline/internal/fault"
	"salesline/internal/report"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string `json:"code" example:"invalid_state_transition"`
	Message string `json:"message" example:"pipeline is Won and cannot change"`
}

// apiError is the error envelope every non-2xx response carries.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

// handleError maps fault kinds onto HTTP statuses. Upstream store and
// credential failures surface as gateway errors: the caller did nothing
// wrong.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.ValidationFailed, fault.UnknownCriteria:
		status = http.StatusBadRequest
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.InvalidStateTransition:
		status = http.StatusConflict
	case fault.AuthRequired, fault.RefreshFailed, fault.RemoteUnavailable:
		status = http.StatusBadGateway
	case fault.Timeout:
		status = http.StatusGatewayTimeout
	}
	code := string(kind)
	if code == "" {
		code = "internal"
	}
	return newAPIError(status, code, err.Error())
}

// New returns an HTTP handler exposing the API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "bad_request", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	api := humachi.New(router, huma.DefaultConfig("Salesline API", "0.1.0"))
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerPipelines(group, cfg.Engine)
	registerAutomation(group, cfg.Engine)
	registerReports(group, cfg.Engine)

	return router
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// pipelineBody is the wire view of a pipeline; amounts travel as strings.
type pipelineBody struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Stage       string               `json:"stage"`
	Status      string               `json:"status"`
	Amount      string               `json:"amount"`
	Probability int                  `json:"probability"`
	ClosingDate string               `json:"closing_date,omitempty"`
	Owner       string               `json:"owner,omitempty"`
	ContactID   string               `json:"contact_id,omitempty"`
	CompanyID   string               `json:"company_id,omitempty"`
	LossReason  string               `json:"loss_reason,omitempty"`
	History     []domain.StageChange `json:"stage_history,omitempty"`
}

func pipelineView(p domain.Pipeline) pipelineBody {
	out := pipelineBody{
		ID:          p.ID,
		Name:        p.Name,
		Stage:       p.Stage,
		Status:      string(p.Status),
		Amount:      p.Amount.String(),
		Probability: p.Probability,
		Owner:       p.Owner,
		ContactID:   p.ContactID,
		CompanyID:   p.CompanyID,
		LossReason:  p.LossReason,
		History:     p.StageHistory,
	}
	if !p.ClosingDate.IsZero() {
		out.ClosingDate = p.ClosingDate.Format("2006-01-02")
	}
	return out
}

type pipelineOutput struct {
	Body pipelineBody `json:"body"`
}

func registerPipelines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-pipeline",
		Method:      http.MethodPost,
		Path:        "/pipelines",
		Summary:     "Create a pipeline",
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name        string `json:"name"`
			Stage       string `json:"stage,omitempty"`
			Amount      string `json:"amount,omitempty"`
			Probability *int   `json:"probability,omitempty"`
			ClosingDate string `json:"closing_date,omitempty" format:"date"`
			Owner       string `json:"owner,omitempty"`
			ContactID   string `json:"contact_id,omitempty"`
			CompanyID   string `json:"company_id,omitempty"`
		} `json:"body"`
	}) (*pipelineOutput, error) {
		amount, closing, err := parseAmountAndDate(input.Body.Amount, input.Body.ClosingDate)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.Create(ctx, engine.CreateInput{
			Name:        input.Body.Name,
			Stage:       input.Body.Stage,
			Amount:      amount,
			Probability: input.Body.Probability,
			ClosingDate: closing,
			Owner:       input.Body.Owner,
			ContactID:   input.Body.ContactID,
			CompanyID:   input.Body.CompanyID,
			Actor:       actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &pipelineOutput{Body: pipelineView(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/pipelines/{id}",
		Summary:     "Get a pipeline",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*pipelineOutput, error) {
		p, err := e.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &pipelineOutput{Body: pipelineView(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pipelines",
		Method:      http.MethodGet,
		Path:        "/pipelines",
		Summary:     "List pipelines",
	}, func(ctx context.Context, input *struct {
		IncludeClosed bool   `query:"include_closed"`
		Word          string `query:"q"`
		Limit         int    `query:"limit"`
	}) (*struct {
		Body []pipelineBody `json:"body"`
	}, error) {
		var (
			pipelines []domain.Pipeline
			err       error
		)
		if input.Word != "" {
			pipelines, err = e.Search(ctx, input.Word, input.Limit)
		} else {
			pipelines, err = e.List(ctx, input.IncludeClosed, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]pipelineBody, 0, len(pipelines))
		for _, p := range pipelines {
			out = append(out, pipelineView(p))
		}
		return &struct {
			Body []pipelineBody `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-pipeline",
		Method:      http.MethodPost,
		Path:        "/pipelines/{id}/advance",
		Summary:     "Advance a pipeline to its next stage",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*pipelineOutput, error) {
		p, err := e.Advance(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &pipelineOutput{Body: pipelineView(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "win-pipeline",
		Method:      http.MethodPost,
		Path:        "/pipelines/{id}/win",
		Summary:     "Close a pipeline as won",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*pipelineOutput, error) {
		p, err := e.Win(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &pipelineOutput{Body: pipelineView(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lose-pipeline",
		Method:      http.MethodPost,
		Path:        "/pipelines/{id}/lose",
		Summary:     "Close a pipeline as lost",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Reason string `json:"reason"`
		} `json:"body"`
	}) (*pipelineOutput, error) {
		p, err := e.Lose(ctx, input.ID, input.Body.Reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &pipelineOutput{Body: pipelineView(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-update-pipelines",
		Method:      http.MethodPost,
		Path:        "/pipelines/bulk-update",
		Summary:     "Update every pipeline a criterion selects",
	}, func(ctx context.Context, input *struct {
		Body struct {
			Criteria    string      `json:"criteria"`
			Stage       stringField `json:"stage,omitempty"`
			Owner       stringField `json:"owner,omitempty"`
			Probability *int        `json:"probability,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body batch.Result `json:"body"`
	}, error) {
		expr, err := criteria.Resolve(input.Body.Criteria)
		if err != nil {
			return nil, handleError(err)
		}
		update := engine.UpdateInput{
			Stage:       input.Body.Stage.ptr(),
			Owner:       input.Body.Owner.ptr(),
			Probability: input.Body.Probability,
			Actor:       actorFromContext(ctx),
		}
		res, err := e.BulkUpdate(ctx, expr, update, 0)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body batch.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerAutomation(api huma.API, e engine.Engine) {
	runner := automation.New(e)

	huma.Register(api, huma.Operation{
		OperationID: "assign-unassigned",
		Method:      http.MethodPost,
		Path:        "/automation/assign",
		Summary:     "Assign ownerless pipelines round-robin",
	}, func(ctx context.Context, input *struct {
		Body struct {
			Owners []string `json:"owners"`
		} `json:"body"`
	}) (*struct {
		Body batch.Result `json:"body"`
	}, error) {
		res, err := runner.AssignUnassigned(ctx, input.Body.Owners)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body batch.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "follow-up",
		Method:      http.MethodPost,
		Path:        "/automation/follow-up",
		Summary:     "Create follow-up tasks for stale pipelines",
	}, func(ctx context.Context, input *struct {
		Body struct {
			StaleDays int `json:"stale_days,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body batch.Result `json:"body"`
	}, error) {
		_, res, err := runner.FollowUp(ctx, input.Body.StaleDays)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body batch.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auto-advance",
		Method:      http.MethodPost,
		Path:        "/automation/advance",
		Summary:     "Advance pipelines matching a criterion",
	}, func(ctx context.Context, input *struct {
		Body struct {
			Criteria string `json:"criteria"`
		} `json:"body"`
	}) (*struct {
		Body batch.Result `json:"body"`
	}, error) {
		res, err := runner.AutoAdvance(ctx, input.Body.Criteria, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body batch.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stuck-pipelines",
		Method:      http.MethodGet,
		Path:        "/automation/stuck",
		Summary:     "List pipelines stuck in their stage",
	}, func(ctx context.Context, input *struct {
		Days int `query:"days"`
	}) (*struct {
		Body []automation.StuckPipeline `json:"body"`
	}, error) {
		stuck, err := runner.Stuck(ctx, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []automation.StuckPipeline `json:"body"`
		}{Body: stuck}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	reporter := report.New(e)

	huma.Register(api, huma.Operation{
		OperationID: "pipeline-report",
		Method:      http.MethodGet,
		Path:        "/reports/pipeline",
		Summary:     "Pipeline summary report",
	}, func(ctx context.Context, input *struct {
		ByStage       bool `query:"by_stage"`
		ByOwner       bool `query:"by_owner"`
		IncludeClosed bool `query:"include_closed"`
	}) (*struct {
		Body report.PipelineReport `json:"body"`
	}, error) {
		byStage, byOwner := input.ByStage, input.ByOwner
		if !byStage && !byOwner {
			byStage, byOwner = true, true
		}
		rep, err := reporter.Pipeline(ctx, byStage, byOwner, input.IncludeClosed)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body report.PipelineReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "forecast",
		Method:      http.MethodGet,
		Path:        "/reports/forecast",
		Summary:     "Weighted revenue forecast",
	}, func(ctx context.Context, input *struct {
		Month string `query:"month"`
	}) (*struct {
		Body report.Forecast `json:"body"`
	}, error) {
		rep, err := reporter.Forecast(ctx, input.Month)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body report.Forecast `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "performance-report",
		Method:      http.MethodGet,
		Path:        "/reports/performance",
		Summary:     "Owner performance report",
	}, func(ctx context.Context, input *struct {
		Owner string `query:"owner"`
		Month string `query:"month"`
	}) (*struct {
		Body report.Performance `json:"body"`
	}, error) {
		rep, err := reporter.Performance(ctx, input.Owner, input.Month)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body report.Performance `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-report",
		Method:      http.MethodGet,
		Path:        "/reports/activity",
		Summary:     "Weekly activity report",
	}, func(ctx context.Context, input *struct {
		User string `query:"user"`
		Week string `query:"week"`
	}) (*struct {
		Body report.Activity `json:"body"`
	}, error) {
		rep, err := reporter.Activity(ctx, input.User, input.Week, true, true, true)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body report.Activity `json:"body"`
		}{Body: rep}, nil
	})
}

// stringField distinguishes absent from empty in JSON bodies.
type stringField string

func (s stringField) ptr() *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

func parseAmountAndDate(amount, closing string) (decimal.Decimal, time.Time, error) {
	amt := decimal.Zero
	if amount != "" {
		var err error
		amt, err = decimal.NewFromString(amount)
		if err != nil {
			return decimal.Decimal{}, time.Time{}, fault.New(fault.ValidationFailed, "amount %q is not a number", amount)
		}
	}
	var date time.Time
	if closing != "" {
		var err error
		date, err = time.Parse("2006-01-02", closing)
		if err != nil {
			return decimal.Decimal{}, time.Time{}, fault.New(fault.ValidationFailed, "closing date must look like 2006-01-02, got %q", closing)
		}
	}
	return amt, date, nil
}

// Package domain holds the typed CRM entities and the codecs that move them
// in and out of raw store records. Raw records never travel past this
// package: store calls decode into these structs at the boundary.
package domain

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"salesline/internal/fault"
)

// Status is the pipeline lifecycle state. Won and Lost are terminal.
type Status string

const (
	StatusOpen Status = "Open"
	StatusWon  Status = "Won"
	StatusLost Status = "Lost"
)

// Terminal reports whether the status forbids further mutation.
func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost
}

// StageChange is one entry in a pipeline's stage history.
type StageChange struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
	Actor string    `json:"actor,omitempty"`
}

// Pipeline is a deal record moving through ordered stages.
type Pipeline struct {
	ID           string
	Name         string `validate:"required"`
	Stage        string `validate:"required"`
	Status       Status
	Amount       decimal.Decimal
	Probability  int `validate:"gte=0,lte=100"`
	ClosingDate  time.Time
	Owner        string
	ContactID    string
	CompanyID    string
	SubPipeline  string
	LossReason   string
	StageHistory []StageChange
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contact is a person record.
type Contact struct {
	ID        string
	FirstName string
	LastName  string `validate:"required"`
	Email     string `validate:"omitempty,email"`
	Phone     string
	CompanyID string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Company is an organization record, stored in the Accounts collection.
type Company struct {
	ID        string
	Name      string `validate:"required"`
	Website   string
	Phone     string
	Industry  string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RelatedRef points an activity at the record it concerns.
type RelatedRef struct {
	Collection string
	ID         string
}

// Task is a to-do activity.
type Task struct {
	ID        string
	Subject   string `validate:"required"`
	DueDate   time.Time
	Priority  string
	Status    string
	Owner     string
	Related   RelatedRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is a scheduled activity with a start and end.
type Event struct {
	ID        string
	Title     string    `validate:"required"`
	StartsAt  time.Time `validate:"required"`
	EndsAt    time.Time
	Location  string
	Owner     string
	Related   RelatedRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Call is a logged phone activity.
type Call struct {
	ID        string
	Subject   string `validate:"required"`
	StartsAt  time.Time
	Minutes   int
	Result    string
	Owner     string
	Related   RelatedRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

var validate = validator.New()

// Validate runs struct tag validation plus the checks tags cannot express.
func (p Pipeline) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fault.Wrap(fault.ValidationFailed, err, "invalid pipeline")
	}
	if p.Amount.IsNegative() {
		return fault.New(fault.ValidationFailed, "amount must not be negative")
	}
	return nil
}

func (c Contact) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fault.Wrap(fault.ValidationFailed, err, "invalid contact")
	}
	return nil
}

func (c Company) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fault.Wrap(fault.ValidationFailed, err, "invalid company")
	}
	return nil
}

func (t Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fault.Wrap(fault.ValidationFailed, err, "invalid task")
	}
	return nil
}

func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fault.Wrap(fault.ValidationFailed, err, "invalid event")
	}
	if !e.EndsAt.IsZero() && e.EndsAt.Before(e.StartsAt) {
		return fault.New(fault.ValidationFailed, "event ends before it starts")
	}
	return nil
}

func (c Call) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fault.Wrap(fault.ValidationFailed, err, "invalid call")
	}
	if c.Minutes < 0 {
		return fault.New(fault.ValidationFailed, "call duration must not be negative")
	}
	return nil
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"salesline/internal/store"
)

// Record field names follow the Bigin module fields so the remote adapter
// can pass them through unchanged.
const (
	FieldID          = "id"
	FieldDealName    = "Deal_Name"
	FieldStage       = "Stage"
	FieldStatus      = "Status"
	FieldAmount      = "Amount"
	FieldProbability = "Probability"
	FieldClosingDate = "Closing_Date"
	FieldOwner       = "Owner"
	FieldContact     = "Contact_Name"
	FieldAccount     = "Account_Name"
	FieldSubPipeline = "Sub_Pipeline"
	FieldLossReason  = "Loss_Reason"
	FieldHistory     = "Stage_History"
	FieldCreated     = "Created_Time"
	FieldModified    = "Modified_Time"

	FieldFirstName = "First_Name"
	FieldLastName  = "Last_Name"
	FieldEmail     = "Email"
	FieldPhone     = "Phone"
	FieldWebsite   = "Website"
	FieldIndustry  = "Industry"

	FieldSubject    = "Subject"
	FieldDueDate    = "Due_Date"
	FieldPriority   = "Priority"
	FieldTaskStatus = "Task_Status"
	FieldWhatID     = "What_Id"
	FieldWhatModule = "Related_Module"

	FieldEventTitle = "Event_Title"
	FieldStartsAt   = "Start_DateTime"
	FieldEndsAt     = "End_DateTime"
	FieldLocation   = "Location"

	FieldCallStart  = "Call_Start_Time"
	FieldCallMins   = "Call_Duration"
	FieldCallResult = "Call_Result"
)

const dateLayout = "2006-01-02"

// PipelineRecord lays a pipeline out as store fields. Zero timestamps and
// the id are omitted so the store can assign them.
func PipelineRecord(p Pipeline) store.Record {
	r := store.Record{
		FieldDealName:    p.Name,
		FieldStage:       p.Stage,
		FieldStatus:      string(p.Status),
		FieldAmount:      p.Amount.String(),
		FieldProbability: p.Probability,
		FieldOwner:       p.Owner,
		FieldContact:     p.ContactID,
		FieldAccount:     p.CompanyID,
		FieldSubPipeline: p.SubPipeline,
		FieldLossReason:  p.LossReason,
		FieldHistory:     HistoryList(p.StageHistory),
	}
	if !p.ClosingDate.IsZero() {
		r[FieldClosingDate] = p.ClosingDate.Format(dateLayout)
	}
	return r
}

// DecodePipeline builds a typed pipeline from a raw record.
func DecodePipeline(r store.Record) Pipeline {
	p := Pipeline{
		ID:           r.ID(),
		Name:         str(r, FieldDealName),
		Stage:        str(r, FieldStage),
		Status:       Status(str(r, FieldStatus)),
		Amount:       dec(r, FieldAmount),
		Probability:  num(r, FieldProbability),
		ClosingDate:  date(r, FieldClosingDate),
		Owner:        str(r, FieldOwner),
		ContactID:    str(r, FieldContact),
		CompanyID:    str(r, FieldAccount),
		SubPipeline:  str(r, FieldSubPipeline),
		LossReason:   str(r, FieldLossReason),
		StageHistory: decodeHistory(r[FieldHistory]),
		CreatedAt:    stamp(r, FieldCreated),
		UpdatedAt:    stamp(r, FieldModified),
	}
	if p.Status == "" {
		p.Status = StatusOpen
	}
	return p
}

func ContactRecord(c Contact) store.Record {
	return store.Record{
		FieldFirstName: c.FirstName,
		FieldLastName:  c.LastName,
		FieldEmail:     c.Email,
		FieldPhone:     c.Phone,
		FieldAccount:   c.CompanyID,
		FieldOwner:     c.Owner,
	}
}

func DecodeContact(r store.Record) Contact {
	return Contact{
		ID:        r.ID(),
		FirstName: str(r, FieldFirstName),
		LastName:  str(r, FieldLastName),
		Email:     str(r, FieldEmail),
		Phone:     str(r, FieldPhone),
		CompanyID: str(r, FieldAccount),
		Owner:     str(r, FieldOwner),
		CreatedAt: stamp(r, FieldCreated),
		UpdatedAt: stamp(r, FieldModified),
	}
}

func CompanyRecord(c Company) store.Record {
	return store.Record{
		FieldAccount:  c.Name,
		FieldWebsite:  c.Website,
		FieldPhone:    c.Phone,
		FieldIndustry: c.Industry,
		FieldOwner:    c.Owner,
	}
}

func DecodeCompany(r store.Record) Company {
	return Company{
		ID:        r.ID(),
		Name:      str(r, FieldAccount),
		Website:   str(r, FieldWebsite),
		Phone:     str(r, FieldPhone),
		Industry:  str(r, FieldIndustry),
		Owner:     str(r, FieldOwner),
		CreatedAt: stamp(r, FieldCreated),
		UpdatedAt: stamp(r, FieldModified),
	}
}

func TaskRecord(t Task) store.Record {
	r := store.Record{
		FieldSubject:    t.Subject,
		FieldPriority:   t.Priority,
		FieldTaskStatus: t.Status,
		FieldOwner:      t.Owner,
	}
	if !t.DueDate.IsZero() {
		r[FieldDueDate] = t.DueDate.Format(dateLayout)
	}
	putRelated(r, t.Related)
	return r
}

func DecodeTask(r store.Record) Task {
	return Task{
		ID:        r.ID(),
		Subject:   str(r, FieldSubject),
		DueDate:   date(r, FieldDueDate),
		Priority:  str(r, FieldPriority),
		Status:    str(r, FieldTaskStatus),
		Owner:     str(r, FieldOwner),
		Related:   related(r),
		CreatedAt: stamp(r, FieldCreated),
		UpdatedAt: stamp(r, FieldModified),
	}
}

func EventRecord(e Event) store.Record {
	r := store.Record{
		FieldEventTitle: e.Title,
		FieldStartsAt:   e.StartsAt.Format(time.RFC3339),
		FieldLocation:   e.Location,
		FieldOwner:      e.Owner,
	}
	if !e.EndsAt.IsZero() {
		r[FieldEndsAt] = e.EndsAt.Format(time.RFC3339)
	}
	putRelated(r, e.Related)
	return r
}

func DecodeEvent(r store.Record) Event {
	return Event{
		ID:        r.ID(),
		Title:     str(r, FieldEventTitle),
		StartsAt:  stamp(r, FieldStartsAt),
		EndsAt:    stamp(r, FieldEndsAt),
		Location:  str(r, FieldLocation),
		Owner:     str(r, FieldOwner),
		Related:   related(r),
		CreatedAt: stamp(r, FieldCreated),
		UpdatedAt: stamp(r, FieldModified),
	}
}

func CallRecord(c Call) store.Record {
	r := store.Record{
		FieldSubject:    c.Subject,
		FieldCallMins:   c.Minutes,
		FieldCallResult: c.Result,
		FieldOwner:      c.Owner,
	}
	if !c.StartsAt.IsZero() {
		r[FieldCallStart] = c.StartsAt.Format(time.RFC3339)
	}
	putRelated(r, c.Related)
	return r
}

func DecodeCall(r store.Record) Call {
	return Call{
		ID:        r.ID(),
		Subject:   str(r, FieldSubject),
		StartsAt:  stamp(r, FieldCallStart),
		Minutes:   num(r, FieldCallMins),
		Result:    str(r, FieldCallResult),
		Owner:     str(r, FieldOwner),
		Related:   related(r),
		CreatedAt: stamp(r, FieldCreated),
		UpdatedAt: stamp(r, FieldModified),
	}
}

func putRelated(r store.Record, ref RelatedRef) {
	if ref.ID != "" {
		r[FieldWhatID] = ref.ID
		r[FieldWhatModule] = ref.Collection
	}
}

func related(r store.Record) RelatedRef {
	return RelatedRef{
		Collection: str(r, FieldWhatModule),
		ID:         str(r, FieldWhatID),
	}
}

// HistoryList lays stage history out as store values.
func HistoryList(changes []StageChange) []any {
	out := make([]any, 0, len(changes))
	for _, c := range changes {
		entry := map[string]any{
			"stage": c.Stage,
			"at":    c.At.Format(time.RFC3339),
		}
		if c.Actor != "" {
			entry["actor"] = c.Actor
		}
		out = append(out, entry)
	}
	return out
}

func decodeHistory(v any) []StageChange {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]StageChange, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		at, _ := time.Parse(time.RFC3339, asStr(m["at"]))
		out = append(out, StageChange{
			Stage: asStr(m["stage"]),
			At:    at,
			Actor: asStr(m["actor"]),
		})
	}
	return out
}

func str(r store.Record, field string) string { return asStr(r[field]) }

func asStr(v any) string {
	s, _ := v.(string)
	return s
}

func num(r store.Record, field string) int {
	switch n := r[field].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func dec(r store.Record, field string) decimal.Decimal {
	switch n := r[field].(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	}
	return decimal.Zero
}

func date(r store.Record, field string) time.Time {
	s := str(r, field)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func stamp(r store.Record, field string) time.Time {
	s := str(r, field)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse(dateLayout, s)
	return t
}

package engine

import (
	"context"

	"salesline/internal/domain"
	"salesline/internal/fault"
	"salesline/internal/store"
)

// Contact, company, and activity operations. These carry no lifecycle
// rules beyond field validation, so they stay thin: validate, encode,
// store, decode.

func (e Engine) CreateContact(ctx context.Context, c domain.Contact) (domain.Contact, error) {
	if err := c.Validate(); err != nil {
		return domain.Contact{}, err
	}
	rec, err := e.Store.Create(ctx, store.Contacts, domain.ContactRecord(c))
	if err != nil {
		return domain.Contact{}, err
	}
	return domain.DecodeContact(rec), nil
}

func (e Engine) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	rec, err := e.Store.Get(ctx, store.Contacts, id)
	if err != nil {
		return domain.Contact{}, err
	}
	return domain.DecodeContact(rec), nil
}

// ContactUpdate carries the fields an update may change; nil leaves a
// field untouched.
type ContactUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	CompanyID *string
	Owner     *string
}

func (e Engine) UpdateContact(ctx context.Context, id string, in ContactUpdate) (domain.Contact, error) {
	fields := store.Record{}
	if in.FirstName != nil {
		fields[domain.FieldFirstName] = *in.FirstName
	}
	if in.LastName != nil {
		if *in.LastName == "" {
			return domain.Contact{}, fault.New(fault.ValidationFailed, "last name must not be empty")
		}
		fields[domain.FieldLastName] = *in.LastName
	}
	if in.Email != nil {
		check := domain.Contact{LastName: "check", Email: *in.Email}
		if err := check.Validate(); err != nil {
			return domain.Contact{}, err
		}
		fields[domain.FieldEmail] = *in.Email
	}
	if in.Phone != nil {
		fields[domain.FieldPhone] = *in.Phone
	}
	if in.CompanyID != nil {
		fields[domain.FieldAccount] = *in.CompanyID
	}
	if in.Owner != nil {
		fields[domain.FieldOwner] = *in.Owner
	}
	if len(fields) == 0 {
		return e.GetContact(ctx, id)
	}
	rec, err := e.Store.Update(ctx, store.Contacts, id, fields)
	if err != nil {
		return domain.Contact{}, err
	}
	return domain.DecodeContact(rec), nil
}

func (e Engine) SearchContacts(ctx context.Context, word string, limit int) ([]domain.Contact, error) {
	recs, err := e.Store.Search(ctx, store.Contacts, store.Query{Word: word, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Contact, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.DecodeContact(r))
	}
	return out, nil
}

func (e Engine) CreateCompany(ctx context.Context, c domain.Company) (domain.Company, error) {
	if err := c.Validate(); err != nil {
		return domain.Company{}, err
	}
	rec, err := e.Store.Create(ctx, store.Companies, domain.CompanyRecord(c))
	if err != nil {
		return domain.Company{}, err
	}
	return domain.DecodeCompany(rec), nil
}

func (e Engine) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	rec, err := e.Store.Get(ctx, store.Companies, id)
	if err != nil {
		return domain.Company{}, err
	}
	return domain.DecodeCompany(rec), nil
}

func (e Engine) SearchCompanies(ctx context.Context, word string, limit int) ([]domain.Company, error) {
	recs, err := e.Store.Search(ctx, store.Companies, store.Query{Word: word, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Company, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.DecodeCompany(r))
	}
	return out, nil
}

func (e Engine) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	rec, err := e.Store.Create(ctx, store.Tasks, domain.TaskRecord(t))
	if err != nil {
		return domain.Task{}, err
	}
	return domain.DecodeTask(rec), nil
}

func (e Engine) CloseTask(ctx context.Context, id string) (domain.Task, error) {
	rec, err := e.Store.Update(ctx, store.Tasks, id, store.Record{domain.FieldTaskStatus: "Completed"})
	if err != nil {
		return domain.Task{}, err
	}
	return domain.DecodeTask(rec), nil
}

func (e Engine) ListTasks(ctx context.Context, owner string, limit int) ([]domain.Task, error) {
	q := store.Query{Limit: limit}
	if owner != "" {
		q.Filters = []store.Filter{{Field: domain.FieldOwner, Op: store.Equals, Value: owner}}
	}
	recs, err := e.Store.Search(ctx, store.Tasks, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.DecodeTask(r))
	}
	return out, nil
}

func (e Engine) CreateEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	if err := ev.Validate(); err != nil {
		return domain.Event{}, err
	}
	rec, err := e.Store.Create(ctx, store.Events, domain.EventRecord(ev))
	if err != nil {
		return domain.Event{}, err
	}
	return domain.DecodeEvent(rec), nil
}

func (e Engine) ListEvents(ctx context.Context, owner string, limit int) ([]domain.Event, error) {
	q := store.Query{Limit: limit}
	if owner != "" {
		q.Filters = []store.Filter{{Field: domain.FieldOwner, Op: store.Equals, Value: owner}}
	}
	recs, err := e.Store.Search(ctx, store.Events, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.DecodeEvent(r))
	}
	return out, nil
}

func (e Engine) LogCall(ctx context.Context, c domain.Call) (domain.Call, error) {
	if c.StartsAt.IsZero() {
		c.StartsAt = e.Now().UTC()
	}
	if err := c.Validate(); err != nil {
		return domain.Call{}, err
	}
	rec, err := e.Store.Create(ctx, store.Calls, domain.CallRecord(c))
	if err != nil {
		return domain.Call{}, err
	}
	return domain.DecodeCall(rec), nil
}

func (e Engine) ListCalls(ctx context.Context, owner string, limit int) ([]domain.Call, error) {
	q := store.Query{Limit: limit}
	if owner != "" {
		q.Filters = []store.Filter{{Field: domain.FieldOwner, Op: store.Equals, Value: owner}}
	}
	recs, err := e.Store.Search(ctx, store.Calls, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Call, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.DecodeCall(r))
	}
	return out, nil
}

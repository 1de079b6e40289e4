package remote

import "salesline/internal/store"

// The wire format nests lookups ({"id": ...}) and owners ({"email": ...});
// the module-internal record shape keeps every field scalar. These two
// functions translate between them. Account_Name is only a lookup outside
// the Accounts collection itself, where it is the plain company name.

var lookupFields = map[string]bool{
	"Contact_Name": true,
	"Account_Name": true,
	"What_Id":      true,
}

func encodeFields(col store.Collection, fields store.Record) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch {
		case k == "Owner":
			if s, ok := v.(string); ok && s != "" {
				out[k] = map[string]any{"email": s}
			}
		case lookupFields[k] && !(col == store.Companies && k == "Account_Name"):
			if s, ok := v.(string); ok && s != "" {
				out[k] = map[string]any{"id": s}
			}
		default:
			out[k] = v
		}
	}
	return out
}

func decodeFields(col store.Collection, raw map[string]any) store.Record {
	rec := make(store.Record, len(raw))
	for k, v := range raw {
		m, isMap := v.(map[string]any)
		if !isMap {
			rec[k] = v
			continue
		}
		switch {
		case k == "Owner":
			rec[k] = pick(m, "email", "id")
		case lookupFields[k]:
			rec[k] = pick(m, "id", "name")
		default:
			rec[k] = v
		}
	}
	return rec
}

func pick(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Package response writes JSON bodies and client visible failures.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/fault"
)

// ContentTypeJSON is the content type of every body written here
const ContentTypeJSON = "application/json; charset=utf-8"

// JSON writes v as the response body with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", ContentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"kind":"Unclassified","message":"Unclassified error"}`))
		return
	}
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// StatusFor returns the HTTP status for a failure kind. Unauthorized is
// 401 when nobody is signed in and 403 when the caller lacks the capability.
func StatusFor(kind fault.Kind, authenticated bool) int {
	switch kind {
	case fault.NotFound:
		return http.StatusNotFound
	case fault.ValidationFailed:
		return http.StatusUnprocessableEntity
	case fault.Conflict:
		return http.StatusConflict
	case fault.Unauthorized:
		if authenticated {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error writes a translated failure
func Error(w http.ResponseWriter, r *http.Request, fe *fault.Error) {
	if fe == nil {
		fe = fault.New(fault.Unclassified, fault.UnclassifiedMessage)
	}
	authenticated := auth.PrincipalFrom(r.Context()) != nil
	if fe.Kind == fault.Unauthorized && !authenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="objgraph"`)
	}
	JSON(w, StatusFor(fe.Kind, authenticated), fe)
}

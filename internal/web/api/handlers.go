package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/codec"
	"github.com/conduit-lang/objgraph/internal/commit"
	"github.com/conduit-lang/objgraph/internal/fault"
	"github.com/conduit-lang/objgraph/internal/web/response"
)

// byIDsRequest is the body of POST /{type}
type byIDsRequest struct {
	RawIDs string `json:"raw_ids"`
	Fetch  string `json:"fetch"`
}

// TokenResponse is the body returned by POST /auth/token
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	response.Error(w, r, a.translator.Translate(r.Context(), err))
}

func (a *API) definitions(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, a.svc.Definitions())
}

func (a *API) definition(w http.ResponseWriter, r *http.Request) {
	def, err := a.svc.Definition(chi.URLParam(r, "type"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, def)
}

// getByIDs answers a single id with an object and a list with an array
func (a *API) getByIDs(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	ids, err := parseIDs(typeName, chi.URLParam(r, "ids"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	fetch := codec.ParsePaths(q["fetch"]...)
	exclude := codec.ParsePaths(q["exclude"]...)

	if len(ids) == 1 {
		node, err := a.svc.GetByID(r.Context(), typeName, ids[0], fetch, exclude)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		response.JSON(w, http.StatusOK, node)
		return
	}

	nodes, err := a.svc.GetByIDs(r.Context(), typeName, ids, fetch, exclude)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, nodes)
}

func (a *API) postByIDs(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	var body byIDsRequest
	if err := a.decode(w, r, typeName, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	ids, err := parseIDs(typeName, body.RawIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	nodes, err := a.svc.GetByIDs(r.Context(), typeName, ids, codec.ParsePaths(body.Fetch), nil)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, nodes)
}

func (a *API) getAll(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.svc.GetAll(r.Context(), chi.URLParam(r, "type"), codec.ParsePaths(r.URL.Query()["fetch"]...))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, nodes)
}

// getByExample matches entities against the JSON tree in ?example=. Without
// an example every readable entity of the type is returned.
func (a *API) getByExample(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	q := r.URL.Query()
	fetch := codec.ParsePaths(q["fetch"]...)

	raw := q.Get("example")
	if raw == "" {
		nodes, err := a.svc.GetAll(r.Context(), typeName, fetch)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		response.JSON(w, http.StatusOK, nodes)
		return
	}

	var example codec.Node
	if err := decodeJSON(strings.NewReader(raw), typeName, &example); err != nil {
		a.fail(w, r, err)
		return
	}
	nodes, err := a.svc.GetByExample(r.Context(), typeName, example, fetch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, nodes)
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	var node codec.Node
	if err := a.decode(w, r, typeName, &node); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.svc.Create(r.Context(), typeName, node)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, created)
}

func (a *API) commit(w http.ResponseWriter, r *http.Request) {
	var req commit.Request
	if err := a.decode(w, r, "", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.svc.Commit(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	if a.tokens == nil {
		a.fail(w, r, fault.New(fault.NotFound, "Token issuance is disabled"))
		return
	}
	p := auth.PrincipalFrom(r.Context())
	token, err := a.tokens.GenerateToken(*p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, TokenResponse{Token: token, TokenType: "Bearer"})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, typeName string, v any) error {
	return decodeJSON(http.MaxBytesReader(w, r.Body, a.maxBody), typeName, v)
}

// decodeJSON reads exactly one JSON value keeping numbers exact. Failures
// are reported as ValidationFailed naming the offending key when known.
func decodeJSON(body io.Reader, typeName string, v any) error {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	err := dec.Decode(v)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON value")
	}
	if err == nil {
		return nil
	}

	failure := fault.Failure{EntityType: typeName, Message: "malformed JSON body"}
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr):
		failure.FieldPath = typeErr.Field
		failure.Message = fmt.Sprintf("expected %s", typeErr.Type)
	case errors.As(err, &maxErr):
		failure.Message = fmt.Sprintf("body exceeds %d bytes", maxErr.Limit)
	case errors.Is(err, io.EOF):
		failure.Message = "empty body"
	}
	fe := fault.Wrap(fault.ValidationFailed, "Malformed request", err)
	fe.Failures = []fault.Failure{failure}
	return fe
}

// parseIDs parses a comma separated id list
func parseIDs(typeName, raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			fe := fault.Wrap(fault.ValidationFailed, "Malformed id list", err)
			fe.Failures = []fault.Failure{{EntityType: typeName, FieldPath: "ids", Message: fmt.Sprintf("%q is not an id", part)}}
			return nil, fe
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		fe := fault.New(fault.ValidationFailed, "Malformed id list")
		fe.Failures = []fault.Failure{{EntityType: typeName, FieldPath: "ids", Message: "no ids given"}}
		return nil, fe
	}
	return ids, nil
}

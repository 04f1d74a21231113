package approval

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bft-labs/walletbridge/pkg/protocol"
)

const maxBodyBytes = 1 << 20

type resolveBody struct {
	Result json.RawMessage `json:"result"`
}

type rejectBody struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves the queue. Mount it under /v1/approvals:
//
//	GET  /              open prompts
//	GET  /{id}          one prompt
//	POST /{id}/resolve  {"result": ...}
//	POST /{id}/reject   {"code": ..., "message": ...} (optional)
func (q *Queue) Handler() http.Handler {
	r := chi.NewRouter()
	if q.token != "" {
		r.Use(q.requireToken)
	}
	r.Get("/", q.handleList)
	r.Get("/{id}", q.handleGet)
	r.Post("/{id}/resolve", q.handleResolve)
	r.Post("/{id}/reject", q.handleReject)
	return r
}

func (q *Queue) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(q.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (q *Queue) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, q.List())
}

func (q *Queue) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := q.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: ErrNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (q *Queue) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if len(body.Result) == 0 {
		body.Result = json.RawMessage("null")
	}
	q.writeDecision(w, q.Resolve(chi.URLParam(r, "id"), body.Result))
}

func (q *Queue) handleReject(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var rpcErr *protocol.RPCError
	if body.Code != 0 {
		rpcErr = &protocol.RPCError{Code: body.Code, Message: body.Message, Data: body.Data}
		if rpcErr.Message == "" {
			rpcErr.Message = protocol.ErrUserRejected.Message
		}
	}
	q.writeDecision(w, q.Reject(chi.URLParam(r, "id"), rpcErr))
}

func (q *Queue) writeDecision(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		// The router already settled the request.
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	}
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return errors.New("invalid payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

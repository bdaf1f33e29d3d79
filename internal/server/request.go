package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/hanpama/graphload/internal/executor"
	"github.com/hanpama/graphload/internal/fault"
)

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// payload is a decoded request body: one operation, or several when the
// client sent a JSON array.
type payload struct {
	ops   []GraphQLRequest
	batch bool
}

// badRequest is a request rejected before execution.
type badRequest struct {
	status int
	err    *fault.Error
}

func reject(status int, msg string) *badRequest {
	return &badRequest{status: status, err: &fault.Error{Kind: fault.KindInvalidQuery, Message: msg}}
}

// readPayload decodes the operations of r. A batch longer than maxOps is
// rejected; maxOps of 0 accepts any length.
func readPayload(w http.ResponseWriter, r *http.Request, maxBody int64, maxOps int) (payload, *badRequest) {
	if r.Method == http.MethodGet {
		return readQueryString(r)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return payload{}, reject(http.StatusUnsupportedMediaType, "unsupported Content-Type")
		}
	}
	defer r.Body.Close()
	body := io.Reader(r.Body)
	if maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBody)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return payload{}, reject(http.StatusRequestEntityTooLarge, "body too large")
		}
		return payload{}, reject(http.StatusBadRequest, "failed to read body")
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var ops []GraphQLRequest
		if err := json.Unmarshal(raw, &ops); err != nil {
			return payload{}, reject(http.StatusBadRequest, "invalid JSON")
		}
		if len(ops) == 0 {
			return payload{}, reject(http.StatusBadRequest, "empty batch")
		}
		if maxOps > 0 && len(ops) > maxOps {
			return payload{}, reject(http.StatusBadRequest, fmt.Sprintf("batch of %d operations exceeds limit %d", len(ops), maxOps))
		}
		return payload{ops: ops, batch: true}, nil
	}
	var op GraphQLRequest
	if err := json.Unmarshal(raw, &op); err != nil {
		return payload{}, reject(http.StatusBadRequest, "invalid JSON")
	}
	if op.Query == "" {
		return payload{}, reject(http.StatusBadRequest, "missing 'query'")
	}
	return payload{ops: []GraphQLRequest{op}}, nil
}

func readQueryString(r *http.Request) (payload, *badRequest) {
	q := r.URL.Query()
	op := GraphQLRequest{Query: q.Get("query"), OperationName: q.Get("operationName")}
	if op.Query == "" {
		return payload{}, reject(http.StatusBadRequest, "missing 'query'")
	}
	if v := q.Get("variables"); v != "" {
		if err := json.Unmarshal([]byte(v), &op.Variables); err != nil {
			return payload{}, reject(http.StatusBadRequest, "invalid 'variables' JSON")
		}
	}
	return payload{ops: []GraphQLRequest{op}}, nil
}

// errorResponse formats a request-level failure. The message is reported
// without the kind prefix.
func errorResponse(err *fault.Error) *executor.ExecutionResult {
	res := executor.Failed(err)
	res.Errors[0].Message = err.Message
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

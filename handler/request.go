package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-json-experiment/json"
	"github.com/tidwall/gjson"
)

// Request is the argument to an HTTP route's callback.
type Request struct {
	// Writer is the response writer.
	Writer http.ResponseWriter
	// Req is the HTTP request.
	Req *http.Request

	params map[string]string
	body   []byte
	read   bool
}

// NewRequest wraps an HTTP request with its path parameters.
func NewRequest(w http.ResponseWriter, r *http.Request, params map[string]string) *Request {
	return &Request{Writer: w, Req: r, params: params}
}

// Param returns the value of a path parameter.
func (r *Request) Param(name string) string {
	return r.params[name]
}

// Params returns all path parameters.
func (r *Request) Params() map[string]string {
	return r.params
}

// Body reads the request body. Subsequent calls return the same bytes.
func (r *Request) Body() ([]byte, error) {
	if r.read {
		return r.body, nil
	}
	if r.Req.Body == nil {
		r.read = true
		return nil, nil
	}
	b, err := io.ReadAll(r.Req.Body)
	if err != nil {
		return nil, fmt.Errorf("couldn't read request body: %w", err)
	}
	r.body, r.read = b, true
	return b, nil
}

var errNotJSON = errors.New("request body is not valid JSON")

// JSON looks up a gjson path in the request body.
func (r *Request) JSON(path string) (gjson.Result, error) {
	b, err := r.Body()
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(b) {
		return gjson.Result{}, errNotJSON
	}
	return gjson.GetBytes(b, path), nil
}

// WriteJSON writes v as the JSON response body with the given status.
func (r *Request) WriteJSON(status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("couldn't encode response: %w", err)
	}
	r.Writer.Header().Set("Content-Type", "application/json")
	r.Writer.WriteHeader(status)
	_, err = r.Writer.Write(b)
	return err
}

// Write writes text as the response body.
func (r *Request) Write(text string) error {
	if r.Writer.Header().Get("Content-Type") == "" {
		r.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	_, err := io.WriteString(r.Writer, text)
	return err
}

package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zephyrtronium/switchboard/handler"
)

func TestRequestJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"band":{"members":["bocchi","kita"]}}`))
	w := httptest.NewRecorder()
	req := handler.NewRequest(w, r, map[string]string{"id": "42"})
	if got := req.Param("id"); got != "42" {
		t.Errorf("wrong param: %q", got)
	}
	v, err := req.JSON("band.members.1")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "kita" {
		t.Errorf("wrong value: %q", v.String())
	}
	// The body is still available after the first read.
	v, err = req.JSON("band.members.#")
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 2 {
		t.Errorf("wrong count: %d", v.Int())
	}
}

func TestRequestBadJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"band":`))
	req := handler.NewRequest(httptest.NewRecorder(), r, nil)
	if _, err := req.JSON("band"); err == nil {
		t.Error("no error for invalid JSON")
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	req := handler.NewRequest(w, httptest.NewRequest("GET", "/", nil), nil)
	err := req.WriteJSON(http.StatusCreated, map[string]any{"name": "bocchi"})
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("wrong status: %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("wrong content type: %q", got)
	}
	if got := w.Body.String(); got != `{"name":"bocchi"}` {
		t.Errorf("wrong body: %q", got)
	}
}

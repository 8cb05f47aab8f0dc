package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, APIResponse{
		Success: true,
		Message: "Task created",
		Data:    map[string]string{"id": "task-1"},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var got APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || got.Message != "Task created" {
		t.Fatalf("envelope = %+v", got)
	}
}

func TestWriteJSONOmitsDataOnFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNotFound, APIResponse{Success: false, Message: "Task not found"})

	if strings.Contains(rec.Body.String(), `"data"`) {
		t.Fatalf("failure envelope carries a data field: %s", rec.Body.String())
	}
}

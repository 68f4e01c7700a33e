package exchange

import (
	"net/http"
	"net/url"
	"testing"
)

func TestNewRequestRecordPopulatesBodyJSONOnlyForJSON(t *testing.T) {
	req := &http.Request{
		Method: "POST",
		URL:    &url.URL{Path: "/widgets"},
		Proto:  "HTTP/1.1",
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}
	rec := newRequestRecord(req, []byte(`{"name":"widget"}`), 1)
	if rec.Type != DataType("JSON") {
		t.Fatalf("Type = %v, want JSON", rec.Type)
	}
	m, ok := rec.BodyJSON.(map[string]interface{})
	if !ok {
		t.Fatalf("BodyJSON = %#v, want a decoded map", rec.BodyJSON)
	}
	if m["name"] != "widget" {
		t.Errorf("BodyJSON[name] = %v, want widget", m["name"])
	}
}

func TestNewRequestRecordLeavesBodyJSONNilForNonJSON(t *testing.T) {
	req := &http.Request{
		Method: "GET",
		URL:    &url.URL{Path: "/"},
		Proto:  "HTTP/1.1",
		Header: http.Header{"Content-Type": []string{"text/plain"}},
	}
	rec := newRequestRecord(req, []byte("hello"), 1)
	if rec.BodyJSON != nil {
		t.Errorf("BodyJSON = %v, want nil for a non-JSON body", rec.BodyJSON)
	}
}

func TestNewResponseRecordBasics(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Proto:      "HTTP/1.1",
		Header:     http.Header{"Content-Type": []string{"text/html"}},
	}
	rec := newResponseRecord(resp, []byte("<html></html>"), 42)
	if rec.StatusCode != 200 {
		t.Errorf("StatusCode = %d", rec.StatusCode)
	}
	if rec.Type != DataType("HTML") {
		t.Errorf("Type = %v, want HTML", rec.Type)
	}
	if rec.CapturedAt != 42 {
		t.Errorf("CapturedAt = %d, want 42", rec.CapturedAt)
	}
}

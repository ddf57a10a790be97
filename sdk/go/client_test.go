package gyroscopesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientRequests(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		if r.Header.Get("X-Api-Key") != "gyro_test" {
			t.Errorf("missing api key header on %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/parse":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["semantic"] != false {
				t.Errorf("semantic = %v", body["semantic"])
			}
			w.Write([]byte(`{"is_valid":true,"block":{"data":{"mode":"Gen","trace_id":7}},"errors":[],"warnings":[]}`))
		case "/v0/generate":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"text":"...","mode":"Int","trace_id":2}`))
		case "/v0/validate":
			w.Write([]byte(`{"run":{"id":"r1"},"summary":{"total":1,"valid":1},"success_rate":"100.0%","results":[{"source":"api:block_1","line_count":14,"is_valid":true}]}`))
		case "/v0/runs":
			w.Write([]byte(`{"items":[{"id":"r1"}],"next_cursor":"x|r1"}`))
		case "/v0/challenges/nope":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"not_found","message":"not found"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "gyro_test"
	ctx := context.Background()

	res, err := c.Parse(ctx, "block", false)
	if err != nil || !res.Valid || res.Block.Data.TraceID != 7 {
		t.Fatalf("parse = %+v, %v", res, err)
	}
	turn := 3
	g, err := c.Generate(ctx, GenerateOptions{Turn: &turn})
	if err != nil || g.Mode != "Int" || g.TraceID != 2 {
		t.Fatalf("generate = %+v, %v", g, err)
	}
	v, err := c.Validate(ctx, "", "text", "", true)
	if err != nil || v.Run.ID != "r1" || v.Results[0].Source != "api:block_1" || !v.Results[0].Valid {
		t.Fatalf("validate = %+v, %v", v, err)
	}
	page, err := c.ListRuns(ctx, 5, "")
	if err != nil || page.NextCursor != "x|r1" {
		t.Fatalf("runs = %+v, %v", page, err)
	}
	_, err = c.Challenge(ctx, "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	if seen[3] != "GET /v0/runs?limit=5" {
		t.Fatalf("runs request = %q", seen[3])
	}
}

package stac

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func itemJSON(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"collection": "ls8",
		"bbox": [140, -35, 141, -34],
		"properties": {"datetime": "2021-05-01T01:30:00Z"},
		"assets": {
			"red": {
				"href": "https://data.example.com/%s/red.grid",
				"eo:bands": [{"name": "red", "band_index": 1}]
			}
		}
	}`, id, id)
}

func TestSearchPagination(t *testing.T) {
	var searches []searchBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var body searchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("malformed search body: %v", err)
		}
		searches = append(searches, body)

		page := len(searches)
		if page == 1 {
			fmt.Fprintf(w, `{
				"features": [%s, %s],
				"numberReturned": 2,
				"numberMatched": 3,
				"links": [{"rel": "next", "href": %q, "method": "POST", "body": {"page": 2}}]
			}`, itemJSON("scene-1"), itemJSON("scene-2"), "http://"+r.Host+"/search")
			return
		}
		fmt.Fprintf(w, `{"features": [%s], "numberReturned": 1, "links": []}`, itemJSON("scene-3"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	q := &Query{
		Collection: "ls8",
		BBox:       []float64{140, -35, 141, -34},
		TimeRange:  "2021-05-01T00:00:00Z/2021-06-01T00:00:00Z",
	}

	page, err := client.Search(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Features) != 2 || page.Matched != 3 {
		t.Errorf("page 1: %d features, matched %d", len(page.Features), page.Matched)
	}
	if !page.HasNext() {
		t.Fatal("page 1 should advertise a next page")
	}

	page2, err := page.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Features) != 1 || page2.Features[0].ID != "scene-3" {
		t.Errorf("page 2 features: %+v", page2.Features)
	}
	if page2.HasNext() {
		t.Error("final page should not advertise a next page")
	}

	if got := searches[0].Collections; len(got) != 1 || got[0] != "ls8" {
		t.Errorf("collections in body = %v", got)
	}
	if searches[0].Datetime != q.TimeRange {
		t.Errorf("datetime in body = %s", searches[0].Datetime)
	}
}

func TestSearchAll(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprintf(w, `{
				"features": [%s],
				"links": [{"rel": "next", "href": %q, "method": "POST"}]
			}`, itemJSON("scene-1"), "http://"+r.Host+"/search")
			return
		}
		fmt.Fprint(w, `{"features": []}`)
	}))
	defer srv.Close()

	features, err := NewClient(srv.URL).SearchAll(context.Background(), &Query{Collection: "ls8"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 1 {
		t.Errorf("SearchAll returned %d features", len(features))
	}
	if calls != 2 {
		t.Errorf("SearchAll made %d requests, want 2", calls)
	}
}

func TestSearchAllMaxFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"features": [%s, %s],
			"links": [{"rel": "next", "href": %q, "method": "POST"}]
		}`, itemJSON("scene-1"), itemJSON("scene-2"), "http://"+r.Host+"/search")
	}))
	defer srv.Close()

	features, err := NewClient(srv.URL).SearchAll(context.Background(), &Query{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 1 {
		t.Errorf("max features not honoured: got %d", len(features))
	}
}

func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tea time", http.StatusTeapot)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Search(context.Background(), &Query{}); err == nil {
		t.Error("non-200 response should fail")
	}
}

package contexthub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch_SendsUserHeaderAndParsesDocs(t *testing.T) {
	var gotUser, gotQuery, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-Id")
		gotQuery = r.URL.Query().Get("q")
		gotLimit = r.URL.Query().Get("limit")
		json.NewEncoder(w).Encode([]Doc{{ID: "d1", Content: "invoice summary"}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	docs, err := c.Search(context.Background(), "alice", "invoice", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotUser != "alice" {
		t.Errorf("X-User-Id = %q, want alice", gotUser)
	}
	if gotQuery != "invoice" || gotLimit != "5" {
		t.Errorf("query = %q limit = %q", gotQuery, gotLimit)
	}
	if len(docs) != 1 || docs[0].ID != "d1" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestCreateDoc_PostsToDocsAndReturnsDecodedDoc(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Doc{ID: "new-1", Content: "hello"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	out, err := c.CreateDoc(context.Background(), "bob", Doc{Content: "hello"})
	if err != nil {
		t.Fatalf("CreateDoc: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/docs" {
		t.Errorf("method=%q path=%q, want POST /docs", gotMethod, gotPath)
	}
	if out.ID != "new-1" {
		t.Errorf("out.ID = %q, want new-1", out.ID)
	}
}

func TestUpdateDoc_PutsToDocsID(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(Doc{ID: "d1", Content: "updated"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	out, err := c.UpdateDoc(context.Background(), "bob", Doc{ID: "d1", Content: "updated"})
	if err != nil {
		t.Fatalf("UpdateDoc: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/docs/d1" {
		t.Errorf("method=%q path=%q, want PUT /docs/d1", gotMethod, gotPath)
	}
	if out.Content != "updated" {
		t.Errorf("out.Content = %q", out.Content)
	}
}

func TestUpdateDoc_RejectsEmptyID(t *testing.T) {
	c := New("http://unused", nil)
	if _, err := c.UpdateDoc(context.Background(), "bob", Doc{Content: "x"}); err == nil {
		t.Error("expected an error updating a document with no id")
	}
}

func TestGetDoc_NotFoundReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	if _, err := c.GetDoc(context.Background(), "bob", "missing"); err == nil {
		t.Error("expected an error for a 404 response")
	}
}

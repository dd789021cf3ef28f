package httpserver_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpserver "replybot/internal/adapters/http_server"
	"replybot/internal/domain"
)

// ---- fakes ----

type fakeRunner struct{ busy bool }

func (f *fakeRunner) TryStart(ctx context.Context) bool { return !f.busy }

type fakeStore struct {
	records []domain.ReplyRecord
	cycle   *domain.CycleReport
}

func (f *fakeStore) IsHandled(ctx context.Context, reviewID string) (bool, error) { return false, nil }
func (f *fakeStore) Record(ctx context.Context, rec domain.ReplyRecord) error     { return nil }
func (f *fakeStore) ListReplies(ctx context.Context, limit int) ([]domain.ReplyRecord, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}
func (f *fakeStore) RecordCycle(ctx context.Context, rep domain.CycleReport) error { return nil }
func (f *fakeStore) LatestCycle(ctx context.Context) (domain.CycleReport, error) {
	if f.cycle == nil {
		return domain.CycleReport{}, sql.ErrNoRows
	}
	return *f.cycle, nil
}

func newTestServer(runner httpserver.CycleRunner, store domain.ReplyStore) *httptest.Server {
	srv := httpserver.New()
	srv.MountHandlers(&httpserver.Handlers{Runner: runner, Store: store})
	return httptest.NewServer(srv.Mux())
}

// ---- tests ----

func TestHealthz(t *testing.T) {
	ts := newTestServer(&fakeRunner{}, &fakeStore{})
	defer ts.Close()

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestRunCycle_StartsWhenIdle(t *testing.T) {
	ts := newTestServer(&fakeRunner{}, &fakeStore{})
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/cycles", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d, want 202", res.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "started" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRunCycle_ConflictWhenBusy(t *testing.T) {
	ts := newTestServer(&fakeRunner{busy: true}, &fakeStore{})
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/cycles", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want 409", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type %q", ct)
	}
}

func TestLatestCycle(t *testing.T) {
	rep := domain.CycleReport{
		StartedAt: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
		Fetched:   3, Replied: 2, Failed: 1,
	}
	ts := newTestServer(&fakeRunner{}, &fakeStore{cycle: &rep})
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/cycles/latest")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var got domain.CycleReport
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Fetched != 3 || got.Replied != 2 || got.Failed != 1 {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestLatestCycle_NoneYet(t *testing.T) {
	ts := newTestServer(&fakeRunner{}, &fakeStore{})
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/cycles/latest")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", res.StatusCode)
	}
}

func TestListReplies_LimitAndETag(t *testing.T) {
	store := &fakeStore{records: []domain.ReplyRecord{
		{ID: 2, ReviewID: "r2", ReplyText: "Thanks Bob", Outcome: domain.OutcomeSucceeded},
		{ID: 1, ReviewID: "r1", ReplyText: "Thanks Ana", Outcome: domain.OutcomeSucceeded},
	}}
	ts := newTestServer(&fakeRunner{}, store)
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/replies?limit=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	var got []domain.ReplyRecord
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ReviewID != "r2" {
		t.Fatalf("unexpected replies: %+v", got)
	}

	etag := res.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	req, _ := http.NewRequest("GET", ts.URL+"/v1/replies?limit=1", nil)
	req.Header.Set("If-None-Match", etag)
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusNotModified {
		t.Fatalf("status %d, want 304", res2.StatusCode)
	}
}

func TestListReplies_BadLimit(t *testing.T) {
	ts := newTestServer(&fakeRunner{}, &fakeStore{})
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/replies?limit=0")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", res.StatusCode)
	}
}

//go:build integration || !unit

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"replybot/internal/adapters/gbp"
	"replybot/internal/adapters/openai"
	"replybot/internal/app"
	"replybot/internal/domain"
	mysqlrepo "replybot/internal/storage/mysql"
)

// ---------- helpers ----------

func mustEnv(t *testing.T, k string) string {
	t.Helper()
	v := os.Getenv(k)
	if v == "" {
		t.Fatalf("%s not set; export it (e.g. MIGRATIONS_DIR=/path/to/migrations)", k)
	}
	return v
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := mustEnv(t, "MIGRATIONS_DIR")

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=replybot",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/replybot?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		resource.GetPort("3306/tcp"))

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

// fakeUpstream plays the business-profile API: serves the review feed
// and accepts replies, mirroring them back on subsequent fetches.
type fakeUpstream struct {
	mu      sync.Mutex
	reviews []map[string]any
	posts   map[string]int // reviewID -> post count
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		reviews: []map[string]any{
			{"reviewId": "r1", "reviewer": map[string]any{"displayName": "Ana"}, "starRating": "FIVE", "comment": "Great!"},
			{"reviewId": "r2", "reviewer": map[string]any{"displayName": "Bob"}, "starRating": "ONE", "comment": "Bad"},
		},
		posts: map[string]int{},
	}
}

func (f *fakeUpstream) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/reply") && r.Method == http.MethodPut {
			parts := strings.Split(r.URL.Path, "/")
			id := parts[len(parts)-2]
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.posts[id]++
			for _, rv := range f.reviews {
				if rv["reviewId"] == id {
					rv["reviewReply"] = map[string]any{"comment": body["comment"]}
				}
			}
			w.WriteHeader(200)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"reviews": f.reviews})
	})
}

func (f *fakeUpstream) postCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[id]
}

type logNotifier struct{ reports []domain.CycleReport }

func (n *logNotifier) Notify(ctx context.Context, rep domain.CycleReport) error {
	n.reports = append(n.reports, rep)
	return nil
}

func openaiStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "Thank you for your review!"}}},
		})
	}))
}

// ---------- the test ----------

func TestCycle_EndToEnd_AtMostOnceAcrossRestart(t *testing.T) {
	db := startMySQL(t)
	upstream := newFakeUpstream()
	gbpSrv := httptest.NewServer(upstream.handler())
	defer gbpSrv.Close()
	llm := openaiStub(t)
	defer llm.Close()

	newService := func(notif domain.Notifier) *app.ReconcileService {
		client, err := gbp.New(gbpSrv.URL, "acc", "loc", gbp.StaticTokenSource("tok"), 100, 5*time.Second)
		if err != nil {
			t.Fatalf("gbp.New: %v", err)
		}
		gen, err := openai.New(llm.URL, "key", "gpt-4o-mini", openai.Style{
			BusinessName: "Pawsy Prints",
			Tone:         "short and polite",
			MaxLen:       4096,
		}, 5*time.Second)
		if err != nil {
			t.Fatalf("openai.New: %v", err)
		}
		return app.NewReconcileService(client, gen, client, mysqlrepo.New(db), nil, notif)
	}

	ctx := context.Background()
	notif := &logNotifier{}
	svc := newService(notif)

	// First cycle replies to both reviews.
	rep, ok := svc.TryRun(ctx)
	if !ok {
		t.Fatal("cycle did not run")
	}
	if rep.Fetched != 2 || rep.Replied != 2 || rep.Failed != 0 {
		t.Fatalf("unexpected first report: %+v", rep)
	}
	if len(notif.reports) != 1 {
		t.Fatalf("expected one delivered report, got %d", len(notif.reports))
	}

	// Second cycle on the same instance: everything already handled.
	rep2, _ := svc.TryRun(ctx)
	if rep2.Replied != 0 || rep2.Adopted != 0 {
		t.Fatalf("second cycle must be quiet: %+v", rep2)
	}

	// "Restart": fresh service over the same database and upstream. No
	// review may be posted a second time.
	svc2 := newService(&logNotifier{})
	rep3, _ := svc2.TryRun(ctx)
	if rep3.Replied != 0 {
		t.Fatalf("post-restart cycle must not re-post: %+v", rep3)
	}
	for _, id := range []string{"r1", "r2"} {
		if n := upstream.postCount(id); n != 1 {
			t.Fatalf("review %s posted %d times, want exactly 1", id, n)
		}
	}
}

func TestCycle_EndToEnd_AdoptsUpstreamReplyAfterStateLoss(t *testing.T) {
	db := startMySQL(t)
	upstream := newFakeUpstream()
	// r1 already answered upstream; the local log knows nothing of it.
	upstream.reviews[0]["reviewReply"] = map[string]any{"comment": "We appreciate you!"}
	gbpSrv := httptest.NewServer(upstream.handler())
	defer gbpSrv.Close()
	llm := openaiStub(t)
	defer llm.Close()

	client, err := gbp.New(gbpSrv.URL, "acc", "loc", gbp.StaticTokenSource("tok"), 100, 5*time.Second)
	if err != nil {
		t.Fatalf("gbp.New: %v", err)
	}
	gen, err := openai.New(llm.URL, "key", "m", openai.Style{
		BusinessName: "Pawsy Prints", Tone: "short", MaxLen: 4096,
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("openai.New: %v", err)
	}
	repo := mysqlrepo.New(db)
	svc := app.NewReconcileService(client, gen, client, repo, nil, &logNotifier{})

	rep, _ := svc.TryRun(context.Background())
	if rep.Adopted != 1 || rep.Replied != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if n := upstream.postCount("r1"); n != 0 {
		t.Fatalf("r1 posted %d times despite existing upstream reply", n)
	}

	handled, err := repo.IsHandled(context.Background(), "r1")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if !handled {
		t.Fatal("adopted reply must be recorded as handled")
	}
}

package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/minicodex/internal/models"
	"github.com/zulandar/minicodex/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTurns struct {
	rows     []models.Turn
	err      error
	gotLimit int
}

func (f *fakeTurns) Recent(_ context.Context, limit int) ([]models.Turn, error) {
	f.gotLimit = limit
	return f.rows, f.err
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newSessions opens a store holding one fresh and one stale record.
func newSessions(t *testing.T) *session.Store {
	t.Helper()
	now := base.Add(-2 * time.Hour)
	store := session.Open(session.StoreOpts{
		Path: filepath.Join(t.TempDir(), "sessions.json"),
		Now:  func() time.Time { return now },
	})
	if err := store.Update("guild:1:channel:2", "old-session"); err != nil {
		t.Fatal(err)
	}
	now = base.Add(-time.Minute)
	if err := store.Update("dm:42", "abc123"); err != nil {
		t.Fatal(err)
	}
	return store
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func newTestRouter(t *testing.T, turns TurnSource) http.Handler {
	t.Helper()
	router, err := NewRouter(StartOpts{
		Sessions: newSessions(t),
		Turns:    turns,
		TTL:      time.Hour,
		Now:      func() time.Time { return base },
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func TestNewRouter_RequiresSessions(t *testing.T) {
	_, err := NewRouter(StartOpts{})
	if err == nil || !strings.Contains(err.Error(), "session source is required") {
		t.Errorf("err = %v, want session source error", err)
	}
}

func TestHealthz(t *testing.T) {
	w := get(t, newTestRouter(t, nil), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSessions_SortedWithActiveFlag(t *testing.T) {
	w := get(t, newTestRouter(t, nil), "/api/sessions")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var rows []sessionView
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, w.Body.String())
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Key != "dm:42" || rows[1].Key != "guild:1:channel:2" {
		t.Errorf("rows not sorted by key: %+v", rows)
	}
	if !rows[0].Active || rows[0].SessionID != "abc123" {
		t.Errorf("dm:42 = %+v, want active abc123", rows[0])
	}
	if rows[1].Active {
		t.Errorf("stale record reported active: %+v", rows[1])
	}
	if !rows[0].LastActiveAt.Equal(base.Add(-time.Minute)) {
		t.Errorf("last_active_at = %v", rows[0].LastActiveAt)
	}
}

func TestTurns_DisabledIs404(t *testing.T) {
	w := get(t, newTestRouter(t, nil), "/api/turns")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "disabled") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestTurns_ListsRows(t *testing.T) {
	turns := &fakeTurns{rows: []models.Turn{
		{TurnID: "t-2", ConversationKey: "dm:42", Mode: models.TurnModeResume, SessionID: "abc123", CreatedAt: base},
		{TurnID: "t-1", ConversationKey: "dm:42", Mode: models.TurnModeFresh, ExitCode: 2, CreatedAt: base.Add(-time.Minute)},
	}}
	w := get(t, newTestRouter(t, turns), "/api/turns")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if turns.gotLimit != 50 {
		t.Errorf("default limit = %d, want 50", turns.gotLimit)
	}

	var rows []turnView
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[0].TurnID != "t-2" || rows[1].ExitCode != 2 {
		t.Errorf("rows = %+v", rows)
	}
	if rows[0].Mode != "resume" || rows[0].SessionID != "abc123" {
		t.Errorf("row 0 = %+v", rows[0])
	}
}

func TestTurns_Limit(t *testing.T) {
	tests := []struct {
		query string
		want  int
		code  int
	}{
		{"?limit=10", 10, http.StatusOK},
		{"?limit=9999", 500, http.StatusOK},
		{"?limit=0", 50, http.StatusOK},
		{"?limit=abc", 0, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			turns := &fakeTurns{}
			w := get(t, newTestRouter(t, turns), "/api/turns"+tt.query)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if turns.gotLimit != tt.want {
				t.Errorf("limit = %d, want %d", turns.gotLimit, tt.want)
			}
		})
	}
}

func TestTurns_QueryError(t *testing.T) {
	turns := &fakeTurns{err: errors.New("history: recent turns: database is locked")}
	w := get(t, newTestRouter(t, turns), "/api/turns")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "database is locked") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestStart_RequiresAddr(t *testing.T) {
	err := Start(context.Background(), StartOpts{Sessions: newSessions(t)})
	if err == nil || !strings.Contains(err.Error(), "listen address is required") {
		t.Errorf("err = %v", err)
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Start(ctx, StartOpts{Addr: "127.0.0.1:0", Sessions: newSessions(t), TTL: time.Hour})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

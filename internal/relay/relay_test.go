package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/minicodex/internal/codex"
	"github.com/zulandar/minicodex/internal/config"
	"github.com/zulandar/minicodex/internal/models"
	"github.com/zulandar/minicodex/internal/prompt"
	"github.com/zulandar/minicodex/internal/session"
)

// fakeInvoker records invocations and writes the configured final message to
// the output-capture file, like codex would.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []codex.Invocation
	outcome codex.Outcome
	final   string
	err     error
}

func (f *fakeInvoker) Invoke(_ context.Context, inv codex.Invocation) (codex.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inv)
	if f.final != "" {
		if err := os.WriteFile(inv.OutputPath, []byte(f.final), 0o600); err != nil {
			return codex.Outcome{}, err
		}
	}
	out := f.outcome
	out.FinalMessage = f.final
	if out.TimedOut {
		out.FinalMessage = ""
		out.SessionID = ""
	}
	return out, f.err
}

func (f *fakeInvoker) last(t *testing.T) codex.Invocation {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("codex was not invoked")
	}
	return f.calls[len(f.calls)-1]
}

type staticSoul string

func (s staticSoul) Text() string { return string(s) }
func (s staticSoul) Excerpt(n int) string {
	if len(s) > n {
		return string(s[:n])
	}
	return string(s)
}

type memRecorder struct {
	mu    sync.Mutex
	turns []*models.Turn
	err   error
}

func (m *memRecorder) Record(_ context.Context, turn *models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return m.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	relay    *Relay
	store    *session.Store
	invoker  *fakeInvoker
	recorder *memRecorder
	clock    *clock
	outDir   string
}

func defaultSettings() config.CodexSettings {
	return config.CodexSettings{
		Command:       "codex",
		BaseArgs:      []string{"exec", "--skip-git-repo-check"},
		Timeout:       300 * time.Second,
		WorkspaceRoot: "/work",
		EnableSearch:  true,
		UseFullAuto:   true,
		SessionTTL:    time.Hour,
	}
}

func newHarness(t *testing.T, settings config.CodexSettings) *harness {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	store := session.Open(session.StoreOpts{
		Path: filepath.Join(t.TempDir(), "sessions.json"),
		Now:  c.now,
	})
	h := &harness{
		store:    store,
		invoker:  &fakeInvoker{},
		recorder: &memRecorder{},
		clock:    c,
		outDir:   t.TempDir(),
	}
	r, err := New(Opts{
		Store:     store,
		Invoker:   h.invoker,
		Builder:   codex.NewBuilder(settings),
		Soul:      staticSoul("Be kind."),
		Skills:    []prompt.SkillCard{{Name: "math", Content: "Add carefully."}},
		TTL:       settings.SessionTTL,
		OutputDir: h.outDir,
		Recorder:  h.recorder,
		Now:       c.now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.relay = r
	return h
}

func assertNoOutputFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output-capture files left behind: %v", entries)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	store := session.Open(session.StoreOpts{Path: filepath.Join(t.TempDir(), "s.json")})
	full := Opts{
		Store:   store,
		Invoker: &fakeInvoker{},
		Builder: codex.NewBuilder(defaultSettings()),
		Soul:    staticSoul("x"),
		TTL:     time.Hour,
	}
	if _, err := New(full); err != nil {
		t.Fatalf("New with all collaborators: %v", err)
	}

	tests := []struct {
		name  string
		strip func(*Opts)
	}{
		{"store", func(o *Opts) { o.Store = nil }},
		{"invoker", func(o *Opts) { o.Invoker = nil }},
		{"builder", func(o *Opts) { o.Builder = nil }},
		{"soul", func(o *Opts) { o.Soul = nil }},
		{"ttl", func(o *Opts) { o.TTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.strip(&opts)
			if _, err := New(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandle_FreshTurn(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.invoker.outcome = codex.Outcome{
		ExitCode:  0,
		Output:    `{"type":"thread.started","thread_id":"abc123"}` + "\n",
		SessionID: "abc123",
	}
	h.invoker.final = "Hi there"

	msg := Message{Platform: PlatformDiscord, ChannelID: "42", UserName: "ana", Text: "hello"}
	reply, err := h.relay.Handle(context.Background(), msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != "Hi there" {
		t.Errorf("reply = %q, want %q", reply, "Hi there")
	}

	inv := h.invoker.last(t)
	wantPrefix := []string{"exec", "--skip-git-repo-check", "--search", "--full-auto"}
	if !slices.Equal(inv.Args[:len(wantPrefix)], wantPrefix) {
		t.Errorf("args prefix = %v, want %v", inv.Args[:len(wantPrefix)], wantPrefix)
	}
	n := len(inv.Args)
	if inv.Args[n-4] != codex.FlagJSON || inv.Args[n-3] != codex.FlagOutputLast || inv.Args[n-2] != inv.OutputPath {
		t.Errorf("args tail = %v", inv.Args[n-4:])
	}
	instructions := inv.Args[n-1]
	if !strings.Contains(instructions, "SOUL.md:\nBe kind.") || !strings.HasSuffix(instructions, "USER MESSAGE:\nhello") {
		t.Errorf("fresh instructions missing soul or message: %q", instructions)
	}
	if !strings.Contains(instructions, "[math]") {
		t.Errorf("fresh instructions missing skill cards: %q", instructions)
	}
	if inv.Resume {
		t.Error("fresh turn marked as resume")
	}

	rec, ok := h.store.Get("dm:42")
	if !ok || rec.SessionID != "abc123" {
		t.Errorf("store[dm:42] = %+v, %v; want abc123", rec, ok)
	}
	assertNoOutputFiles(t, h.outDir)

	if len(h.recorder.turns) != 1 {
		t.Fatalf("recorded %d turns, want 1", len(h.recorder.turns))
	}
	turn := h.recorder.turns[0]
	if turn.Mode != models.TurnModeFresh || turn.SessionID != "abc123" || turn.ConversationKey != "dm:42" {
		t.Errorf("recorded turn = %+v", turn)
	}
	if turn.ReplyChars != len("Hi there") || turn.UserName != "ana" || turn.TurnID == "" {
		t.Errorf("recorded turn = %+v", turn)
	}
}

func TestHandle_ResumeTimeoutLeavesRecord(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.clock.t = h.clock.t.Add(-10 * time.Second)
	if err := h.store.Update("guild:1:channel:2", "xyz"); err != nil {
		t.Fatal(err)
	}
	h.clock.t = h.clock.t.Add(10 * time.Second)
	before, _ := h.store.Get("guild:1:channel:2")

	h.invoker.outcome = codex.Outcome{TimedOut: true, ExitCode: -1, Output: "working..."}
	msg := Message{Platform: PlatformDiscord, GuildID: "1", ChannelID: "2", Text: "continue"}
	reply, err := h.relay.Handle(context.Background(), msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != "Codex request timed out after 300s." {
		t.Errorf("reply = %q", reply)
	}

	inv := h.invoker.last(t)
	idx := slices.Index(inv.Args, "resume")
	if idx < 1 || !slices.Equal(inv.Args[idx-1:idx+3], []string{"exec", "resume", "xyz", "--json"}) {
		t.Errorf("resume args = %v", inv.Args)
	}
	if inv.Args[len(inv.Args)-1] != "continue" {
		t.Errorf("resume turn should send only the user text, got %q", inv.Args[len(inv.Args)-1])
	}
	if !inv.Resume {
		t.Error("invocation not marked as resume")
	}

	after, _ := h.store.Get("guild:1:channel:2")
	if after != before {
		t.Errorf("timed out turn changed record: before %+v after %+v", before, after)
	}
	if turn := h.recorder.turns[0]; turn.Mode != models.TurnModeResume || !turn.TimedOut {
		t.Errorf("recorded turn = %+v", turn)
	}
	assertNoOutputFiles(t, h.outDir)
}

func TestTurn_ExpiredRecordStartsFresh(t *testing.T) {
	h := newHarness(t, defaultSettings())
	if err := h.store.Update("dm:7", "old"); err != nil {
		t.Fatal(err)
	}
	h.clock.t = h.clock.t.Add(time.Hour + time.Second)

	res, err := h.relay.Turn(context.Background(), "dm:7", "hi")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Mode != models.TurnModeFresh {
		t.Errorf("Mode = %q, want fresh", res.Mode)
	}
	inv := h.invoker.last(t)
	if slices.Contains(inv.Args, "resume") || slices.Contains(inv.Args, "old") {
		t.Errorf("expired record resumed: %v", inv.Args)
	}
	if inv.Args[0] != "exec" || inv.Args[1] != "--skip-git-repo-check" {
		t.Errorf("fresh args missing base args: %v", inv.Args)
	}
}

func TestTurn_ResumeRefreshesTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
	}{
		{"clean exit", 0},
		{"non-zero exit", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultSettings())
			if err := h.store.Update("dm:1", "keep"); err != nil {
				t.Fatal(err)
			}
			h.clock.t = h.clock.t.Add(30 * time.Minute)
			h.invoker.outcome = codex.Outcome{ExitCode: tt.exitCode, Output: "ok"}

			if _, err := h.relay.Turn(context.Background(), "dm:1", "again"); err != nil {
				t.Fatalf("Turn: %v", err)
			}
			rec, _ := h.store.Get("dm:1")
			if rec.SessionID != "keep" || !rec.LastActiveAt.Equal(h.clock.t) {
				t.Errorf("record = %+v, want keep refreshed to %v", rec, h.clock.t)
			}
		})
	}
}

func TestTurn_ResumeRotation(t *testing.T) {
	h := newHarness(t, defaultSettings())
	if err := h.store.Update("dm:1", "first"); err != nil {
		t.Fatal(err)
	}
	h.invoker.outcome = codex.Outcome{SessionID: "second", Output: "x"}

	res, err := h.relay.Turn(context.Background(), "dm:1", "rotate")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.SessionID != "second" {
		t.Errorf("Result.SessionID = %q", res.SessionID)
	}
	if rec, _ := h.store.Get("dm:1"); rec.SessionID != "second" {
		t.Errorf("store not rotated: %+v", rec)
	}
}

func TestTurn_FreshWithoutHandleLeavesStoreEmpty(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.invoker.outcome = codex.Outcome{ExitCode: 1, Output: "boom"}

	res, err := h.relay.Turn(context.Background(), "dm:9", "hi")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply != "Codex exited with code 1.\nboom" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d records, want 0", h.store.Len())
	}
}

func TestTurn_OutputFilePrecedence(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.invoker.outcome = codex.Outcome{ExitCode: 5, Output: "error noise"}
	h.invoker.final = "the real answer\n"

	res, err := h.relay.Turn(context.Background(), "dm:3", "q")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply != "the real answer\n" {
		t.Errorf("Reply = %q, want output file verbatim", res.Reply)
	}
	assertNoOutputFiles(t, h.outDir)
}

func TestTurn_InvokeErrorCleansUp(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.invoker.final = "written before failing"
	h.invoker.err = errors.New("exec: not found")

	_, err := h.relay.Turn(context.Background(), "dm:4", "q")
	if err == nil || !strings.Contains(err.Error(), "relay: invoke codex") {
		t.Fatalf("err = %v", err)
	}
	assertNoOutputFiles(t, h.outDir)
	if h.store.Len() != 0 {
		t.Error("failed invocation must not touch the store")
	}
}

func TestTurn_StoreWriteErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	store := session.Open(session.StoreOpts{Path: filepath.Join(blocker, "sessions.json")})
	inv := &fakeInvoker{outcome: codex.Outcome{SessionID: "s1"}}
	r, err := New(Opts{
		Store:   store,
		Invoker: inv,
		Builder: codex.NewBuilder(defaultSettings()),
		Soul:    staticSoul("x"),
		TTL:     time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Turn(context.Background(), "dm:1", "q"); err == nil {
		t.Fatal("expected store write error")
	}
}

func TestHandle_CommandsSkipCodex(t *testing.T) {
	h := newHarness(t, defaultSettings())
	reply, err := h.relay.Handle(context.Background(), Message{ChannelID: "1", Text: "  /PING  "})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q", reply)
	}
	if len(h.invoker.calls) != 0 {
		t.Error("command reached codex")
	}
	if turn := h.recorder.turns[0]; turn.Mode != models.TurnModeCommand {
		t.Errorf("recorded mode = %q", turn.Mode)
	}
}

func TestHandle_RecorderErrorIgnored(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.recorder.err = errors.New("db down")
	h.invoker.final = "fine"
	reply, err := h.relay.Handle(context.Background(), Message{ChannelID: "1", Text: "hi"})
	if err != nil || reply != "fine" {
		t.Errorf("Handle = (%q, %v), want fine", reply, err)
	}
}

func TestHandle_ErrorRecorded(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.invoker.err = errors.New("boom")
	if _, err := h.relay.Handle(context.Background(), Message{ChannelID: "1", Text: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if turn := h.recorder.turns[0]; !strings.Contains(turn.Error, "boom") {
		t.Errorf("recorded error = %q", turn.Error)
	}
}

func TestTurn_ConcurrentKeys(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.invoker.outcome = codex.Outcome{SessionID: "shared"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		key := "dm:" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.relay.Turn(context.Background(), key, "hi"); err != nil {
				t.Errorf("Turn(%s): %v", key, err)
			}
		}()
	}
	wg.Wait()

	if h.store.Len() != 8 {
		t.Errorf("store has %d records, want 8", h.store.Len())
	}
	seen := map[string]bool{}
	for _, call := range h.invoker.calls {
		if seen[call.OutputPath] {
			t.Errorf("output path reused: %s", call.OutputPath)
		}
		seen[call.OutputPath] = true
	}
	assertNoOutputFiles(t, h.outDir)
}

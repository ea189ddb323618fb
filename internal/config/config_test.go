package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// stubLookPath makes every command resolve to /usr/bin/<name> unless it is
// named "missing".
func stubLookPath(t *testing.T) {
	t.Helper()
	orig := lookPath
	lookPath = func(name string) (string, error) {
		if name == "missing" {
			return "", errors.New("not found")
		}
		if filepath.IsAbs(name) {
			return name, nil
		}
		return "/usr/bin/" + name, nil
	}
	t.Cleanup(func() { lookPath = orig })
}

func newViper(t *testing.T, values map[string]string) *viper.Viper {
	t.Helper()
	v := viper.New()
	if _, ok := values[KeyWorkspaceRoot]; !ok {
		v.Set(KeyWorkspaceRoot, t.TempDir())
	}
	if _, ok := values[KeyDiscordToken]; !ok {
		v.Set(KeyDiscordToken, "token")
	}
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func problemsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error %v is not a *ValidationError", err)
	}
	return verr.Problems
}

func hasProblem(problems []string, substr string) bool {
	for _, p := range problems {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

func TestParse_Defaults(t *testing.T) {
	stubLookPath(t)
	s, err := Parse(newViper(t, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Platform != PlatformDiscord {
		t.Errorf("Platform = %q, want discord", s.Platform)
	}
	if s.Codex.Command != "/usr/bin/codex" {
		t.Errorf("Command = %q, want /usr/bin/codex", s.Codex.Command)
	}
	if got := strings.Join(s.Codex.BaseArgs, " "); got != DefaultBaseArgs {
		t.Errorf("BaseArgs = %q, want %q", got, DefaultBaseArgs)
	}
	if s.Codex.Timeout != 300*time.Second {
		t.Errorf("Timeout = %v, want 300s", s.Codex.Timeout)
	}
	if s.Codex.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", s.Codex.SessionTTL)
	}
	if !s.Codex.EnableSearch {
		t.Error("EnableSearch should default to true")
	}
	if !s.Codex.UseFullAuto {
		t.Error("UseFullAuto should default to true without safety flags")
	}
	if s.Codex.DangerousBypass {
		t.Error("DangerousBypass should default to false")
	}
	if s.SoulPath != "SOUL.md" {
		t.Errorf("SoulPath = %q, want SOUL.md", s.SoulPath)
	}
	if len(s.AllowedChannelIDs) != 0 {
		t.Errorf("AllowedChannelIDs = %v, want empty", s.AllowedChannelIDs)
	}
	if s.History.Enabled() {
		t.Error("history should be disabled by default")
	}
}

func TestParse_MissingToken(t *testing.T) {
	stubLookPath(t)
	_, err := Parse(newViper(t, map[string]string{KeyDiscordToken: ""}))
	if !hasProblem(problemsOf(t, err), "missing DISCORD_BOT_TOKEN") {
		t.Errorf("expected missing token problem, got %v", err)
	}
}

func TestParse_ChannelIDs(t *testing.T) {
	stubLookPath(t)
	s, err := Parse(newViper(t, map[string]string{KeyAllowedChannels: " 10, 20,,10 "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.AllowedChannelIDs) != 2 || s.AllowedChannelIDs[0] != 10 || s.AllowedChannelIDs[1] != 20 {
		t.Errorf("AllowedChannelIDs = %v, want [10 20]", s.AllowedChannelIDs)
	}
	if !s.ChannelAllowed("20") {
		t.Error("channel 20 should be allowed")
	}
	if s.ChannelAllowed("30") {
		t.Error("channel 30 should not be allowed")
	}
	if !s.ChannelAllowed("30", "10") {
		t.Error("parent channel 10 should allow the thread")
	}

	_, err = Parse(newViper(t, map[string]string{KeyAllowedChannels: "10,abc"}))
	if !hasProblem(problemsOf(t, err), "invalid channel ID in DISCORD_ALLOWED_CHANNEL_IDS: abc") {
		t.Errorf("expected invalid channel problem, got %v", err)
	}
}

func TestParse_CommandNotOnPath(t *testing.T) {
	stubLookPath(t)
	_, err := Parse(newViper(t, map[string]string{KeyCodexCommand: "missing"}))
	if !hasProblem(problemsOf(t, err), "not found on PATH") {
		t.Errorf("expected PATH problem, got %v", err)
	}
}

func TestParse_BaseArgs(t *testing.T) {
	stubLookPath(t)

	s, err := Parse(newViper(t, map[string]string{KeyCodexBaseArgs: `exec --skip-git-repo-check -c 'model_reasoning_effort="high"'`}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"exec", "--skip-git-repo-check", "-c", `model_reasoning_effort="high"`}
	if strings.Join(s.Codex.BaseArgs, "|") != strings.Join(want, "|") {
		t.Errorf("BaseArgs = %q, want %q", s.Codex.BaseArgs, want)
	}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"wrong subcommand", "review --json", `must start with "exec"`},
		{"unbalanced quote", `exec "oops`, "cannot parse"},
		{"misspelled", "exec --skip-git-repo-checks", "did you mean --skip-git-repo-check"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(newViper(t, map[string]string{KeyCodexBaseArgs: tt.raw}))
			if err == nil {
				t.Fatal("expected error")
			}
			if !hasProblem(problemsOf(t, err), tt.want) {
				t.Errorf("problems %v do not mention %q", problemsOf(t, err), tt.want)
			}
		})
	}
}

func TestParse_PositiveIntegers(t *testing.T) {
	stubLookPath(t)
	for _, raw := range []string{"0", "-5", "ten"} {
		_, err := Parse(newViper(t, map[string]string{KeyCodexTimeout: raw, KeySessionTTL: raw}))
		problems := problemsOf(t, err)
		if !hasProblem(problems, "CODEX_TIMEOUT_SEC must be a positive integer") {
			t.Errorf("%q: missing timeout problem in %v", raw, problems)
		}
		if !hasProblem(problems, "CODEX_SESSION_TTL_SEC must be a positive integer") {
			t.Errorf("%q: missing ttl problem in %v", raw, problems)
		}
	}
}

func TestParse_WorkspaceRootMustBeDirectory(t *testing.T) {
	stubLookPath(t)
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, root := range []string{file, filepath.Join(t.TempDir(), "nope")} {
		_, err := Parse(newViper(t, map[string]string{KeyWorkspaceRoot: root}))
		if !hasProblem(problemsOf(t, err), "is not an existing directory") {
			t.Errorf("root %s: expected directory problem, got %v", root, err)
		}
	}
}

func TestParse_SafetyFlags(t *testing.T) {
	stubLookPath(t)

	tests := []struct {
		name    string
		values  map[string]string
		want    string // problem substring; empty means valid
		wantFA  bool
		wantByp bool
	}{
		{name: "sandbox alone disables full auto", values: map[string]string{KeySandbox: "workspace-write"}, wantFA: false},
		{name: "approval alone", values: map[string]string{KeyAskForApproval: "never"}, wantFA: false},
		{name: "bypass alone", values: map[string]string{KeyDangerousBypass: "yes"}, wantByp: true},
		{name: "full auto off", values: map[string]string{KeyUseFullAuto: "off"}, wantFA: false},
		{name: "bad sandbox", values: map[string]string{KeySandbox: "yolo"}, want: "CODEX_SANDBOX must be one of"},
		{name: "bad approval", values: map[string]string{KeyAskForApproval: "sometimes"}, want: "CODEX_ASK_FOR_APPROVAL must be one of"},
		{name: "bypass with sandbox", values: map[string]string{KeyDangerousBypass: "true", KeySandbox: "read-only"}, want: "cannot be combined with CODEX_SANDBOX"},
		{name: "bypass with approval", values: map[string]string{KeyDangerousBypass: "1", KeyAskForApproval: "never"}, want: "cannot be combined with CODEX_ASK_FOR_APPROVAL"},
		{name: "explicit full auto with sandbox", values: map[string]string{KeyUseFullAuto: "true", KeySandbox: "read-only"}, want: "CODEX_USE_FULL_AUTO=true conflicts"},
		{name: "bad boolean", values: map[string]string{KeyEnableSearch: "maybe"}, want: `invalid boolean value "maybe"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(newViper(t, tt.values))
			if tt.want != "" {
				if err == nil {
					t.Fatal("expected error")
				}
				if !hasProblem(problemsOf(t, err), tt.want) {
					t.Errorf("problems %v do not mention %q", problemsOf(t, err), tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Codex.UseFullAuto != tt.wantFA {
				t.Errorf("UseFullAuto = %v, want %v", s.Codex.UseFullAuto, tt.wantFA)
			}
			if s.Codex.DangerousBypass != tt.wantByp {
				t.Errorf("DangerousBypass = %v, want %v", s.Codex.DangerousBypass, tt.wantByp)
			}
		})
	}
}

func TestParse_Slack(t *testing.T) {
	stubLookPath(t)
	_, err := Parse(newViper(t, map[string]string{KeyPlatform: "slack", KeyDiscordToken: ""}))
	problems := problemsOf(t, err)
	if !hasProblem(problems, "missing SLACK_BOT_TOKEN") || !hasProblem(problems, "missing SLACK_APP_TOKEN") {
		t.Errorf("expected slack token problems, got %v", problems)
	}

	s, err := Parse(newViper(t, map[string]string{
		KeyPlatform: "Slack", KeyDiscordToken: "", KeySlackBotToken: "xoxb-1", KeySlackAppToken: "xapp-1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Platform != PlatformSlack {
		t.Errorf("Platform = %q, want slack", s.Platform)
	}

	_, err = Parse(newViper(t, map[string]string{KeyPlatform: "irc"}))
	if !hasProblem(problemsOf(t, err), "RELAY_PLATFORM must be") {
		t.Errorf("expected platform problem, got %v", err)
	}
}

func TestParse_HistoryAndDigest(t *testing.T) {
	stubLookPath(t)

	s, err := Parse(newViper(t, map[string]string{KeyHistoryDriver: "sqlite"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.History.DSN != filepath.Join(".minicodex", "history.db") {
		t.Errorf("sqlite DSN default = %q", s.History.DSN)
	}

	_, err = Parse(newViper(t, map[string]string{KeyHistoryDriver: "mysql", KeyHistoryDSN: "not a dsn"}))
	if !hasProblem(problemsOf(t, err), "invalid MySQL DSN") {
		t.Errorf("expected DSN problem, got %v", err)
	}

	_, err = Parse(newViper(t, map[string]string{KeyHistoryDriver: "mysql", KeyHistoryDSN: "root@tcp(127.0.0.1:3306)/relay?parseTime=true"}))
	if err != nil {
		t.Errorf("valid mysql DSN rejected: %v", err)
	}

	_, err = Parse(newViper(t, map[string]string{KeyDigestCron: "not cron"}))
	problems := problemsOf(t, err)
	for _, want := range []string{"RELAY_DIGEST_CRON:", "requires RELAY_DIGEST_CHANNEL_ID", "requires RELAY_HISTORY_DRIVER"} {
		if !hasProblem(problems, want) {
			t.Errorf("problems %v do not mention %q", problems, want)
		}
	}
}

func TestParse_CollectsAllProblems(t *testing.T) {
	stubLookPath(t)
	_, err := Parse(newViper(t, map[string]string{
		KeyDiscordToken:  "",
		KeyCodexCommand:  "missing",
		KeyCodexTimeout:  "0",
		KeySandbox:       "nope",
		KeyHistoryDriver: "postgres",
	}))
	if got := len(problemsOf(t, err)); got != 5 {
		t.Errorf("got %d problems, want 5: %v", got, err)
	}
	if !strings.HasPrefix(err.Error(), "config: validation failed: ") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoad_EnvFileAndOverride(t *testing.T) {
	stubLookPath(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "DISCORD_BOT_TOKEN=from-file\nCODEX_MODEL=gpt-file\nCODEX_WORKSPACE_ROOT=" + dir + "\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(KeyCodexModel, "gpt-env")

	s, err := Load(envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DiscordBotToken != "from-file" {
		t.Errorf("DiscordBotToken = %q, want from-file", s.DiscordBotToken)
	}
	if s.Codex.Model != "gpt-env" {
		t.Errorf("Model = %q, want gpt-env (environment wins)", s.Codex.Model)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	stubLookPath(t)
	t.Setenv(KeyDiscordToken, "env-token")
	t.Setenv(KeyWorkspaceRoot, t.TempDir())

	s, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DiscordBotToken != "env-token" {
		t.Errorf("DiscordBotToken = %q, want env-token", s.DiscordBotToken)
	}
}

// Package config loads minicodex settings from the environment and an optional
// .env file, and validates them before anything else starts.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/shlex"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Environment keys.
const (
	KeyPlatform          = "RELAY_PLATFORM"
	KeyDiscordToken      = "DISCORD_BOT_TOKEN"
	KeySlackBotToken     = "SLACK_BOT_TOKEN"
	KeySlackAppToken     = "SLACK_APP_TOKEN"
	KeySoulPath          = "SOUL_PATH"
	KeySkillsDir         = "SKILLS_DIR"
	KeyAllowedChannels   = "DISCORD_ALLOWED_CHANNEL_IDS"
	KeyCodexCommand      = "CODEX_COMMAND"
	KeyCodexBaseArgs     = "CODEX_BASE_ARGS"
	KeyCodexModel        = "CODEX_MODEL"
	KeyCodexTimeout      = "CODEX_TIMEOUT_SEC"
	KeyWorkspaceRoot     = "CODEX_WORKSPACE_ROOT"
	KeyEnableSearch      = "CODEX_ENABLE_SEARCH"
	KeyUseFullAuto       = "CODEX_USE_FULL_AUTO"
	KeySessionTTL        = "CODEX_SESSION_TTL_SEC"
	KeySessionStorePath  = "CODEX_SESSION_STORE_PATH"
	KeySandbox           = "CODEX_SANDBOX"
	KeyAskForApproval    = "CODEX_ASK_FOR_APPROVAL"
	KeyDangerousBypass   = "CODEX_DANGEROUS_BYPASS"
	KeyHistoryDriver     = "RELAY_HISTORY_DRIVER"
	KeyHistoryDSN        = "RELAY_HISTORY_DSN"
	KeyStatusAddr        = "RELAY_STATUS_ADDR"
	KeyDigestCron        = "RELAY_DIGEST_CRON"
	KeyDigestChannelID   = "RELAY_DIGEST_CHANNEL_ID"
	KeyLogLevel          = "LOG_LEVEL"
	DefaultBaseArgs      = "exec --skip-git-repo-check"
	DefaultTimeoutSec    = 300
	DefaultSessionTTLSec = 86400
)

// Platforms and history drivers.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"

	HistorySQLite = "sqlite"
	HistoryMySQL  = "mysql"
)

// FreshSubcommand is the codex subcommand CODEX_BASE_ARGS must start with.
const FreshSubcommand = "exec"

// SandboxModes and ApprovalPolicies are the values codex accepts for
// --sandbox and --ask-for-approval.
var (
	SandboxModes     = []string{"read-only", "workspace-write", "danger-full-access"}
	ApprovalPolicies = []string{"untrusted", "on-failure", "on-request", "never"}
)

// misspelledFlags maps flags that codex silently rejects to their real spelling.
var misspelledFlags = map[string]string{
	"--skip-git-repo-checks": "--skip-git-repo-check",
	"--full_auto":            "--full-auto",
}

// lookPath resolves CODEX_COMMAND. Tests override it.
var lookPath = exec.LookPath

// Settings is the validated runtime configuration.
type Settings struct {
	Platform        string
	DiscordBotToken string
	SlackBotToken   string
	SlackAppToken   string
	SoulPath        string
	SkillsDir       string
	// AllowedChannelIDs is empty when every channel is permitted.
	AllowedChannelIDs []int64
	Codex             CodexSettings
	History           HistorySettings
	StatusAddr        string
	Digest            DigestSettings
	LogLevel          string
}

// CodexSettings controls how the codex CLI is invoked.
type CodexSettings struct {
	Command          string // resolved absolute path
	BaseArgs         []string
	Model            string
	Timeout          time.Duration
	WorkspaceRoot    string
	EnableSearch     bool
	UseFullAuto      bool
	SessionTTL       time.Duration
	SessionStorePath string
	Sandbox          string
	AskForApproval   string
	DangerousBypass  bool
}

// HistorySettings selects the optional turn history database.
type HistorySettings struct {
	Driver string // "", "sqlite" or "mysql"
	DSN    string
}

// Enabled reports whether a history backend is configured.
func (h HistorySettings) Enabled() bool { return h.Driver != "" }

// DigestSettings schedules the periodic turn summary.
type DigestSettings struct {
	Cron      string
	ChannelID string
}

// Enabled reports whether the digest is scheduled.
func (d DigestSettings) Enabled() bool { return d.Cron != "" }

// ValidationError collects every configuration problem found at load time.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: validation failed: " + strings.Join(e.Problems, "; ")
}

// ChannelAllowed reports whether any of the given channel IDs passes the
// allow-list. An empty allow-list permits everything.
func (s *Settings) ChannelAllowed(ids ...string) bool {
	if len(s.AllowedChannelIDs) == 0 {
		return true
	}
	for _, raw := range ids {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			continue
		}
		if slices.Contains(s.AllowedChannelIDs, id) {
			return true
		}
	}
	return false
}

// Load reads the optional dotenv file at envFile, overlays the process
// environment, and returns validated Settings. A missing file is not an error.
func Load(envFile string) (*Settings, error) {
	v := viper.New()
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, &ValidationError{Problems: []string{fmt.Sprintf("read %s: %v", envFile, err)}}
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", envFile, err)
		}
	}
	v.AutomaticEnv()
	return Parse(v)
}

// Parse builds validated Settings from the values held by v.
func Parse(v *viper.Viper) (*Settings, error) {
	p := &parser{v: v}
	s := &Settings{
		Platform:        strings.ToLower(p.str(KeyPlatform, PlatformDiscord)),
		DiscordBotToken: p.str(KeyDiscordToken, ""),
		SlackBotToken:   p.str(KeySlackBotToken, ""),
		SlackAppToken:   p.str(KeySlackAppToken, ""),
		SoulPath:        expandHome(p.str(KeySoulPath, "SOUL.md")),
		SkillsDir:       expandHome(p.str(KeySkillsDir, "skills")),
		StatusAddr:      p.str(KeyStatusAddr, ""),
		LogLevel:        strings.ToLower(p.str(KeyLogLevel, "info")),
		History: HistorySettings{
			Driver: strings.ToLower(p.str(KeyHistoryDriver, "")),
			DSN:    p.str(KeyHistoryDSN, ""),
		},
		Digest: DigestSettings{
			Cron:      p.str(KeyDigestCron, ""),
			ChannelID: p.str(KeyDigestChannelID, ""),
		},
	}
	s.AllowedChannelIDs = p.channelIDs(KeyAllowedChannels)
	s.Codex = p.codex()

	p.validatePlatform(s)
	p.validateExtras(s)

	if len(p.problems) > 0 {
		return nil, &ValidationError{Problems: p.problems}
	}
	return s, nil
}

// parser accumulates problems while reading keys so that every mistake is
// reported at once.
type parser struct {
	v        *viper.Viper
	problems []string
}

func (p *parser) fail(format string, args ...any) {
	p.problems = append(p.problems, fmt.Sprintf(format, args...))
}

func (p *parser) raw(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) str(key, def string) string {
	if raw := p.raw(key); raw != "" {
		return raw
	}
	return def
}

// boolean returns the parsed value and whether the key was explicitly set.
func (p *parser) boolean(key string, def bool) (bool, bool) {
	raw := p.raw(key)
	if raw == "" {
		return def, false
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	p.fail("%s: invalid boolean value %q", key, raw)
	return def, true
}

func (p *parser) positiveSeconds(key string, def int) time.Duration {
	raw := p.raw(key)
	if raw == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		p.fail("%s must be a positive integer, got %q", key, raw)
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}

func (p *parser) channelIDs(key string) []int64 {
	raw := p.raw(key)
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, chunk := range strings.Split(raw, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		id, err := strconv.ParseInt(chunk, 10, 64)
		if err != nil {
			p.fail("invalid channel ID in %s: %s", key, chunk)
			continue
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *parser) codex() CodexSettings {
	c := CodexSettings{
		Model:            p.str(KeyCodexModel, ""),
		Timeout:          p.positiveSeconds(KeyCodexTimeout, DefaultTimeoutSec),
		SessionTTL:       p.positiveSeconds(KeySessionTTL, DefaultSessionTTLSec),
		SessionStorePath: expandHome(p.str(KeySessionStorePath, filepath.Join(".minicodex", "sessions.json"))),
		Sandbox:          p.str(KeySandbox, ""),
		AskForApproval:   p.str(KeyAskForApproval, ""),
	}
	c.EnableSearch, _ = p.boolean(KeyEnableSearch, true)
	c.DangerousBypass, _ = p.boolean(KeyDangerousBypass, false)

	command := p.str(KeyCodexCommand, "codex")
	if resolved, err := lookPath(command); err != nil {
		p.fail("%s %q not found on PATH", KeyCodexCommand, command)
		c.Command = command
	} else {
		c.Command = resolved
	}

	c.BaseArgs = p.baseArgs()

	root := expandHome(p.str(KeyWorkspaceRoot, "."))
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		p.fail("%s %q is not an existing directory", KeyWorkspaceRoot, root)
	}
	c.WorkspaceRoot = root

	if c.Sandbox != "" && !slices.Contains(SandboxModes, c.Sandbox) {
		p.fail("%s must be one of %s, got %q", KeySandbox, strings.Join(SandboxModes, ", "), c.Sandbox)
	}
	if c.AskForApproval != "" && !slices.Contains(ApprovalPolicies, c.AskForApproval) {
		p.fail("%s must be one of %s, got %q", KeyAskForApproval, strings.Join(ApprovalPolicies, ", "), c.AskForApproval)
	}
	if c.DangerousBypass && c.Sandbox != "" {
		p.fail("%s cannot be combined with %s", KeyDangerousBypass, KeySandbox)
	}
	if c.DangerousBypass && c.AskForApproval != "" {
		p.fail("%s cannot be combined with %s", KeyDangerousBypass, KeyAskForApproval)
	}

	explicitSafety := c.DangerousBypass || c.Sandbox != "" || c.AskForApproval != ""
	fullAuto, fullAutoSet := p.boolean(KeyUseFullAuto, !explicitSafety)
	if fullAuto && fullAutoSet && explicitSafety {
		p.fail("%s=true conflicts with %s, %s or %s; unset one of them",
			KeyUseFullAuto, KeyDangerousBypass, KeySandbox, KeyAskForApproval)
		fullAuto = false
	}
	c.UseFullAuto = fullAuto
	return c
}

func (p *parser) baseArgs() []string {
	raw := p.str(KeyCodexBaseArgs, DefaultBaseArgs)
	args, err := shlex.Split(raw)
	if err != nil {
		p.fail("%s: cannot parse %q: %v", KeyCodexBaseArgs, raw, err)
		return nil
	}
	if len(args) == 0 || args[0] != FreshSubcommand {
		p.fail("%s must start with %q, got %q", KeyCodexBaseArgs, FreshSubcommand, raw)
	}
	for _, arg := range args {
		flag, _, _ := strings.Cut(arg, "=")
		if fix, ok := misspelledFlags[flag]; ok {
			p.fail("%s contains misspelled flag %s (did you mean %s?)", KeyCodexBaseArgs, flag, fix)
		}
	}
	return args
}

func (p *parser) validatePlatform(s *Settings) {
	switch s.Platform {
	case PlatformDiscord:
		if s.DiscordBotToken == "" {
			p.fail("missing %s", KeyDiscordToken)
		}
	case PlatformSlack:
		if s.SlackBotToken == "" {
			p.fail("missing %s", KeySlackBotToken)
		}
		if s.SlackAppToken == "" {
			p.fail("missing %s", KeySlackAppToken)
		}
	default:
		p.fail("%s must be %q or %q, got %q", KeyPlatform, PlatformDiscord, PlatformSlack, s.Platform)
	}
}

func (p *parser) validateExtras(s *Settings) {
	switch s.History.Driver {
	case "":
	case HistorySQLite:
		if s.History.DSN == "" {
			s.History.DSN = filepath.Join(".minicodex", "history.db")
		}
	case HistoryMySQL:
		if _, err := mysql.ParseDSN(s.History.DSN); err != nil {
			p.fail("%s: invalid MySQL DSN: %v", KeyHistoryDSN, err)
		}
	default:
		p.fail("%s must be %q or %q, got %q", KeyHistoryDriver, HistorySQLite, HistoryMySQL, s.History.Driver)
	}

	if s.Digest.Enabled() {
		if _, err := cron.ParseStandard(s.Digest.Cron); err != nil {
			p.fail("%s: %v", KeyDigestCron, err)
		}
		if s.Digest.ChannelID == "" {
			p.fail("%s requires %s", KeyDigestCron, KeyDigestChannelID)
		}
		if !s.History.Enabled() {
			p.fail("%s requires %s", KeyDigestCron, KeyHistoryDriver)
		}
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		p.fail("%s must be debug, info, warn or error, got %q", KeyLogLevel, s.LogLevel)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

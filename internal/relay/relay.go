// Package relay turns inbound chat messages into codex turns: it resolves
// the conversation's session, runs codex in fresh or resume mode, updates the
// session store and picks the single reply for the message.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zulandar/minicodex/internal/codex"
	"github.com/zulandar/minicodex/internal/models"
	"github.com/zulandar/minicodex/internal/prompt"
	"github.com/zulandar/minicodex/internal/session"
)

// Soul supplies the persona text for fresh sessions.
type Soul interface {
	Text() string
	Excerpt(n int) string
}

// Recorder persists a history row for each handled turn.
type Recorder interface {
	Record(ctx context.Context, turn *models.Turn) error
}

// Relay is the per-turn orchestrator. It owns the session store for the
// lifetime of the process.
type Relay struct {
	store      *session.Store
	invoker    codex.Invoker
	builder    *codex.Builder
	soul       Soul
	skills     []prompt.SkillCard
	skillsText string
	ttl        time.Duration
	outputDir  string
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// Opts holds parameters for creating a Relay.
type Opts struct {
	Store     *session.Store // required
	Invoker   codex.Invoker  // required
	Builder   *codex.Builder // required
	Soul      Soul           // required
	Skills    []prompt.SkillCard
	TTL       time.Duration // session idle lifetime
	OutputDir string        // where output-capture files go; os.TempDir() when empty
	Recorder  Recorder      // optional history ledger
	Logger    *zap.Logger
	Now       func() time.Time
}

// New creates a Relay.
func New(opts Opts) (*Relay, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("relay: invoker is required")
	}
	if opts.Builder == nil {
		return nil, fmt.Errorf("relay: builder is required")
	}
	if opts.Soul == nil {
		return nil, fmt.Errorf("relay: soul is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("relay: session ttl must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Relay{
		store:      opts.Store,
		invoker:    opts.Invoker,
		builder:    opts.Builder,
		soul:       opts.Soul,
		skills:     opts.Skills,
		skillsText: prompt.FormatSkillCards(opts.Skills),
		ttl:        opts.TTL,
		outputDir:  opts.OutputDir,
		recorder:   opts.Recorder,
		logger:     logger,
		now:        now,
	}, nil
}

// Result describes one finished codex turn.
type Result struct {
	Reply     string
	Mode      string // models.TurnModeFresh or models.TurnModeResume
	SessionID string // handle resumed or discovered, empty if none
	Outcome   codex.Outcome
}

// Handle answers one message. Slash commands are answered locally; anything
// else runs a codex turn. A non-nil error means the turn failed before a
// reply could be chosen; callers reply with FailureReply.
func (r *Relay) Handle(ctx context.Context, msg Message) (string, error) {
	key := ConversationKey(msg)
	text := strings.TrimSpace(msg.Text)
	start := r.now()

	if IsCommand(text) {
		reply := r.command(key, text)
		r.record(ctx, msg, key, models.TurnModeCommand, Result{Reply: reply}, start, nil)
		return reply, nil
	}

	res, err := r.Turn(ctx, key, text)
	r.record(ctx, msg, key, res.Mode, res, start, err)
	if err != nil {
		return "", err
	}
	return res.Reply, nil
}

// Turn runs one codex turn for key. The output-capture file is removed on
// every path.
func (r *Relay) Turn(ctx context.Context, key, text string) (Result, error) {
	sessionID, resumed := r.store.Resolve(key, r.ttl)
	res := Result{Mode: models.TurnModeFresh, SessionID: sessionID}
	instructions := text
	if resumed {
		res.Mode = models.TurnModeResume
	} else {
		instructions = prompt.Instructions(r.soul.Text(), r.skillsText, text)
	}

	outputPath := codex.NewOutputPath(r.outputDir)
	defer func() {
		if err := codex.RemoveOutput(outputPath); err != nil {
			r.logger.Warn("relay: remove output file", zap.String("path", outputPath), zap.Error(err))
		}
	}()

	inv := r.builder.Invocation(codex.BuildOpts{
		SessionID:    sessionID,
		OutputPath:   outputPath,
		Instructions: instructions,
	})
	r.logger.Info("relay: turn start",
		zap.String("key", key),
		zap.String("mode", res.Mode),
		zap.String("session_id", sessionID))

	out, err := r.invoker.Invoke(ctx, inv)
	res.Outcome = out
	if err != nil {
		return res, fmt.Errorf("relay: invoke codex: %w", err)
	}

	if err := r.updateSession(key, sessionID, resumed, out); err != nil {
		return res, err
	}
	if out.SessionID != "" {
		res.SessionID = out.SessionID
	}
	res.Reply = SelectReply(out, inv.Timeout)

	r.logger.Info("relay: turn complete",
		zap.String("key", key),
		zap.String("mode", res.Mode),
		zap.String("session_id", res.SessionID),
		zap.Int("exit_code", out.ExitCode),
		zap.Bool("timed_out", out.TimedOut),
		zap.Duration("duration", out.Duration))
	return res, nil
}

// updateSession stores a newly announced handle, or refreshes a resumed
// one. A timed-out turn never touches the store.
func (r *Relay) updateSession(key, resumedID string, resumed bool, out codex.Outcome) error {
	switch {
	case out.TimedOut:
		return nil
	case out.SessionID != "":
		if resumed && out.SessionID != resumedID {
			r.logger.Info("relay: session rotated", zap.String("key", key),
				zap.String("from", resumedID), zap.String("to", out.SessionID))
		}
		return r.store.Update(key, out.SessionID)
	case resumed:
		return r.store.Update(key, resumedID)
	default:
		return nil
	}
}

func (r *Relay) record(ctx context.Context, msg Message, key, mode string, res Result, start time.Time, turnErr error) {
	if r.recorder == nil {
		return
	}
	turn := &models.Turn{
		TurnID:          uuid.NewString(),
		ConversationKey: key,
		Platform:        msg.Platform,
		ChannelID:       msg.ChannelID,
		UserName:        msg.UserName,
		Mode:            mode,
		SessionID:       res.SessionID,
		ExitCode:        res.Outcome.ExitCode,
		TimedOut:        res.Outcome.TimedOut,
		DurationMs:      r.now().Sub(start).Milliseconds(),
		ReplyChars:      len([]rune(res.Reply)),
		CreatedAt:       start,
	}
	if turnErr != nil {
		turn.Error = turnErr.Error()
	}
	if err := r.recorder.Record(ctx, turn); err != nil {
		r.logger.Warn("relay: record turn", zap.String("key", key), zap.Error(err))
	}
}

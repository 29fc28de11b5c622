package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/shopassist/server/internal/agent/graph/observers"
	"github.com/shopassist/server/internal/agent/metrics"
	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
	logx "github.com/shopassist/server/pkg/logger"
)

// Config holds everything the Runner needs around the compiled graph.
type Config struct {
	Graph            GraphConfig
	Conversation     model.ConversationConfig
	ConversationRepo model.ConversationRepository
	Locker           model.Locker
	Metrics          *metrics.Recorder
}

// Runner is the conversation entry point. It owns the thread store: every
// turn loads the thread under its lock, runs the graph on the loaded copy and
// saves it only when the graph finished.
type Runner struct {
	runnable  compose.Runnable[model.TurnInput, *schema.Message]
	repo      model.ConversationRepository
	locker    model.Locker
	config    model.ConversationConfig
	metrics   *metrics.Recorder
	callbacks einocb.Handler
	newID     func() string
	now       func() time.Time
}

// NewRunner builds the graph and wraps it with thread storage and locking.
func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if cfg.Locker == nil {
		return nil, fmt.Errorf("locker is nil")
	}
	if cfg.Graph.MaxIterations <= 0 {
		cfg.Graph.MaxIterations = cfg.Conversation.MaxIterations
	}

	runnable, err := BuildGraph(ctx, &cfg.Graph)
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Turn graph built successfully")
	return &Runner{
		runnable:  runnable,
		repo:      cfg.ConversationRepo,
		locker:    cfg.Locker,
		config:    cfg.Conversation,
		metrics:   cfg.Metrics,
		callbacks: observers.NewAllCallbacks(cfg.Metrics),
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// RunSingleTurn processes one user message on a thread. An empty threadID
// starts a new thread. Conversation-level problems (tool errors, iteration
// limit, completion failures) are reported in the result; a non-nil error
// means the turn did not happen and the stored thread is unchanged.
func (r *Runner) RunSingleTurn(ctx context.Context, threadID, text string) (model.TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.TurnResult{ThreadID: threadID}, errx.InvalidArgument("message text is required")
	}
	if threadID == "" {
		threadID = r.newID()
	}
	result := model.TurnResult{ThreadID: threadID}
	start := r.now()

	timeout := r.config.TurnTimeoutDuration()
	unlock, err := r.locker.Lock(ctx, threadID, 2*timeout)
	if err != nil {
		return result, err
	}
	defer r.unlock(threadID, unlock)

	conv, found, err := r.repo.Load(ctx, threadID)
	if err != nil {
		return result, err
	}
	if !found {
		conv = model.NewConversation(threadID, r.config.DefaultUserID)
		logx.Info().Str("thread_id", threadID).Msg("New conversation thread")
	}

	trace := &model.TurnTrace{}
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := r.runnable.Invoke(turnCtx, model.TurnInput{
		Conversation: conv,
		Text:         text,
		Trace:        trace,
	}, compose.WithCallbacks(r.callbacks))
	if err != nil {
		r.metrics.ObserveTurn("", r.now().Sub(start))
		logx.Error().Err(err).Str("thread_id", threadID).Msg("Turn failed")
		return result, fmt.Errorf("turn on thread %s: %w", threadID, err)
	}

	if err := conv.Validate(); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("Conversation invariant violated")
		return result, fmt.Errorf("turn on thread %s: %w", threadID, err)
	}
	if err := r.repo.Save(ctx, conv); err != nil {
		return result, err
	}

	status := trace.Status
	if status == "" {
		status = model.TurnCompleted
	}
	if status == model.TurnEscalated {
		if e := conv.OpenEscalation(); e != nil {
			r.metrics.IncEscalation(string(e.Urgency))
		}
	}
	r.metrics.ObserveTurn(string(status), r.now().Sub(start))

	result.Status = status
	result.ActiveAgent = conv.ActiveAgent
	result.PendingEscalation = conv.PendingEscalation
	result.Iterations = trace.Iterations
	result.CostUSD = trace.TotalCostUSD
	if out != nil {
		result.Reply = out.Content
	}
	if trace.Cause != nil {
		result.Cause = fmt.Sprintf("%s: %s", errx.KindOf(trace.Cause), errx.MessageOf(trace.Cause))
	}

	logx.Info().
		Str("thread_id", threadID).
		Str("status", string(status)).
		Str("active_agent", string(conv.ActiveAgent)).
		Int("iteration", trace.Iterations).
		Int("tool_calls", trace.ToolCalls).
		Float64("total_cost_usd", trace.TotalCostUSD).
		Msg("Turn finished")
	return result, nil
}

// ResolveEscalation is the human approval action: it closes the open
// escalation, records the supervisor's note in the transcript and lets the
// next user message resume at the active agent.
func (r *Runner) ResolveEscalation(ctx context.Context, threadID, note string) (*model.Conversation, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		note = "Approved."
	}

	unlock, err := r.locker.Lock(ctx, threadID, r.config.TurnTimeoutDuration())
	if err != nil {
		return nil, err
	}
	defer r.unlock(threadID, unlock)

	conv, err := r.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !conv.PendingEscalation {
		return nil, errx.InvalidArgument("thread %s has no pending escalation", threadID)
	}

	now := r.now().UTC()
	if e := conv.OpenEscalation(); e != nil {
		e.ResolvedAt = &now
		e.Resolution = note
	}
	conv.PendingEscalation = false

	msg := schema.UserMessage(fmt.Sprintf("%s %s", model.SupervisorPrefix, note))
	msg.Name = "supervisor"
	conv.Append(msg)

	if err := r.repo.Save(ctx, conv); err != nil {
		return nil, err
	}
	logx.Info().Str("thread_id", threadID).Str("active_agent", string(conv.ActiveAgent)).Msg("Escalation resolved")
	return conv.Clone(), nil
}

// Reset deletes a thread.
func (r *Runner) Reset(ctx context.Context, threadID string) error {
	unlock, err := r.locker.Lock(ctx, threadID, r.config.TurnTimeoutDuration())
	if err != nil {
		return err
	}
	defer r.unlock(threadID, unlock)

	if err := r.repo.Delete(ctx, threadID); err != nil {
		return err
	}
	logx.Info().Str("thread_id", threadID).Msg("Conversation reset")
	return nil
}

// Conversation returns a snapshot of a thread.
func (r *Runner) Conversation(ctx context.Context, threadID string) (*model.Conversation, error) {
	return r.load(ctx, threadID)
}

// Threads lists stored thread ids.
func (r *Runner) Threads(ctx context.Context) ([]string, error) {
	return r.repo.ListThreads(ctx)
}

func (r *Runner) load(ctx context.Context, threadID string) (*model.Conversation, error) {
	conv, found, err := r.repo.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errx.ThreadNotFound(threadID)
	}
	return conv, nil
}

func (r *Runner) unlock(threadID string, unlock model.UnlockFunc) {
	if err := unlock(context.Background()); err != nil {
		logx.Warn().Err(err).Str("thread_id", threadID).Msg("Failed to release thread lock")
	}
}

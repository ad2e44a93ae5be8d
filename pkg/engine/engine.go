package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/commandqueue"
	"github.com/parleyhq/parley/pkg/message"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/tools"
)

// Options tune how the engine drives model turns. SystemPromptFunc, when
// set, is consulted on every turn so hot-reloaded prompts take effect
// without a restart.
type Options struct {
	Model            string
	SystemPrompt     string
	SystemPromptFunc func() string
	Temperature      float64
	MaxTokens        int
	MaxRetries       int
	ContextBudget    int
	ToolNames        []string
	ToolTimeout      time.Duration
}

// TurnResult is what a completed (or suspended) unit of work produced.
// Interrupt is non-nil when the session is suspended waiting for a human
// decision; Reply carries the model text otherwise.
type TurnResult struct {
	SessionID string     `json:"session_id"`
	Seq       int64      `json:"seq"`
	Reply     string     `json:"reply,omitempty"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
}

// Engine owns the end-to-end lifecycle of a session: it serializes all work
// for a session on one queue lane, routes incoming messages to a stage,
// persists a checkpoint after every state change, and brokers the approval
// gate for tool calls.
type Engine struct {
	store    *checkpoint.Store
	queue    *commandqueue.Queue
	registry *tools.Registry
	provider provider.Provider
	logger   zerolog.Logger
	opts     Options

	mu      sync.Mutex
	pending map[string]*pendingState
}

func New(store *checkpoint.Store, queue *commandqueue.Queue, registry *tools.Registry, p provider.Provider, logger zerolog.Logger, opts Options) *Engine {
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 100_000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 30 * time.Second
	}
	return &Engine{
		store:    store,
		queue:    queue,
		registry: registry,
		provider: p,
		logger:   logger.With().Str("component", "engine").Logger(),
		opts:     opts,
		pending:  make(map[string]*pendingState),
	}
}

func laneFor(sessionID string) string {
	return "session-" + sessionID
}

// CreateSession allocates a session ID and writes its empty root checkpoint.
func (e *Engine) CreateSession(ctx context.Context) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	if _, err := e.store.Append(ctx, id, message.Log{}, checkpoint.StageTurn); err != nil {
		return "", err
	}
	e.logger.Info().Str("session_id", id).Msg("session created")
	return id, nil
}

// SendMessage appends a human message and drives the routed stage to
// completion (or to a suspended interrupt). Work runs on the session's lane;
// a session with a pending interrupt rejects new messages until it is
// resumed or rolled back.
func (e *Engine) SendMessage(ctx context.Context, sessionID, content string) (*TurnResult, error) {
	return e.sendMessage(ctx, sessionID, content, nil)
}

// SendMessageStream behaves like SendMessage but forwards model text deltas
// to onDelta as they arrive, when the configured provider supports streaming.
func (e *Engine) SendMessageStream(ctx context.Context, sessionID, content string, onDelta func(delta string)) (*TurnResult, error) {
	return e.sendMessage(ctx, sessionID, content, onDelta)
}

func (e *Engine) sendMessage(ctx context.Context, sessionID, content string, onDelta func(string)) (*TurnResult, error) {
	result, err := e.queue.Enqueue(ctx, laneFor(sessionID), func(taskCtx context.Context) (interface{}, error) {
		if ps, err := e.pendingFor(taskCtx, sessionID); err != nil {
			return nil, err
		} else if ps != nil {
			return nil, ErrInterruptPending
		}

		log, err := e.loadLog(taskCtx, sessionID)
		if err != nil {
			return nil, err
		}
		log = log.Append(message.NewHuman(content))
		return e.runStages(taskCtx, sessionID, log, onDelta)
	})
	if err != nil {
		return nil, err
	}
	return result.(*TurnResult), nil
}

// runStages routes the log to its stage and executes it. Callers must hold
// the session lane.
func (e *Engine) runStages(ctx context.Context, sessionID string, log message.Log, onDelta func(string)) (*TurnResult, error) {
	stage := Route(log)
	started := time.Now()
	result, err := e.runStage(ctx, sessionID, stage, log, onDelta)
	observability.RecordStage(string(stage), time.Since(started), err == nil)
	return result, err
}

func (e *Engine) runStage(ctx context.Context, sessionID string, stage checkpoint.Stage, log message.Log, onDelta func(string)) (*TurnResult, error) {
	switch stage {
	case checkpoint.StageDeletion:
		newLog, err := runDeletion(log)
		if err != nil {
			return nil, err
		}
		cp, err := e.store.Append(ctx, sessionID, newLog, checkpoint.StageTurn)
		if err != nil {
			return nil, err
		}
		e.logger.Info().Str("session_id", sessionID).Int("messages", len(newLog)).Msg("deletion applied")
		return &TurnResult{SessionID: sessionID, Seq: cp.Seq}, nil

	case checkpoint.StageSummarization:
		base := stripDirectives(log)
		newLog, summary, err := e.runSummarization(ctx, base)
		if err != nil {
			return nil, err
		}
		cp, err := e.store.Append(ctx, sessionID, newLog, checkpoint.StageTurn)
		if err != nil {
			return nil, err
		}
		return &TurnResult{SessionID: sessionID, Seq: cp.Seq, Reply: summary}, nil

	default:
		return e.runTurn(ctx, sessionID, log, onDelta)
	}
}

// runTurn calls the model over the trimmed window, appends the AI message to
// the untrimmed log, and either checkpoints a completed turn or suspends on
// the first tool call.
func (e *Engine) runTurn(ctx context.Context, sessionID string, log message.Log, onDelta func(string)) (*TurnResult, error) {
	decls, err := e.registry.Declarations(e.opts.ToolNames)
	if err != nil {
		return nil, err
	}

	systemPrompt := e.opts.SystemPrompt
	if e.opts.SystemPromptFunc != nil {
		systemPrompt = e.opts.SystemPromptFunc()
	}

	req := provider.Request{
		Model:        e.opts.Model,
		Messages:     message.TrimToBudget(log, e.opts.ContextBudget),
		SystemPrompt: systemPrompt,
		Tools:        decls,
		Temperature:  e.opts.Temperature,
		MaxTokens:    e.opts.MaxTokens,
	}

	response, err := e.callModel(ctx, req, onDelta)
	if err != nil {
		return nil, err
	}

	log = log.Append(message.NewAI(response.Content, response.ToolCalls...))

	if len(response.ToolCalls) > 0 {
		intr, err := e.buildInterrupt(sessionID, response.ToolCalls[0])
		if err != nil {
			return nil, err
		}
		cp, err := e.store.Append(ctx, sessionID, log, checkpoint.StageTool)
		if err != nil {
			return nil, err
		}
		e.setPending(sessionID, &pendingState{
			interrupt: intr,
			log:       log,
			calls:     response.ToolCalls,
			next:      0,
		})
		e.logger.Info().
			Str("session_id", sessionID).
			Str("tool", intr.ToolName).
			Int("calls", len(response.ToolCalls)).
			Msg("turn suspended on tool approval")
		return &TurnResult{SessionID: sessionID, Seq: cp.Seq, Reply: response.Content, Interrupt: &intr}, nil
	}

	cp, err := e.store.Append(ctx, sessionID, log, checkpoint.StageTurn)
	if err != nil {
		return nil, err
	}
	return &TurnResult{SessionID: sessionID, Seq: cp.Seq, Reply: response.Content}, nil
}

func (e *Engine) callModel(ctx context.Context, req provider.Request, onDelta func(string)) (*provider.Response, error) {
	started := time.Now()
	if streamer, ok := e.provider.(provider.Streamer); ok && onDelta != nil {
		var emitted bool
		response, err := drainStream(ctx, streamer, req, func(delta string) {
			emitted = true
			onDelta(delta)
		})
		observability.RecordModelCall(e.provider.Name(), time.Since(started), err == nil)
		if err == nil {
			return response, nil
		}
		// Once deltas have reached the client a blocking retry would follow
		// the partial text with a divergent reply, so the turn fails instead.
		if emitted {
			return nil, fmt.Errorf("stream failed after partial output: %w", err)
		}
		e.logger.Warn().Err(err).Msg("stream failed before any output, falling back to blocking call")
	}
	response, err := provider.CallWithRetry(ctx, e.provider, req, e.opts.MaxRetries, e.logger)
	observability.RecordModelCall(e.provider.Name(), time.Since(started), err == nil)
	return response, err
}

func drainStream(ctx context.Context, streamer provider.Streamer, req provider.Request, onDelta func(string)) (*provider.Response, error) {
	events, errs := streamer.Stream(ctx, req)
	var final *provider.Response
	for event := range events {
		if event.Delta != "" {
			onDelta(event.Delta)
		}
		if event.Done {
			final = event.Response
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if final == nil {
		return nil, errors.New("stream ended without a final response")
	}
	return final, nil
}

// Resume resolves the pending interrupt with the human's decision: an
// approved action tool executes (errors become the tool result text), a
// cancelled one records the refusal notice, and a user-input tool takes the
// extra data verbatim as its result. When further calls from the same AI
// message remain the session suspends on the next one; otherwise a follow-up
// model turn runs so the model can react to the results.
func (e *Engine) Resume(ctx context.Context, sessionID string, decision ResumeDecision) (*TurnResult, error) {
	return e.resume(ctx, sessionID, "", decision, nil)
}

// ResumeIdempotent is Resume keyed by a client request ID: replays with the
// same key return the original result instead of resolving twice.
func (e *Engine) ResumeIdempotent(ctx context.Context, sessionID, requestID string, decision ResumeDecision) (*TurnResult, error) {
	return e.resume(ctx, sessionID, requestID, decision, nil)
}

// ResumeStream is Resume with model deltas from the follow-up turn forwarded
// to onDelta.
func (e *Engine) ResumeStream(ctx context.Context, sessionID string, decision ResumeDecision, onDelta func(string)) (*TurnResult, error) {
	return e.resume(ctx, sessionID, "", decision, onDelta)
}

func (e *Engine) resume(ctx context.Context, sessionID, requestID string, decision ResumeDecision, onDelta func(string)) (*TurnResult, error) {
	task := func(taskCtx context.Context) (interface{}, error) {
		return e.resolveInterrupt(taskCtx, sessionID, decision, onDelta)
	}

	var (
		result interface{}
		err    error
	)
	if requestID != "" {
		result, err = e.queue.EnqueueIdempotent(ctx, laneFor(sessionID), requestID, task)
	} else {
		result, err = e.queue.Enqueue(ctx, laneFor(sessionID), task)
	}
	if err != nil {
		return nil, err
	}
	return result.(*TurnResult), nil
}

func (e *Engine) resolveInterrupt(ctx context.Context, sessionID string, decision ResumeDecision, onDelta func(string)) (*TurnResult, error) {
	ps, err := e.pendingFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		return nil, ErrNoPendingInterrupt
	}

	call := ps.calls[ps.next]
	def, ok := e.registry.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("pending call references unknown tool %q", call.Name)
	}

	observability.RecordResume(string(decision.Choice))

	var content string
	switch {
	case def.Kind == tools.KindUserInput:
		content = decision.ExtraData
	case decision.Choice == ChoiceCancel:
		content = CancelNotice
		if decision.ExtraData != "" {
			content += "\n" + decision.ExtraData
		}
	default:
		result, execErr := e.registry.Execute(ctx, call.Name, call.Args, e.opts.ToolTimeout)
		if execErr != nil {
			content = fmt.Sprintf("tool %s failed: %v", call.Name, execErr)
		} else {
			content = result
		}
	}

	log := ps.log.Append(message.NewTool(call.ID, content))
	next := ps.next + 1

	if next < len(ps.calls) {
		intr, err := e.buildInterrupt(sessionID, ps.calls[next])
		if err != nil {
			return nil, err
		}
		cp, err := e.store.Append(ctx, sessionID, log, checkpoint.StageTool)
		if err != nil {
			return nil, err
		}
		e.setPending(sessionID, &pendingState{interrupt: intr, log: log, calls: ps.calls, next: next})
		return &TurnResult{SessionID: sessionID, Seq: cp.Seq, Interrupt: &intr}, nil
	}

	if _, err := e.store.Append(ctx, sessionID, log, checkpoint.StageTurn); err != nil {
		return nil, err
	}
	e.clearPending(sessionID)

	return e.runTurn(ctx, sessionID, log, onDelta)
}

// State returns the latest visible conversation for a session. Directive
// messages never persist past their stage, but the view filters them anyway
// so clients only ever see dialogue.
func (e *Engine) State(ctx context.Context, sessionID string) (message.Log, error) {
	log, err := e.loadLog(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return stripDirectives(log), nil
}

// History returns the session's checkpoints, newest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]checkpoint.Checkpoint, error) {
	return e.store.History(ctx, sessionID)
}

// Sessions lists the IDs of every session with at least one checkpoint.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.store.Sessions(ctx)
}

// PendingInterrupt returns the interrupt the session is suspended on, or nil.
func (e *Engine) PendingInterrupt(ctx context.Context, sessionID string) (*Interrupt, error) {
	ps, err := e.pendingFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		return nil, nil
	}
	intr := ps.interrupt
	return &intr, nil
}

// Rollback branches the session from an earlier checkpoint with a fresh
// human tail and runs the resulting stage. Any pending interrupt is
// abandoned; the original checkpoint chain stays intact.
func (e *Engine) Rollback(ctx context.Context, sessionID string, seq int64, content string) (*TurnResult, error) {
	result, err := e.queue.Enqueue(ctx, laneFor(sessionID), func(taskCtx context.Context) (interface{}, error) {
		e.clearPending(sessionID)
		cp, err := e.store.Rollback(taskCtx, sessionID, seq, message.NewHuman(content))
		if err != nil {
			return nil, err
		}
		return e.runStages(taskCtx, sessionID, cp.Log, nil)
	})
	if err != nil {
		return nil, err
	}
	return result.(*TurnResult), nil
}

// DeleteSession removes every checkpoint for the session and abandons any
// pending interrupt.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := e.queue.Enqueue(ctx, laneFor(sessionID), func(taskCtx context.Context) (interface{}, error) {
		e.clearPending(sessionID)
		return nil, e.store.Delete(taskCtx, sessionID)
	})
	return err
}

func (e *Engine) loadLog(ctx context.Context, sessionID string) (message.Log, error) {
	cp, err := e.store.Latest(ctx, sessionID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return message.Log{}, nil
	}
	if err != nil {
		return nil, err
	}
	return cp.Log, nil
}

func (e *Engine) buildInterrupt(sessionID string, call message.ToolCall) (Interrupt, error) {
	def, ok := e.registry.Get(call.Name)
	if !ok {
		return Interrupt{}, fmt.Errorf("model requested unknown tool %q", call.Name)
	}
	id, err := gonanoid.New()
	if err != nil {
		return Interrupt{}, fmt.Errorf("failed to generate interrupt id: %w", err)
	}
	return Interrupt{
		ID:          id,
		SessionID:   sessionID,
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Parameters:  call.Args,
	}, nil
}

func (e *Engine) setPending(sessionID string, ps *pendingState) {
	e.mu.Lock()
	e.pending[sessionID] = ps
	observability.SetPendingInterrupts(len(e.pending))
	e.mu.Unlock()
}

func (e *Engine) clearPending(sessionID string) {
	e.mu.Lock()
	delete(e.pending, sessionID)
	observability.SetPendingInterrupts(len(e.pending))
	e.mu.Unlock()
}

// pendingFor returns the in-memory pending state, reconstructing it from the
// latest checkpoint after a restart: a checkpoint whose next stage is the
// tool stage still has unresolved calls, identified by counting the tool
// results already recorded after the suspending AI message.
func (e *Engine) pendingFor(ctx context.Context, sessionID string) (*pendingState, error) {
	e.mu.Lock()
	ps, ok := e.pending[sessionID]
	e.mu.Unlock()
	if ok {
		return ps, nil
	}

	cp, err := e.store.Latest(ctx, sessionID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cp.NextStage != checkpoint.StageTool {
		return nil, nil
	}

	calls, resolved := unresolvedCalls(cp.Log)
	if calls == nil || resolved >= len(calls) {
		return nil, nil
	}

	intr, err := e.buildInterrupt(sessionID, calls[resolved])
	if err != nil {
		return nil, err
	}
	ps = &pendingState{interrupt: intr, log: cp.Log, calls: calls, next: resolved}
	e.setPending(sessionID, ps)
	e.logger.Info().
		Str("session_id", sessionID).
		Str("tool", intr.ToolName).
		Msg("pending interrupt reconstructed from checkpoint")
	return ps, nil
}

// unresolvedCalls finds the last AI message carrying tool calls and reports
// how many of its calls already have tool results after it.
func unresolvedCalls(log message.Log) ([]message.ToolCall, int) {
	aiIdx := -1
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == message.RoleAI && log[i].HasToolCalls() {
			aiIdx = i
			break
		}
	}
	if aiIdx == -1 {
		return nil, 0
	}
	resolved := 0
	for _, m := range log[aiIdx+1:] {
		if m.Role == message.RoleTool {
			resolved++
		}
	}
	return log[aiIdx].ToolCalls, resolved
}

func stripDirectives(log message.Log) message.Log {
	out := make(message.Log, 0, len(log))
	for _, m := range log {
		if IsDirective(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

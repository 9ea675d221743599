// Package processor turns an ordered model event stream into durable
// message state.
//
// One Processor instance owns one in-flight stream and one
// AssistantMessage at a time. It consumes events strictly in arrival
// order, maintains the open-part maps, applies the doom-loop guard and
// retry policy, and guarantees every tool part is terminal on every exit
// path.
package processor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adolago/agent-core-sub009/internal/backoff"
	"github.com/adolago/agent-core-sub009/internal/guard"
	"github.com/adolago/agent-core-sub009/internal/observability"
	"github.com/adolago/agent-core-sub009/internal/sessions"
	"github.com/adolago/agent-core-sub009/internal/snapshot"
	"github.com/adolago/agent-core-sub009/internal/stream"
	"github.com/adolago/agent-core-sub009/internal/usage"
	"github.com/adolago/agent-core-sub009/pkg/models"
)

// Verdict is the processor's answer to "should the caller re-open a
// fresh stream and resume this message".
type Verdict string

const (
	// VerdictContinue means the caller should start another stream for
	// the same logical message.
	VerdictContinue Verdict = "continue"
	// VerdictStop means the turn is over: the message errored, was
	// blocked by the guard, or finished cleanly with nothing pending.
	VerdictStop Verdict = "stop"
)

// Snapshotter captures opaque workspace snapshot handles and diffs
// between them. Implemented by snapshot.Manager.
type Snapshotter interface {
	Create(ctx context.Context) (string, error)
	Diff(ctx context.Context, from, to string) ([]snapshot.Change, error)
}

// Notifier observes processor status changes. Implementations must not
// block; all methods may be called from the processing goroutine.
type Notifier interface {
	// RetryScheduled fires before the processor sleeps for a retry.
	RetryScheduled(attempt int, delay time.Duration, err error)
	// CallBlocked fires when the doom-loop guard blocks a tool call.
	CallBlocked(tool, callID string)
}

// Options carries the processor's optional collaborators. Zero values
// disable the corresponding behavior.
type Options struct {
	Snapshots  Snapshotter
	Guard      *guard.Guard
	Permission guard.PermissionFunc
	Notifier   Notifier
	Retry      backoff.Strategy
	Pricing    usage.Pricing
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Processor consumes one ordered event stream per Process call, mutating
// the owning AssistantMessage and its parts in place. Callers must not
// mutate the message concurrently with an active Process call.
type Processor struct {
	store      sessions.Store
	snapshots  Snapshotter
	guard      *guard.Guard
	permission guard.PermissionFunc
	notifier   Notifier
	retry      backoff.Strategy
	pricing    usage.Pricing
	logger     *slog.Logger
	metrics    *observability.Metrics

	// attempts is the retry counter per logical message. It spans
	// Process calls: a retried stream re-enters with the counter
	// advanced.
	attempts map[string]int
}

// New creates a processor over the given store.
func New(store sessions.Store, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:      store,
		snapshots:  opts.Snapshots,
		guard:      opts.Guard,
		permission: opts.Permission,
		notifier:   opts.Notifier,
		retry:      opts.Retry,
		pricing:    opts.Pricing,
		logger:     logger,
		metrics:    opts.Metrics,
		attempts:   make(map[string]int),
	}
}

// run is the per-Process mutable state: the open-part maps and the
// snapshot window of the current step. Maps are keyed by ephemeral
// provider ids and evicted on terminal events.
type run struct {
	msg       *models.AssistantMessage
	text      *models.TextPart
	reasoning map[string]*models.ReasoningPart
	tools     map[string]*models.ToolPart
	// settled remembers call ids already driven to a terminal state, so
	// late events for them cannot lazily re-open a part.
	settled  map[string]bool
	snapshot string
	blocked  bool
	logger   *slog.Logger
}

// Process consumes events until the channel closes, an error event
// arrives, or ctx is cancelled. Cancellation is cooperative: it is
// observed once per iteration, so the current event's effects always
// complete before finalization runs. Failures never propagate as Go
// errors; an exhausted retry or non-retryable failure surfaces only as
// msg.Error.
func (p *Processor) Process(ctx context.Context, msg *models.AssistantMessage, events <-chan stream.Event) Verdict {
	started := time.Now()
	tracer := observability.Tracer()
	ctx, span := tracer.Start(ctx, "processor.Process", trace.WithAttributes(
		attribute.String("session.id", msg.SessionID),
		attribute.String("message.id", msg.ID),
	))
	defer span.End()

	r := &run{
		msg:       msg,
		reasoning: make(map[string]*models.ReasoningPart),
		tools:     make(map[string]*models.ToolPart),
		settled:   make(map[string]bool),
		logger:    observability.MessageLogger(p.logger, msg.SessionID, msg.ID),
	}
	if msg.Time.Created == 0 {
		msg.Time.Created = now()
	}

	verdict := p.consume(ctx, r, events)

	if p.metrics != nil {
		p.metrics.ProcessDuration.Observe(time.Since(started).Seconds())
		p.metrics.MessagesStopped.WithLabelValues(string(verdict)).Inc()
	}
	span.SetAttributes(attribute.String("processor.verdict", string(verdict)))
	return verdict
}

// consume runs the event loop and all exit paths.
func (p *Processor) consume(ctx context.Context, r *run, events <-chan stream.Event) Verdict {
	for {
		select {
		case <-ctx.Done():
			return p.abort(r)
		case ev, ok := <-events:
			if !ok {
				return p.finish(ctx, r)
			}
			if p.metrics != nil {
				p.metrics.ObserveEvent(string(ev.Type))
			}
			if ev.Type == stream.EventError {
				return p.fail(ctx, r, ev.Err)
			}
			if err := p.handle(ctx, r, ev); err != nil {
				return p.fail(ctx, r, err)
			}
		}
	}
}

// handle applies one event. Every event variant is handled here; an
// unknown type is a failure, not a silent drop.
func (p *Processor) handle(ctx context.Context, r *run, ev stream.Event) error {
	switch ev.Type {
	case stream.EventStart:
		return p.store.UpdateMessage(ctx, r.msg)

	case stream.EventTextStart:
		_, err := p.openText(ctx, r)
		return err
	case stream.EventTextDelta:
		part, err := p.openText(ctx, r)
		if err != nil {
			return err
		}
		part.Text += ev.Text.Text
		return p.store.UpdatePart(ctx, part, ev.Text.Text)
	case stream.EventTextEnd:
		if r.text == nil {
			return nil
		}
		part := r.text
		r.text = nil
		part.Text = strings.TrimRight(part.Text, " \t\r\n")
		part.Time.End = now()
		p.partClosed()
		return p.store.UpdatePart(ctx, part, "")

	case stream.EventReasoningStart:
		_, err := p.openReasoning(ctx, r, ev.Reasoning.ID)
		return err
	case stream.EventReasoningDelta:
		part, err := p.openReasoning(ctx, r, ev.Reasoning.ID)
		if err != nil {
			return err
		}
		part.Text += ev.Reasoning.Text
		return p.store.UpdatePart(ctx, part, ev.Reasoning.Text)
	case stream.EventReasoningEnd:
		part, open := r.reasoning[ev.Reasoning.ID]
		if !open {
			return nil
		}
		delete(r.reasoning, ev.Reasoning.ID)
		part.Text = strings.TrimRight(part.Text, " \t\r\n")
		part.Time.End = now()
		p.partClosed()
		return p.store.UpdatePart(ctx, part, "")

	case stream.EventToolInputStart:
		if r.settled[ev.Tool.CallID] {
			return nil
		}
		_, err := p.openTool(ctx, r, ev.Tool.CallID, ev.Tool.Name)
		return err
	case stream.EventToolCall:
		return p.toolCall(ctx, r, ev.Tool)
	case stream.EventToolResult:
		return p.toolResult(ctx, r, ev.Tool)
	case stream.EventToolError:
		return p.toolError(ctx, r, ev.Tool)

	case stream.EventStepStart:
		return p.stepStart(ctx, r)
	case stream.EventStepFinish:
		return p.stepFinish(ctx, r, ev.Step)

	case stream.EventFinish:
		return nil

	default:
		return &APIError{StatusCode: 500, Message: "unhandled event type: " + string(ev.Type)}
	}
}

// openText returns the open text part, creating one if no text-start
// preceded the delta.
func (p *Processor) openText(ctx context.Context, r *run) (*models.TextPart, error) {
	if r.text != nil {
		return r.text, nil
	}
	part := &models.TextPart{
		PartBase: r.newBase(),
		Time:     models.TimeSpan{Start: now()},
	}
	r.text = part
	p.partOpened()
	return part, p.store.UpdatePart(ctx, part, "")
}

// openReasoning returns the open reasoning part for a provider stream
// id, creating one on first sight. Multiple reasoning channels may be
// open concurrently.
func (p *Processor) openReasoning(ctx context.Context, r *run, streamID string) (*models.ReasoningPart, error) {
	if part, open := r.reasoning[streamID]; open {
		return part, nil
	}
	part := &models.ReasoningPart{
		PartBase: r.newBase(),
		Time:     models.TimeSpan{Start: now()},
	}
	r.reasoning[streamID] = part
	p.partOpened()
	return part, p.store.UpdatePart(ctx, part, "")
}

// openTool returns the tool part for a call id, creating it pending on
// first sight.
func (p *Processor) openTool(ctx context.Context, r *run, callID, tool string) (*models.ToolPart, error) {
	if part, open := r.tools[callID]; open {
		return part, nil
	}
	part := &models.ToolPart{
		PartBase: r.newBase(),
		CallID:   callID,
		Tool:     tool,
		State:    models.ToolState{Status: models.ToolPending},
	}
	r.tools[callID] = part
	p.partOpened()
	return part, p.store.UpdatePart(ctx, part, "")
}

// toolCall transitions a call to running, unless the doom-loop guard
// blocks it. A blocked call is finalized in error state without ever
// invoking the tool, and forces a stop verdict at end of stream.
func (p *Processor) toolCall(ctx context.Context, r *run, payload *stream.ToolPayload) error {
	if r.settled[payload.CallID] {
		r.logger.Warn("ignoring tool-call for settled call", "call_id", payload.CallID)
		return nil
	}
	part, err := p.openTool(ctx, r, payload.CallID, payload.Name)
	if err != nil {
		return err
	}
	if part.Tool == "" {
		part.Tool = payload.Name
	}

	if p.guard != nil {
		limit := p.guard.Threshold
		if limit <= 0 {
			limit = guard.DefaultThreshold
		}
		// Fetch one extra slot: the call's own pending part was just
		// persisted and must not occupy the history window.
		recent, err := p.store.RecentToolParts(ctx, r.msg.SessionID, part.Tool, limit+1)
		if err != nil {
			return err
		}
		history := make([]*models.ToolPart, 0, len(recent))
		for _, rp := range recent {
			if rp.CallID == part.CallID {
				continue
			}
			history = append(history, rp)
		}
		if len(history) > limit {
			history = history[:limit]
		}
		blocked, err := p.guard.Check(ctx, part.Tool, payload.Input, history, p.permission)
		if err != nil {
			return err
		}
		if blocked {
			r.blocked = true
			part.State.Input = payload.Input
			if err := part.Fail(guard.Diagnostic(part.Tool, limit), now()); err != nil {
				return err
			}
			delete(r.tools, payload.CallID)
			r.settled[payload.CallID] = true
			p.partClosed()
			if p.metrics != nil {
				p.metrics.DoomLoopsTotal.Inc()
			}
			if p.notifier != nil {
				p.notifier.CallBlocked(part.Tool, part.CallID)
			}
			r.logger.Warn("tool call blocked by doom-loop guard",
				"tool", part.Tool, "call_id", part.CallID)
			return p.store.UpdatePart(ctx, part, "")
		}
	}

	if err := part.Run(payload.Input, payload.Title, now()); err != nil {
		r.logger.Warn("ignoring tool-call for settled part", "call_id", payload.CallID, "reason", err)
		return nil
	}
	return p.store.UpdatePart(ctx, part, "")
}

// toolResult settles a call as completed. Results for unknown call ids
// create the part lazily; results for already-terminal parts are ignored
// since transitions are monotonic.
func (p *Processor) toolResult(ctx context.Context, r *run, payload *stream.ToolPayload) error {
	if r.settled[payload.CallID] {
		r.logger.Warn("ignoring tool-result for settled call", "call_id", payload.CallID)
		return nil
	}
	part, err := p.openTool(ctx, r, payload.CallID, payload.Name)
	if err != nil {
		return err
	}
	if len(part.State.Input) == 0 {
		part.State.Input = payload.Input
	}
	if err := part.Complete(payload.Output, payload.Title, payload.Metadata, now()); err != nil {
		r.logger.Warn("ignoring tool-result for settled part", "call_id", payload.CallID, "reason", err)
		return nil
	}
	delete(r.tools, payload.CallID)
	r.settled[payload.CallID] = true
	p.partClosed()
	return p.store.UpdatePart(ctx, part, "")
}

// toolError settles a call in its error terminal state.
func (p *Processor) toolError(ctx context.Context, r *run, payload *stream.ToolPayload) error {
	if r.settled[payload.CallID] {
		r.logger.Warn("ignoring tool-error for settled call", "call_id", payload.CallID)
		return nil
	}
	part, err := p.openTool(ctx, r, payload.CallID, payload.Name)
	if err != nil {
		return err
	}
	if len(part.State.Input) == 0 {
		part.State.Input = payload.Input
	}
	if err := part.Fail(payload.Error, now()); err != nil {
		r.logger.Warn("ignoring tool-error for settled part", "call_id", payload.CallID, "reason", err)
		return nil
	}
	delete(r.tools, payload.CallID)
	r.settled[payload.CallID] = true
	p.partClosed()
	return p.store.UpdatePart(ctx, part, "")
}

// stepStart opens a model step, capturing a workspace snapshot handle
// when a snapshotter is configured.
func (p *Processor) stepStart(ctx context.Context, r *run) error {
	part := &models.StepStartPart{PartBase: r.newBase()}
	if p.snapshots != nil {
		handle, err := p.snapshots.Create(ctx)
		if err != nil {
			r.logger.Warn("snapshot capture failed", "error", err)
		} else {
			part.Snapshot = handle
		}
	}
	r.snapshot = part.Snapshot
	return p.store.UpdatePart(ctx, part, "")
}

// stepFinish closes a model step: usage and cost are computed here and
// nowhere else, never from partial deltas. When both step snapshots
// exist a diff is requested to expose the step as a rollback window.
func (p *Processor) stepFinish(ctx context.Context, r *run, payload *stream.StepPayload) error {
	tokens, cost := usage.Compute(payload.Usage, p.pricing, payload.ProviderMetadata)
	r.msg.Cost += cost
	r.msg.Tokens = tokens
	r.msg.Finish = payload.Reason

	part := &models.StepFinishPart{
		PartBase: r.newBase(),
		Reason:   payload.Reason,
		Cost:     cost,
		Tokens:   tokens,
	}
	if p.snapshots != nil {
		handle, err := p.snapshots.Create(ctx)
		if err != nil {
			r.logger.Warn("snapshot capture failed", "error", err)
		} else {
			part.Snapshot = handle
		}
	}
	if err := p.store.UpdatePart(ctx, part, ""); err != nil {
		return err
	}

	if r.snapshot != "" && part.Snapshot != "" {
		changes, err := p.snapshots.Diff(ctx, r.snapshot, part.Snapshot)
		if err != nil {
			r.logger.Warn("snapshot diff failed", "error", err)
		} else if len(changes) > 0 {
			r.logger.Info("step changed workspace", "files", len(changes))
		}
	}
	r.snapshot = ""

	if p.metrics != nil {
		p.metrics.ObserveStep(r.msg.ProviderID, r.msg.ModelID, tokens, cost)
	}
	r.logger.Debug("step finished",
		"reason", payload.Reason,
		"tokens", tokens.Total(),
		"cost", cost)
	return p.store.UpdateMessage(ctx, r.msg)
}

// finish handles clean stream exhaustion.
func (p *Processor) finish(ctx context.Context, r *run) Verdict {
	p.closeOpenParts(ctx, r)
	r.msg.Time.Completed = now()
	delete(p.attempts, r.msg.ID)
	if err := p.store.UpdateMessage(ctx, r.msg); err != nil {
		r.logger.Error("failed to persist finalized message", "error", err)
	}
	if r.msg.Error != nil || r.blocked {
		return VerdictStop
	}
	return VerdictContinue
}

// abort handles observed cancellation.
func (p *Processor) abort(r *run) Verdict {
	// The parent context is cancelled; finalization writes use a fresh
	// bounded context so the terminal state still lands in the store.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.closeOpenParts(ctx, r)
	r.msg.Error = classify(ErrAborted)
	r.msg.Time.Completed = now()
	delete(p.attempts, r.msg.ID)
	if err := p.store.UpdateMessage(ctx, r.msg); err != nil {
		r.logger.Error("failed to persist aborted message", "error", err)
	}
	r.logger.Info("stream aborted")
	return VerdictStop
}

// fail handles an error event or a collaborator failure: classify,
// then either schedule a retry or finalize with the error recorded.
func (p *Processor) fail(ctx context.Context, r *run, err error) Verdict {
	if classify(err).Name == ErrorAborted {
		return p.abort(r)
	}

	if retryable(err) && p.retry != nil {
		p.attempts[r.msg.ID]++
		attempt := p.attempts[r.msg.ID]
		delay, ok := p.retry.Delay(attempt, err)
		if ok {
			if p.metrics != nil {
				p.metrics.RetriesTotal.Inc()
			}
			if p.notifier != nil {
				p.notifier.RetryScheduled(attempt, delay, err)
			}
			r.logger.Info("retry scheduled",
				"attempt", attempt, "delay", delay, "error", err)
			// Close this stream's dangling parts; the message itself
			// stays open for the next attempt.
			p.closeOpenParts(ctx, r)
			if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
				return p.abort(r)
			}
			return VerdictContinue
		}
	}

	p.closeOpenParts(ctx, r)
	r.msg.Error = classify(err)
	r.msg.Time.Completed = now()
	delete(p.attempts, r.msg.ID)
	if storeErr := p.store.UpdateMessage(ctx, r.msg); storeErr != nil {
		r.logger.Error("failed to persist failed message", "error", storeErr)
	}
	r.logger.Error("stream failed", "error", err, "kind", r.msg.Error.Name)
	return VerdictStop
}

// closeOpenParts finalizes every still-open part: text and reasoning
// buffers are trimmed and ended, tool calls become error("aborted"). No
// already-terminal part is touched.
func (p *Processor) closeOpenParts(ctx context.Context, r *run) {
	end := now()
	if part := r.text; part != nil {
		r.text = nil
		part.Text = strings.TrimRight(part.Text, " \t\r\n")
		part.Time.End = end
		p.partClosed()
		p.persistClosed(ctx, r, part)
	}
	for id, part := range r.reasoning {
		delete(r.reasoning, id)
		part.Text = strings.TrimRight(part.Text, " \t\r\n")
		part.Time.End = end
		p.partClosed()
		p.persistClosed(ctx, r, part)
	}
	for id, part := range r.tools {
		delete(r.tools, id)
		if err := part.Fail(ErrorAborted, end); err != nil {
			continue
		}
		p.partClosed()
		p.persistClosed(ctx, r, part)
	}
}

func (p *Processor) persistClosed(ctx context.Context, r *run, part models.Part) {
	if err := p.store.UpdatePart(ctx, part, ""); err != nil {
		r.logger.Error("failed to persist finalized part",
			"part_id", part.Base().ID, "error", err)
	}
}

func (p *Processor) partOpened() {
	if p.metrics != nil {
		p.metrics.OpenParts.Inc()
	}
}

func (p *Processor) partClosed() {
	if p.metrics != nil {
		p.metrics.OpenParts.Dec()
	}
}

func (r *run) newBase() models.PartBase {
	return models.PartBase{
		ID:        uuid.NewString(),
		MessageID: r.msg.ID,
		SessionID: r.msg.SessionID,
	}
}

func now() int64 {
	return time.Now().UnixMilli()
}

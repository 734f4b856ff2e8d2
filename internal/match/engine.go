package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/workflow"
)

// Resumer continues a waiting task after a matched event.
type Resumer interface {
	Resume(ctx context.Context, taskID, category string, event map[string]any) (workflow.ResumeOutcome, error)
}

// Engine resolves inbound events onto waiting tasks and hands every match to
// the workflow engine for continuation.
type Engine struct {
	lifecycle *tasks.Manager
	resumer   Resumer
	bus       *events.Bus
	now       func() time.Time
}

// NewEngine creates a matching engine.
func NewEngine(lifecycle *tasks.Manager, resumer Resumer, bus *events.Bus) *Engine {
	return &Engine{lifecycle: lifecycle, resumer: resumer, bus: bus, now: time.Now}
}

// TaskOutcome is the per-task result of one event delivery.
type TaskOutcome struct {
	TaskID   string                 `json:"task_id"`
	Strategy string                 `json:"strategy"` // the strategy that decided the match
	Outcome  workflow.ResumeOutcome `json:"outcome"`
	Error    string                 `json:"error,omitempty"`
}

// categoryWaitKinds maps an event category to the wait kinds it can satisfy.
var categoryWaitKinds = map[string]tasks.WaitKind{
	"email_reply":       tasks.WaitEmailReply,
	"calendar_response": tasks.WaitCalendarResponse,
	"webhook_event":     tasks.WaitWebhookEvent,
}

// HandleEvent finds the waiting tasks the event satisfies and resumes each.
// One task's resumption failure never aborts the others; duplicate delivery
// of the same event simply finds no task still waiting and returns zero
// matches.
func (e *Engine) HandleEvent(ctx context.Context, userID, category string, ev *NormalizedEvent) ([]TaskOutcome, error) {
	kind, ok := categoryWaitKinds[category]
	if !ok {
		return nil, &tasks.ValidationError{Field: "category", Value: category}
	}

	candidates, err := e.lifecycle.Waiting(ctx, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("load waiting tasks: %w", err)
	}

	// First pass: the four strong strategies. Every verdict is published,
	// even after one already decided the candidate.
	matched := make(map[string]string, len(candidates)) // task ID -> deciding strategy
	for _, t := range candidates {
		for _, strat := range strategies {
			v := strat(t, ev)
			e.publishVerdict(userID, t.ID, v)
			if v.Matched {
				if _, already := matched[t.ID]; !already {
					matched[t.ID] = v.Strategy
				}
			}
		}
	}

	// Last resort: recency, only when nothing matched anywhere AND the event
	// carries no identifying fields. When the event names a sender or thread
	// that simply did not match, that is evidence against every candidate,
	// not an excuse to guess.
	if len(matched) == 0 && ev.ThreadID == "" && ev.From == "" && ev.ObjectID == "" {
		now := e.now()
		for _, t := range candidates {
			v := matchRecency(t, now)
			e.publishVerdict(userID, t.ID, v)
			if v.Matched {
				matched[t.ID] = v.Strategy
			}
		}
	}

	payload := ev.AsMap()
	payload["category"] = category

	var outcomes []TaskOutcome
	resumed, failed := 0, 0
	for _, t := range candidates {
		strategy, ok := matched[t.ID]
		if !ok {
			continue
		}

		outcome := TaskOutcome{TaskID: t.ID, Strategy: strategy}
		result, err := e.resumer.Resume(ctx, t.ID, category, payload)
		outcome.Outcome = result
		if err != nil {
			outcome.Error = err.Error()
			failed++
			slog.Warn("resume after match failed", "task_id", t.ID, "strategy", strategy, "error", err)
		} else {
			resumed++
		}
		outcomes = append(outcomes, outcome)
	}

	e.publish(events.NewTypedEventWithUser(events.SourceMatcher, events.MatchResolvedPayload{
		Category: category, Matched: len(outcomes), Resumed: resumed, Errors: failed,
	}, userID))

	slog.Info("event processed",
		"user_id", userID, "category", category,
		"candidates", len(candidates), "matches", len(outcomes))
	return outcomes, nil
}

func (e *Engine) publishVerdict(userID, taskID string, v Verdict) {
	e.publish(events.NewTypedEventWithUser(events.SourceMatcher, events.MatchStrategyPayload{
		TaskID: taskID, Strategy: v.Strategy, Matched: v.Matched, Detail: v.Detail,
	}, userID))
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

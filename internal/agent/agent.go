// Package agent turns one inbound chat event into at most one assistant reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/huddle/internal/calendar"
	"github.com/comigor/huddle/internal/config"
	"github.com/comigor/huddle/internal/history"
	"github.com/comigor/huddle/internal/idempotency"
	"github.com/comigor/huddle/internal/llm"
	"github.com/comigor/huddle/internal/logger"
	"github.com/comigor/huddle/internal/memory"
	"github.com/comigor/huddle/internal/recipes"
)

// Client errors. Everything else is recovered inside the pipeline.
var (
	ErrMissingConversation = errors.New("conversationId is required")
	ErrMissingUser         = errors.New("userId is required")
)

// FSM States
type State string

const (
	StateIdle             State = "Idle"
	StateIdempotencyCheck State = "IdempotencyCheck"
	StateCommandDispatch  State = "CommandDispatch"
	StateDinnerIntent     State = "DinnerIntent"
	StateGeneration       State = "Generation"
	StateFallback         State = "Fallback"
	StateReplyPosted      State = "ReplyPosted" // Terminal: a reply was produced
	StateDone             State = "Done"        // Terminal: duplicate, nothing to do
)

// FSM Triggers
type Trigger string

const (
	TriggerReceive    Trigger = "Receive"
	TriggerDuplicate  Trigger = "Duplicate"
	TriggerAccepted   Trigger = "Accepted"
	TriggerPass       Trigger = "Pass"
	TriggerReplyReady Trigger = "ReplyReady"
)

// Status summarizes what Process did.
type Status string

const (
	StatusReplied   Status = "replied"
	StatusDuplicate Status = "duplicate"
	StatusNoReply   Status = "no_reply"
)

// Request is one inbound assistant invocation.
type Request struct {
	RequestID      string           `json:"requestId,omitempty"`
	ConversationID string           `json:"conversationId"`
	UserID         string           `json:"userId"`
	Text           string           `json:"text"`
	AuthToken      string           `json:"authToken,omitempty"`
	Timezone       string           `json:"timezone,omitempty"`
	CalendarEvents []calendar.Range `json:"calendarEvents,omitempty"`
}

// Response reports the outcome of a request. Reply is nil unless Status is StatusReplied.
type Response struct {
	Status Status           `json:"status"`
	Reply  *history.Message `json:"reply,omitempty"`
}

// RecipeFinder looks up dinner ideas; *recipes.Client implements it.
type RecipeFinder interface {
	Lookup(ctx context.Context, q recipes.Query) ([]recipes.Recipe, error)
}

// Deps are the collaborators shared by every request. LLM and Recipes may be
// nil to disable generation and dinner lookups.
type Deps struct {
	LLM      llm.Client
	Messages history.Repository
	Recipes  RecipeFinder
	Guard    *idempotency.Guard
	Cache    *memory.Cache
}

// Agent is the response orchestrator.
type Agent struct {
	llmClient llm.Client
	llmCfg    config.LLMConfig
	cfg       config.AssistantConfig
	messages  history.Repository
	store     *memory.Store
	recipes   RecipeFinder
	guard     *idempotency.Guard
	now       func() time.Time
}

// New creates a new agent.
func New(deps Deps, appCfg config.Config) *Agent {
	cfg := appCfg.Assistant
	if cfg.SenderID == "" {
		cfg.SenderID = "assistant"
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = 10
	}
	if cfg.DecisionWindow <= 0 {
		cfg.DecisionWindow = 50
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	llmCfg := appCfg.LLM
	if llmCfg.Timeout <= 0 {
		llmCfg.Timeout = 8 * time.Second
	}
	return &Agent{
		llmClient: deps.LLM,
		llmCfg:    llmCfg,
		cfg:       cfg,
		messages:  deps.Messages,
		store:     memory.NewStore(deps.Messages, deps.Cache, cfg.SenderID, cfg.MemoryWindow),
		recipes:   deps.Recipes,
		guard:     deps.Guard,
		now:       time.Now,
	}
}

// draft is what a stage hands to ReplyPosted. posted is set when the stage
// already persisted its reply as a bookkeeping message.
type draft struct {
	content  string
	events   []calendar.Event
	priority string
	source   string
	posted   *history.Message
}

// turn is the per-request FSM context.
type turn struct {
	req       Request
	loc       *time.Location
	now       time.Time
	draft     *draft
	reply     *history.Message
	duplicate bool
	device    []calendar.Event

	recent       []history.Message
	recentLoaded bool
}

// stage either produces a draft or passes (nil) to the next one.
type stage func(ctx context.Context, t *turn) *draft

// Process runs req through the pipeline. The only errors returned are
// ErrMissingConversation and ErrMissingUser; any other failure, panics
// included, ends in a successful response without a reply.
func (a *Agent) Process(ctx context.Context, req Request) (resp Response, err error) {
	if req.ConversationID == "" {
		return Response{}, ErrMissingConversation
	}
	if req.UserID == "" {
		return Response{}, ErrMissingUser
	}
	log := logger.FromContext(ctx).With("conversation_id", req.ConversationID, "client_request_id", req.RequestID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing request", "panic", r, "stack", string(debug.Stack()))
			if a.guard != nil {
				a.guard.Forget(req.ConversationID, req.RequestID)
			}
			resp, err = Response{Status: StatusNoReply}, nil
		}
	}()

	t := &turn{req: req, loc: a.location(req.Timezone)}
	t.now = a.now().In(t.loc)
	t.device = calendar.Anchor(req.CalendarEvents, t.loc)

	fsm := a.machine(t)
	if fireErr := fsm.FireCtx(ctx, TriggerReceive); fireErr != nil {
		log.Error("FSM run failed", "error", fireErr)
		return Response{Status: StatusNoReply}, nil
	}

	state, stateErr := fsm.State(ctx)
	if stateErr != nil {
		log.Error("FSM error when retrieving state", "error", stateErr)
		return Response{Status: StatusNoReply}, nil
	}
	switch {
	case state == StateDone && t.duplicate:
		return Response{Status: StatusDuplicate}, nil
	case state == StateReplyPosted && t.reply != nil:
		return Response{Status: StatusReplied, Reply: t.reply}, nil
	default:
		log.Warn("request finished without a reply", "state", fmt.Sprint(state))
		return Response{Status: StatusNoReply}, nil
	}
}

func (a *Agent) machine(t *turn) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerReceive, StateIdempotencyCheck)

	// State: IdempotencyCheck
	// Transitions:
	//   - On Duplicate -> StateDone
	//   - On Accepted -> StateCommandDispatch
	fsm.Configure(StateIdempotencyCheck).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.FromContext(ctx).Debug("FSM: Entering StateIdempotencyCheck")
			if a.guard != nil && a.guard.Seen(t.req.ConversationID, t.req.RequestID) {
				t.duplicate = true
				return fsm.FireCtx(ctx, TriggerDuplicate)
			}
			return fsm.FireCtx(ctx, TriggerAccepted)
		}).
		Permit(TriggerDuplicate, StateDone).
		Permit(TriggerAccepted, StateCommandDispatch)

	// Each producing state either hands a draft to ReplyPosted or passes to the next one.
	chain := []struct {
		state State
		next  State
		run   stage
	}{
		{StateCommandDispatch, StateDinnerIntent, a.dispatchCommand},
		{StateDinnerIntent, StateGeneration, a.dinnerIntent},
		{StateGeneration, StateFallback, a.generate},
	}
	for _, s := range chain {
		fsm.Configure(s.state).
			OnEntry(func(ctx context.Context, _ ...any) error {
				logger.FromContext(ctx).Debug("FSM: Entering " + string(s.state))
				if d := s.run(ctx, t); d != nil {
					t.draft = d
					return fsm.FireCtx(ctx, TriggerReplyReady)
				}
				return fsm.FireCtx(ctx, TriggerPass)
			}).
			Permit(TriggerReplyReady, StateReplyPosted).
			Permit(TriggerPass, s.next)
	}

	// State: Fallback
	// Action: always produces a reply.
	fsm.Configure(StateFallback).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.FromContext(ctx).Debug("FSM: Entering StateFallback")
			t.draft = a.fallback(ctx, t)
			return fsm.FireCtx(ctx, TriggerReplyReady)
		}).
		Permit(TriggerReplyReady, StateReplyPosted)

	// State: ReplyPosted
	// Action: annotate conflicts and persist the reply. Terminal.
	fsm.Configure(StateReplyPosted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.FromContext(ctx).Debug("FSM: Entering StateReplyPosted", "source", t.draft.source)
			a.post(ctx, t)
			return nil
		})

	fsm.Configure(StateDone).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.FromContext(ctx).Info("duplicate request ignored", "client_request_id", t.req.RequestID)
			return nil
		})

	return fsm
}

// post persists the draft. A failed write leaves the turn without a reply and
// forgets the request so a retry is processed again.
func (a *Agent) post(ctx context.Context, t *turn) {
	d := t.draft
	if d.posted != nil {
		t.reply = d.posted
		return
	}

	reply := memory.Reply{
		RequestID: t.req.RequestID,
		Events:    d.events,
		Priority:  d.priority,
		Source:    d.source,
	}
	content := d.content
	if len(d.events) > 0 {
		if conflicts := a.conflicts(ctx, t, d.events); len(conflicts) > 0 {
			reply.Conflicts = conflicts
			content += "\n\n" + calendar.Warning(conflicts)
		}
	}

	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	msg, err := a.store.PostReply(sctx, t.req.ConversationID, content, reply)
	if err != nil {
		logger.FromContext(ctx).Error("failed to post reply", "error", err)
		if a.guard != nil {
			a.guard.Forget(t.req.ConversationID, t.req.RequestID)
		}
		return
	}
	t.reply = &msg
}

// conflicts checks events against earlier assistant plans and the device calendar.
func (a *Agent) conflicts(ctx context.Context, t *turn, events []calendar.Event) []calendar.Conflict {
	var prior []calendar.Prior
	for _, e := range memory.EventsFrom(a.history(ctx, t), a.cfg.SenderID) {
		prior = append(prior, calendar.Prior{Event: e, Source: calendar.SourceAssistant})
	}
	for _, e := range t.device {
		prior = append(prior, calendar.Prior{Event: e, Source: calendar.SourceDevice})
	}
	return calendar.DetectConflicts(events, prior)
}

// history loads the recent window once per turn. A failed load is treated as empty.
func (a *Agent) history(ctx context.Context, t *turn) []history.Message {
	if t.recentLoaded {
		return t.recent
	}
	t.recentLoaded = true

	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	window := a.cfg.MemoryWindow
	if window <= 0 {
		window = 200
	}
	msgs, err := a.messages.Recent(sctx, t.req.ConversationID, window)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to load recent messages", "error", err)
		return nil
	}
	t.recent = msgs
	return msgs
}

func (a *Agent) location(tz string) *time.Location {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return a.cfg.Location()
}

// storeCtx bounds one memory-store call.
func (a *Agent) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.StoreTimeout)
}

// Package convoloop provides a top-level convenience entry point for
// assembling a conversation session with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/convoloop"
//
//	sess, err := convoloop.New(
//	    convoloop.WithOpenAI("sk-...", "gpt-4o-mini"),
//	    convoloop.WithAgents(alice, bob),
//	    convoloop.WithScene("a harbor at dusk", "two old rivals meet again"),
//	    convoloop.WithTerminationCondition("one of them walks away"),
//	)
//	err = sess.Start(ctx)
//
// For full control over every component, wire selector, memory, persona
// and session directly; this facade only covers the common path.
package convoloop

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoloop/llm"
	"github.com/BaSui01/convoloop/llm/providers/openaicompat"
	"github.com/BaSui01/convoloop/memory"
	"github.com/BaSui01/convoloop/persona"
	"github.com/BaSui01/convoloop/selector"
	"github.com/BaSui01/convoloop/session"
	"github.com/BaSui01/convoloop/types"
)

// Version is the library version, overridden at build time for releases.
const Version = "0.1.0"

type options struct {
	provider llm.Provider
	model    string
	logger   *zap.Logger

	title    string
	agents   []types.Agent
	scene    types.Scene
	termCond string
	resume   *types.Snapshot

	sessionCfg session.Config
	sinks      []session.SnapshotSink
}

// Option configures the session created by [New].
type Option func(*options) error

// WithProvider sets a pre-built LLM provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) error {
		o.provider = p
		return nil
	}
}

// WithOpenAI creates an OpenAI provider with the given key and model.
func WithOpenAI(apiKey, model string) Option {
	return func(o *options) error {
		p, err := openaicompat.New(openaicompat.Config{
			ProviderName: "openai",
			APIKey:       apiKey,
			BaseURL:      "https://api.openai.com",
			DefaultModel: model,
		}, o.logger)
		if err != nil {
			return err
		}
		o.provider = p
		o.model = model
		return nil
	}
}

// WithModel overrides the model used for all three roles (selection,
// summarization, persona replies).
func WithModel(model string) Option {
	return func(o *options) error {
		o.model = model
		return nil
	}
}

// WithAgents sets the conversation roster.
func WithAgents(agents ...types.Agent) Option {
	return func(o *options) error {
		o.agents = agents
		return nil
	}
}

// WithScene sets the shared scene.
func WithScene(environment, description string) Option {
	return func(o *options) error {
		o.scene = types.Scene{Environment: environment, SceneDescription: description}
		return nil
	}
}

// WithTitle sets a human-readable title carried on every snapshot.
func WithTitle(title string) Option {
	return func(o *options) error {
		o.title = title
		return nil
	}
}

// WithTerminationCondition sets the condition the selector watches for.
func WithTerminationCondition(cond string) Option {
	return func(o *options) error {
		o.termCond = cond
		return nil
	}
}

// WithSnapshot resumes a previously exported snapshot: roster, scene,
// history, counters and round are all restored from it. Options that set
// the same fields are ignored.
func WithSnapshot(snap *types.Snapshot) Option {
	return func(o *options) error {
		if snap == nil {
			return types.NewError(types.ErrInvalidRequest, "convoloop: nil snapshot")
		}
		o.resume = snap.Clone()
		return nil
	}
}

// WithTurnDelay sets the inter-turn delay range.
func WithTurnDelay(min, max time.Duration) Option {
	return func(o *options) error {
		o.sessionCfg.TurnDelayMin = min
		o.sessionCfg.TurnDelayMax = max
		return nil
	}
}

// WithSnapshotSink registers a snapshot sink (for example a
// persistence.Store).
func WithSnapshotSink(sink session.SnapshotSink) Option {
	return func(o *options) error {
		o.sinks = append(o.sinks, sink)
		return nil
	}
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// New assembles a ready-to-start session with sensible defaults. At
// minimum a provider and a roster of 2 to 4 agents must be configured.
func New(opts ...Option) (*session.Session, error) {
	o := &options{
		model:      "gpt-4o-mini",
		logger:     zap.NewNop(),
		sessionCfg: session.DefaultConfig(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "convoloop: a provider is required")
	}

	sel, err := selector.New(o.provider, selector.Config{Model: o.model, Temperature: 0.2}, o.logger)
	if err != nil {
		return nil, err
	}

	memCfg := memory.DefaultConfig()
	memCfg.Model = o.model
	gov, err := memory.New(o.provider, memCfg, nil, o.logger)
	if err != nil {
		return nil, err
	}

	personaCfg := persona.DefaultConfig()
	personaCfg.Model = o.model
	resp, err := persona.NewResponder(o.provider, personaCfg, o.logger)
	if err != nil {
		return nil, err
	}

	params := session.Params{
		Title:                o.title,
		Agents:               o.agents,
		Scene:                o.scene,
		TerminationCondition: o.termCond,
	}
	if o.resume != nil {
		params = session.Params{
			ID:                   o.resume.SessionID,
			Title:                o.resume.Title,
			Agents:               o.resume.Agents,
			Scene:                o.resume.Scene,
			TerminationCondition: o.resume.TerminationCondition,
			History:              o.resume.History,
			InvocationCounts:     o.resume.InvocationCounts,
			Round:                o.resume.Round,
		}
	}

	return session.New(session.Deps{
		Selector:  sel,
		Governor:  gov,
		Responder: resp,
		Logger:    o.logger,
		Sinks:     o.sinks,
	}, o.sessionCfg, params)
}

// =============================================================================
// 🔄 Convoloop 会话引擎
// =============================================================================
// 一个会话驱动一组角色在共享场景中自主对话:
// 每回合先由裁决器选出发言者或判定终止,再以该角色人格生成发言,
// 历史超限时由记忆治理器压缩。控制命令经由命令通道串行化,
// 只在回合边界生效,回合执行期间绝不打断。
// =============================================================================
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/convoloop/internal/metrics"
	"github.com/BaSui01/convoloop/memory"
	"github.com/BaSui01/convoloop/persona"
	"github.com/BaSui01/convoloop/selector"
	"github.com/BaSui01/convoloop/types"
)

// Config 会话循环配置
type Config struct {
	// TurnDelayMin / TurnDelayMax 回合间随机延迟区间,拟人节奏
	TurnDelayMin time.Duration
	TurnDelayMax time.Duration
	// SelectorRetries 裁决不可解析时的额外重试次数,
	// 耗尽后退化为确定性轮转选人
	SelectorRetries int
	// SelectorRetryDelay 裁决重试之间的短暂停顿
	SelectorRetryDelay time.Duration
	// ConsecutiveFailureThreshold 连续失败达到该值后跳过裁决直接轮转
	ConsecutiveFailureThreshold int
	// ErrorRetryDelay 生成失败后的退避延迟
	ErrorRetryDelay time.Duration
	// IncludeInvocationCounts 是否把发言计数嵌入裁决提示词
	IncludeInvocationCounts bool
}

// DefaultConfig 返回默认会话配置
func DefaultConfig() Config {
	return Config{
		TurnDelayMin:                5 * time.Second,
		TurnDelayMax:                10 * time.Second,
		SelectorRetries:             3,
		SelectorRetryDelay:          time.Second,
		ConsecutiveFailureThreshold: 3,
		ErrorRetryDelay:             30 * time.Second,
		IncludeInvocationCounts:     true,
	}
}

// Params 一次会话的初始状态。History / InvocationCounts / Round
// 非零时表示从快照恢复。
type Params struct {
	ID                   string
	Title                string
	Agents               []types.Agent
	Scene                types.Scene
	TerminationCondition string
	History              []types.Message
	InvocationCounts     map[string]int
	Round                int
}

// Deps 会话的外部依赖
type Deps struct {
	Selector  *selector.Selector
	Governor  *memory.Governor
	Responder *persona.Responder
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	// Sinks 每回合后依次收到最新快照,失败仅记日志
	Sinks []SnapshotSink
}

// SnapshotSink 接收会话快照的持久化端
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap *types.Snapshot) error
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdStop
	cmdInject
	cmdChangeScene
)

type command struct {
	kind  cmdKind
	msg   types.Message
	scene types.Scene
	errc  chan error
}

// Session 一个正在进行的多角色对话
type Session struct {
	id    string
	title string
	cfg   Config
	deps  Deps

	mu                  sync.RWMutex
	state               State
	scene               types.Scene
	agents              []types.Agent
	history             []types.Message
	counts              map[string]int
	round               int
	termCond            string
	consecutiveFailures int
	rrIndex             int

	subsMu  sync.Mutex
	subs    map[int]func(*types.Snapshot)
	nextSub int

	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
	rng       *rand.Rand
}

// New 创建会话。配置或初始状态非法时立即返回错误,绝不延迟到运行期。
func New(deps Deps, cfg Config, params Params) (*Session, error) {
	if deps.Selector == nil || deps.Governor == nil || deps.Responder == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "session: selector, governor and responder are required")
	}
	if len(params.Agents) < 2 || len(params.Agents) > 4 {
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("session: roster needs 2 to 4 agents, got %d", len(params.Agents)))
	}
	seen := make(map[string]struct{}, len(params.Agents))
	for _, a := range params.Agents {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[a.Name]; dup {
			return nil, types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("session: duplicate agent name %q", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	if cfg.SelectorRetries < 0 || cfg.ConsecutiveFailureThreshold <= 0 {
		return nil, types.NewError(types.ErrInvalidConfig, "session: invalid retry configuration")
	}
	if cfg.TurnDelayMin < 0 || cfg.TurnDelayMax < cfg.TurnDelayMin {
		return nil, types.NewError(types.ErrInvalidConfig, "session: invalid turn delay range")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	id := params.ID
	if id == "" {
		id = "conv_" + uuid.New().String()[:8]
	}
	counts := make(map[string]int, len(params.Agents))
	for _, a := range params.Agents {
		counts[a.Name] = 0
	}
	for name, n := range params.InvocationCounts {
		counts[name] = n
	}

	return &Session{
		id:       id,
		title:    params.Title,
		cfg:      cfg,
		deps:     deps,
		state:    StateIdle,
		scene:    params.Scene,
		agents:   append([]types.Agent(nil), params.Agents...),
		history:  append([]types.Message(nil), params.History...),
		counts:   counts,
		round:    params.Round,
		termCond: params.TerminationCondition,
		rrIndex:  -1,
		subs:     make(map[int]func(*types.Snapshot)),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// ID 返回会话标识
func (s *Session) ID() string { return s.id }

// Title 返回会话标题,可为空
func (s *Session) Title() string { return s.title }

// State 返回当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done 在会话终止后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot 导出当前一致性快照
func (s *Session) Snapshot() *types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked 要求持有 s.mu(读锁即可)
func (s *Session) snapshotLocked() *types.Snapshot {
	counts := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return &types.Snapshot{
		SessionID:            s.id,
		Title:                s.title,
		State:                string(s.state),
		Scene:                s.scene,
		Agents:               append([]types.Agent(nil), s.agents...),
		History:              append([]types.Message(nil), s.history...),
		InvocationCounts:     counts,
		Round:                s.round,
		TerminationCondition: s.termCond,
		UpdatedAt:            time.Now(),
	}
}

// Subscribe 注册快照订阅,返回取消函数。回调在会话循环
// goroutine 上同步执行,耗时操作请自行异步化。
func (s *Session) Subscribe(fn func(*types.Snapshot)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// =============================================================================
// 🎮 控制命令
// =============================================================================

// Start 启动会话循环。仅 idle 状态可启动。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		from := s.state
		s.mu.Unlock()
		return transitionError(from, StateRunning)
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.deps.Metrics.SessionStarted()
	s.deps.Logger.Info("session started",
		zap.String("session", s.id),
		zap.Int("agents", len(s.agents)))
	s.publish(ctx)

	go s.run(ctx)
	return nil
}

// Pause 暂停会话,在当前回合结束后生效。
func (s *Session) Pause(ctx context.Context) error {
	if err := s.precheck(StatePaused); err != nil {
		return err
	}
	return s.send(ctx, command{kind: cmdPause})
}

// Resume 从暂停恢复。
func (s *Session) Resume(ctx context.Context) error {
	if err := s.precheck(StateRunning); err != nil {
		return err
	}
	return s.send(ctx, command{kind: cmdResume})
}

// Stop 终止会话。idle 会话直接终止;运行中的会话在回合边界终止。
// 已终止的会话返回 ErrSessionTerminated。
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return transitionError(StateTerminated, StateTerminated)
	case StateIdle:
		s.state = StateTerminated
		s.mu.Unlock()
		s.closeOnce.Do(func() { close(s.done) })
		s.publish(ctx)
		s.deps.Logger.Info("session stopped before start", zap.String("session", s.id))
		return nil
	}
	s.mu.Unlock()
	return s.send(ctx, command{kind: cmdStop})
}

// InjectUserMessage 注入一条用户消息,下一回合对全体可见。
// idle 状态直接写入,运行期在回合边界写入。
func (s *Session) InjectUserMessage(ctx context.Context, content string) error {
	msg := types.NewUserMessage(content)
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return types.NewError(types.ErrSessionTerminated, "session is terminated")
	case StateIdle:
		s.history = append(s.history, msg)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.send(ctx, command{kind: cmdInject, msg: msg})
}

// ChangeScene 切换场景,从下一回合起生效。
func (s *Session) ChangeScene(ctx context.Context, scene types.Scene) error {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return types.NewError(types.ErrSessionTerminated, "session is terminated")
	case StateIdle:
		s.scene = scene
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.send(ctx, command{kind: cmdChangeScene, scene: scene})
}

// precheck 同步拒绝明显非法的转换,不阻塞等待回合边界。
func (s *Session) precheck(to State) error {
	s.mu.RLock()
	from := s.state
	s.mu.RUnlock()
	if from == StateIdle || from == StateTerminated {
		return transitionError(from, to)
	}
	return nil
}

// send 把命令投递到会话循环并等待其在回合边界的处理结果。
func (s *Session) send(ctx context.Context, cmd command) error {
	cmd.errc = make(chan error, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return types.NewError(types.ErrSessionTerminated, "session is terminated")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.errc:
		return err
	case <-s.done:
		// stop 命令的回执可能与 done 并发到达
		select {
		case err := <-cmd.errc:
			return err
		default:
			return types.NewError(types.ErrSessionTerminated, "session is terminated")
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// 🔁 会话循环
// =============================================================================

func (s *Session) run(ctx context.Context) {
	defer func() {
		s.terminate(ctx)
		s.closeOnce.Do(func() { close(s.done) })
	}()

	for {
		if !s.processCommands(ctx) {
			return
		}
		if s.State() != StateRunning {
			return
		}
		if s.executeTurn(ctx) == turnTerminate {
			return
		}
		if !s.waitTurnDelay(ctx) {
			return
		}
	}
}

// processCommands 在回合边界排空待处理命令。暂停状态下阻塞,
// 直到恢复、停止或 ctx 取消。返回 false 表示循环应退出。
func (s *Session) processCommands(ctx context.Context) bool {
	for {
		select {
		case cmd := <-s.cmds:
			if !s.applyCommand(ctx, cmd) {
				return false
			}
		case <-ctx.Done():
			return false
		default:
			if s.State() != StatePaused {
				return true
			}
			select {
			case cmd := <-s.cmds:
				if !s.applyCommand(ctx, cmd) {
					return false
				}
			case <-ctx.Done():
				return false
			}
		}
	}
}

// applyCommand 在循环 goroutine 上应用一条命令。返回 false 表示停止。
func (s *Session) applyCommand(ctx context.Context, cmd command) bool {
	var err error
	stop := false

	s.mu.Lock()
	switch cmd.kind {
	case cmdPause:
		if CanTransition(s.state, StatePaused) {
			s.state = StatePaused
		} else {
			err = transitionError(s.state, StatePaused)
		}
	case cmdResume:
		if CanTransition(s.state, StateRunning) {
			s.state = StateRunning
		} else {
			err = transitionError(s.state, StateRunning)
		}
	case cmdStop:
		stop = true
	case cmdInject:
		s.history = append(s.history, cmd.msg)
	case cmdChangeScene:
		s.scene = cmd.scene
	}
	s.mu.Unlock()

	if cmd.errc != nil {
		cmd.errc <- err
	}
	if err == nil {
		switch cmd.kind {
		case cmdPause:
			s.deps.Logger.Info("session paused", zap.String("session", s.id))
			s.publish(ctx)
		case cmdResume:
			s.deps.Logger.Info("session resumed", zap.String("session", s.id))
			s.publish(ctx)
		case cmdInject:
			s.publish(ctx)
		case cmdChangeScene:
			s.deps.Logger.Info("scene changed", zap.String("session", s.id))
			s.publish(ctx)
		}
	}
	return !stop
}

type turnOutcome int

const (
	turnContinue turnOutcome = iota
	turnTerminate
)

// executeTurn 执行一个完整回合:裁决 → 生成 → 治理 → 快照。
func (s *Session) executeTurn(ctx context.Context) turnOutcome {
	start := time.Now()

	s.mu.Lock()
	s.round++
	round := s.round
	s.mu.Unlock()

	decision := s.decide(ctx)
	if decision.Kind == selector.DecisionTerminate {
		s.deps.Logger.Info("termination condition met",
			zap.String("session", s.id), zap.Int("round", round))
		s.deps.Metrics.RecordTurn(s.id, "terminate", time.Since(start))
		return turnTerminate
	}

	agent, idx, ok := s.agentByName(decision.Agent)
	if !ok {
		s.recordFailure(ctx,
			fmt.Sprintf("turn skipped: selected speaker %q is not a participant", decision.Agent),
			types.NewError(types.ErrUnknownAgent, "unknown agent "+decision.Agent), start)
		return turnContinue
	}

	s.mu.RLock()
	in := persona.PromptInput{
		Agent:                agent,
		Scene:                s.scene,
		Roster:               append([]types.Agent(nil), s.agents...),
		History:              append([]types.Message(nil), s.history...),
		Round:                round,
		TerminationCondition: s.termCond,
	}
	s.mu.RUnlock()

	msg, err := s.deps.Responder.Respond(ctx, in)
	if err != nil {
		s.recordFailure(ctx,
			fmt.Sprintf("turn skipped: %s failed to respond", agent.Name), err, start)
		return turnContinue
	}

	s.mu.Lock()
	s.history = append(s.history, msg)
	s.counts[agent.Name]++
	s.consecutiveFailures = 0
	s.rrIndex = idx
	s.mu.Unlock()

	s.condense(ctx)
	s.publish(ctx)
	s.deps.Metrics.RecordTurn(s.id, "ok", time.Since(start))
	s.deps.Logger.Debug("turn completed",
		zap.String("session", s.id),
		zap.Int("round", round),
		zap.String("speaker", agent.Name))
	return turnContinue
}

// decide 取得本回合的裁决。不可解析最多重试 SelectorRetries 次,
// 耗尽或连续失败过多时退化为确定性轮转。
func (s *Session) decide(ctx context.Context) selector.Decision {
	s.mu.RLock()
	failures := s.consecutiveFailures
	req := selector.Request{
		History:              append([]types.Message(nil), s.history...),
		Scene:                s.scene,
		Agents:               append([]types.Agent(nil), s.agents...),
		TerminationCondition: s.termCond,
	}
	if s.cfg.IncludeInvocationCounts {
		counts := make(map[string]int, len(s.counts))
		for k, v := range s.counts {
			counts[k] = v
		}
		req.InvocationCounts = counts
	}
	s.mu.RUnlock()

	if failures >= s.cfg.ConsecutiveFailureThreshold {
		s.deps.Logger.Warn("too many consecutive failures, using round-robin",
			zap.String("session", s.id), zap.Int("failures", failures))
		return s.roundRobin()
	}

	for attempt := 0; attempt <= s.cfg.SelectorRetries; attempt++ {
		if attempt > 0 && !s.sleep(ctx, s.cfg.SelectorRetryDelay) {
			break
		}
		d, err := s.deps.Selector.Select(ctx, req)
		if err != nil {
			s.deps.Metrics.RecordDecision("error")
			s.deps.Logger.Warn("selector call failed",
				zap.String("session", s.id),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if d.Kind != selector.DecisionUnparseable {
			s.deps.Metrics.RecordDecision(string(d.Kind))
			return d
		}
		s.deps.Metrics.RecordDecision("unparseable")
	}
	return s.roundRobin()
}

// roundRobin 按花名册顺序确定性选出下一发言者。
func (s *Session) roundRobin() selector.Decision {
	s.mu.Lock()
	s.rrIndex = (s.rrIndex + 1) % len(s.agents)
	name := s.agents[s.rrIndex].Name
	s.mu.Unlock()
	s.deps.Metrics.RecordDecision("round_robin")
	return selector.AgentTurn(name)
}

// agentByName 在花名册中查找发言者。
func (s *Session) agentByName(name string) (types.Agent, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, a := range s.agents {
		if a.Name == name {
			return a, i, true
		}
	}
	return types.Agent{}, 0, false
}

// recordFailure 把失败记录为系统消息,对话继续而不中断。
func (s *Session) recordFailure(ctx context.Context, note string, cause error, start time.Time) {
	s.mu.Lock()
	s.consecutiveFailures++
	s.history = append(s.history, types.NewSystemMessage(note))
	failures := s.consecutiveFailures
	s.mu.Unlock()

	s.deps.Logger.Warn("turn failed",
		zap.String("session", s.id),
		zap.Int("consecutive_failures", failures),
		zap.Error(cause))
	s.deps.Metrics.RecordTurn(s.id, "error", time.Since(start))
	s.publish(ctx)

	s.sleep(ctx, s.cfg.ErrorRetryDelay)
}

// sleep 可取消地等待 d,返回 false 表示上下文已结束。
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// condense 在超限时压缩历史。压缩失败退化为截断,不阻断对话。
func (s *Session) condense(ctx context.Context) {
	s.mu.RLock()
	needed := s.deps.Governor.NeedsCondense(s.history)
	history := append([]types.Message(nil), s.history...)
	s.mu.RUnlock()
	if !needed {
		return
	}

	condensed, err := s.deps.Governor.Condense(ctx, history)
	if err != nil {
		s.deps.Metrics.RecordCondensation("fallback")
	} else {
		s.deps.Metrics.RecordCondensation("summarized")
	}

	// 历史只在循环 goroutine 上写,读-改-写是安全的
	s.mu.Lock()
	s.history = condensed
	s.mu.Unlock()
}

// waitTurnDelay 在回合间随机等待,期间仍响应控制命令。
func (s *Session) waitTurnDelay(ctx context.Context) bool {
	d := s.turnDelay()
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case cmd := <-s.cmds:
			if !s.applyCommand(ctx, cmd) {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Session) turnDelay() time.Duration {
	if s.cfg.TurnDelayMax <= s.cfg.TurnDelayMin {
		return s.cfg.TurnDelayMin
	}
	span := s.cfg.TurnDelayMax - s.cfg.TurnDelayMin
	return s.cfg.TurnDelayMin + time.Duration(s.rng.Int63n(int64(span)+1))
}

// terminate 进入吸收态并导出最终快照。幂等。
func (s *Session) terminate(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	s.mu.Unlock()

	s.deps.Metrics.SessionStopped()
	// 终态快照必须落盘,即使调用方的 ctx 已取消
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.publish(flushCtx)
	s.deps.Logger.Info("session terminated", zap.String("session", s.id))
}

// publish 把当前快照推给所有持久化端与订阅者。
func (s *Session) publish(ctx context.Context) {
	snap := s.Snapshot()
	for _, sink := range s.deps.Sinks {
		if err := sink.SaveSnapshot(ctx, snap); err != nil {
			s.deps.Logger.Warn("snapshot sink failed",
				zap.String("session", s.id), zap.Error(err))
		}
	}

	s.subsMu.Lock()
	fns := make([]func(*types.Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn(snap.Clone())
	}
}

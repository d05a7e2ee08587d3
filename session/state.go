package session

import "github.com/BaSui01/convoloop/types"

// State 定义会话生命周期状态
type State string

const (
	StateIdle       State = "idle"       // Created, not yet started
	StateRunning    State = "running"    // Turn loop executing
	StatePaused     State = "paused"     // Suspended, resumable
	StateTerminated State = "terminated" // Final, absorbing
)

// validTransitions 定义合法的状态转换。
// terminated 是吸收态,没有出边。
var validTransitions = map[State][]State{
	StateIdle:    {StateRunning, StateTerminated},
	StateRunning: {StatePaused, StateTerminated},
	StatePaused:  {StateRunning, StateTerminated},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionError 构造非法转换错误
func transitionError(from, to State) *types.Error {
	if from == StateTerminated {
		return types.NewError(types.ErrSessionTerminated,
			"session is terminated and cannot transition to "+string(to))
	}
	return types.NewError(types.ErrInvalidTransition,
		"invalid state transition: "+string(from)+" -> "+string(to))
}

// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和样例数据
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BaSui01/convoloop/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertEventuallyTrue 轮询等待条件满足,超时则测试失败
func AssertEventuallyTrue(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// =============================================================================
// 🏭 样例数据工厂
// =============================================================================

// SampleAgents 返回 n 个预置角色,名字为 Agent1..AgentN
func SampleAgents(n int) []types.Agent {
	agents := make([]types.Agent, 0, n)
	for i := 1; i <= n; i++ {
		agents = append(agents, types.NewAgent(
			fmt.Sprintf("Agent%d", i),
			fmt.Sprintf("role %d", i),
			fmt.Sprintf("You are Agent%d.", i),
			[]string{"curious"},
		))
	}
	return agents
}

// SampleScene 返回一个预置场景
func SampleScene() types.Scene {
	return types.Scene{
		Environment:      "an abandoned lighthouse",
		SceneDescription: "a storm traps the group inside overnight",
	}
}

// SampleHistory 返回 n 条交替发言的历史消息
func SampleHistory(n int) []types.Message {
	msgs := make([]types.Message, 0, n)
	for i := 0; i < n; i++ {
		speaker := fmt.Sprintf("Agent%d", i%2+1)
		msgs = append(msgs, types.NewAgentMessage(speaker, fmt.Sprintf("line %d", i)))
	}
	return msgs
}

// Copyright 2026 Convoloop Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 convoloop 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue，支持超时轮询等待条件满足
  - 数据工厂: SampleAgents / SampleScene / SampleHistory，
    提供预置的会话测试数据

# 子包

  - testutil/mocks: MockProvider（LLM Provider Mock），
    支持脚本化回复、错误注入与调用计数
*/
package testutil

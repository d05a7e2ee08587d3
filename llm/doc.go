// Copyright (c) Convoloop Authors.
// Licensed under the MIT License.

/*
Package llm 定义编排核心依赖的 LLM oracle 契约及其弹性包装。

核心接口是 Provider：一次 "prompt 进、text 出" 的同步补全调用。
selector（选人决策）、persona（角色发言）与 memory（摘要压缩）共用
同一契约，可以由同一个或不同的模型实例支撑。

子包：

  - providers/openaicompat — 任意 OpenAI 兼容端点的 HTTP 客户端
  - retry                  — 指数退避重试器
  - tokenizer              — tiktoken token 估算

ResilientProvider 在 Provider 外层叠加本地限流（golang.org/x/time/rate）
与可重试错误的指数退避，编排层不感知上游抖动。
*/
package llm

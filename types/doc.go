// Copyright (c) Convoloop Authors.
// Licensed under the MIT License.

/*
Package types 提供 convoloop 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 selector、memory、
persona、session、persistence 等上层模块提供统一的类型契约。

# 核心类型

  - Message           — 对话消息（Speaker、Role、Content、Timestamp）
  - Agent             — 角色配置（名称、角色、性格特征、基础提示词）
  - Scene             — 场景上下文（环境 + 场景描述），会话中可替换
  - Error / ErrorCode — 结构化错误体系，含 Retryable 标记
  - TokenCounter      — 最小 Token 计数接口

# 约定

消息一经追加即不可变，追加顺序即发言顺序。Agent 与 Scene 在会话期间由
session 视为只读配置，仅 ChangeScene 操作可整体替换 Scene。
*/
package types

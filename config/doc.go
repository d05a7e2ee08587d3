// Package config 提供 Convoloop 的统一配置加载:
// 默认值 → YAML 文件 → 环境变量,三层覆盖,加载即校验。
package config

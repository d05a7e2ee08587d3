// Package tokenizer 提供给记忆治理与提示词预算使用的 token 估算能力。
package tokenizer

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter 基于 tiktoken 编码的 token 计数器。
// 编码表在首次使用时惰性加载。
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktokenCounter 创建 tiktoken 计数器。encoding 为空时使用 cl100k_base。
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回文本的 token 数。编码表不可用时退化为估算。
func (t *TiktokenCounter) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Estimate 在没有编码表时的粗略估算：
// 英文按 4 字符/token，CJK 按 1 字符/token。
func Estimate(text string) int {
	ascii, cjk := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) {
			cjk++
		} else {
			ascii++
		}
	}
	return ascii/4 + cjk
}

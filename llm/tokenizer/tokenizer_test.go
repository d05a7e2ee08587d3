package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 3, Estimate("hello, world")) // 12 ascii chars
	assert.Equal(t, 4, Estimate("你好世界"))
}

func TestTiktokenCounterNeverPanics(t *testing.T) {
	c := NewTiktokenCounter("")
	// Works whether or not the encoding data is available; falls back
	// to Estimate when it is not.
	n := c.CountTokens("the quick brown fox jumps over the lazy dog")
	assert.Greater(t, n, 0)
}

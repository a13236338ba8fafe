package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedHelpers(t *testing.T) {
	t.Setenv("CHAT_TEST_INT", "42")
	t.Setenv("CHAT_TEST_BAD_INT", "forty")
	t.Setenv("CHAT_TEST_DURATION", "250ms")
	t.Setenv("CHAT_TEST_LIST", "0, 1,,2")
	t.Setenv("CHAT_TEST_BOOL", "true")

	assert.Equal(t, 42, Int("CHAT_TEST_INT", 7))
	assert.Equal(t, 7, Int("CHAT_TEST_BAD_INT", 7))
	assert.Equal(t, 250*time.Millisecond, Duration("CHAT_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, Duration("CHAT_TEST_MISSING", time.Second))
	assert.Equal(t, []string{"0", "1", "2"}, List("CHAT_TEST_LIST"))
	assert.True(t, Bool("CHAT_TEST_BOOL", false))
	assert.Equal(t, "fallback", String("CHAT_TEST_MISSING", "fallback"))
}

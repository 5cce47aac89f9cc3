package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 客户端核心的配置节要能从yaml完整加载，这些值驱动chatcli的构造
func TestInitTestLoadsClientSection(t *testing.T) {
	require.NoError(t, InitTest())

	c := GlobalConfig.Client
	assert.Equal(t, 20, c.PageSize)
	assert.Equal(t, 1200, c.TypingDebounceMs)
	assert.Equal(t, 1200, c.TypingIdleMs)
	assert.Greater(t, c.TypingSafetyMs, 0)
	assert.Greater(t, c.SearchHighlightMs, 0)
	assert.Greater(t, c.ReconnectBaseWaitMs, 0)
}

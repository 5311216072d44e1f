package chatlog

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(l *Logger) *[]string {
	lines := &[]string{}
	l.WithPrintf(func(format string, args ...interface{}) {
		*lines = append(*lines, fmt.Sprintf(format, args...))
	})
	return lines
}

func TestLogger_EventFormatting(t *testing.T) {
	l := New(true, "req-1", "42", "Lovely", "user")
	lines := capture(l)

	l.Event("context_built", map[string]interface{}{"historyCount": 3, "memoryCount": 0})

	require.Len(t, *lines, 1)
	assert.Equal(t,
		"[chat] request=req-1 owner=42 mode=Lovely scope=user level=event stage=context_built historyCount=3 memoryCount=0",
		(*lines)[0])
}

func TestLogger_DisabledStillWarns(t *testing.T) {
	l := New(false, "req-2", "guest_x", "Chill", "guest")
	lines := capture(l)

	l.Event("validation_passed", nil)
	l.Warn("provider_attempt_failed", map[string]interface{}{"provider": "groq"})

	require.Len(t, *lines, 1)
	assert.True(t, strings.Contains((*lines)[0], "level=warn"))
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Event("x", nil)
		l.Warn("x", nil)
		l.Error("x", nil)
		_ = l.Elapsed()
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hello world", Preview("  hello \n world "))
	long := strings.Repeat("a", 100)
	assert.Equal(t, strings.Repeat("a", 80)+"...", Preview(long))
}

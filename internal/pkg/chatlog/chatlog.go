package chatlog

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Logger 单次聊天请求的流程日志，nil 安全
type Logger struct {
	enabled bool
	prefix  string
	started time.Time
	printf  func(format string, args ...interface{})
}

// New 创建请求日志；enabled=false 时只输出 warn / error
func New(enabled bool, requestID, owner, mode, scope string) *Logger {
	return &Logger{
		enabled: enabled,
		prefix:  fmt.Sprintf("[chat] request=%s owner=%s mode=%s scope=%s", requestID, owner, mode, scope),
		started: time.Now(),
		printf:  log.Printf,
	}
}

// WithPrintf 替换输出函数（测试用）
func (l *Logger) WithPrintf(printf func(format string, args ...interface{})) *Logger {
	if l != nil {
		l.printf = printf
	}
	return l
}

func (l *Logger) Event(stage string, fields map[string]interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.write("event", stage, fields)
}

func (l *Logger) Warn(stage string, fields map[string]interface{}) {
	if l == nil {
		return
	}
	l.write("warn", stage, fields)
}

func (l *Logger) Error(stage string, fields map[string]interface{}) {
	if l == nil {
		return
	}
	l.write("error", stage, fields)
}

// Elapsed 请求开始至今的耗时
func (l *Logger) Elapsed() time.Duration {
	if l == nil {
		return 0
	}
	return time.Since(l.started)
}

func (l *Logger) write(level, stage string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	l.printf("%s level=%s stage=%s%s", l.prefix, level, stage, b.String())
}

// Preview 截断文本用于日志
func Preview(text string) string {
	const max = 80
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

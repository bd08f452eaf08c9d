// Package log implements the namespaced debug loggers used across the
// runtime. Debug output is disabled unless the DEBUG environment variable
// selects the prefix ("*" enables everything, a comma separated list
// matches prefixes, a trailing "*" matches as a wildcard).
package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
)

type Log struct {
	prefix  string
	enabled bool
}

var (
	mu  sync.Mutex
	out = os.Stderr
)

func NewLog(prefix string) *Log {
	return &Log{prefix: prefix, enabled: enabled(prefix)}
}

func enabled(prefix string) bool {
	debug := os.Getenv("DEBUG")
	if debug == "" {
		return false
	}
	for _, pattern := range strings.Split(debug, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "*" || pattern == prefix {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(prefix, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}

func (l *Log) Debug(format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	fmt.Fprintf(out, "%s %s %s\n",
		color.Gray.Sprint(time.Now().Format("15:04:05.000")),
		color.Cyan.Sprint(l.prefix),
		fmt.Sprintf(format, args...))
}

func (l *Log) Error(format string, args ...any) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	fmt.Fprintf(out, "%s %s %s\n",
		color.Gray.Sprint(time.Now().Format("15:04:05.000")),
		color.Red.Sprint(l.prefix),
		fmt.Sprintf(format, args...))
}

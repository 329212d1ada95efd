package code

import (
	"fmt"
	"strings"
)

// EngineError non-zero, non-partial exit of the backup engine
// EngineError 备份引擎以失败退出码结束
type EngineError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s failed with exit code %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *EngineError) Kind() Kind {
	return KindEngine
}

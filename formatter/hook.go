package formatter

import (
	"fmt"
	"path"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultModuleName = "yegram"

// ContextHook adds the caller's path relative to the module root to every entry
type ContextHook struct {
	goModuleName string
}

// NewContextHook instantiate a new context hook
func NewContextHook() *ContextHook {
	hook := &ContextHook{}
	hook.goModuleName = hook.moduleName() + "/"
	return hook
}

// Levels set the supported levels for this hook
func (hook ContextHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire extend with the source information the entry.Data
func (hook ContextHook) Fire(entry *logrus.Entry) error {
	if entry.Caller == nil {
		return nil
	}
	entry.Data[sourceKey] = fmt.Sprintf("%s:%v", hook.parseSrc(entry.Caller.File), entry.Caller.Line)
	return nil
}

func (hook ContextHook) moduleName() string {
	info, ok := debug.ReadBuildInfo()
	if ok && info.Main.Path != "" {
		return info.Main.Path
	}

	return defaultModuleName
}

func (hook ContextHook) parseSrc(filePath string) string {
	parts := strings.SplitAfter(filePath, hook.goModuleName)
	if len(parts) > 1 {
		return parts[len(parts)-1]
	}

	// checkout directory named after the project
	parts = strings.SplitAfter(filePath, defaultModuleName+"/")
	if len(parts) > 1 {
		return parts[len(parts)-1]
	}

	_, pkg := path.Split(path.Dir(filePath))
	file := path.Base(filePath)
	return fmt.Sprintf("%s/%s", pkg, file)
}

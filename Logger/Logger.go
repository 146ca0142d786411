package Logger

import (
	"fmt"
	"log"
	"strings"
)

type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
)

var levelNames = []string{"none", "error", "warning", "info", "debug"}

func (level Level) String() string {
	if level < LevelNone || level > LevelDebug {
		return fmt.Sprintf("Level(%d)", int(level))
	}
	return levelNames[level]
}

func ParseLevel(name string) (Level, error) {
	for i, levelName := range levelNames {
		if strings.EqualFold(name, levelName) {
			return Level(i), nil
		}
	}
	if strings.EqualFold(name, "warn") {
		return LevelWarning, nil
	}
	return LevelNone, fmt.Errorf("unknown log level %q", name)
}

// Logger filters messages below its level before handing them to a standard log.Logger
type Logger struct {
	out   *log.Logger
	level Level
}

func New(out *log.Logger, level Level) *Logger {
	return &Logger{out: out, level: level}
}

func (logger *Logger) Level() Level {
	return logger.level
}

func (logger *Logger) Debugf(format string, v ...interface{}) {
	if logger.level >= LevelDebug {
		logger.out.Printf("DEBUG: "+format, v...)
	}
}

func (logger *Logger) Infof(format string, v ...interface{}) {
	if logger.level >= LevelInfo {
		logger.out.Printf(format, v...)
	}
}

func (logger *Logger) Warnf(format string, v ...interface{}) {
	if logger.level >= LevelWarning {
		logger.out.Printf("WARN: "+format, v...)
	}
}

func (logger *Logger) Errorf(format string, v ...interface{}) {
	if logger.level >= LevelError {
		logger.out.Printf("ERROR: "+format, v...)
	}
}

func (logger *Logger) Fatalf(format string, v ...interface{}) {
	logger.out.Fatalf("FATAL: "+format, v...)
}

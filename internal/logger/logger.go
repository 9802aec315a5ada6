package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log      *zap.Logger
	initOnce sync.Once
)

// Init создаёт глобальный логгер. Повторные вызовы ничего не меняют.
// level: debug, info, warn, error. Пустая строка означает info.
func Init(development bool, level string) error {
	var err error
	initOnce.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
		}
		cfg.EncoderConfig.TimeKey = "time"

		lvl, perr := parseLevel(level)
		if perr != nil {
			err = perr
			fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", level, perr)
			return
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)

		log, err = cfg.Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			return
		}
		log.Info("Logger initialized", zap.Bool("development", development), zap.Stringer("level", lvl))
	})
	return err
}

func parseLevel(s string) (zapcore.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}

func L() *zap.Logger {
	if log == nil {
		panic("Logger not initialized")
	}
	return log
}

func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

// BotLogger перенаправляет вывод tgbotapi в zap (tgbotapi.SetLogger).
type BotLogger struct {
	L *zap.Logger
}

func (b BotLogger) Println(v ...interface{}) {
	b.L.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (b BotLogger) Printf(format string, v ...interface{}) {
	b.L.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

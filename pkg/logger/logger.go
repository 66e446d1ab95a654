package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var InfoLogger *zap.Logger

var (
	serviceName = "default"
)

type Config struct {
	Level       string
	Development bool
}

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// New собирает zap-логгер и заодно инициализирует пакетный InfoLogger.
func New(conf Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if conf.Level != "" {
		if err := level.UnmarshalText([]byte(conf.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", conf.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if conf.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = level

	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	InfoLogger = l
	return l, nil
}

// current до New пакетные функции пишут в глобальный zap (по умолчанию nop).
func current() *zap.Logger {
	if InfoLogger == nil {
		return zap.L()
	}
	return InfoLogger
}

func Info(format string, args ...interface{}) {
	current().With(
		zap.String("service", serviceName),
	).Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	current().With(
		zap.String("service", serviceName),
	).Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	current().With(
		zap.String("service", serviceName),
	).Error(fmt.Sprintf(format, args...))
}

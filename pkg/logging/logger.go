// Package logging настраивает zerolog с двумя независимыми стоками:
// человекочитаемая консоль и JSON-файл, каждый со своим уровнем.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Options - параметры инициализации логгера
type Options struct {
	ConsoleLevel string // debug, info, warn, error
	FileLevel    string
	FilePath     string // пустой путь отключает файловый сток
}

// levelWriter пропускает в сток только события не ниже своего уровня
type levelWriter struct {
	io.Writer
	level zerolog.Level
}

func (w levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.level {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// New создаёт логгер с консольным и файловым стоками.
// Возвращает функцию закрытия файла.
func New(opts Options) (zerolog.Logger, func() error, error) {
	consoleLevel, err := zerolog.ParseLevel(opts.ConsoleLevel)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("parse console level %q: %w", opts.ConsoleLevel, err)
	}
	fileLevel, err := zerolog.ParseLevel(opts.FileLevel)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("parse file level %q: %w", opts.FileLevel, err)
	}

	console := levelWriter{
		Writer: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		level:  consoleLevel,
	}

	writers := []io.Writer{console}
	closeFn := func() error { return nil }

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, levelWriter{Writer: f, level: fileLevel})
		closeFn = f.Close
	}

	// Глобальный уровень - минимум из двух, фильтрация по стокам выше
	global := consoleLevel
	if fileLevel < global {
		global = fileLevel
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(global).
		With().Timestamp().Logger()

	return log, closeFn, nil
}

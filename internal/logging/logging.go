// Package logging is the watcher's logging aggregator: one rotating
// backend shared by every subsystem, each with its own named,
// independently-levelled btclog.Logger — the same shape as the
// teacher's daemon/log.go subsystemLoggers map, reconstructed here
// without the teacher's own "build" helper package (its source wasn't
// part of the retrieval pack; see DESIGN.md).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// pipeWriter copies btclog's synchronous Write calls to stderr and,
// once InitRotator has run, to the log rotator, mirroring the
// teacher's build.LogWriter.
type pipeWriter struct {
	pipe *io.PipeWriter
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	os.Stderr.Write(p)
	if w.pipe == nil {
		return len(p), nil
	}
	return w.pipe.Write(p)
}

var (
	writer  = &pipeWriter{}
	backend = btclog.NewBackend(writer)
	rotatorInstance *rotator.Rotator

	subsystemLoggers = map[string]btclog.Logger{}
)

// InitRotator wires a rotating file backend at logFile, rolling at
// maxSizeKB and keeping maxRolls backups. Must be called before any
// subsystem logger is expected to write anywhere but stderr.
func InitRotator(logFile string, maxSizeKB, maxRolls int) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("logging: create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, int64(maxSizeKB*1024), false, maxRolls)
	if err != nil {
		return fmt.Errorf("logging: create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	writer.pipe = pw
	rotatorInstance = r
	return nil
}

// Close flushes and closes the rotator, if one was initialized.
func Close() {
	if rotatorInstance != nil {
		rotatorInstance.Close()
	}
}

// NewSubLogger creates (or returns the existing) named subsystem
// logger and installs it via useLogger — the same "create, register,
// hand to UseLogger" pattern as every internal package's log.go.
func NewSubLogger(subsystem string, useLogger func(btclog.Logger)) btclog.Logger {
	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		logger = backend.Logger(subsystem)
		subsystemLoggers[subsystem] = logger
	}
	useLogger(logger)
	return logger
}

// SetLevel sets the level of a single already-registered subsystem;
// unknown subsystems are ignored.
func SetLevel(subsystem, level string) {
	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		return
	}
	parsed, _ := btclog.LevelFromString(level)
	logger.SetLevel(parsed)
}

// SetAllLevels sets every registered subsystem to the same level.
func SetAllLevels(level string) {
	for subsystem := range subsystemLoggers {
		SetLevel(subsystem, level)
	}
}

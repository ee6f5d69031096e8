package service

import (
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultAdminLogCapacity = 30

	adminFileMaxSizeMB  = 10
	adminFileMaxAgeDays = 7
	adminFileMaxBackups = 3
)

// AdminLog keeps the most recent report lines for the admin group and
// optionally copies every line to a writer.
type AdminLog struct {
	mu       sync.Mutex
	capacity int
	lines    []string
	sink     io.Writer
}

func NewAdminLog(capacity int, sink io.Writer) *AdminLog {
	if capacity <= 0 {
		capacity = DefaultAdminLogCapacity
	}

	return &AdminLog{
		capacity: capacity,
		lines:    make([]string, 0, capacity),
		sink:     sink,
	}
}

// Append adds a line, dropping the oldest ones beyond capacity, and returns
// a copy of the retained lines, oldest first.
func (that *AdminLog) Append(line string) ([]string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if len(that.lines) == that.capacity {
		copy(that.lines, that.lines[1:])
		that.lines = that.lines[:len(that.lines)-1]
	}
	that.lines = append(that.lines, line)

	lines := append([]string(nil), that.lines...)

	if that.sink == nil {
		return lines, nil
	}

	if _, err := fmt.Fprintln(that.sink, line); err != nil {
		return lines, fmt.Errorf("failed to write admin log line: %w", err)
	}

	return lines, nil
}

func (that *AdminLog) Lines() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return append([]string(nil), that.lines...)
}

// NewAdminLogFile opens a size-rotated file for admin report lines.
func NewAdminLogFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    adminFileMaxSizeMB,
		MaxAge:     adminFileMaxAgeDays,
		MaxBackups: adminFileMaxBackups,
		LocalTime:  true,
		Compress:   true,
	}
}

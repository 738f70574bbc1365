package config

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogRing is a fixed-capacity in-memory buffer of recent log records,
// teed off the main logger so the control plane can serve them without
// touching the process's log files.
type LogRing struct {
	mu       sync.Mutex
	records  []string
	capacity int
	next     int
	full     bool

	level zap.AtomicLevel
}

// NewLogRing builds a ring holding up to capacity formatted records.
func NewLogRing(capacity int, level zapcore.Level) *LogRing {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LogRing{
		records:  make([]string, capacity),
		capacity: capacity,
		level:    zap.NewAtomicLevelAt(level),
	}
}

// SetCapacity resizes the ring, dropping buffered records.
func (r *LogRing) SetCapacity(capacity int) {
	if capacity <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make([]string, capacity)
	r.capacity = capacity
	r.next = 0
	r.full = false
}

// SetLevel adjusts the ring's own level filter at runtime.
func (r *LogRing) SetLevel(level zapcore.Level) {
	r.level.SetLevel(level)
}

// Records returns the buffered records, oldest first.
func (r *LogRing) Records() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.next)
		copy(out, r.records[:r.next])
		return out
	}
	out := make([]string, 0, r.capacity)
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}

func (r *LogRing) append(record string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = record
	r.next++
	if r.next == r.capacity {
		r.next = 0
		r.full = true
	}
}

// ringCore adapts the ring into a zapcore.Core suitable for tee-ing.
type ringCore struct {
	ring *LogRing
	enc  zapcore.Encoder
}

func (c *ringCore) Enabled(level zapcore.Level) bool {
	return c.ring.level.Enabled(level)
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	clone := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(clone)
	}
	return &ringCore{ring: c.ring, enc: clone}
}

func (c *ringCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *ringCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	c.ring.append(buf.String())
	buf.Free()
	return nil
}

func (c *ringCore) Sync() error { return nil }

// NewLoggerWithRing builds the configured logger teed into an in-memory
// ring for the control plane's log endpoint.
func NewLoggerWithRing(cfg LoggingConfig, ringCapacity int) (*zap.Logger, *LogRing, error) {
	base, err := NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	ring := NewLogRing(ringCapacity, level)
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	teed := base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, &ringCore{ring: ring, enc: encoder})
	}))
	return teed, ring, nil
}

// Package trafficlog provides sinks for the raw backend transcript.
package trafficlog

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/inercia/dbgctl/internal/debugger"
)

// Line is one recorded exchange.
type Line struct {
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
}

func (l Line) String() string {
	return l.Direction + " " + l.Text
}

// WriterSink writes each exchange as "<dir> <text>" on its own line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteTraffic(dir debugger.Direction, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s %s\n", dir, strings.TrimRight(text, "\n"))
}

// FileSink appends a timestamped transcript to a size-rotated file.
type FileSink struct {
	mu  sync.Mutex
	lj  *lumberjack.Logger
	now func() time.Time
}

// FileOptions configures a FileSink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// NewFileSink opens (lazily) the transcript file described by opts.
func NewFileSink(opts FileOptions) (*FileSink, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("traffic log path is required")
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	return &FileSink{
		lj: &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    maxSize, // megabytes
			MaxBackups: maxBackups,
			Compress:   opts.Compress,
		},
		now: time.Now,
	}, nil
}

func (s *FileSink) WriteTraffic(dir debugger.Direction, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.lj, "%s %s %s\n", s.now().Format(time.RFC3339Nano), dir, strings.TrimRight(text, "\n"))
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lj.Close()
}

// RingSink keeps the most recent lines in memory.
type RingSink struct {
	mu    sync.Mutex
	lines []Line
	next  int
	full  bool
	now   func() time.Time
}

// NewRingSink keeps up to size lines. A size below 1 is treated as 1.
func NewRingSink(size int) *RingSink {
	if size < 1 {
		size = 1
	}
	return &RingSink{lines: make([]Line, size), now: time.Now}
}

func (r *RingSink) WriteTraffic(dir debugger.Direction, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = Line{Time: r.now(), Direction: dir.String(), Text: text}
	r.next++
	if r.next == len(r.lines) {
		r.next = 0
		r.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (r *RingSink) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Line(nil), r.lines[:r.next]...)
	}
	out := make([]Line, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// Reset drops every retained line.
func (r *RingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.lines)
	r.next = 0
	r.full = false
}

// Tee fans one transcript out to several sinks.
type Tee []debugger.TrafficSink

func (t Tee) WriteTraffic(dir debugger.Direction, text string) {
	for _, s := range t {
		if s != nil {
			s.WriteTraffic(dir, text)
		}
	}
}

// Package profiling captures CPU, heap, and execution-trace profiles
// around a command invocation, for offline analysis of index builds and
// retrieval latency with go tool pprof and go tool trace.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options selects which profiles a session captures. Empty paths are
// skipped.
type Options struct {
	// CPUPath receives a pprof CPU profile covering Start to Stop.
	CPUPath string

	// HeapPath receives a heap snapshot taken at Stop, after a GC, so
	// it reflects retained memory rather than transient build garbage.
	HeapPath string

	// TracePath receives a runtime execution trace covering Start to
	// Stop.
	TracePath string
}

// Enabled reports whether any capture is requested.
func (o Options) Enabled() bool {
	return o.CPUPath != "" || o.HeapPath != "" || o.TracePath != ""
}

// Session is one profiling run. Start it before the work under
// measurement and Stop it after; Stop flushes every requested profile.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
	stopped   bool
}

// Start begins the requested captures. With zero Options it returns a
// session whose Stop does nothing. A partial failure stops whatever
// already started.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPUPath != "" {
		f, err := os.Create(opts.CPUPath)
		if err != nil {
			return nil, fmt.Errorf("create CPU profile %s: %w", opts.CPUPath, err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if opts.TracePath != "" {
		f, err := os.Create(opts.TracePath)
		if err != nil {
			s.abort()
			return nil, fmt.Errorf("create trace file %s: %w", opts.TracePath, err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.abort()
			return nil, fmt.Errorf("start trace: %w", err)
		}
		s.traceFile = f
	}

	return s, nil
}

// Stop ends the captures and writes the heap snapshot. Safe to call
// more than once; later calls do nothing.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := s.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close CPU profile: %w", err))
		}
		s.cpuFile = nil
	}
	if s.traceFile != nil {
		trace.Stop()
		if err := s.traceFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace file: %w", err))
		}
		s.traceFile = nil
	}
	if s.opts.HeapPath != "" {
		if err := writeHeap(s.opts.HeapPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// abort unwinds a partially started session during Start.
func (s *Session) abort() {
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuFile.Close()
		s.cpuFile = nil
	}
}

// writeHeap snapshots live heap objects after a forced GC.
func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}

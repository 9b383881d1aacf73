package apmz

import (
	"errors"
	"path/filepath"
	"runtime"

	"github.com/dgraph-io/ristretto"
	pkgerrors "github.com/pkg/errors"
)

// Frame is one resolved call site of a captured stack.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Filename returns the base name of the frame's file.
func (f Frame) Filename() string {
	return filepath.Base(f.File)
}

// frameCache memoizes pc to frame resolution. Hot paths resolve the same
// call sites over and over.
type frameCache struct {
	cache *ristretto.Cache
}

func newFrameCache(maxFrames int64) (*frameCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxFrames * 10,
		MaxCost:     maxFrames,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &frameCache{cache: cache}, nil
}

// resolve turns program counters into frames, limited to limit entries.
// A nil cache resolves every pc directly.
func (c *frameCache) resolve(pcs []uintptr, limit int) []Frame {
	frames := make([]Frame, 0, len(pcs))
	for _, pc := range pcs {
		for _, f := range c.lookup(pc) {
			if limit > 0 && len(frames) >= limit {
				return frames
			}
			frames = append(frames, f)
		}
	}
	return frames
}

func (c *frameCache) lookup(pc uintptr) []Frame {
	if c != nil {
		if v, ok := c.cache.Get(uint64(pc)); ok {
			if frames, ok := v.([]Frame); ok {
				return frames
			}
		}
	}
	frames := resolvePC(pc)
	if c != nil {
		c.cache.Set(uint64(pc), frames, int64(len(frames)))
	}
	return frames
}

func (c *frameCache) close() {
	if c != nil {
		c.cache.Close()
	}
}

// resolvePC expands one return address, including inlined calls.
func resolvePC(pc uintptr) []Frame {
	var frames []Frame
	it := runtime.CallersFrames([]uintptr{pc})
	for {
		f, more := it.Next()
		if f.Function != "" || f.File != "" {
			frames = append(frames, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			return frames
		}
	}
}

// callers records up to limit return addresses above the caller of callers.
// A non-positive limit records nothing.
func callers(skip, limit int) []uintptr {
	if limit <= 0 {
		return nil
	}
	pcs := make([]uintptr, limit)
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// errorStack returns the stack recorded by github.com/pkg/errors when err or
// anything it wraps carries one.
func errorStack(err error) []uintptr {
	var st stackTracer
	if !errors.As(err, &st) {
		return nil
	}
	trace := st.StackTrace()
	pcs := make([]uintptr, len(trace))
	for i, f := range trace {
		pcs[i] = uintptr(f)
	}
	return pcs
}

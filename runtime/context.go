package runtime

import (
	"bytes"
	"context"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	futharkhost "github.com/wippyai/futhark-host"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/resource"
)

// Context lifecycle exports of a compiled Futhark program.
const (
	symConfigNew        = "futhark_context_config_new"
	symConfigFree       = "futhark_context_config_free"
	symContextNew       = "futhark_context_new"
	symContextFree      = "futhark_context_free"
	symSync             = "futhark_context_sync"
	symClearCaches      = "futhark_context_clear_caches"
	symReport           = "futhark_context_report"
	symGetError         = "futhark_context_get_error"
	symPauseProfiling   = "futhark_context_pause_profiling"
	symUnpauseProfiling = "futhark_context_unpause_profiling"
)

// requiredContextSymbols must be exported by every program.
var requiredContextSymbols = []string{symConfigNew, symConfigFree, symContextNew, symContextFree}

// maxCString bounds strings read from module memory.
const maxCString = 1 << 20

// Context is a Futhark context inside a module instance. Every foreign
// operation holds the context exclusively for its duration; callers
// waiting for it honor cancellation of their context.Context, but a call
// that has started runs to completion.
type Context struct {
	foreign futharkhost.Foreign
	sem     *semaphore.Weighted
	handles *resource.Table
	cfg     uint32
	ptr     uint32
	closed  atomic.Bool
}

func newContext(ctx context.Context, foreign futharkhost.Foreign) (*Context, error) {
	cfg, err := newPointer(ctx, foreign, symConfigNew)
	if err != nil {
		return nil, err
	}

	ptr, err := newPointer(ctx, foreign, symContextNew, uint64(cfg))
	if err != nil {
		_, ferr := foreign.Call(ctx, symConfigFree, uint64(cfg))
		return nil, multierr.Append(err, ferr)
	}
	c := &Context{
		foreign: foreign,
		sem:     semaphore.NewWeighted(1),
		handles: resource.NewTable(),
		cfg:     cfg,
		ptr:     ptr,
	}

	// Initialization failures are only visible through the error text.
	if msg := c.errorText(ctx); msg != "" {
		return nil, multierr.Append(errors.New(errors.PhaseContext, errors.KindForeignCall).
			Detail("create context: %s", msg).
			Build(), c.destroy(ctx))
	}

	c.handles.Subscribe(handleMetrics{})
	Logger().Debug("context created", zap.Uint32("ptr", c.ptr))
	return c, nil
}

// newPointer calls a constructor export and returns the pointer it
// yields. A missing result or a null pointer is a foreign call error.
func newPointer(ctx context.Context, foreign futharkhost.Foreign, fn string, params ...uint64) (uint32, error) {
	res, err := foreign.Call(ctx, fn, params...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, errors.New(errors.PhaseContext, errors.KindForeignCall).
			Detail("%s returned no result", fn).
			Build()
	}
	p := uint32(res[0])
	if p == 0 {
		return 0, errors.New(errors.PhaseContext, errors.KindForeignCall).
			Detail("%s returned null", fn).
			Build()
	}
	return p, nil
}

// Ptr returns the foreign context pointer.
func (c *Context) Ptr() uint32 {
	return c.ptr
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	return c.closed.Load()
}

// acquire takes exclusive access to the context.
func (c *Context) acquire(ctx context.Context) error {
	if c.closed.Load() {
		return errors.Closed(errors.PhaseContext, "context")
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return errors.Canceled(errors.PhaseContext, err)
	}
	if c.closed.Load() {
		c.sem.Release(1)
		return errors.Closed(errors.PhaseContext, "context")
	}
	return nil
}

func (c *Context) release() {
	c.sem.Release(1)
}

// call invokes fn and returns its single result, or 0 for void exports.
func (c *Context) call(ctx context.Context, fn string, params ...uint64) (uint64, error) {
	res, err := c.foreign.Call(ctx, fn, params...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// check calls fn and turns a non-zero status into a foreign call error
// carrying the context's error text.
func (c *Context) check(ctx context.Context, fn string, params ...uint64) error {
	status, err := c.call(ctx, fn, params...)
	if err != nil {
		return err
	}
	if s := int32(uint32(status)); s != 0 {
		return errors.ForeignCall(fn, s, c.errorText(ctx), nil)
	}
	return nil
}

// errorText fetches and clears the pending error message, if any.
func (c *Context) errorText(ctx context.Context) string {
	if !c.foreign.HasExport(symGetError) {
		return ""
	}
	p, err := c.call(ctx, symGetError, uint64(c.ptr))
	if err != nil {
		Logger().Warn("read context error", zap.Error(err))
		return ""
	}
	if p == 0 {
		return ""
	}
	msg, err := c.takeString(ctx, uint32(p))
	if err != nil {
		Logger().Warn("read context error", zap.Error(err))
	}
	return msg
}

// takeString reads a NUL-terminated string the module allocated for us
// and frees it.
func (c *Context) takeString(ctx context.Context, p uint32) (string, error) {
	s, err := readCString(c.foreign, p)
	return s, multierr.Append(err, c.foreign.Free(ctx, p))
}

func readCString(mem futharkhost.Memory, p uint32) (string, error) {
	var buf []byte
	chunk := uint32(64)
	for off := uint32(0); off < maxCString; {
		b, err := mem.Read(p+off, chunk)
		if err != nil {
			// The string may end closer to the top of memory than chunk.
			if chunk > 1 {
				chunk = 1
				continue
			}
			return "", err
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			return string(append(buf, b[:i]...)), nil
		}
		buf = append(buf, b...)
		off += chunk
	}
	return "", errors.New(errors.PhaseContext, errors.KindInvalidData).
		Value(p).
		Detail("string at %#x is not terminated within %d bytes", p, maxCString).
		Build()
}

func (c *Context) optional(fn string) error {
	if !c.foreign.HasExport(fn) {
		return errors.Unsupported(errors.PhaseContext, fn+" is not exported")
	}
	return nil
}

// Sync waits for outstanding asynchronous work in the context.
func (c *Context) Sync(ctx context.Context) error {
	if err := c.optional(symSync); err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.check(ctx, symSync, uint64(c.ptr))
}

// ClearCaches releases cached device and host memory held by the context.
func (c *Context) ClearCaches(ctx context.Context) error {
	if err := c.optional(symClearCaches); err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.check(ctx, symClearCaches, uint64(c.ptr))
}

// Report returns the context's profiling and memory report.
func (c *Context) Report(ctx context.Context) (string, error) {
	if err := c.optional(symReport); err != nil {
		return "", err
	}
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	p, err := c.call(ctx, symReport, uint64(c.ptr))
	if err != nil {
		return "", err
	}
	if p == 0 {
		return "", errors.ForeignCall(symReport, 0, c.errorText(ctx), nil)
	}
	return c.takeString(ctx, uint32(p))
}

// LastError returns and clears the context's pending error message.
func (c *Context) LastError(ctx context.Context) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()
	return c.errorText(ctx), nil
}

// PauseProfiling stops collecting profiling data.
func (c *Context) PauseProfiling(ctx context.Context) error {
	return c.void(ctx, symPauseProfiling)
}

// UnpauseProfiling resumes collecting profiling data.
func (c *Context) UnpauseProfiling(ctx context.Context) error {
	return c.void(ctx, symUnpauseProfiling)
}

func (c *Context) void(ctx context.Context, fn string) error {
	if err := c.optional(fn); err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	_, err := c.call(ctx, fn, uint64(c.ptr))
	return err
}

// Live returns the arrays and opaque values created in this context and
// not yet released.
func (c *Context) Live() []resource.Entry {
	var out []resource.Entry
	c.handles.Each(func(_ resource.Handle, e resource.Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Stats returns handle counts for this context.
func (c *Context) Stats() resource.Stats {
	return c.handles.Stats()
}

func (c *Context) track(kind resource.Kind, typ string, ref uint32, value any) resource.Handle {
	h, err := c.handles.Insert(resource.Entry{Type: typ, Ref: ref, Kind: kind, Value: value})
	if err != nil {
		Logger().Warn("track handle", zap.String("type", typ), zap.Error(err))
	}
	return h
}

func (c *Context) untrack(h resource.Handle) {
	c.handles.Remove(h)
}

// Close frees the foreign context. Handles still live are logged as
// leaked but not freed. Closing twice is a no-op.
func (c *Context) Close(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return errors.Canceled(errors.PhaseContext, err)
	}
	defer c.release()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	leaked := c.handles.Close()
	for _, e := range leaked {
		Logger().Warn("foreign handle not released before context close",
			zap.String("type", e.Type),
			zap.Stringer("kind", e.Kind),
			zap.Uint32("ref", e.Ref))
	}

	err := c.destroy(ctx)
	Logger().Debug("context closed",
		zap.Uint32("ptr", c.ptr),
		zap.Int("leaked", len(leaked)),
		zap.Error(err))
	return err
}

func (c *Context) destroy(ctx context.Context) error {
	_, err := c.call(ctx, symContextFree, uint64(c.ptr))
	_, cerr := c.call(ctx, symConfigFree, uint64(c.cfg))
	return multierr.Append(err, cerr)
}

package shell

import (
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/bnema/wlshell"
)

// xdg_wm_base request opcodes
const (
	opXdgWmBaseDestroy          = 0
	opXdgWmBaseCreatePositioner = 1
	opXdgWmBaseGetXdgSurface    = 2
	opXdgWmBasePong             = 3
)

// xdg_wm_base event opcodes
const (
	opXdgWmBasePing = 0
)

// xdg_surface request opcodes
const (
	opXdgSurfaceDestroy           = 0
	opXdgSurfaceGetToplevel       = 1
	opXdgSurfaceGetPopup          = 2
	opXdgSurfaceSetWindowGeometry = 3
	opXdgSurfaceAckConfigure      = 4
)

// xdg_surface event opcodes
const (
	opXdgSurfaceConfigure = 0
)

// xdg_toplevel request opcodes
const (
	opXdgToplevelDestroy         = 0
	opXdgToplevelSetParent       = 1
	opXdgToplevelSetTitle        = 2
	opXdgToplevelSetAppID        = 3
	opXdgToplevelShowWindowMenu  = 4
	opXdgToplevelMove            = 5
	opXdgToplevelResize          = 6
	opXdgToplevelSetMaxSize      = 7
	opXdgToplevelSetMinSize      = 8
	opXdgToplevelSetMaximized    = 9
	opXdgToplevelUnsetMaximized  = 10
	opXdgToplevelSetFullscreen   = 11
	opXdgToplevelUnsetFullscreen = 12
	opXdgToplevelSetMinimized    = 13
)

// xdg_toplevel event opcodes
const (
	opXdgToplevelConfigure = 0
	opXdgToplevelClose     = 1
)

// WmBase represents the xdg_wm_base global. The compositor's liveness pings
// are answered automatically.
type WmBase struct {
	wlshell.BaseProxy
}

// NewWmBase creates a new xdg_wm_base proxy for binding through the registry.
func NewWmBase(ctx *wlshell.Context) *WmBase {
	b := &WmBase{}
	b.SetContext(ctx)
	return b
}

// Dispatch handles xdg_wm_base events
func (b *WmBase) Dispatch(event *wlshell.Event) {
	switch event.Opcode {
	case opXdgWmBasePing:
		serial := event.Uint32()
		if err := b.Pong(serial); err != nil {
			log.Printf("wlshell: xdg_wm_base pong failed: %v", err)
		}
	}
}

// Pong responds to a ping event
func (b *WmBase) Pong(serial uint32) error {
	return b.Context().SendRequest(b, opXdgWmBasePong, serial)
}

// Destroy destroys the xdg_wm_base object
func (b *WmBase) Destroy() error {
	err := b.Context().SendRequest(b, opXdgWmBaseDestroy)
	if err == nil {
		b.Context().Unregister(b)
	}
	return err
}

// GetXdgSurface assigns the xdg_surface role to a wl_surface
func (b *WmBase) GetXdgSurface(surface *wlshell.Surface, listener XdgSurfaceListener) (*XdgSurface, error) {
	ctx := b.Context()
	xs := &XdgSurface{listener: listener}
	xs.SetContext(ctx)
	xs.SetID(ctx.AllocateID())
	ctx.Register(xs)

	if err := ctx.SendRequest(b, opXdgWmBaseGetXdgSurface, xs.ID(), surface); err != nil {
		ctx.Unregister(xs)
		return nil, err
	}
	return xs, nil
}

// XdgSurfaceListener receives xdg_surface events.
type XdgSurfaceListener interface {
	// Configure marks the end of a configure sequence. The serial must be
	// passed back through AckConfigure.
	Configure(serial uint32)
}

// XdgSurface represents an xdg_surface
type XdgSurface struct {
	wlshell.BaseProxy
	listener XdgSurfaceListener
}

// Dispatch handles xdg_surface events
func (s *XdgSurface) Dispatch(event *wlshell.Event) {
	switch event.Opcode {
	case opXdgSurfaceConfigure:
		serial := event.Uint32()
		if s.listener != nil {
			s.listener.Configure(serial)
		}
	}
}

// GetToplevel assigns the toplevel role to this xdg_surface
func (s *XdgSurface) GetToplevel(listener XdgToplevelListener) (*XdgToplevel, error) {
	ctx := s.Context()
	tl := &XdgToplevel{listener: listener}
	tl.SetContext(ctx)
	tl.SetID(ctx.AllocateID())
	ctx.Register(tl)

	if err := ctx.SendRequest(s, opXdgSurfaceGetToplevel, tl.ID()); err != nil {
		ctx.Unregister(tl)
		return nil, err
	}
	return tl, nil
}

// SetWindowGeometry declares the visible bounds of the window
func (s *XdgSurface) SetWindowGeometry(x, y, width, height int32) error {
	return s.Context().SendRequest(s, opXdgSurfaceSetWindowGeometry, x, y, width, height)
}

// AckConfigure acknowledges a configure sequence
func (s *XdgSurface) AckConfigure(serial uint32) error {
	return s.Context().SendRequest(s, opXdgSurfaceAckConfigure, serial)
}

// Destroy destroys the xdg_surface
func (s *XdgSurface) Destroy() error {
	err := s.Context().SendRequest(s, opXdgSurfaceDestroy)
	if err == nil {
		s.Context().Unregister(s)
	}
	return err
}

// XdgToplevelListener receives xdg_toplevel events.
type XdgToplevelListener interface {
	Configure(width, height int32, states []byte)
	Close()
}

// XdgToplevel represents an xdg_toplevel. It is exposed so extension
// protocols layered on the current standard (xdg_decoration for example)
// can address the toplevel directly.
type XdgToplevel struct {
	wlshell.BaseProxy
	listener XdgToplevelListener
}

// Dispatch handles xdg_toplevel events
func (t *XdgToplevel) Dispatch(event *wlshell.Event) {
	switch event.Opcode {
	case opXdgToplevelConfigure:
		width := event.Int32()
		height := event.Int32()
		states := event.Array()
		if t.listener != nil {
			t.listener.Configure(width, height, states)
		}
	case opXdgToplevelClose:
		if t.listener != nil {
			t.listener.Close()
		}
	}
}

// SetTitle sets the surface title
func (t *XdgToplevel) SetTitle(title string) error {
	return t.Context().SendRequest(t, opXdgToplevelSetTitle, title)
}

// SetAppID sets the application identifier
func (t *XdgToplevel) SetAppID(appID string) error {
	return t.Context().SendRequest(t, opXdgToplevelSetAppID, appID)
}

// Move starts an interactive move
func (t *XdgToplevel) Move(seat *wlshell.Seat, serial uint32) error {
	return t.Context().SendRequest(t, opXdgToplevelMove, seat, serial)
}

// Resize starts an interactive resize
func (t *XdgToplevel) Resize(seat *wlshell.Seat, serial uint32, edges uint32) error {
	return t.Context().SendRequest(t, opXdgToplevelResize, seat, serial, edges)
}

// SetMaxSize constrains interactive resizing from above; (0,0) clears
func (t *XdgToplevel) SetMaxSize(width, height int32) error {
	return t.Context().SendRequest(t, opXdgToplevelSetMaxSize, width, height)
}

// SetMinSize constrains interactive resizing from below; (0,0) clears
func (t *XdgToplevel) SetMinSize(width, height int32) error {
	return t.Context().SendRequest(t, opXdgToplevelSetMinSize, width, height)
}

// SetMaximized requests the maximized state
func (t *XdgToplevel) SetMaximized() error {
	return t.Context().SendRequest(t, opXdgToplevelSetMaximized)
}

// UnsetMaximized requests restoration from the maximized state
func (t *XdgToplevel) UnsetMaximized() error {
	return t.Context().SendRequest(t, opXdgToplevelUnsetMaximized)
}

// SetFullscreen requests fullscreen, optionally pinned to an output
func (t *XdgToplevel) SetFullscreen(output *wlshell.Output) error {
	if output == nil {
		return t.Context().SendRequest(t, opXdgToplevelSetFullscreen, nil)
	}
	return t.Context().SendRequest(t, opXdgToplevelSetFullscreen, output)
}

// UnsetFullscreen requests windowed mode
func (t *XdgToplevel) UnsetFullscreen() error {
	return t.Context().SendRequest(t, opXdgToplevelUnsetFullscreen)
}

// SetMinimized requests iconification
func (t *XdgToplevel) SetMinimized() error {
	return t.Context().SendRequest(t, opXdgToplevelSetMinimized)
}

// Destroy destroys the xdg_toplevel
func (t *XdgToplevel) Destroy() error {
	err := t.Context().SendRequest(t, opXdgToplevelDestroy)
	if err == nil {
		t.Context().Unregister(t)
	}
	return err
}

// xdgSurface adapts the current standard protocol to the unified contract.
// It is the reference behavior the two compatibility adapters approximate.
type xdgSurface struct {
	surface  *XdgSurface
	toplevel *XdgToplevel

	cb func(Event)

	mu        sync.Mutex
	destroyed bool
	pending   pendingConfigure
}

func createXdg(base *WmBase, surface *wlshell.Surface, cb func(Event)) (*xdgSurface, error) {
	s := &xdgSurface{cb: cb}

	xs, err := base.GetXdgSurface(surface, (*xdgSurfaceEvents)(s))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create xdg_surface")
	}
	tl, err := xs.GetToplevel((*xdgToplevelEvents)(s))
	if err != nil {
		_ = xs.Destroy()
		return nil, errors.Wrap(err, "unable to create xdg_toplevel")
	}
	s.surface = xs
	s.toplevel = tl

	// Committing the surface with the role assigned makes the compositor
	// send the initial configure batch.
	if err := surface.Commit(); err != nil {
		_ = tl.Destroy()
		_ = xs.Destroy()
		return nil, errors.Wrap(err, "unable to commit surface")
	}
	return s, nil
}

// xdgSurfaceEvents receives xdg_surface events for the adapter.
type xdgSurfaceEvents xdgSurface

func (e *xdgSurfaceEvents) Configure(serial uint32) {
	(*xdgSurface)(e).endConfigureBatch(serial)
}

// xdgToplevelEvents receives xdg_toplevel events for the adapter.
type xdgToplevelEvents xdgSurface

func (e *xdgToplevelEvents) Configure(width, height int32, states []byte) {
	(*xdgSurface)(e).accumulateConfigure(width, height, states)
}

func (e *xdgToplevelEvents) Close() {
	(*xdgSurface)(e).closeRequested()
}

func (s *xdgSurface) accumulateConfigure(width, height int32, states []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.pending.accumulate(width, height, parseStates(states))
}

func (s *xdgSurface) endConfigureBatch(serial uint32) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	ev := s.pending.take()
	s.mu.Unlock()

	// The compositor blocks on the acknowledgment, so send it before
	// handing the batch to the caller.
	if err := s.surface.AckConfigure(serial); err != nil {
		log.Printf("wlshell: ack_configure failed: %v", err)
	}
	if ev != nil {
		s.cb(*ev)
	}
}

func (s *xdgSurface) closeRequested() {
	s.mu.Lock()
	dead := s.destroyed
	s.mu.Unlock()
	if dead {
		return
	}
	s.cb(CloseEvent{})
}

// send runs a fire-and-forget request unless the surface is destroyed.
// Failures only mean the connection is going away; they are logged because
// the contract offers no error channel.
func (s *xdgSurface) send(op string, f func() error) {
	s.mu.Lock()
	dead := s.destroyed
	s.mu.Unlock()
	if dead {
		return
	}
	if err := f(); err != nil {
		log.Printf("wlshell: %s failed: %v", op, err)
	}
}

func (s *xdgSurface) Resize(seat *wlshell.Seat, serial uint32, edges ResizeEdge) {
	s.send("xdg_toplevel.resize", func() error { return s.toplevel.Resize(seat, serial, uint32(edges)) })
}

func (s *xdgSurface) Move(seat *wlshell.Seat, serial uint32) {
	s.send("xdg_toplevel.move", func() error { return s.toplevel.Move(seat, serial) })
}

func (s *xdgSurface) SetTitle(title string) {
	s.send("xdg_toplevel.set_title", func() error { return s.toplevel.SetTitle(title) })
}

func (s *xdgSurface) SetAppID(appID string) {
	s.send("xdg_toplevel.set_app_id", func() error { return s.toplevel.SetAppID(appID) })
}

func (s *xdgSurface) SetFullscreen(output *wlshell.Output) {
	s.send("xdg_toplevel.set_fullscreen", func() error { return s.toplevel.SetFullscreen(output) })
}

func (s *xdgSurface) UnsetFullscreen() {
	s.send("xdg_toplevel.unset_fullscreen", s.toplevel.UnsetFullscreen)
}

func (s *xdgSurface) SetMaximized() {
	s.send("xdg_toplevel.set_maximized", s.toplevel.SetMaximized)
}

func (s *xdgSurface) UnsetMaximized() {
	s.send("xdg_toplevel.unset_maximized", s.toplevel.UnsetMaximized)
}

func (s *xdgSurface) SetMinimized() {
	s.send("xdg_toplevel.set_minimized", s.toplevel.SetMinimized)
}

func (s *xdgSurface) SetGeometry(x, y, width, height int32) {
	s.send("xdg_surface.set_window_geometry", func() error {
		return s.surface.SetWindowGeometry(x, y, width, height)
	})
}

func (s *xdgSurface) SetMinSize(size *Size) {
	w, h := sizeOrZero(size)
	s.send("xdg_toplevel.set_min_size", func() error { return s.toplevel.SetMinSize(w, h) })
}

func (s *xdgSurface) SetMaxSize(size *Size) {
	w, h := sizeOrZero(size)
	s.send("xdg_toplevel.set_max_size", func() error { return s.toplevel.SetMaxSize(w, h) })
}

func (s *xdgSurface) XdgToplevel() *XdgToplevel {
	return s.toplevel
}

func (s *xdgSurface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	// The toplevel role must be destroyed before its parent xdg_surface.
	_ = s.toplevel.Destroy()
	_ = s.surface.Destroy()
}

// sizeOrZero maps a cleared bound to the protocol's (0,0) encoding.
func sizeOrZero(size *Size) (int32, int32) {
	if size == nil {
		return 0, 0
	}
	return size.Width, size.Height
}

package shell

import (
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/bnema/wlshell"
)

// zxdg_shell_v6 is the unstable predecessor of xdg_wm_base. The opcode
// tables and argument shapes match the current standard; only the interface
// namespace differs, so the adapter mirrors the xdg one but never exposes
// its toplevel through the escape hatch.

// zxdg_shell_v6 request opcodes
const (
	opZxdgShellDestroy          = 0
	opZxdgShellCreatePositioner = 1
	opZxdgShellGetXdgSurface    = 2
	opZxdgShellPong             = 3
)

// zxdg_shell_v6 event opcodes
const (
	opZxdgShellPing = 0
)

// zxdg_surface_v6 request opcodes
const (
	opZxdgSurfaceDestroy           = 0
	opZxdgSurfaceGetToplevel       = 1
	opZxdgSurfaceGetPopup          = 2
	opZxdgSurfaceSetWindowGeometry = 3
	opZxdgSurfaceAckConfigure      = 4
)

// zxdg_surface_v6 event opcodes
const (
	opZxdgSurfaceConfigure = 0
)

// zxdg_toplevel_v6 request opcodes
const (
	opZxdgToplevelDestroy         = 0
	opZxdgToplevelSetParent       = 1
	opZxdgToplevelSetTitle        = 2
	opZxdgToplevelSetAppID        = 3
	opZxdgToplevelShowWindowMenu  = 4
	opZxdgToplevelMove            = 5
	opZxdgToplevelResize          = 6
	opZxdgToplevelSetMaxSize      = 7
	opZxdgToplevelSetMinSize      = 8
	opZxdgToplevelSetMaximized    = 9
	opZxdgToplevelUnsetMaximized  = 10
	opZxdgToplevelSetFullscreen   = 11
	opZxdgToplevelUnsetFullscreen = 12
	opZxdgToplevelSetMinimized    = 13
)

// zxdg_toplevel_v6 event opcodes
const (
	opZxdgToplevelConfigure = 0
	opZxdgToplevelClose     = 1
)

// ZxdgShell represents the zxdg_shell_v6 global. Pings are answered
// automatically.
type ZxdgShell struct {
	wlshell.BaseProxy
}

// NewZxdgShell creates a new zxdg_shell_v6 proxy for binding through the registry.
func NewZxdgShell(ctx *wlshell.Context) *ZxdgShell {
	s := &ZxdgShell{}
	s.SetContext(ctx)
	return s
}

// Dispatch handles zxdg_shell_v6 events
func (s *ZxdgShell) Dispatch(event *wlshell.Event) {
	switch event.Opcode {
	case opZxdgShellPing:
		serial := event.Uint32()
		if err := s.Pong(serial); err != nil {
			log.Printf("wlshell: zxdg_shell_v6 pong failed: %v", err)
		}
	}
}

// Pong responds to a ping event
func (s *ZxdgShell) Pong(serial uint32) error {
	return s.Context().SendRequest(s, opZxdgShellPong, serial)
}

// Destroy destroys the zxdg_shell_v6 object
func (s *ZxdgShell) Destroy() error {
	err := s.Context().SendRequest(s, opZxdgShellDestroy)
	if err == nil {
		s.Context().Unregister(s)
	}
	return err
}

// GetXdgSurface assigns the zxdg_surface_v6 role to a wl_surface
func (s *ZxdgShell) GetXdgSurface(surface *wlshell.Surface, listener ZxdgSurfaceListener) (*ZxdgSurface, error) {
	ctx := s.Context()
	zs := &ZxdgSurface{listener: listener}
	zs.SetContext(ctx)
	zs.SetID(ctx.AllocateID())
	ctx.Register(zs)

	if err := ctx.SendRequest(s, opZxdgShellGetXdgSurface, zs.ID(), surface); err != nil {
		ctx.Unregister(zs)
		return nil, err
	}
	return zs, nil
}

// ZxdgSurfaceListener receives zxdg_surface_v6 events.
type ZxdgSurfaceListener interface {
	Configure(serial uint32)
}

// ZxdgSurface represents a zxdg_surface_v6
type ZxdgSurface struct {
	wlshell.BaseProxy
	listener ZxdgSurfaceListener
}

// Dispatch handles zxdg_surface_v6 events
func (s *ZxdgSurface) Dispatch(event *wlshell.Event) {
	switch event.Opcode {
	case opZxdgSurfaceConfigure:
		serial := event.Uint32()
		if s.listener != nil {
			s.listener.Configure(serial)
		}
	}
}

// GetToplevel assigns the toplevel role to this zxdg_surface_v6
func (s *ZxdgSurface) GetToplevel(listener ZxdgToplevelListener) (*ZxdgToplevel, error) {
	ctx := s.Context()
	tl := &ZxdgToplevel{listener: listener}
	tl.SetContext(ctx)
	tl.SetID(ctx.AllocateID())
	ctx.Register(tl)

	if err := ctx.SendRequest(s, opZxdgSurfaceGetToplevel, tl.ID()); err != nil {
		ctx.Unregister(tl)
		return nil, err
	}
	return tl, nil
}

// SetWindowGeometry declares the visible bounds of the window
func (s *ZxdgSurface) SetWindowGeometry(x, y, width, height int32) error {
	return s.Context().SendRequest(s, opZxdgSurfaceSetWindowGeometry, x, y, width, height)
}

// AckConfigure acknowledges a configure sequence
func (s *ZxdgSurface) AckConfigure(serial uint32) error {
	return s.Context().SendRequest(s, opZxdgSurfaceAckConfigure, serial)
}

// Destroy destroys the zxdg_surface_v6
func (s *ZxdgSurface) Destroy() error {
	err := s.Context().SendRequest(s, opZxdgSurfaceDestroy)
	if err == nil {
		s.Context().Unregister(s)
	}
	return err
}

// ZxdgToplevelListener receives zxdg_toplevel_v6 events.
type ZxdgToplevelListener interface {
	Configure(width, height int32, states []byte)
	Close()
}

// ZxdgToplevel represents a zxdg_toplevel_v6
type ZxdgToplevel struct {
	wlshell.BaseProxy
	listener ZxdgToplevelListener
}

// Dispatch handles zxdg_toplevel_v6 events
func (t *ZxdgToplevel) Dispatch(event *wlshell.Event) {
	switch event.Opcode {
	case opZxdgToplevelConfigure:
		width := event.Int32()
		height := event.Int32()
		states := event.Array()
		if t.listener != nil {
			t.listener.Configure(width, height, states)
		}
	case opZxdgToplevelClose:
		if t.listener != nil {
			t.listener.Close()
		}
	}
}

// SetTitle sets the surface title
func (t *ZxdgToplevel) SetTitle(title string) error {
	return t.Context().SendRequest(t, opZxdgToplevelSetTitle, title)
}

// SetAppID sets the application identifier
func (t *ZxdgToplevel) SetAppID(appID string) error {
	return t.Context().SendRequest(t, opZxdgToplevelSetAppID, appID)
}

// Move starts an interactive move
func (t *ZxdgToplevel) Move(seat *wlshell.Seat, serial uint32) error {
	return t.Context().SendRequest(t, opZxdgToplevelMove, seat, serial)
}

// Resize starts an interactive resize
func (t *ZxdgToplevel) Resize(seat *wlshell.Seat, serial uint32, edges uint32) error {
	return t.Context().SendRequest(t, opZxdgToplevelResize, seat, serial, edges)
}

// SetMaxSize constrains interactive resizing from above; (0,0) clears
func (t *ZxdgToplevel) SetMaxSize(width, height int32) error {
	return t.Context().SendRequest(t, opZxdgToplevelSetMaxSize, width, height)
}

// SetMinSize constrains interactive resizing from below; (0,0) clears
func (t *ZxdgToplevel) SetMinSize(width, height int32) error {
	return t.Context().SendRequest(t, opZxdgToplevelSetMinSize, width, height)
}

// SetMaximized requests the maximized state
func (t *ZxdgToplevel) SetMaximized() error {
	return t.Context().SendRequest(t, opZxdgToplevelSetMaximized)
}

// UnsetMaximized requests restoration from the maximized state
func (t *ZxdgToplevel) UnsetMaximized() error {
	return t.Context().SendRequest(t, opZxdgToplevelUnsetMaximized)
}

// SetFullscreen requests fullscreen, optionally pinned to an output
func (t *ZxdgToplevel) SetFullscreen(output *wlshell.Output) error {
	if output == nil {
		return t.Context().SendRequest(t, opZxdgToplevelSetFullscreen, nil)
	}
	return t.Context().SendRequest(t, opZxdgToplevelSetFullscreen, output)
}

// UnsetFullscreen requests windowed mode
func (t *ZxdgToplevel) UnsetFullscreen() error {
	return t.Context().SendRequest(t, opZxdgToplevelUnsetFullscreen)
}

// SetMinimized requests iconification
func (t *ZxdgToplevel) SetMinimized() error {
	return t.Context().SendRequest(t, opZxdgToplevelSetMinimized)
}

// Destroy destroys the zxdg_toplevel_v6
func (t *ZxdgToplevel) Destroy() error {
	err := t.Context().SendRequest(t, opZxdgToplevelDestroy)
	if err == nil {
		t.Context().Unregister(t)
	}
	return err
}

// zxdgSurface adapts zxdg_shell_v6 to the unified contract.
type zxdgSurface struct {
	surface  *ZxdgSurface
	toplevel *ZxdgToplevel

	cb func(Event)

	mu        sync.Mutex
	destroyed bool
	pending   pendingConfigure
}

func createZxdg(shell *ZxdgShell, surface *wlshell.Surface, cb func(Event)) (*zxdgSurface, error) {
	s := &zxdgSurface{cb: cb}

	zs, err := shell.GetXdgSurface(surface, (*zxdgSurfaceEvents)(s))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create zxdg_surface_v6")
	}
	tl, err := zs.GetToplevel((*zxdgToplevelEvents)(s))
	if err != nil {
		_ = zs.Destroy()
		return nil, errors.Wrap(err, "unable to create zxdg_toplevel_v6")
	}
	s.surface = zs
	s.toplevel = tl

	if err := surface.Commit(); err != nil {
		_ = tl.Destroy()
		_ = zs.Destroy()
		return nil, errors.Wrap(err, "unable to commit surface")
	}
	return s, nil
}

type zxdgSurfaceEvents zxdgSurface

func (e *zxdgSurfaceEvents) Configure(serial uint32) {
	(*zxdgSurface)(e).endConfigureBatch(serial)
}

type zxdgToplevelEvents zxdgSurface

func (e *zxdgToplevelEvents) Configure(width, height int32, states []byte) {
	(*zxdgSurface)(e).accumulateConfigure(width, height, states)
}

func (e *zxdgToplevelEvents) Close() {
	(*zxdgSurface)(e).closeRequested()
}

func (s *zxdgSurface) accumulateConfigure(width, height int32, states []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.pending.accumulate(width, height, parseStates(states))
}

func (s *zxdgSurface) endConfigureBatch(serial uint32) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	ev := s.pending.take()
	s.mu.Unlock()

	if err := s.surface.AckConfigure(serial); err != nil {
		log.Printf("wlshell: ack_configure failed: %v", err)
	}
	if ev != nil {
		s.cb(*ev)
	}
}

func (s *zxdgSurface) closeRequested() {
	s.mu.Lock()
	dead := s.destroyed
	s.mu.Unlock()
	if dead {
		return
	}
	s.cb(CloseEvent{})
}

func (s *zxdgSurface) send(op string, f func() error) {
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

func (s *zxdgSurface) Resize(seat *wlshell.Seat, serial uint32, edges ResizeEdge) {
	s.send("zxdg_toplevel_v6.resize", func() error { return s.toplevel.Resize(seat, serial, uint32(edges)) })
}

func (s *zxdgSurface) Move(seat *wlshell.Seat, serial uint32) {
	s.send("zxdg_toplevel_v6.move", func() error { return s.toplevel.Move(seat, serial) })
}

func (s *zxdgSurface) SetTitle(title string) {
	s.send("zxdg_toplevel_v6.set_title", func() error { return s.toplevel.SetTitle(title) })
}

func (s *zxdgSurface) SetAppID(appID string) {
	s.send("zxdg_toplevel_v6.set_app_id", func() error { return s.toplevel.SetAppID(appID) })
}

func (s *zxdgSurface) SetFullscreen(output *wlshell.Output) {
	s.send("zxdg_toplevel_v6.set_fullscreen", func() error { return s.toplevel.SetFullscreen(output) })
}

func (s *zxdgSurface) UnsetFullscreen() {
	s.send("zxdg_toplevel_v6.unset_fullscreen", s.toplevel.UnsetFullscreen)
}

func (s *zxdgSurface) SetMaximized() {
	s.send("zxdg_toplevel_v6.set_maximized", s.toplevel.SetMaximized)
}

func (s *zxdgSurface) UnsetMaximized() {
	s.send("zxdg_toplevel_v6.unset_maximized", s.toplevel.UnsetMaximized)
}

func (s *zxdgSurface) SetMinimized() {
	s.send("zxdg_toplevel_v6.set_minimized", s.toplevel.SetMinimized)
}

func (s *zxdgSurface) SetGeometry(x, y, width, height int32) {
	s.send("zxdg_surface_v6.set_window_geometry", func() error {
		return s.surface.SetWindowGeometry(x, y, width, height)
	})
}

func (s *zxdgSurface) SetMinSize(size *Size) {
	w, h := sizeOrZero(size)
	s.send("zxdg_toplevel_v6.set_min_size", func() error { return s.toplevel.SetMinSize(w, h) })
}

func (s *zxdgSurface) SetMaxSize(size *Size) {
	w, h := sizeOrZero(size)
	s.send("zxdg_toplevel_v6.set_max_size", func() error { return s.toplevel.SetMaxSize(w, h) })
}

// XdgToplevel always returns nil: the escape hatch only exists for the
// current standard protocol.
func (s *zxdgSurface) XdgToplevel() *XdgToplevel {
	return nil
}

func (s *zxdgSurface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	_ = s.toplevel.Destroy()
	_ = s.surface.Destroy()
}

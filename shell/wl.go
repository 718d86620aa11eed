package shell

import (
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/bnema/wlshell"
)

// wl_shell is the original shell surface protocol. It has no configure
// acknowledgment, no state vocabulary, no geometry and no size bounds, so
// the adapter degrades the richer contract operations to no-ops.

// wl_shell request opcodes
const (
	opWlShellGetShellSurface = 0
)

// wl_shell_surface request opcodes
const (
	opWlShellSurfacePong          = 0
	opWlShellSurfaceMove          = 1
	opWlShellSurfaceResize        = 2
	opWlShellSurfaceSetToplevel   = 3
	opWlShellSurfaceSetTransient  = 4
	opWlShellSurfaceSetFullscreen = 5
	opWlShellSurfaceSetPopup      = 6
	opWlShellSurfaceSetMaximized  = 7
	opWlShellSurfaceSetTitle      = 8
	opWlShellSurfaceSetClass      = 9
)

// wl_shell_surface event opcodes
const (
	opWlShellSurfacePing      = 0
	opWlShellSurfaceConfigure = 1
	opWlShellSurfacePopupDone = 2
)

// wl_shell_surface fullscreen methods
const (
	fullscreenMethodDefault = 0
)

// WlShell represents the wl_shell global
type WlShell struct {
	wlshell.BaseProxy
}

// NewWlShell creates a new wl_shell proxy for binding through the registry.
func NewWlShell(ctx *wlshell.Context) *WlShell {
	s := &WlShell{}
	s.SetContext(ctx)
	return s
}

// GetShellSurface assigns the shell surface role to a wl_surface
func (s *WlShell) GetShellSurface(surface *wlshell.Surface, listener WlShellSurfaceListener) (*WlShellSurface, error) {
	ctx := s.Context()
	ss := &WlShellSurface{listener: listener}
	ss.SetContext(ctx)
	ss.SetID(ctx.AllocateID())
	ctx.Register(ss)

	if err := ctx.SendRequest(s, opWlShellGetShellSurface, ss.ID(), surface); err != nil {
		ctx.Unregister(ss)
		return nil, err
	}
	return ss, nil
}

// WlShellSurfaceListener receives wl_shell_surface events. Liveness pings
// are answered by the proxy itself.
type WlShellSurfaceListener interface {
	Configure(edges uint32, width, height int32)
	PopupDone()
}

// WlShellSurface represents a wl_shell_surface
type WlShellSurface struct {
	wlshell.BaseProxy
	listener WlShellSurfaceListener
}

// Dispatch handles wl_shell_surface events
func (s *WlShellSurface) Dispatch(event *wlshell.Event) {
	switch event.Opcode {
	case opWlShellSurfacePing:
		serial := event.Uint32()
		if err := s.Pong(serial); err != nil {
			log.Printf("wlshell: wl_shell_surface pong failed: %v", err)
		}
	case opWlShellSurfaceConfigure:
		edges := event.Uint32()
		width := event.Int32()
		height := event.Int32()
		if s.listener != nil {
			s.listener.Configure(edges, width, height)
		}
	case opWlShellSurfacePopupDone:
		if s.listener != nil {
			s.listener.PopupDone()
		}
	}
}

// Pong responds to a ping event
func (s *WlShellSurface) Pong(serial uint32) error {
	return s.Context().SendRequest(s, opWlShellSurfacePong, serial)
}

// Move starts an interactive move
func (s *WlShellSurface) Move(seat *wlshell.Seat, serial uint32) error {
	return s.Context().SendRequest(s, opWlShellSurfaceMove, seat, serial)
}

// Resize starts an interactive resize
func (s *WlShellSurface) Resize(seat *wlshell.Seat, serial uint32, edges uint32) error {
	return s.Context().SendRequest(s, opWlShellSurfaceResize, seat, serial, edges)
}

// SetToplevel assigns the toplevel role
func (s *WlShellSurface) SetToplevel() error {
	return s.Context().SendRequest(s, opWlShellSurfaceSetToplevel)
}

// SetFullscreen requests fullscreen with the given method and framerate,
// optionally pinned to an output
func (s *WlShellSurface) SetFullscreen(method uint32, framerate uint32, output *wlshell.Output) error {
	if output == nil {
		return s.Context().SendRequest(s, opWlShellSurfaceSetFullscreen, method, framerate, nil)
	}
	return s.Context().SendRequest(s, opWlShellSurfaceSetFullscreen, method, framerate, output)
}

// SetMaximized requests the maximized state, optionally on an output
func (s *WlShellSurface) SetMaximized(output *wlshell.Output) error {
	if output == nil {
		return s.Context().SendRequest(s, opWlShellSurfaceSetMaximized, nil)
	}
	return s.Context().SendRequest(s, opWlShellSurfaceSetMaximized, output)
}

// SetTitle sets the surface title
func (s *WlShellSurface) SetTitle(title string) error {
	return s.Context().SendRequest(s, opWlShellSurfaceSetTitle, title)
}

// SetClass sets the surface class
func (s *WlShellSurface) SetClass(class string) error {
	return s.Context().SendRequest(s, opWlShellSurfaceSetClass, class)
}

// Release drops the proxy. wl_shell_surface has no destructor request; the
// object dies with its wl_surface.
func (s *WlShellSurface) Release() {
	s.Context().Unregister(s)
}

// wlSurface adapts wl_shell to the unified contract.
type wlSurface struct {
	shellSurface *WlShellSurface

	cb func(Event)

	mu        sync.Mutex
	destroyed bool
}

func createWl(shell *WlShell, surface *wlshell.Surface, cb func(Event)) (*wlSurface, error) {
	s := &wlSurface{cb: cb}

	ss, err := shell.GetShellSurface(surface, (*wlShellSurfaceEvents)(s))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create wl_shell_surface")
	}
	s.shellSurface = ss

	if err := ss.SetToplevel(); err != nil {
		ss.Release()
		return nil, errors.Wrap(err, "unable to set toplevel role")
	}
	return s, nil
}

type wlShellSurfaceEvents wlSurface

// Configure translates a native configure notification. wl_shell has no
// batch acknowledgment, so each notification is a complete batch of one,
// and no state vocabulary, so the state set is always empty.
func (e *wlShellSurfaceEvents) Configure(edges uint32, width, height int32) {
	s := (*wlSurface)(e)
	s.mu.Lock()
	dead := s.destroyed
	s.mu.Unlock()
	if dead {
		return
	}
	var size *Size
	if width > 0 && height > 0 {
		size = &Size{Width: width, Height: height}
	}
	s.cb(ConfigureEvent{NewSize: size})
}

// PopupDone never concerns a toplevel role.
func (e *wlShellSurfaceEvents) PopupDone() {
}

func (s *wlSurface) send(op string, f func() error) {
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

func (s *wlSurface) Resize(seat *wlshell.Seat, serial uint32, edges ResizeEdge) {
	s.send("wl_shell_surface.resize", func() error { return s.shellSurface.Resize(seat, serial, uint32(edges)) })
}

func (s *wlSurface) Move(seat *wlshell.Seat, serial uint32) {
	s.send("wl_shell_surface.move", func() error { return s.shellSurface.Move(seat, serial) })
}

func (s *wlSurface) SetTitle(title string) {
	s.send("wl_shell_surface.set_title", func() error { return s.shellSurface.SetTitle(title) })
}

// SetAppID is a no-op: wl_shell has no application identifier concept.
func (s *wlSurface) SetAppID(appID string) {
}

func (s *wlSurface) SetFullscreen(output *wlshell.Output) {
	s.send("wl_shell_surface.set_fullscreen", func() error {
		return s.shellSurface.SetFullscreen(fullscreenMethodDefault, 0, output)
	})
}

// UnsetFullscreen returns to the plain toplevel role, the closest wl_shell
// equivalent of windowed mode.
func (s *wlSurface) UnsetFullscreen() {
	s.send("wl_shell_surface.set_toplevel", s.shellSurface.SetToplevel)
}

func (s *wlSurface) SetMaximized() {
	s.send("wl_shell_surface.set_maximized", func() error { return s.shellSurface.SetMaximized(nil) })
}

// UnsetMaximized returns to the plain toplevel role.
func (s *wlSurface) UnsetMaximized() {
	s.send("wl_shell_surface.set_toplevel", s.shellSurface.SetToplevel)
}

// SetMinimized is a no-op: wl_shell has no iconify request.
func (s *wlSurface) SetMinimized() {
}

// SetGeometry is a no-op: wl_shell has no window geometry concept.
func (s *wlSurface) SetGeometry(x, y, width, height int32) {
}

// SetMinSize is a no-op: wl_shell cannot constrain interactive resizing.
func (s *wlSurface) SetMinSize(size *Size) {
}

// SetMaxSize is a no-op: wl_shell cannot constrain interactive resizing.
func (s *wlSurface) SetMaxSize(size *Size) {
}

// XdgToplevel always returns nil on the legacy protocol.
func (s *wlSurface) XdgToplevel() *XdgToplevel {
	return nil
}

func (s *wlSurface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	s.shellSurface.Release()
}

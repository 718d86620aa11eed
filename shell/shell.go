// Package shell unifies the three generations of Wayland shell surface
// protocols (wl_shell, zxdg_shell_v6 and xdg_wm_base, the current standard)
// behind a single capability contract.
//
// The contract mirrors the behavior of the current standard. Compatibility
// adapters are provided for the older protocols: operations a generation
// cannot express are silent no-ops, so calling code can be written once
// against the unified interface regardless of which shell global the
// compositor advertises.
//
// This package only manages the protocol part of shell surfaces. Buffer
// management and rendering are the caller's concern.
package shell

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/bnema/wlshell"
)

// Size is a width/height pair in surface coordinates.
type Size struct {
	Width  int32
	Height int32
}

// State is a window state as defined by the current standard protocol
// (xdg_toplevel.state). The older generations translate their narrower
// vocabulary into a subset of this set.
type State uint32

// Window states, wire values of xdg_toplevel.state.
const (
	StateMaximized  State = 1
	StateFullscreen State = 2
	StateResizing   State = 3
	StateActivated  State = 4
)

// ResizeEdge identifies which edge or corner an interactive resize grabs.
// The wire values are shared by all three protocol generations.
type ResizeEdge uint32

// Resize edges.
const (
	EdgeNone        ResizeEdge = 0
	EdgeTop         ResizeEdge = 1
	EdgeBottom      ResizeEdge = 2
	EdgeLeft        ResizeEdge = 4
	EdgeTopLeft     ResizeEdge = 5
	EdgeBottomLeft  ResizeEdge = 6
	EdgeRight       ResizeEdge = 8
	EdgeTopRight    ResizeEdge = 9
	EdgeBottomRight ResizeEdge = 10
)

// Event is a canonical shell surface event. The concrete types are
// ConfigureEvent and CloseEvent.
type Event interface {
	isShellEvent()
}

// ConfigureEvent reports a new size and state combination suggested by the
// compositor. The protocols deliver configures in batches terminated by an
// acknowledgment message; the adapters coalesce each batch into a single
// ConfigureEvent reflecting the most recent values, so during an interactive
// resize the callback sees fewer events than the compositor generated but
// always the latest state.
type ConfigureEvent struct {
	// NewSize is the size suggested by the server, or nil to keep the
	// current size. The suggestion may be ignored.
	NewSize *Size

	// States is the new combination of window states.
	States []State
}

// CloseEvent reports a close request, most likely the user clicking the
// close button of the decorations or something equivalent. The client may
// ignore it or ask the user to save their data first.
type CloseEvent struct{}

func (ConfigureEvent) isShellEvent() {}
func (CloseEvent) isShellEvent()     {}

// Variant identifies which shell protocol generation is active.
type Variant int

// Shell protocol generations.
const (
	// Legacy is the original wl_shell protocol.
	Legacy Variant = iota
	// Versioned is the unstable zxdg_shell_v6 protocol.
	Versioned
	// Current is the standard xdg_wm_base protocol.
	Current
)

// String returns the protocol interface name of the variant.
func (v Variant) String() string {
	switch v {
	case Legacy:
		return "wl_shell"
	case Versioned:
		return "zxdg_shell_v6"
	case Current:
		return "xdg_wm_base"
	}
	return "unknown"
}

// Shell is the resolved shell global of the current session. Exactly one
// protocol generation backs a Shell value; the set is closed because it is
// fixed by the protocol ecosystem, not extensible by callers.
type Shell struct {
	variant Variant
	wl      *WlShell
	zxdg    *ZxdgShell
	xdg     *WmBase
}

// ShellFromWl wraps a bound wl_shell global.
func ShellFromWl(s *WlShell) Shell {
	return Shell{variant: Legacy, wl: s}
}

// ShellFromZxdg wraps a bound zxdg_shell_v6 global.
func ShellFromZxdg(s *ZxdgShell) Shell {
	return Shell{variant: Versioned, zxdg: s}
}

// ShellFromXdg wraps a bound xdg_wm_base global.
func ShellFromXdg(b *WmBase) Shell {
	return Shell{variant: Current, xdg: b}
}

// Variant returns the protocol generation backing this shell.
func (s Shell) Variant() Variant {
	return s.variant
}

// ShellSurface abstracts over the shell surface protocols.
//
// Its API reflects the behavior of the current standard, xdg_wm_base;
// compatibility adapters approximate it for the older protocols. All
// operations are asynchronous fire-and-forget requests: none returns a
// result, and the only feedback channel is the event callback installed at
// creation. Operations may be called from any goroutine; events are
// delivered from the single goroutine pumping the display and the callback
// must not synchronously re-enter operations in a way that would block that
// goroutine.
type ShellSurface interface {
	// Resize starts an interactive resize. The serial must come from an
	// input event on the given seat.
	Resize(seat *wlshell.Seat, serial uint32, edges ResizeEdge)
	// Move starts an interactive move. The serial must come from an input
	// event on the given seat.
	Move(seat *wlshell.Seat, serial uint32)
	// SetTitle sets the surface title.
	SetTitle(title string)
	// SetAppID sets the application identifier. No-op on wl_shell.
	SetAppID(appID string)
	// SetFullscreen requests fullscreen, optionally pinned to an output.
	SetFullscreen(output *wlshell.Output)
	// UnsetFullscreen requests windowed mode.
	UnsetFullscreen()
	// SetMaximized requests the maximized state.
	SetMaximized()
	// UnsetMaximized requests restoration from the maximized state.
	UnsetMaximized()
	// SetMinimized requests iconification. No-op on wl_shell, which has no
	// such request.
	SetMinimized()
	// SetGeometry declares the visible bounds of the window, excluding
	// drop shadows and other decoration. No-op on wl_shell.
	SetGeometry(x, y, width, height int32)
	// SetMinSize constrains interactive resizing from below; nil clears
	// the bound. No-op on wl_shell.
	SetMinSize(size *Size)
	// SetMaxSize constrains interactive resizing from above; nil clears
	// the bound. No-op on wl_shell.
	SetMaxSize(size *Size)
	// XdgToplevel returns the underlying xdg_toplevel proxy if this
	// surface uses the current standard protocol, for interop with
	// extension protocols such as xdg_decoration. It returns nil for the
	// older generations.
	XdgToplevel() *XdgToplevel
	// Destroy releases the protocol objects backing this surface. After
	// Destroy no further events are delivered; destruction is safe to
	// race with in-flight event dispatch. The surface must be destroyed
	// before the wl_surface it was created for.
	Destroy()
}

// Create promotes a drawable surface to a shell surface on the resolved
// shell global and installs the event callback. The callback is invoked
// from the display's dispatch goroutine, never concurrently with itself.
//
// The returned handle exclusively owns the protocol objects it creates and
// must not outlive the wl_surface it wraps. A transport failure while
// creating the protocol objects is fatal for the surface: an error is
// returned and no handle is produced.
func Create(shell Shell, surface *wlshell.Surface, cb func(Event)) (ShellSurface, error) {
	switch shell.variant {
	case Legacy:
		return createWl(shell.wl, surface, cb)
	case Versioned:
		return createZxdg(shell.zxdg, surface, cb)
	case Current:
		return createXdg(shell.xdg, surface, cb)
	}
	return nil, errors.Errorf("unknown shell variant %d", shell.variant)
}

// parseStates decodes a native state array (a wire array of uint32) into
// canonical states. Values outside the canonical vocabulary are dropped so
// future protocol additions never become errors.
func parseStates(data []byte) []State {
	if len(data) < 4 {
		return nil
	}
	states := make([]State, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		s := State(binary.LittleEndian.Uint32(data[i:]))
		switch s {
		case StateMaximized, StateFullscreen, StateResizing, StateActivated:
			states = append(states, s)
		}
	}
	return states
}

// pendingConfigure accumulates configure notifications between two batch
// acknowledgments. Later notifications in a batch override earlier ones; a
// zero-sized hint leaves the accumulated size untouched.
type pendingConfigure struct {
	size   *Size
	states []State
	dirty  bool
}

func (p *pendingConfigure) accumulate(width, height int32, states []State) {
	if width > 0 && height > 0 {
		p.size = &Size{Width: width, Height: height}
	}
	p.states = states
	p.dirty = true
}

// take returns the coalesced event for the batch, or nil if the batch
// carried no data, and resets the accumulator.
func (p *pendingConfigure) take() *ConfigureEvent {
	if !p.dirty {
		return nil
	}
	ev := &ConfigureEvent{NewSize: p.size, States: p.states}
	*p = pendingConfigure{}
	return ev
}

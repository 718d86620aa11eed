// Package wlshell implements a Wayland client core and a compatibility
// abstraction over the three generations of shell surface protocols
// (wl_shell, zxdg_shell_v6 and xdg_wm_base, the current standard).
//
// This package holds the protocol transport: the display connection, wire
// marshalling, the object registry and the event dispatch loop. The shell
// surface unification itself lives in the shell subpackage.
package wlshell

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Pre-allocated buffer pool for request marshalling
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Fixed represents a 24.8 fixed-point number
type Fixed int32

// Float64 converts Fixed to float64
func (f Fixed) Float64() float64 {
	return float64(f) / 256.0
}

// NewFixed creates a Fixed from float64
func NewFixed(v float64) Fixed {
	return Fixed(v * 256.0)
}

// Object represents a Wayland object
type Object interface {
	ID() uint32
}

// Display represents a connection to the Wayland display
type Display struct {
	conn      net.Conn
	objects   sync.Map // map[uint32]Object
	nextID    uint32
	sendMu    sync.Mutex
	recvMu    sync.Mutex
	listeners sync.Map // map[uint32]map[uint16][]func([]byte)

	// Fallback dispatcher for objects without a registered proxy
	dispatcher *EventDispatcher

	// Core objects
	registry *Registry
	context  *Context

	// Error state
	lastError     error
	lastErrorCode uint32
	lastErrorObj  uint32

	// Reusable read buffer for header
	headerBuf [8]byte

	// Pre-allocated buffer for event bodies
	eventBodyBuf [4096]byte
}

// Registry represents the global registry
type Registry struct {
	id       uint32
	display  *Display
	globals  map[uint32]Global
	mu       sync.RWMutex
	handlers map[string]GlobalHandler
}

// callbackObject represents a wl_callback object
type callbackObject struct {
	BaseProxy
	display *Display
}

func (c *callbackObject) ID() uint32 {
	return c.id
}

// Dispatch handles callback events (opcode 0 = done)
func (c *callbackObject) Dispatch(event *Event) {
	if event.Opcode != 0 {
		return
	}
	if listeners, ok := c.display.listeners.Load(c.id); ok {
		if opcodeMap, ok := listeners.(*sync.Map); ok {
			if handlers, ok := opcodeMap.Load(uint16(0)); ok {
				if handlerSlice, ok := handlers.(*[]func([]byte)); ok && handlerSlice != nil {
					for _, handler := range *handlerSlice {
						if handler != nil {
							handler(event.data)
						}
					}
				}
			}
		}
	}
}

// Global represents a global object
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// GlobalHandler is called when a global is announced
type GlobalHandler func(registry *Registry, name uint32, version uint32)

// NewDisplay wraps an already-established connection to a compositor.
// The caller keeps ownership of the connection's file descriptor semantics;
// file descriptor passing requires a *net.UnixConn.
func NewDisplay(conn net.Conn) *Display {
	d := &Display{
		conn:       conn,
		nextID:     2, // 1 is reserved for wl_display
		dispatcher: NewEventDispatcher(),
	}

	d.context = NewContext(d)

	// Register display object (ID 1)
	d.objects.Store(uint32(1), d)

	d.registry = &Registry{
		id:       d.allocateID(),
		display:  d,
		globals:  make(map[uint32]Global),
		handlers: make(map[string]GlobalHandler),
	}
	d.objects.Store(d.registry.id, d.registry)

	return d
}

// Connect connects to the Wayland display
func Connect(socketPath string) (*Display, error) {
	if socketPath == "" {
		socketPath = os.Getenv("WAYLAND_DISPLAY")
		if socketPath == "" {
			socketPath = "wayland-0"
		}
	}

	// Resolve socket path
	if !filepath.IsAbs(socketPath) {
		runDir := os.Getenv("XDG_RUNTIME_DIR")
		if runDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR not set")
		}
		socketPath = filepath.Join(runDir, socketPath)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland: %w", err)
	}

	d := NewDisplay(conn)

	// Get registry
	if err := d.getRegistry(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}

	// No initial roundtrip here - the caller does it after setting up handlers
	return d, nil
}

// Close closes the display connection
func (d *Display) Close() error {
	return d.conn.Close()
}

// ID returns the display's object ID (always 1)
func (d *Display) ID() uint32 {
	return 1
}

// RegisterEventHandler registers an event handler on the fallback dispatcher
func (d *Display) RegisterEventHandler(objectID uint32, opcode uint16, handler EventHandler) {
	d.dispatcher.RegisterHandler(objectID, opcode, handler)
}

// allocateID allocates a new object ID
func (d *Display) allocateID() uint32 {
	return atomic.AddUint32(&d.nextID, 1) - 1
}

// AllocateID allocates a new object ID (public method)
func (d *Display) AllocateID() uint32 {
	return d.allocateID()
}

// SendRequest sends a request to the compositor
func (d *Display) SendRequest(objectID uint32, opcode uint16, args ...interface{}) error {
	return d.SendRequestWithFDs(objectID, opcode, nil, args...)
}

// SendRequestWithFDs sends a request with file descriptors
func (d *Display) SendRequestWithFDs(objectID uint32, opcode uint16, fds []int, args ...interface{}) error {
	// Get buffer from pool
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	// Write header placeholder
	header := make([]byte, 8)
	_, _ = buf.Write(header)

	// Marshal arguments
	for _, arg := range args {
		if err := d.marshalArg(buf, arg); err != nil {
			return fmt.Errorf("failed to marshal argument: %w", err)
		}
	}

	// Update header with actual size in bytes
	bufLen := buf.Len()
	if bufLen > 0xFFFF {
		return fmt.Errorf("message too large: %d bytes", bufLen)
	}
	size := uint32(bufLen) // Safe: checked above
	binary.LittleEndian.PutUint32(header[0:4], objectID)
	// Upper 16 bits = size, lower 16 bits = opcode
	binary.LittleEndian.PutUint32(header[4:8], (size<<16)|uint32(opcode))

	// Update buffer with correct header
	data := buf.Bytes()
	copy(data[0:8], header)

	// Send message with optional file descriptors
	return d.sendmsg(data, fds)
}

// marshalArg marshals a single argument
func (d *Display) marshalArg(buf *bytes.Buffer, arg interface{}) error {
	switch v := arg.(type) {
	case uint32:
		return binary.Write(buf, binary.LittleEndian, v)
	case int32:
		return binary.Write(buf, binary.LittleEndian, v)
	case Fixed:
		return binary.Write(buf, binary.LittleEndian, int32(v))
	case string:
		// String format: length (including null) + string + null + padding
		strlen := len(v) + 1
		if err := binary.Write(buf, binary.LittleEndian, uint32(strlen)); err != nil {
			return err
		}
		_, _ = buf.WriteString(v)
		_ = buf.WriteByte(0)
		// Pad to 32-bit boundary
		padding := (4 - (strlen % 4)) % 4
		for i := 0; i < padding; i++ {
			_ = buf.WriteByte(0)
		}
	case []byte:
		// Array format: length + data + padding
		arrlen := len(v)
		if err := binary.Write(buf, binary.LittleEndian, uint32(arrlen)); err != nil {
			return err
		}
		_, _ = buf.Write(v)
		// Pad to 32-bit boundary
		padding := (4 - (arrlen % 4)) % 4
		for i := 0; i < padding; i++ {
			_ = buf.WriteByte(0)
		}
	case Object:
		if v != nil {
			return binary.Write(buf, binary.LittleEndian, v.ID())
		}
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	case nil:
		// Null object
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	case int:
		// File descriptor - write placeholder in message.
		// The actual FD travels via SCM_RIGHTS.
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

// Dispatch reads and dispatches one event. All server-originated events are
// processed sequentially on whichever goroutine pumps this method; proxy
// Dispatch implementations and user callbacks run on that single context.
func (d *Display) Dispatch() error {
	d.recvMu.Lock()
	defer d.recvMu.Unlock()

	// Read header with potential file descriptors
	n, fds, err := d.recvmsg(d.headerBuf[:])
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if n < 8 {
		return fmt.Errorf("incomplete header: got %d bytes", n)
	}

	objectID := binary.LittleEndian.Uint32(d.headerBuf[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(d.headerBuf[4:8])
	// Upper 16 bits = size (includes header), lower 16 bits = opcode
	size := sizeOpcode >> 16
	opcode := sizeOpcode & 0xffff

	// Read message body (size includes 8-byte header)
	var body []byte
	if size > 8 {
		bodySize := size - 8

		// Use the pre-allocated buffer for small messages
		if bodySize <= uint32(len(d.eventBodyBuf)) {
			body = d.eventBodyBuf[:bodySize]
		} else {
			body = make([]byte, bodySize)
		}

		n, moreFds, err := d.recvmsg(body)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		if n < int(bodySize) {
			// Read remaining data if needed
			remaining := body[n:]
			if _, err := io.ReadFull(d.conn, remaining); err != nil {
				return fmt.Errorf("failed to read remaining body: %w", err)
			}
		}
		fds = append(fds, moreFds...)
	}

	// Handle display events specially
	if objectID == 1 {
		return d.handleDisplayEvent(uint16(opcode), body)
	}

	// Route to the registered proxy, if any. Events for objects that have
	// already been destroyed fall through and are dropped.
	if obj, ok := d.objects.Load(objectID); ok {
		if proxy, ok := obj.(Proxy); ok && proxy != nil {
			event := &Event{
				ProxyID: objectID,
				Opcode:  uint16(opcode),
				data:    body,
				offset:  0,
			}
			proxy.Dispatch(event)
			return nil
		}
	} else {
		log.Printf("wlshell: dropping event for unknown object %d, opcode %d", objectID, opcode)
	}

	// Fallback dispatcher
	d.dispatcher.Dispatch(objectID, uint16(opcode), body)

	// Raw listeners (used by Roundtrip for wl_callback)
	if listeners, ok := d.listeners.Load(objectID); ok {
		if opcodeMap, ok := listeners.(*sync.Map); ok {
			if handlers, ok := opcodeMap.Load(uint16(opcode)); ok {
				if handlerSlice, ok := handlers.(*[]func([]byte)); ok {
					for _, handler := range *handlerSlice {
						handler(body)
					}
				}
			}
		}
	}

	return nil
}

// handleDisplayEvent handles events on the display object
func (d *Display) handleDisplayEvent(opcode uint16, data []byte) error {
	switch opcode {
	case 0: // error
		if len(data) < 8 {
			return errors.New("invalid error event")
		}
		objectID := binary.LittleEndian.Uint32(data[0:4])
		code := binary.LittleEndian.Uint32(data[4:8])

		var message string
		if len(data) >= 12 {
			msgLen := binary.LittleEndian.Uint32(data[8:12])
			if msgLen > 0 && len(data) >= 12+int(msgLen) {
				message = string(data[12 : 12+msgLen-1]) // -1 to remove null terminator
			}
		}

		d.lastError = fmt.Errorf("protocol error: object %d, code %d: %s", objectID, code, message)
		d.lastErrorCode = code
		d.lastErrorObj = objectID
		return d.lastError

	case 1: // delete_id
		if len(data) < 4 {
			return errors.New("invalid delete_id event")
		}
		id := binary.LittleEndian.Uint32(data[0:4])
		d.objects.Delete(id)
	}

	return nil
}

// Roundtrip performs a synchronous roundtrip to the compositor
func (d *Display) Roundtrip() error {
	// Create callback
	callbackID := d.allocateID()
	done := make(chan error, 1)

	// Register callback listener
	d.AddListener(callbackID, 0, func(_ []byte) {
		d.objects.Delete(callbackID)
		done <- nil
	})

	// Send sync request (opcode 0)
	if err := d.SendRequest(1, 0, callbackID); err != nil {
		return err
	}

	// Store the callback object to track it
	d.objects.Store(callbackID, &callbackObject{
		BaseProxy: BaseProxy{
			context: d.Context(),
			id:      callbackID,
		},
		display: d,
	})

	// Process events until the callback fires
	maxIterations := 1000 // Prevent infinite loops
	for i := 0; i < maxIterations; i++ {
		if err := d.Dispatch(); err != nil {
			return err
		}

		select {
		case err := <-done:
			return err
		default:
			// Continue dispatching
		}
	}

	return fmt.Errorf("roundtrip failed: max iterations reached")
}

// AddListener adds an event listener for an object
func (d *Display) AddListener(objectID uint32, opcode uint16, handler func([]byte)) {
	// Load or create listener map for object
	listeners, _ := d.listeners.LoadOrStore(objectID, &sync.Map{})
	opcodeMap := listeners.(*sync.Map)

	// Load or create handlers slice for opcode
	handlers, _ := opcodeMap.LoadOrStore(opcode, &[]func([]byte){})
	handlerSlice := handlers.(*[]func([]byte))

	*handlerSlice = append(*handlerSlice, handler)
}

// getRegistry gets the global registry
func (d *Display) getRegistry() error {
	// Add registry listeners
	d.AddListener(d.registry.id, 0, d.registry.handleGlobal)
	d.AddListener(d.registry.id, 1, d.registry.handleGlobalRemove)

	// Send get_registry request (opcode 1)
	return d.SendRequest(1, 1, d.registry.id)
}

// Registry returns the global registry
func (d *Display) Registry() *Registry {
	return d.registry
}

// ID returns the registry's object ID
func (r *Registry) ID() uint32 {
	return r.id
}

// handleGlobal handles global announcements
func (r *Registry) handleGlobal(data []byte) {
	if len(data) < 8 {
		return
	}

	name := binary.LittleEndian.Uint32(data[0:4])
	ifaceLen := binary.LittleEndian.Uint32(data[4:8])

	if len(data) < 8+int(ifaceLen)+4 {
		return
	}

	// String includes null terminator in length
	iface := string(data[8 : 8+ifaceLen-1])

	// Calculate padding for 32-bit alignment
	padding := (4 - (ifaceLen % 4)) % 4
	versionOffset := 8 + int(ifaceLen) + int(padding)

	if len(data) < versionOffset+4 {
		return
	}

	version := binary.LittleEndian.Uint32(data[versionOffset:])

	// Store global
	r.mu.Lock()
	r.globals[name] = Global{
		Name:      name,
		Interface: iface,
		Version:   version,
	}
	r.mu.Unlock()

	// Call specific handler if registered
	if handler, ok := r.handlers[iface]; ok {
		handler(r, name, version)
	}

	// Call wildcard handler if registered
	if handler, ok := r.handlers["*"]; ok {
		handler(r, name, version)
	}
}

// handleGlobalRemove handles global removal
func (r *Registry) handleGlobalRemove(data []byte) {
	if len(data) < 4 {
		return
	}

	name := binary.LittleEndian.Uint32(data[0:4])

	r.mu.Lock()
	delete(r.globals, name)
	r.mu.Unlock()
}

// AddHandler adds a handler for a specific interface
func (r *Registry) AddHandler(iface string, handler GlobalHandler) {
	r.handlers[iface] = handler
}

// Bind binds to a global object through a typed proxy
func (r *Registry) Bind(name uint32, iface string, version uint32, proxy Proxy) error {
	// Set the ID if not already set
	if proxy.ID() == 0 {
		proxy.SetID(r.display.allocateID())
	}

	// Make sure the proxy carries a context before registration
	if proxy.Context() == nil {
		if setter, ok := proxy.(interface{ SetContext(*Context) }); ok {
			setter.SetContext(r.display.Context())
		} else {
			return fmt.Errorf("proxy doesn't have context and can't set it")
		}
	}

	// Register the proxy
	proxy.Context().Register(proxy)

	// Send bind request (opcode 0) with proper arguments
	if err := r.display.SendRequest(r.id, 0, name, iface, version, proxy.ID()); err != nil {
		proxy.Context().Unregister(proxy)
		return err
	}

	return nil
}

// BindID binds to a global object and returns just the new ID
func (r *Registry) BindID(name uint32, iface string, version uint32) (uint32, error) {
	newID := r.display.allocateID()

	// Send bind request (opcode 0) with proper arguments
	if err := r.display.SendRequest(r.id, 0, name, iface, version, newID); err != nil {
		return 0, err
	}

	return newID, nil
}

// GetGlobals returns all announced globals
func (r *Registry) GetGlobals() map[uint32]Global {
	r.mu.RLock()
	defer r.mu.RUnlock()

	globals := make(map[uint32]Global)
	for k, v := range r.globals {
		globals[k] = v
	}
	return globals
}

// FindGlobal finds a global by interface name
func (r *Registry) FindGlobal(iface string) (Global, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, global := range r.globals {
		if global.Interface == iface {
			return global, true
		}
	}
	return Global{}, false
}

package wlshell

// Proxies for the core protocol objects the shell layer collaborates with.
// Seats and outputs are treated as opaque handles by the shell subpackage:
// they are only ever forwarded as request arguments.

// Registry handler interfaces

// RegistryGlobalHandler interface
type RegistryGlobalHandler interface {
	HandleRegistryGlobal(event RegistryGlobalEvent)
}

// RegistryGlobalRemoveHandler interface
type RegistryGlobalRemoveHandler interface {
	HandleRegistryGlobalRemove(event RegistryGlobalRemoveEvent)
}

// RegistryGlobalEvent represents a registry global announcement
type RegistryGlobalEvent struct {
	Registry  *Registry
	Name      uint32
	Interface string
	Version   uint32
}

// RegistryGlobalRemoveEvent represents a registry global removal
type RegistryGlobalRemoveEvent struct {
	Registry *Registry
	Name     uint32
}

// AddGlobalHandler adds a global handler to the registry
func (r *Registry) AddGlobalHandler(handler RegistryGlobalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[string]GlobalHandler)
	}

	r.handlers["*"] = func(registry *Registry, name uint32, version uint32) {
		global, ok := r.FindGlobalByName(name)
		if ok {
			handler.HandleRegistryGlobal(RegistryGlobalEvent{
				Registry:  r,
				Name:      name,
				Interface: global.Interface,
				Version:   version,
			})
		}
	}
}

// FindGlobalByName finds a global by its name ID
func (r *Registry) FindGlobalByName(name uint32) (Global, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if global, ok := r.globals[name]; ok {
		return global, true
	}
	return Global{}, false
}

// Display compatibility methods

// Context returns the context for this display
func (d *Display) Context() *Context {
	return d.context
}

// GetRegistry returns the registry
func (d *Display) GetRegistry() *Registry {
	return d.registry
}

// Sync creates a sync callback
func (d *Display) Sync() (Object, error) {
	callbackID := d.allocateID()
	callback := &callbackObject{
		BaseProxy: BaseProxy{
			context: d.context,
			id:      callbackID,
		},
		display: d,
	}

	// Send sync request (opcode 0)
	if err := d.SendRequest(1, 0, callbackID); err != nil {
		return nil, err
	}

	d.objects.Store(callbackID, callback)

	return callback, nil
}

// Seat capability constants
const (
	SeatCapabilityPointer  = 1
	SeatCapabilityKeyboard = 2
	SeatCapabilityTouch    = 4
)

// Seat represents a wl_seat
type Seat struct {
	BaseProxy
	capabilities uint32
	name         string
}

// NewSeat creates a new seat proxy for binding through the registry
func NewSeat(ctx *Context) *Seat {
	return &Seat{
		BaseProxy: BaseProxy{
			context: ctx,
		},
	}
}

// GetPointer gets the pointer device
func (s *Seat) GetPointer() (*Pointer, error) {
	pointer := &Pointer{
		BaseProxy: BaseProxy{
			context: s.context,
			id:      s.context.display.allocateID(),
		},
	}

	// Register pointer before sending request
	s.context.Register(pointer)

	// Send get_pointer request (opcode 0)
	if err := s.context.SendRequest(s, 0, pointer.id); err != nil {
		s.context.Unregister(pointer)
		return nil, err
	}

	return pointer, nil
}

// GetKeyboard gets the keyboard device
func (s *Seat) GetKeyboard() (*Keyboard, error) {
	keyboard := &Keyboard{
		BaseProxy: BaseProxy{
			context: s.context,
			id:      s.context.display.allocateID(),
		},
	}

	// Register keyboard before sending request
	s.context.Register(keyboard)

	// Send get_keyboard request (opcode 1)
	if err := s.context.SendRequest(s, 1, keyboard.id); err != nil {
		s.context.Unregister(keyboard)
		return nil, err
	}

	return keyboard, nil
}

// GetTouch gets the touch device
func (s *Seat) GetTouch() (*Touch, error) {
	touch := &Touch{
		BaseProxy: BaseProxy{
			context: s.context,
			id:      s.context.display.allocateID(),
		},
	}

	// Register touch before sending request
	s.context.Register(touch)

	// Send get_touch request (opcode 2)
	if err := s.context.SendRequest(s, 2, touch.id); err != nil {
		s.context.Unregister(touch)
		return nil, err
	}

	return touch, nil
}

// Release releases the seat
func (s *Seat) Release() error {
	err := s.context.SendRequest(s, 3) // opcode 3
	if err == nil {
		s.context.Unregister(s)
	}
	return err
}

// Capabilities returns the seat capabilities
func (s *Seat) Capabilities() uint32 {
	return s.capabilities
}

// Name returns the seat name
func (s *Seat) Name() string {
	return s.name
}

// Dispatch handles seat events
func (s *Seat) Dispatch(event *Event) {
	switch event.Opcode {
	case 0: // capabilities
		s.capabilities = event.Uint32()
	case 1: // name
		s.name = event.String()
	}
}

// Surface represents a wl_surface
type Surface struct {
	BaseProxy
}

// NewSurface creates a new surface proxy
func NewSurface(ctx *Context) *Surface {
	return &Surface{
		BaseProxy: BaseProxy{
			context: ctx,
		},
	}
}

// Destroy destroys the surface
func (s *Surface) Destroy() error {
	err := s.context.SendRequest(s, 0) // opcode 0
	if err == nil {
		s.context.Unregister(s)
	}
	return err
}

// Attach attaches a buffer to the surface
func (s *Surface) Attach(buffer Object, x, y int32) error {
	return s.context.SendRequest(s, 1, buffer, x, y) // opcode 1
}

// Damage marks a region of the surface as damaged
func (s *Surface) Damage(x, y, width, height int32) error {
	return s.context.SendRequest(s, 2, x, y, width, height) // opcode 2
}

// Frame requests a frame callback
func (s *Surface) Frame() (Object, error) {
	callback := &callbackObject{
		BaseProxy: BaseProxy{
			context: s.context,
			id:      s.context.display.allocateID(),
		},
		display: s.context.display,
	}
	s.context.Register(callback)

	if err := s.context.SendRequest(s, 3, callback.id); err != nil { // opcode 3
		s.context.Unregister(callback)
		return nil, err
	}

	return callback, nil
}

// SetOpaqueRegion sets the opaque region
func (s *Surface) SetOpaqueRegion(region *Region) error {
	return s.context.SendRequest(s, 4, region) // opcode 4
}

// SetInputRegion sets the input region
func (s *Surface) SetInputRegion(region *Region) error {
	return s.context.SendRequest(s, 5, region) // opcode 5
}

// Commit commits pending surface state
func (s *Surface) Commit() error {
	return s.context.SendRequest(s, 6) // opcode 6
}

// SetBufferTransform sets the buffer transform
func (s *Surface) SetBufferTransform(transform int32) error {
	return s.context.SendRequest(s, 7, transform) // opcode 7
}

// SetBufferScale sets the buffer scale
func (s *Surface) SetBufferScale(scale int32) error {
	return s.context.SendRequest(s, 8, scale) // opcode 8
}

// DamageBuffer marks a region of the buffer as damaged
func (s *Surface) DamageBuffer(x, y, width, height int32) error {
	return s.context.SendRequest(s, 9, x, y, width, height) // opcode 9
}

// Offset sets the buffer offset
func (s *Surface) Offset(x, y int32) error {
	return s.context.SendRequest(s, 10, x, y) // opcode 10
}

// Dispatch handles surface events (enter/leave are currently ignored)
func (s *Surface) Dispatch(event *Event) {
}

// Pointer represents a wl_pointer
type Pointer struct {
	BaseProxy
}

// Keyboard represents a wl_keyboard
type Keyboard struct {
	BaseProxy
}

// Touch represents a wl_touch
type Touch struct {
	BaseProxy
}

// Output represents a wl_output
type Output struct {
	BaseProxy
}

// NewOutput creates a new output proxy for binding through the registry
func NewOutput(ctx *Context) *Output {
	return &Output{
		BaseProxy: BaseProxy{
			context: ctx,
		},
	}
}

// Region represents a wl_region
type Region struct {
	BaseProxy
}

// Add adds a rectangle to the region
func (r *Region) Add(x, y, width, height int32) error {
	return r.context.SendRequest(r, 0, x, y, width, height) // opcode 0
}

// Subtract subtracts a rectangle from the region
func (r *Region) Subtract(x, y, width, height int32) error {
	return r.context.SendRequest(r, 1, x, y, width, height) // opcode 1
}

// Destroy destroys the region
func (r *Region) Destroy() error {
	err := r.context.SendRequest(r, 2) // opcode 2
	if err == nil {
		r.context.Unregister(r)
	}
	return err
}

// Compositor represents a wl_compositor
type Compositor struct {
	BaseProxy
}

// NewCompositor creates a new compositor proxy for binding through the registry
func NewCompositor(ctx *Context) *Compositor {
	return &Compositor{
		BaseProxy: BaseProxy{
			context: ctx,
		},
	}
}

// CreateSurface creates a new surface
func (c *Compositor) CreateSurface() (*Surface, error) {
	surface := &Surface{
		BaseProxy: BaseProxy{
			context: c.context,
			id:      c.context.display.allocateID(),
		},
	}

	// Register surface before sending request
	c.context.Register(surface)

	// Send create_surface request (opcode 0)
	if err := c.context.SendRequest(c, 0, surface.id); err != nil {
		c.context.Unregister(surface)
		return nil, err
	}

	return surface, nil
}

// CreateRegion creates a new region
func (c *Compositor) CreateRegion() (*Region, error) {
	region := &Region{
		BaseProxy: BaseProxy{
			context: c.context,
			id:      c.context.display.allocateID(),
		},
	}

	// Register region before sending request
	c.context.Register(region)

	// Send create_region request (opcode 1)
	if err := c.context.SendRequest(c, 1, region.id); err != nil {
		c.context.Unregister(region)
		return nil, err
	}

	return region, nil
}

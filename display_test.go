package wlshell

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pipeDisplay wires a Display to one end of a socketpair; the test plays
// compositor on the returned server end.
func pipeDisplay(t *testing.T) (*Display, *net.UnixConn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	clientFile := os.NewFile(uintptr(fds[0]), "wlshell-test-client")
	serverFile := os.NewFile(uintptr(fds[1]), "wlshell-test-server")

	clientConn, err := net.FileConn(clientFile)
	require.NoError(t, err)
	require.NoError(t, clientFile.Close())

	serverConn, err := net.FileConn(serverFile)
	require.NoError(t, err)
	require.NoError(t, serverFile.Close())

	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})

	server, ok := serverConn.(*net.UnixConn)
	require.True(t, ok)

	return NewDisplay(clientConn), server
}

func readMessage(t *testing.T, server *net.UnixConn) (uint32, uint16, []byte) {
	t.Helper()
	require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Second)))

	header := make([]byte, 8)
	_, err := server.Read(header)
	require.NoError(t, err)

	id := binary.LittleEndian.Uint32(header[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(header[4:8])
	size := int(sizeOpcode >> 16)
	opcode := uint16(sizeOpcode & 0xffff)
	require.GreaterOrEqual(t, size, 8)

	body := make([]byte, size-8)
	if len(body) > 0 {
		_, err = server.Read(body)
		require.NoError(t, err)
	}
	return id, opcode, body
}

func writeMessage(t *testing.T, server *net.UnixConn, id uint32, opcode uint16, payload []byte) {
	t.Helper()
	msg := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(msg[0:4], id)
	binary.LittleEndian.PutUint32(msg[4:8], uint32(8+len(payload))<<16|uint32(opcode))
	copy(msg[8:], payload)
	_, err := server.Write(msg)
	require.NoError(t, err)
}

func le32(vals ...uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func TestFixedConversion(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		fixed Fixed
	}{
		{"zero", 0, 0},
		{"one", 1.0, 256},
		{"negative", -2.0, -512},
		{"fraction", 0.5, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fixed, NewFixed(tt.value))
			assert.Equal(t, tt.value, tt.fixed.Float64())
		})
	}
}

func TestMarshalArg(t *testing.T) {
	obj := &BaseProxy{id: 42}

	tests := []struct {
		name string
		arg  interface{}
		want []byte
	}{
		{"uint32", uint32(7), le32(7)},
		{"int32", int32(-1), le32(0xffffffff)},
		{"fixed", NewFixed(1.5), le32(384)},
		// length includes the terminator; the payload pads to 32 bits
		{"string", "hi", append(le32(3), 'h', 'i', 0, 0)},
		{"empty string", "", append(le32(1), 0, 0, 0, 0)},
		{"array", []byte{1, 2, 3}, append(le32(3), 1, 2, 3, 0)},
		{"object", obj, le32(42)},
		{"null object", nil, le32(0)},
		// fds travel out of band; the message carries a placeholder
		{"fd placeholder", int(5), le32(0)},
	}

	d := &Display{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, d.marshalArg(&buf, tt.arg))
			assert.Equal(t, tt.want, buf.Bytes())
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, d.marshalArg(&buf, 3.14))
	})
}

func TestSendRequestWireFormat(t *testing.T) {
	d, server := pipeDisplay(t)

	require.NoError(t, d.SendRequest(3, 2, uint32(5), "hey"))

	id, opcode, body := readMessage(t, server)
	assert.Equal(t, uint32(3), id)
	assert.Equal(t, uint16(2), opcode)
	assert.Equal(t, append(le32(5, 4), 'h', 'e', 'y', 0), body)
}

func TestAllocateID(t *testing.T) {
	d, _ := pipeDisplay(t)

	// 1 is the display, 2 the registry; allocation continues from there.
	assert.Equal(t, uint32(2), d.Registry().ID())
	assert.Equal(t, uint32(3), d.AllocateID())
	assert.Equal(t, uint32(4), d.AllocateID())
}

func TestRegistryGlobals(t *testing.T) {
	d, _ := pipeDisplay(t)
	r := d.Registry()

	// name, interface string (length includes NUL, padded), version
	announce := func(name uint32, iface string, version uint32) []byte {
		data := le32(name)
		strlen := len(iface) + 1
		data = append(data, le32(uint32(strlen))...)
		data = append(data, iface...)
		data = append(data, 0)
		for len(data)%4 != 0 {
			data = append(data, 0)
		}
		return append(data, le32(version)...)
	}

	r.handleGlobal(announce(1, "wl_compositor", 6))
	r.handleGlobal(announce(2, "xdg_wm_base", 5))

	globals := r.GetGlobals()
	require.Len(t, globals, 2)
	assert.Equal(t, Global{Name: 2, Interface: "xdg_wm_base", Version: 5}, globals[2])

	g, ok := r.FindGlobal("xdg_wm_base")
	require.True(t, ok)
	assert.Equal(t, uint32(2), g.Name)

	_, ok = r.FindGlobal("wl_shell")
	assert.False(t, ok)

	r.handleGlobalRemove(le32(2))
	_, ok = r.FindGlobal("xdg_wm_base")
	assert.False(t, ok)

	t.Run("handler callback", func(t *testing.T) {
		var gotName, gotVersion uint32
		r.AddHandler("wl_seat", func(_ *Registry, name, version uint32) {
			gotName, gotVersion = name, version
		})
		r.handleGlobal(announce(7, "wl_seat", 9))
		assert.Equal(t, uint32(7), gotName)
		assert.Equal(t, uint32(9), gotVersion)
	})

	t.Run("truncated announcement ignored", func(t *testing.T) {
		before := len(r.GetGlobals())
		r.handleGlobal(le32(3))
		assert.Len(t, r.GetGlobals(), before)
	})
}

func TestEventReaders(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		ev := &Event{data: le32(10, 0xfffffffe, 384)}
		assert.Equal(t, uint32(10), ev.Uint32())
		assert.Equal(t, int32(-2), ev.Int32())
		assert.Equal(t, NewFixed(1.5), ev.Fixed())
		// Reads past the end return zero instead of panicking.
		assert.Equal(t, uint32(0), ev.Uint32())
	})

	t.Run("string with padding", func(t *testing.T) {
		data := append(le32(3), 'h', 'i', 0, 0)
		data = append(data, le32(99)...)
		ev := &Event{data: data}
		assert.Equal(t, "hi", ev.String())
		assert.Equal(t, uint32(99), ev.Uint32(), "offset must skip the padding")
	})

	t.Run("array with padding", func(t *testing.T) {
		data := append(le32(3), 1, 2, 3, 0)
		data = append(data, le32(99)...)
		ev := &Event{data: data}
		assert.Equal(t, []byte{1, 2, 3}, ev.Array())
		assert.Equal(t, uint32(99), ev.Uint32())
	})
}

func TestEventDispatcherHandlers(t *testing.T) {
	t.Run("handler receives the event payload", func(t *testing.T) {
		disp := NewEventDispatcher()
		var got uint32
		disp.RegisterHandler(5, 1, func(event *Event) {
			got = event.Uint32()
		})

		disp.Dispatch(5, 1, le32(77))
		assert.Equal(t, uint32(77), got)
	})

	t.Run("last registration wins", func(t *testing.T) {
		disp := NewEventDispatcher()
		var call int
		disp.RegisterHandler(5, 1, func(event *Event) { call = 1 })
		disp.RegisterHandler(5, 1, func(event *Event) { call = 2 })

		disp.Dispatch(5, 1, nil)
		assert.Equal(t, 2, call)
	})

	t.Run("no handler is a no-op", func(t *testing.T) {
		disp := NewEventDispatcher()
		disp.Dispatch(5, 1, nil)
	})

	t.Run("object IDs beyond the fast table", func(t *testing.T) {
		disp := NewEventDispatcher()
		called := false
		disp.RegisterHandler(100000, 3, func(event *Event) { called = true })
		disp.Dispatch(100000, 3, []byte{1})
		assert.True(t, called)
	})

	t.Run("batch dispatch", func(t *testing.T) {
		disp := NewEventDispatcher()
		var serials []uint32
		disp.RegisterHandler(5, 0, func(event *Event) {
			serials = append(serials, event.Uint32())
		})

		disp.BatchDispatch([]RawEvent{
			{ObjectID: 5, Opcode: 0, Data: le32(1)},
			{ObjectID: 5, Opcode: 0, Data: le32(2)},
		})
		assert.Equal(t, []uint32{1, 2}, serials)
	})
}

func TestDispatchRoutesToProxy(t *testing.T) {
	d, server := pipeDisplay(t)
	ctx := d.Context()

	seat := NewSeat(ctx)
	seat.SetID(ctx.AllocateID())
	ctx.Register(seat)

	// wl_seat.capabilities
	writeMessage(t, server, seat.ID(), 0, le32(3))
	require.NoError(t, d.Dispatch())
	assert.Equal(t, uint32(3), seat.Capabilities())
}

func TestDispatchUnknownObjectIsDropped(t *testing.T) {
	d, server := pipeDisplay(t)

	writeMessage(t, server, 999, 0, le32(1))
	assert.NoError(t, d.Dispatch(), "events for dead objects are not errors")
}

func TestDisplayErrorEvent(t *testing.T) {
	d, server := pipeDisplay(t)

	payload := le32(4, 2) // object, code
	msg := "bad thing"
	payload = append(payload, le32(uint32(len(msg)+1))...)
	payload = append(payload, msg...)
	payload = append(payload, 0)
	for len(payload)%4 != 0 {
		payload = append(payload, 0)
	}
	writeMessage(t, server, 1, 0, payload)

	err := d.Dispatch()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad thing")
	assert.Contains(t, err.Error(), "object 4")
}

func TestDeleteIDRemovesObject(t *testing.T) {
	d, server := pipeDisplay(t)
	ctx := d.Context()

	surf := NewSurface(ctx)
	surf.SetID(ctx.AllocateID())
	ctx.Register(surf)

	writeMessage(t, server, 1, 1, le32(surf.ID()))
	require.NoError(t, d.Dispatch())

	_, ok := d.objects.Load(surf.ID())
	assert.False(t, ok)
}

func TestRoundtrip(t *testing.T) {
	d, server := pipeDisplay(t)

	go func() {
		// Read the wl_display.sync request and answer its callback.
		id, opcode, body := readMessage(t, server)
		if id != 1 || opcode != 0 || len(body) != 4 {
			return
		}
		callbackID := binary.LittleEndian.Uint32(body)
		writeMessage(t, server, callbackID, 0, le32(1)) // done
	}()

	require.NoError(t, d.Roundtrip())
}

func TestConnectRequiresRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("WAYLAND_DISPLAY", "")

	_, err := Connect("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XDG_RUNTIME_DIR")
}

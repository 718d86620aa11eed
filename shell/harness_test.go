package shell

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/wlshell"
)

// The tests drive a real Display over one end of a socketpair while the
// test plays compositor on the other end: it writes native events for the
// client to dispatch and reads back the requests the adapters emit.

func newTestDisplay(t *testing.T) (*wlshell.Display, *net.UnixConn) {
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
	require.True(t, ok, "socketpair should yield unix connections")

	return wlshell.NewDisplay(clientConn), server
}

// newDrawableSurface registers a bare wl_surface proxy to hang a shell role on.
func newDrawableSurface(t *testing.T, d *wlshell.Display) *wlshell.Surface {
	t.Helper()
	ctx := d.Context()
	surf := wlshell.NewSurface(ctx)
	surf.SetID(ctx.AllocateID())
	ctx.Register(surf)
	return surf
}

// writeEvent injects a native event on the server side of the connection.
func writeEvent(t *testing.T, server *net.UnixConn, objectID uint32, opcode uint16, payload []byte) {
	t.Helper()
	msg := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(msg[0:4], objectID)
	binary.LittleEndian.PutUint32(msg[4:8], uint32(8+len(payload))<<16|uint32(opcode))
	copy(msg[8:], payload)
	_, err := server.Write(msg)
	require.NoError(t, err)
}

func u32(vals ...uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func i32(vals ...int32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

// stateArray encodes a wire array of uint32 state values.
func stateArray(vals ...uint32) []byte {
	return append(u32(uint32(4*len(vals))), u32(vals...)...)
}

// toplevelConfigure builds the payload of an xdg/zxdg toplevel configure
// event: width, height, state array.
func toplevelConfigure(width, height int32, states ...uint32) []byte {
	return append(i32(width, height), stateArray(states...)...)
}

type request struct {
	id     uint32
	opcode uint16
	data   []byte
}

// drainRequests reads every request currently buffered on the server side.
func drainRequests(t *testing.T, server *net.UnixConn) []request {
	t.Helper()
	require.NoError(t, server.SetReadDeadline(time.Now().Add(50*time.Millisecond)))

	var buf bytes.Buffer
	tmp := make([]byte, 4096)
	for {
		n, err := server.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil {
			break
		}
	}

	data := buf.Bytes()
	var reqs []request
	for len(data) >= 8 {
		id := binary.LittleEndian.Uint32(data[0:4])
		sizeOpcode := binary.LittleEndian.Uint32(data[4:8])
		size := int(sizeOpcode >> 16)
		opcode := uint16(sizeOpcode & 0xffff)
		require.GreaterOrEqual(t, size, 8, "request size must include the header")
		require.LessOrEqual(t, size, len(data), "truncated request")
		reqs = append(reqs, request{
			id:     id,
			opcode: opcode,
			data:   append([]byte(nil), data[8:size]...),
		})
		data = data[size:]
	}
	return reqs
}

func findRequest(reqs []request, id uint32, opcode uint16) (request, bool) {
	for _, r := range reqs {
		if r.id == id && r.opcode == opcode {
			return r, true
		}
	}
	return request{}, false
}

// recorder collects canonical events delivered to the caller callback.
type recorder struct {
	events []Event
}

func (r *recorder) cb(e Event) {
	r.events = append(r.events, e)
}

func (r *recorder) configures() []ConfigureEvent {
	var out []ConfigureEvent
	for _, e := range r.events {
		if c, ok := e.(ConfigureEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) closes() int {
	n := 0
	for _, e := range r.events {
		if _, ok := e.(CloseEvent); ok {
			n++
		}
	}
	return n
}

// setupXdg builds a Current-variant handle and drains the creation requests.
func setupXdg(t *testing.T) (*wlshell.Display, *net.UnixConn, *xdgSurface, *recorder) {
	t.Helper()
	d, server := newTestDisplay(t)
	ctx := d.Context()

	base := NewWmBase(ctx)
	base.SetID(ctx.AllocateID())
	ctx.Register(base)

	surf := newDrawableSurface(t, d)

	rec := &recorder{}
	handle, err := Create(ShellFromXdg(base), surf, rec.cb)
	require.NoError(t, err)

	s, ok := handle.(*xdgSurface)
	require.True(t, ok)

	drainRequests(t, server) // discard creation traffic
	return d, server, s, rec
}

// setupZxdg builds a Versioned-variant handle and drains the creation requests.
func setupZxdg(t *testing.T) (*wlshell.Display, *net.UnixConn, *zxdgSurface, *recorder) {
	t.Helper()
	d, server := newTestDisplay(t)
	ctx := d.Context()

	sh := NewZxdgShell(ctx)
	sh.SetID(ctx.AllocateID())
	ctx.Register(sh)

	surf := newDrawableSurface(t, d)

	rec := &recorder{}
	handle, err := Create(ShellFromZxdg(sh), surf, rec.cb)
	require.NoError(t, err)

	s, ok := handle.(*zxdgSurface)
	require.True(t, ok)

	drainRequests(t, server)
	return d, server, s, rec
}

// setupWl builds a Legacy-variant handle and drains the creation requests.
func setupWl(t *testing.T) (*wlshell.Display, *net.UnixConn, *wlSurface, *recorder) {
	t.Helper()
	d, server := newTestDisplay(t)
	ctx := d.Context()

	sh := NewWlShell(ctx)
	sh.SetID(ctx.AllocateID())
	ctx.Register(sh)

	surf := newDrawableSurface(t, d)

	rec := &recorder{}
	handle, err := Create(ShellFromWl(sh), surf, rec.cb)
	require.NoError(t, err)

	s, ok := handle.(*wlSurface)
	require.True(t, ok)

	drainRequests(t, server)
	return d, server, s, rec
}

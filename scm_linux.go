//go:build linux
// +build linux

package wlshell

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// fdQueue is a lock-free multi-producer single-consumer queue for file descriptors
type fdQueue struct {
	items [256]atomic.Pointer[fdItem]
	head  atomic.Uint64
	tail  atomic.Uint64
}

type fdItem struct {
	fd   int
	next atomic.Pointer[fdItem]
}

var (
	// Global FD queue for zero-allocation FD passing
	globalFDQueue = &fdQueue{}

	// Pre-allocated FD items pool
	fdItemPool = sync.Pool{
		New: func() interface{} {
			return &fdItem{}
		},
	}

	// Pre-allocated buffers for control messages
	controlBufferPool = sync.Pool{
		New: func() interface{} {
			return make([]byte, unix.CmsgSpace(4*4)) // Space for 4 FDs
		},
	}
)

// enqueueFD adds a file descriptor to the lock-free queue
func (q *fdQueue) enqueueFD(fd int) {
	item := fdItemPool.Get().(*fdItem)
	item.fd = fd
	item.next.Store(nil)

	for {
		tail := q.tail.Load()
		next := tail & 255

		if q.items[next].CompareAndSwap(nil, item) {
			q.tail.Add(1)
			return
		}
		// Retry if CAS failed
	}
}

// dequeueFD removes and returns a file descriptor from the queue
func (q *fdQueue) dequeueFD() (int, bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()

		if head >= tail {
			return -1, false
		}

		next := head & 255
		item := q.items[next].Load()

		if item == nil {
			continue
		}

		if q.head.CompareAndSwap(head, head+1) {
			fd := item.fd
			q.items[next].Store(nil)
			fdItemPool.Put(item)
			return fd, true
		}
	}
}

// recvmsg receives a message potentially carrying file descriptors.
// Connections that are not unix sockets (test transports) fall back to a
// plain read and can never carry descriptors.
func (d *Display) recvmsg(buf []byte) (n int, fds []int, err error) {
	uc, ok := d.conn.(*net.UnixConn)
	if !ok {
		n, err = d.conn.Read(buf)
		return n, nil, err
	}

	// Get control buffer from pool
	oob := controlBufferPool.Get().([]byte)
	defer controlBufferPool.Put(oob)

	// Receive message with control data
	n, oobn, _, _, err := uc.ReadMsgUnix(buf, oob)
	if err != nil {
		return 0, nil, err
	}

	// Parse control messages if any
	if oobn > 0 {
		scms, err := syscall.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return n, nil, fmt.Errorf("parse control message: %w", err)
		}

		for _, scm := range scms {
			if scm.Header.Type == syscall.SCM_RIGHTS {
				// Parse unix rights (file descriptors)
				parsedFDs, err := syscall.ParseUnixRights(&scm)
				if err != nil {
					return n, nil, fmt.Errorf("parse unix rights: %w", err)
				}

				// Queue the FDs for consumption by Event.Fd
				for _, fd := range parsedFDs {
					globalFDQueue.enqueueFD(fd)
				}

				fds = append(fds, parsedFDs...)
			}
		}
	}

	return n, fds, nil
}

// sendmsg sends a message potentially carrying file descriptors
func (d *Display) sendmsg(buf []byte, fds []int) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if len(fds) == 0 {
		// Fast path: no FDs to send
		_, err := d.conn.Write(buf)
		return err
	}

	uc, ok := d.conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("fd passing requires a unix socket connection")
	}

	// Create control message with file descriptors
	oob := syscall.UnixRights(fds...)

	// Send message with control data
	_, _, err := uc.WriteMsgUnix(buf, oob, nil)
	return err
}

// GetNextFD retrieves the next file descriptor from the queue
func GetNextFD() (int, bool) {
	return globalFDQueue.dequeueFD()
}

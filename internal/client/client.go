// Package client speaks the flicd protocol over a single TCP session. One
// goroutine runs the event loop, which reads frames, dispatches them to the
// registered entities and runs timers; everything else may be called from
// any goroutine.
package client

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"openfms/flic/internal/protocol"
)

// DefaultPort is the port flicd listens on unless configured otherwise.
const DefaultPort = 5551

var log = logging.MustGetLogger("flic")

// Client is one session with flicd.
type Client struct {
	conn  net.Conn
	r     *bufio.Reader
	epoch time.Time
	reg   *registry

	writeMu sync.Mutex

	mu          sync.Mutex
	timers      timerQueue
	reading     bool
	armed       bool
	armedAt     int64
	running     bool
	closed      bool
	general     GeneralHandler
	pings       map[uint32]func()
	nextPingID  uint32
	wakeupPings atomic.Uint64

	// Touched only on the event loop goroutine.
	infoQueue       []func(InfoResponse)
	buttonInfoQueue []func(ButtonInfo)
}

// New wraps an established connection to flicd.
func New(conn net.Conn) *Client {
	return &Client{
		conn:  conn,
		r:     bufio.NewReader(conn),
		epoch: time.Now(),
		reg:   newRegistry(),
		pings: make(map[uint32]func()),
	}
}

// Dial connects to flicd at host:port.
func Dial(ctx context.Context, host string, port int) (*Client, error) {
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial flicd %s", addr)
	}
	log.Infof("[Client] Connected to flicd at %s", addr)
	return New(conn), nil
}

// RemoteAddr returns the daemon's network address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetGeneralHandler installs the sink for session wide events. It may be
// called at any time; nil discards them.
func (c *Client) SetGeneralHandler(h GeneralHandler) {
	c.mu.Lock()
	c.general = h
	c.mu.Unlock()
}

// Send encodes cmd and writes it as one frame. Concurrent calls never
// interleave their bytes.
func (c *Client) Send(cmd protocol.Command) error {
	if c.isClosed() {
		return ErrClosed
	}
	frame, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return errors.Wrapf(err, "send opcode %d", cmd.Opcode())
	}
	return nil
}

// SetTimer runs action on the event loop goroutine once delay has passed.
// Actions with equal deadlines run in the order they were set. A timer that
// is earlier than the one the loop is currently waiting for wakes the loop
// up.
func (c *Client) SetTimer(delay time.Duration, action func()) {
	if delay < 0 {
		delay = 0
	}
	c.mu.Lock()
	deadline := c.timers.schedule(c.now()+int64(delay), action)
	ping := false
	if c.reading && (!c.armed || deadline < c.armedAt) {
		if err := c.conn.SetReadDeadline(time.Now()); err != nil {
			ping = true
		} else {
			c.armed, c.armedAt = true, c.now()
		}
	}
	c.mu.Unlock()
	if ping {
		// Connections without deadline support are woken by the daemon's
		// answer instead.
		c.wakeupPings.Add(1)
		if err := c.Send(&protocol.CmdPing{PingID: c.allocPing(nil)}); err != nil {
			log.Warningf("[Client] Wake up ping: %v", err)
		}
	}
}

// Ping asks the daemon for a round trip. done runs on the event loop when
// the answer arrives.
func (c *Client) Ping(done func()) error {
	return c.Send(&protocol.CmdPing{PingID: c.allocPing(done)})
}

func (c *Client) allocPing(done func()) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextPingID++
	if done != nil {
		c.pings[c.nextPingID] = done
	}
	return c.nextPingID
}

// Close ends the session. A running RunForever returns nil.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// RunForever runs the event loop on the calling goroutine until the
// connection fails or Close is called. It returns nil after Close and the
// transport error otherwise; io.EOF means the daemon closed the stream.
// The connection is closed on return.
func (c *Client) RunForever() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.running = true
	c.mu.Unlock()

	err := c.loop()

	c.mu.Lock()
	explicit := c.closed
	c.closed = true
	c.reading = false
	c.mu.Unlock()
	c.conn.Close()

	if explicit {
		log.Debug("[Client] Event loop stopped by close")
		return nil
	}
	log.Infof("[Client] Event loop stopped: %v", err)
	return err
}

func (c *Client) loop() error {
	for {
		c.runDueTimers()
		if !c.armRead() {
			continue
		}
		frame, ok, err := c.readFrame()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}
		if ok {
			c.dispatchFrame(frame)
		}
	}
}

func (c *Client) runDueTimers() {
	for {
		c.mu.Lock()
		action, ok := c.timers.popIfDue(c.now())
		c.mu.Unlock()
		if !ok {
			return
		}
		action()
	}
}

// armRead sets the read deadline to the earliest timer and marks the loop as
// blocked in a read. It reports false when a timer is already due.
func (c *Client) armRead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var deadline time.Time
	next, pending := c.timers.peekEarliest()
	if pending {
		if next <= c.now() {
			return false
		}
		deadline = c.epoch.Add(time.Duration(next))
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		log.Debugf("[Client] Set read deadline: %v", err)
	}
	c.reading = true
	c.armed, c.armedAt = pending, next
	return true
}

func (c *Client) disarmRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading, c.armed = false, false
	c.conn.SetReadDeadline(time.Time{})
}

// readFrame waits for the first byte of a frame under the armed deadline and
// reads the rest without one, so a timeout never splits a frame. ok is false
// for idle frames.
func (c *Client) readFrame() (protocol.Frame, bool, error) {
	first, err := c.r.ReadByte()
	c.disarmRead()
	if err != nil {
		return protocol.Frame{}, false, err
	}
	second, err := c.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return protocol.Frame{}, false, errors.Wrap(err, "read frame length")
	}
	n := int(binary.LittleEndian.Uint16([]byte{first, second}))
	if n == 0 {
		return protocol.Frame{}, false, nil
	}
	frame, err := protocol.ReadFrameBody(c.r, n)
	if err != nil {
		return protocol.Frame{}, false, err
	}
	return frame, true, nil
}

func (c *Client) now() int64 {
	return int64(time.Since(c.epoch))
}

// Stats is a snapshot of the session's live entities and pending work.
type Stats struct {
	Scanners, Channels, Wizards, Listeners int
	Timers                                 int
	WakeupPings                            uint64
}

// Stats reports the current entity, timer and wake-up ping counts.
func (c *Client) Stats() Stats {
	var s Stats
	s.Scanners, s.Channels, s.Wizards, s.Listeners = c.reg.counts()
	c.mu.Lock()
	s.Timers = c.timers.len()
	c.mu.Unlock()
	s.WakeupPings = c.wakeupPings.Load()
	return s
}

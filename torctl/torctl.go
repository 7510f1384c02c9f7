// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: torctl.go — Raw-TCP Tor control-port client & event parser
//
// Purpose:
//   - Attaches to the local tor control port, authenticates, and subscribes
//     to asynchronous STREAM and CIRC events.
//   - Splits the line-oriented reply stream out of a fixed read buffer and
//     hands decoded events to caller-supplied handlers.
//
// Notes:
//   - The control protocol is line oriented ("250 OK", "650 STREAM ...");
//     only the event surface this system consumes is decoded here.
//   - Fixed buffers, view-based tokens: the read loop allocates nothing
//     per event. Handlers must not retain token slices across calls.
//
// ⚠️ SINGLE READER — one goroutine owns the connection and its buffer.
// ─────────────────────────────────────────────────────────────────────────────

package torctl

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
	"github.com/Insider77Circle/Quantum-Topology-Prox/control"
	"github.com/Insider77Circle/Quantum-Topology-Prox/debug"
	"github.com/Insider77Circle/Quantum-Topology-Prox/utils"
)

// ───────────────────────────── Errors ───────────────────────────────────────

var (
	// ErrAuthFailed indicates the control port rejected AUTHENTICATE.
	ErrAuthFailed = errors.New("control port authentication rejected")

	// ErrProtocol indicates an unparseable or oversized reply line.
	ErrProtocol = errors.New("control port protocol violation")

	// ErrShutdown indicates the read loop unwound because the global
	// stop flag latched, not because the transport failed.
	ErrShutdown = errors.New("control port reader stopped by shutdown")
)

// ───────────────────────────── Event Model ──────────────────────────────────

// EventKind distinguishes the two asynchronous event families consumed.
type EventKind uint8

const (
	EventStream EventKind = iota
	EventCirc
)

// Event is one decoded 650 line. Status and Target are views into the
// read buffer — valid only until the handler returns.
type Event struct {
	Kind      EventKind
	StreamID  uint64
	CircuitID uint64
	Status    []byte
	Target    []byte
}

// Handlers carries the caller's event callbacks. Nil members are
// skipped. Handlers run on the connection's reader goroutine; a slow
// handler backpressures the socket, which is the intended behavior for
// timing injection (the delay IS the product).
type Handlers struct {
	OnStream func(ev Event)
	OnCirc   func(ev Event)
}

// ───────────────────────────── Client ───────────────────────────────────────

// Client owns one authenticated control-port connection.
type Client struct {
	conn *net.TCPConn
	buf  [constants.CtrlReadBuffer]byte
	used int // bytes of buf holding unconsumed partial line
}

// Dial connects to the control port with the same socket discipline the
// event path uses everywhere: Nagle off, sized kernel buffers.
func Dial(addr string) (*Client, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	tcp := raw.(*net.TCPConn)
	tcp.SetNoDelay(true)
	tcp.SetReadBuffer(constants.CtrlReadBuffer)
	tcp.SetWriteBuffer(constants.CtrlReadBuffer)

	// SyscallConn (not File/Fd) keeps the socket on the runtime poller
	// so the readLine deadline poll stays effective.
	if sc, serr := tcp.SyscallConn(); serr == nil {
		sc.Control(func(fd uintptr) {
			syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
		})
	}

	return &Client{conn: tcp}, nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }

// quoteString renders a control-protocol QuotedString: backslash and
// double-quote escaped, wrapped in double quotes.
func quoteString(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}

// Authenticate performs AUTHENTICATE with an optional password and
// expects a 250 reply. The password travels as a QuotedString, so
// quotes and backslashes in it cannot break the command.
func (c *Client) Authenticate(password string) error {
	cmd := "AUTHENTICATE\r\n"
	if password != "" {
		cmd = "AUTHENTICATE " + quoteString(password) + "\r\n"
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if len(line) < 3 || line[0] != '2' {
		return ErrAuthFailed
	}
	return nil
}

// Subscribe registers for STREAM and CIRC events.
func (c *Client) Subscribe() error {
	if _, err := c.conn.Write([]byte("SETEVENTS STREAM CIRC\r\n")); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if len(line) < 3 || line[0] != '2' {
		return ErrProtocol
	}
	return nil
}

// Run consumes the event stream until the connection fails or shutdown
// is requested. Every 650 line is decoded and dispatched; other replies
// are ignored. Returns the transport error that ended the loop.
func (c *Client) Run(h Handlers) error {
	for !control.IsShutdown() {
		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, ErrShutdown) {
				return nil
			}
			return err
		}
		ev, ok := ParseEventLine(line)
		if !ok {
			if len(line) >= 3 && line[0] == '6' && line[1] == '5' && line[2] == '0' {
				DropUnparseable(line)
			}
			continue
		}
		control.SignalActivity()
		switch ev.Kind {
		case EventStream:
			if h.OnStream != nil {
				h.OnStream(ev)
			}
		case EventCirc:
			if h.OnCirc != nil {
				h.OnCirc(ev)
			}
		}
	}
	return nil
}

// readLine returns the next CRLF-terminated line as a view into the
// client buffer, compacting consumed bytes. Lines beyond CtrlLineMax
// are a protocol violation. Each socket read carries a short deadline
// so a quiet control port cannot park the reader past a shutdown
// request: on a timed-out read the stop flag is re-checked and, once
// latched, surfaced as ErrShutdown to unwind the caller.
func (c *Client) readLine() ([]byte, error) {
	for {
		// Scan what we already have.
		for i := 0; i+1 < c.used; i++ {
			if c.buf[i] == '\r' && c.buf[i+1] == '\n' {
				line := c.buf[:i]
				rest := c.used - (i + 2)
				copy(c.buf[:rest], c.buf[i+2:c.used])
				c.used = rest
				return line, nil
			}
		}
		if c.used > constants.CtrlLineMax {
			return nil, ErrProtocol
		}
		c.conn.SetReadDeadline(time.Now().Add(constants.CtrlReadPoll))
		n, err := c.conn.Read(c.buf[c.used:])
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if control.IsShutdown() {
					return nil, ErrShutdown
				}
				continue
			}
			return nil, err
		}
		c.used += n
	}
}

// ───────────────────────────── Line Parser ──────────────────────────────────

// ParseEventLine decodes one asynchronous reply line. Pure over its
// input; exercised directly by tests.
//
// Shapes consumed:
//
//	650 STREAM <StreamID> <Status> <CircuitID> <Target> ...
//	650 CIRC <CircuitID> <Status> ...
func ParseEventLine(line []byte) (Event, bool) {
	toks := tokenize(line)
	if len(toks) < 3 || string(toks[0]) != "650" {
		return Event{}, false
	}

	switch {
	case string(toks[1]) == "STREAM" && len(toks) >= 5:
		return Event{
			Kind:      EventStream,
			StreamID:  parseID(toks[2]),
			Status:    toks[3],
			CircuitID: parseID(toks[4]),
			Target:    tokenOrNil(toks, 5),
		}, true
	case string(toks[1]) == "CIRC" && len(toks) >= 4:
		return Event{
			Kind:      EventCirc,
			CircuitID: parseID(toks[2]),
			Status:    toks[3],
		}, true
	}
	return Event{}, false
}

// tokenize splits on single spaces without allocating token contents.
func tokenize(line []byte) [][]byte {
	toks := make([][]byte, 0, 8)
	start := -1
	for i := 0; i <= len(line); i++ {
		if i == len(line) || line[i] == ' ' {
			if start >= 0 {
				toks = append(toks, line[start:i])
				start = -1
			}
			if len(toks) == 8 {
				break
			}
		} else if start < 0 {
			start = i
		}
	}
	return toks
}

// parseID maps a control-port identifier token to uint64. Purely
// numeric identifiers parse as decimal; anything else folds to a
// stable 64-bit fingerprint so alphanumeric ids still key circuit
// state consistently.
func parseID(tok []byte) uint64 {
	for _, c := range tok {
		if c < '0' || c > '9' {
			return utils.FoldBytes(tok)
		}
	}
	return utils.ParseU64Dec(tok)
}

func tokenOrNil(toks [][]byte, i int) []byte {
	if i < len(toks) {
		return toks[i]
	}
	return nil
}

// ───────────────────────────── Status Probes ────────────────────────────────

// IsNewStream reports whether a stream status names a circuit
// attachment event — the moment timing perturbation applies.
func IsNewStream(status []byte) bool {
	s := string(status)
	return s == "NEW" || s == "NEWRESOLVE"
}

// IsCircuitGone reports whether a circuit status terminates the
// circuit's lifecycle.
func IsCircuitGone(status []byte) bool {
	s := string(status)
	return s == "CLOSED" || s == "FAILED"
}

// DropUnparseable is a cold-path diagnostic for rejected lines.
func DropUnparseable(line []byte) {
	debug.DropMessage("CTRL_SKIP", utils.B2s(line))
}

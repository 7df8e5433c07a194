package rsp

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/epiphany-tools/erspd/pkg/logflags"
)

// ErrBreak is returned by Conn.ReadPacket when the client sends a raw
// out-of-band break (0x03) instead of a framed packet. It signals the
// dispatcher that GDB pressed Ctrl-C during a continue.
var ErrBreak = errors.New("rsp: received out-of-band break")

// Conn is a single GDB RSP session over a stream connection. It owns
// packet framing, acknowledgement, and break detection; it knows nothing
// about what any packet means.
type Conn struct {
	nc  net.Conn
	rdr *bufio.Reader
	log logflags.Logger

	noAckMode bool
}

// NewConn wraps an accepted connection for RSP exchange.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:  nc,
		rdr: bufio.NewReader(nc),
		log: logflags.WireLogger(),
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// SetReadDeadline lets a caller bound how long ReadPacket may block, used
// by the continue/step poll loop to interleave break detection with
// target polling.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// SendAck writes a bare '+' or '-' acknowledgement.
func (c *Conn) SendAck(ok bool) error {
	if c.noAckMode {
		return nil
	}
	b := byte('+')
	if !ok {
		b = '-'
	}
	_, err := c.nc.Write([]byte{b})
	return err
}

// ReadPacket blocks for the next framed packet, verifies its checksum,
// acknowledges it, and returns the raw payload (unescaped). It returns
// ErrBreak if the client instead sent a bare 0x03.
func (c *Conn) ReadPacket() ([]byte, error) {
	for {
		b, err := c.rdr.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case 0x03:
			c.log.Debugf("recv break")
			return nil, ErrBreak
		case '+', '-':
			continue // stray ack, ignore
		case '$':
			payload, checksum, err := c.readFramedBody()
			if err != nil {
				return nil, err
			}
			if Checksum(payload) != checksum {
				c.log.Debugf("bad checksum, nacking")
				if err := c.SendAck(false); err != nil {
					return nil, err
				}
				continue
			}
			if err := c.SendAck(true); err != nil {
				return nil, err
			}
			c.log.Debugf("recv $%s#%02x", payload, checksum)
			return Unescape(payload), nil
		default:
			continue
		}
	}
}

func (c *Conn) readFramedBody() (payload []byte, checksum byte, err error) {
	for {
		b, err := c.rdr.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		if b == '#' {
			break
		}
		payload = append(payload, b)
	}
	hi, err := c.rdr.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	lo, err := c.rdr.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	hiN, ok1 := HexNibble(hi)
	loN, ok2 := HexNibble(lo)
	if !ok1 || !ok2 {
		return nil, 0, errors.New("rsp: malformed checksum trailer")
	}
	return payload, hiN<<4 | loN, nil
}

// WritePacket frames and transmits a reply, retrying if the peer nacks
// with '-'. maxAttempts bounds the retry loop the way gdbserver_conn.go's
// maxTransmitAttempts does.
func (c *Conn) WritePacket(payload []byte) error {
	const maxAttempts = 3
	framed := Frame(payload)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c.log.Debugf("send %s", framed)
		if _, err := c.nc.Write(framed); err != nil {
			return err
		}
		if c.noAckMode {
			return nil
		}
		ack, err := c.rdr.ReadByte()
		if err != nil {
			return err
		}
		if ack == '+' {
			return nil
		}
		if ack != '-' {
			return errors.New("rsp: unexpected ack byte")
		}
	}
	return errors.New("rsp: peer would not acknowledge packet")
}

// IsTimeout reports whether err is a network read deadline expiry, the
// signal the poll loop uses to keep checking the target without blocking
// forever on the client socket.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// IsClosed reports whether err indicates the peer went away.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

/*Package comm provides an embeddable type for line-oriented communication
with lab hardware over RS-232 or TCP.

Most usages of this package will boil down to:
	1.  embed RemoteDevice in a type that represents your hardware.
	2.  set the terminators and serial configuration the hardware expects
		(the default is a carriage return both ways).
	3.  write methods on your type in terms of SendRecv.

A minimal example is provided below for a sensor that responds to "RD?" with
its current reading:

	type MySensor struct {
		*comm.RemoteDevice
	}

	func (ms *MySensor) Read() (float64, error) {
		resp, err := ms.OpenSendRecv([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when Serial is true and SerialConf is nil
	ErrNoSerialConf = errors.New("device is serial but has no serial configuration")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination bytes are not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the line endings of a device
type Terminators struct {
	// Tx is appended to every message sent
	Tx []byte

	// Rx ends every message received
	Rx []byte
}

// DefaultTerminators are a carriage return both ways
var DefaultTerminators = Terminators{Tx: []byte{'\r'}, Rx: []byte{'\r'}}

/*RemoteDevice has an address and can send and receive lines.

If Serial is true, Addr is the name of the port (COM3, /dev/ttyUSB0) and
SerialConf must be set; otherwise Addr is a host:port.

A RemoteDevice is safe for concurrent use; SendRecv holds the device for the
whole exchange so replies are not interleaved.
*/
type RemoteDevice struct {
	Addr       string
	Serial     bool
	SerialConf *serial.Config
	Term       Terminators

	// Timeout bounds connection and each read or write on TCP
	Timeout time.Duration

	Conn io.ReadWriteCloser

	rdr *bufio.Reader
	mu  sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice.  term may be nil for the default
// terminators.  conf may be nil for TCP devices.
func NewRemoteDevice(addr string, serial bool, term *Terminators, conf *serial.Config) *RemoteDevice {
	rd := &RemoteDevice{
		Addr:       addr,
		Serial:     serial,
		SerialConf: conf,
		Term:       DefaultTerminators,
		Timeout:    3 * time.Second,
	}
	if term != nil {
		rd.Term = *term
	}
	if conf != nil && conf.Name == "" {
		conf.Name = addr
	}
	return rd
}

// Attach uses conn as the connection, e.g. one half of a net.Pipe in tests
func (rd *RemoteDevice) Attach(conn io.ReadWriteCloser) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
}

// Open the connection, setting the Conn variable.  It does nothing when a
// connection is already open
func (rd *RemoteDevice) Open() error {
	return rd.OpenContext(context.Background())
}

// OpenContext is Open, giving up when ctx is done
func (rd *RemoteDevice) OpenContext(ctx context.Context) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	// exponential backoff, serial adapters and terminal servers
	// do not like being connection thrashed
	var last error
	op := func() error {
		err := rd.open()
		if err != nil {
			last = err
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				// nobody is listening, retrying won't help
				return nil
			}
		}
		return err
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
	b.Reset()
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if rd.Conn != nil {
		return nil
	}
	if err == nil {
		err = last
	}
	return fmt.Errorf("connecting to %s: %w", rd.Addr, err)
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.Serial {
		if rd.SerialConf == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.SerialConf)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

func (rd *RemoteDevice) refreshDeadline() {
	if c, ok := rd.Conn.(net.Conn); ok && rd.Timeout > 0 {
		c.SetDeadline(time.Now().Add(rd.Timeout))
	}
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.refreshDeadline()
	msg := make([]byte, 0, len(b)+len(rd.Term.Tx))
	msg = append(append(msg, b...), rd.Term.Tx...)
	_, err := rd.Conn.Write(msg)
	return err
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.refreshDeadline()
	term := rd.Term.Rx
	if len(term) == 0 {
		term = DefaultTerminators.Rx
	}
	var buf []byte
	for {
		chunk, err := rd.rdr.ReadBytes(term[len(term)-1])
		buf = append(buf, chunk...)
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, ErrTerminatorNotFound
			}
			return buf, err
		}
		if bytes.HasSuffix(buf, term) {
			return buf[:len(buf)-len(term)], nil
		}
	}
}

// Send writes data to the remote, appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

// Recv receives data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

// OpenSendRecv opens the connection if needed, then calls SendRecv.  A
// connection that errors is closed so the next call reconnects.
func (rd *RemoteDevice) OpenSendRecv(b []byte) ([]byte, error) {
	if err := rd.Open(); err != nil {
		return nil, err
	}
	resp, err := rd.SendRecv(b)
	if err != nil && !errors.Is(err, ErrTerminatorNotFound) {
		rd.Close()
	}
	return resp, err
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

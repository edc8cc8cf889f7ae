package ipc

import (
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ipc: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 4096,
		MaxMapPairs:      256,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic("ipc: CBOR decoder initialization failed: " + err.Error())
	}
}

// Conn reads one message type and writes the other over a byte stream.
// Writes are safe for concurrent use; reads must come from a single goroutine.
type Conn[In, Out any] struct {
	dec *cbor.Decoder

	mu  sync.Mutex
	enc *cbor.Encoder
}

// WorkerConn is the worker's end: it reads commands and writes reports.
type WorkerConn = Conn[Command, Report]

// SupervisorConn is the supervisor's end: it reads reports and writes commands.
type SupervisorConn = Conn[Report, Command]

// NewWorkerConn wraps the worker's stdin and stdout.
func NewWorkerConn(r io.Reader, w io.Writer) *WorkerConn {
	return newConn[Command, Report](r, w)
}

// NewSupervisorConn wraps the pipes connected to a worker process.
func NewSupervisorConn(r io.Reader, w io.Writer) *SupervisorConn {
	return newConn[Report, Command](r, w)
}

func newConn[In, Out any](r io.Reader, w io.Writer) *Conn[In, Out] {
	return &Conn[In, Out]{
		dec: decMode.NewDecoder(r),
		enc: encMode.NewEncoder(w),
	}
}

// Send encodes msg as a single CBOR data item.
func (c *Conn[In, Out]) Send(msg Out) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(msg)
}

// Receive decodes the next message. io.EOF signals that the peer closed the stream.
func (c *Conn[In, Out]) Receive() (In, error) {
	var msg In
	err := c.dec.Decode(&msg)
	return msg, err
}

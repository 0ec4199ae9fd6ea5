package rpc

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/memfabric/mmc/wire"
)

// DefaultTimeout is spec §5's rpcTimeOut default.
const DefaultTimeout = 60 * time.Second

// frame is one wire message as seen by the rpc layer: the spec-mandated
// header (version/opcode/destRankId) plus an rpc-layer sequence number
// prepended to the body, so replies can be matched to their call without
// widening the wire header spec §6 defines.
type frame struct {
	header wire.FrameHeader
	seq    uint64
	body   []byte
}

const seqSize = 8

func encodeFrameBody(seq uint64, payload []byte) []byte {
	out := make([]byte, seqSize+len(payload))
	binary.LittleEndian.PutUint64(out, seq)
	copy(out[seqSize:], payload)
	return out
}

func decodeFrameBody(body []byte) (seq uint64, payload []byte, err error) {
	if len(body) < seqSize {
		return 0, nil, fmt.Errorf("rpc: frame body too short for seq: %d bytes", len(body))
	}
	return binary.LittleEndian.Uint64(body), body[seqSize:], nil
}

// conn wraps one net.Conn with a write mutex (writes from many goroutines
// interleave whole frames, never partial ones) and exposes a blocking
// readFrame for a caller-owned read loop.
type conn struct {
	nc net.Conn
	mu sync.Mutex
}

func newConn(nc net.Conn) *conn { return &conn{nc: nc} }

func (c *conn) writeFrame(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	body := encodeFrameBody(f.seq, f.body)
	return wire.WriteFrame(c.nc, f.header, body)
}

func (c *conn) readFrame() (frame, error) {
	h, body, err := wire.ReadFrame(c.nc)
	if err != nil {
		return frame{}, err
	}
	seq, payload, err := decodeFrameBody(body)
	if err != nil {
		return frame{}, err
	}
	return frame{header: h, seq: seq, body: payload}, nil
}

func (c *conn) Close() error { return c.nc.Close() }

// Dial opens a transport connection to addr, optionally over TLS when cfg
// is non-nil (spec §6 TLS block).
func Dial(network, addr string, cfg *tls.Config, dialTimeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	if cfg != nil {
		return tls.DialWithDialer(&d, network, addr, cfg)
	}
	return d.Dial(network, addr)
}

// Listen opens a transport listener on addr, optionally over TLS.
func Listen(network, addr string, cfg *tls.Config) (net.Listener, error) {
	if cfg != nil {
		return tls.Listen(network, addr, cfg)
	}
	return net.Listen(network, addr)
}

var errClosed = io.ErrClosedPipe

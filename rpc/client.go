package rpc

import (
	"fmt"
	"net"
	"time"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/mmclog"
	"github.com/memfabric/mmc/wire"
)

// Client is a synchronous RPC client over one persistent connection. Every
// public mmc component (client library, MetaSvc-to-LocalSvc replication)
// talks through one of these. Control-plane calls block until the reply
// frame arrives or rpcTimeOut elapses (spec §5).
type Client struct {
	conn    *conn
	store   *ctxStore
	destID  uint32
	log     *mmclog.Logger
	closeC  chan struct{}
	readErr chan error
}

// NewClient wraps an already-dialed net.Conn (see Dial) as an RPC client
// addressing destRankID, and starts the background read loop that
// dispatches replies to waiting callers.
func NewClient(nc net.Conn, destRankID uint32, log *mmclog.Logger) *Client {
	if log == nil {
		log = mmclog.Nop()
	}
	c := &Client{
		conn:    newConn(nc),
		store:   newCtxStore(1024),
		destID:  destRankID,
		log:     log,
		closeC:  make(chan struct{}),
		readErr: make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		f, err := c.conn.readFrame()
		if err != nil {
			select {
			case c.readErr <- err:
			default:
			}
			return
		}
		c.store.dispatch(f.seq, uint16(f.header.Opcode), f.body, nil)
	}
}

// Call sends a request with the given opcode and payload, and blocks for
// the matching reply (by rpc sequence number) or until timeout elapses.
func (c *Client) Call(opcode wire.Opcode, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	call := c.store.register()
	defer c.store.release(call)

	f := frame{
		header: wire.FrameHeader{Version: wire.ProtocolVersion, Opcode: opcode, DestRankID: c.destID},
		seq:    call.seq,
		body:   payload,
	}
	if err := c.conn.writeFrame(f); err != nil {
		return nil, mmcerr.Newf(mmcerr.Transport, "rpc: write %s: %v", opcode, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-call.replyC:
		if reply.err != nil {
			return nil, mmcerr.Newf(mmcerr.Transport, "rpc: %s: %v", opcode, reply.err)
		}
		return reply.body, nil
	case err := <-c.readErr:
		return nil, mmcerr.Newf(mmcerr.Transport, "rpc: connection lost waiting for %s: %v", opcode, err)
	case <-timer.C:
		return nil, mmcerr.Newf(mmcerr.Timeout, "rpc: %s timed out after %s", opcode, timeout)
	case <-c.closeC:
		return nil, mmcerr.New(mmcerr.Transport, "rpc: client closed")
	}
}

func (c *Client) Close() error {
	select {
	case <-c.closeC:
	default:
		close(c.closeC)
	}
	return c.conn.Close()
}

// Ping issues a bare liveness check (spec §6 control opcode PING).
func (c *Client) Ping(timeout time.Duration) error {
	_, err := c.Call(wire.OpPing, nil, timeout)
	return err
}

func (c *Client) String() string {
	return fmt.Sprintf("rpc.Client{dest=%d}", c.destID)
}

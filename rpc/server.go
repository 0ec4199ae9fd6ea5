package rpc

import (
	"net"
	"sync"

	"github.com/memfabric/mmc/mmclog"
	"github.com/memfabric/mmc/wire"
)

// Handler answers one request body for a given opcode, returning the
// response payload to frame back to the caller.
type Handler func(opcode wire.Opcode, payload []byte) ([]byte, error)

// Server accepts connections and dispatches every request frame to a
// Handler via a fixed-size worker pool (spec §5: "fixed-size worker
// pool... no operation is allowed to block a worker forever").
type Server struct {
	listener net.Listener
	handler  Handler
	log      *mmclog.Logger
	rankID   uint32

	jobs    chan serverJob
	workers int
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeC    chan struct{}
}

type serverJob struct {
	c *conn
	f frame
}

// NewServer builds a Server listening on l, dispatching to handler across
// workers goroutines. rankID is written into every response frame's
// DestRankID field (mirroring it back identifies which rank answered,
// useful when a client multiplexes several rank connections).
func NewServer(l net.Listener, handler Handler, workers int, rankID uint32, log *mmclog.Logger) *Server {
	if workers <= 0 {
		workers = 16
	}
	if log == nil {
		log = mmclog.Nop()
	}
	s := &Server{
		listener: l,
		handler:  handler,
		log:      log,
		rankID:   rankID,
		jobs:     make(chan serverJob, workers*4),
		workers:  workers,
		closeC:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeC:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(newConn(nc))
	}
}

func (s *Server) handleConn(c *conn) {
	defer c.Close()
	for {
		f, err := c.readFrame()
		if err != nil {
			return
		}
		select {
		case s.jobs <- serverJob{c: c, f: f}:
		case <-s.closeC:
			return
		}
	}
}

func (s *Server) worker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.jobs:
			s.process(job)
		case <-s.closeC:
			return
		}
	}
}

func (s *Server) process(job serverJob) {
	respBody, err := s.handler(job.f.header.Opcode, job.f.body)
	if err != nil {
		s.log.Warnf("rpc: handler error for %s: %v", job.f.header.Opcode, err)
		return
	}
	resp := frame{
		header: wire.FrameHeader{Version: wire.ProtocolVersion, Opcode: job.f.header.Opcode, DestRankID: s.rankID},
		seq:    job.f.seq,
		body:   respBody,
	}
	if err := job.c.writeFrame(resp); err != nil {
		s.log.Warnf("rpc: write response for %s: %v", job.f.header.Opcode, err)
	}
}

// Close stops accepting new work; in-flight jobs are allowed to finish.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closeC) })
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

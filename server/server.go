// Package server is the readiness-driven event loop feeding the filter
// chain. A single goroutine multiplexes the listener and all client
// connections through epoll; reads, parsing and phase invocation all
// happen on that goroutine with no suspension points. A hung or slow
// filter therefore stalls every connection — a known property of the
// design, not something the loop works around.
//
// The implementation is Linux-only (epoll).
package server

import (
	"context"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"go.uber.org/zap"

	"github.com/lswasm/lswasm/errors"
	"github.com/lswasm/lswasm/wire"
)

// DefaultMaxRequestBytes bounds the header section of one request.
const DefaultMaxRequestBytes = 64 << 10

// Handler processes one complete request. filter.Chain implements it.
type Handler interface {
	Run(ctx context.Context, req *wire.Request) *wire.Response
}

// Config holds the loop's tunables.
type Config struct {
	// MaxRequestBytes caps the accumulation buffer while waiting for
	// the header terminator. Zero means DefaultMaxRequestBytes.
	MaxRequestBytes int
}

// Server owns the listening socket and all accepted connections.
type Server struct {
	cfg     Config
	lfd     int
	epfd    int
	conns   map[int]*conn
	handler Handler
	logger  *zap.Logger
	quit    atomic.Bool
	readBuf [4096]byte
}

// New wraps an already-listening non-blocking socket fd. The server
// takes ownership of the fd and closes it when Serve returns. A nil
// logger falls back to a no-op logger.
func New(lfd int, handler Handler, cfg Config, logger *zap.Logger) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		lfd:     lfd,
		epfd:    -1,
		conns:   make(map[int]*conn),
		handler: handler,
		logger:  logger,
	}
}

// Serve runs the event loop until Shutdown is called. All open
// connections are closed when the loop exits.
func (s *Server) Serve(ctx context.Context) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "create epoll")
	}
	s.epfd = epfd
	defer s.cleanup()

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(s.lfd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, s.lfd, &ev); err != nil {
		return errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "register listener")
	}

	events := make([]unix.EpollEvent, 64)
	for !s.quit.Load() {
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(errors.PhaseAccept, errors.KindSocket, err, "epoll wait")
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.lfd {
				// Shutdown wakes the wait by shutting the listener down.
				if s.quit.Load() {
					continue
				}
				s.acceptAll()
				continue
			}
			s.readReady(ctx, fd)
		}
	}
	return nil
}

// Shutdown requests a cooperative stop. Shutting the listening socket
// down interrupts an in-progress epoll wait.
func (s *Server) Shutdown() {
	s.quit.Store(true)
	if err := unix.Shutdown(s.lfd, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		s.logger.Warn("shutdown listener", zap.Error(err))
	}
}

// acceptAll drains the listener: accept until nothing is pending,
// registering each new connection for read readiness.
func (s *Server) acceptAll() {
	for {
		fd, _, err := unix.Accept4(s.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EAGAIN:
			return
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			s.logger.Warn("accept failed", zap.Error(err))
			return
		}

		c := &conn{fd: fd, state: stateReading}
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			s.logger.Warn("register connection", zap.Int("fd", fd), zap.Error(err))
			unix.Close(fd)
			continue
		}
		s.conns[fd] = c
		s.logger.Debug("connection accepted", zap.Int("fd", fd))
	}
}

// readReady drains available bytes into the connection buffer and
// dispatches synchronously once a complete request is buffered. The
// loop does not yield mid-request. A client that half-closes after
// sending a complete request still gets its response; EOF drops the
// connection only when the buffered request is incomplete.
func (s *Server) readReady(ctx context.Context, fd int) {
	c := s.conns[fd]
	if c == nil || c.state != stateReading {
		return
	}

	eof := false
	for {
		n, err := unix.Read(fd, s.readBuf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			// Non-retryable receive error: no response.
			s.closeConn(c)
			return
		}
		if n == 0 {
			// Half-close. The client finished sending; whatever is
			// buffered is the whole request, complete or not.
			eof = true
			break
		}
		c.buf = append(c.buf, s.readBuf[:n]...)
	}

	total, ok, err := wire.Complete(c.buf)
	if err != nil {
		s.logger.Debug("malformed request framing", zap.Int("fd", fd), zap.Error(err))
		s.closeConn(c)
		return
	}
	if !ok {
		if eof {
			s.closeConn(c)
			return
		}
		if !wire.HasHeader(c.buf) && len(c.buf) > s.cfg.MaxRequestBytes {
			s.logger.Warn("request exceeds limit",
				zap.Int("fd", fd),
				zap.Error(errors.OversizedRequest(len(c.buf), s.cfg.MaxRequestBytes)))
			s.closeConn(c)
		}
		return
	}

	c.state = stateProcessing
	s.process(ctx, c, c.buf[:total])
	s.closeConn(c)
}

// process parses the buffered request and writes exactly one response.
// Malformed requests get no response at all.
func (s *Server) process(ctx context.Context, c *conn, raw []byte) {
	req, err := wire.Parse(raw)
	if err != nil {
		s.logger.Debug("malformed request", zap.Int("fd", c.fd), zap.Error(err))
		return
	}

	resp := s.handler.Run(ctx, req)
	if err := s.writeAll(c.fd, resp.Bytes()); err != nil {
		s.logger.Debug("write response", zap.Int("fd", c.fd), zap.Error(err))
	}
}

// writeAll writes buf fully to the non-blocking fd, polling for write
// readiness on short writes.
func (s *Server) writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		switch err {
		case nil:
			buf = buf[n:]
		case unix.EINTR:
		case unix.EAGAIN:
			pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			if _, perr := unix.Poll(pfd, 1000); perr != nil && perr != unix.EINTR {
				return errors.Wrap(errors.PhaseWrite, errors.KindSocket, perr, "poll for write")
			}
		default:
			return errors.Wrap(errors.PhaseWrite, errors.KindSocket, err, "write")
		}
	}
	return nil
}

// closeConn destroys the connection exactly once.
func (s *Server) closeConn(c *conn) {
	if c.state == stateClosed {
		return
	}
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	unix.Close(c.fd)
	c.state = stateClosed
	delete(s.conns, c.fd)
	s.logger.Debug("connection closed", zap.Int("fd", c.fd))
}

// cleanup closes all open connections, the epoll instance and the
// listener.
func (s *Server) cleanup() {
	for _, c := range s.conns {
		s.closeConn(c)
	}
	if s.epfd >= 0 {
		unix.Close(s.epfd)
		s.epfd = -1
	}
	unix.Close(s.lfd)
}

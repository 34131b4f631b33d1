package server

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/lswasm/lswasm/errors"
)

const listenBacklog = 128

// ListenTCP opens a non-blocking TCP listening socket on port, bound
// to all interfaces.
func ListenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "create socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "set SO_REUSEADDR")
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "bind")
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "listen")
	}
	return fd, nil
}

// ListenUnix opens a non-blocking Unix domain listening socket at
// path. A stale socket file is removed first; the new one gets
// owner-only permissions.
func ListenUnix(path string) (int, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "remove stale socket")
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "create socket")
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "bind")
	}
	if err := os.Chmod(path, 0o600); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "chmod socket")
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return -1, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "listen")
	}
	return fd, nil
}

// LocalPort returns the bound TCP port, useful when listening on port 0.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseListen, errors.KindSocket, err, "getsockname")
	}
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, errors.InvalidInput(errors.PhaseListen, "not a TCP listener")
	}
	return inet4.Port, nil
}

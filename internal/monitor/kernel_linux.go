//go:build linux

package monitor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fadcrypt/fadcrypt/internal/fanotify"
	"golang.org/x/sys/unix"
)

type fanotifyKernel struct {
	fd        int
	wakeRead  int
	wakeWrite int
	closeOnce sync.Once
}

func openKernel() (kernel, error) {
	fd, err := unix.FanotifyInit(
		unix.FAN_CLASS_CONTENT|unix.FAN_CLOEXEC|unix.FAN_NONBLOCK,
		unix.O_RDONLY|unix.O_LARGEFILE|unix.O_CLOEXEC,
	)
	if err != nil {
		if errors.Is(err, unix.ENOSYS) {
			return nil, fmt.Errorf("%w: fanotify_init: %v", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("fanotify_init: %w", err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	return &fanotifyKernel{fd: fd, wakeRead: pipe[0], wakeWrite: pipe[1]}, nil
}

func markMask(isDir bool) uint64 {
	mask := uint64(fanotify.FAN_OPEN_PERM | fanotify.FAN_ACCESS_PERM)
	if isDir {
		mask |= fanotify.FAN_EVENT_ON_CHILD | fanotify.FAN_ONDIR
	}
	return mask
}

func (k *fanotifyKernel) Mark(path string, isDir bool) error {
	return unix.FanotifyMark(k.fd, unix.FAN_MARK_ADD, markMask(isDir), unix.AT_FDCWD, path)
}

func (k *fanotifyKernel) Unmark(path string, isDir bool) error {
	return unix.FanotifyMark(k.fd, unix.FAN_MARK_REMOVE, markMask(isDir), unix.AT_FDCWD, path)
}

func (k *fanotifyKernel) Read(buf []byte) (int, error) {
	fds := []unix.PollFd{
		{Fd: int32(k.fd), Events: unix.POLLIN},
		{Fd: int32(k.wakeRead), Events: unix.POLLIN},
	}

	for {
		n, err := unix.Read(k.fd, buf)
		if err == nil {
			return n, nil
		}
		if err != unix.EAGAIN && err != unix.EINTR {
			return 0, err
		}

		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); err != nil && err != unix.EINTR {
			return 0, fmt.Errorf("poll: %w", err)
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			var drain [64]byte
			for {
				if _, err := unix.Read(k.wakeRead, drain[:]); err != nil {
					break
				}
			}
			return 0, errWoken
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return 0, fmt.Errorf("fanotify descriptor failed: revents %#x", fds[0].Revents)
		}
	}
}

func (k *fanotifyKernel) Respond(fd int32, allow bool) error {
	_, err := unix.Write(k.fd, fanotify.EncodeResponse(fd, allow))
	return err
}

func (k *fanotifyKernel) ResolvePath(fd int32) (string, error) {
	return os.Readlink("/proc/self/fd/" + strconv.Itoa(int(fd)))
}

func (k *fanotifyKernel) CloseFd(fd int32) error {
	return unix.Close(int(fd))
}

func (k *fanotifyKernel) Wake() error {
	_, err := unix.Write(k.wakeWrite, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (k *fanotifyKernel) Close() error {
	var err error
	k.closeOnce.Do(func() {
		err = unix.Close(k.fd)
		unix.Close(k.wakeRead)
		unix.Close(k.wakeWrite)
	})
	return err
}

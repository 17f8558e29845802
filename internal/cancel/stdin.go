// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cancel

import (
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// WatchStdin reads single bytes from fd and calls Interrupt whenever it
// sees 'q', 'Q', or ctrl-C (0x03). When fd is a terminal it is switched to
// raw mode for the duration so a bare keypress is delivered without
// waiting for a newline; on a non-terminal fd (piped input, CI) the watch
// is a no-op since there is nothing interactive to read. It returns a stop
// function that restores the terminal and stops the reader goroutine.
func WatchStdin(t *Token, fd uintptr) (stop func()) {
	if !isatty.IsTerminal(fd) {
		return func() {}
	}

	restore, err := setRawMode(fd)
	if err != nil {
		log.Warnf("cancel: could not set raw terminal mode: %v", err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		f := os.NewFile(fd, "/dev/stdin")
		for {
			select {
			case <-done:
				return
			default:
			}
			n, err := f.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			switch buf[0] {
			case 'q', 'Q', 0x03:
				t.Interrupt()
			}
		}
	}()

	return func() {
		close(done)
		restore()
	}
}

// setRawMode puts fd into raw mode and returns a function restoring the
// terminal's original state.
func setRawMode(fd uintptr) (restore func(), err error) {
	orig, err := unix.IoctlGetTermios(int(fd), ioctlGetTermios)
	if err != nil {
		return nil, err
	}

	raw := *orig
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG
	raw.Iflag &^= unix.IXON
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(int(fd), ioctlSetTermios, &raw); err != nil {
		return nil, err
	}

	return func() {
		_ = unix.IoctlSetTermios(int(fd), ioctlSetTermios, orig)
	}, nil
}

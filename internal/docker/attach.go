package docker

import (
	"context"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
)

// AttachSession is an interactive docker exec session with a resizable TTY,
// used by the terminal proxy as its docker upstream.
type AttachSession struct {
	execID string
	conn   io.Closer
	reader io.Reader
	writer io.Writer
	cli    *Client

	mu     sync.Mutex
	closed bool
}

// AttachInteractive creates an exec with a TTY attached to argv running
// inside containerID, sized cols×rows, and returns the live byte streams.
func (c *Client) AttachInteractive(ctx context.Context, containerID string, argv []string, cols, rows int) (*AttachSession, error) {
	execCfg := container.ExecOptions{
		Cmd:          argv,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		ConsoleSize:  &[2]uint{uint(rows), uint(cols)},
	}

	execResp, err := c.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, err
	}

	attachResp, err := c.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{
		Tty:         true,
		ConsoleSize: &[2]uint{uint(rows), uint(cols)},
	})
	if err != nil {
		return nil, err
	}

	return &AttachSession{
		execID: execResp.ID,
		conn:   attachResp.Conn,
		reader: attachResp.Reader,
		writer: attachResp.Conn,
		cli:    c,
	}, nil
}

// Read implements io.Reader over the exec's combined tty stream.
func (s *AttachSession) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Write implements io.Writer, sending bytes to the attached process's stdin.
func (s *AttachSession) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

// Resize applies the new terminal size via Docker's exec resize endpoint —
// the docker-exec analogue of TIOCSWINSZ for a local PTY.
func (s *AttachSession) Resize(ctx context.Context, cols, rows int) error {
	return s.cli.cli.ContainerExecResize(ctx, s.execID, container.ResizeOptions{
		Width:  uint(cols),
		Height: uint(rows),
	})
}

// Close closes the underlying hijacked connection. Idempotent.
func (s *AttachSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

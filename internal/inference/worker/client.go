package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"truthlens/internal/logging"
	"truthlens/internal/services"
)

// Config describes how to launch the sidecar.
type Config struct {
	Command        string
	Args           []string
	Device         string
	StartupTimeout time.Duration
}

// Client is a connection to one sidecar process.
type Client struct {
	logger *slog.Logger
	device string

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	nextID uint64
	broken error
	// inflight is the response of a call abandoned by its caller; the next
	// call drains it before writing.
	inflight <-chan result

	cmd    *exec.Cmd
	stderr *tailBuffer
}

// Start launches the sidecar and waits for it to answer a ping.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "start", "inference.command is empty", nil)
	}
	cmd := exec.Command(command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "worker", "start", command, err)
	}

	client := newClient(&processConn{stdin: stdin, stdout: stdout}, cfg.Device, logger)
	client.cmd = cmd
	client.stderr = stderr

	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrExternalTool, "worker", "start", "sidecar did not answer", err)
	}
	client.logger.Info("inference worker ready",
		logging.String("command", command),
		logging.String("device", cfg.Device),
		logging.Int("pid", cmd.Process.Pid),
	)
	return client, nil
}

func newClient(conn io.ReadWriteCloser, device string, logger *slog.Logger) *Client {
	return &Client{
		logger: logging.NewComponentLogger(logger, "inference-worker"),
		device: device,
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64<<10),
	}
}

// Ping confirms the sidecar is alive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, request{Op: opPing})
	return err
}

// Close stops the sidecar. Closing stdin asks it to exit; it is killed if it
// has not exited within five seconds.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = errors.New("worker closed")
	}
	err := c.conn.Close()
	if c.cmd == nil || c.cmd.Process == nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = c.cmd.Process.Kill()
		<-done
	}
	c.cmd = nil
	return err
}

type result struct {
	resp response
	err  error
}

// call sends req and waits for its response. When ctx ends first the call is
// left running and its response is discarded by the next call, so one
// abandoned request does not take the sidecar down.
func (c *Client) call(ctx context.Context, req request) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return response{}, services.Wrap(services.ErrExternalTool, "worker", req.Op, "connection unusable", c.broken)
	}
	if err := c.drain(ctx); err != nil {
		return response{}, err
	}
	c.nextID++
	req.ID = c.nextID

	done := make(chan result, 1)
	go func() {
		if err := writeFrame(c.conn, req); err != nil {
			done <- result{err: err}
			return
		}
		var resp response
		err := readFrame(c.reader, &resp)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		c.inflight = done
		return response{}, ctx.Err()
	case res := <-done:
		return c.finish(req, res)
	}
}

// drain waits for an abandoned call to complete. Its response is dropped;
// a transport failure marks the connection broken.
func (c *Client) drain(ctx context.Context) error {
	if c.inflight == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-c.inflight:
		c.inflight = nil
		if res.err != nil {
			c.broken = res.err
			return services.Wrap(services.ErrExternalTool, "worker", "drain", c.stderrTail(), res.err)
		}
		c.logger.Debug("discarded response of abandoned call", logging.Int("id", int(res.resp.ID)))
		return nil
	}
}

func (c *Client) finish(req request, res result) (response, error) {
	if res.err != nil {
		c.broken = res.err
		return response{}, services.Wrap(services.ErrExternalTool, "worker", req.Op, c.stderrTail(), res.err)
	}
	if res.resp.ID != req.ID {
		c.broken = fmt.Errorf("response id %d does not match request %d", res.resp.ID, req.ID)
		return response{}, services.Wrap(services.ErrExternalTool, "worker", req.Op, "protocol desync", c.broken)
	}
	if !res.resp.OK {
		marker := services.ErrExternalTool
		if res.resp.ErrorKind == "model_load" {
			marker = services.ErrModelLoad
		}
		return response{}, services.Wrap(marker, "worker", req.Op, res.resp.Error, nil)
	}
	return res.resp, nil
}

func (c *Client) stderrTail() string {
	if c.stderr == nil {
		return ""
	}
	return c.stderr.String()
}

type processConn struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *processConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *processConn) Close() error                { return p.stdin.Close() }

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}

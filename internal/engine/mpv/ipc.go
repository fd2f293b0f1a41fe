package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/tr1v3r/pkg/log"
)

// docs: https://mpv.io/manual/stable/#json-ipc

var (
	errIPCClosed    = errors.New("mpv ipc connection closed")
	errIPCQueueFull = errors.New("mpv ipc write queue full")
)

// writeQueueSize bounds commands waiting for the socket. A full queue means
// mpv stopped reading.
const writeQueueSize = 256

// Request is one JSON IPC command.
type Request struct {
	Command []any `json:"command"` // https://mpv.io/manual/stable/#list-of-input-commands

	RequestID int  `json:"request_id,omitempty"`
	Async     bool `json:"async,omitempty"`
}

// Message is a line read from the IPC socket: either a reply (RequestID set)
// or an event.
type Message struct {
	RequestID int    `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`

	Event     string `json:"event,omitempty"`
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Reason    string `json:"reason,omitempty"`
	FileError string `json:"file_error,omitempty"`
}

type replyFunc func(data any, err error)

type outbound struct {
	id   int
	data []byte
}

// ipcConn is a persistent connection to one mpv instance. Commands are queued
// and written by the write loop, so senders never block on the socket.
// Replies are matched to commands by request id; everything else is handed to
// onEvent from the read loop goroutine.
type ipcConn struct {
	conn    net.Conn
	onEvent func(Message)

	mu      sync.Mutex
	nextID  int
	pending map[int]replyFunc
	closed  bool

	out     chan outbound
	done    chan struct{}
	written chan struct{}
}

func dialIPC(sockPath string, onEvent func(Message)) (*ipcConn, error) {
	if sockPath == "" {
		return nil, fmt.Errorf("mpv ipc socket path is empty")
	}
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("connect to mpv ipc socket fail: %w", err)
	}

	return newIPCConn(conn, onEvent), nil
}

func newIPCConn(conn net.Conn, onEvent func(Message)) *ipcConn {
	c := &ipcConn{
		conn:    conn,
		onEvent: onEvent,
		pending: make(map[int]replyFunc),
		out:     make(chan outbound, writeQueueSize),
		done:    make(chan struct{}),
		written: make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// send queues a command without waiting for the socket or the reply. reply,
// if non-nil, is called from the read or write loop.
func (c *ipcConn) send(command []any, reply replyFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errIPCClosed
	}

	c.nextID++
	id := c.nextID

	data, err := json.Marshal(Request{RequestID: id, Command: command})
	if err != nil {
		return fmt.Errorf("marshal mpv ipc request fail: %w", err)
	}

	select {
	case c.out <- outbound{id: id, data: append(data, '\n')}:
	default:
		return errIPCQueueFull
	}
	if reply != nil {
		c.pending[id] = reply
	}
	return nil
}

func (c *ipcConn) writeLoop() {
	defer close(c.written)
	for {
		select {
		case w := <-c.out:
			if _, err := c.conn.Write(w.data); err != nil {
				c.fail(w.id, fmt.Errorf("writing to mpv ipc socket fail: %w", err))
			}
		case <-c.done:
			return
		}
	}
}

// fail resolves a pending reply with err.
func (c *ipcConn) fail(id int, err error) {
	c.mu.Lock()
	reply, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		reply(nil, err)
	}
}

// call sends a command and waits for its reply.
func (c *ipcConn) call(ctx context.Context, command ...any) (any, error) {
	type result struct {
		data any
		err  error
	}
	ch := make(chan result, 1)
	if err := c.send(command, func(data any, err error) { ch <- result{data, err} }); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// do sends a fire-and-forget command, logging failures.
func (c *ipcConn) do(command ...any) {
	err := c.send(command, func(_ any, err error) {
		if err != nil {
			log.Error("mpv command %v fail: %v", command, err)
		}
	})
	if err != nil {
		log.Error("mpv command %v fail: %v", command, err)
	}
}

func (c *ipcConn) readLoop() {
	defer c.shutdown()

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Debug("mpv ipc read loop stopped: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Debug("unmarshal mpv ipc message fail: %v: %s", err, line)
			continue
		}

		if msg.Event != "" {
			if c.onEvent != nil {
				c.onEvent(msg)
			}
			continue
		}
		if msg.RequestID != 0 {
			c.resolve(msg)
		}
	}
}

func (c *ipcConn) resolve(msg Message) {
	c.mu.Lock()
	reply, ok := c.pending[msg.RequestID]
	delete(c.pending, msg.RequestID)
	c.mu.Unlock()
	if !ok {
		return
	}

	if msg.Error != "" && msg.Error != "success" {
		reply(nil, fmt.Errorf("mpv ipc response error: %s", msg.Error))
		return
	}
	reply(msg.Data, nil)
}

// shutdown fails every pending reply and marks the connection closed.
func (c *ipcConn) shutdown() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int]replyFunc)
	c.closed = true
	c.mu.Unlock()

	for _, reply := range pending {
		reply(nil, errIPCClosed)
	}
	close(c.done)
}

// close closes the socket and waits for the read loop to exit.
func (c *ipcConn) close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	<-c.written
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing mpv ipc socket fail: %w", err)
	}
	return nil
}

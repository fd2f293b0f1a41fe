package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeMPV answers the JSON IPC protocol on the socket named in its launch
// arguments and stands in for the mpv process.
type fakeMPV struct {
	ignoreQuit bool

	mu       sync.Mutex
	args     []string
	sockPath string
	ln       net.Listener
	conns    []net.Conn
	main     net.Conn
	commands []string

	wmu      sync.Mutex
	exitOnce sync.Once
	exited   chan struct{}
	killed   atomic.Bool
}

func newFakeMPV() *fakeMPV {
	return &fakeMPV{exited: make(chan struct{})}
}

func (f *fakeMPV) launch(_ context.Context, _ string, args []string) (Process, error) {
	var sock string
	for _, a := range args {
		if p, ok := strings.CutPrefix(a, "--input-ipc-server="); ok {
			sock = p
		}
	}
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.args, f.sockPath, f.ln = args, sock, ln
	f.mu.Unlock()

	go f.serve()
	return f, nil
}

func (f *fakeMPV) serve() {
	for {
		c, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, c)
		f.mu.Unlock()
		go f.handle(c)
	}
}

func (f *fakeMPV) handle(c net.Conn) {
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil || len(req.Command) == 0 {
			continue
		}

		parts := make([]string, len(req.Command))
		for i, arg := range req.Command {
			parts[i] = fmt.Sprint(arg)
		}
		f.mu.Lock()
		f.commands = append(f.commands, strings.Join(parts, " "))
		f.main = c
		f.mu.Unlock()

		f.write(c, map[string]any{"request_id": req.RequestID, "error": "success", "data": nil})
		if req.Command[0] == "quit" && !f.ignoreQuit {
			f.exit()
		}
	}
}

func (f *fakeMPV) write(c net.Conn, v any) {
	data, _ := json.Marshal(v)
	f.wmu.Lock()
	defer f.wmu.Unlock()
	_, _ = c.Write(append(data, '\n'))
}

// push sends an event on the connection commands came from.
func (f *fakeMPV) push(event map[string]any) {
	f.mu.Lock()
	c := f.main
	f.mu.Unlock()
	if c != nil {
		f.write(c, event)
	}
}

func (f *fakeMPV) property(name string, data any) {
	f.push(map[string]any{"event": "property-change", "name": name, "data": data})
}

func (f *fakeMPV) exit() {
	f.exitOnce.Do(func() {
		f.mu.Lock()
		if f.ln != nil {
			_ = f.ln.Close()
		}
		for _, c := range f.conns {
			_ = c.Close()
		}
		f.mu.Unlock()
		close(f.exited)
	})
}

func (f *fakeMPV) Wait() error {
	<-f.exited
	return nil
}

func (f *fakeMPV) Kill() error {
	f.killed.Store(true)
	f.exit()
	return nil
}

func (f *fakeMPV) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

func (f *fakeMPV) hasLine(line string) bool {
	return slices.Contains(f.lines(), line)
}

func (f *fakeMPV) launchArgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.args)
}

func (f *fakeMPV) socket() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sockPath
}

// signals records listener callbacks.
type signals struct {
	mu  sync.Mutex
	got []string
}

func (s *signals) add(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, v)
}

func (s *signals) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.got)
}

func (s *signals) OnReady()                     { s.add("ready") }
func (s *signals) OnBufferingChanged(b bool)    { s.add(fmt.Sprintf("buffering(%v)", b)) }
func (s *signals) OnEnded()                     { s.add("ended") }
func (s *signals) OnError(code, message string) { s.add("error(" + code + ")") }

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

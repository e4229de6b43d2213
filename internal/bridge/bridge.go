// Package bridge supervises a single (endpoint, provider) pair: it holds
// the outbound WebSocket connection to the hub, launches the provider's
// child process, pipes frames between them, and reconnects with
// exponential backoff when either side drops.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calobozan/mcpbridge/internal/framepipe"
	"github.com/calobozan/mcpbridge/internal/launcher"
	"github.com/calobozan/mcpbridge/internal/providerconfig"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 600 * time.Second
	killGrace      = 5 * time.Second
)

// Status is the bridge's current lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusConnecting  Status = "connecting"
	StatusConnected   Status = "connected"
	StatusBackoff     Status = "backoff"
	StatusTerminated  Status = "terminated"
)

// AuthError marks a connection failure as an authentication rejection
// (the hub answered the WebSocket upgrade with HTTP 401), distinct from
// generic transport failures — callers can branch on this instead of
// string-matching. A close frame carrying code 4001 is not recognised as
// an authentication rejection.
type AuthError struct {
	Target string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("[%s] authentication failed: %s", e.Target, e.Reason)
}

// Task identifies one supervised bridge: an endpoint paired with a
// provider name.
type Task struct {
	EndpointName string
	EndpointURL  string
	Provider     string
	Entry        providerconfig.Entry
	WSToken      string
	HTTPProxyBin string
}

func (t Task) target() string {
	return t.EndpointName + "/" + t.Provider
}

// StatusFunc is invoked whenever the supervised task's status changes.
type StatusFunc func(target string, status Status, detail string)

// Supervisor runs one Task until Stop is called or its context ends,
// reconnecting with exponential backoff on every failure except an
// authentication rejection, which ends it.
type Supervisor struct {
	task     Task
	onStatus StatusFunc

	mu     sync.Mutex
	status Status

	stop chan struct{}
	done chan struct{}
}

// New creates a supervisor for task. onStatus may be nil.
func New(task Task, onStatus StatusFunc) *Supervisor {
	if onStatus == nil {
		onStatus = func(string, Status, string) {}
	}
	return &Supervisor{
		task:     task,
		onStatus: onStatus,
		status:   StatusIdle,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Status returns the supervisor's current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) setStatus(st Status, detail string) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.onStatus(s.task.target(), st, detail)
}

// Run blocks, reconnecting with exponential backoff, until Stop is called,
// ctx is done, or the hub rejects the connection with an AuthError.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	backoff := initialBackoff
	attempt := 0

	for {
		select {
		case <-s.stop:
			s.setStatus(StatusTerminated, "")
			return
		case <-ctx.Done():
			s.setStatus(StatusTerminated, ctx.Err().Error())
			return
		default:
		}

		if attempt > 0 {
			log.Printf("[%s] waiting %s before reconnection attempt %d", s.task.target(), backoff, attempt)
			s.setStatus(StatusBackoff, "")
			select {
			case <-time.After(backoff):
			case <-s.stop:
				s.setStatus(StatusTerminated, "")
				return
			case <-ctx.Done():
				s.setStatus(StatusTerminated, ctx.Err().Error())
				return
			}
			backoff = backoff * 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := s.connectOnce(ctx)
		if err == nil {
			// connectOnce only returns nil if stop fired mid-flight.
			s.setStatus(StatusTerminated, "")
			return
		}

		attempt++
		var authErr *AuthError
		if errors.As(err, &authErr) {
			log.Printf("%s", authErr.Error())
			s.setStatus(StatusTerminated, authErr.Error())
			return
		}

		log.Printf("[%s] connection closed (attempt %d): %v", s.task.target(), attempt, err)
		s.setStatus(StatusBackoff, err.Error())
	}
}

// Stop signals Run to terminate and waits for it to return.
func (s *Supervisor) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

func (s *Supervisor) connectOnce(ctx context.Context) error {
	target := s.task.target()
	wsURI, err := buildWSURI(s.task.EndpointURL, s.task.Provider, s.task.WSToken)
	if err != nil {
		return fmt.Errorf("[%s] build ws uri: %w", target, err)
	}

	log.Printf("[%s] connecting to hub...", target)
	s.setStatus(StatusConnecting, "")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURI, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return &AuthError{Target: target, Reason: "rejected by hub"}
		}
		return fmt.Errorf("dial hub: %w", err)
	}
	defer conn.Close()

	log.Printf("[%s] connected to hub", target)
	s.setStatus(StatusConnected, "")

	cmd, err := launcher.Build(s.task.Provider, s.task.Entry, s.task.HTTPProxyBin)
	if err != nil {
		return fmt.Errorf("build provider command: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start provider: %w", err)
	}
	log.Printf("[%s] started provider process: %s", target, strings.Join(cmd.Args, " "))
	defer terminate(cmd, target)

	errc := make(chan error, 3)
	go func() { errc <- framepipe.WSToProcess(conn, stdin, target, s.stop) }()
	go func() { errc <- framepipe.ProcessToWS(stdout, conn, target) }()
	go func() { errc <- framepipe.Stderr(stderr, target) }()

	select {
	case <-s.stop:
		return nil
	case err := <-errc:
		if err == nil {
			// A pipe ends cleanly at EOF, which means the child exited.
			err = fmt.Errorf("[%s] provider process ended", target)
		}
		return err
	}
}

// buildWSURI auto-fixes a missing /mcp path, appends ?server=<provider> (or
// &server= if the URL already has a query), and appends &token= if set —
// matching connect_to_server's exact logic.
func buildWSURI(endpointURL, provider, token string) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		log.Printf("endpoint url %q missing /mcp path, appending automatically", endpointURL)
		endpointURL = strings.TrimRight(endpointURL, "/") + "/mcp"
	}

	sep := "?"
	if strings.Contains(endpointURL, "?") {
		sep = "&"
	}
	wsURI := fmt.Sprintf("%s%sserver=%s", endpointURL, sep, provider)
	if token != "" {
		wsURI = fmt.Sprintf("%s&token=%s", wsURI, token)
	}
	return wsURI, nil
}

// terminate sends SIGTERM, gives the process killGrace to exit, then
// SIGKILLs it — matching connect_to_server's finally block.
func terminate(cmd *exec.Cmd, target string) {
	if cmd.Process == nil {
		return
	}
	log.Printf("[%s] terminating provider process", target)

	_ = cmd.Process.Signal(syscallTerm())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-done
	}
	log.Printf("[%s] provider process terminated", target)
}

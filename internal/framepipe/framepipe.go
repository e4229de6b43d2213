// Package framepipe forwards newline-delimited JSON-RPC frames between a
// provider's child process (stdin/stdout/stderr) and its WebSocket
// connection to the hub.
package framepipe

import (
	"bufio"
	"fmt"
	"io"
	"log"

	"github.com/gorilla/websocket"
)

// WSToProcess reads frames from the websocket and writes them, newline
// terminated, to the child's stdin. Returns (and closes stdin) once the
// connection errors or the stop channel fires.
func WSToProcess(conn *websocket.Conn, stdin io.WriteCloser, target string, stop <-chan struct{}) error {
	defer stdin.Close()

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("[%s] websocket to process pipe: %w", target, err)
		}

		if _, err := stdin.Write(append(message, '\n')); err != nil {
			return fmt.Errorf("[%s] write to process stdin: %w", target, err)
		}
	}
}

// ProcessToWS reads lines from the child's stdout and forwards each as a
// websocket text frame. Returns nil when the child closes stdout (EOF).
func ProcessToWS(stdout io.Reader, conn *websocket.Conn, target string) error {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if werr := conn.WriteMessage(websocket.TextMessage, []byte(line)); werr != nil {
				return fmt.Errorf("[%s] process to websocket pipe: %w", target, werr)
			}
		}
		if err != nil {
			if err == io.EOF {
				log.Printf("[%s] process has ended output", target)
				return nil
			}
			return fmt.Errorf("[%s] read process stdout: %w", target, err)
		}
	}
}

// Stderr copies the child's stderr to the process log, line by line,
// prefixed with the provider name.
func Stderr(stderr io.Reader, target string) error {
	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			log.Printf("[%s] %s", target, trimNewline(line))
		}
		if err != nil {
			if err == io.EOF {
				log.Printf("[%s] process has ended stderr output", target)
				return nil
			}
			return fmt.Errorf("[%s] read process stderr: %w", target, err)
		}
	}
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}

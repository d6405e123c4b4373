package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"
)

// defaultSocketPath mirrors spec.md §4.6's default control socket path
// and original_source/daemon/tools/cli/main.cpp's hardcoded SOCKET_PATH.
const defaultSocketPath = "/data/clara/orchestrator.sock"

const dialTimeout = 3 * time.Second

func socketPath() string {
	if p := os.Getenv("CLARA_SOCKET_PATH"); p != "" {
		return p
	}
	return defaultSocketPath
}

// sendCommand opens one connection, writes one newline-terminated
// request, reads one response line, and closes — the same
// one-request-per-connection shape as original_source's sendCommand,
// replacing its raw read(2)/write(2) calls with net.Dial and bufio.
func sendCommand(command string) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath(), dialTimeout)
	if err != nil {
		return "", fmt.Errorf("connect to orchestrator: %w (is the daemon running?)", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

// Copyright 2026 The sgcore Authors. All rights reserved.

package host

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sig-graph/sgcore/internal/rpc"
)

// readyLinePrefix is the line a spawned sgnode worker writes to its
// stdout once its Host's RPC server is bound, analogous to the teacher's
// startup log line in cmd/nbackup-server/main.go — except here the line
// is machine-read, not just logged, since the parent process needs the
// resolved address to connect.
const readyLinePrefix = "sgnode-ready:"

// ProcessSpawner launches a fresh OS process running a Host (spec.md
// §4.7 "a Manager may create a NodeGroup in a new process") and waits for
// its bound-address handshake line on stdout, the same handshake-then-
// stream split the teacher's control channel performs over a socket
// (internal/agent/control_channel.go's magic-prefixed handshake), done
// here over a pipe instead since the parent owns the child's stdout.
type ProcessSpawner struct {
	// Command is the worker binary to exec, e.g. the path to the
	// cmd/sgnode build. Args are appended after a mandatory
	// "-listen=127.0.0.1:0" flag.
	Command string
	Args    []string

	// TLSConfig, when non-nil, makes Spawn dial the worker's Host with
	// mutual TLS instead of plaintext — see internal/pki. The worker
	// process must be configured with the matching server-side
	// certificate or the handshake fails.
	TLSConfig *tls.Config
}

// Spawned is a running worker process and a Client connected to its Host.
type Spawned struct {
	Cmd     *exec.Cmd
	Address string
	Client  *rpc.Client
}

// Spawn starts the worker process and blocks until its ready line arrives
// or ctx is done.
func (s *ProcessSpawner) Spawn(ctx context.Context) (*Spawned, error) {
	args := append([]string{"-listen=127.0.0.1:0"}, s.Args...)
	cmd := exec.CommandContext(ctx, s.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host: creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("host: starting worker process: %w", err)
	}

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, readyLinePrefix) {
				addrCh <- strings.TrimPrefix(line, readyLinePrefix)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- fmt.Errorf("host: worker process exited before signaling ready")
	}()

	select {
	case addr := <-addrCh:
		client := rpc.NewClient(addr, nil)
		client.TLSConfig = s.TLSConfig
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(dialCtx); err != nil {
			cmd.Process.Kill()
			return nil, fmt.Errorf("host: worker ready but unreachable: %w", err)
		}
		return &Spawned{Cmd: cmd, Address: addr, Client: client}, nil
	case err := <-errCh:
		cmd.Process.Kill()
		return nil, err
	case <-ctx.Done():
		cmd.Process.Kill()
		return nil, ctx.Err()
	}
}

// ReadyLine formats the handshake line a worker process writes to stdout
// once its Host is serving, for cmd/sgnode to emit after Host.Serve
// resolves the bound address.
func ReadyLine(address string) string {
	return readyLinePrefix + address
}

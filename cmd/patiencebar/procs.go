package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
	"github.com/ivoronin/patiencebar/internal/relay"
)

// relayFD is the descriptor a worker process writes relay frames to. It is
// the first of exec.Cmd.ExtraFiles.
const relayFD = 3

// spawnWorker runs "patiencebar worker <args...>" with input on its stdin,
// one item per line. Bar events the child writes to relayFD are passed to u
// as they arrive. It returns the child's stdout split into lines.
func spawnWorker(ctx context.Context, args, input []string, u bar.Updater, logger *zap.Logger) ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create relay pipe: %w", err)
	}
	defer func() { _ = pr.Close() }()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, exe, append([]string{"worker"}, args...)...)
	cmd.Stdin = strings.NewReader(strings.Join(input, "\n") + "\n")
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{pw}

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	// Only the child holds the write end now, so the reader sees EOF when it exits.
	_ = pw.Close()

	logger = logger.With(zap.Int("pid", cmd.Process.Pid))
	served := make(chan error, 1)
	go func() {
		n, err := relay.Serve(ctx, pr, u, logger)
		logger.Debug("relay drained", zap.Int("events", n))
		if err != nil {
			// Keep reading so the child never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, pr)
		}
		served <- err
	}()

	waitErr := cmd.Wait()
	serveErr := <-served
	if waitErr != nil {
		return nil, fmt.Errorf("worker %d: %w", cmd.Process.Pid, waitErr)
	}
	if serveErr != nil {
		return nil, serveErr
	}

	var lines []string
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// openRelay returns the writer end of the pipe set up by spawnWorker.
func openRelay() (*relay.Writer, *os.File, error) {
	f := os.NewFile(relayFD, "relay")
	if f == nil {
		return nil, nil, errors.New("relay descriptor not available")
	}
	if _, err := f.Stat(); err != nil {
		return nil, nil, fmt.Errorf("relay descriptor: %w", err)
	}
	return relay.NewWriter(f), f, nil
}

// readLines reads the non-empty lines of r, byte for byte.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return lines, nil
}

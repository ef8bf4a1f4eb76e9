// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workerchannel

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/mediabroker/core/logger"
)

// processStopGrace is how long the worker process gets to exit after its
// stdin is closed before it is killed.
const processStopGrace = 5 * time.Second

// ProcessConfig describes the external worker process.
type ProcessConfig struct {
	// Command is the executable and its arguments.
	Command []string

	Clock  clock.Clock
	Logger logger.Logger
}

// Validate returns an error if the config cannot be used.
func (config ProcessConfig) Validate() error {
	if len(config.Command) == 0 || config.Command[0] == "" {
		return errors.NotValidf("empty Command")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Process is a running worker process. Reads come from its stdout and
// writes go to its stdin; its stderr is forwarded to the logger.
type Process struct {
	config ProcessConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
	exited    chan struct{}
	waitErr   error
}

// StartProcess starts the worker process.
func StartProcess(config ProcessConfig) (*Process, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	cmd := exec.Command(config.Command[0], config.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Trace(err)
	}
	// Wait would close a pipe made by StdoutPipe while frames may still be
	// unread, so stdout is a plain pipe we own.
	stdout, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, errors.Trace(err)
	}
	cmd.Stdout = stdoutWriter
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		_ = stdoutWriter.Close()
		return nil, errors.Trace(err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdoutWriter.Close()
		return nil, errors.Annotatef(err, "starting worker %q", config.Command[0])
	}
	_ = stdoutWriter.Close()
	config.Logger.Infof("started worker %q (pid %d)", config.Command[0], cmd.Process.Pid)

	p := &Process{
		config: config,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}
	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		p.forwardStderr(stderr)
	}()
	go func() {
		// Wait closes the pipes, so the stderr reader must be done first.
		stderrDone.Wait()
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// Read is part of io.Reader.
func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Write is part of io.Writer.
func (p *Process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Close closes the worker's stdin, which asks it to exit, and kills it if
// it has not exited within the grace period.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.stdin.Close()
		select {
		case <-p.exited:
		case <-p.config.Clock.After(processStopGrace):
			p.config.Logger.Warningf("worker did not exit, killing pid %d", p.cmd.Process.Pid)
			if err := p.cmd.Process.Kill(); err != nil {
				p.config.Logger.Errorf("killing worker: %v", err)
			}
			<-p.exited
		}
		if p.waitErr != nil {
			p.config.Logger.Debugf("worker exited: %v", p.waitErr)
		}
		if err := p.stdout.Close(); err != nil && p.closeErr == nil {
			p.closeErr = err
		}
	})
	return errors.Trace(p.closeErr)
}

// Exited is closed once the worker process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

func (p *Process) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.config.Logger.Debugf("worker: %s", scanner.Text())
	}
}

/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package master implements the supervisor of spec §4.8: it binds the
// shared listening socket once, then re-execs the running binary once
// per worker, handing each child the listener through os/exec's
// ExtraFiles the way a graceful-restart re-exec hands off an inherited
// socket. Go has no raw fork() that resumes the same goroutines in a
// child, so re-exec-with-inherited-fd (the pattern other_examples'
// SocketHandoff program uses for its own restart) stands in for
// original_source/src/master.c's fork_worker; cmd.Wait() per child
// takes the place of SIGCHLD+waitpid.
package master

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nabbar/nxlite/internal/config"
	"github.com/nabbar/nxlite/internal/logging"
	"github.com/nabbar/nxlite/internal/metrics"
	"github.com/nabbar/nxlite/internal/sockopt"
)

// EnvWorkerID and EnvListenerFD are how a re-exec'd worker process
// recognizes its role and finds its inherited listener, read by
// cmd/nxlite's entry point.
const (
	EnvWorkerID   = "NXLITE_WORKER_ID"
	EnvListenerFD = "NXLITE_LISTENER_FD"
	EnvConfigPath = "NXLITE_CONFIG_PATH"
	workerFDIndex = 3 // os.exec.Cmd.ExtraFiles[0] becomes fd 3 in the child
)

// shutdownGrace is how long a worker gets to exit after SIGTERM before
// the master escalates to SIGKILL, per spec §4.8.
const shutdownGrace = 5 * time.Second

// Master owns the shared listener and the lifecycle of every worker
// process.
type Master struct {
	cfg        *config.Config
	configPath string
	binary     string
	log        *logging.Logger
	met        *metrics.Master
	listener   *os.File

	mu      sync.Mutex
	workers map[int]*os.Process
	running bool
}

// New binds the shared listening socket (SO_REUSEPORT-capable, though
// only one fd is actually shared across forks here) and raises the
// file descriptor limit before any worker starts, per spec §4.8 item 1.
// configPath is the same path (possibly empty) the master itself was
// loaded from; it is forwarded to every spawned worker so the worker's
// own config.Load sees the same file instead of silently falling back
// to defaults.
func New(cfg *config.Config, configPath string, log *logging.Logger, met *metrics.Master) (*Master, error) {
	if _, err := sockopt.RaiseFileLimit(uint64(cfg.MaxConnections) * 2); err != nil {
		log.Logf(logging.LevelInfo, "master: raise file limit: %v", err)
	}

	ln, err := sockopt.NewListener("tcp", fmt.Sprintf(":%d", cfg.Port), sockopt.DefaultListenerOptions)
	if err != nil {
		return nil, fmt.Errorf("master: listen on port %d: %w", cfg.Port, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("master: listener is not a *net.TCPListener")
	}
	f, err := tcpLn.File()
	if err != nil {
		return nil, fmt.Errorf("master: dup listener fd: %w", err)
	}

	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("master: resolve executable: %w", err)
	}

	m := &Master{
		cfg:        cfg,
		configPath: configPath,
		binary:     bin,
		log:        log,
		met:        met,
		listener:   f,
		workers:    make(map[int]*os.Process),
	}

	if configPath != "" {
		if _, err := config.Watch(configPath, func(*config.Config) {
			m.log.Logf(logging.LevelInfo, "master: config file changed on disk, reloading")
			m.reload()
		}); err != nil {
			log.Logf(logging.LevelInfo, "master: watch config file: %v", err)
		}
	}

	return m, nil
}

// Run spawns cfg.WorkerProcesses workers, reaps and respawns them on
// unexpected exit, and blocks until a terminating signal is handled,
// per spec §4.8 items 2-5. It returns nil on a clean shutdown.
func (m *Master) Run(ctx context.Context) error {
	m.running = true

	for id := 0; id < m.cfg.WorkerProcesses; id++ {
		if err := m.spawn(id); err != nil {
			return fmt.Errorf("master: spawn worker %d: %w", id, err)
		}
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	for m.running {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				m.shutdown()
				return nil
			case syscall.SIGHUP:
				m.reload()
			case syscall.SIGCHLD:
				// reaping happens in each worker's own Wait goroutine;
				// this wake just lets the loop re-check m.running.
			}
		}
	}
	return nil
}

// workerEnv builds the environment for a re-exec'd worker: its id, the
// fd index its inherited listener lands on, and the same config path
// the master itself was loaded from, so the worker's own config.Load
// sees the admin's file instead of silently falling back to defaults.
func workerEnv(id int, configPath string) []string {
	return append(os.Environ(),
		fmt.Sprintf("%s=%d", EnvWorkerID, id),
		fmt.Sprintf("%s=%d", EnvListenerFD, workerFDIndex),
		fmt.Sprintf("%s=%s", EnvConfigPath, configPath),
	)
}

// spawn re-execs the binary as worker id, passing the shared listener
// as ExtraFiles[0] and waits for its exit in the background so an
// unexpected death triggers a respawn, per spec §4.8 item 3.
func (m *Master) spawn(id int) error {
	cmd := exec.Command(m.binary, "server")
	cmd.Env = workerEnv(id, m.configPath)
	cmd.ExtraFiles = []*os.File{m.listener}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	m.mu.Lock()
	m.workers[id] = cmd.Process
	m.mu.Unlock()

	if m.met != nil {
		m.met.WorkersSpawned.Inc()
		m.met.WorkersAlive.Set(float64(len(m.workers)))
	}
	m.log.Logf(logging.LevelInfo, "master: worker %d started pid=%d", id, cmd.Process.Pid)

	go m.supervise(id, cmd)
	return nil
}

// supervise blocks on the worker's exit and respawns it if the master
// is still running, matching original_source/src/master.c's
// WIFEXITED/WIFSIGNALED respawn branch.
func (m *Master) supervise(id int, cmd *exec.Cmd) {
	err := cmd.Wait()

	m.mu.Lock()
	delete(m.workers, id)
	stillRunning := m.running
	m.mu.Unlock()

	if m.met != nil {
		m.met.WorkersAlive.Set(float64(len(m.workers)))
	}

	if !stillRunning {
		return
	}

	m.log.Logf(logging.LevelInfo, "master: worker %d exited (%v), respawning", id, err)
	if m.met != nil {
		m.met.WorkersRespawned.Inc()
	}
	if respawnErr := m.spawn(id); respawnErr != nil {
		m.log.Logf(logging.LevelInfo, "master: respawn worker %d failed: %v", id, respawnErr)
	}
}

// shutdown signals every worker SIGTERM, waits up to shutdownGrace,
// then escalates to SIGKILL for stragglers, per spec §4.8 item 4.
func (m *Master) shutdown() {
	m.mu.Lock()
	m.running = false
	procs := make([]*os.Process, 0, len(m.workers))
	for _, p := range m.workers {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	for _, p := range procs {
		_ = p.Signal(syscall.SIGTERM)
	}

	deadline := time.After(shutdownGrace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-deadline:
			break wait
		case <-ticker.C:
			m.mu.Lock()
			remaining := len(m.workers)
			m.mu.Unlock()
			if remaining == 0 {
				break wait
			}
		}
	}

	m.mu.Lock()
	stragglers := make([]*os.Process, 0, len(m.workers))
	for _, p := range m.workers {
		stragglers = append(stragglers, p)
	}
	m.mu.Unlock()
	for _, p := range stragglers {
		_ = p.Signal(syscall.SIGKILL)
	}

	_ = m.listener.Close()
}

// reload re-reads the configuration file and forwards SIGHUP to every
// worker, per spec §4.8 item 5. A worker only logs that it received the
// signal; it neither reloads its configuration nor reopens its logs.
// Listener-affecting fields (port, worker_processes) only take effect
// on a full restart; the new Config otherwise replaces m.cfg. Triggered
// both by an admin's SIGHUP and, via config.Watch, by an external
// rewrite of the config file on disk.
func (m *Master) reload() {
	m.log.Logf(logging.LevelInfo, "master: reloading configuration")

	if m.configPath != "" {
		if cfg, err := config.Load(m.configPath); err != nil {
			m.log.Logf(logging.LevelInfo, "master: reload config: %v", err)
		} else {
			m.mu.Lock()
			m.cfg = cfg
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	procs := make([]*os.Process, 0, len(m.workers))
	for _, p := range m.workers {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	for _, p := range procs {
		_ = p.Signal(syscall.SIGHUP)
	}
}

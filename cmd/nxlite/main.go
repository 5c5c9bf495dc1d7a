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

// Command nxlite is the process entry point of spec §6: a single
// binary that is either the master (default) or, when re-exec'd with
// NXLITE_WORKER_ID set, one worker inheriting the shared listener fd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nabbar/nxlite/internal/cache"
	"github.com/nabbar/nxlite/internal/config"
	"github.com/nabbar/nxlite/internal/fileserv"
	"github.com/nabbar/nxlite/internal/logging"
	"github.com/nabbar/nxlite/internal/master"
	"github.com/nabbar/nxlite/internal/metrics"
	"github.com/nabbar/nxlite/internal/sockopt"
	"github.com/nabbar/nxlite/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "nxlite [config_path]",
		Short:         "a multi-process static file server",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runServer(path)
		},
	}
	root.AddCommand(serverCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serverCmd exists so a re-exec'd worker's argv reads "nxlite server",
// matching master.spawn's cmd.Args.
func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "server",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(os.Getenv(master.EnvConfigPath))
		},
	}
}

// runServer loads configuration and dispatches to the worker loop or
// the master supervisor depending on whether this process was re-exec'd
// with a worker identity, per spec §6's exit-code contract: 1 on
// config/bind/logging failure, 0 on clean shutdown.
func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer log.Close()

	if idStr := os.Getenv(master.EnvWorkerID); idStr != "" {
		return runWorker(cfg, log, idStr)
	}
	return runMaster(cfg, configPath, log)
}

func runMaster(cfg *config.Config, configPath string, log *logging.Logger) error {
	met := metrics.NewMaster(prometheus.NewRegistry())

	m, err := master.New(cfg, configPath, log, met)
	if err != nil {
		return fmt.Errorf("master: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	return m.Run(ctx)
}

func runWorker(cfg *config.Config, log *logging.Logger, idStr string) error {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return fmt.Errorf("worker: invalid %s=%q: %w", master.EnvWorkerID, idStr, err)
	}

	fdStr := os.Getenv(master.EnvListenerFD)
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return fmt.Errorf("worker: invalid %s=%q: %w", master.EnvListenerFD, fdStr, err)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("worker: set listener nonblocking: %w", err)
	}

	reg := prometheus.NewRegistry()
	met := metrics.NewWorker(reg, id)

	c := cache.New(cfg.CacheCapacity, cfg.CacheTTL, cfg.CacheMaxEntryBytes)
	svc := fileserv.New(cfg.Root, c, fileserv.WithCacheObserver(met))

	w, err := worker.New(worker.Config{
		ID:               id,
		ListenerFd:       fd,
		Root:             cfg.Root,
		KeepAliveTimeout: cfg.KeepAliveTimeout,
		MaxConnections:   cfg.MaxConnections,
		ConnOptions:      sockopt.DefaultConnOptions,
	}, svc, log, met)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				log.Logf(logging.LevelInfo, "worker %d: reload signal received", id)
				continue
			}
			close(stop)
			return
		}
	}()

	return w.Run(stop)
}

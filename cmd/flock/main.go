// Command flock runs a Bounce flock: N bounce units, a phase timer, and
// the coordinator's /bounce RPC endpoint, serving a single ground
// station until killed.
//
// Usage:
//
//	flock [flags]
//
// Flags:
//
//	-addr              listen address (default "0.0.0.0")
//	-port              listen port (default 50051)
//	-num-bounce-units  number of bounce units, shorthand -n (default 5)
//	-fail-arbitrary    comma-separated FailArbitrary bounce unit ids
//	-fail-stop         comma-separated FailStop bounce unit ids
//	-slot-config       "slot,phase1,phase2" seconds (default "10,4,4")
//	-log-dir           directory for rotating log files (default "log")
//	-log-to-stdout     log only to stdout
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cryptosat/bounce/flock"
	"github.com/cryptosat/bounce/log"
	"github.com/cryptosat/bounce/metrics"
	"github.com/cryptosat/bounce/rpcserver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the CLI entry point, returning an exit code so it can be tested
// in isolation from os.Exit, matching cmd/eth2030's run(args []string) int
// pattern.
func run(args []string) int {
	var f cliFlags
	fs := newFlagSet(&f)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	failureModes, err := flock.BuildFailureModes(f.failArbitrary, f.failStop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	cfg := flock.Config{
		NumBounceUnits: uint32(f.numBounceUnits),
		Slot:           f.slot,
		FailureModes:   failureModes,
		Addr:           f.addr,
		Port:           f.port,
		LogDir:         f.logDir,
		LogToStdout:    f.logToStdout,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		return 1
	}

	logger.Info("flock starting",
		"addr", cfg.Addr, "port", cfg.Port,
		"num_bounce_units", cfg.NumBounceUnits,
		"slot_duration", cfg.Slot.SlotDuration,
		"phase1_duration", cfg.Slot.Phase1Duration,
		"phase2_duration", cfg.Slot.Phase2Duration,
		"fail_arbitrary", f.failArbitrary,
		"fail_stop", f.failStop,
	)

	m, reg := metrics.New()
	m.FailStopUnits.Set(float64(len(f.failStop)))

	coord, err := flock.New(cfg, m, logger)
	if err != nil {
		logger.Error("failed to construct coordinator", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx); err != nil {
		logger.Error("failed to start coordinator", "err", err)
		return 1
	}

	rpc := rpcserver.New(coord, m, rpcserver.Config{}, logger)
	mux := http.NewServeMux()
	mux.Handle("/bounce", rpc.Handler())
	mux.Handle("/metrics", metrics.Handler(reg))

	httpSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port), Handler: mux}
	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("rpc server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErrCh:
		logger.Error("rpc server failed to bind", "err", err)
		coord.Stop()
		return 1
	}

	_ = httpSrv.Close()
	coord.Stop()
	_ = coord.Wait()
	logger.Info("flock shutdown complete")
	return 0
}

// newLogger builds the flock's logger per -log-to-stdout/-log-dir,
// matching the original's configure_log/configure_log_to_file split.
func newLogger(cfg flock.Config) (*log.Logger, error) {
	if cfg.LogToStdout {
		h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
		return log.NewWithHandler(h), nil
	}
	return log.NewFile(cfg.LogDir, "flock", slog.LevelInfo)
}

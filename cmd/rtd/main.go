// Command rtd is the node-local runtime daemon (spec.md §1: a single
// binary, `rtd_main(server_address)`, that binds the policy/report
// surface to an address and starts the sampling/control loop). Startup
// is a bounded one-shot task graph built with go-taskflow (SPEC_FULL.md
// §2.1's domain-stack assignment): load the MSR description table, open
// the HardwareIO backend, log batch-ioctl availability, then construct
// the shared state and hand it to the loop. Grounded on the teacher's
// cmd/access/main.go for the gin-router-plus-graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gotaskflow "github.com/noneback/go-taskflow"

	"github.com/hpcgov/rtd/internal/config"
	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/msrtable"
	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rpcservice/httpdebug"
	"github.com/hpcgov/rtd/internal/rtlog"
	"github.com/hpcgov/rtd/internal/runtimesvc"
	"github.com/hpcgov/rtd/internal/topo"
	"github.com/hpcgov/rtd/internal/tree"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to JSON config file (defaults embedded if omitted)")
	serverAddress := flag.String("server_address", "", "bind address for the policy/report HTTP surface (overrides config)")
	flag.Parse()

	if err := rtdMain(*configPath, *serverAddress); err != nil {
		fmt.Fprintln(os.Stderr, "rtd: "+err.Error())
		os.Exit(1)
	}
}

// rtdMain is the CLI entry point spec.md §1 names: `rtd_main(server_address)`.
// An empty serverAddress falls back to the loaded config's Runtime.Address.
func rtdMain(configPath, serverAddress string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serverAddress != "" {
		cfg.Runtime.Address = serverAddress
	}

	log := rtlog.Default("rtd")
	log.SetLevel(rtlog.ParseLevel(cfg.Logging.Level))

	state := runtimesvc.NewSharedState()
	hw, err := bootstrap(cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer hw.Close()

	loop := runtimesvc.NewLoop(state, hw)
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go func() {
		if err := loop.Run(loopCtx); err != nil {
			log.Error("loop exited", "err", err)
		}
	}()

	var tr *tree.Tree
	if cfg.Debug.Enabled {
		policyFn := func() policy.Policy { return state.GetReport().Policy }
		tr = tree.New(policyFn, time.Duration(cfg.Runtime.DefaultPeriodSeconds*float64(time.Second)))
		defer tr.Close()
	}

	router := httpdebug.New(state, tr)
	srv := &http.Server{Addr: cfg.Runtime.Address, Handler: router}

	go func() {
		log.Info("listening", "address", cfg.Runtime.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	cancelLoop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// bootstrap runs the one-shot startup DAG: load the MSR table (log-only;
// nothing currently keys off it besides validating the file parses),
// discover topology, open the HardwareIO backend, and probe batch-ioctl
// availability for diagnostics. IoctlBackend.Open already degrades
// internally when the batch device is missing (spec §4.1); this task
// only observes and logs that outcome.
func bootstrap(cfg *config.Config, log *rtlog.Logger) (*hwio.HardwareIO, error) {
	executor := gotaskflow.NewExecutor(4)
	tf := gotaskflow.NewTaskFlow("rtd-bootstrap")

	var msrErr, hwErr error
	var backend *hwio.IoctlBackend
	var hw *hwio.HardwareIO

	loadMSRTable := tf.NewTask("load_msr_table", func() {
		if cfg.Runtime.MSRTablePath == "" {
			log.Info("no msr table path configured, skipping")
			return
		}
		table, err := msrtable.Load(cfg.Runtime.MSRTablePath)
		if err != nil {
			msrErr = err
			return
		}
		log.Info("msr table loaded", "registers", len(table.Names()))
	})

	openBackend := tf.NewTask("open_hardware_io", func() {
		layout, err := topo.Discover()
		cpus := []int{0}
		if err == nil && layout.CoreCount() > 0 {
			cpus = make([]int, 0, layout.CoreCount())
			for _, pkgCores := range layout.CoresInPackage {
				cpus = append(cpus, pkgCores...)
			}
		}
		backend = hwio.NewIoctlBackend("", "")
		hw = hwio.New(backend, cpus, log.With("component", "hwio"))
		if err := hw.Open(); err != nil {
			hwErr = err
			return
		}
	})

	probeBatch := tf.NewTask("probe_batch_ioctl", func() {
		if backend == nil {
			return
		}
		if backend.BatchAvailable() {
			log.Info("msr batch ioctl available")
		} else {
			log.Warn("msr batch ioctl unavailable, falling back to per-op syscalls")
		}
	})

	loadMSRTable.Precede(openBackend)
	openBackend.Precede(probeBatch)

	executor.Run(tf).Wait()

	if msrErr != nil {
		return nil, msrErr
	}
	if hwErr != nil {
		return nil, hwErr
	}
	return hw, nil
}

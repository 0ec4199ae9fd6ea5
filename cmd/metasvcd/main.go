// Command metasvcd runs the MetaSvc process: the global metadata and
// eviction authority (spec §4.2). It loads a TOML config (spec §6),
// mounts the rebuild journal, binds the RPC listener clients and
// LocalSvc dial against, and serves until SIGINT/SIGTERM.
//
// Shape follows the teacher's cmd/parcel_server: flag-parsed startup,
// one net.Listener, log.Fatal on unrecoverable setup error. The debug
// endpoint below adapts parcel_server's bare net.http.HandleFunc
// pattern to expose Prometheus metrics and pprof instead of a survey
// handler, since this process has no HTTP API of its own otherwise.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/memfabric/mmc/config"
	"github.com/memfabric/mmc/metamgr"
	"github.com/memfabric/mmc/metasvc"
	"github.com/memfabric/mmc/metrics"
	"github.com/memfabric/mmc/mmclog"
	"github.com/memfabric/mmc/rpc"
)

var (
	configFlag  = flag.String("config", "", "path to the MetaSvc TOML config file")
	lockFlag    = flag.String("lock", "/tmp/mmc_meta_service.lock", "advisory single-instance lock file")
	journalFlag = flag.String("journal", "", "path to the rebuild journal file (empty disables persistence)")
	debugFlag   = flag.String("debug_addr", "", "address to serve /metrics and /debug/pprof on (empty disables)")
)

func main() {
	flag.Parse()

	if *configFlag == "" {
		fmt.Fprintln(os.Stderr, "metasvcd: -config is required")
		os.Exit(1)
	}

	lockF, err := acquireLock(*lockFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metasvcd: %s\n", err)
		os.Exit(1)
	}
	defer lockF.Close()

	cfg, err := config.LoadMetaConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metasvcd: %s\n", err)
		os.Exit(1)
	}

	log := mmclog.New(mmclog.Level(cfg.LogLevel), os.Stderr, cfg.LogRotationFileSize, cfg.LogRotationFileCount).Component("metasvcd")
	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	var journal metamgr.Journal
	if *journalFlag != "" {
		fj, err := metamgr.OpenFileJournal(*journalFlag)
		if err != nil {
			log.Errorf("open journal %s: %s", *journalFlag, err)
			os.Exit(1)
		}
		defer fj.Close()
		journal = fj
	}

	mgr := metamgr.New(metamgr.Config{
		EvictThresholdHigh: cfg.EvictThresholdHigh,
		EvictThresholdLow:  cfg.EvictThresholdLow,
		DefaultTTL:         time.Duration(cfg.DefaultTTLMillis) * time.Millisecond,
	}, journal, nil, log, metricsReg)
	defer mgr.Close()

	if journal != nil && cfg.MetaRebuildEnable {
		if err := mgr.Rebuild(); err != nil {
			log.Warnf("rebuild: %s", err)
		}
	}

	gate := metasvc.AlwaysActive{}
	svc := metasvc.New(mgr, gate)

	listener, err := net.Listen("tcp", cfg.MetaServiceURL)
	if err != nil {
		log.Errorf("listen %s: %s", cfg.MetaServiceURL, err)
		os.Exit(1)
	}

	server := rpc.NewServer(listener, svc.Handler, 8, 0, log)

	if *debugFlag != "" {
		go serveDebug(*debugFlag, reg, log)
	}

	errC := make(chan error, 1)
	go func() { errC <- server.Serve() }()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigC:
		log.Infof("received %s, shutting down", sig)
		server.Close()
	case err := <-errC:
		if err != nil {
			log.Errorf("serve: %s", err)
			os.Exit(1)
		}
	}
}

func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another metasvcd instance holds %s", path)
	}
	return f, nil
}

func serveDebug(addr string, reg *prometheus.Registry, log *mmclog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{Addr: addr, Handler: mux}
	log.Infof("debug endpoint listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Warnf("debug endpoint: %s", err)
	}
}

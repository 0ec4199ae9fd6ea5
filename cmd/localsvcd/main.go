// Command localsvcd runs one rank's LocalSvc process: it binds a
// fabric.Driver to the configured device, reserves and mounts this
// rank's DRAM or HBM segment, announces it to MetaSvc over BM_REGISTER,
// and serves the Client's Put/Get data-plane traffic plus MetaSvc's
// MetaReplicate/BlobCopy calls (spec §4.6) until SIGINT/SIGTERM.
//
// Shape follows cmd/metasvcd/cmd/parcel_server: flag-parsed startup, one
// net.Listener, graceful signal-driven shutdown.
package main

import (
	"context"
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

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/config"
	"github.com/memfabric/mmc/fabric"
	"github.com/memfabric/mmc/localsvc"
	"github.com/memfabric/mmc/metrics"
	"github.com/memfabric/mmc/mmclog"
	"github.com/memfabric/mmc/rpc"
	"github.com/memfabric/mmc/wire"
)

var (
	configFlag = flag.String("config", "", "path to the LocalSvc TOML config file")
	listenFlag = flag.String("listen", "", "address this rank's RPC server binds, e.g. :7001")
	debugFlag  = flag.String("debug_addr", "", "address to serve /metrics and /debug/pprof on (empty disables)")
)

func main() {
	flag.Parse()

	if *configFlag == "" || *listenFlag == "" {
		fmt.Fprintln(os.Stderr, "localsvcd: -config and -listen are required")
		os.Exit(1)
	}

	cfg, err := config.LoadLocalConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "localsvcd: %s\n", err)
		os.Exit(1)
	}

	log := mmclog.New(mmclog.Level(cfg.LogLevel), os.Stderr, 0, 0).Component("localsvcd").With("rank", cfg.RankID)
	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	world := fabric.NewWorld()
	driver := fabric.NewSimDriver(world, cfg.RankID, cfg.DeviceID)

	media, size := wire.MediaDRAM, cfg.DRAMSize
	if cfg.HBMSize > 0 {
		media, size = wire.MediaHBM, cfg.HBMSize
	}

	ctx := context.Background()
	base, err := driver.GvaReserve(ctx, uint64(size), cfg.DeviceID, 0)
	if err != nil {
		log.Errorf("GvaReserve: %s", err)
		os.Exit(1)
	}

	a := alloc.New(uint32(cfg.RankID), media, base, uint64(size))
	a.Start()

	svc := localsvc.New(uint32(cfg.RankID), driver, log, metricsReg)
	svc.MountSegment(media, a)

	if cfg.MetaServiceURL != "" {
		if err := registerWithMeta(cfg, media, base, uint64(size), log); err != nil {
			log.Warnf("bm_register: %s", err)
		}
	}

	listener, err := net.Listen("tcp", *listenFlag)
	if err != nil {
		log.Errorf("listen %s: %s", *listenFlag, err)
		os.Exit(1)
	}
	server := rpc.NewServer(listener, svc.Handler, 16, uint32(cfg.RankID), log)

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

// registerWithMeta dials MetaSvc once at startup and announces this
// rank's segment over BM_REGISTER (spec §4.6), so MetaMgr's catalog
// carves out a mirroring Allocator before any client Alloc can route to
// this rank.
func registerWithMeta(cfg *config.LocalConfig, media wire.Media, base, capacity uint64, log *mmclog.Logger) error {
	conn, err := net.DialTimeout("tcp", cfg.MetaServiceURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial meta_service_url %s: %w", cfg.MetaServiceURL, err)
	}
	client := rpc.NewClient(conn, 0, log)
	defer client.Close()

	req := wire.BmRegisterRequest{Rank: uint32(cfg.RankID), Media: media, Base: base, Capacity: capacity}
	body, err := client.Call(wire.OpBmRegister, req.Encode(), 10*time.Second)
	if err != nil {
		return err
	}
	resp, err := wire.DecodeStatusResponse(body)
	if err != nil {
		return err
	}
	if resp.Status != 0 {
		return fmt.Errorf("bm_register refused: status %d", resp.Status)
	}
	return nil
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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nest-bridge/internal/bridge"
	"nest-bridge/internal/config"
	"nest-bridge/internal/httputil"
	"nest-bridge/internal/logger"
	"nest-bridge/internal/metrics"
	"nest-bridge/internal/probe"
	"nest-bridge/internal/process"
	"nest-bridge/internal/proxy"
	"nest-bridge/internal/sdm"
	"nest-bridge/internal/status"
)

func buildStatus(device string, sched *bridge.Scheduler, poller *bridge.Poller) status.BridgeStatus {
	srv := status.ServerStatus{}
	if u, err := process.GetSelfUsage(); err == nil {
		srv = status.ServerStatus{CPU: u.CPU, Mem: u.Mem}
	}
	ls, ps := sched.Snapshot()
	es := status.EventStats{}
	if poller != nil {
		es = poller.Stats()
	}
	return status.BridgeStatus{
		Server: srv,
		Device: device,
		Lease:  ls,
		Proxy:  ps,
		Events: es,
	}
}

func startStatusServer(ctx context.Context, addr, device string, sched *bridge.Scheduler, poller *bridge.Poller, met *metrics.Metrics, logr *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, buildStatus(device, sched, poller))
	})
	mux.Handle("/metrics", met.Handler(nil))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logr.Info("Status endpoint listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("Status server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()
}

func main() {
	config.LoadEnv()
	cfg, err := config.ParseFlags("nest-bridge", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logr := logger.NewLoggerWithLevel(logger.ParseLevel(cfg.LogLevel))

	var tokens sdm.TokenSource
	if cfg.NestTokenFile != "" {
		fts, err := config.NewFileTokenSource(cfg.NestTokenFile, logr)
		if err != nil {
			logr.Fatal("Token file: %v", err)
		}
		defer fts.Close()
		tokens = fts
	} else {
		tokens = config.StaticToken(cfg.NestToken)
	}

	client := sdm.NewClient(cfg.DeviceName(), tokens, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Validate the device reference up front and find out whether RTSP is an
	// option. A failure here is unrecoverable: there is nothing to supervise.
	infoCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	info, err := client.FetchDeviceInfo(infoCtx)
	cancel()
	if err != nil {
		logr.Fatal("Device lookup failed for %s: %v", cfg.DeviceName(), err)
	}
	preferRTSP := info.SupportsRTSP()
	if !preferRTSP {
		logr.Warn("Device does not advertise RTSP support; using WebRTC")
	}

	// The supervisor gets a background context: proxy teardown must go
	// through the graceful shutdown path, not an abrupt context kill.
	sup := proxy.NewProcessSupervisor(context.Background(), proxy.Options{
		Bin:          cfg.ProxyBin,
		Host:         cfg.ProtectHost,
		Username:     cfg.ProtectUsername,
		Password:     cfg.ProtectPassword,
		AdoptToken:   cfg.ProtectToken,
		CameraName:   cfg.CameraName,
		MAC:          cfg.CameraMAC,
		RTSPUsername: cfg.RTSPUsername,
		RTSPPassword: cfg.RTSPPassword,
		Insecure:     cfg.Insecure,
	}, logr)

	met := metrics.New()
	var prober bridge.Prober
	if cfg.ProbeStream {
		prober = probe.NewRTSPProber(false, logr)
	}
	sched := bridge.NewScheduler(client, sup, prober, preferRTSP, cfg.RenewBefore, met, logr)

	var poller *bridge.Poller
	if cfg.PollEvents {
		poller = bridge.NewPoller(client, &bridge.LogSink{Logger: logr}, met, logr)
	}

	if cfg.StatusAddr != "" {
		startStatusServer(ctx, cfg.StatusAddr, cfg.DeviceName(), sched, poller, met, logr)
	}

	driver := &bridge.Driver{
		Sched:         sched,
		Poller:        poller,
		Logger:        logr,
		CheckInterval: cfg.CheckInterval,
		EventInterval: cfg.EventInterval,
	}
	if err := driver.Run(ctx); err != nil {
		logr.Error("Bridge startup failed: %v", err)
		os.Exit(1)
	}
}

// Command clajrelay is a thin demo entrypoint: it populates relay.Config
// from flags, wires a Relay to a transport.Server, serves TCP and UDP, and
// exits cleanly on SIGINT/SIGTERM. It is deliberately not a full CLI/config
// framework — see DESIGN.md.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xpdustry/claj/internal/relay"
	"github.com/xpdustry/claj/internal/transport"
)

func main() {
	var (
		tcpAddr      = flag.String("tcp", ":6567", "TCP listen address")
		udpAddr      = flag.String("udp", ":6567", "UDP listen address")
		metricsAddr  = flag.String("metrics", "", "optional HTTP address to serve /metrics on (empty disables it)")
		serverMajor  = flag.Int("version", 1, "protocol major version this relay accepts")
		spamLimit    = flag.Int("spam-limit", 20, "packets allowed per connection per spam-window (0 disables)")
		spamWindow   = flag.Duration("spam-window", 3*time.Second, "spam-limit accounting window")
		joinLimit    = flag.Int("join-limit", 10, "room joins allowed per address per join-window (0 disables)")
		joinWindow   = flag.Duration("join-window", time.Minute, "join-limit accounting window")
		blacklist    = flag.String("blacklist", "", "comma-separated blacklisted remote addresses")
		blacklistTyp = flag.String("blacklist-types", "", "comma-separated blacklisted room types")
		acceptNoType = flag.Bool("accept-no-type", false, "let clients joining with an empty type into rooms of any type")
		debug        = flag.Bool("debug", false, "start with debug-level logging")
	)
	flag.Parse()

	level := zap.NewAtomicLevel()
	if *debug {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(os.Stdout), level)
	log := zap.New(core)
	defer func() { _ = log.Sync() }()

	cfg := relay.DefaultConfig()
	cfg.ServerMajor = int32(*serverMajor)
	cfg.SpamLimit = *spamLimit
	cfg.SpamWindow = *spamWindow
	cfg.JoinLimit = *joinLimit
	cfg.JoinWindow = *joinWindow
	cfg.AcceptNoType = *acceptNoType
	cfg.Blacklist = splitNonEmpty(*blacklist)
	cfg.BlacklistedTypes = splitNonEmpty(*blacklistTyp)

	r := relay.New(cfg, log, level)
	srv := transport.New(r, log)

	ln, err := net.Listen("tcp", *tcpAddr)
	if err != nil {
		log.Fatal("tcp listen failed", zap.String("addr", *tcpAddr), zap.Error(err))
	}
	srv.ServeTCP(ln)

	pc, err := net.ListenPacket("udp", *udpAddr)
	if err != nil {
		log.Fatal("udp listen failed", zap.String("addr", *udpAddr), zap.Error(err))
	}
	srv.ServeUDP(pc)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.MetricsRegistry(), promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(ctx)
		}()
	}

	log.Info("clajrelay started", zap.String("tcp", *tcpAddr), zap.String("udp", *udpAddr))

	go srv.Run()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("clajrelay shutting down")
	r.Stop()
	srv.Stop()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

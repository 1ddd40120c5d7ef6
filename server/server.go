package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/CREVIOS/Computer-Networking/config"
	"github.com/CREVIOS/Computer-Networking/lib"
	"github.com/CREVIOS/Computer-Networking/logger"
)

var (
	addr       = flag.String("addr", "127.0.0.1:9530", "address to listen on")
	configPath = flag.String("config", "config.yaml", "configuration file")
	dir        = flag.String("dir", ".", "directory served to clients")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	srv, err := lib.ListenRdt(*addr, cfg)
	if err != nil {
		logger.Errorf("listen: %s", err)
		os.Exit(1)
	}
	logger.Infof("file server ready on %s, serving %s", srv.Addr(), *dir)

	// Rate changes in the config file take effect on live connections.
	stopWatch, err := config.Watch(*configPath, func(next *config.Config) {
		srv.SetFaultRates(next.LossRate, next.CorruptionRate)
		logger.SetLevel(next.LogLevel)
		logger.Infof("config reloaded: loss=%.3f corruption=%.3f", next.LossRate, next.CorruptionRate)
	})
	if err != nil {
		logger.Warnf("config watch disabled: %s", err)
	} else {
		defer stopWatch()
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Infof("shutting down")
		srv.Close()
	}()

	for {
		conn, err := srv.Accept()
		if err != nil {
			logger.Infof("accept loop ended: %s", err)
			return
		}
		go serveClient(conn, *dir)
	}
}

// serveClient answers one file request: read the requested name, open
// the file under the served directory and stream it back.
func serveClient(conn *lib.Connection, dir string) {
	defer conn.Close()

	req, err := conn.ReadMessage()
	if err != nil {
		logger.Errorf("%s: read request: %s", conn.RemoteAddr(), err)
		return
	}
	name := filepath.Base(string(req))
	path := filepath.Join(dir, name)
	logger.Infof("%s: requested %q", conn.RemoteAddr(), name)

	f, err := os.Open(path)
	if err != nil {
		logger.Errorf("%s: open %s: %s", conn.RemoteAddr(), path, err)
		return
	}
	defer f.Close()

	stats, err := conn.SendStream(f)
	if err != nil {
		logger.Errorf("%s: transfer failed: %s", conn.RemoteAddr(), err)
		return
	}
	logger.Infof("%s: sent %q, %d bytes in %s (%.2f KB/s)",
		conn.RemoteAddr(), name, stats.BytesSent, stats.Elapsed.Round(0), stats.Throughput())
	stats.Report(os.Stdout)
}

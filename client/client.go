package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/CREVIOS/Computer-Networking/config"
	"github.com/CREVIOS/Computer-Networking/lib"
	"github.com/CREVIOS/Computer-Networking/logger"
)

var (
	addr       = flag.String("addr", "127.0.0.1:9530", "server address")
	configPath = flag.String("config", "config.yaml", "configuration file")
	file       = flag.String("file", "", "name of the file to request")
	out        = flag.String("out", "", "where to store the file (default: the requested name)")
)

func main() {
	flag.Parse()
	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: client -file <name> [-addr host:port] [-out path]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	conn, err := lib.DialRdt(*addr, cfg)
	if err != nil {
		logger.Errorf("dial: %s", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.WriteMessage([]byte(*file)); err != nil {
		logger.Errorf("request %q: %s", *file, err)
		os.Exit(1)
	}
	logger.Infof("requested %q from %s, mss=%d", *file, conn.RemoteAddr(), conn.NegotiatedMSS())

	target := *out
	if target == "" {
		target = *file
	}
	dst, err := os.Create(target)
	if err != nil {
		logger.Errorf("create %s: %s", target, err)
		os.Exit(1)
	}

	stats, terr := conn.ReceiveStream(dst)
	if cerr := dst.Close(); cerr != nil && terr == nil {
		terr = cerr
	}
	if terr != nil {
		logger.Errorf("transfer failed: %s", terr)
		os.Exit(1)
	}
	logger.Infof("received %d bytes into %s in %s", stats.BytesDelivered, target, stats.Elapsed.Round(0))
	stats.Report(os.Stdout)
}

// Command zfsd is the daemon: it watches the upload and download intent
// trees and the upload fragment tree, drives fragmentation/defragmentation
// and transport publish/fetch, and runs the two background sanitizer
// registries that recover from dropped fragments and crashed runs.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zfsd-project/zfsd/internal/config"
	"github.com/zfsd-project/zfsd/internal/dispatch"
	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/sanitizer"
	"github.com/zfsd-project/zfsd/internal/transport"
	"github.com/zfsd-project/zfsd/internal/transport/ipfs"
)

func main() {
	var (
		home            = flag.String("home", "", "zfsd working root (defaults to $ZFSD_HOME or $HOME/.zfsd)")
		configFile      = flag.String("config", "", "configuration file path")
		mode            = flag.String("mode", "", "peer or client (overrides config)")
		ipfsAPI         = flag.String("api", "", "IPFS API multiaddr or host:port (overrides config)")
		fragmentSize    = flag.Uint("fragment-size", 0, "default fragment size in bytes (overrides config)")
		remoteEndpoints = flag.String("remote-endpoints", "", "comma-separated multiaddrs to swarm-connect at startup")
		logLevel        = flag.String("log-level", "info", "debug, info, warn, or error")
		logFormat       = flag.String("log-format", "text", "text or json")
	)
	flag.Parse()

	level := logging.ParseLevel(*logLevel)
	format := logging.ParseFormat(*logFormat)
	logging.InitGlobalLogger(&logging.Config{Level: level, Format: format, Output: os.Stderr, Component: "zfsd"})
	log := logging.Global().WithComponent("main")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("invalid configuration", logging.Fields{"err": err.Error()})
		os.Exit(2)
	}
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if *ipfsAPI != "" {
		cfg.IPFSAPI = *ipfsAPI
	}
	if *fragmentSize != 0 {
		cfg.FragmentSize = *fragmentSize
	}
	if *remoteEndpoints != "" {
		cfg.RemoteEndpoints = strings.Split(*remoteEndpoints, ",")
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", logging.Fields{"err": err.Error()})
		os.Exit(2)
	}

	p := paths.Resolve(*home)
	if err := ensureWorkingTree(p); err != nil {
		log.Error("cannot create working directories", logging.Fields{"home": p.Home, "err": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := ipfs.New(ctx, cfg.IPFSAPI, cfg.RemoteEndpoints)
	if err != nil {
		log.Error("cannot reach IPFS API", logging.Fields{"api": cfg.IPFSAPI, "err": err.Error()})
		os.Exit(1)
	}

	if err := run(ctx, p, store, cfg); err != nil {
		log.Error("zfsd exited with error", logging.Fields{"err": err.Error()})
		os.Exit(1)
	}
	log.Info("zfsd shut down cleanly", nil)
}

func ensureWorkingTree(p paths.Paths) error {
	for _, dir := range []string{
		p.UploadDigestDir(),
		p.DownloadDigestDir(),
		p.UploadFragsDir(),
		p.DownloadFragsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, p paths.Paths, store transport.Store, cfg config.Config) error {
	log := logging.Global().WithComponent("main")

	d, err := dispatch.New(p, store)
	if err != nil {
		return err
	}
	defer d.Close()

	downloadSan := sanitizer.NewDownload(p, store, cfg.Sanitizer)
	uploadSan := sanitizer.NewUpload(p, store, cfg.Sanitizer)

	log.Info("zfsd started", logging.Fields{"home": p.Home, "mode": string(cfg.Mode), "api": cfg.IPFSAPI})

	go downloadSan.Run(ctx)
	go uploadSan.Run(ctx)
	d.Run(ctx)

	return nil
}

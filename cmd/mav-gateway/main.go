package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"mavgateway/config"
	"mavgateway/link"
	mavlog "mavgateway/log"
	"mavgateway/session"
)

const Version = "1.0"

func main() {
	flag.CommandLine.SetOutput(os.Stdout)
	configPathFlag := flag.String("config_path", "configs/config.yaml", "path to the YAML config file, or a directory containing config.yaml")
	versionFlag := flag.Bool("version", false, "print version and exit")
	systemIDFlag := flag.Uint("system_id", 255, "own MAVLink system id")
	componentIDFlag := flag.Uint("component_id", 190, "own MAVLink component id")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "mav-gateway %s\n\n", Version)
		_, _ = fmt.Fprintln(os.Stdout, "usage:")
		_, _ = fmt.Fprintln(os.Stdout, "  mav-gateway [--config_path <path>] [--system_id <n>] [--component_id <n>] [--version]")
		_, _ = fmt.Fprintln(os.Stdout, "\nflags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		_, _ = fmt.Fprintln(os.Stdout, Version)
		return
	}

	configPath := resolveConfigPath(*configPathFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}
	if err := mavlog.Init(cfg.Logging); err != nil {
		panic(err)
	}

	if err := link.CheckUDPPortAvailable(cfg.Session.LocalUDPPort); err != nil {
		mavlog.With(map[string]interface{}{"port": cfg.Session.LocalUDPPort, "status": "udp_port_conflict"}).WithError(err).Error("udp port check failed")
		panic(err)
	}

	facade := session.NewFacade(cfg, byte(*systemIDFlag), byte(*componentIDFlag))
	if err := facade.Start(); err != nil {
		mavlog.With(map[string]interface{}{"status": "start_failed"}).WithError(err).Error("failed to start session facade")
		panic(err)
	}
	mavlog.With(map[string]interface{}{"port": cfg.Session.LocalUDPPort, "status": "ready"}).Info("mav-gateway ready")

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	facade.Stop()
}

func resolveConfigPath(p string) string {
	if p == "" {
		return "configs/config.yaml"
	}
	st, err := os.Stat(p)
	if err != nil {
		return p
	}
	if st.IsDir() {
		return filepath.Join(p, "config.yaml")
	}
	return p
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

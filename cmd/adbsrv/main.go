// Command adbsrv runs a host-side ADB smart-socket server: host: commands,
// shell execution, and the sync sub-protocol over a local filesystem.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/XcantloadX/adbsrv/adbfs"
	"github.com/XcantloadX/adbsrv/adbproto"
	"github.com/XcantloadX/adbsrv/adbserver"
	"github.com/XcantloadX/adbsrv/device"
	"github.com/XcantloadX/adbsrv/hostsvc"
	"github.com/XcantloadX/adbsrv/router"
	"github.com/XcantloadX/adbsrv/session"
	"github.com/XcantloadX/adbsrv/shellsvc"
	"github.com/XcantloadX/adbsrv/syncsvc"
)

func featureStrings(fs ...adbproto.Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

const shutdownTimeout = 5 * time.Second

var (
	host       string
	port       int
	globalRoot string
	trace      bool
	version    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "adbsrv",
		Short: "Host-side ADB smart-socket server",
		RunE:  run,
	}
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "address to listen on")
	rootCmd.Flags().IntVar(&port, "port", defaultPort(), "port to listen on (default from ADB_SERVER_PORT)")
	rootCmd.Flags().StringVar(&globalRoot, "root", ".", "filesystem root for the default sync backend")
	rootCmd.Flags().BoolVar(&trace, "trace", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&version, "version", false, "print the server version and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultPort() int {
	if v := os.Getenv("ADB_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return 5037
}

func run(cmd *cobra.Command, args []string) error {
	if version {
		fmt.Printf("%04x\n", hostsvc.ServerVersion)
		return nil
	}

	if trace {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		adbserver.Trace(logger)
		slog.SetDefault(logger)
	}

	devices := device.NewSingle(device.Device{
		Serial: "adbsrv-local",
		State:  "device",
		Properties: map[string]string{
			"ro.product.model": "adbsrv",
		},
	})

	rt := &router.Router{}

	fs := adbfs.NewLocalFileSystem(globalRoot)

	hostServices := &hostsvc.Services{
		Devices:  devices,
		Features: featureStrings(adbproto.FeatureShell2, adbproto.FeatureCmd),
	}
	shellService := &shellsvc.Service{}
	syncService := &syncsvc.Service{FS: fs}

	rt.RegisterAll(hostServices)
	rt.RegisterAll(shellService)
	rt.RegisterAll(syncService)

	engine := &session.Engine{Router: rt, Devices: devices}

	srv := &adbserver.Server{
		Addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		Engine: engine,
	}
	hostServices.Killer = srv

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.ListenAndServe() }()

	slog.Info("listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-serveDone:
		if err != nil && !errors.Is(err, adbserver.ErrServerClosed) {
			return err
		}
		return nil
	}
}

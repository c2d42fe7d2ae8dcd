package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Browse test images, the run report and MBTiles fixtures over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("root", "", "Test root (default: <fixtures>/integration/render-tests)")
	serveCmd.Flags().String("report", "", "JSON report written by run --report")
	serveCmd.Flags().String("mbtiles", "", "MBTiles file served under /tiles/{z}/{x}/{y}.png")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for served tiles")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.root", "root")
	mustBind("serve.report", "report")
	mustBind("serve.mbtiles", "mbtiles")
	mustBind("serve.cache_control", "cache-control")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	root := viper.GetString("serve.root")
	if root == "" {
		root = filepath.Join(localize.NewPaths(viper.GetString("fixture_root")).Integration, "render-tests")
	}
	reportPath := viper.GetString("serve.report")
	mbtilesPath := viper.GetString("serve.mbtiles")

	s, err := server.New(server.Config{
		Root:         root,
		ReportPath:   reportPath,
		MBTilesPath:  mbtilesPath,
		CacheControl: viper.GetString("serve.cache_control"),
	}, logger)
	if err != nil {
		return err
	}
	defer s.Close() // nolint:errcheck // Read-only database

	logger.Info("artifact server listening",
		"addr", addr,
		"root", root,
		"report", reportPath,
		"mbtiles", mbtilesPath,
	)

	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

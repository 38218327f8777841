package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/devserver"
	"github.com/npezzotti/go-estate-chat/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	debugAddr      string
	signingKey     string
	seedCount      int
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&debugAddr, "debug-addr", "localhost:8001", "address serving /debug/vars, empty to disable")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.IntVar(&seedCount, "seed", 45, "number of messages in the demo room")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[estate-devserver] ", log.LstdFlags)

	cfg, err := devserver.NewConfig(addr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	store := devserver.NewStore()
	room, err := devserver.Seed(store, seedCount)
	if err != nil {
		logger.Fatal("seed:", err)
	}
	logger.Printf("demo room %s for listing %s, log in as %s or %s with password %q\n",
		room.Id, room.ListingId, devserver.DemoBuyer, devserver.DemoAgent, devserver.DemoPassword)

	debugMux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(debugMux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	var debugSrv *http.Server
	if debugAddr != "" {
		debugSrv = &http.Server{Addr: debugAddr, Handler: debugMux}
		go func() {
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Println("debug server:", err)
			}
		}()
	}

	srv := devserver.NewServer(logger, store, statsUpdater, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}
	if debugSrv != nil {
		debugSrv.Close()
	}

	logger.Println("shutdown complete")
}

package command

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/npezzotti/go-estate-chat/internal/config"
	"github.com/npezzotti/go-estate-chat/internal/stats"
	"github.com/spf13/cobra"
)

// env is what every subcommand needs: configuration, a logger and, with
// --debug-addr, a counters endpoint.
type env struct {
	cfg     *config.Config
	log     *log.Logger
	stats   stats.StatsProvider
	closers []func()
}

// newEnv reads the shared flags. Logs go to --log-file if given, otherwise
// to fallback.
func newEnv(cmd *cobra.Command, fallback io.Writer) (*env, error) {
	baseURL, _ := cmd.Flags().GetString("base-url")
	token, _ := cmd.Flags().GetString("token")
	logFile, _ := cmd.Flags().GetString("log-file")
	debugAddr, _ := cmd.Flags().GetString("debug-addr")

	if token == "" {
		token = os.Getenv(tokenEnv)
	}

	cfg, err := config.NewConfig(baseURL, token)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	out := fallback
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { f.Close() })
		out = f
	}
	e.log = log.New(out, "[estate-chat] ", log.LstdFlags)

	if debugAddr != "" {
		mux := http.NewServeMux()
		su := stats.NewStatsUpdater(mux)
		su.Run()

		srv := &http.Server{Addr: debugAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Println("debug server:", err)
			}
		}()

		e.stats = su
		e.closers = append(e.closers, func() { srv.Close() }, su.Stop)
	}

	return e, nil
}

// Close releases resources in reverse order of acquisition.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

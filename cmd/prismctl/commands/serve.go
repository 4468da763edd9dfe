package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/prismmesh"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/transport/ws"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the registered units over websocket links",
		Long: `Serve every registered unit over websocket links.

Each connection to /units/<unit> establishes a link to a fresh instance of
that unit; the instance lives as long as the connection. GET /units lists
the registered unit identifiers.

Examples:
  prismctl serve --addr :7070
  prismctl --provider anthropic serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := a.logger(cmd.ErrOrStderr())
			m, err := a.newMesh(logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           newServeMux(m, a.cfg.PollInterval, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Serving units", "addr", addr, "units", m.Registry().Units(), "config", a.cfg.String())
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace+5*time.Second)
			defer cancel()

			logger.Info("Shutting down")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP shutdown incomplete", "error", err)
			}
			return m.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":7070", "listen address")
	return cmd
}

// newServeMux routes /units/{id} to websocket links and /units to the unit list.
func newServeMux(m *prismmesh.PrismMesh, poll time.Duration, logger *logging.MeshLogger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /units/{id}", &ws.Handler{
		Open: func(r *http.Request) (*link.Link, error) {
			return m.Connect(r.Context(), r.PathValue("id"))
		},
		Logger: logger.WithComponent("websocket"),
		LinkOptions: []func(o *link.Options){func(o *link.Options) {
			o.PollInterval = poll
		}},
	})

	mux.HandleFunc("GET /units", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Registry().Units())
	})
	return mux
}

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v3"
)

// serve creates the serve command: a thin HTTP trigger for the confirmation
// gate, for hosts where the operator confirms through a browser rather than
// a shell.
func serve() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP confirmation trigger",
		Description: `Expose the confirmation gate over HTTP.

POST /liquibase/rollback performs the same destructive reconciliation pass as
'changeguard confirm' and responds 204 on success. The host application is
expected to reload itself afterwards.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address",
				Value: ":8153",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			addr := cmd.String("addr")
			slog.Info("serving confirmation trigger", "addr", addr)
			return http.ListenAndServe(addr, newRouter())
		},
	}
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Post("/liquibase/rollback", handleRollback)
	return r
}

func handleRollback(w http.ResponseWriter, req *http.Request) {
	if err := confirmAll(req.Context()); err != nil {
		slog.Error("confirmation pass failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline control server",
	Long:  "Runs the pipeline scheduler and exposes HTTP endpoints to enqueue, cancel, and inspect label pipeline runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := scheduler.New(env.Runner, env.Store)
		sched.Start(ctx)

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		mux.HandleFunc("POST /labels/{labelID}/pipeline/run", func(w http.ResponseWriter, r *http.Request) {
			labelID := r.PathValue("labelID")
			replace := r.URL.Query().Get("replace") == "true"

			if err := sched.Enqueue(r.Context(), labelID, replace); err != nil {
				zap.L().Error("enqueue failed", zap.String("label_id", labelID), zap.Error(err))
				http.Error(w, `{"error":"enqueue failed"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{
				"status":   "queued",
				"label_id": labelID,
			})
		})

		mux.HandleFunc("POST /labels/{labelID}/pipeline/cancel", func(w http.ResponseWriter, r *http.Request) {
			labelID := r.PathValue("labelID")
			canceled := sched.Cancel(r.Context(), labelID)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]any{
				"canceled": canceled,
				"label_id": labelID,
			})
		})

		mux.HandleFunc("GET /labels/{labelID}/pipeline/status", func(w http.ResponseWriter, r *http.Request) {
			labelID := r.PathValue("labelID")
			run, err := sched.Status(r.Context(), labelID)
			if err != nil {
				zap.L().Error("status lookup failed", zap.String("label_id", labelID), zap.Error(err))
				http.Error(w, `{"error":"status lookup failed"}`, http.StatusInternalServerError)
				return
			}
			if run == nil {
				http.Error(w, `{"error":"label not found"}`, http.StatusNotFound)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(run)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownGracefully(srv, shutdownTimeout)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		sched.Wait()
		return nil
	},
}

// shutdownGracefully drains in-flight requests on its own deadline; the
// signal context is already canceled by the time shutdown begins.
func shutdownGracefully(srv *http.Server, timeout time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

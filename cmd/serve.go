package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/registry"
	"github.com/fundradar/radar/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger server and slot scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		go runScheduler(ctx, e, cfg.Server.Workers)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(e),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(e *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/slots/{slot}/trigger", func(w http.ResponseWriter, req *http.Request) {
		slot := chi.URLParam(req, "slot")
		res, err := e.orch.ExecuteSlot(req.Context(), slot, true)
		switch {
		case eris.Is(err, registry.ErrRunInProgress):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
			return
		case err != nil:
			zap.L().Error("manual trigger failed", zap.String("slot", slot), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if res.Executed {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"executed": res.Executed,
			"run":      res.Run,
		})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.RunFilter{Date: q.Get("date")}
		if s := q.Get("status"); s != "" {
			filter.Status = model.RunStatus(s)
		}
		runs, err := e.store.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("list runs", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	})

	r.Get("/digests/{date}", func(w http.ResponseWriter, req *http.Request) {
		date := chi.URLParam(req, "date")
		d, err := e.store.GetDailyDigest(req.Context(), date)
		if err != nil {
			zap.L().Error("get digest", zap.String("date", date), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "get digest failed"})
			return
		}
		if d == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no digest for " + date})
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	return r
}

// runScheduler fires scheduled triggers when the wall clock crosses a
// configured slot. Triggers go through a job channel consumed by a
// small worker pool so overlapping slots never pile up unbounded
// goroutines; the run registry makes duplicate fires harmless.
func runScheduler(ctx context.Context, e *env, workers int) {
	if workers <= 0 {
		workers = 2
	}

	jobs := make(chan string)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for slot := range jobs {
				if _, err := e.orch.ExecuteSlot(ctx, slot, false); err != nil {
					zap.L().Error("scheduled run failed",
						zap.String("slot", slot),
						zap.Error(err))
				}
			}
			return nil
		})
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	fired := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			g.Wait() //nolint:errcheck // workers never return errors
			return
		case now := <-ticker.C:
			settings, err := e.store.GetSettings(ctx)
			if err != nil {
				zap.L().Warn("scheduler: load settings", zap.Error(err))
				continue
			}
			for _, slot := range dueSlots(now, settings.Slots, fired) {
				select {
				case jobs <- slot:
				case <-ctx.Done():
				}
			}
		}
	}
}

// dueSlots returns the configured slots matching now's wall clock that
// have not fired yet, marking them fired. Keys from earlier days are
// pruned so the map stays one day's size.
func dueSlots(now time.Time, slots []string, fired map[string]bool) []string {
	day := now.Format("2006-01-02")
	for k := range fired {
		if !strings.HasPrefix(k, day) {
			delete(fired, k)
		}
	}

	label := now.Format("15:04")
	var due []string
	for _, slot := range slots {
		key := day + ":" + slot
		if slot != label || fired[key] {
			continue
		}
		fired[key] = true
		due = append(due, slot)
	}
	return due
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

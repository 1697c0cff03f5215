package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	kerrors "github.com/kcartbot/knowledge-engine/errors"
	"github.com/kcartbot/knowledge-engine/knowledge"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newServeCmd(configFile *string) *cobra.Command {
	params := &struct {
		Port int
	}{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge search API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			engine, conf, err := newEngine(ctx, *configFile)
			if err != nil {
				return err
			}
			defer engine.Close()

			logger := mylogFromConf(conf)

			port := params.Port
			if port == 0 {
				port = conf.Server.Port
			}

			handler := createServerHandler(engine.Knowledge(), logger)

			logger.Info("server started", "port", port)
			defer logger.Info("server stopped")

			server := &http.Server{
				Addr:    ":" + strconv.Itoa(port),
				Handler: handler,
				BaseContext: func(l net.Listener) context.Context {
					return ctx
				},
			}

			go func() {
				<-ctx.Done()
				if err := server.Shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.Error("failed to shutdown server", "error", err)
				}
			}()

			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.WithStack(err)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&params.Port, "port", "p", 0, "Port to listen on (overrides config)")

	return cmd
}

func createServerHandler(service knowledge.Service, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()
	createKnowledgeRouter(router, service)
	createProductsRouter(router, service)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.PrintRecoveryStack(true),
		handlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
	)

	return cors(recovery(router))
}

func createKnowledgeRouter(router *mux.Router, service knowledge.Service) {

	// Add a knowledge entry
	router.HandleFunc("/knowledge", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content       string `json:"content"`
			ProductID     string `json:"product_id"`
			KnowledgeType string `json:"knowledge_type"`
			Language      string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := service.AddKnowledge(r.Context(), req.Content, req.ProductID, req.KnowledgeType, req.Language)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, map[string]any{"id": id})
	}).Methods("POST")

	// Update a knowledge entry's content
	router.HandleFunc("/knowledge/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := service.UpdateKnowledge(r.Context(), mux.Vars(r)["id"], req.Content); err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, map[string]any{"success": true})
	}).Methods("PUT")

	// Delete a knowledge entry; deleting a missing id is not an error
	router.HandleFunc("/knowledge/{id}", func(w http.ResponseWriter, r *http.Request) {
		removed, err := service.DeleteKnowledge(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, map[string]any{"success": removed})
	}).Methods("DELETE")

	// Semantic search with optional exact-match filters
	router.HandleFunc("/knowledge/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		opts := []knowledge.SearchOption{}
		if v := q.Get("product_id"); v != "" {
			opts = append(opts, knowledge.WithProduct(v))
		}
		if v := q.Get("knowledge_type"); v != "" {
			opts = append(opts, knowledge.WithKnowledgeType(v))
		}
		if v := q.Get("language"); v != "" {
			opts = append(opts, knowledge.WithLanguage(v))
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "limit must be an integer", http.StatusBadRequest)
				return
			}
			opts = append(opts, knowledge.WithLimit(limit))
		}

		results, err := service.SearchKnowledge(r.Context(), q.Get("query"), opts...)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, results)
	}).Methods("GET")

	// Index-level statistics
	router.HandleFunc("/knowledge/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := service.GetKnowledgeStats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, stats)
	}).Methods("GET")
}

func createProductsRouter(router *mux.Router, service knowledge.Service) {

	// All indexed knowledge for one product
	router.HandleFunc("/products/{id}/knowledge", func(w http.ResponseWriter, r *http.Request) {
		entries, err := service.GetProductKnowledge(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("type"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, entries)
	}).Methods("GET")

	// Product discovery through knowledge content
	router.HandleFunc("/products/search", func(w http.ResponseWriter, r *http.Request) {
		limit := 5
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "limit must be an integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		matches, err := service.SearchSimilarProducts(r.Context(), r.URL.Query().Get("query"), limit)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, matches)
	}).Methods("GET")

	// Category-scoped tips for a product, by name
	router.HandleFunc("/products/{name}/tips", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		var tips []string
		var err error
		switch knowledgeType := r.URL.Query().Get("type"); knowledgeType {
		case knowledge.TypeStorage, "":
			tips, err = service.StorageTips(r.Context(), name)
		case knowledge.TypeNutrition:
			tips, err = service.NutritionalInfo(r.Context(), name)
		case knowledge.TypeRecipe:
			tips, err = service.Recipes(r.Context(), name)
		case knowledge.TypeSeasonal:
			tips, err = service.SeasonalInfo(r.Context(), name)
		default:
			http.Error(w, "unknown tip type: "+knowledgeType, http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, tips)
	}).Methods("GET")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses, so that
// callers can tell an empty match set (200 with []) from a broken subsystem.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kerrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, kerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, kerrors.ErrEmbedding):
		status = http.StatusBadGateway
	case errors.Is(err, kerrors.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}

	http.Error(w, err.Error(), status)
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/docbridge/pkg/docbridge"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a small HTTP API over the adapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			adapter, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer adapter.Close()
			if err := adapter.PerformInitialization(ctx, nil); err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           NewServer(adapter, opts.logger).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				opts.logger.Info("http server listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
				opts.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// Server exposes object operations over HTTP. Schemas are read from the
// catalog on every request.
type Server struct {
	adapter docbridge.Adapter
	logger  *slog.Logger
}

// NewServer creates a Server on adapter.
func NewServer(adapter docbridge.Adapter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{adapter: adapter, logger: logger.With("component", "http")}
}

// Routes returns the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /classes/{class}", s.createObject)
	mux.HandleFunc("POST /classes/{class}/query", s.find)
	mux.HandleFunc("DELETE /classes/{class}/query", s.delete)
	return mux
}

// queryRequest is the body of the query endpoints.
type queryRequest struct {
	Where docbridge.Filter `json:"where"`
	Skip  *int             `json:"skip,omitempty"`
	Limit *int             `json:"limit,omitempty"`

	// Order is a comma separated field list; a leading "-" sorts descending.
	Order string   `json:"order,omitempty"`
	Keys  []string `json:"keys,omitempty"`
	Count bool     `json:"count,omitempty"`
}

func (q queryRequest) findOptions() docbridge.FindOptions {
	opts := docbridge.FindOptions{Skip: q.Skip, Limit: q.Limit, Keys: q.Keys}
	for _, field := range strings.Split(q.Order, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key := docbridge.SortKey{Field: strings.TrimPrefix(field, "-"), Descending: strings.HasPrefix(field, "-")}
		opts.Sort = append(opts.Sort, key)
	}
	return opts
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) createObject(w http.ResponseWriter, r *http.Request) {
	className := r.PathValue("class")
	var object docbridge.Object
	if err := json.NewDecoder(r.Body).Decode(&object); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if _, ok := object["objectId"]; !ok {
		object["objectId"] = uuid.NewString()
	}

	ctx := r.Context()
	schema, err := s.adapter.GetClass(ctx, className)
	if err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.adapter.CreateObject(ctx, className, schema, object)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Debug("object created", "class", className, "object_id", created["objectId"])
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) find(w http.ResponseWriter, r *http.Request) {
	className := r.PathValue("class")
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	schema, err := s.adapter.GetClass(ctx, className)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.adapter.Find(ctx, className, schema, req.Where, req.findOptions())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"results": results}
	if req.Count {
		n, err := s.adapter.Count(ctx, className, schema, req.Where, len(req.Where) == 0)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp["count"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	className := r.PathValue("class")
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	schema, err := s.adapter.GetClass(ctx, className)
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.adapter.DeleteObjectsByQuery(ctx, className, schema, req.Where)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	var de *docbridge.Error
	switch {
	case errors.Is(err, docbridge.ErrClassNotFound):
		status = http.StatusNotFound
	case errors.As(err, &de):
		status = http.StatusBadRequest
		if de.Code == docbridge.ObjectNotFound {
			status = http.StatusNotFound
		}
		body["code"] = de.Code
		body["error"] = de.Message
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

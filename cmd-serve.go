package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/retriever"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

// httpServer exposes the read surface: GET/DELETE on /files/{uid} and PUT
// on /files/{uid}/retention-policy.
type httpServer struct {
	retriever *retriever.Retriever
	retention *retriever.ExtendedRetentionManager
}

func newCmd_Serve() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{Name: "listen", Value: ":8080", Usage: "Listen address"},
	}, readPathFlags()...)

	return &cli.Command{
		Name:        "serve",
		Usage:       "Serve the HTTP read/delete/retention surface over a blob store.",
		Description: "Exposes GET/DELETE /files/{uid} and PUT /files/{uid}/retention-policy against the configured blob store.",
		Flags:       flags,
		Action: func(c *cli.Context) error {
			store, err := openStore(c.String("store"))
			if err != nil {
				return err
			}
			r, err := buildRetriever(c, store)
			if err != nil {
				return err
			}

			srv := &httpServer{retriever: r}
			if dir := c.String("ext-retention-dir"); dir != "" {
				srv.retention = retriever.NewExtendedRetentionManager(retriever.NewFSExtendedRetention(dir), r, retriever.DefaultExtPrefix)
			}

			mux := http.NewServeMux()
			mux.HandleFunc("GET /files/{uid}", srv.handleGet)
			mux.HandleFunc("DELETE /files/{uid}", srv.handleDelete)
			mux.HandleFunc("PUT /files/{uid}/retention-policy", srv.handleSetRetention)

			httpSrv := &http.Server{Addr: c.String("listen"), Handler: mux}
			go func() {
				<-c.Context.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutdownCtx)
			}()

			klog.InfoS("serving DES read surface", "listen", c.String("listen"))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func (s *httpServer) handleGet(w http.ResponseWriter, req *http.Request) {
	uid := req.PathValue("uid")
	createdAt, err := parseCreatedAt(req.URL.Query().Get("created_at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	data, err := s.retriever.Get(req.Context(), uid, createdAt)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *httpServer) handleDelete(w http.ResponseWriter, req *http.Request) {
	uid := req.PathValue("uid")
	q := req.URL.Query()
	createdAt, err := parseCreatedAt(q.Get("created_at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.retriever.Delete(req.Context(), uid, createdAt, q.Get("deleted_by"), q.Get("reason"), q.Get("ticket_id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "tombstoned"})
}

type setRetentionRequest struct {
	CreatedAt string `json:"created_at"`
	DueDate   string `json:"due_date"`
}

func (s *httpServer) handleSetRetention(w http.ResponseWriter, req *http.Request) {
	if s.retention == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("extended retention is not configured on this server"))
		return
	}
	uid := req.PathValue("uid")

	var body setRetentionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	createdAt, err := parseCreatedAt(body.CreatedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dueDate, err := parseCreatedAt(body.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parsing due_date: %w", err))
		return
	}

	result, err := s.retention.SetRetentionPolicy(req.Context(), uid, createdAt, dueDate)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"action":          result.Action,
		"key":             result.Key,
		"retention_until": result.RetentionUntil.UTC().Format(time.RFC3339),
	})
}

func parseCreatedAt(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: created_at is required", errs.ErrInvalidArgument)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid created_at %q: %v", errs.ErrInvalidArgument, v, err)
	}
	return t, nil
}

// statusForError maps a des error taxonomy value to its HTTP status code.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrTombstoned):
		return http.StatusGone
	case errors.Is(err, errs.ErrAlreadyDeleted):
		return http.StatusGone
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

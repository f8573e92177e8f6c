package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maneesh/mediadrop/internal/auth"
	"github.com/maneesh/mediadrop/internal/upload"
)

// RouterDeps are the pieces NewRouter mounts. Media and Resumable are
// optional.
type RouterDeps struct {
	Upload        *UploadHandler
	Media         *MediaHandler
	Health        http.Handler
	Resumable     http.Handler
	ResumablePath string
	Tokens        *auth.TokenManager
	Logger        *slog.Logger
}

// NewRouter builds the service router. Everything except /health and
// /upload/limits requires a bearer token.
func NewRouter(deps RouterDeps) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger(deps.Logger))

	if deps.Health != nil {
		router.Handle("/health", deps.Health).Methods(http.MethodGet)
	}
	router.Handle("/upload/limits", traced(http.HandlerFunc(deps.Upload.Limits), "GET /upload/limits")).Methods(http.MethodGet)

	protected := router.NewRoute().Subrouter()
	protected.Use(auth.Middleware(deps.Tokens, deps.Logger, Unauthorized))

	up := deps.Upload
	routes := []struct {
		method, path string
		handler      http.HandlerFunc
	}{
		{http.MethodPost, "/upload/chunk", up.Chunk},
		{http.MethodPut, "/upload/direct", up.Direct},
		{http.MethodPost, "/upload/sessions", up.OpenSession},
		{http.MethodGet, "/upload/sessions/{id}", up.SessionStatus},
		{http.MethodDelete, "/upload/sessions/{id}", up.AbortSession},
		{http.MethodPost, "/upload/sessions/{id}/assemble", up.Assemble},
	}
	if m := deps.Media; m != nil {
		routes = append(routes, []struct {
			method, path string
			handler      http.HandlerFunc
		}{
			{http.MethodGet, "/media", m.List},
			{http.MethodPost, "/media", m.Create},
			{http.MethodGet, "/media/{id}", m.Get},
			{http.MethodDelete, "/media/{id}", m.Delete},
			{http.MethodPost, "/media/{id}/views", m.View},
		}...)
	}
	for _, rt := range routes {
		protected.Handle(rt.path, traced(rt.handler, rt.method+" "+rt.path)).Methods(rt.method)
	}

	if deps.Resumable != nil && deps.ResumablePath != "" {
		protected.PathPrefix(deps.ResumablePath).Handler(traced(deps.Resumable, "tus "+deps.ResumablePath))
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusNotFound, upload.CodeNotFound, "route not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, upload.CodeInvalidRequest, "method not allowed", nil)
	})
	return router
}

func traced(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation)
}

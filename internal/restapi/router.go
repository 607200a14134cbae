package restapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/dapi/{id}/{ident}", func(r chi.Router) {
		if s.authMW != nil {
			r.Use(s.authMW)
		}
		r.Get("/", s.handleGet)
		r.Put("/", s.handlePut)
		r.Post("/", s.handlePost)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

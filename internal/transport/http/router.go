package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/booth-service/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Handler *Handler
	// WS serves the relay upgrade.
	WS http.HandlerFunc
	// Assets serves locally stored objects under /assets; nil when objects live elsewhere.
	Assets         http.Handler
	AllowedOrigins []string
	Timeout        time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := d.Handler

	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(httpmw.RequestIDHeader)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.WithRequestLogger)
	r.Use(httpmw.RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// WS endpoint
	if d.WS != nil {
		r.Get("/ws/booth/{id}", d.WS)
	}

	r.Get("/", h.Banner)
	r.Get("/health", h.Health)

	r.Group(func(pr chi.Router) {
		pr.Use(middlewareChi.Timeout(d.Timeout))

		pr.Route("/api", func(ar chi.Router) {
			ar.Get("/time", h.ServerTime)
			ar.Post("/room/create", h.CreateRoom)
			ar.Get("/room/{id}/status", h.RoomStatus)
			ar.Post("/assets", h.UploadAsset)
			ar.Post("/stitch", h.SubmitStitch)
			ar.Get("/stitch/{session_id}", h.StitchStatus)
		})
	})

	if d.Assets != nil {
		r.Handle("/assets/*", http.StripPrefix("/assets", d.Assets))
	}

	return r
}

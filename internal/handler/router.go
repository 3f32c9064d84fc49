package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/personachat/backend/internal/handler/chat"
	"github.com/personachat/backend/internal/handler/page"
	"github.com/personachat/backend/internal/handler/persona"
	"github.com/personachat/backend/internal/handler/realtime"
	"github.com/personachat/backend/internal/handler/stream"
	middlewarePkg "github.com/personachat/backend/internal/middleware"
	personaModel "github.com/personachat/backend/internal/model/persona"
	chatService "github.com/personachat/backend/internal/service/chat"
	"github.com/personachat/backend/internal/service/conversation"
	"github.com/personachat/backend/pkg/utils"
)

// Options 描述路由所需的依赖。
type Options struct {
	Personas     personaModel.Store
	Sessions     *chatService.Service
	Conversation *conversation.Service
	Session      middlewarePkg.SessionOptions

	// Verifier 为 nil 时不启用访问控制。
	Verifier middlewarePkg.TokenVerifier
	LoginURL string

	// AllowedOrigins 为允许携带凭证跨域访问的来源，同源请求无需配置。
	AllowedOrigins []string

	Title      string
	ModelError string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	origins := middlewarePkg.NewOrigins(opts.AllowedOrigins)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(origins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"modelReady": opts.Conversation.Ready(),
		})
	})

	// Create handlers
	pageHandler := page.New(opts.Title, opts.ModelError)
	personaHandler := persona.New(opts.Personas)
	chatHandler := chat.New(opts.Conversation)
	streamHandler := stream.New(opts.Conversation)
	wsHandler := realtime.NewWebSocketHandler(opts.Conversation, origins)

	r.Group(func(app chi.Router) {
		app.Use(middlewarePkg.Sessions(opts.Sessions, opts.Session))
		if opts.Verifier != nil {
			app.Use(middlewarePkg.AccessGate(opts.Sessions, opts.Verifier, opts.LoginURL))
		}

		pageHandler.RegisterRoutes(app)

		app.Route("/api", func(api chi.Router) {
			personaHandler.RegisterRoutes(api)
			chatHandler.RegisterRoutes(api)
			streamHandler.RegisterRoutes(api)
			wsHandler.RegisterWebSocketRoutes(api)
		})
	})

	return r
}

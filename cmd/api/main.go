package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/personachat/backend/internal/config"
	"github.com/personachat/backend/internal/handler"
	"github.com/personachat/backend/internal/middleware"
	"github.com/personachat/backend/internal/model/persona"
	"github.com/personachat/backend/internal/service/ai"
	"github.com/personachat/backend/internal/service/auth"
	"github.com/personachat/backend/internal/service/chat"
	"github.com/personachat/backend/internal/service/conversation"
)

const pageTitle = "AI Therapy Client Simulator"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore, err := loadPersonas(cfg.Persona.File)
	if err != nil {
		log.Fatalf("failed to load personas: %v", err)
	}

	globalNotes, err := persona.LoadNotes(cfg.Persona.NotesFile)
	if err != nil {
		log.Printf("warning: global persona notes unavailable: %v", err)
		globalNotes = ""
	}

	chatService := chat.NewService()
	go chatService.RunJanitor(ctx, cfg.Session.TTL, 0)

	// responder 必须保持为接口零值，避免 typed nil 让 Ready() 误判
	var responder conversation.Responder
	modelError := ""
	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		modelError = err.Error()
		log.Printf("warning: %v", err)
		log.Println("continuing without AI functionality")
	} else {
		responder = aiService
		log.Printf("AI service initialized (provider=%s model=%s)", cfg.AI.Provider, cfg.AI.Model)
	}

	conv := conversation.New(chatService, personaStore, globalNotes, responder)

	opts := handler.Options{
		Personas:     personaStore,
		Sessions:     chatService,
		Conversation: conv,
		Session: middleware.SessionOptions{
			CookieName: cfg.Session.CookieName,
			Secure:     cfg.Session.SecureCookie,
		},
		LoginURL:       cfg.Auth.LoginURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Title:          pageTitle,
		ModelError:     modelError,
	}
	if cfg.Auth.Enabled() {
		opts.Verifier = auth.NewVerifier(cfg.Auth.VerifyURL, cfg.Auth.Timeout, cfg.Auth.Retries)
		log.Printf("access gate enabled (verify=%s)", cfg.Auth.VerifyURL)
	} else {
		log.Println("AUTH_VERIFY_URL 未配置，跳过访问控制")
	}

	startServer(ctx, cfg.Server, handler.NewRouter(opts))
}

// loadPersonas reads the persona file, falling back to the built-in catalog
// when the file does not exist.
func loadPersonas(path string) (*persona.MemoryStore, error) {
	categories, err := persona.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: persona file %s not found, using built-in personas", path)
		return persona.NewMemoryStore(persona.Seed()), nil
	}
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d persona categories from %s", len(categories), path)
	return persona.NewMemoryStore(categories), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("persona chat listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

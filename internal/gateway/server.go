package gateway

import (
	"net/http"

	"github.com/gabrielauvo/autonomo/internal/infra"
	"github.com/gabrielauvo/autonomo/internal/infra/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256),
	// реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	suspendGuard func(http.Handler) http.Handler
	rateGuard    func(http.Handler) http.Handler

	// Обработчики бизнес-доменов
	authHandler  *AuthHandler         // /auth/token
	chatHandler  *ChatHandler         // /v1/chat
	planHandler  *PlanHandler         // /v1/plans
	convHandler  *ConversationHandler // /v1/conversations
	auditHandler *AuditHandler        // /v1/audit
	adminHandler *AdminHandler        // /v1/admin
	toolsHandler *ToolsHandler        // /v1/tools
}

// NewServer инициализирует шлюз ассистента со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	suspendGuard func(http.Handler) http.Handler,
	rateGuard func(http.Handler) http.Handler,
	authH *AuthHandler,
	chatH *ChatHandler,
	planH *PlanHandler,
	convH *ConversationHandler,
	auditH *AuditHandler,
	adminH *AdminHandler,
	toolsH *ToolsHandler,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("gateway-api"),
		cfg:           cfg,
		authValidator: validator,
		suspendGuard:  suspendGuard,
		rateGuard:     rateGuard,
		authHandler:   authH,
		chatHandler:   chatH,
		planHandler:   planH,
		convHandler:   convH,
		auditHandler:  auditH,
		adminHandler:  adminH,
		toolsHandler:  toolsH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Tracing)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (требует RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		r.Use(s.suspendGuard)
		r.Use(s.rateGuard)

		// Ассистент
		r.Post("/v1/chat", s.chatHandler.Chat)
		r.Get("/v1/tools", s.toolsHandler.List)

		// Планы (подтверждение/отклонение мимо чата, для UI со списком)
		r.Route("/v1/plans", func(r chi.Router) {
			r.Get("/pending", s.planHandler.ListPending)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/confirm", s.planHandler.Confirm)
				r.Post("/reject", s.planHandler.Reject)
			})
		})

		// Диалоги
		r.Route("/v1/conversations", func(r chi.Router) {
			r.Get("/", s.convHandler.List)
			r.Get("/{id}", s.convHandler.Get)
		})

		// Аудит и логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)

		// Рубильник аккаунтов (admin)
		r.Route("/v1/admin/users/{id}", func(r chi.Router) {
			r.Post("/suspend", s.adminHandler.Suspend)
			r.Post("/resume", s.adminHandler.Resume)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

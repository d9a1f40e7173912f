package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"pasanaco/internal/cache"
	"pasanaco/internal/core"
	"pasanaco/internal/log"
	"pasanaco/internal/middleware/ratelimit"
	"pasanaco/internal/middleware/security"
	"pasanaco/internal/middleware/trace"
	"pasanaco/internal/services"
)

// Settlement is the pool API the handlers drive. *services.PasanacoService
// implements it.
type Settlement interface {
	CreatePasanaco(ctx context.Context, ownerID string, d services.PasanacoDraft) (core.Pasanaco, error)
	GetPasanaco(ctx context.Context, id string) (core.Pasanaco, error)
	ListPasanacos(ctx context.Context, ownerID string) ([]core.Pasanaco, error)
	UpdatePasanaco(ctx context.Context, id, userID string, edit services.PasanacoEdit) (core.Pasanaco, error)
	DeletePasanacoCascade(ctx context.Context, poolID, userID string) (core.RelatedSummary, error)
	GetRelatedSummary(ctx context.Context, poolID string) (core.RelatedSummary, error)
	ListEvents(ctx context.Context, poolID string, limit int) ([]core.SettlementEvent, error)

	AddParticipant(ctx context.Context, poolID, userID, name string, assignedNumber int) (core.Participant, error)
	ListParticipants(ctx context.Context, poolID string) ([]core.Participant, error)
	SetParticipantReceived(ctx context.Context, poolID, userID, participantID string, received bool) (core.Participant, error)
	CreateLoanForParticipant(ctx context.Context, poolID, participantID string, amount core.Money, userID, note string) (core.Loan, error)

	GeneratePayments(ctx context.Context, poolID, userID string, period *core.Period) (int, core.Period, error)
	ListPayments(ctx context.Context, poolID string, period *core.Period) ([]core.PasanacoPayment, core.Period, error)
	AdvanceRound(ctx context.Context, poolID, userID string, createLoans bool) (services.AdvanceResult, error)
	RetreatRound(ctx context.Context, poolID, userID string) (bool, error)
	MarkPaymentPaid(ctx context.Context, paymentID, userID string) (bool, error)
	UndoPayment(ctx context.Context, paymentID, userID string) (bool, error)

	ListLoans(ctx context.Context, userID string) ([]core.Loan, error)
	RepayLoan(ctx context.Context, loanID, userID string, amount core.Money) (core.Loan, error)

	Ready(ctx context.Context) error
}

// Options configure the server beyond its address and settlement backend.
type Options struct {
	JWTSecret          []byte
	RateLimitPerMinute int
	SummaryCacheTTL    time.Duration
	Logger             *log.Logger
}

const (
	summaryCacheSize   = 500
	cacheCleanupEvery  = 10 * time.Minute
	readyTimeout       = 2 * time.Second
	summaryKeyPrefix   = "summary:"
	defaultEventsLimit = 50
	defaultSummaryTTL  = time.Minute
	serverReadTimeout  = 15 * time.Second
	readHeaderTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	serverIdleTimeout  = 120 * time.Second
)

type Server struct {
	http.Server
	svc      Settlement
	auth     *Authenticator
	decoder  *RequestDecoder
	limiter  *ratelimit.Limiter
	detector *security.Detector
	logger   *log.Logger

	summaryCache *cache.LRUCache[core.RelatedSummary]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer wires middleware and routes, returning a ready-to-run http.Server.
func NewServer(addr string, svc Settlement, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default(log.ComponentHTTP)
	}
	if opts.SummaryCacheTTL <= 0 {
		opts.SummaryCacheTTL = defaultSummaryTTL
	}
	rlConfig := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		rlConfig.RequestsPerMinute = opts.RateLimitPerMinute
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadTimeout:       serverReadTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      serverWriteTimeout,
			IdleTimeout:       serverIdleTimeout,
		},
		svc:          svc,
		auth:         NewAuthenticator(opts.JWTSecret),
		decoder:      NewRequestDecoder(),
		limiter:      ratelimit.NewLimiter(rlConfig),
		detector:     security.NewDetector(),
		logger:       opts.Logger,
		summaryCache: cache.NewLRUCache[core.RelatedSummary](summaryCacheSize, opts.SummaryCacheTTL),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(cacheCleanupEvery)

	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(trace.NewMiddleware(s.logger, s.detector.ExtractClientIP).Middleware)
	r.Use(recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFoundError("route not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, CodeMethod, "method not allowed").Write(w)
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.limiter.Middleware(s.rateLimitKey, func(w http.ResponseWriter, _ *http.Request) {
			TooManyRequestsError().Write(w)
		}))

		r.Route("/pasanacos", func(r chi.Router) {
			r.Post("/", s.handleCreatePasanaco)
			r.Get("/", s.handleListPasanacos)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPasanaco)
				r.Put("/", s.handleUpdatePasanaco)
				r.Delete("/", s.handleDeletePasanaco)
				r.Get("/summary", s.handleSummary)
				r.Get("/events", s.handleListEvents)

				r.Post("/participants", s.handleAddParticipant)
				r.Get("/participants", s.handleListParticipants)
				r.Patch("/participants/{pid}", s.handleSetReceived)
				r.Post("/participants/{pid}/loans", s.handleParticipantLoan)

				r.Post("/payments/generate", s.handleGeneratePayments)
				r.Get("/payments", s.handleListPayments)
				r.Post("/rounds/advance", s.handleAdvanceRound)
				r.Post("/rounds/retreat", s.handleRetreatRound)
			})
		})

		r.Post("/payments/{id}/pay", s.handleMarkPaid)
		r.Post("/payments/{id}/undo", s.handleUndoPayment)

		r.Get("/loans", s.handleListLoans)
		r.Post("/loans/{id}/repayments", s.handleRepayLoan)
	})

	return r
}

// rateLimitKey counts per authenticated user, falling back to the client IP.
func (s *Server) rateLimitKey(r *http.Request) string {
	if userID := UserIDFromContext(r.Context()); userID != "" {
		return "user:" + userID
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Handler panic recovered",
					"panic", rec,
					"stack", string(debug.Stack()))
				InternalServerError("internal error").Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.svc.Ready(ctx); err != nil {
		slog.WarnContext(r.Context(), "Readiness check failed", "component", log.ComponentHTTP, "error", err)
		ErrorResponse(http.StatusServiceUnavailable, CodeNotReady, "store unavailable").Write(w)
		return
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

// writeError maps a service error onto a status code. Ownership is checked
// before validation because ErrNotOwner travels inside a ValidationError.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch {
	case isRequestError(err):
		BadRequestError(err.Error()).Write(w)
	case core.IsNotFound(err):
		NotFoundError(err.Error()).Write(w)
	case errors.Is(err, core.ErrNotOwner):
		ForbiddenError(err.Error()).Write(w)
	case core.IsValidation(err):
		UnprocessableEntityError(err.Error()).Write(w)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.FromContext(ctx).WarnContext(ctx, "Request aborted", log.FieldOperation, op, log.FieldError, err.Error())
		ErrorResponse(http.StatusServiceUnavailable, CodeRequestCanceled, "request canceled").Write(w)
	case core.IsDependency(err):
		log.NewStructuredLogger(log.FromContext(ctx)).
			LogError(ctx, "Settlement side effect failed", err, log.ComponentHTTP, op, nil)
		ErrorResponse(http.StatusInternalServerError, CodeDependency, err.Error()).Write(w)
	default:
		log.NewStructuredLogger(log.FromContext(ctx)).
			LogError(ctx, "Request failed", err, log.ComponentHTTP, op, nil)
		InternalServerError("internal error").Write(w)
	}
}

func summaryKey(poolID string) string {
	return summaryKeyPrefix + poolID
}

// invalidatePool drops cached aggregates of one pool.
func (s *Server) invalidatePool(poolID string) {
	s.summaryCache.Delete(summaryKey(poolID))
}

// invalidateAllPools is used by payment-addressed mutations, whose pool is
// not known to the handler.
func (s *Server) invalidateAllPools() {
	s.summaryCache.DeletePrefix(summaryKeyPrefix)
}

func (s *Server) getSummary(ctx context.Context, poolID string) (core.RelatedSummary, error) {
	return s.summaryCache.GetOrLoad(summaryKey(poolID), func() (core.RelatedSummary, error) {
		slog.DebugContext(ctx, "Summary cache miss", "pasanaco_id", poolID)
		if _, err := s.svc.GetPasanaco(ctx, poolID); err != nil {
			return core.RelatedSummary{}, err
		}
		return s.svc.GetRelatedSummary(ctx, poolID)
	})
}

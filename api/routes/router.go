package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/accountable/accountable-backend/api/controllers"
	"github.com/accountable/accountable-backend/api/middleware"
	"github.com/accountable/accountable-backend/internal/auth"
	"github.com/accountable/accountable-backend/internal/checkins"
	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/invitations"
	"github.com/accountable/accountable-backend/internal/messages"
	"github.com/accountable/accountable-backend/internal/notifications"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/progress"
	"github.com/accountable/accountable-backend/internal/realtime"
	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/auth/session"
	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
)

// Store is the redis surface the HTTP layer needs for rate limits and idempotency.
type Store interface {
	middleware.ReplayStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies collects everything the router hands to controllers.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Metrics  *metrics.HTTPMetrics
	Store    Store
	Tokens   middleware.TokenVerifier
	Sessions session.AccessSessionChecker
	Health   map[string]controllers.Pinger

	Auth          auth.Service
	Users         users.Service
	Invitations   invitations.Service
	Partnerships  partnerships.Service
	Goals         goals.Service
	CheckIns      checkins.Service
	Messages      messages.Service
	Progress      progress.Service
	Notifications notifications.Service
	Realtime      realtime.Source
}

func NewRouter(deps Dependencies) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.Metrics),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	signInPolicy := middleware.SignInPolicy(cfg.AuthRateLimit)
	signUpPolicy := middleware.SignUpPolicy(cfg.AuthRateLimit)
	resetPolicy := middleware.PasswordResetPolicy(cfg.AuthRateLimit)

	var (
		rateStore        Store
		idempotencyStore middleware.ReplayStore
	)
	if deps.Store != nil {
		rateStore, idempotencyStore = deps.Store, deps.Store
	}
	requireAuth := middleware.Auth(deps.Tokens, deps.Sessions, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Health))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(signUpPolicy, rateStore, logg)).Post("/signup", controllers.AuthSignUp(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(signInPolicy, rateStore, logg)).Post("/signin", controllers.AuthSignIn(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(signInPolicy, rateStore, logg)).Post("/confirm", controllers.AuthConfirm(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(resetPolicy, rateStore, logg)).Post("/password/reset-request", controllers.AuthPasswordResetRequest(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(resetPolicy, rateStore, logg)).Post("/password/reset", controllers.AuthPasswordReset(deps.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Auth, logg))
		r.With(requireAuth).Post("/signout", controllers.AuthSignOut(deps.Auth, logg))
		r.With(requireAuth).Get("/session", controllers.AuthSession(deps.Auth, logg))
	})

	r.Get("/api/v1/invitations/{token}", controllers.LookupInvitation(deps.Invitations, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", controllers.SearchProfiles(deps.Users, logg))
			r.Post("/", controllers.CreateProfile(deps.Users, logg))
			r.Post("/me/avatar", controllers.UploadAvatar(deps.Users, logg))
			r.Get("/{profileID}", controllers.GetProfile(deps.Users, logg))
			r.Patch("/{profileID}", controllers.UpdateProfile(deps.Users, logg))
		})

		r.Route("/partnerships", func(r chi.Router) {
			r.Get("/", controllers.ListPartnerships(deps.Partnerships, logg))
			r.Post("/", controllers.CreatePartnership(deps.Partnerships, logg))
			r.Get("/{partnershipID}", controllers.GetPartnership(deps.Partnerships, logg))
			r.Patch("/{partnershipID}/status", controllers.UpdatePartnershipStatus(deps.Partnerships, logg))
			r.Post("/{partnershipID}/{action}", controllers.TransitionPartnership(deps.Partnerships, logg))
		})

		r.Route("/invitations", func(r chi.Router) {
			r.Get("/", controllers.ListInvitations(deps.Invitations, logg))
			r.Post("/", controllers.CreateInvitation(deps.Invitations, logg))
			r.Post("/{invitationID}/revoke", controllers.RevokeInvitation(deps.Invitations, logg))
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", controllers.ListGoals(deps.Goals, logg))
			r.Post("/", controllers.CreateGoal(deps.Goals, logg))
			r.Get("/{goalID}", controllers.GetGoal(deps.Goals, logg))
			r.Patch("/{goalID}", controllers.UpdateGoal(deps.Goals, logg))
			r.Post("/{goalID}/complete", controllers.CompleteGoal(deps.Goals, logg))
			r.Post("/{goalID}/abandon", controllers.AbandonGoal(deps.Goals, logg))
			r.Get("/{goalID}/progress", controllers.ListGoalProgress(deps.Progress, logg))
		})

		r.Route("/checkins", func(r chi.Router) {
			r.Get("/", controllers.ListCheckIns(deps.CheckIns, logg))
			r.Post("/", controllers.CreateCheckIn(deps.CheckIns, logg))
			r.Patch("/{checkInID}/notes", controllers.UpdateCheckInNotes(deps.CheckIns, logg))
			r.Post("/{checkInID}/complete", controllers.CompleteCheckIn(deps.CheckIns, logg))
			r.Post("/{checkInID}/cancel", controllers.CancelCheckIn(deps.CheckIns, logg))
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", controllers.ListMessages(deps.Messages, logg))
			r.Post("/", controllers.SendMessage(deps.Messages, logg))
			r.Get("/unread", controllers.UnreadMessages(deps.Messages, logg))
			r.Post("/read-all", controllers.MarkAllMessagesRead(deps.Messages, logg))
			r.Post("/{messageID}/read", controllers.MarkMessageRead(deps.Messages, logg))
		})

		r.Post("/progress", controllers.CreateProgressUpdate(deps.Progress, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Get("/unread", controllers.UnreadNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})

		r.Get("/realtime", controllers.StreamChanges(deps.Realtime, logg))
	})

	return r
}

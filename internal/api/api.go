package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"fair/internal/account"
	"fair/internal/auth"
	"fair/internal/catalog"
	"fair/internal/chat"
	"fair/internal/config"
	"fair/internal/metrics"
	"fair/internal/model"
	"fair/internal/moderation"
	"fair/internal/storage"
	"fair/internal/support"
)

// AuditControl resizes the audit worker pool. Nil when the pipeline is off.
type AuditControl interface {
	SetWorkerCount(n int) error
	WorkerCount() int
}

type API struct {
	Chat       *chat.Service
	Catalog    *catalog.Service
	Accounts   *account.Service
	Moderation *moderation.Workflow
	Support    *support.Service
	Storage    storage.Store
	Audit      AuditControl
	Cfg        *config.Config

	limiter *limiterPool
}

func NewAPI(store storage.Store, cfg *config.Config, audit AuditControl, notifier moderation.Notifier) *API {
	wfOpts := []moderation.Option{}
	if notifier != nil {
		wfOpts = append(wfOpts, moderation.WithNotifier(notifier))
	}
	return &API{
		Chat:       chat.NewService(store, store, store),
		Catalog:    catalog.NewService(store),
		Accounts:   account.NewService(store),
		Moderation: moderation.NewWorkflow(store, store, store, wfOpts...),
		Support:    support.NewService(store),
		Storage:    store,
		Audit:      audit,
		Cfg:        cfg,
		limiter:    newLimiterPool(cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.Burst),
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())
	r.Handle("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Get("/openapi.yaml", serveOpenAPI)

	// Public
	r.Post("/users", a.CreateUser)
	r.Get("/listings/{id}", a.GetListing)
	r.Get("/streets/{id}/pavilions", a.ListPavilions)

	// Secured
	r.Group(func(r chi.Router) {
		r.Use(auth.JWTAuthMiddleware)

		r.Get("/me", a.Me)
		r.Delete("/me", a.DeleteMe)
		r.Get("/badges", a.Badges)
		r.Get("/unread", a.Unread)

		r.With(a.rateLimited).Post("/listings/{id}/messages", a.PostMessage)
		r.Get("/listings/{id}/chat", a.ListingChat)
		r.Get("/listings/{id}/threads/{counterpart}/messages", a.Conversation)
		r.Post("/listings/{id}/threads/{counterpart}/read", a.MarkThreadRead)
		r.Post("/messages/read", a.MarkAllRead)
		r.Get("/threads/owner", a.OwnerThreads)
		r.Get("/threads/counterpart", a.CounterpartThreads)

		r.With(auth.RequireRole(model.RoleMaster, model.RoleAdmin)).Put("/listings/{id}", a.EditListing)
		r.With(auth.RequireRole(model.RoleMaster, model.RoleAdmin)).Delete("/listings/{id}", a.DeleteListing)

		r.With(auth.RequireRole(model.RoleMaster, model.RoleAdmin)).Post("/requests/{kind}", a.SubmitRequest)
		r.Get("/requests", a.MyRequests)

		r.Post("/support", a.SubmitTicket)
		r.Get("/support", a.SupportInbox)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(model.RoleAdmin))

			r.Get("/stats", a.AdminStats)
			r.Get("/users", a.ListUsers)
			r.Delete("/users/{id}", a.RemoveUser)
			r.Post("/pavilions/{id}/clear", a.ClearPavilion)
			r.Delete("/pavilions/{id}", a.DeletePavilion)
			r.Get("/requests/{kind}", a.ListRequests)
			r.Get("/requests/{kind}/{id}", a.GetRequest)
			r.Post("/requests/{kind}/{id}/approve", a.ApproveRequest)
			r.Post("/requests/{kind}/{id}/reject", a.RejectRequest)

			r.Get("/support", a.AllTickets)
			r.Post("/support/{id}/reply", a.ReplyTicket)
			r.Post("/support/{id}/close", a.CloseTicket)

			r.Get("/audit", a.ListAudit)
			r.Put("/audit/workers", a.UpdateAuditWorkers)
		})
	})

	return r
}

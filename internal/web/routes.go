package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/reunitehq/reunite/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	casesHandler := handlers.NewCasesHandler(s.coordinator, s.store, s.provider)
	sightingsHandler := handlers.NewSightingsHandler(s.coordinator, s.store, s.provider)
	notificationsHandler := handlers.NewNotificationsHandler(s.dispatcher)
	eventsHandler := handlers.NewEventsHandler(s.coordinator.Events())
	statsHandler := handlers.NewStatsHandler(s.store)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Cases
		r.Post("/cases", casesHandler.Register)
		r.Get("/cases", casesHandler.List)
		r.Get("/cases/{id}", casesHandler.Get)
		r.Put("/cases/{id}", casesHandler.Update)
		r.Delete("/cases/{id}", casesHandler.Withdraw)
		r.Get("/cases/{id}/history", casesHandler.History)
		r.Post("/cases/{id}/review", casesHandler.Review)
		r.Post("/cases/{id}/photos", casesHandler.AddPhoto)

		// Sightings
		r.Post("/sightings", sightingsHandler.Submit)
		r.Get("/sightings", sightingsHandler.Pending)
		r.Get("/sightings/{id}", sightingsHandler.Get)
		r.Get("/sightings/{id}/history", sightingsHandler.History)
		r.Post("/sightings/{id}/resolve", sightingsHandler.Resolve)

		// Notifications
		r.Post("/notifications", notificationsHandler.Send)
		r.Get("/notifications/channels", notificationsHandler.Channels)
		r.Get("/notifications/{key}/history", notificationsHandler.History)

		// Live transition stream
		r.Get("/events", eventsHandler.Stream)

		// Dashboard counters
		r.Get("/stats", statsHandler.Get)
	})
}

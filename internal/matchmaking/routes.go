package matchmaking

import (
	"github.com/gorilla/mux"

	"github.com/orincore/circle-backend/internal/auth"
)

func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware *auth.Middleware) {
	api := router.PathPrefix("/api/v1/matchmaking").Subrouter()
	api.Use(authMiddleware.Authenticate)

	// Search queue
	api.HandleFunc("/search", handler.EnterSearch).Methods("POST")
	api.HandleFunc("/search", handler.CancelSearch).Methods("DELETE")
	api.HandleFunc("/search/propose", handler.TryPropose).Methods("POST")

	// Proposals
	api.HandleFunc("/proposals/{id}/respond", handler.RespondToProposal).Methods("POST")
	api.HandleFunc("/proposals/active", handler.GetActiveProposal).Methods("GET")

	// Ranking
	api.HandleFunc("/discover", handler.Discover).Methods("POST")
	api.HandleFunc("/compatibility/{userId}", handler.GetCompatibility).Methods("GET")

	// Live events
	api.HandleFunc("/ws", handler.ServeWS).Methods("GET")
}

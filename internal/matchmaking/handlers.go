package matchmaking

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/orincore/circle-backend/internal/auth"
	"github.com/orincore/circle-backend/internal/common/utils"
)

type Handler struct {
	service Service
	hub     *Hub
}

func NewHandler(service Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub}
}

func (h *Handler) EnterSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.service.EnterSearch(r.Context(), userID); err != nil {
		h.respondError(w, err, "Failed to enter search")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]string{"status": "searching"})
}

func (h *Handler) CancelSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.service.CancelSearch(r.Context(), userID); err != nil {
		h.respondError(w, err, "Failed to cancel search")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) TryPropose(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	proposal, err := h.service.TryPropose(r.Context(), userID)
	if err != nil {
		h.respondError(w, err, "Failed to propose")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, toProposalDTO(proposal))
}

func (h *Handler) RespondToProposal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	vars := mux.Vars(r)
	proposalID := vars["id"]
	if proposalID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid proposal ID")
		return
	}

	var dto RespondProposalDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	proposal, err := h.service.RespondToProposal(r.Context(), proposalID, userID, dto.Accept)
	if err != nil {
		h.respondError(w, err, "Failed to respond to proposal")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toProposalDTO(proposal))
}

func (h *Handler) GetActiveProposal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	proposal, err := h.service.ActiveProposal(r.Context(), userID)
	if err != nil {
		h.respondError(w, err, "Failed to get active proposal")
		return
	}
	if proposal == nil {
		utils.RespondWithError(w, http.StatusNotFound, ErrProposalNotFound.Error())
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toProposalDTO(proposal))
}

func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var dto DiscoverRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil && err != io.EOF {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := utils.ValidateStruct(dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ranked, err := h.service.RankCandidates(r.Context(), userID, PoolSpec{
		CandidateIDs: dto.CandidateIDs,
		RadiusKm:     dto.RadiusKm,
		Limit:        dto.Limit,
		MinScore:     dto.MinScore,
	})
	if err != nil {
		h.respondError(w, err, "Failed to discover matches")
		return
	}

	results := make([]RankedCandidateDTO, 0, len(ranked))
	for _, rc := range ranked {
		results = append(results, toRankedCandidateDTO(rc))
	}
	utils.RespondWithJSON(w, http.StatusOK, results)
}

func (h *Handler) GetCompatibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	vars := mux.Vars(r)
	otherID := vars["userId"]
	if otherID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	result, err := h.service.Compatibility(r.Context(), userID, otherID)
	if err != nil {
		h.respondError(w, err, "Failed to compute compatibility")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"score":            result.Score,
		"band":             result.Band(),
		"breakdown":        result.Breakdown,
		"common_interests": result.CommonInterests,
		"common_needs":     needStrings(result.CommonNeeds),
	})
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// respondError maps domain errors onto HTTP statuses. Anything unmapped is
// a 500 with a generic message so internals never leak.
func (h *Handler) respondError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrAlreadySearching),
		errors.Is(err, ErrAlreadyInProposal),
		errors.Is(err, ErrAlreadyResponded):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrProposalExpired):
		utils.RespondWithError(w, http.StatusGone, err.Error())
	case errors.Is(err, ErrNotSearching), errors.Is(err, ErrInvalidPool):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotParticipant):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrProposalNotFound),
		errors.Is(err, ErrProfileNotFound),
		errors.Is(err, ErrNoCandidates):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, fallback)
	}
}

/**
 * @description
 * This file contains the HTTP handlers for group lifecycle, membership,
 * invitations, turns and contributions.
 */

package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
)

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}

// CreateGroupHandler creates a new draft group with the caller as organizer.
func (h *Handlers) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	var payload domain.CreateGroupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	group, err := h.service.CreateGroup(r.Context(), userID, payload)
	if err != nil {
		h.writeServiceError(w, "create_group", err)
		return
	}

	log.Printf("level=info component=api endpoint=create_group outcome=created group_id=%s organizer_id=%s capacity=%d", group.ID, userID, group.Capacity)
	h.writeJSON(w, http.StatusCreated, group)
}

// ListGroupsHandler returns every group the caller is a member of.
func (h *Handlers) ListGroupsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groups, err := h.service.ListGroups(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list_groups", err)
		return
	}
	if groups == nil {
		groups = []domain.Group{}
	}
	h.writeJSON(w, http.StatusOK, groups)
}

// GetGroupHandler returns a group with its members and turn schedule.
func (h *Handlers) GetGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	detail, err := h.service.GetGroupDetail(r.Context(), userID, groupID)
	if err != nil {
		h.writeServiceError(w, "get_group", err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

// InviteHandler creates a single-use invitation for a contact.
func (h *Handlers) InviteHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	if !h.enforceRateLimit(w, r, "invite", userID, h.inviteLimitPerMinute) {
		return
	}

	var payload domain.InvitePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	invitation, err := h.service.Invite(r.Context(), userID, groupID, payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=invite outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, "invite", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, invitation)
}

// AcceptInvitationHandler consumes an invitation code and admits the caller.
func (h *Handlers) AcceptInvitationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")

	member, err := h.service.AcceptInvitation(r.Context(), userID, code)
	if err != nil {
		log.Printf("level=warn component=api endpoint=accept_invitation outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, "accept_invitation", err)
		return
	}

	log.Printf("level=info component=api endpoint=accept_invitation outcome=joined group_id=%s member_id=%s", member.GroupID, member.ID)
	h.writeJSON(w, http.StatusCreated, member)
}

// DeclineInvitationHandler marks a pending invitation declined.
func (h *Handlers) DeclineInvitationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")

	if err := h.service.DeclineInvitation(r.Context(), userID, code); err != nil {
		h.writeServiceError(w, "decline_invitation", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

// JoinGroupHandler is the direct-join path for public groups.
func (h *Handlers) JoinGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	member, err := h.service.JoinGroup(r.Context(), userID, groupID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=join_group outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, "join_group", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, member)
}

// RemoveMemberHandler lets the organizer remove a member before activation.
func (h *Handlers) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), userID, groupID, memberID); err != nil {
		h.writeServiceError(w, "remove_member", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// LeaveGroupHandler lets a member leave a draft group.
func (h *Handlers) LeaveGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	if err := h.service.LeaveGroup(r.Context(), userID, groupID); err != nil {
		h.writeServiceError(w, "leave_group", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// ActivateGroupHandler starts the rotation: turns are materialized and the
// first turn opens.
func (h *Handlers) ActivateGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	result, err := h.service.ActivateGroup(r.Context(), userID, groupID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=activate_group outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, "activate_group", err)
		return
	}

	log.Printf("level=info component=api endpoint=activate_group outcome=activated group_id=%s turns=%d", groupID, len(result.Turns))
	h.writeJSON(w, http.StatusOK, result)
}

type cancelGroupRequest struct {
	Reason string `json:"reason"`
}

// CancelGroupHandler cancels a draft or active group.
func (h *Handlers) CancelGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	var req cancelGroupRequest
	if r.Body != nil {
		// Body is optional; a missing reason gets a default downstream.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.service.CancelGroup(r.Context(), userID, groupID, req.Reason)
	if err != nil {
		log.Printf("level=warn component=api endpoint=cancel_group outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, "cancel_group", err)
		return
	}

	log.Printf("level=info component=api endpoint=cancel_group outcome=cancelled group_id=%s refunds_queued=%d", groupID, len(result.RefundJobs))
	h.writeJSON(w, http.StatusOK, result)
}

type reportDefaultRequest struct {
	MemberID uuid.UUID `json:"member_id"`
	Reason   string    `json:"reason"`
}

// ReportDefaultHandler excludes a defaulting member and cancels the group
// with refunds queued for everyone who already paid.
func (h *Handlers) ReportDefaultHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	var req reportDefaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.MemberID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "member_id is required")
		return
	}

	result, err := h.service.ReportDefault(r.Context(), userID, groupID, req.MemberID, req.Reason)
	if err != nil {
		log.Printf("level=warn component=api endpoint=report_default outcome=failed group_id=%s member_id=%s err=%v", groupID, req.MemberID, err)
		h.writeServiceError(w, "report_default", err)
		return
	}

	log.Printf("level=info component=api endpoint=report_default outcome=cancelled group_id=%s member_id=%s refunds_queued=%d", groupID, req.MemberID, len(result.RefundJobs))
	h.writeJSON(w, http.StatusOK, result)
}

// PendingRefundsHandler reports how many of the group's refunds are still
// queued. Members use this after a cancellation to track the drain.
func (h *Handlers) PendingRefundsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	pending, err := h.service.PendingRefunds(r.Context(), userID, groupID)
	if err != nil {
		h.writeServiceError(w, "pending_refunds", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"group_id":        groupID,
		"pending_refunds": pending,
	})
}

// RecordContributionHandler records the caller's payment for the open turn.
func (h *Handlers) RecordContributionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	if !h.enforceRateLimit(w, r, "contribution", userID, h.contributionLimitPerMinute) {
		return
	}

	var payload domain.RecordContributionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	outcome, err := h.service.RecordContribution(r.Context(), userID, groupID, payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=record_contribution outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, "record_contribution", err)
		return
	}

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	log.Printf("level=info component=api endpoint=record_contribution outcome=confirmed group_id=%s user_id=%s amount=%d duplicate=%v turn_completed=%v",
		groupID, userID, outcome.Contribution.Amount, outcome.Duplicate, outcome.TurnCompleted)
	h.writeJSON(w, status, outcome)
}

// ListTurnsHandler returns a group's full rotation schedule.
func (h *Handlers) ListTurnsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authedUser(w, r); !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	turns, err := h.service.ListTurns(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, "list_turns", err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	h.writeJSON(w, http.StatusOK, turns)
}

// GetOpenTurnHandler returns the open turn with its contribution checklist.
func (h *Handlers) GetOpenTurnHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authedUser(w, r); !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	turn, contributions, err := h.service.GetOpenTurn(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, "get_open_turn", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"turn":          turn,
		"contributions": contributions,
	})
}

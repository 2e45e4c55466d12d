package api

import (
	"net/http"

	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/middleware"
	"github.com/gorilla/mux"
)

// registerPublicInvitationRoutes registers the token-addressed routes used by
// invitees. They carry no credential and are throttled per client IP.
func (s *Server) registerPublicInvitationRoutes(router *mux.Router) {
	public := router.PathPrefix("/invitations/{token}").Subrouter()
	public.Use(middleware.RateLimitByIP(s.deps.PublicLimiter))

	public.HandleFunc("", s.getInvitationByToken).Methods(http.MethodGet)
	public.HandleFunc("/accept", s.acceptInvitation).Methods(http.MethodPost)
	public.HandleFunc("/decline", s.declineInvitation).Methods(http.MethodPost)
}

// registerInvitationRoutes registers the invitation management routes
func (s *Server) registerInvitationRoutes(router *mux.Router) {
	invite := s.gates.RequirePermission(auth.PermInviteUsers)

	router.Handle("/invitations", guarded(s.createInvitation, invite)).Methods(http.MethodPost)
	router.Handle("/invitations/bulk", guarded(s.bulkCreateInvitations, invite)).Methods(http.MethodPost)
	router.Handle("/invitations", guarded(s.listInvitations,
		s.gates.RequireAnyPermission(auth.PermInviteUsers, auth.PermViewAllUsers))).Methods(http.MethodGet)
	router.Handle("/invitations/{invitationId}", guarded(s.revokeInvitation, invite)).Methods(http.MethodDelete)
	router.Handle("/invitations/{invitationId}/resend", guarded(s.resendInvitation, invite)).Methods(http.MethodPost)
	router.Handle("/invitations/{invitationId}/extend", guarded(s.extendInvitation, invite)).Methods(http.MethodPost)
}

func (s *Server) getInvitationByToken(w http.ResponseWriter, r *http.Request) {
	details, err := s.deps.Invitations.GetByToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, details)
}

func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req invitations.AcceptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.deps.Invitations.Accept(r.Context(), mux.Vars(r)["token"], req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Success: true,
		Message: "invitation accepted",
		Data:    result,
	})
}

func (s *Server) declineInvitation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Invitations.Decline(r.Context(), mux.Vars(r)["token"]); err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "invitation declined", nil)
}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req invitations.CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	t := tenant(r)
	inv, err := s.deps.Invitations.Create(r.Context(), t.Principal, t.TargetOrganizationID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, inv)
}

type bulkInvitationRequest struct {
	Invitations []invitations.CreateRequest `json:"invitations"`
}

func (s *Server) bulkCreateInvitations(w http.ResponseWriter, r *http.Request) {
	var req bulkInvitationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	t := tenant(r)
	result, err := s.deps.Invitations.BulkCreate(r.Context(), t.Principal, t.TargetOrganizationID, req.Invitations)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	page, limit, err := httputil.ParsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	t := tenant(r)
	result, err := s.deps.Invitations.List(r.Context(), t.Principal, t.TargetOrganizationID, invitations.ListOptions{
		Status: invitations.Status(r.URL.Query().Get("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

func (s *Server) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	inv, err := s.deps.Invitations.Revoke(r.Context(), t.Principal, t.TargetOrganizationID, mux.Vars(r)["invitationId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "invitation revoked", inv)
}

func (s *Server) resendInvitation(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	inv, err := s.deps.Invitations.Resend(r.Context(), t.Principal, t.TargetOrganizationID, mux.Vars(r)["invitationId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "invitation resent", inv)
}

// defaultExtendDays applies when an extend request names no duration
const defaultExtendDays = 7

type extendInvitationRequest struct {
	Days *int `json:"days"`
}

func (s *Server) extendInvitation(w http.ResponseWriter, r *http.Request) {
	var req extendInvitationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	days := defaultExtendDays
	if req.Days != nil {
		days = *req.Days
	}

	t := tenant(r)
	inv, err := s.deps.Invitations.Extend(r.Context(), t.Principal, t.TargetOrganizationID, mux.Vars(r)["invitationId"], days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "invitation extended", inv)
}

package api

import (
	"net/http"

	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/gorilla/mux"
)

// recordHandlers serves scoped CRUD for one record kind
type recordHandlers struct {
	server *Server
	kind   records.Kind
}

// registerRecordRoutes registers CRUD routes for kind under path. Any view or
// manage permission of the kind opens the routes; the service narrows the rest.
func (s *Server) registerRecordRoutes(router *mux.Router, path string, kind records.Kind) {
	h := &recordHandlers{server: s, kind: kind}

	var perms []auth.Permission
	perms = append(perms, records.ViewPermissions(kind)...)
	perms = append(perms, records.ManagePermissions(kind)...)
	access := s.gates.RequireAnyPermission(perms...)

	router.Handle(path, guarded(h.list, access)).Methods(http.MethodGet)
	router.Handle(path, guarded(h.create, access)).Methods(http.MethodPost)
	router.Handle(path+"/{recordId}", guarded(h.get, access)).Methods(http.MethodGet)
	router.Handle(path+"/{recordId}", guarded(h.update, access)).Methods(http.MethodPut)
	router.Handle(path+"/{recordId}", guarded(h.delete, access)).Methods(http.MethodDelete)
}

func (h *recordHandlers) list(w http.ResponseWriter, r *http.Request) {
	page, limit, err := httputil.ParsePage(r)
	if err != nil {
		h.server.fail(w, r, err)
		return
	}

	t := tenant(r)
	result, err := h.server.deps.Records.List(r.Context(), t.Principal, t.TargetOrganizationID, h.kind, page, limit)
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

func (h *recordHandlers) get(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	rec, err := h.server.deps.Records.Get(r.Context(), t.Principal, t.TargetOrganizationID, h.kind, mux.Vars(r)["recordId"])
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, rec)
}

func (h *recordHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in records.Input
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.server.fail(w, r, err)
		return
	}

	t := tenant(r)
	rec, err := h.server.deps.Records.Create(r.Context(), t.Principal, t.Target, h.kind, in)
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, rec)
}

func (h *recordHandlers) update(w http.ResponseWriter, r *http.Request) {
	var in records.Input
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.server.fail(w, r, err)
		return
	}

	t := tenant(r)
	rec, err := h.server.deps.Records.Update(r.Context(), t.Principal, t.TargetOrganizationID, h.kind, mux.Vars(r)["recordId"], in)
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, rec)
}

func (h *recordHandlers) delete(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	if err := h.server.deps.Records.Delete(r.Context(), t.Principal, t.TargetOrganizationID, h.kind, mux.Vars(r)["recordId"]); err != nil {
		h.server.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

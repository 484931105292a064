package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pentestdesk/internal/directory"
	"pentestdesk/internal/models"
	"pentestdesk/internal/store"
)

// ListPrograms is scoped by role: admins see all, pentesters their
// assignments and clients their own programs.
func ListPrograms(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := directory.NewProgramManager(d, callerFrom(r))
		m.FetchPrograms(r.Context())
		respondSnapshot(w, r, d.Logger, m.Snapshot())
	}
}

func GetProgram(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := directory.NewProgramManager(d, callerFrom(r)).GetProgram(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, p)
	}
}

func CreateProgram(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in directory.ProgramInput
		if err := decodeJSON(r, &in); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		p, err := directory.NewProgramManager(d, callerFrom(r)).CreateProgram(r.Context(), in)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, p)
	}
}

func UpdateProgram(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch store.ProgramPatch
		if err := decodeJSON(r, &patch); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		p, err := directory.NewProgramManager(d, callerFrom(r)).UpdateProgram(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, p)
	}
}

func DeleteProgram(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := directory.NewProgramManager(d, callerFrom(r)).DeleteProgram(r.Context(), chi.URLParam(r, "id")); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}

func AddAsset(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a models.ProgramAsset
		if err := decodeJSON(r, &a); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		out, err := directory.NewProgramManager(d, callerFrom(r)).AddAsset(r.Context(), chi.URLParam(r, "id"), a)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, out)
	}
}

func RemoveAsset(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := directory.NewProgramManager(d, callerFrom(r)).RemoveAsset(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "assetID"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}

type slaReq struct {
	ResponseHours   int `json:"response_hours"`
	ResolutionHours int `json:"resolution_hours"`
}

func SetSLA(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req slaReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		sla, err := directory.NewProgramManager(d, callerFrom(r)).SetSLA(r.Context(),
			chi.URLParam(r, "id"), models.Severity(chi.URLParam(r, "severity")), req.ResponseHours, req.ResolutionHours)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, sla)
	}
}

type assignReq struct {
	PentesterID string `json:"pentester_id"`
}

func AssignPentester(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		pp, err := directory.NewProgramManager(d, callerFrom(r)).AssignPentester(r.Context(), chi.URLParam(r, "id"), req.PentesterID)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, pp)
	}
}

func UnassignPentester(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := directory.NewProgramManager(d, callerFrom(r)).UnassignPentester(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pentesterID"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}

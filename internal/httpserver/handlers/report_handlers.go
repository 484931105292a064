package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/directory"
	"pentestdesk/internal/models"
)

func ListReports(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := directory.NewReportManager(d, callerFrom(r))
		m.FetchReports(r.Context(), r.URL.Query().Get("program_id"))
		respondSnapshot(w, r, d.Logger, m.Snapshot())
	}
}

func GetReport(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := directory.NewReportManager(d, callerFrom(r)).GetReport(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, rep)
	}
}

func CreateReport(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in directory.ReportInput
		if err := decodeJSON(r, &in); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		rep, err := directory.NewReportManager(d, callerFrom(r)).CreateReport(r.Context(), in)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, rep)
	}
}

type statusReq struct {
	Status models.ReportStatus `json:"status"`
}

func UpdateReportStatus(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		rep, err := directory.NewReportManager(d, callerFrom(r)).UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, rep)
	}
}

func ListComments(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := directory.NewReportManager(d, callerFrom(r)).FetchComments(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, items)
	}
}

type commentReq struct {
	Body       string `json:"body"`
	IsInternal bool   `json:"is_internal"`
}

func AddComment(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commentReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		c, err := directory.NewReportManager(d, callerFrom(r)).AddComment(r.Context(), chi.URLParam(r, "id"), req.Body, req.IsInternal)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, c)
	}
}

func ListAttachments(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := directory.NewReportManager(d, callerFrom(r)).FetchAttachments(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, items)
	}
}

// UploadAttachment takes a multipart form with the content in field "file".
func UploadAttachment(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, directory.MaxAttachmentBytes+1<<20)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			respondError(w, r, d.Logger, apperr.Validation("multipart field \"file\" is required"))
			return
		}
		defer f.Close()
		a, err := directory.NewReportManager(d, callerFrom(r)).AddAttachment(r.Context(),
			chi.URLParam(r, "id"), hdr.Filename, hdr.Header.Get("Content-Type"), f)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, a)
	}
}

func DownloadAttachment(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, body, err := directory.NewReportManager(d, callerFrom(r)).OpenAttachment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		defer body.Close()
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.FileName))
		if _, err := io.Copy(w, body); err != nil {
			d.Logger.Warnw("attachment download interrupted", "attachment_id", a.ID, "err", err)
		}
	}
}

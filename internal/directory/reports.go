package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/models"
	"pentestdesk/internal/storage"
	"pentestdesk/internal/store"
)

const MaxAttachmentBytes = 25 << 20

type ReportInput struct {
	ProgramID        string          `json:"program_id"`
	AssetID          *string         `json:"asset_id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Severity         models.Severity `json:"severity"`
	CVSSScore        *float64        `json:"cvss_score"`
	StepsToReproduce string          `json:"steps_to_reproduce"`
	Impact           string          `json:"impact"`
	Remediation      string          `json:"remediation"`
}

type ReportManager struct {
	deps    Deps
	caller  Caller
	reports holder[models.VulnerabilityReport]
}

func NewReportManager(d Deps, c Caller) *ReportManager {
	return &ReportManager{deps: d, caller: c}
}

func (m *ReportManager) Snapshot() Snapshot[models.VulnerabilityReport] { return m.reports.get() }

// FetchReports lists reports in the caller's scope, optionally for one program.
func (m *ReportManager) FetchReports(ctx context.Context, programID string) []models.VulnerabilityReport {
	scope := store.ReportScope{ProgramID: programID}
	switch m.caller.Role {
	case models.RoleAdmin:
	case models.RolePentester:
		scope.PentesterID = m.caller.UserID
	case models.RoleClient:
		scope.ClientID = m.caller.UserID
	default:
		m.reports.set(nil, nil, m.deps.now())
		return []models.VulnerabilityReport{}
	}
	items, err := m.deps.Store.ListReports(ctx, scope)
	if err != nil {
		m.deps.Logger.Errorw("fetch reports failed", "err", err)
	}
	m.reports.set(items, err, m.deps.now())
	return m.reports.get().Items
}

// visible reports whether the caller may read r: admins always, pentesters
// when they filed it or are assigned to its program, clients when they own
// the program.
func (m *ReportManager) visible(ctx context.Context, r models.VulnerabilityReport) (bool, error) {
	switch m.caller.Role {
	case models.RoleAdmin:
		return true, nil
	case models.RolePentester:
		if r.ReporterID == m.caller.UserID {
			return true, nil
		}
		return m.deps.Store.IsAssigned(ctx, r.ProgramID, m.caller.UserID)
	case models.RoleClient:
		d, err := m.deps.Store.ProgramByID(ctx, r.ProgramID)
		if err != nil {
			return false, err
		}
		return d.ClientID != nil && *d.ClientID == m.caller.UserID, nil
	}
	return false, nil
}

func (m *ReportManager) GetReport(ctx context.Context, id string) (models.VulnerabilityReport, error) {
	r, err := m.deps.Store.ReportByID(ctx, id)
	if err != nil {
		return models.VulnerabilityReport{}, storeErr(err, "report not found")
	}
	ok, err := m.visible(ctx, r)
	if err != nil {
		return models.VulnerabilityReport{}, storeErr(err, "report not found")
	}
	if !ok {
		return models.VulnerabilityReport{}, apperr.NotFound("report not found")
	}
	return r, nil
}

func (m *ReportManager) CreateReport(ctx context.Context, in ReportInput) (models.VulnerabilityReport, error) {
	switch m.caller.Role {
	case models.RoleAdmin:
	case models.RolePentester:
		ok, err := m.deps.Store.IsAssigned(ctx, in.ProgramID, m.caller.UserID)
		if err != nil {
			return models.VulnerabilityReport{}, apperr.Upstream(err)
		}
		if !ok {
			return models.VulnerabilityReport{}, errUnauthorized
		}
	default:
		return models.VulnerabilityReport{}, errUnauthorized
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return models.VulnerabilityReport{}, apperr.Validation("title is required")
	}
	if !in.Severity.Valid() {
		return models.VulnerabilityReport{}, apperr.Validation("invalid severity")
	}
	if in.CVSSScore != nil && (*in.CVSSScore < 0 || *in.CVSSScore > 10) {
		return models.VulnerabilityReport{}, apperr.Validation("cvss_score must be between 0 and 10")
	}
	d, err := m.deps.Store.ProgramByID(ctx, in.ProgramID)
	if err != nil {
		return models.VulnerabilityReport{}, storeErr(err, "program not found")
	}
	if in.AssetID != nil && *in.AssetID != "" {
		found := false
		for _, a := range d.Assets {
			found = found || a.ID == *in.AssetID
		}
		if !found {
			return models.VulnerabilityReport{}, apperr.Validation("asset does not belong to program")
		}
	} else {
		in.AssetID = nil
	}
	r := models.VulnerabilityReport{
		ProgramID: in.ProgramID, ReporterID: m.caller.UserID, AssetID: in.AssetID,
		Title: in.Title, Description: in.Description, Severity: in.Severity, Status: models.ReportSubmitted,
		CVSSScore: in.CVSSScore, StepsToReproduce: in.StepsToReproduce, Impact: in.Impact, Remediation: in.Remediation,
	}
	if err := m.deps.Store.CreateReport(ctx, &r); err != nil {
		return models.VulnerabilityReport{}, storeErr(err, "program not found")
	}
	m.FetchReports(ctx, "")
	return r, nil
}

func (m *ReportManager) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) (models.VulnerabilityReport, error) {
	if err := requireAdmin(m.caller); err != nil {
		return models.VulnerabilityReport{}, err
	}
	if !status.Valid() {
		return models.VulnerabilityReport{}, apperr.Validation("invalid status")
	}
	r, err := m.deps.Store.UpdateReportStatus(ctx, id, status, m.deps.now())
	if err != nil {
		return models.VulnerabilityReport{}, storeErr(err, "report not found")
	}
	m.FetchReports(ctx, "")
	return r, nil
}

// FetchComments never returns internal comments to clients.
func (m *ReportManager) FetchComments(ctx context.Context, reportID string) ([]models.ReportComment, error) {
	if _, err := m.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	items, err := m.deps.Store.ListComments(ctx, reportID, m.caller.Role != models.RoleClient)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if items == nil {
		items = []models.ReportComment{}
	}
	return items, nil
}

func (m *ReportManager) AddComment(ctx context.Context, reportID, body string, internal bool) (models.ReportComment, error) {
	if _, err := m.GetReport(ctx, reportID); err != nil {
		return models.ReportComment{}, err
	}
	if internal && m.caller.Role == models.RoleClient {
		return models.ReportComment{}, errUnauthorized
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.ReportComment{}, apperr.Validation("body is required")
	}
	c := models.ReportComment{ReportID: reportID, AuthorID: m.caller.UserID, Body: body, IsInternal: internal}
	if err := m.deps.Store.CreateComment(ctx, &c); err != nil {
		return models.ReportComment{}, storeErr(err, "report not found")
	}
	return c, nil
}

func (m *ReportManager) FetchAttachments(ctx context.Context, reportID string) ([]models.ReportAttachment, error) {
	if _, err := m.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	items, err := m.deps.Store.ListAttachments(ctx, reportID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if items == nil {
		items = []models.ReportAttachment{}
	}
	return items, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// AddAttachment stores the blob first and records it afterwards. A blob
// whose row fails to insert is deleted again.
func (m *ReportManager) AddAttachment(ctx context.Context, reportID, fileName, contentType string, body io.Reader) (models.ReportAttachment, error) {
	if _, err := m.GetReport(ctx, reportID); err != nil {
		return models.ReportAttachment{}, err
	}
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return models.ReportAttachment{}, apperr.Validation("file name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := uuid.NewString()
	key := fmt.Sprintf("reports/%s/%s/%s", reportID, id, fileName)
	cr := &countingReader{r: io.LimitReader(body, MaxAttachmentBytes+1)}
	if err := m.deps.Objects.Put(ctx, key, cr, contentType); err != nil {
		return models.ReportAttachment{}, apperr.Upstream(err)
	}
	if cr.n > MaxAttachmentBytes {
		_ = m.deps.Objects.Delete(ctx, key)
		return models.ReportAttachment{}, apperr.Validation("attachment too large")
	}
	a := models.ReportAttachment{
		ID: id, ReportID: reportID, UploadedBy: m.caller.UserID,
		FileName: fileName, ContentType: contentType, SizeBytes: cr.n, StorageKey: key,
	}
	if err := m.deps.Store.CreateAttachment(ctx, &a); err != nil {
		if derr := m.deps.Objects.Delete(ctx, key); derr != nil {
			m.deps.Logger.Warnw("orphaned attachment blob", "key", key, "err", derr)
		}
		return models.ReportAttachment{}, storeErr(err, "report not found")
	}
	return a, nil
}

// OpenAttachment returns the attachment row with its content; the caller
// closes the reader.
func (m *ReportManager) OpenAttachment(ctx context.Context, reportID, id string) (models.ReportAttachment, io.ReadCloser, error) {
	if _, err := m.GetReport(ctx, reportID); err != nil {
		return models.ReportAttachment{}, nil, err
	}
	a, err := m.deps.Store.AttachmentByID(ctx, reportID, id)
	if err != nil {
		return models.ReportAttachment{}, nil, storeErr(err, "attachment not found")
	}
	rc, err := m.deps.Objects.Get(ctx, a.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return models.ReportAttachment{}, nil, apperr.NotFound("attachment content missing")
	}
	if err != nil {
		return models.ReportAttachment{}, nil, apperr.Upstream(err)
	}
	return a, rc, nil
}

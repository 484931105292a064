package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

func (s *Store) ListReports(ctx context.Context, scope store.ReportScope) ([]models.VulnerabilityReport, error) {
	q := s.db.WithContext(ctx).Model(&models.VulnerabilityReport{})
	if scope.ProgramID != "" {
		q = q.Where("program_id = ?", scope.ProgramID)
	}
	if scope.PentesterID != "" {
		q = q.Where("reporter_id = ? OR program_id IN (?)", scope.PentesterID, s.assignedProgramIDs(ctx, scope.PentesterID))
	}
	if scope.ClientID != "" {
		owned := s.db.WithContext(ctx).Model(&models.Program{}).Select("id").Where("client_id = ?", scope.ClientID)
		q = q.Where("program_id IN (?)", owned)
	}
	var rows []models.VulnerabilityReport
	if err := q.Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) ReportByID(ctx context.Context, id string) (models.VulnerabilityReport, error) {
	var r models.VulnerabilityReport
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	return r, mapErr(err)
}

func (s *Store) CreateReport(ctx context.Context, r *models.VulnerabilityReport) error {
	now := s.now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.ReportSubmitted
	}
	r.CreatedAt, r.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return mapErr(err)
	}
	s.publish(ctx, change(models.TableReports, realtime.Insert, r, nil))
	return nil
}

func (s *Store) UpdateReportStatus(ctx context.Context, id string, status models.ReportStatus, at time.Time) (models.VulnerabilityReport, error) {
	var r models.VulnerabilityReport
	db := s.db.WithContext(ctx)
	if err := db.First(&r, "id = ?", id).Error; err != nil {
		return models.VulnerabilityReport{}, mapErr(err)
	}
	old := r
	if err := db.Model(&models.VulnerabilityReport{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": at}).Error; err != nil {
		return models.VulnerabilityReport{}, mapErr(err)
	}
	r.Status, r.UpdatedAt = status, at
	s.publish(ctx, change(models.TableReports, realtime.Update, r, old))
	return r, nil
}

func (s *Store) ListComments(ctx context.Context, reportID string, includeInternal bool) ([]models.ReportComment, error) {
	q := s.db.WithContext(ctx).Where("report_id = ?", reportID)
	if !includeInternal {
		q = q.Where("is_internal = ?", false)
	}
	var rows []models.ReportComment
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) CreateComment(ctx context.Context, c *models.ReportComment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return mapErr(err)
	}
	s.publish(ctx, change(models.TableReportComments, realtime.Insert, c, nil))
	return nil
}

func (s *Store) ListAttachments(ctx context.Context, reportID string) ([]models.ReportAttachment, error) {
	var rows []models.ReportAttachment
	if err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) AttachmentByID(ctx context.Context, reportID, id string) (models.ReportAttachment, error) {
	var a models.ReportAttachment
	err := s.db.WithContext(ctx).First(&a, "id = ? AND report_id = ?", id, reportID).Error
	return a, mapErr(err)
}

func (s *Store) CreateAttachment(ctx context.Context, a *models.ReportAttachment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	return mapErr(s.db.WithContext(ctx).Create(a).Error)
}

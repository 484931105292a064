package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

func (s *Store) assignedProgramIDs(ctx context.Context, pentesterID string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.ProgramPentester{}).Select("program_id").Where("pentester_id = ?", pentesterID)
}

func (s *Store) ListPrograms(ctx context.Context, scope store.ProgramScope) ([]models.Program, error) {
	q := s.db.WithContext(ctx).Model(&models.Program{})
	if scope.PentesterID != "" {
		q = q.Where("id IN (?)", s.assignedProgramIDs(ctx, scope.PentesterID))
	}
	if scope.ClientID != "" {
		q = q.Where("client_id = ?", scope.ClientID)
	}
	var rows []models.Program
	if err := q.Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) ProgramByID(ctx context.Context, id string) (models.ProgramDetail, error) {
	db := s.db.WithContext(ctx)
	var d models.ProgramDetail
	if err := db.First(&d.Program, "id = ?", id).Error; err != nil {
		return models.ProgramDetail{}, mapErr(err)
	}
	if err := db.Where("program_id = ?", id).Order("created_at").Find(&d.Assets).Error; err != nil {
		return models.ProgramDetail{}, mapErr(err)
	}
	if err := db.Where("program_id = ?", id).Order("severity").Find(&d.SLAs).Error; err != nil {
		return models.ProgramDetail{}, mapErr(err)
	}
	if err := db.Where("program_id = ?", id).Order("assigned_at").Find(&d.Pentesters).Error; err != nil {
		return models.ProgramDetail{}, mapErr(err)
	}
	return d, nil
}

func (s *Store) CreateProgram(ctx context.Context, p *models.Program) error {
	now := s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.ProgramDraft
	}
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return mapErr(err)
	}
	s.publish(ctx, change(models.TablePrograms, realtime.Insert, p, nil))
	return nil
}

func applyProgramPatch(p *models.Program, patch store.ProgramPatch) {
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.ClientID != nil {
		if *patch.ClientID == "" {
			p.ClientID = nil
		} else {
			id := *patch.ClientID
			p.ClientID = &id
		}
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.StartsAt != nil {
		p.StartsAt = patch.StartsAt
	}
	if patch.EndsAt != nil {
		p.EndsAt = patch.EndsAt
	}
}

func (s *Store) UpdateProgram(ctx context.Context, id string, patch store.ProgramPatch) (models.Program, error) {
	var p models.Program
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return models.Program{}, mapErr(err)
	}
	old := p
	applyProgramPatch(&p, patch)
	p.UpdatedAt = s.now()
	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return models.Program{}, mapErr(err)
	}
	s.publish(ctx, change(models.TablePrograms, realtime.Update, p, old))
	return p, nil
}

// DeleteProgram removes the program with its assets, SLAs and assignments.
// Programs that already hold reports are kept: ErrConflict.
func (s *Store) DeleteProgram(ctx context.Context, id string) error {
	var deleted []models.Program
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reports int64
		if err := tx.Model(&models.VulnerabilityReport{}).Where("program_id = ?", id).Count(&reports).Error; err != nil {
			return err
		}
		if reports > 0 {
			return store.ErrConflict
		}
		for _, child := range []any{&models.ProgramAsset{}, &models.SeveritySLA{}, &models.ProgramPentester{}} {
			if err := tx.Where("program_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		res := tx.Clauses(clause.Returning{}).Where("id = ?", id).Delete(&deleted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return mapErr(err)
	}
	for _, p := range deleted {
		s.publish(ctx, change(models.TablePrograms, realtime.Delete, nil, p))
	}
	return nil
}

func (s *Store) AddAsset(ctx context.Context, a *models.ProgramAsset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	return mapErr(s.db.WithContext(ctx).Create(a).Error)
}

func (s *Store) DeleteAsset(ctx context.Context, programID, assetID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND program_id = ?", assetID, programID).Delete(&models.ProgramAsset{})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertSLA(ctx context.Context, sla *models.SeveritySLA) error {
	if sla.ID == "" {
		sla.ID = uuid.NewString()
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "program_id"}, {Name: "severity"}},
		DoUpdates: clause.AssignmentColumns([]string{"response_hours", "resolution_hours"}),
	}).Create(sla).Error
	if err != nil {
		return mapErr(err)
	}
	return mapErr(db.First(sla, "program_id = ? AND severity = ?", sla.ProgramID, sla.Severity).Error)
}

func (s *Store) AssignPentester(ctx context.Context, programID, pentesterID string, at time.Time) (models.ProgramPentester, error) {
	pp := models.ProgramPentester{ID: uuid.NewString(), ProgramID: programID, PentesterID: pentesterID, AssignedAt: at}
	if err := s.db.WithContext(ctx).Create(&pp).Error; err != nil {
		return models.ProgramPentester{}, mapErr(err)
	}
	return pp, nil
}

func (s *Store) UnassignPentester(ctx context.Context, programID, pentesterID string) error {
	res := s.db.WithContext(ctx).Where("program_id = ? AND pentester_id = ?", programID, pentesterID).
		Delete(&models.ProgramPentester{})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) IsAssigned(ctx context.Context, programID, pentesterID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ProgramPentester{}).
		Where("program_id = ? AND pentester_id = ?", programID, pentesterID).Count(&n).Error
	return n > 0, mapErr(err)
}

package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

const pendingInvitation = "token = ? AND accepted_at IS NULL AND expires_at > ?"

func (s *Store) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		return mapErr(err)
	}
	s.publish(ctx, change(models.TableInvitations, realtime.Insert, inv, nil))
	return nil
}

func (s *Store) ListInvitations(ctx context.Context) ([]models.Invitation, error) {
	var rows []models.Invitation
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) InvitationByToken(ctx context.Context, token string, now time.Time) (models.Invitation, error) {
	var inv models.Invitation
	err := s.db.WithContext(ctx).Where(pendingInvitation, token, now).First(&inv).Error
	return inv, mapErr(err)
}

func (s *Store) DeletePendingInvitation(ctx context.Context, id string) error {
	var rows []models.Invitation
	res := s.db.WithContext(ctx).Clauses(clause.Returning{}).
		Where("id = ? AND accepted_at IS NULL", id).Delete(&rows)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	for _, inv := range rows {
		s.publish(ctx, change(models.TableInvitations, realtime.Delete, nil, inv))
	}
	return nil
}

// RedeemInvitation locks the pending invitation, provisions the account with
// the invited email and role, and marks the invitation accepted, all in one
// transaction.
func (s *Store) RedeemInvitation(ctx context.Context, token string, now time.Time, acct store.NewAccount) (models.User, models.Invitation, error) {
	var (
		u      models.User
		inv    models.Invitation
		events []realtime.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(pendingInvitation, token, now).First(&inv).Error; err != nil {
			return err
		}
		old := inv
		acct.Email = inv.Email
		acct.Role = inv.Role
		var err error
		u, events, err = createAccount(tx, acct, now)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Invitation{}).Where("id = ?", inv.ID).Update("accepted_at", now).Error; err != nil {
			return err
		}
		inv.AcceptedAt = &now
		events = append(events, change(models.TableInvitations, realtime.Update, inv, old))
		return nil
	})
	if err != nil {
		return models.User{}, models.Invitation{}, mapErr(err)
	}
	s.publish(ctx, events...)
	return u, inv, nil
}

func (s *Store) PurgeExpiredInvitations(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("accepted_at IS NULL AND expires_at < ?", before).Delete(&models.Invitation{})
	return res.RowsAffected, mapErr(res.Error)
}

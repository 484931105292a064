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

func (s *Store) CreateAccount(ctx context.Context, acct store.NewAccount) (models.User, error) {
	var (
		u      models.User
		events []realtime.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		u, events, err = createAccount(tx, acct, s.now())
		return err
	})
	if err != nil {
		return models.User{}, mapErr(err)
	}
	s.publish(ctx, events...)
	return u, nil
}

func createAccount(tx *gorm.DB, acct store.NewAccount, now time.Time) (models.User, []realtime.Event, error) {
	u := models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(acct.Email)),
		PasswordHash: acct.PasswordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if acct.Confirmed {
		u.EmailConfirmedAt = &now
	}
	if err := tx.Create(&u).Error; err != nil {
		return models.User{}, nil, err
	}
	p := models.UserProfile{ID: uuid.NewString(), UserID: u.ID, FullName: acct.FullName, CreatedAt: now, UpdatedAt: now}
	if err := tx.Create(&p).Error; err != nil {
		return models.User{}, nil, err
	}
	events := []realtime.Event{change(models.TableProfiles, realtime.Insert, p, nil)}
	if acct.Role != models.RoleNone {
		r, inserted, err := upsertRole(tx, u.ID, acct.Role, now)
		if err != nil {
			return models.User{}, nil, err
		}
		events = append(events, roleChange(r, inserted))
	}
	return u, events, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&users).Error; err != nil {
		return nil, mapErr(err)
	}
	return users, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	return u, mapErr(err)
}

func (s *Store) UserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	return u, mapErr(err)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"password_hash": hash, "updated_at": s.now()})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchSignIn(ctx context.Context, userID string, at time.Time) error {
	return mapErr(s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("last_sign_in_at", at).Error)
}

func (s *Store) DeleteUserCascade(ctx context.Context, userID string) error {
	var (
		roles    []models.UserRole
		profiles []models.UserProfile
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Returning{}).Where("user_id = ?", userID).Delete(&roles).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Returning{}).Where("user_id = ?", userID).Delete(&profiles).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", userID).Delete(&models.User{})
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
	var events []realtime.Event
	for _, r := range roles {
		events = append(events, change(models.TableUserRoles, realtime.Delete, nil, r))
	}
	for _, p := range profiles {
		events = append(events, change(models.TableProfiles, realtime.Delete, nil, p))
	}
	s.publish(ctx, events...)
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	return mapErr(s.db.WithContext(ctx).Create(&sess).Error)
}

func (s *Store) SessionByJTI(ctx context.Context, jti string) (models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).First(&sess, "jti = ?", jti).Error
	return sess, mapErr(err)
}

func (s *Store) RevokeSession(ctx context.Context, jti string, at time.Time) error {
	return mapErr(s.db.WithContext(ctx).Model(&models.Session{}).
		Where("jti = ? AND revoked_at IS NULL", jti).Update("revoked_at", at).Error)
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string, at time.Time) error {
	return mapErr(s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).Update("revoked_at", at).Error)
}

func (s *Store) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	var rows []models.UserProfile
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) ProfileByUserID(ctx context.Context, userID string) (models.UserProfile, error) {
	var p models.UserProfile
	err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	return p, mapErr(err)
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, patch store.ProfilePatch) (models.UserProfile, error) {
	var p models.UserProfile
	if err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return models.UserProfile{}, mapErr(err)
	}
	old := p
	if patch.FullName != nil {
		p.FullName = strings.TrimSpace(*patch.FullName)
	}
	if patch.AvatarURL != nil {
		if *patch.AvatarURL == "" {
			p.AvatarURL = nil
		} else {
			p.AvatarURL = patch.AvatarURL
		}
	}
	p.UpdatedAt = s.now()
	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return models.UserProfile{}, mapErr(err)
	}
	s.publish(ctx, change(models.TableProfiles, realtime.Update, p, old))
	return p, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	return mapErr(s.db.WithContext(ctx).Create(l).Error)
}

func (s *Store) ListAuditLogs(ctx context.Context, userID string, limit int) ([]models.AuditLog, error) {
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var logs []models.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, mapErr(err)
	}
	return logs, nil
}

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

// upsertRoleSQL assigns a role in one statement keyed on the unique user_id
// index. Selecting from users yields no row for an unknown user. xmax = 0
// only for freshly inserted tuples.
const upsertRoleSQL = `INSERT INTO user_roles (id, user_id, role, created_at)
SELECT CAST(? AS uuid), id, ?, CAST(? AS timestamptz) FROM users WHERE id = ?
ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
RETURNING id, user_id, role, created_at, (xmax = 0) AS inserted`

type upsertedRole struct {
	ID        string
	UserID    string
	Role      string
	CreatedAt time.Time
	Inserted  bool
}

func upsertRole(tx *gorm.DB, userID string, role models.Role, now time.Time) (models.UserRole, bool, error) {
	var row upsertedRole
	if err := tx.Raw(upsertRoleSQL, uuid.NewString(), string(role), now, userID).Scan(&row).Error; err != nil {
		return models.UserRole{}, false, err
	}
	if row.ID == "" {
		return models.UserRole{}, false, gorm.ErrRecordNotFound
	}
	return models.UserRole{ID: row.ID, UserID: row.UserID, Role: models.Role(row.Role), CreatedAt: row.CreatedAt}, row.Inserted, nil
}

func roleChange(r models.UserRole, inserted bool) realtime.Event {
	if inserted {
		return change(models.TableUserRoles, realtime.Insert, r, nil)
	}
	return change(models.TableUserRoles, realtime.Update, r, nil)
}

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]models.UserRole, error) {
	var rows []models.UserRole
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(2).Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]models.UserRole, error) {
	var rows []models.UserRole
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *Store) UpsertRole(ctx context.Context, userID string, role models.Role) (models.UserRole, error) {
	r, inserted, err := upsertRole(s.db.WithContext(ctx), userID, role, s.now())
	if err != nil {
		return models.UserRole{}, mapErr(err)
	}
	s.publish(ctx, roleChange(r, inserted))
	return r, nil
}

func (s *Store) DeleteRole(ctx context.Context, userID string) error {
	var rows []models.UserRole
	res := s.db.WithContext(ctx).Clauses(clause.Returning{}).Where("user_id = ?", userID).Delete(&rows)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	for _, r := range rows {
		s.publish(ctx, change(models.TableUserRoles, realtime.Delete, nil, r))
	}
	return nil
}

// Package memory is an in-process store.Store with the same semantics as the
// postgres adapter, including change events. It backs tests and local runs
// without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	pub         realtime.Publisher
	now         func() time.Time
	users       map[string]models.User
	sessions    map[string]models.Session
	profiles    map[string]models.UserProfile // by user id
	roles       []models.UserRole
	invitations map[string]models.Invitation
	programs    map[string]models.Program
	assets      map[string]models.ProgramAsset
	slas        map[string]models.SeveritySLA
	pentesters  map[string]models.ProgramPentester
	reports     map[string]models.VulnerabilityReport
	comments    []models.ReportComment
	attachments map[string]models.ReportAttachment
	auditLogs   []models.AuditLog
}

var _ store.Store = (*Store)(nil)

func New(pub realtime.Publisher) *Store {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	return &Store{
		pub:         pub,
		now:         time.Now,
		users:       map[string]models.User{},
		sessions:    map[string]models.Session{},
		profiles:    map[string]models.UserProfile{},
		invitations: map[string]models.Invitation{},
		programs:    map[string]models.Program{},
		assets:      map[string]models.ProgramAsset{},
		slas:        map[string]models.SeveritySLA{},
		pentesters:  map[string]models.ProgramPentester{},
		reports:     map[string]models.VulnerabilityReport{},
		attachments: map[string]models.ReportAttachment{},
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// InsertRoleRow appends a role row without the uniqueness check, simulating
// a duplicate assignment left by an older schema.
func (s *Store) InsertRoleRow(r models.UserRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.roles = append(s.roles, r)
}

// InsertUserRow stores a bare user row with no profile or role.
func (s *Store) InsertUserRow(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = u
}

// SetInvitationExpiry overwrites expires_at, as an operator would by hand.
func (s *Store) SetInvitationExpiry(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return store.ErrNotFound
	}
	inv.ExpiresAt = at
	s.invitations[id] = inv
	return nil
}

func change(table string, typ realtime.EventType, newRow, oldRow any) realtime.Event {
	ev := realtime.Event{Table: table, Type: typ, CommitTimestamp: time.Now().UTC()}
	if newRow != nil {
		ev.New = realtime.NewRecord(newRow)
	}
	if oldRow != nil {
		ev.Old = realtime.NewRecord(oldRow)
	}
	return ev
}

// publish must be called without holding mu.
func (s *Store) publish(ctx context.Context, events ...realtime.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		_ = s.pub.Publish(ctx, ev)
	}
}

func normEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (s *Store) createAccountLocked(acct store.NewAccount, now time.Time) (models.User, []realtime.Event, error) {
	email := normEmail(acct.Email)
	for _, u := range s.users {
		if u.Email == email {
			return models.User{}, nil, store.ErrConflict
		}
	}
	u := models.User{ID: uuid.NewString(), Email: email, PasswordHash: acct.PasswordHash, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if acct.Confirmed {
		u.EmailConfirmedAt = &now
	}
	s.users[u.ID] = u
	p := models.UserProfile{ID: uuid.NewString(), UserID: u.ID, FullName: acct.FullName, CreatedAt: now, UpdatedAt: now}
	s.profiles[u.ID] = p
	events := []realtime.Event{change(models.TableProfiles, realtime.Insert, p, nil)}
	if acct.Role != models.RoleNone {
		_, ev := s.upsertRoleLocked(u.ID, acct.Role, now)
		events = append(events, ev)
	}
	return u, events, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct store.NewAccount) (models.User, error) {
	s.mu.Lock()
	u, events, err := s.createAccountLocked(acct, s.now())
	s.mu.Unlock()
	if err != nil {
		return models.User{}, err
	}
	s.publish(ctx, events...)
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = normEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, store.ErrNotFound
}

func (s *Store) UserByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now()
	s.users[userID] = u
	return nil
}

func (s *Store) TouchSignIn(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.LastSignInAt = &at
		s.users[userID] = u
	}
	return nil
}

func (s *Store) DeleteUserCascade(ctx context.Context, userID string) error {
	s.mu.Lock()
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	var events []realtime.Event
	kept := s.roles[:0]
	for _, r := range s.roles {
		if r.UserID == userID {
			events = append(events, change(models.TableUserRoles, realtime.Delete, nil, r))
			continue
		}
		kept = append(kept, r)
	}
	s.roles = kept
	if p, ok := s.profiles[userID]; ok {
		events = append(events, change(models.TableProfiles, realtime.Delete, nil, p))
		delete(s.profiles, userID)
	}
	for jti, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, jti)
		}
	}
	delete(s.users, userID)
	s.mu.Unlock()
	s.publish(ctx, events...)
	return nil
}

func (s *Store) CreateSession(_ context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.JTI]; ok {
		return store.ErrConflict
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	s.sessions[sess.JTI] = sess
	return nil
}

func (s *Store) SessionByJTI(_ context.Context, jti string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[jti]
	if !ok {
		return models.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) RevokeSession(_ context.Context, jti string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[jti]; ok && sess.RevokedAt == nil {
		sess.RevokedAt = &at
		s.sessions[jti] = sess
	}
	return nil
}

func (s *Store) RevokeUserSessions(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = &at
			s.sessions[jti] = sess
		}
	}
	return nil
}

func (s *Store) ListProfiles(_ context.Context) ([]models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ProfileByUserID(_ context.Context, userID string) (models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return models.UserProfile{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, patch store.ProfilePatch) (models.UserProfile, error) {
	s.mu.Lock()
	p, ok := s.profiles[userID]
	if !ok {
		s.mu.Unlock()
		return models.UserProfile{}, store.ErrNotFound
	}
	old := p
	if patch.FullName != nil {
		p.FullName = strings.TrimSpace(*patch.FullName)
	}
	if patch.AvatarURL != nil {
		if *patch.AvatarURL == "" {
			p.AvatarURL = nil
		} else {
			url := *patch.AvatarURL
			p.AvatarURL = &url
		}
	}
	p.UpdatedAt = s.now()
	s.profiles[userID] = p
	s.mu.Unlock()
	s.publish(ctx, change(models.TableProfiles, realtime.Update, p, old))
	return p, nil
}

func (s *Store) CreateAuditLog(_ context.Context, l *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = int64(len(s.auditLogs) + 1)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, *l)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, userID string, limit int) ([]models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditLog
	for i := len(s.auditLogs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		l := s.auditLogs[i]
		if userID != "" && (l.UserID == nil || *l.UserID != userID) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

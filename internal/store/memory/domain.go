package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

func (s *Store) upsertRoleLocked(userID string, role models.Role, now time.Time) (models.UserRole, realtime.Event) {
	for i, r := range s.roles {
		if r.UserID == userID {
			s.roles[i].Role = role
			return s.roles[i], change(models.TableUserRoles, realtime.Update, s.roles[i], nil)
		}
	}
	r := models.UserRole{ID: uuid.NewString(), UserID: userID, Role: role, CreatedAt: now}
	s.roles = append(s.roles, r)
	return r, change(models.TableUserRoles, realtime.Insert, r, nil)
}

func (s *Store) RolesForUser(_ context.Context, userID string) ([]models.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.UserRole
	for _, r := range s.roles {
		if r.UserID == userID {
			out = append(out, r)
			if len(out) == 2 {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListRoles(_ context.Context) ([]models.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.UserRole(nil), s.roles...), nil
}

func (s *Store) UpsertRole(ctx context.Context, userID string, role models.Role) (models.UserRole, error) {
	s.mu.Lock()
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return models.UserRole{}, store.ErrNotFound
	}
	r, ev := s.upsertRoleLocked(userID, role, s.now())
	s.mu.Unlock()
	s.publish(ctx, ev)
	return r, nil
}

func (s *Store) DeleteRole(ctx context.Context, userID string) error {
	s.mu.Lock()
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
	s.mu.Unlock()
	if len(events) == 0 {
		return store.ErrNotFound
	}
	s.publish(ctx, events...)
	return nil
}

func (s *Store) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	for _, cur := range s.invitations {
		if cur.Token == inv.Token {
			s.mu.Unlock()
			return store.ErrConflict
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	inv.Email = normEmail(inv.Email)
	s.invitations[inv.ID] = *inv
	s.mu.Unlock()
	s.publish(ctx, change(models.TableInvitations, realtime.Insert, inv, nil))
	return nil
}

func (s *Store) ListInvitations(_ context.Context) ([]models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Invitation, 0, len(s.invitations))
	for _, inv := range s.invitations {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) pendingLocked(token string, now time.Time) (models.Invitation, bool) {
	for _, inv := range s.invitations {
		if inv.Token == token && inv.Pending(now) {
			return inv, true
		}
	}
	return models.Invitation{}, false
}

func (s *Store) InvitationByToken(_ context.Context, token string, now time.Time) (models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.pendingLocked(token, now)
	if !ok {
		return models.Invitation{}, store.ErrNotFound
	}
	return inv, nil
}

func (s *Store) DeletePendingInvitation(ctx context.Context, id string) error {
	s.mu.Lock()
	inv, ok := s.invitations[id]
	if !ok || inv.AcceptedAt != nil {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(s.invitations, id)
	s.mu.Unlock()
	s.publish(ctx, change(models.TableInvitations, realtime.Delete, nil, inv))
	return nil
}

func (s *Store) RedeemInvitation(ctx context.Context, token string, now time.Time, acct store.NewAccount) (models.User, models.Invitation, error) {
	s.mu.Lock()
	inv, ok := s.pendingLocked(token, now)
	if !ok {
		s.mu.Unlock()
		return models.User{}, models.Invitation{}, store.ErrNotFound
	}
	old := inv
	acct.Email = inv.Email
	acct.Role = inv.Role
	u, events, err := s.createAccountLocked(acct, now)
	if err != nil {
		s.mu.Unlock()
		return models.User{}, models.Invitation{}, err
	}
	inv.AcceptedAt = &now
	s.invitations[inv.ID] = inv
	s.mu.Unlock()
	events = append(events, change(models.TableInvitations, realtime.Update, inv, old))
	s.publish(ctx, events...)
	return u, inv, nil
}

func (s *Store) PurgeExpiredInvitations(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.invitations {
		if inv.AcceptedAt == nil && inv.ExpiresAt.Before(before) {
			delete(s.invitations, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) assignedLocked(programID, pentesterID string) bool {
	for _, pp := range s.pentesters {
		if pp.ProgramID == programID && pp.PentesterID == pentesterID {
			return true
		}
	}
	return false
}

func (s *Store) ListPrograms(_ context.Context, scope store.ProgramScope) ([]models.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Program
	for _, p := range s.programs {
		if scope.PentesterID != "" && !s.assignedLocked(p.ID, scope.PentesterID) {
			continue
		}
		if scope.ClientID != "" && (p.ClientID == nil || *p.ClientID != scope.ClientID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ProgramByID(_ context.Context, id string) (models.ProgramDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[id]
	if !ok {
		return models.ProgramDetail{}, store.ErrNotFound
	}
	d := models.ProgramDetail{Program: p}
	for _, a := range s.assets {
		if a.ProgramID == id {
			d.Assets = append(d.Assets, a)
		}
	}
	for _, sla := range s.slas {
		if sla.ProgramID == id {
			d.SLAs = append(d.SLAs, sla)
		}
	}
	for _, pp := range s.pentesters {
		if pp.ProgramID == id {
			d.Pentesters = append(d.Pentesters, pp)
		}
	}
	sort.Slice(d.Assets, func(i, j int) bool { return d.Assets[i].CreatedAt.Before(d.Assets[j].CreatedAt) })
	sort.Slice(d.SLAs, func(i, j int) bool { return d.SLAs[i].Severity < d.SLAs[j].Severity })
	sort.Slice(d.Pentesters, func(i, j int) bool { return d.Pentesters[i].AssignedAt.Before(d.Pentesters[j].AssignedAt) })
	return d, nil
}

func (s *Store) CreateProgram(ctx context.Context, p *models.Program) error {
	s.mu.Lock()
	now := s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = models.ProgramDraft
	}
	s.programs[p.ID] = *p
	s.mu.Unlock()
	s.publish(ctx, change(models.TablePrograms, realtime.Insert, p, nil))
	return nil
}

func (s *Store) UpdateProgram(ctx context.Context, id string, patch store.ProgramPatch) (models.Program, error) {
	s.mu.Lock()
	p, ok := s.programs[id]
	if !ok {
		s.mu.Unlock()
		return models.Program{}, store.ErrNotFound
	}
	old := p
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
			cid := *patch.ClientID
			p.ClientID = &cid
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
	p.UpdatedAt = s.now()
	s.programs[id] = p
	s.mu.Unlock()
	s.publish(ctx, change(models.TablePrograms, realtime.Update, p, old))
	return p, nil
}

func (s *Store) DeleteProgram(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.programs[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	for _, r := range s.reports {
		if r.ProgramID == id {
			s.mu.Unlock()
			return store.ErrConflict
		}
	}
	for k, a := range s.assets {
		if a.ProgramID == id {
			delete(s.assets, k)
		}
	}
	for k, sla := range s.slas {
		if sla.ProgramID == id {
			delete(s.slas, k)
		}
	}
	for k, pp := range s.pentesters {
		if pp.ProgramID == id {
			delete(s.pentesters, k)
		}
	}
	delete(s.programs, id)
	s.mu.Unlock()
	s.publish(ctx, change(models.TablePrograms, realtime.Delete, nil, p))
	return nil
}

func (s *Store) AddAsset(_ context.Context, a *models.ProgramAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[a.ProgramID]; !ok {
		return store.ErrNotFound
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	s.assets[a.ID] = *a
	return nil
}

func (s *Store) DeleteAsset(_ context.Context, programID, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[assetID]
	if !ok || a.ProgramID != programID {
		return store.ErrNotFound
	}
	delete(s.assets, assetID)
	return nil
}

func (s *Store) UpsertSLA(_ context.Context, sla *models.SeveritySLA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[sla.ProgramID]; !ok {
		return store.ErrNotFound
	}
	for k, cur := range s.slas {
		if cur.ProgramID == sla.ProgramID && cur.Severity == sla.Severity {
			cur.ResponseHours, cur.ResolutionHours = sla.ResponseHours, sla.ResolutionHours
			s.slas[k] = cur
			*sla = cur
			return nil
		}
	}
	if sla.ID == "" {
		sla.ID = uuid.NewString()
	}
	s.slas[sla.ID] = *sla
	return nil
}

func (s *Store) AssignPentester(_ context.Context, programID, pentesterID string, at time.Time) (models.ProgramPentester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[programID]; !ok {
		return models.ProgramPentester{}, store.ErrNotFound
	}
	if s.assignedLocked(programID, pentesterID) {
		return models.ProgramPentester{}, store.ErrConflict
	}
	pp := models.ProgramPentester{ID: uuid.NewString(), ProgramID: programID, PentesterID: pentesterID, AssignedAt: at}
	s.pentesters[pp.ID] = pp
	return pp, nil
}

func (s *Store) UnassignPentester(_ context.Context, programID, pentesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, pp := range s.pentesters {
		if pp.ProgramID == programID && pp.PentesterID == pentesterID {
			delete(s.pentesters, k)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) IsAssigned(_ context.Context, programID, pentesterID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignedLocked(programID, pentesterID), nil
}

func (s *Store) ListReports(_ context.Context, scope store.ReportScope) ([]models.VulnerabilityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.VulnerabilityReport
	for _, r := range s.reports {
		if scope.ProgramID != "" && r.ProgramID != scope.ProgramID {
			continue
		}
		if scope.PentesterID != "" && r.ReporterID != scope.PentesterID && !s.assignedLocked(r.ProgramID, scope.PentesterID) {
			continue
		}
		if scope.ClientID != "" {
			p, ok := s.programs[r.ProgramID]
			if !ok || p.ClientID == nil || *p.ClientID != scope.ClientID {
				continue
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ReportByID(_ context.Context, id string) (models.VulnerabilityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return models.VulnerabilityReport{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) CreateReport(ctx context.Context, r *models.VulnerabilityReport) error {
	s.mu.Lock()
	if _, ok := s.programs[r.ProgramID]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	now := s.now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.ReportSubmitted
	}
	r.CreatedAt, r.UpdatedAt = now, now
	s.reports[r.ID] = *r
	s.mu.Unlock()
	s.publish(ctx, change(models.TableReports, realtime.Insert, r, nil))
	return nil
}

func (s *Store) UpdateReportStatus(ctx context.Context, id string, status models.ReportStatus, at time.Time) (models.VulnerabilityReport, error) {
	s.mu.Lock()
	r, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return models.VulnerabilityReport{}, store.ErrNotFound
	}
	old := r
	r.Status, r.UpdatedAt = status, at
	s.reports[id] = r
	s.mu.Unlock()
	s.publish(ctx, change(models.TableReports, realtime.Update, r, old))
	return r, nil
}

func (s *Store) ListComments(_ context.Context, reportID string, includeInternal bool) ([]models.ReportComment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReportComment
	for _, c := range s.comments {
		if c.ReportID != reportID || (c.IsInternal && !includeInternal) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) CreateComment(ctx context.Context, c *models.ReportComment) error {
	s.mu.Lock()
	if _, ok := s.reports[c.ReportID]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()
	s.comments = append(s.comments, *c)
	s.mu.Unlock()
	s.publish(ctx, change(models.TableReportComments, realtime.Insert, c, nil))
	return nil
}

func (s *Store) ListAttachments(_ context.Context, reportID string) ([]models.ReportAttachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReportAttachment
	for _, a := range s.attachments {
		if a.ReportID == reportID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AttachmentByID(_ context.Context, reportID, id string) (models.ReportAttachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attachments[id]
	if !ok || a.ReportID != reportID {
		return models.ReportAttachment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) CreateAttachment(_ context.Context, a *models.ReportAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[a.ReportID]; !ok {
		return store.ErrNotFound
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	s.attachments[a.ID] = *a
	return nil
}

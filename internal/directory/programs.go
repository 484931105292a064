package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/models"
	"pentestdesk/internal/store"
)

type ProgramInput struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	ClientID    *string              `json:"client_id"`
	Status      models.ProgramStatus `json:"status"`
	StartsAt    *time.Time           `json:"starts_at"`
	EndsAt      *time.Time           `json:"ends_at"`
}

type ProgramManager struct {
	deps     Deps
	caller   Caller
	programs holder[models.Program]
}

func NewProgramManager(d Deps, c Caller) *ProgramManager {
	return &ProgramManager{deps: d, caller: c}
}

func (m *ProgramManager) Snapshot() Snapshot[models.Program] { return m.programs.get() }

// scope returns false when the caller may not list programs at all.
func programScope(c Caller) (store.ProgramScope, bool) {
	switch c.Role {
	case models.RoleAdmin:
		return store.ProgramScope{}, true
	case models.RolePentester:
		return store.ProgramScope{PentesterID: c.UserID}, true
	case models.RoleClient:
		return store.ProgramScope{ClientID: c.UserID}, true
	}
	return store.ProgramScope{}, false
}

func (m *ProgramManager) FetchPrograms(ctx context.Context) []models.Program {
	scope, ok := programScope(m.caller)
	if !ok {
		m.programs.set(nil, nil, m.deps.now())
		return []models.Program{}
	}
	items, err := m.deps.Store.ListPrograms(ctx, scope)
	if err != nil {
		m.deps.Logger.Errorw("fetch programs failed", "err", err)
	}
	m.programs.set(items, err, m.deps.now())
	return m.programs.get().Items
}

// canSee hides programs outside the caller's scope as not found.
func (m *ProgramManager) canSee(ctx context.Context, p models.Program) (bool, error) {
	switch m.caller.Role {
	case models.RoleAdmin:
		return true, nil
	case models.RolePentester:
		return m.deps.Store.IsAssigned(ctx, p.ID, m.caller.UserID)
	case models.RoleClient:
		return p.ClientID != nil && *p.ClientID == m.caller.UserID, nil
	}
	return false, nil
}

func (m *ProgramManager) GetProgram(ctx context.Context, id string) (models.ProgramDetail, error) {
	d, err := m.deps.Store.ProgramByID(ctx, id)
	if err != nil {
		return models.ProgramDetail{}, storeErr(err, "program not found")
	}
	ok, err := m.canSee(ctx, d.Program)
	if err != nil {
		return models.ProgramDetail{}, apperr.Upstream(err)
	}
	if !ok {
		return models.ProgramDetail{}, apperr.NotFound("program not found")
	}
	return d, nil
}

func (m *ProgramManager) requireRole(ctx context.Context, userID string, want models.Role, msg string) error {
	rows, err := m.deps.Store.RolesForUser(ctx, userID)
	if err != nil {
		return apperr.Upstream(err)
	}
	if len(rows) != 1 || rows[0].Role != want {
		return apperr.Validation(msg)
	}
	return nil
}

func validateWindow(starts, ends *time.Time) error {
	if starts != nil && ends != nil && ends.Before(*starts) {
		return apperr.Validation("ends_at must not be before starts_at")
	}
	return nil
}

func (m *ProgramManager) CreateProgram(ctx context.Context, in ProgramInput) (models.Program, error) {
	if err := requireAdmin(m.caller); err != nil {
		return models.Program{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return models.Program{}, apperr.Validation("name is required")
	}
	if in.Status == "" {
		in.Status = models.ProgramDraft
	}
	if !in.Status.Valid() {
		return models.Program{}, apperr.Validation("invalid status")
	}
	if err := validateWindow(in.StartsAt, in.EndsAt); err != nil {
		return models.Program{}, err
	}
	if in.ClientID != nil && *in.ClientID != "" {
		if err := m.requireRole(ctx, *in.ClientID, models.RoleClient, "client_id must reference a client"); err != nil {
			return models.Program{}, err
		}
	} else {
		in.ClientID = nil
	}
	p := models.Program{
		Name: in.Name, Description: in.Description, ClientID: in.ClientID, Status: in.Status,
		StartsAt: in.StartsAt, EndsAt: in.EndsAt, CreatedBy: m.caller.UserID,
	}
	if err := m.deps.Store.CreateProgram(ctx, &p); err != nil {
		return models.Program{}, storeErr(err, "program not found")
	}
	m.FetchPrograms(ctx)
	return p, nil
}

func (m *ProgramManager) UpdateProgram(ctx context.Context, id string, patch store.ProgramPatch) (models.Program, error) {
	if err := requireAdmin(m.caller); err != nil {
		return models.Program{}, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return models.Program{}, apperr.Validation("name must not be empty")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return models.Program{}, apperr.Validation("invalid status")
	}
	if err := validateWindow(patch.StartsAt, patch.EndsAt); err != nil {
		return models.Program{}, err
	}
	if patch.ClientID != nil && *patch.ClientID != "" {
		if err := m.requireRole(ctx, *patch.ClientID, models.RoleClient, "client_id must reference a client"); err != nil {
			return models.Program{}, err
		}
	}
	p, err := m.deps.Store.UpdateProgram(ctx, id, patch)
	if err != nil {
		return models.Program{}, storeErr(err, "program not found")
	}
	m.FetchPrograms(ctx)
	return p, nil
}

func (m *ProgramManager) DeleteProgram(ctx context.Context, id string) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	err := m.deps.Store.DeleteProgram(ctx, id)
	if errors.Is(err, store.ErrConflict) {
		return apperr.Conflict("program has vulnerability reports")
	}
	if err != nil {
		return storeErr(err, "program not found")
	}
	m.FetchPrograms(ctx)
	return nil
}

func (m *ProgramManager) AddAsset(ctx context.Context, programID string, a models.ProgramAsset) (models.ProgramAsset, error) {
	if err := requireAdmin(m.caller); err != nil {
		return models.ProgramAsset{}, err
	}
	a.Identifier = strings.TrimSpace(a.Identifier)
	if a.Identifier == "" {
		return models.ProgramAsset{}, apperr.Validation("identifier is required")
	}
	if !a.AssetType.Valid() {
		return models.ProgramAsset{}, apperr.Validation("invalid asset_type")
	}
	a.ID = ""
	a.ProgramID = programID
	if err := m.deps.Store.AddAsset(ctx, &a); err != nil {
		return models.ProgramAsset{}, storeErr(err, "program not found")
	}
	m.FetchPrograms(ctx)
	return a, nil
}

func (m *ProgramManager) RemoveAsset(ctx context.Context, programID, assetID string) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	if err := m.deps.Store.DeleteAsset(ctx, programID, assetID); err != nil {
		return storeErr(err, "asset not found")
	}
	m.FetchPrograms(ctx)
	return nil
}

// SetSLA upserts the targets for one severity of a program.
func (m *ProgramManager) SetSLA(ctx context.Context, programID string, sev models.Severity, responseHours, resolutionHours int) (models.SeveritySLA, error) {
	if err := requireAdmin(m.caller); err != nil {
		return models.SeveritySLA{}, err
	}
	if !sev.Valid() {
		return models.SeveritySLA{}, apperr.Validation("invalid severity")
	}
	if responseHours <= 0 || resolutionHours <= 0 || responseHours > resolutionHours {
		return models.SeveritySLA{}, apperr.Validation("response_hours and resolution_hours must be positive and response_hours <= resolution_hours")
	}
	sla := models.SeveritySLA{ProgramID: programID, Severity: sev, ResponseHours: responseHours, ResolutionHours: resolutionHours}
	if err := m.deps.Store.UpsertSLA(ctx, &sla); err != nil {
		return models.SeveritySLA{}, storeErr(err, "program not found")
	}
	m.FetchPrograms(ctx)
	return sla, nil
}

// AssignPentester requires the target to hold the pentester role.
func (m *ProgramManager) AssignPentester(ctx context.Context, programID, pentesterID string) (models.ProgramPentester, error) {
	if err := requireAdmin(m.caller); err != nil {
		return models.ProgramPentester{}, err
	}
	if err := m.requireRole(ctx, pentesterID, models.RolePentester, "user is not a pentester"); err != nil {
		return models.ProgramPentester{}, err
	}
	pp, err := m.deps.Store.AssignPentester(ctx, programID, pentesterID, m.deps.now())
	if errors.Is(err, store.ErrConflict) {
		return models.ProgramPentester{}, apperr.Conflict("pentester already assigned")
	}
	if err != nil {
		return models.ProgramPentester{}, storeErr(err, "program not found")
	}
	m.FetchPrograms(ctx)
	return pp, nil
}

func (m *ProgramManager) UnassignPentester(ctx context.Context, programID, pentesterID string) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	if err := m.deps.Store.UnassignPentester(ctx, programID, pentesterID); err != nil {
		return storeErr(err, "assignment not found")
	}
	m.FetchPrograms(ctx)
	return nil
}

package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/agentlease/leaseguard/modules/policy/domain/ports"
	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PolicyPGStore persists policy lists, templates, and instance
// bindings in Postgres. Lists are stored as JSONB documents, one row
// per entity and role.
type PolicyPGStore struct {
	pool pgBeginner
}

func NewPolicyPGStore(pool pgBeginner) ports.PolicyStore {
	return &PolicyPGStore{pool: pool}
}

func (s *PolicyPGStore) GetCeiling(ctx context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, bool, error) {
	return s.getList(ctx, entityID, "ceiling")
}

func (s *PolicyPGStore) SetCeiling(ctx context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error {
	return s.setList(ctx, entityID, "ceiling", entries)
}

func (s *PolicyPGStore) GetOverride(ctx context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, bool, error) {
	return s.getList(ctx, entityID, "override")
}

func (s *PolicyPGStore) SetOverride(ctx context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error {
	return s.setList(ctx, entityID, "override", entries)
}

func (s *PolicyPGStore) ClearOverride(ctx context.Context, entityID rentaltypes.EntityID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	DELETE FROM policy.lists
	WHERE entity_id = $1 AND role = 'override'
	`, string(entityID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PolicyPGStore) PutTemplate(ctx context.Context, templateID string, entries []types.PluginConfig) error {
	doc, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
	INSERT INTO policy.templates (template_id, entries)
	VALUES ($1, $2::jsonb)
	ON CONFLICT (template_id) DO NOTHING
	`, templateID, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httperr.NewConflict("template already registered")
	}
	return tx.Commit(ctx)
}

func (s *PolicyPGStore) GetTemplate(ctx context.Context, templateID string) ([]types.PluginConfig, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var doc []byte
	err = tx.QueryRow(ctx, `
	SELECT entries
	FROM policy.templates
	WHERE template_id = $1
	`, templateID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entries []types.PluginConfig
	if err := json.Unmarshal(doc, &entries); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (s *PolicyPGStore) BindInstance(ctx context.Context, instanceID rentaltypes.EntityID, templateID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
	INSERT INTO policy.instance_bindings (instance_id, template_id)
	VALUES ($1, $2)
	ON CONFLICT (instance_id) DO NOTHING
	`, string(instanceID), templateID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httperr.NewConflict("instance already bound")
	}
	return tx.Commit(ctx)
}

func (s *PolicyPGStore) GetInstanceTemplate(ctx context.Context, instanceID rentaltypes.EntityID) (string, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var templateID string
	err = tx.QueryRow(ctx, `
	SELECT template_id
	FROM policy.instance_bindings
	WHERE instance_id = $1
	`, string(instanceID)).Scan(&templateID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return templateID, true, nil
}

func (s *PolicyPGStore) getList(ctx context.Context, entityID rentaltypes.EntityID, role string) ([]types.PluginConfig, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var doc []byte
	err = tx.QueryRow(ctx, `
	SELECT entries
	FROM policy.lists
	WHERE entity_id = $1 AND role = $2
	`, string(entityID), role).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entries []types.PluginConfig
	if err := json.Unmarshal(doc, &entries); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (s *PolicyPGStore) setList(ctx context.Context, entityID rentaltypes.EntityID, role string, entries []types.PluginConfig) error {
	doc, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	INSERT INTO policy.lists (entity_id, role, entries)
	VALUES ($1, $2, $3::jsonb)
	ON CONFLICT (entity_id, role) DO UPDATE SET entries = EXCLUDED.entries
	`, string(entityID), role, doc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

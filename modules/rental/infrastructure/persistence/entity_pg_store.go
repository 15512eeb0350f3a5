package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentlease/leaseguard/modules/rental/domain/ports"
	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EntityPGStore persists entities in Postgres. Addresses are stored as
// hex text, expiries as unix seconds with 0 meaning unset.
type EntityPGStore struct {
	pool pgBeginner
}

func NewEntityPGStore(pool pgBeginner) ports.EntityStore {
	return &EntityPGStore{pool: pool}
}

func (s *EntityPGStore) Create(ctx context.Context, e types.Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
	INSERT INTO rental.entities (
	  entity_id, owner_addr, vault_addr,
	  renter_addr, lease_expiry,
	  operator_addr, operator_expiry, operator_nonce,
	  paused, terminated,
	  template_id, init_params_hash, last_action_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (entity_id) DO NOTHING
	`, entityArgs(e)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httperr.NewConflict("entity already exists")
	}
	return tx.Commit(ctx)
}

func (s *EntityPGStore) Get(ctx context.Context, id types.EntityID) (types.Entity, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Entity{}, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var (
		e                       types.Entity
		ownerHex, vaultHex      string
		renterHex, operatorHex  string
		leaseUnix, operatorUnix int64
		lastActionUnix          int64
	)
	err = tx.QueryRow(ctx, `
	SELECT entity_id, owner_addr, vault_addr,
	       renter_addr, lease_expiry,
	       operator_addr, operator_expiry, operator_nonce,
	       paused, terminated,
	       template_id, init_params_hash, last_action_at
	FROM rental.entities
	WHERE entity_id = $1
	`, string(id)).Scan(
		&e.ID, &ownerHex, &vaultHex,
		&renterHex, &leaseUnix,
		&operatorHex, &operatorUnix, &e.OperatorNonce,
		&e.Paused, &e.Terminated,
		&e.TemplateID, &e.InitParamsHash, &lastActionUnix,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Entity{}, false, nil
	}
	if err != nil {
		return types.Entity{}, false, err
	}
	if e.Owner, err = calldata.ParseAddress(ownerHex); err != nil {
		return types.Entity{}, false, err
	}
	if e.VaultAddress, err = calldata.ParseAddress(vaultHex); err != nil {
		return types.Entity{}, false, err
	}
	if e.Renter, err = calldata.ParseAddress(renterHex); err != nil {
		return types.Entity{}, false, err
	}
	if e.Operator, err = calldata.ParseAddress(operatorHex); err != nil {
		return types.Entity{}, false, err
	}
	e.LeaseExpiry = fromUnix(leaseUnix)
	e.OperatorExpiry = fromUnix(operatorUnix)
	e.LastActionAt = fromUnix(lastActionUnix)
	if err := tx.Commit(ctx); err != nil {
		return types.Entity{}, false, err
	}
	return e, true, nil
}

func (s *EntityPGStore) Update(ctx context.Context, e types.Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
	UPDATE rental.entities SET
	  owner_addr = $2, vault_addr = $3,
	  renter_addr = $4, lease_expiry = $5,
	  operator_addr = $6, operator_expiry = $7, operator_nonce = $8,
	  paused = $9, terminated = $10,
	  template_id = $11, init_params_hash = $12, last_action_at = $13
	WHERE entity_id = $1
	`, entityArgs(e)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httperr.NewNotFound("entity not found")
	}
	return tx.Commit(ctx)
}

func entityArgs(e types.Entity) []any {
	return []any{
		string(e.ID), e.Owner.Hex(), e.VaultAddress.Hex(),
		e.Renter.Hex(), toUnix(e.LeaseExpiry),
		e.Operator.Hex(), toUnix(e.OperatorExpiry), e.OperatorNonce,
		e.Paused, e.Terminated,
		e.TemplateID, e.InitParamsHash, toUnix(e.LastActionAt),
	}
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}

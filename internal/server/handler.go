// Package server wires the HTTP surface: route registration, request
// decoding, the casbin control-plane gate, and the translation of
// domain errors into JSON envelopes.
package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlease/leaseguard/internal/events"
	"github.com/agentlease/leaseguard/internal/routing"
	policyports "github.com/agentlease/leaseguard/modules/policy/domain/ports"
	policypersistence "github.com/agentlease/leaseguard/modules/policy/infrastructure/persistence"
	"github.com/agentlease/leaseguard/modules/policy/plugins"
	policyservices "github.com/agentlease/leaseguard/modules/policy/services"
	rentalports "github.com/agentlease/leaseguard/modules/rental/domain/ports"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	rentalpersistence "github.com/agentlease/leaseguard/modules/rental/infrastructure/persistence"
	rentalservices "github.com/agentlease/leaseguard/modules/rental/services"
	vaultservices "github.com/agentlease/leaseguard/modules/vault/services"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/statestore"
	"github.com/agentlease/leaseguard/pkg/typeddata"
)

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

type HandlerOptions struct {
	EntityStore rentalports.EntityStore
	PolicyStore policyports.PolicyStore
	StateStore  statestore.Store
	Sink        events.Sink
	Call        vaultservices.CallFunc
	Domain      typeddata.Domain
	Clock       func() time.Time
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	entityStore := opts.EntityStore
	policyStore := opts.PolicyStore
	stateStore := opts.StateStore
	sink := opts.Sink
	call := opts.Call
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	if entityStore == nil || policyStore == nil {
		if dsn := os.Getenv("LEASEGUARD_PG_DSN"); dsn != "" {
			pool, err := pgxpool.New(context.Background(), dsn)
			if err != nil {
				return nil, err
			}
			if entityStore == nil {
				entityStore = rentalpersistence.NewEntityPGStore(pool)
			}
			if policyStore == nil {
				policyStore = policypersistence.NewPolicyPGStore(pool)
			}
		} else {
			if entityStore == nil {
				entityStore = rentalpersistence.NewEntityMemoryStore()
			}
			if policyStore == nil {
				policyStore = policypersistence.NewPolicyMemoryStore()
			}
		}
	}
	if stateStore == nil {
		if addr := os.Getenv("LEASEGUARD_REDIS_ADDR"); addr != "" {
			rs, err := statestore.NewRedis(statestore.RedisConfig{Addr: addr})
			if err != nil {
				return nil, err
			}
			stateStore = rs
		} else {
			stateStore = statestore.NewMemory()
		}
	}
	if sink == nil {
		sink = events.NewMemorySink()
	}
	if call == nil {
		// Dev default: every forwarded call succeeds without effects.
		call = func(context.Context, calldata.Address, calldata.Address, *big.Int, []byte) error { return nil }
	}

	engine := policyservices.NewEngine(policyStore)
	for _, p := range plugins.Canonical(stateStore, clock) {
		if err := engine.Register(p); err != nil {
			return nil, err
		}
	}

	vault := vaultservices.NewVault(call)
	rental := rentalservices.NewService(
		entityStore,
		engine,
		vault,
		sinkAdapter{sink},
		vaultservices.DeriveAddress,
		opts.Domain,
		clock,
	)

	authorizer, err := loadAuthorizer()
	if err != nil {
		return nil, err
	}

	h := &handler{
		engine: engine,
		rental: rental,
		clock:  clock,
	}

	router := routing.NewRouter(classifier)
	h.registerRoutes(router)
	return withAuthz(classifier, authorizer, router), nil
}

type handler struct {
	engine *policyservices.Engine
	rental *rentalservices.Service
	clock  func() time.Time
}

func (h *handler) registerRoutes(router *routing.Router) {
	public := routing.RouteClassPublicAPI
	admin := routing.RouteClassAdminAPI
	ops := routing.RouteClassOps

	router.Handle(ops, http.MethodGet, "/healthz", http.HandlerFunc(h.handleHealthz))
	router.Handle(ops, http.MethodGet, "/readyz", http.HandlerFunc(h.handleHealthz))

	router.Handle(public, http.MethodPost, "/api/v1/entities/mint", http.HandlerFunc(h.handleMint))
	router.Handle(public, http.MethodPost, "/api/v1/entities/mint-instance", http.HandlerFunc(h.handleMintInstance))
	router.Handle(public, http.MethodGet, "/api/v1/entities", http.HandlerFunc(h.handleGetEntity))
	router.Handle(public, http.MethodGet, "/api/v1/entities/balance", http.HandlerFunc(h.handleBalance))
	router.Handle(public, http.MethodPost, "/api/v1/entities/execute", http.HandlerFunc(h.handleExecute))
	router.Handle(public, http.MethodPost, "/api/v1/entities/deposit", http.HandlerFunc(h.handleDeposit))
	router.Handle(public, http.MethodPost, "/api/v1/entities/withdraw", http.HandlerFunc(h.handleWithdraw))
	router.Handle(public, http.MethodPost, "/api/v1/entities/lease", http.HandlerFunc(h.handleAssignLease))
	router.Handle(public, http.MethodPost, "/api/v1/entities/lease/extend", http.HandlerFunc(h.handleExtendLease))
	router.Handle(public, http.MethodPost, "/api/v1/entities/transfer", http.HandlerFunc(h.handleTransfer))
	router.Handle(public, http.MethodPost, "/api/v1/entities/pause", http.HandlerFunc(h.handlePause))
	router.Handle(public, http.MethodPost, "/api/v1/entities/unpause", http.HandlerFunc(h.handleUnpause))
	router.Handle(public, http.MethodPost, "/api/v1/entities/terminate", http.HandlerFunc(h.handleTerminate))
	router.Handle(public, http.MethodPost, "/api/v1/entities/operator", http.HandlerFunc(h.handleSetOperator))
	router.Handle(public, http.MethodPost, "/api/v1/entities/permit", http.HandlerFunc(h.handleSubmitPermit))

	router.Handle(public, http.MethodPost, "/api/v1/policy/ceiling", http.HandlerFunc(h.handleSetCeiling))
	router.Handle(public, http.MethodPost, "/api/v1/policy/ceiling/append", http.HandlerFunc(h.handleAppendCeiling))
	router.Handle(public, http.MethodPost, "/api/v1/policy/ceiling/remove", http.HandlerFunc(h.handleRemoveCeiling))
	router.Handle(public, http.MethodPost, "/api/v1/policy/override", http.HandlerFunc(h.handleSetOverride))
	router.Handle(public, http.MethodPost, "/api/v1/policy/override/clear", http.HandlerFunc(h.handleClearOverride))

	router.Handle(admin, http.MethodGet, "/admin/api/plugins", http.HandlerFunc(h.handleListPlugins))
	router.Handle(admin, http.MethodPost, "/admin/api/plugins/approve", http.HandlerFunc(h.handleApprovePlugin))
	router.Handle(admin, http.MethodPost, "/admin/api/plugins/revoke", http.HandlerFunc(h.handleRevokePlugin))
	router.Handle(admin, http.MethodPost, "/admin/api/templates", http.HandlerFunc(h.handleRegisterTemplate))
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func defaultAllowlistPath() (string, error) {
	path := filepath.Join("config", "allowlist.yaml")
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: allowlist not found")
}

// sinkAdapter bridges the rental service's event port onto an audit
// sink. Publish failures are dropped; audit must never fail an action.
type sinkAdapter struct {
	sink events.Sink
}

func (s sinkAdapter) Publish(ctx context.Context, eventType string, entityID rentaltypes.EntityID, at time.Time, fields map[string]string) {
	_ = s.sink.Publish(ctx, events.New(eventType, string(entityID), at, fields))
}

// Package inventory exposes stock receipts and adjustments to the API. It
// publishes an outbox event for every counter change it makes; order-driven
// reservations go through the ledger from the order service instead.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/internal/catalog"
	"github.com/angelmondragon/retail-backoffice/internal/ledger"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

const defaultMovementLimit = 50

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// branchChecker is satisfied by orders.Repository.
type branchChecker interface {
	BranchBelongsToShop(ctx context.Context, shopID, branchID uuid.UUID) (bool, error)
}

// Scope is the tenant and location a stock request acts on.
type Scope struct {
	ShopID   uuid.UUID
	BranchID uuid.UUID
}

type ReceiveInput struct {
	VariantID uuid.UUID `json:"variant_id"`
	Qty       int       `json:"qty"`
	SerialNos []string  `json:"serial_nos,omitempty"`
	Note      string    `json:"note,omitempty"`
}

type AdjustInput struct {
	VariantID uuid.UUID `json:"variant_id"`
	Delta     int       `json:"delta"`
	Note      string    `json:"note"`
}

// Record is an inventory row with its recent movements.
type Record struct {
	Inventory models.Inventory           `json:"inventory"`
	Available int                        `json:"available"`
	Movements []models.InventoryMovement `json:"movements,omitempty"`
}

type Service interface {
	Get(ctx context.Context, scope Scope, variantID uuid.UUID) (*Record, error)
	Receive(ctx context.Context, scope Scope, input ReceiveInput) (*Record, error)
	Adjust(ctx context.Context, scope Scope, input AdjustInput) (*Record, error)
}

type ServiceParams struct {
	Ledger   ledger.Service
	Catalog  catalog.Resolver
	Branches branchChecker
	Outbox   outboxPublisher
	TxRunner txRunner
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	ledger   ledger.Service
	catalog  catalog.Resolver
	branches branchChecker
	outbox   outboxPublisher
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog resolver required")
	}
	if params.Branches == nil {
		return nil, fmt.Errorf("branch checker required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		ledger:   params.Ledger,
		catalog:  params.Catalog,
		branches: params.Branches,
		outbox:   params.Outbox,
		tx:       params.TxRunner,
		logg:     logg,
		now:      now,
	}, nil
}

func (s *service) Get(ctx context.Context, scope Scope, variantID uuid.UUID) (*Record, error) {
	key, err := s.key(ctx, scope, variantID)
	if err != nil {
		return nil, err
	}
	inv, err := s.ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	movements, err := s.ledger.Movements(ctx, key, defaultMovementLimit)
	if err != nil {
		return nil, err
	}
	return &Record{Inventory: *inv, Available: inv.Available(), Movements: movements}, nil
}

func (s *service) Receive(ctx context.Context, scope Scope, input ReceiveInput) (*Record, error) {
	key, err := s.key(ctx, scope, input.VariantID)
	if err != nil {
		return nil, err
	}
	variant, err := s.catalog.Resolve(ctx, scope.ShopID, input.VariantID)
	if err != nil {
		return nil, err
	}

	var inv *models.Inventory
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		inv, err = s.ledger.WithTx(tx).Receive(ctx, ledger.ReceiveInput{
			Key:         key,
			Qty:         input.Qty,
			TrackSerial: variant.TrackSerial,
			SerialNos:   input.SerialNos,
			Note:        input.Note,
		})
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventInventoryReceived, inv, input.Qty, input.Note)
	})
	if err != nil {
		return nil, err
	}
	s.logChange(ctx, "inventory received", key, input.Qty)
	return &Record{Inventory: *inv, Available: inv.Available()}, nil
}

// Adjust applies a signed correction. Negative deltas may not take on_hand
// below what is already allocated to orders.
func (s *service) Adjust(ctx context.Context, scope Scope, input AdjustInput) (*Record, error) {
	key, err := s.key(ctx, scope, input.VariantID)
	if err != nil {
		return nil, err
	}

	var inv *models.Inventory
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		inv, err = s.ledger.WithTx(tx).Adjust(ctx, key, input.Delta, input.Note)
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventInventoryAdjusted, inv, input.Delta, input.Note)
	})
	if err != nil {
		return nil, err
	}
	s.logChange(ctx, "inventory adjusted", key, input.Delta)
	return &Record{Inventory: *inv, Available: inv.Available()}, nil
}

func (s *service) key(ctx context.Context, scope Scope, variantID uuid.UUID) (ledger.Key, error) {
	key := ledger.Key{ShopID: scope.ShopID, BranchID: scope.BranchID, VariantID: variantID}
	if scope.ShopID == uuid.Nil || scope.BranchID == uuid.Nil || variantID == uuid.Nil {
		return key, pkgerrors.New(pkgerrors.CodeValidation, "shop, branch and variant are required")
	}
	ok, err := s.branches.BranchBelongsToShop(ctx, scope.ShopID, scope.BranchID)
	if err != nil {
		return key, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check branch")
	}
	if !ok {
		return key, pkgerrors.New(pkgerrors.CodeNotFound, "branch not found")
	}
	return key, nil
}

// Inventory rows have a composite key; the variant id stands in as the
// aggregate id so consumers can partition by variant.
func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, inv *models.Inventory, delta int, note string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateInventory,
		AggregateID:   inv.VariantID,
		Version:       1,
		OccurredAt:    s.now().UTC(),
		Data: payloads.InventoryChangedEvent{
			ShopID:    inv.ShopID,
			BranchID:  inv.BranchID,
			VariantID: inv.VariantID,
			Delta:     delta,
			OnHand:    inv.OnHand,
			Allocated: inv.Allocated,
			Note:      note,
		},
	})
}

func (s *service) logChange(ctx context.Context, msg string, key ledger.Key, delta int) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"shop_id":    key.ShopID.String(),
		"branch_id":  key.BranchID.String(),
		"variant_id": key.VariantID.String(),
		"delta":      delta,
	})
	s.logg.Info(logCtx, msg)
}

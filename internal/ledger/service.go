package ledger

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// Key addresses one inventory record.
type Key struct {
	ShopID    uuid.UUID `json:"shop_id"`
	BranchID  uuid.UUID `json:"branch_id"`
	VariantID uuid.UUID `json:"variant_id"`
}

func (k Key) validate() error {
	if k.ShopID == uuid.Nil || k.BranchID == uuid.Nil || k.VariantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop, branch and variant are required")
	}
	return nil
}

// Ref ties a movement to the order line that caused it.
type Ref struct {
	OrderID     *uuid.UUID
	OrderLineID *uuid.UUID
	Note        string
}

// ReceiveInput adds stock. Serial-tracked variants must list exactly Qty
// new serial numbers.
type ReceiveInput struct {
	Key         Key
	Qty         int
	TrackSerial bool
	SerialNos   []string
	Note        string
}

// Service is the inventory ledger. Methods join the transaction the
// service is bound to through WithTx; unbound calls open their own.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Get(ctx context.Context, key Key) (*models.Inventory, error)
	Movements(ctx context.Context, key Key, limit int) ([]models.InventoryMovement, error)
	Reserve(ctx context.Context, key Key, qty int, ref Ref) error
	Release(ctx context.Context, key Key, qty int, ref Ref) error
	CommitSale(ctx context.Context, key Key, qty int, ref Ref) error
	Receive(ctx context.Context, input ReceiveInput) (*models.Inventory, error)
	Adjust(ctx context.Context, key Key, delta int, note string) (*models.Inventory, error)
	AllocateSerials(ctx context.Context, key Key, lineID uuid.UUID, serialNos []string) error
	LineSerials(ctx context.Context, lineID uuid.UUID) ([]string, error)
	ReleaseSerials(ctx context.Context, lineID uuid.UUID) error
	SellSerials(ctx context.Context, lineID uuid.UUID, expected int) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo  Repository
	tx    txRunner
	bound *gorm.DB
}

// NewService wires the ledger with its repository and transaction runner.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), tx: s.tx, bound: tx}
}

// inTx runs fn on the bound transaction, or opens one.
func (s *service) inTx(ctx context.Context, fn func(repo Repository) error) error {
	if s.bound != nil {
		return fn(s.repo)
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(s.repo.WithTx(tx))
	})
}

func (s *service) Get(ctx context.Context, key Key) (*models.Inventory, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	inv, err := s.repo.Find(ctx, key)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Inventory{ShopID: key.ShopID, BranchID: key.BranchID, VariantID: key.VariantID}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	return inv, nil
}

func (s *service) Movements(ctx context.Context, key Key, limit int) ([]models.InventoryMovement, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListMovements(ctx, key, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inventory movements")
	}
	return rows, nil
}

func validateQty(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be greater than zero").
			WithDetails(map[string]any{"qty": qty})
	}
	return nil
}

func (s *service) Reserve(ctx context.Context, key Key, qty int, ref Ref) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := validateQty(qty); err != nil {
		return err
	}

	return s.inTx(ctx, func(repo Repository) error {
		ok, err := repo.IncrementAllocated(ctx, key, qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
		}
		if !ok {
			return s.insufficient(ctx, repo, key, qty)
		}
		return appendMovement(ctx, repo, key, enums.MovementReserve, qty, ref)
	})
}

// insufficient builds the InsufficientStock error with the current
// availability. A missing inventory row counts as zero stock.
func (s *service) insufficient(ctx context.Context, repo Repository, key Key, requested int) error {
	available := 0
	inv, err := repo.Find(ctx, key)
	switch {
	case err == nil:
		available = inv.Available()
	case !stdErrors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	if available < 0 {
		available = 0
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"variant_id": key.VariantID.String(),
			"requested":  requested,
			"available":  available,
			"shortfall":  requested - available,
		})
}

func (s *service) Release(ctx context.Context, key Key, qty int, ref Ref) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := validateQty(qty); err != nil {
		return err
	}

	return s.inTx(ctx, func(repo Repository) error {
		if err := repo.DecrementAllocated(ctx, key, qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release stock")
		}
		return appendMovement(ctx, repo, key, enums.MovementRelease, qty, ref)
	})
}

func (s *service) CommitSale(ctx context.Context, key Key, qty int, ref Ref) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := validateQty(qty); err != nil {
		return err
	}

	return s.inTx(ctx, func(repo Repository) error {
		inv, err := repo.FindForUpdate(ctx, key)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return s.insufficient(ctx, repo, key, qty)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock inventory")
		}
		if inv.Allocated < qty {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "sale exceeds reserved stock").
				WithDetails(map[string]any{
					"variant_id": key.VariantID.String(),
					"requested":  qty,
					"allocated":  inv.Allocated,
				})
		}
		ok, err := repo.ConsumeAllocated(ctx, key, qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit sale")
		}
		if !ok {
			return s.insufficient(ctx, repo, key, qty)
		}
		return appendMovement(ctx, repo, key, enums.MovementSale, qty, ref)
	})
}

func (s *service) Receive(ctx context.Context, input ReceiveInput) (*models.Inventory, error) {
	if err := input.Key.validate(); err != nil {
		return nil, err
	}
	if err := validateQty(input.Qty); err != nil {
		return nil, err
	}
	serials, err := normalizeSerials(input.SerialNos)
	if err != nil {
		return nil, err
	}
	if input.TrackSerial && len(serials) != input.Qty {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "serial count must equal qty").
			WithDetails(map[string]any{"qty": input.Qty, "serials": len(serials)})
	}
	if !input.TrackSerial && len(serials) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant does not track serial numbers")
	}

	var out *models.Inventory
	err = s.inTx(ctx, func(repo Repository) error {
		if len(serials) > 0 {
			rows := make([]models.InventorySerial, 0, len(serials))
			for _, serialNo := range serials {
				rows = append(rows, models.InventorySerial{
					ID:        uuid.New(),
					ShopID:    input.Key.ShopID,
					BranchID:  input.Key.BranchID,
					VariantID: input.Key.VariantID,
					SerialNo:  serialNo,
					Status:    enums.SerialStatusOnHand,
				})
			}
			if err := repo.InsertSerials(ctx, rows); err != nil {
				if isUnique(err) {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "serial number already exists")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert serials")
			}
		}
		if err := repo.AddOnHand(ctx, input.Key, input.Qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "receive stock")
		}
		if err := appendMovement(ctx, repo, input.Key, enums.MovementReceive, input.Qty, Ref{Note: input.Note}); err != nil {
			return err
		}
		inv, err := repo.Find(ctx, input.Key)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Adjust(ctx context.Context, key Key, delta int, note string) (*models.Inventory, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment delta must not be zero")
	}

	var out *models.Inventory
	err := s.inTx(ctx, func(repo Repository) error {
		if delta > 0 {
			if err := repo.AddOnHand(ctx, key, delta); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
			}
		} else {
			ok, err := repo.AdjustOnHand(ctx, key, delta)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeValidation, "adjustment would leave on hand below allocated").
					WithDetails(map[string]any{"delta": delta})
			}
		}
		if err := appendMovement(ctx, repo, key, enums.MovementAdjust, delta, Ref{Note: note}); err != nil {
			return err
		}
		inv, err := repo.Find(ctx, key)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendMovement(ctx context.Context, repo Repository, key Key, kind enums.MovementType, qty int, ref Ref) error {
	movement := &models.InventoryMovement{
		ShopID:      key.ShopID,
		BranchID:    key.BranchID,
		VariantID:   key.VariantID,
		Type:        kind,
		Qty:         qty,
		OrderID:     ref.OrderID,
		OrderLineID: ref.OrderLineID,
	}
	if note := strings.TrimSpace(ref.Note); note != "" {
		movement.Note = &note
	}
	if err := repo.AppendMovement(ctx, movement); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append inventory movement")
	}
	return nil
}

// normalizeSerials trims serial numbers and rejects blanks and duplicates.
func normalizeSerials(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, serialNo := range raw {
		serialNo = strings.TrimSpace(serialNo)
		if serialNo == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "serial number must not be blank")
		}
		if _, dup := seen[serialNo]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate serial number").
				WithDetails(map[string]any{"serial_no": serialNo})
		}
		seen[serialNo] = struct{}{}
		out = append(out, serialNo)
	}
	return out, nil
}

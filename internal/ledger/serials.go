package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/retail-backoffice/pkg/db"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// AllocateSerials moves each unit ON_HAND -> ALLOCATED for lineID. The
// transition is a conditional update, so a unit held by another line fails
// the whole call.
func (s *service) AllocateSerials(ctx context.Context, key Key, lineID uuid.UUID, serialNos []string) error {
	if err := key.validate(); err != nil {
		return err
	}
	if lineID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order line id is required")
	}
	serials, err := normalizeSerials(serialNos)
	if err != nil {
		return err
	}
	if len(serials) == 0 {
		return nil
	}

	return s.inTx(ctx, func(repo Repository) error {
		for _, serialNo := range serials {
			ok, err := repo.MarkSerialAllocated(ctx, key, serialNo, lineID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate serial")
			}
			if !ok {
				return serialUnavailable(ctx, repo, key, serialNo)
			}
			serial, err := repo.FindSerial(ctx, key, serialNo)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load serial")
			}
			link := &models.OrderLineSerial{OrderLineID: lineID, SerialID: serial.ID, SerialNo: serialNo}
			if err := repo.InsertLineSerial(ctx, link); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link serial to line")
			}
		}
		return nil
	})
}

func serialUnavailable(ctx context.Context, repo Repository, key Key, serialNo string) error {
	serial, err := repo.FindSerial(ctx, key, serialNo)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load serial")
	}
	if serial == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "serial number not found").
			WithDetails(map[string]any{"serial_no": serialNo})
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "serial number is not available").
		WithDetails(map[string]any{"serial_no": serialNo, "status": string(serial.Status)})
}

func (s *service) LineSerials(ctx context.Context, lineID uuid.UUID) ([]string, error) {
	links, err := s.repo.ListLineSerials(ctx, lineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list line serials")
	}
	out := make([]string, 0, len(links))
	for _, link := range links {
		out = append(out, link.SerialNo)
	}
	return out, nil
}

// ReleaseSerials returns every unit allocated to lineID to ON_HAND.
func (s *service) ReleaseSerials(ctx context.Context, lineID uuid.UUID) error {
	return s.inTx(ctx, func(repo Repository) error {
		if _, err := repo.ReleaseLineSerials(ctx, lineID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release serials")
		}
		return nil
	})
}

// SellSerials moves the units of lineID ALLOCATED -> SOLD. expected is the
// line qty; a mismatch means the allocation drifted and the sale aborts.
func (s *service) SellSerials(ctx context.Context, lineID uuid.UUID, expected int) error {
	return s.inTx(ctx, func(repo Repository) error {
		sold, err := repo.SellLineSerials(ctx, lineID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sell serials")
		}
		if int(sold) != expected {
			return pkgerrors.New(pkgerrors.CodeValidation, "serial count does not match line qty").
				WithDetails(map[string]any{"order_line_id": lineID.String(), "qty": expected, "serials": sold})
		}
		return nil
	})
}

func isUnique(err error) bool {
	return db.IsUniqueViolation(err, "")
}

package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the newest envelope layout this build writes and reads.
const EnvelopeVersion = 1

// ErrEmptyData marks an envelope without a domain payload.
var ErrEmptyData = errors.New("envelope carries no data")

// ActorRef names the shop, branch and user an event was produced for.
type ActorRef struct {
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	ShopID   uuid.UUID  `json:"shop_id"`
	BranchID *uuid.UUID `json:"branch_id,omitempty"`
}

// PayloadEnvelope wraps every outbox payload. EventID doubles as the
// outbox row id and the consumers' idempotency key.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and rejects layouts newer than EnvelopeVersion.
// A missing version is read as version 1.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version == 0 {
		envelope.Version = 1
	}
	if envelope.Version > EnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("envelope version %d not supported", envelope.Version)
	}
	return envelope, nil
}

// DecodeData unmarshals the domain payload into dst.
func (e PayloadEnvelope) DecodeData(dst any) error {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyData
	}
	return json.Unmarshal(trimmed, dst)
}

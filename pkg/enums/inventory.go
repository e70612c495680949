package enums

import "fmt"

// SerialStatus is the lifecycle of a serial-tracked unit.
type SerialStatus string

const (
	SerialStatusOnHand    SerialStatus = "ON_HAND"
	SerialStatusAllocated SerialStatus = "ALLOCATED"
	SerialStatusSold      SerialStatus = "SOLD"
)

var validSerialStatuses = []SerialStatus{
	SerialStatusOnHand,
	SerialStatusAllocated,
	SerialStatusSold,
}

func (s SerialStatus) IsValid() bool {
	for _, candidate := range validSerialStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseSerialStatus(value string) (SerialStatus, error) {
	for _, candidate := range validSerialStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid serial status %q", value)
}

// MovementType classifies inventory journal entries.
type MovementType string

const (
	MovementReserve MovementType = "RESERVE"
	MovementRelease MovementType = "RELEASE"
	MovementSale    MovementType = "SALE"
	MovementReceive MovementType = "RECEIVE"
	MovementAdjust  MovementType = "ADJUST"
)

var validMovementTypes = []MovementType{
	MovementReserve,
	MovementRelease,
	MovementSale,
	MovementReceive,
	MovementAdjust,
}

func (m MovementType) IsValid() bool {
	for _, candidate := range validMovementTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

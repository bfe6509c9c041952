package enums

import (
	"fmt"
	"slices"
	"strings"
)

// MovementType maps to movement_type_enum in Postgres.
type MovementType string

const (
	MovementTypeReserve    MovementType = "RESERVE"
	MovementTypeRelease    MovementType = "RELEASE"
	MovementTypeExpire     MovementType = "EXPIRE"
	MovementTypeSale       MovementType = "SALE"
	MovementTypeAdjustment MovementType = "ADJUSTMENT"
	MovementTypeImport     MovementType = "IMPORT"
)

var movementTypes = []MovementType{
	MovementTypeReserve,
	MovementTypeRelease,
	MovementTypeExpire,
	MovementTypeSale,
	MovementTypeAdjustment,
	MovementTypeImport,
}

func (m MovementType) IsValid() bool { return slices.Contains(movementTypes, m) }

// MovementReferenceType names what a movement was caused by.
type MovementReferenceType string

const (
	ReferenceOrder       MovementReferenceType = "order"
	ReferenceReservation MovementReferenceType = "reservation"
	ReferenceAdjustment  MovementReferenceType = "adjustment"
	ReferenceImport      MovementReferenceType = "import"
)

var referenceTypes = []MovementReferenceType{
	ReferenceOrder,
	ReferenceReservation,
	ReferenceAdjustment,
	ReferenceImport,
}

func (r MovementReferenceType) IsValid() bool { return slices.Contains(referenceTypes, r) }

// ParseMovementReferenceType is used by the movement history filter.
func ParseMovementReferenceType(value string) (MovementReferenceType, error) {
	return parse(referenceTypes, value, "reference type")
}

// ActorType identifies who triggered a ledger mutation.
type ActorType string

const (
	ActorSystem  ActorType = "system"
	ActorService ActorType = "service"
	ActorUser    ActorType = "user"
)

// IsValid reports whether the value matches a known actor type.
func (a ActorType) IsValid() bool {
	switch a {
	case ActorSystem, ActorService, ActorUser:
		return true
	}
	return false
}

// ParseActorType converts a raw header or payload value into an ActorType.
func ParseActorType(value string) (ActorType, error) {
	a := ActorType(strings.ToLower(strings.TrimSpace(value)))
	if a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid actor type %q", value)
}

package enums

import "slices"

// ReservationStatus maps to reservation_status_enum in Postgres. RESERVED is
// the only non-terminal state.
type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

var reservationStatuses = []ReservationStatus{
	ReservationStatusReserved,
	ReservationStatusConfirmed,
	ReservationStatusReleased,
	ReservationStatusExpired,
}

func (s ReservationStatus) IsValid() bool { return slices.Contains(reservationStatuses, s) }

// IsTerminal reports whether no further transition is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s.IsValid() && s != ReservationStatusReserved
}

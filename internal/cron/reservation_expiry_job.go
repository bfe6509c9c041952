package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
)

// ReservationExpiryJobName is the registry name of the expiry sweeper.
const ReservationExpiryJobName = "reservation-expiry"

type staleReservationExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// ReservationExpiryJobParams configure the expiry sweeper.
type ReservationExpiryJobParams struct {
	Logger  *logger.Logger
	Expirer staleReservationExpirer
}

// NewReservationExpiryJob builds the job that reclaims holds past their
// expiry deadline.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("reservation expirer required")
	}
	return &reservationExpiryJob{logg: params.Logger, expirer: params.Expirer}, nil
}

type reservationExpiryJob struct {
	logg    *logger.Logger
	expirer staleReservationExpirer
}

func (j *reservationExpiryJob) Name() string { return ReservationExpiryJobName }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	expired, err := j.expirer.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire stale reservations (expired %d before failing): %w", expired, err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired", expired), "reservation sweep complete")
	}
	return nil
}

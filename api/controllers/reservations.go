package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/packfinderz-stock/api/middleware"
	"github.com/angelmondragon/packfinderz-stock/api/responses"
	"github.com/angelmondragon/packfinderz-stock/api/validators"
	"github.com/angelmondragon/packfinderz-stock/internal/reservations"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
)

const maxReleaseReasonLen = 64

type reserveRequest struct {
	OrderID     string               `json:"order_id" validate:"required,uuid"`
	Items       []reserveItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	HoldSeconds int                  `json:"hold_seconds,omitempty" validate:"omitempty,min=1,max=86400"`
}

type reserveItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

func (r reserveRequest) toInput() reservations.ReserveInput {
	input := reservations.ReserveInput{
		OrderID: parsedUUID(r.OrderID),
		Items:   make([]reservations.ReserveItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		input.Items = append(input.Items, reservations.ReserveItem{
			ProductID: parsedUUID(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	if r.HoldSeconds > 0 {
		input.HoldDuration = time.Duration(r.HoldSeconds) * time.Second
	}
	return input
}

type releaseRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=64"`
}

// Reserve places holds for every line of an order.
func Reserve(svc reservations.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}

		var payload reserveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := payload.toInput()
		input.Actor = middleware.ActorFromContext(r.Context())

		ctx := logg.WithOrderID(r.Context(), input.OrderID.String())
		set, err := svc.Reserve(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteCreated(w, set)
	}
}

// ConfirmOrder turns the order's active holds into sales.
func ConfirmOrder(svc reservations.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithOrderID(r.Context(), orderID.String())
		result, err := svc.Confirm(ctx, orderID, middleware.ActorFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ReleaseOrder returns every active hold of the order to available stock.
func ReleaseOrder(svc reservations.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload releaseRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithOrderID(r.Context(), orderID.String())
		reason := validators.SanitizeString(payload.Reason, maxReleaseReasonLen)
		result, err := svc.Release(ctx, orderID, reason, middleware.ActorFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ReleaseReservation releases a single hold, e.g. one cancelled order line.
func ReleaseReservation(svc reservations.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		reservationID, err := uuidParam(r, "reservationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload releaseRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reason := validators.SanitizeString(payload.Reason, maxReleaseReasonLen)
		view, err := svc.ReleaseReservation(r.Context(), reservationID, reason, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// OrderReservations lists every reservation row of an order.
func OrderReservations(svc reservations.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views, err := svc.ListByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"order_id":     orderID,
			"reservations": views,
		})
	}
}

package controllers

import (
	"net/http"

	"github.com/angelmondragon/packfinderz-stock/api/responses"
	"github.com/angelmondragon/packfinderz-stock/api/validators"
	"github.com/angelmondragon/packfinderz-stock/internal/stock"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/google/uuid"
)

type batchAvailabilityRequest struct {
	ProductIDs []string `json:"product_ids" validate:"required,min=1,max=100,dive,required,uuid"`
}

// ProductAvailability returns the aggregated sellable stock of one product.
func ProductAvailability(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		productID, err := uuidParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithProductID(r.Context(), productID.String())
		availability, err := svc.GetAvailability(ctx, productID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, availability)
	}
}

// BatchAvailability answers several products at once, in request order.
func BatchAvailability(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		var payload batchAvailabilityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ids := make([]uuid.UUID, 0, len(payload.ProductIDs))
		for _, raw := range payload.ProductIDs {
			ids = append(ids, parsedUUID(raw))
		}
		byProduct, err := svc.BatchAvailability(r.Context(), ids)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		seen := make(map[uuid.UUID]struct{}, len(ids))
		out := make([]stock.Availability, 0, len(byProduct))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if availability, ok := byProduct[id]; ok {
				out = append(out, availability)
			}
		}
		responses.WriteSuccess(w, map[string]any{"products": out})
	}
}

package order

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"ordersync/entity"
	"ordersync/internal/lib/api/cont"
	"ordersync/internal/lib/api/request"
	"ordersync/internal/lib/api/response"
	apierrors "ordersync/internal/lib/errors"
	"ordersync/internal/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// ReconcileOrder fetches one order from its shop and runs it through the
// same path as a poll cycle.
func ReconcileOrder(logger *slog.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.order.ReconcileOrder"
		requestId := middleware.GetReqID(r.Context())

		log := logger.With(
			sl.Module("http.handlers.order"),
			slog.String("op", op),
			slog.String("request_id", requestId),
			slog.String("user", cont.GetUser(r.Context()).Name),
		)

		fail := func(apiErr *apierrors.APIError) {
			w.WriteHeader(apiErr.HTTPStatus)
			render.JSON(w, r, response.ErrorFromAPIError(apiErr).WithRequestID(requestId))
		}

		req, err := request.Decode(r)
		if err != nil {
			log.Warn("failed to decode request", sl.Err(err))
			if errors.Is(err, request.ErrEmptyBody) {
				fail(apierrors.NewBadRequestError("Empty request"))
				return
			}
			fail(apierrors.NewBadRequestError("Invalid request body"))
			return
		}

		var event entity.WebhookEvent
		if err = request.DecodeAndValidateData(req, r, &event); err != nil {
			log.Warn("invalid webhook event", sl.Err(err))
			fail(apierrors.NewValidationError(err.Error()))
			return
		}

		log = log.With(
			slog.String("shop", event.Shop),
			slog.String("order_id", event.OrderId),
		)

		if err = core.ReconcileOrder(r.Context(), event.Shop, event.OrderId); err != nil {
			apiErr := mapError(err, event)
			log.With(sl.Err(err)).Error("reconcile order")
			fail(apiErr)
			return
		}

		log.Debug("order reconciled")
		render.JSON(w, r, response.OkWithMessage(event, "Order reconciled").WithRequestID(requestId))
	}
}

func mapError(err error, event entity.WebhookEvent) *apierrors.APIError {
	var malformed *entity.MalformedOrder
	var transient *entity.TransientSourceError
	switch {
	case errors.Is(err, entity.ErrUnknownShop):
		return apierrors.NewNotFoundErrorWithID("shop", event.Shop)
	case errors.As(err, &malformed):
		return apierrors.NewUnprocessableError(event.OrderId, malformed.Reason)
	case errors.As(err, &transient):
		return apierrors.NewServiceUnavailableError(event.Shop)
	case errors.Is(err, context.DeadlineExceeded):
		return apierrors.NewTimeoutError("reconcile order")
	default:
		return apierrors.WrapError(err, "Failed to reconcile order")
	}
}

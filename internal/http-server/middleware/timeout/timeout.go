package timeout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ordersync/internal/lib/api/response"
	apierrors "ordersync/internal/lib/errors"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Timeout bounds every request to the given number of seconds. A handler
// that runs out of time without writing a response gets a 504.
func Timeout(seconds int) func(next http.Handler) http.Handler {
	limit := time.Duration(seconds) * time.Second
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if ww.Status() == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				apiErr := apierrors.NewTimeoutError(r.URL.Path)
				render.Status(r, apiErr.HTTPStatus)
				render.JSON(ww, r, response.ErrorFromAPIError(apiErr))
			}
		}
		return http.HandlerFunc(fn)
	}
}

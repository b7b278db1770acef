package middleware

import (
	"net/http"

	"github.com/keyfs/keyfs/pkg/logging"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Check if request_id is already in context
		requestID := logging.GetRequestIDFromCtx(ctx)

		// If not in context, check X-Request-ID header
		if requestID == "" {
			requestID = r.Header.Get("X-Request-ID")
		}

		// If still no request_id, generate a new one
		if requestID == "" {
			ctx = logging.MakeContextWithNewRequestID(ctx)
		} else {
			ctx = logging.MakeContextWithRequestID(ctx, requestID)
		}

		r = r.WithContext(ctx)

		next.ServeHTTP(w, r)
	})
}

package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Helper functions for JSON responses and middleware

// writeJSON encodes body with the given status code
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

// errorResponse writes {success: false, error, processingTime}
func errorResponse(w http.ResponseWriter, statusCode int, errorMsg string, start time.Time) {
	if statusCode >= http.StatusInternalServerError {
		logrus.Error(errorMsg)
	} else {
		logrus.Debug(errorMsg)
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"success":        false,
		"error":          errorMsg,
		"processingTime": elapsedMillis(start),
	})
}

// elapsedMillis returns the milliseconds since start
func elapsedMillis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and duration under the route pattern
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		s.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.metrics.requestCounter.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

// limited rejects requests over the inbound rate with 429
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.rateLimit == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit.Allow() {
			errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded", time.Now())
			return
		}
		next(w, r)
	}
}

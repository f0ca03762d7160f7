package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Context keys shared with handlers.
const (
	CtxRequestID = "request_id"
	CtxError     = "error" // set by handlers that answer 500 themselves
)

// RequestLogger tags each request with an id (a client-supplied
// X-Request-ID is kept) and logs one line when it completes.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "http"))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(CtxRequestID, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			} else if herr, ok := c.Get(CtxError).(error); ok {
				err = herr
			}
			status := c.Response().Status
			fields := []zap.Field{
				zap.String("request_id", id),
				zap.String("method", req.Method),
				zap.String("route", c.Path()),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Int64("size", c.Response().Size),
				zap.String("client_ip", c.RealIP()),
				zap.String("user", userID(c)),
			}
			switch {
			case status >= 500:
				log.Error("request failed", append(fields, zap.Error(err))...)
			case status >= 400:
				log.Warn("request rejected", fields...)
			default:
				log.Info("request completed", fields...)
			}
			return nil
		}
	}
}

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					id, _ := c.Get(CtxRequestID).(string)
					log.Error("panic recovered", zap.String("request_id", id), zap.Any("panic", r), zap.Stack("stack"))
					err = c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
				}
			}()
			return next(c)
		}
	}
}

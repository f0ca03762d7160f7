package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/esign-workflow/internal/middleware"
	"github.com/iliyamo/esign-workflow/internal/model"
)

// requestTimeout bounds every handler's storage work.
const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// getUserID extracts the token subject stored by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.CtxUserID).(type) {
	case uint64:
		return t, nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// paramID parses a numeric path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	return n, err == nil && n > 0
}

// actorFrom attributes an audit event to the caller.
func actorFrom(c echo.Context, t model.ActorType, id uint64) model.Actor {
	email, _ := c.Get(middleware.CtxEmail).(string)
	req := c.Request()
	return model.Actor{
		Type:        t,
		ID:          id,
		Email:       email,
		IPAddress:   c.RealIP(),
		UserAgent:   req.UserAgent(),
		Geolocation: req.Header.Get("X-Geolocation"),
	}
}

package http

import (
	"errors"
	"net/http"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"balltickets/entity"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type requestValidator struct {
	validate *validator.Validate
}

func (v requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func statusOf(err *entity.Error) int {
	switch {
	case errors.Is(err, entity.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrLockdown):
		return http.StatusLocked
	}

	switch err.Kind {
	case entity.KindValidation:
		return http.StatusBadRequest
	case entity.KindStateConflict:
		return http.StatusConflict
	case entity.KindNotFound:
		return http.StatusNotFound
	case entity.KindSecurity:
		return http.StatusForbidden
	case entity.KindExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders engine errors with their user-facing message. Detail of
// anything else stays in the logs.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		c.Echo().DefaultHTTPErrorHandler(err, c)
		return
	}

	status := http.StatusInternalServerError
	code := "internal"

	var classified *entity.Error
	if errors.As(err, &classified) {
		status = statusOf(classified)
		code = classified.Code
	}

	logger := log.FromContext(c.Request().Context()).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Info("Request rejected")
	}

	var respErr error
	if c.Request().Method == http.MethodHead {
		respErr = c.NoContent(status)
	} else {
		respErr = c.JSON(status, errorResponse{Code: code, Message: entity.UserMessage(err)})
	}
	if respErr != nil {
		logger.WithError(respErr).Error("Could not write error response")
	}
}

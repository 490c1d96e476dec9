package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes data in the envelope with code as the HTTP status.
func DataResponse(c echo.Context, code int, data interface{}) error {
	return c.JSON(code, Envelope{Status: code, Message: http.StatusText(code), Data: data})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// AcceptedResponse acknowledges a queued trigger.
func AcceptedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusAccepted, data)
}

func BadRequestResponse(c echo.Context, fields []ValidationError) error {
	return DataResponse(c, http.StatusBadRequest, fields)
}

// AppErrorResponse renders an *AppError with its own status. Anything else is
// a 500 without detail.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

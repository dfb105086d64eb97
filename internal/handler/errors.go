package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tradeops/ledger/pkg/apperror"
	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps err to the response envelope. Unclassified errors are logged and hidden.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	if appErr, ok := apperror.As(err); ok {
		status := apperror.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.JSON(status, response.ErrorWithCode(status, string(appErr.Kind), appErr.Message, appErr.Details))
		return
	}

	log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Internal server error"))
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ErrorWithCode(http.StatusBadRequest,
		string(apperror.KindValidation), "Invalid request payload: "+err.Error(), nil))
}

// periodParams reads the :year and :month path params
func periodParams(c *gin.Context) (int, int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid year"))
		return 0, 0, false
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid month"))
		return 0, 0, false
	}
	return year, month, true
}

// queryDate parses an optional YYYY-MM-DD query param as a UTC date
func queryDate(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, key+" must be a YYYY-MM-DD date"))
		return nil, false
	}
	return &t, true
}

package http

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/quickpay/internal/apperr"
	"go.uber.org/zap"
)

type errorBody struct {
	Error *apperr.Error `json:"error"`
}

func abortWithError(c *gin.Context, e *apperr.Error) {
	c.AbortWithStatusJSON(e.Status, errorBody{Error: e})
}

// writeError renders err; anything unexpected is logged and hidden behind internal_error.
func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	e := apperr.From(err)
	if errors.Is(e, apperr.ErrInternal) {
		log.Errorw("request failed",
			"request_id", c.GetString(ctxRequestID),
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	abortWithError(c, e)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"convohub/internal/apperr"
)

func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := gin.H{"error": string(kind), "message": apperr.MessageOf(err)}
	if reason := apperr.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	c.JSON(apperr.HTTPStatus(kind), body)
}

// bindJSON answers 400 itself when the body does not decode.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(apperr.KindValidation), "message": err.Error()})
		return false
	}
	return true
}

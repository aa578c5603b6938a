package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the uniform JSON shape for non-streaming responses.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{
		Status:  "Success",
		Message: "",
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, msg string) {
	c.JSON(httpStatus, Envelope{
		Status:  "Fail",
		Message: msg,
		Data:    nil,
	})
}

package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

func parseUint64Param(c *gin.Context, name string) (uint64, error) {
	return strconv.ParseUint(c.Param(name), 10, 64)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

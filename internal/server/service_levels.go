package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetServiceLevel(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sl, err := s.serviceLevelSvc.GetByCompany(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sl})
}

func (s *Server) RenewServiceLevel(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sl, err := s.serviceLevelSvc.Renew(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sl})
}

package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	workentrydomain "github.com/smallbiznis/supportdesk/internal/workentry/domain"
)

type workEntryRequest struct {
	Minutes              int              `json:"minutes"`
	Description          string           `json:"description"`
	HourlyRate           *decimal.Decimal `json:"hourly_rate"`
	IsFromIncludedVolume bool             `json:"is_from_included_volume"`
}

type markBilledRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

func (s *Server) CreateWorkEntry(c *gin.Context) {
	ticketID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req workEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.workEntrySvc.Create(c.Request.Context(), workentrydomain.CreateRequest{
		TicketID:             ticketID,
		Minutes:              req.Minutes,
		Description:          req.Description,
		HourlyRate:           req.HourlyRate,
		IsFromIncludedVolume: req.IsFromIncludedVolume,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) GetWorkEntry(c *gin.Context) {
	entryID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entry, err := s.workEntrySvc.Get(c.Request.Context(), entryID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) ListTicketWorkEntries(c *gin.Context) {
	ticketID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.workEntrySvc.ListByTicket(c.Request.Context(), ticketID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) UpdateWorkEntry(c *gin.Context) {
	entryID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req workEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.workEntrySvc.Update(c.Request.Context(), workentrydomain.UpdateRequest{
		EntryID:              entryID,
		Minutes:              req.Minutes,
		Description:          req.Description,
		HourlyRate:           req.HourlyRate,
		IsFromIncludedVolume: req.IsFromIncludedVolume,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) DeleteWorkEntry(c *gin.Context) {
	entryID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.workEntrySvc.Delete(c.Request.Context(), entryID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) MarkWorkEntriesBilled(c *gin.Context) {
	var req markBilledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ids := make([]snowflake.ID, 0, len(req.EntryIDs))
	for _, raw := range req.EntryIDs {
		id, err := parseSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, workentrydomain.ErrInvalidEntryIDs)
			return
		}
		ids = append(ids, id)
	}

	result, err := s.workEntrySvc.MarkBilled(c.Request.Context(), ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListUnbilledWorkEntries(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.workEntrySvc.ListUnbilled(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ticketdomain "github.com/smallbiznis/supportdesk/internal/ticket/domain"
)

type createTicketRequest struct {
	CompanyID string `json:"company_id"`
	Subject   string `json:"subject"`
	Priority  string `json:"priority"`
	Content   string `json:"content"`
}

type postMessageRequest struct {
	Content        string `json:"content"`
	IsInternalNote bool   `json:"is_internal_note"`
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

type changePriorityRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) CreateTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var companyID snowflake.ID
	if strings.TrimSpace(req.CompanyID) != "" {
		parsed, err := parseSnowflakeID(req.CompanyID)
		if err != nil {
			AbortWithError(c, newValidationError("company_id", "invalid_company", "invalid company_id"))
			return
		}
		companyID = parsed
	}

	var priority ticketdomain.Priority
	if strings.TrimSpace(req.Priority) != "" {
		parsed, ok := ticketdomain.ParsePriority(req.Priority)
		if !ok {
			AbortWithError(c, ticketdomain.ErrInvalidPriority)
			return
		}
		priority = parsed
	}

	ticket, err := s.ticketSvc.Create(c.Request.Context(), ticketdomain.CreateRequest{
		CompanyID: companyID,
		Subject:   req.Subject,
		Priority:  priority,
		Content:   req.Content,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": ticket})
}

func (s *Server) GetTicket(c *gin.Context) {
	ticketID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ticket, err := s.ticketSvc.Get(c.Request.Context(), ticketID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ticket})
}

func (s *Server) ListTicketMessages(c *gin.Context) {
	ticketID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	messages, err := s.ticketSvc.ListMessages(c.Request.Context(), ticketID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": messages})
}

func (s *Server) PostTicketMessage(c *gin.Context) {
	ticketID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ticketSvc.PostMessage(c.Request.Context(), ticketdomain.PostMessageRequest{
		TicketID:       ticketID,
		Content:        req.Content,
		IsInternalNote: req.IsInternalNote,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) ChangeTicketStatus(c *gin.Context) {
	ticketID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status, ok := ticketdomain.ParseStatus(req.Status)
	if !ok {
		AbortWithError(c, ticketdomain.ErrInvalidStatus)
		return
	}

	result, err := s.ticketSvc.ChangeStatus(c.Request.Context(), ticketID, status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ChangeTicketPriority(c *gin.Context) {
	ticketID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req changePriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	priority, ok := ticketdomain.ParsePriority(req.Priority)
	if !ok {
		AbortWithError(c, ticketdomain.ErrInvalidPriority)
		return
	}

	result, err := s.ticketSvc.ChangePriority(c.Request.Context(), ticketID, priority)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

package api

import (
	"context"
	"net/http"
	"strings"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RuleStore interface {
	List(ctx context.Context, companyID uint) ([]models.AutoReplyRule, error)
	Create(ctx context.Context, rule *models.AutoReplyRule) error
	Delete(ctx context.Context, companyID, id uint) (bool, error)
}

// AutomationHandler manages tenant auto-reply rules.
type AutomationHandler struct {
	rules  RuleStore
	logger *logrus.Logger
}

func NewAutomationHandler(rules RuleStore, logger *logrus.Logger) *AutomationHandler {
	return &AutomationHandler{rules: rules, logger: logger}
}

func (h *AutomationHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/automation/rules", h.GetRules)
	r.POST("/automation/rules", h.CreateRule)
	r.DELETE("/automation/rules/:id", h.DeleteRule)
}

// GetRules returns the tenant's rules in evaluation order
func (h *AutomationHandler) GetRules(c *gin.Context) {
	companyID, err := parseID("company_id", c.Query("company_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	rules, err := h.rules.List(c.Request.Context(), companyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

type createRuleRequest struct {
	CompanyID     uint   `json:"company_id"`
	Position      int    `json:"position"`
	Keyword       string `json:"keyword"`
	MatchType     string `json:"match_type"`
	CaseSensitive bool   `json:"case_sensitive"`
	ResponseType  string `json:"response_type"`
	ResponseText  string `json:"response_text"`
	ProductID     *uint  `json:"product_id"`
	FlowID        string `json:"flow_id"`
	FlowCTA       string `json:"flow_cta"`
	Enabled       *bool  `json:"enabled"`
}

func (r *createRuleRequest) toRule() (*models.AutoReplyRule, error) {
	if r.CompanyID == 0 {
		return nil, apperrors.NewValidationError("company_id", "is required")
	}
	keyword := strings.TrimSpace(r.Keyword)
	if keyword == "" {
		return nil, apperrors.NewValidationError("keyword", "is required")
	}

	matchType := r.MatchType
	if matchType == "" {
		matchType = models.MatchExact
	}
	if matchType != models.MatchExact && matchType != models.MatchContains {
		return nil, apperrors.NewValidationError("match_type", "must be exact or contains")
	}

	switch r.ResponseType {
	case models.ResponseText:
		if strings.TrimSpace(r.ResponseText) == "" {
			return nil, apperrors.NewValidationError("response_text", "is required for text replies")
		}
	case models.ResponseProduct:
		if r.ProductID == nil || *r.ProductID == 0 {
			return nil, apperrors.NewValidationError("product_id", "is required for product replies")
		}
	case models.ResponseFlow:
		if strings.TrimSpace(r.FlowID) == "" {
			return nil, apperrors.NewValidationError("flow_id", "is required for flow replies")
		}
	case models.ResponseAllProductsPrices:
	default:
		return nil, apperrors.NewValidationError("response_type", "is not supported")
	}

	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &models.AutoReplyRule{
		CompanyID:     r.CompanyID,
		Position:      r.Position,
		Keyword:       keyword,
		MatchType:     matchType,
		CaseSensitive: r.CaseSensitive,
		ResponseType:  r.ResponseType,
		ResponseText:  r.ResponseText,
		ProductID:     r.ProductID,
		FlowID:        strings.TrimSpace(r.FlowID),
		FlowCTA:       r.FlowCTA,
		Enabled:       enabled,
	}, nil
}

// CreateRule creates a new auto-reply rule, enabled unless told otherwise
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body").
			WithUserMessage("Invalid request body"))
		return
	}
	rule, err := req.toRule()
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.rules.Create(c.Request.Context(), rule); err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"company_id": rule.CompanyID,
		"rule_id":    rule.ID,
		"type":       rule.ResponseType,
	}).Info("Auto-reply rule created")
	c.JSON(http.StatusCreated, rule)
}

// DeleteRule deletes one of the tenant's rules
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	companyID, err := parseID("company_id", c.Query("company_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	id, err := parseID("id", c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	deleted, err := h.rules.Delete(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		respondError(c, apperrors.NewNotFoundError("rule", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

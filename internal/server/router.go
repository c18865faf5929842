package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/metrics"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/records"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const accountContextKey = "fieldlog_account"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAccountResolver  = errors.New("account resolver dependency required")
	errMissingRecordService    = errors.New("record service dependency required")
)

// SessionValidator authenticates API requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// AccountResolver maps validated claims to the account and its rights.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, claims auth.SessionClaims) (accounts.Account, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions       SessionValidator
	Accounts       AccountResolver
	Records        *records.Service
	Changes        *ChangeFeed
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the JSON API served to devices.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountResolver
	}
	if deps.Records == nil {
		return nil, errMissingRecordService
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	changes := deps.Changes
	if changes == nil {
		changes = NewChangeFeed(0)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(recordRequestMetrics)
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions: deps.Sessions,
		accounts: deps.Accounts,
		records:  deps.Records,
		changes:  changes,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/queries/:entity", handler.handleQuery)
	protected.POST("/mutations/:operation", handler.handleMutation)
	protected.GET("/changes", handler.handleChangeStream)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func recordRequestMetrics(c *gin.Context) {
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status())
}

type httpHandler struct {
	sessions SessionValidator
	accounts AccountResolver
	records  *records.Service
	changes  *ChangeFeed
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, "auth.unauthorized", "unauthorized")
		return
	}
	account, err := h.accounts.ResolveAccount(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidIdentity) || errors.Is(err, accounts.ErrUnknownPerson) {
			h.logger.Warn("account resolution rejected", zap.Int64("person_id", claims.PersonID), zap.Error(err))
			abortWithError(c, http.StatusUnauthorized, "auth.unknown_person", "unauthorized")
			return
		}
		h.logger.Error("account resolution failed", zap.Int64("person_id", claims.PersonID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "auth.account_failed", "account lookup failed")
		return
	}
	c.Set(accountContextKey, account)
	c.Next()
}

func (h *httpHandler) handleQuery(c *gin.Context) {
	entityName := c.Param("entity")
	var request api.QueryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, "request.invalid_body", err.Error())
		return
	}
	page, err := h.records.Query(c.Request.Context(), entityName, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := encodeAll(page.Data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.QueryResponse{Data: data, Total: page.Total})
}

func (h *httpHandler) handleMutation(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "auth.unauthorized", "unauthorized")
		return
	}
	operation := strings.ToLower(c.Param("operation"))
	var request api.MutationRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.EntityName) == "" {
		abortWithError(c, http.StatusBadRequest, "request.invalid_body", "entityName is required")
		return
	}
	ctx := c.Request.Context()

	var (
		result []entities.Entity
		err    error
	)
	switch operation {
	case api.OperationSave:
		var incoming []entities.Entity
		incoming, err = h.decodeAll(request)
		if err == nil {
			result, err = h.records.Save(ctx, account, request.EntityName, incoming)
		}
	case api.OperationDelete:
		result, err = h.records.Delete(ctx, account, request.EntityName, request.IDs)
	case api.OperationTerminate, api.OperationValidate, api.OperationUnvalidate, api.OperationQualify, api.OperationUnqualify:
		var incoming []entities.Entity
		incoming, err = h.decodeAll(request)
		if err == nil && len(incoming) != 1 {
			err = errors.Join(records.ErrInvalidInput, errors.New("exactly one entity is required"))
		}
		if err == nil {
			var transitioned entities.Entity
			transitioned, err = h.records.Transition(ctx, account, operation, incoming[0], request.QualityFlagID)
			result = []entities.Entity{transitioned}
		}
	default:
		abortWithError(c, http.StatusNotFound, "request.unknown_operation", operation)
		return
	}
	metrics.RecordMutation(request.EntityName, operation, metrics.Outcome(err))
	if err != nil {
		h.respondError(c, err)
		return
	}

	data, err := encodeAll(result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.changes.Publish(ChangeMessage{
		EntityName: request.EntityName,
		Operation:  operation,
		IDs:        idsOf(result),
		Timestamp:  time.Now().UTC(),
	})
	c.JSON(http.StatusOK, api.MutationResponse{Data: data})
}

func (h *httpHandler) decodeAll(request api.MutationRequest) ([]entities.Entity, error) {
	decoded := make([]entities.Entity, 0, len(request.Entities))
	for _, raw := range request.Entities {
		entity, err := h.records.Decode(request.EntityName, raw)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, entity)
	}
	return decoded, nil
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusOf(err)
	code := "request.failed"
	var serviceErr *records.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", zap.String("route", c.FullPath()), zap.String("code", code), zap.Error(err))
		abortWithError(c, status, code, "internal error")
		return
	}
	abortWithError(c, status, code, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, records.ErrUnknownEntity), errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, records.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, api.ErrorResponse{Code: code, Message: message})
}

func currentAccount(c *gin.Context) (accounts.Account, bool) {
	value, ok := c.Get(accountContextKey)
	if !ok {
		return accounts.Account{}, false
	}
	account, ok := value.(accounts.Account)
	return account, ok
}

func encodeAll(data []entities.Entity) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(data))
	for _, entity := range data {
		raw, err := entities.Marshal(entity)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func idsOf(data []entities.Entity) []int64 {
	ids := make([]int64, 0, len(data))
	for _, entity := range data {
		if id, ok := entities.IDOf(entity); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

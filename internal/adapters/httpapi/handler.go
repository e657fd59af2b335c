// Package httpapi exposes the knowledge base service over HTTP using gin.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"medkb/internal/core"
	"medkb/pkg/domain"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	svc      *core.Service
	logger   *zap.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithGatherer serves /metrics from g. Without one the route is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// NewHandler constructs a handler over svc.
func NewHandler(svc *core.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter builds a gin engine with recovery, request logging and every route.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())
	h.Register(router)
	return router
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	v1 := r.Group("/api/v1")
	v1.GET("/status", h.handleStatus)
	v1.POST("/reload", h.handleReload)
	v1.GET("/validate", h.handleValidate)
	v1.GET("/unparsed", h.handleUnparsed)
	v1.POST("/infer", h.handleInfer)
	v1.POST("/infer/batch", h.handleInferBatch)

	v1.GET("/symptoms", h.handleListSymptoms)
	v1.POST("/symptoms", h.handleAddSymptom)
	v1.PUT("/symptoms/:name", h.handleRenameSymptom)
	v1.DELETE("/symptoms/:name", h.handleDeleteSymptom)

	v1.GET("/diseases", h.handleListDiseases)
	v1.POST("/diseases", h.handleAddDisease)
	v1.GET("/diseases/:id", h.handleGetDisease)
	v1.PUT("/diseases/:id", h.handleEditDisease)
	v1.DELETE("/diseases/:id", h.handleDeleteDisease)
	v1.GET("/diseases/:id/support", h.handleSupport)

	v1.GET("/rules", h.handleListRules)
	v1.POST("/rules", h.handleAddRule)
	v1.GET("/rules/:id", h.handleGetRule)
	v1.PUT("/rules/:id", h.handleEditRule)
	v1.DELETE("/rules/:id", h.handleDeleteRule)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		h.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string                   `json:"error"`
	Code   string                   `json:"code"`
	Report *domain.ValidationReport `json:"report,omitempty"`
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, resp := http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"}
	var rejected domain.MutationRejectedError
	var invalid domain.InvalidKnowledgeBaseError
	switch {
	case errors.As(err, &rejected):
		status, resp.Code = http.StatusConflict, "MUTATION_REJECTED"
		if len(rejected.Report.Errors)+len(rejected.Report.Warnings) > 0 {
			resp.Report = &rejected.Report
		}
	case errors.As(err, &invalid):
		status, resp.Code = http.StatusServiceUnavailable, "KNOWLEDGE_BASE_INVALID"
		resp.Report = &invalid.Report
	case errors.Is(err, domain.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrNotLoaded):
		status, resp.Code = http.StatusServiceUnavailable, "NOT_LOADED"
	case errors.Is(err, domain.ErrMalformed):
		status, resp.Code = http.StatusBadRequest, "MALFORMED"
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
}

func (h *Handler) handleStatus(c *gin.Context) {
	summary, err := h.svc.Summary()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) handleReload(c *gin.Context) {
	summary, err := h.svc.Reload(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) handleValidate(c *gin.Context) {
	report, err := h.svc.Validate(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": report.Status(), "report": report})
}

func (h *Handler) handleUnparsed(c *gin.Context) {
	out, err := h.svc.Unparsed()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

// InferRequest is the body of POST /infer.
type InferRequest struct {
	Symptoms []string `json:"symptoms" binding:"required"`
}

func (h *Handler) handleInfer(c *gin.Context) {
	var req InferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.svc.Infer(c.Request.Context(), req.Symptoms)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": out})
}

// InferBatchRequest is the body of POST /infer/batch.
type InferBatchRequest struct {
	Batches [][]string `json:"batches" binding:"required"`
}

func (h *Handler) handleInferBatch(c *gin.Context) {
	var req InferBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.svc.InferBatch(c.Request.Context(), req.Batches)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (h *Handler) handleSupport(c *gin.Context) {
	out, err := h.svc.SupportFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleListSymptoms(c *gin.Context) {
	out, err := h.svc.Symptoms()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symptoms": out})
}

// SymptomRequest names a symptom.
type SymptomRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) handleAddSymptom(c *gin.Context) {
	var req SymptomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, res, err := h.svc.AddSymptom(c.Request.Context(), req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"symptom": key, "result": res})
}

func (h *Handler) handleRenameSymptom(c *gin.Context) {
	var req SymptomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, res, err := h.svc.RenameSymptom(c.Request.Context(), c.Param("name"), req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symptom": key, "result": res})
}

func (h *Handler) handleDeleteSymptom(c *gin.Context) {
	res, err := h.svc.DeleteSymptom(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (h *Handler) handleListDiseases(c *gin.Context) {
	var (
		out []domain.Disease
		err error
	)
	switch {
	case c.Query("symptom") != "":
		out, err = h.svc.DiseasesBySymptom(c.Query("symptom"))
	case c.Query("q") != "":
		out, err = h.svc.SearchDiseases(c.Query("q"))
	default:
		out, err = h.svc.Diseases()
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diseases": out})
}

func (h *Handler) handleGetDisease(c *gin.Context) {
	out, err := h.svc.Disease(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DiseaseRequest creates a disease. RegisterSymptoms adds unknown symptoms to
// the registry in the same transaction.
type DiseaseRequest struct {
	ID               string   `json:"id"`
	Name             string   `json:"name" binding:"required"`
	Description      string   `json:"description"`
	Symptoms         []string `json:"symptoms"`
	Diagnostics      []string `json:"diagnostics"`
	Treatment        []string `json:"treatment"`
	References       string   `json:"references"`
	RegisterSymptoms bool     `json:"register_symptoms"`
}

func registerOption(register bool) []core.AddOption {
	if register {
		return []core.AddOption{core.RegisterSymptoms()}
	}
	return nil
}

func (h *Handler) handleAddDisease(c *gin.Context) {
	var req DiseaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	created, res, err := h.svc.AddDisease(c.Request.Context(), domain.Disease{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Symptoms:    req.Symptoms,
		Diagnostics: req.Diagnostics,
		Treatment:   req.Treatment,
		References:  req.References,
	}, registerOption(req.RegisterSymptoms)...)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"disease": created, "result": res})
}

// DiseasePatch updates the fields that are present.
type DiseasePatch struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Symptoms    *[]string `json:"symptoms"`
	Diagnostics *[]string `json:"diagnostics"`
	Treatment   *[]string `json:"treatment"`
	References  *string   `json:"references"`
}

func (p DiseasePatch) apply(d *domain.Disease) error {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Symptoms != nil {
		d.Symptoms = *p.Symptoms
	}
	if p.Diagnostics != nil {
		d.Diagnostics = *p.Diagnostics
	}
	if p.Treatment != nil {
		d.Treatment = *p.Treatment
	}
	if p.References != nil {
		d.References = *p.References
	}
	return nil
}

func (h *Handler) handleEditDisease(c *gin.Context) {
	var patch DiseasePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	updated, res, err := h.svc.EditDisease(c.Request.Context(), c.Param("id"), patch.apply)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disease": updated, "result": res})
}

func (h *Handler) handleDeleteDisease(c *gin.Context) {
	policy := core.RejectIfReferenced
	if raw := c.Query("cascade"); raw != "" {
		cascade, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		if cascade {
			policy = core.CascadeRules
		}
	}
	res, err := h.svc.DeleteDisease(c.Request.Context(), c.Param("id"), policy)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (h *Handler) handleListRules(c *gin.Context) {
	out, err := h.svc.Rules()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

func (h *Handler) handleGetRule(c *gin.Context) {
	out, err := h.svc.Rule(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// RuleRequest creates a rule; its id is assigned by the server.
// RegisterSymptoms adds unknown antecedent symptoms to the registry in the
// same transaction.
type RuleRequest struct {
	IfSymptoms       []string `json:"if_symptoms" binding:"required"`
	ThenDiseaseID    string   `json:"then_disease_id" binding:"required"`
	Confidence       *float64 `json:"confidence" binding:"required"`
	RegisterSymptoms bool     `json:"register_symptoms"`
}

func (h *Handler) handleAddRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	created, res, err := h.svc.AddRule(c.Request.Context(), domain.Rule{
		IfSymptoms:    req.IfSymptoms,
		ThenDiseaseID: req.ThenDiseaseID,
		Confidence:    *req.Confidence,
	}, registerOption(req.RegisterSymptoms)...)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule": created, "result": res})
}

// RulePatch updates the fields that are present.
type RulePatch struct {
	IfSymptoms    *[]string `json:"if_symptoms"`
	ThenDiseaseID *string   `json:"then_disease_id"`
	Confidence    *float64  `json:"confidence"`
}

func (p RulePatch) apply(r *domain.Rule) error {
	if p.IfSymptoms != nil {
		r.IfSymptoms = *p.IfSymptoms
	}
	if p.ThenDiseaseID != nil {
		r.ThenDiseaseID = *p.ThenDiseaseID
	}
	if p.Confidence != nil {
		r.Confidence = *p.Confidence
	}
	return nil
}

func (h *Handler) handleEditRule(c *gin.Context) {
	var patch RulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	updated, res, err := h.svc.EditRule(c.Request.Context(), c.Param("id"), patch.apply)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": updated, "result": res})
}

func (h *Handler) handleDeleteRule(c *gin.Context) {
	res, err := h.svc.DeleteRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// Package http exposes the allocation core over a JSON API. Handlers parse
// and validate transport concerns, call the usecase services, and map domain
// errors to status codes; no business rules live here.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/metrics"
	"github.com/brightperks/points-backend/internal/usecase/budget"
	"github.com/brightperks/points-backend/internal/usecase/engine"
	"github.com/brightperks/points-backend/internal/usecase/integrity"
	"github.com/brightperks/points-backend/internal/usecase/preview"
	"github.com/brightperks/points-backend/internal/usecase/registry"
	"github.com/brightperks/points-backend/internal/usecase/workflow"
)

// Server wires the usecase services to the HTTP surface
type Server struct {
	Preview   *preview.Service
	Workflow  *workflow.Service
	Budgets   *budget.Service
	Registry  *registry.Service
	Engine    *engine.Engine
	Integrity *integrity.Checker
	Transfers domain.TransferRepository
	Metrics   *metrics.Metrics
	Log       *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(
	previewSvc *preview.Service,
	workflowSvc *workflow.Service,
	budgetSvc *budget.Service,
	registrySvc *registry.Service,
	eng *engine.Engine,
	checker *integrity.Checker,
	transfers domain.TransferRepository,
	m *metrics.Metrics,
	log *logrus.Logger,
) *Server {
	return &Server{
		Preview:   previewSvc,
		Workflow:  workflowSvc,
		Budgets:   budgetSvc,
		Registry:  registrySvc,
		Engine:    eng,
		Integrity: checker,
		Transfers: transfers,
		Metrics:   m,
		Log:       log,
	}
}

// Router builds the gin engine with all routes registered
func (s *Server) Router(apiToken string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.Log))

	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1", AuthRequired(apiToken))
	{
		v1.POST("/previews/allocate", s.previewAllocate)
		v1.POST("/previews/fanout", s.previewFanOut)
		v1.POST("/previews/recall", s.previewRecall)

		v1.POST("/allocations", s.allocate)
		v1.POST("/distributions", s.distribute)
		v1.POST("/recalls", s.recall)
		v1.POST("/funding", s.fundPlatform)
		v1.POST("/transfers/:id/reverse", s.reverseTransfer)

		v1.POST("/pools", s.createPool)
		v1.GET("/pools", s.listPools)
		v1.GET("/pools/:id", s.getPool)
		v1.GET("/pools/:id/transfers", s.listPoolTransfers)
		v1.GET("/pools/:id/verify", s.verifyPool)
		v1.POST("/pools/:id/freeze", s.freezePool)
		v1.POST("/pools/:id/unfreeze", s.unfreezePool)
		v1.POST("/tenants/:id/freeze", s.freezeTenant)
		v1.POST("/tenants/:id/unfreeze", s.unfreezeTenant)

		v1.POST("/budgets", s.createBudget)
		v1.GET("/budgets/:id", s.getBudget)
		v1.PATCH("/budgets/:id", s.updateBudget)
		v1.DELETE("/budgets/:id", s.discardBudget)
		v1.POST("/budgets/:id/activate", s.activateBudget)
		v1.POST("/budgets/:id/close", s.closeBudget)
		v1.POST("/budgets/:id/allocations", s.registerDepartment)
		v1.GET("/budgets/:id/allocations", s.listBudgetAllocations)
		v1.PUT("/budgets/:id/allocations/:dept/cap", s.setMonthlyCap)
	}

	return router
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/usecase/budget"
	"github.com/brightperks/points-backend/internal/usecase/preview"
	"github.com/brightperks/points-backend/internal/usecase/registry"
	"github.com/brightperks/points-backend/internal/usecase/workflow"
)

// ---- shared DTOs ----

type selectorRequest struct {
	Kind       string    `json:"kind" binding:"required"`
	TargetID   uuid.UUID `json:"target_id" binding:"required"`
	OnlyActive bool      `json:"only_active"`
}

func (r selectorRequest) toDomain() domain.RecipientSelector {
	return domain.RecipientSelector{
		Kind:       domain.SelectorKind(r.Kind),
		TargetID:   r.TargetID,
		OnlyActive: r.OnlyActive,
	}
}

type recallSpecRequest struct {
	Kind    string          `json:"kind" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

func (r recallSpecRequest) toDomain() domain.RecallSpec {
	return domain.RecallSpec{
		Kind:    domain.RecallKind(r.Kind),
		Amount:  r.Amount,
		Percent: r.Percent,
	}
}

type transferResponse struct {
	ID                  uuid.UUID       `json:"id"`
	FromPoolID          uuid.UUID       `json:"from_pool_id"`
	ToPoolID            uuid.UUID       `json:"to_pool_id"`
	Amount              decimal.Decimal `json:"amount"`
	CurrencyRateApplied decimal.Decimal `json:"currency_rate_applied"`
	FromBalanceAfter    decimal.Decimal `json:"from_balance_after"`
	ToBalanceAfter      decimal.Decimal `json:"to_balance_after"`
	WorkflowRef         string          `json:"workflow_ref"`
	CreatedAt           time.Time       `json:"created_at"`
	Replayed            bool            `json:"replayed"`
}

func toTransferResponse(result *domain.TransferResult) transferResponse {
	return transferResponse{
		ID:                  result.Transfer.ID,
		FromPoolID:          result.Transfer.FromPoolID,
		ToPoolID:            result.Transfer.ToPoolID,
		Amount:              result.Transfer.Amount,
		CurrencyRateApplied: result.Transfer.CurrencyRateApplied,
		FromBalanceAfter:    result.Transfer.FromBalanceAfter,
		ToBalanceAfter:      result.Transfer.ToBalanceAfter,
		WorkflowRef:         result.Transfer.WorkflowRef,
		CreatedAt:           result.Transfer.CreatedAt,
		Replayed:            result.Replayed,
	}
}

// transferStatus returns 200 for an idempotent replay, 201 for a new commit
func transferStatus(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

type previewResponse struct {
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PerRecipientAmount decimal.Decimal `json:"per_recipient_amount"`
	RecipientCount     int             `json:"recipient_count"`
	PoolBalanceAfter   decimal.Decimal `json:"pool_balance_after"`
	SufficientFunds    bool            `json:"sufficient_funds"`
}

func toPreviewResponse(result *preview.Result) previewResponse {
	return previewResponse{
		TotalAmount:        result.TotalAmount,
		PerRecipientAmount: result.PerRecipientAmount,
		RecipientCount:     result.RecipientCount,
		PoolBalanceAfter:   result.PoolBalanceAfter,
		SufficientFunds:    result.SufficientFunds,
	}
}

type poolResponse struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  *uuid.UUID      `json:"tenant_id,omitempty"`
	Name      string          `json:"name"`
	PoolType  domain.PoolType `json:"pool_type"`
	Status    string          `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

func toPoolResponse(pool *domain.Pool) poolResponse {
	return poolResponse{
		ID:        pool.ID,
		TenantID:  pool.TenantID,
		Name:      pool.Name,
		PoolType:  pool.PoolType,
		Status:    string(pool.Status),
		Balance:   pool.Balance,
		CreatedAt: pool.CreatedAt,
	}
}

type budgetResponse struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Name          string          `json:"name"`
	FiscalYear    int             `json:"fiscal_year"`
	FiscalQuarter *int            `json:"fiscal_quarter,omitempty"`
	TotalPoints   decimal.Decimal `json:"total_points"`
	Status        string          `json:"status"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toBudgetResponse(b *domain.Budget) budgetResponse {
	return budgetResponse{
		ID:            b.ID,
		TenantID:      b.TenantID,
		Name:          b.Name,
		FiscalYear:    b.FiscalYear,
		FiscalQuarter: b.FiscalQuarter,
		TotalPoints:   b.TotalPoints,
		Status:        string(b.Status),
		ExpiryDate:    b.ExpiryDate,
		CreatedAt:     b.CreatedAt,
	}
}

type allocationResponse struct {
	BudgetID         uuid.UUID        `json:"budget_id"`
	DepartmentPoolID uuid.UUID        `json:"department_pool_id"`
	AllocatedPoints  decimal.Decimal  `json:"allocated_points"`
	SpentPoints      decimal.Decimal  `json:"spent_points"`
	MonthlyCap       *decimal.Decimal `json:"monthly_cap,omitempty"`
}

func toAllocationResponse(a *domain.BudgetAllocation) allocationResponse {
	return allocationResponse{
		BudgetID:         a.BudgetID,
		DepartmentPoolID: a.DepartmentPoolID,
		AllocatedPoints:  a.AllocatedPoints,
		SpentPoints:      a.SpentPoints,
		MonthlyCap:       a.MonthlyCap,
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "VALIDATION", Message: err.Error()}})
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, err)
		return uuid.Nil, false
	}
	return id, true
}

// ---- preview handlers ----

func (s *Server) previewAllocate(c *gin.Context) {
	var req struct {
		ParentPoolID uuid.UUID       `json:"parent_pool_id" binding:"required"`
		ChildPoolID  uuid.UUID       `json:"child_pool_id" binding:"required"`
		Amount       decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Preview.PreviewAllocate(c.Request.Context(), req.ParentPoolID, req.ChildPoolID, req.Amount)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPreviewResponse(result))
}

func (s *Server) previewFanOut(c *gin.Context) {
	var req struct {
		ParentPoolID       uuid.UUID       `json:"parent_pool_id" binding:"required"`
		Selector           selectorRequest `json:"selector" binding:"required"`
		PerRecipientAmount decimal.Decimal `json:"per_recipient_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, recipients, err := s.Preview.PreviewFanOut(c.Request.Context(), req.ParentPoolID, req.Selector.toDomain(), req.PerRecipientAmount)
	if err != nil {
		mapError(c, err)
		return
	}

	// Recipients are returned so the commit can fail closed if the set
	// changes in between.
	c.JSON(http.StatusOK, gin.H{
		"preview":    toPreviewResponse(result),
		"recipients": recipients,
	})
}

func (s *Server) previewRecall(c *gin.Context) {
	var req struct {
		ChildPoolID uuid.UUID         `json:"child_pool_id" binding:"required"`
		Spec        recallSpecRequest `json:"spec" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Preview.PreviewRecall(c.Request.Context(), req.ChildPoolID, req.Spec.toDomain())
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPreviewResponse(result))
}

// ---- workflow handlers ----

func (s *Server) allocate(c *gin.Context) {
	var req struct {
		ParentPoolID   uuid.UUID       `json:"parent_pool_id" binding:"required"`
		ChildPoolID    uuid.UUID       `json:"child_pool_id" binding:"required"`
		Amount         decimal.Decimal `json:"amount"`
		IdempotencyKey string          `json:"idempotency_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Workflow.Allocate(c.Request.Context(), workflow.AllocateInput{
		ParentPoolID:   req.ParentPoolID,
		ChildPoolID:    req.ChildPoolID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		ActorRole:      actorRole(c),
	})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(transferStatus(result.Replayed), toTransferResponse(result))
}

func (s *Server) distribute(c *gin.Context) {
	var req struct {
		ParentPoolID       uuid.UUID       `json:"parent_pool_id" binding:"required"`
		Selector           selectorRequest `json:"selector" binding:"required"`
		PerRecipientAmount decimal.Decimal `json:"per_recipient_amount"`
		IdempotencyKey     string          `json:"idempotency_key" binding:"required"`
		SnapshotRecipients []uuid.UUID     `json:"snapshot_recipients"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Workflow.FanOutDistribute(c.Request.Context(), workflow.FanOutInput{
		ParentPoolID:       req.ParentPoolID,
		Selector:           req.Selector.toDomain(),
		PerRecipientAmount: req.PerRecipientAmount,
		IdempotencyKey:     req.IdempotencyKey,
		ActorRole:          actorRole(c),
		SnapshotRecipients: req.SnapshotRecipients,
	})
	if err != nil {
		mapError(c, err)
		return
	}

	c.JSON(transferStatus(result.Replayed), gin.H{
		"workflow_ref":         result.WorkflowRef,
		"credited_count":       result.CreditedCount,
		"total_amount":         result.TotalAmount,
		"parent_balance_after": result.ParentBalanceAfter,
		"replayed":             result.Replayed,
	})
}

func (s *Server) recall(c *gin.Context) {
	var req struct {
		ChildPoolID    uuid.UUID         `json:"child_pool_id" binding:"required"`
		ParentPoolID   uuid.UUID         `json:"parent_pool_id" binding:"required"`
		Spec           recallSpecRequest `json:"spec" binding:"required"`
		IdempotencyKey string            `json:"idempotency_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Workflow.Recall(c.Request.Context(), workflow.RecallInput{
		ChildPoolID:    req.ChildPoolID,
		ParentPoolID:   req.ParentPoolID,
		Spec:           req.Spec.toDomain(),
		IdempotencyKey: req.IdempotencyKey,
		ActorRole:      actorRole(c),
	})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(transferStatus(result.Replayed), toTransferResponse(result))
}

func (s *Server) fundPlatform(c *gin.Context) {
	var req struct {
		Amount         decimal.Decimal `json:"amount"`
		IdempotencyKey string          `json:"idempotency_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Engine.FundPlatform(c.Request.Context(), req.Amount, req.IdempotencyKey)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(transferStatus(result.Replayed), toTransferResponse(result))
}

func (s *Server) reverseTransfer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		IdempotencyKey string `json:"idempotency_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Engine.Reverse(c.Request.Context(), id, req.IdempotencyKey)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(transferStatus(result.Replayed), toTransferResponse(result))
}

// ---- pool handlers ----

func (s *Server) createPool(c *gin.Context) {
	var req struct {
		TenantID *uuid.UUID `json:"tenant_id"`
		Name     string     `json:"name" binding:"required"`
		PoolType string     `json:"pool_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pool, err := s.Registry.CreatePool(c.Request.Context(), registry.CreatePoolInput{
		TenantID: req.TenantID,
		Name:     req.Name,
		PoolType: domain.PoolType(req.PoolType),
	})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPoolResponse(pool))
}

func (s *Server) listPools(c *gin.Context) {
	pools, err := s.Registry.List(c.Request.Context(), domain.PoolType(c.Query("type")))
	if err != nil {
		mapError(c, err)
		return
	}

	out := make([]poolResponse, 0, len(pools))
	for _, pool := range pools {
		out = append(out, toPoolResponse(pool))
	}
	c.JSON(http.StatusOK, gin.H{"pools": out})
}

func (s *Server) getPool(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	pool, err := s.Registry.Get(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPoolResponse(pool))
}

func (s *Server) listPoolTransfers(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	// Existence check so an unknown pool is a 404, not an empty page
	if _, err := s.Registry.Get(c.Request.Context(), id); err != nil {
		mapError(c, err)
		return
	}

	transfers, err := s.Transfers.ListForPool(c.Request.Context(), id, limit, offset)
	if err != nil {
		mapError(c, err)
		return
	}
	total, err := s.Transfers.CountForPool(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}

	out := make([]transferResponse, 0, len(transfers))
	for _, transfer := range transfers {
		out = append(out, toTransferResponse(&domain.TransferResult{Transfer: *transfer}))
	}
	c.JSON(http.StatusOK, gin.H{
		"transfers": out,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) verifyPool(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.Integrity.VerifyPool(c.Request.Context(), id); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pool_id": id, "status": "verified"})
}

func (s *Server) freezePool(c *gin.Context) {
	s.poolTransition(c, s.Registry.Freeze)
}

func (s *Server) unfreezePool(c *gin.Context) {
	s.poolTransition(c, s.Registry.Unfreeze)
}

func (s *Server) poolTransition(c *gin.Context, fn func(ctx context.Context, id uuid.UUID) error) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := fn(c.Request.Context(), id); err != nil {
		mapError(c, err)
		return
	}
	pool, err := s.Registry.Get(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPoolResponse(pool))
}

func (s *Server) freezeTenant(c *gin.Context) {
	s.tenantTransition(c, s.Registry.FreezeTenant)
}

func (s *Server) unfreezeTenant(c *gin.Context) {
	s.tenantTransition(c, s.Registry.UnfreezeTenant)
}

func (s *Server) tenantTransition(c *gin.Context, fn func(ctx context.Context, tenantID uuid.UUID) (int, error)) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	changed, err := fn(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": id, "pools_changed": changed})
}

// ---- budget handlers ----

func (s *Server) createBudget(c *gin.Context) {
	var req struct {
		TenantID      uuid.UUID       `json:"tenant_id" binding:"required"`
		Name          string          `json:"name" binding:"required"`
		FiscalYear    int             `json:"fiscal_year" binding:"required"`
		FiscalQuarter *int            `json:"fiscal_quarter"`
		TotalPoints   decimal.Decimal `json:"total_points"`
		ExpiryDate    time.Time       `json:"expiry_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := s.Budgets.CreateDraft(c.Request.Context(), budget.CreateDraftInput{
		TenantID:      req.TenantID,
		Name:          req.Name,
		FiscalYear:    req.FiscalYear,
		FiscalQuarter: req.FiscalQuarter,
		TotalPoints:   req.TotalPoints,
		ExpiryDate:    req.ExpiryDate,
	})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBudgetResponse(created))
}

func (s *Server) getBudget(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	b, err := s.Budgets.Get(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBudgetResponse(b))
}

func (s *Server) updateBudget(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Name          string          `json:"name" binding:"required"`
		FiscalYear    int             `json:"fiscal_year" binding:"required"`
		FiscalQuarter *int            `json:"fiscal_quarter"`
		TotalPoints   decimal.Decimal `json:"total_points"`
		ExpiryDate    time.Time       `json:"expiry_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	updated, err := s.Budgets.UpdateDraft(c.Request.Context(), id, budget.UpdateDraftInput{
		Name:          req.Name,
		FiscalYear:    req.FiscalYear,
		FiscalQuarter: req.FiscalQuarter,
		TotalPoints:   req.TotalPoints,
		ExpiryDate:    req.ExpiryDate,
	})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBudgetResponse(updated))
}

func (s *Server) discardBudget(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.Budgets.DiscardDraft(c.Request.Context(), id); err != nil {
		mapError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) activateBudget(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	b, err := s.Budgets.Activate(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBudgetResponse(b))
}

func (s *Server) closeBudget(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	b, err := s.Budgets.Close(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBudgetResponse(b))
}

func (s *Server) registerDepartment(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		DepartmentPoolID uuid.UUID        `json:"department_pool_id" binding:"required"`
		MonthlyCap       *decimal.Decimal `json:"monthly_cap"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	allocation, err := s.Budgets.RegisterDepartment(c.Request.Context(), id, req.DepartmentPoolID, req.MonthlyCap)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAllocationResponse(allocation))
}

func (s *Server) listBudgetAllocations(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	allocations, err := s.Budgets.ListAllocations(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}

	out := make([]allocationResponse, 0, len(allocations))
	for _, allocation := range allocations {
		out = append(out, toAllocationResponse(allocation))
	}
	c.JSON(http.StatusOK, gin.H{"allocations": out})
}

func (s *Server) setMonthlyCap(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	dept, ok := parseIDParam(c, "dept")
	if !ok {
		return
	}

	var req struct {
		MonthlyCap *decimal.Decimal `json:"monthly_cap"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := s.Budgets.SetMonthlyCap(c.Request.Context(), id, dept, req.MonthlyCap); err != nil {
		mapError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

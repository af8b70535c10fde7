package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/auth"
	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/finalize"
	"github.com/behzadon/gather/internal/metrics"
	"github.com/behzadon/gather/internal/service"
)

type Handler struct {
	service     service.Service
	logger      *zap.Logger
	rateLimiter *RateLimiter
}

// NewHandler builds the HTTP adapter. A nil redis client disables rate limiting.
func NewHandler(service service.Service, redis RedisClient, limits RateLimitConfig, logger *zap.Logger) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
	}
	if redis != nil {
		h.rateLimiter = NewRateLimiter(redis, limits, logger)
	}
	return h
}

func (h *Handler) limited() []gin.HandlerFunc {
	if h.rateLimiter == nil {
		return nil
	}
	return []gin.HandlerFunc{h.rateLimiter.RateLimit(), h.rateLimiter.BurstLimit()}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, tokens auth.TokenManager) {
	r.Use(metrics.MetricsMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(auth.AuthMiddleware(tokens, h.logger))
	api.Use(h.limited()...)
	{
		api.POST("/events/:eventId/polls", h.createPoll)
		api.GET("/events/:eventId/polls", h.listPolls)

		api.GET("/polls/:id", h.getPoll)
		api.DELETE("/polls/:id", h.deletePoll)
		api.POST("/polls/:id/phase", h.transitionPhase)
		api.PUT("/polls/:id/deadline", h.setDeadline)
		api.POST("/polls/:id/finalize", h.finalizePoll)
		api.GET("/polls/:id/results", h.getResults)

		api.GET("/polls/:id/options", h.listOptions)
		api.POST("/polls/:id/options", h.createOption)
		api.PUT("/polls/:id/options/order", h.reorderOptions)
		api.PATCH("/options/:optionId/status", h.updateOptionStatus)
		api.GET("/options/:optionId/tally", h.getTally)
		api.DELETE("/options/:optionId/votes", h.clearOptionVotes)

		api.POST("/polls/:id/options/:optionId/vote", h.castVote)
		api.DELETE("/polls/:id/options/:optionId/vote", h.retractVote)
		api.PUT("/polls/:id/approvals", h.setApprovals)
		api.PUT("/polls/:id/ranking", h.submitRanking)
		api.DELETE("/polls/:id/ballot", h.clearBallot)
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"status": "success",
		"data":   data,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  "error",
		"message": message,
	})
}

// writeError maps service errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error, message string) {
	body := gin.H{"status": "error"}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
		body["message"] = err.Error()
		body["fields"] = validationFields(err)
	case errors.Is(err, domain.ErrState):
		status = http.StatusConflict
		body["message"] = err.Error()
		body["code"] = domain.StateCode(err)
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		body["message"] = "concurrent update, please retry"
		body["code"] = "conflict"
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		body["message"] = "not allowed to perform this action"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		body["message"] = "resource not found"
	default:
		body["message"] = message
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(message,
			zap.Error(err),
			zap.String("path", c.FullPath()),
		)
	}
	c.JSON(status, body)
}

func validationFields(err error) []*domain.ValidationError {
	var many domain.ValidationErrors
	if errors.As(err, &many) {
		return many
	}
	var one *domain.ValidationError
	if errors.As(err, &one) {
		return []*domain.ValidationError{one}
	}
	return nil
}

// actor returns the authenticated user, writing a 401 when absent.
func actor(c *gin.Context) (uuid.UUID, bool) {
	id, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"status":  "error",
			"message": "user not authenticated",
		})
	}
	return id, ok
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// pollRequest resolves the actor and the :id poll parameter.
func pollRequest(c *gin.Context) (userID, pollID uuid.UUID, ok bool) {
	if userID, ok = actor(c); !ok {
		return
	}
	pollID, ok = pathID(c, "id")
	return
}

func (h *Handler) createPoll(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	var req domain.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	poll, err := h.service.CreatePoll(c.Request.Context(), eventID, userID, &req)
	if err != nil {
		h.writeError(c, err, "Failed to create poll")
		return
	}
	respond(c, http.StatusCreated, poll)
}

func (h *Handler) listPolls(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}

	polls, err := h.service.ListPolls(c.Request.Context(), userID, eventID)
	if err != nil {
		h.writeError(c, err, "Failed to list polls")
		return
	}
	if polls == nil {
		polls = []domain.Poll{}
	}
	respond(c, http.StatusOK, polls)
}

func (h *Handler) getPoll(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	poll, err := h.service.GetPoll(c.Request.Context(), userID, pollID)
	if err != nil {
		h.writeError(c, err, "Failed to get poll")
		return
	}
	respond(c, http.StatusOK, poll)
}

func (h *Handler) deletePoll(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	if err := h.service.DeletePoll(c.Request.Context(), userID, pollID); err != nil {
		h.writeError(c, err, "Failed to delete poll")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) transitionPhase(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	var req struct {
		Phase string `json:"phase" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "phase is required")
		return
	}

	poll, err := h.service.TransitionPhase(c.Request.Context(), userID, pollID, req.Phase)
	if err != nil {
		h.writeError(c, err, "Failed to change poll phase")
		return
	}
	respond(c, http.StatusOK, poll)
}

func (h *Handler) setDeadline(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	var req struct {
		VotingDeadline *time.Time `json:"votingDeadline"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	poll, err := h.service.SetVotingDeadline(c.Request.Context(), userID, pollID, req.VotingDeadline)
	if err != nil {
		h.writeError(c, err, "Failed to set voting deadline")
		return
	}
	respond(c, http.StatusOK, poll)
}

func (h *Handler) finalizePoll(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	var req struct {
		Strategy  string      `json:"strategy"`
		OptionIDs []uuid.UUID `json:"optionIds"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	strategy, err := finalize.ParseStrategy(req.Strategy)
	if err != nil {
		h.writeError(c, err, "Failed to finalize poll")
		return
	}

	result, err := h.service.Finalize(c.Request.Context(), userID, pollID, finalize.Request{
		Strategy:  strategy,
		OptionIDs: req.OptionIDs,
	})
	if err != nil {
		h.writeError(c, err, "Failed to finalize poll")
		return
	}
	respond(c, http.StatusOK, result)
}

func (h *Handler) getResults(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	results, err := h.service.TallyAll(c.Request.Context(), userID, pollID)
	if err != nil {
		h.writeError(c, err, "Failed to get poll results")
		return
	}
	respond(c, http.StatusOK, results)
}

func (h *Handler) listOptions(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	options, err := h.service.ListOptions(c.Request.Context(), userID, pollID)
	if err != nil {
		h.writeError(c, err, "Failed to list options")
		return
	}
	if options == nil {
		options = []domain.Option{}
	}
	respond(c, http.StatusOK, options)
}

func (h *Handler) createOption(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	var req domain.CreateOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	option, err := h.service.CreateOption(c.Request.Context(), userID, pollID, &req)
	if err != nil {
		h.writeError(c, err, "Failed to create option")
		return
	}
	respond(c, http.StatusCreated, option)
}

func (h *Handler) reorderOptions(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	var req struct {
		OptionIDs []uuid.UUID `json:"optionIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "optionIds is required")
		return
	}

	options, err := h.service.ReorderOptions(c.Request.Context(), userID, pollID, req.OptionIDs)
	if err != nil {
		h.writeError(c, err, "Failed to reorder options")
		return
	}
	respond(c, http.StatusOK, options)
}

func (h *Handler) updateOptionStatus(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	option, err := h.service.UpdateOptionStatus(c.Request.Context(), userID, optionID, req.Status)
	if err != nil {
		h.writeError(c, err, "Failed to update option")
		return
	}
	respond(c, http.StatusOK, option)
}

func (h *Handler) getTally(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}
	tally, err := h.service.Tally(c.Request.Context(), userID, optionID)
	if err != nil {
		h.writeError(c, err, "Failed to tally option")
		return
	}
	respond(c, http.StatusOK, tally)
}

func (h *Handler) clearOptionVotes(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}
	removed, err := h.service.ClearOptionVotes(c.Request.Context(), userID, optionID)
	if err != nil {
		h.writeError(c, err, "Failed to clear option votes")
		return
	}
	respond(c, http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) castVote(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}
	var input domain.VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	vote, err := h.service.CastVote(c.Request.Context(), userID, pollID, optionID, input)
	if err != nil {
		h.writeError(c, err, "Failed to cast vote")
		return
	}
	if vote == nil {
		c.Status(http.StatusNoContent)
		return
	}
	respond(c, http.StatusOK, vote)
}

func (h *Handler) retractVote(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}
	removed, err := h.service.RetractVote(c.Request.Context(), userID, pollID, optionID)
	if err != nil {
		h.writeError(c, err, "Failed to retract vote")
		return
	}
	respond(c, http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) setApprovals(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	var req struct {
		OptionIDs []uuid.UUID `json:"optionIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	votes, err := h.service.SetApprovals(c.Request.Context(), userID, pollID, req.OptionIDs)
	if err != nil {
		h.writeError(c, err, "Failed to set approvals")
		return
	}
	respond(c, http.StatusOK, votes)
}

func (h *Handler) submitRanking(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	var req struct {
		Ballot []domain.RankedChoice `json:"ballot" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ballot is required")
		return
	}

	votes, err := h.service.SubmitRankedBallot(c.Request.Context(), userID, pollID, req.Ballot)
	if err != nil {
		h.writeError(c, err, "Failed to submit ranking")
		return
	}
	respond(c, http.StatusOK, votes)
}

func (h *Handler) clearBallot(c *gin.Context) {
	userID, pollID, ok := pollRequest(c)
	if !ok {
		return
	}
	removed, err := h.service.ClearVoterBallot(c.Request.Context(), userID, pollID)
	if err != nil {
		h.writeError(c, err, "Failed to clear ballot")
		return
	}
	respond(c, http.StatusOK, gin.H{"removed": removed})
}

package intake

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/pool"
)

// NewRouter serves the submission API.
func (in *Intake) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete}
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/submissions", in.handleSubmit)
	r.GET("/submissions/:id", in.handleGet)
	r.GET("/submissions/:id/result", in.handleResult)
	r.DELETE("/submissions/:id", in.handleCancel)
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, in.pool.Stats())
	})
	return r
}

func errJSON(err error) gin.H {
	return gin.H{"error": err.Error()}
}

func (in *Intake) handleSubmit(c *gin.Context) {
	var req api.SubmitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.NewSubmitErrResp(err, false))
		return
	}

	id, err := in.Accept(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, api.SubmitResp{ID: id})
	case errors.Is(err, pool.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, api.NewSubmitErrResp(err, true))
	case errors.Is(err, pool.ErrPoolStopped):
		c.JSON(http.StatusServiceUnavailable, api.NewSubmitErrResp(err, true))
	case errors.Is(err, pool.ErrDuplicateID):
		c.JSON(http.StatusConflict, api.NewSubmitErrResp(err, false))
	case isClientError(err):
		c.JSON(http.StatusBadRequest, api.NewSubmitErrResp(err, false))
	default:
		in.log.Error("failed to accept submission", "error", err)
		c.JSON(http.StatusBadGateway, api.NewSubmitErrResp(err, false))
	}
}

func (in *Intake) handleGet(c *gin.Context) {
	snap, err := in.pool.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errJSON(err))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleResult returns the job; with ?wait=1 it blocks until the job is
// finished or the request goes away.
func (in *Intake) handleResult(c *gin.Context) {
	id := c.Param("id")
	if c.Query("wait") == "" || c.Query("wait") == "0" {
		in.handleGet(c)
		return
	}

	snap, err := in.pool.Await(c.Request.Context(), id)
	switch {
	case errors.Is(err, pool.ErrNotFound):
		c.JSON(http.StatusNotFound, errJSON(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, errJSON(err))
	case err != nil:
		c.JSON(http.StatusInternalServerError, errJSON(err))
	default:
		c.JSON(http.StatusOK, snap)
	}
}

func (in *Intake) handleCancel(c *gin.Context) {
	err := in.pool.Cancel(c.Param("id"))
	switch {
	case errors.Is(err, pool.ErrNotFound):
		c.JSON(http.StatusNotFound, errJSON(err))
	case errors.Is(err, pool.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errJSON(err))
	case err != nil:
		c.JSON(http.StatusInternalServerError, errJSON(err))
	default:
		c.Status(http.StatusNoContent)
	}
}

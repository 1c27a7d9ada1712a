package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
	"github.com/vyrodovalexey/kubeauth/internal/tokenreview"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, RunningMessage)
}

func (s *Server) handleTokenReview(c *gin.Context) {
	ctx := c.Request.Context()
	logger := s.logger.WithContext(ctx)

	var req tokenreview.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Debug("unreadable token review", observability.Error(err))
		writeReview(c, tokenreview.Deny(""))
		return
	}

	token, err := tokenreview.Token(&req)
	if err != nil {
		logger.Debug("token review without token")
		writeReview(c, tokenreview.Deny(req.APIVersion))
		return
	}

	result := s.reviewer.Run(ctx, token)
	writeReview(c, tokenreview.Build(req.APIVersion, result))
}

func writeReview(c *gin.Context, resp tokenreview.Response) {
	c.JSON(tokenreview.StatusCode(resp), resp)
}

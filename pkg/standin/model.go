package standin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const modelName = "fir-draft-v1"

// ModelServer mimics the text-generation inference backend.
type ModelServer struct {
	latency   time.Duration
	startedAt time.Time
	engine    *gin.Engine
}

// NewModelServer builds a model stand-in with the given artificial
// inference latency.
func NewModelServer(latency time.Duration) *ModelServer {
	if latency <= 0 {
		latency = 150 * time.Millisecond
	}
	s := &ModelServer{
		latency:   latency,
		startedAt: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", s.health)
	r.POST("/generate", s.generate)
	s.engine = r

	return s
}

// Handler exposes the server for embedding in tests.
func (s *ModelServer) Handler() http.Handler {
	return s.engine
}

// Serve blocks until ctx is cancelled.
func (s *ModelServer) Serve(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.engine)
}

func (s *ModelServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthPayload(s.startedAt, map[string]bool{modelName: true}))
}

type generateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// generate returns a deterministic draft shaped like the real model's
// output, echoing the head of the prompt.
func (s *ModelServer) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "prompt is required"})
		return
	}

	time.Sleep(s.latency)

	head := req.Prompt
	if len(head) > 120 {
		head = head[:120]
	}

	c.JSON(http.StatusOK, gin.H{
		"draft": "FIRST INFORMATION REPORT (DRAFT)\n\nComplaint summary: " + head,
		"model": modelName,
		"metadata": gin.H{
			"confidence":    0.93,
			"prompt_tokens": len(strings.Fields(req.Prompt)),
			"generation_ms": s.latency.Milliseconds(),
		},
	})
}

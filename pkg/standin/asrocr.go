package standin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ASROCRServer mimics the transcription/extraction inference backend.
type ASROCRServer struct {
	latency   time.Duration
	startedAt time.Time
	engine    *gin.Engine
}

// NewASROCRServer builds the ASR/OCR stand-in with the given artificial
// latency.
func NewASROCRServer(latency time.Duration) *ASROCRServer {
	if latency <= 0 {
		latency = 200 * time.Millisecond
	}
	s := &ASROCRServer{
		latency:   latency,
		startedAt: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", s.health)
	r.POST("/transcribe", s.transcribe)
	s.engine = r

	return s
}

// Handler exposes the server for embedding in tests.
func (s *ASROCRServer) Handler() http.Handler {
	return s.engine
}

// Serve blocks until ctx is cancelled.
func (s *ASROCRServer) Serve(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.engine)
}

func (s *ASROCRServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthPayload(s.startedAt, map[string]bool{
		"whisper-small": true,
		"doc-ocr-v2":    true,
	}))
}

type transcribeRequest struct {
	// Source names the audio or document input; only its presence
	// matters to the stand-in.
	Source string `json:"source" binding:"required"`
	Kind   string `json:"kind"`
}

// transcribe returns a synthetic transcript with segment timing and
// confidence metadata, deterministic for a given source name.
func (s *ASROCRServer) transcribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "source is required"})
		return
	}

	time.Sleep(s.latency)

	kind := req.Kind
	if kind == "" {
		kind = "audio"
	}

	transcript := "Synthetic transcript of " + req.Source
	words := len(strings.Fields(transcript))

	c.JSON(http.StatusOK, gin.H{
		"transcript": transcript,
		"language":   "en",
		"kind":       kind,
		"segments": []gin.H{
			{"start": 0.0, "end": 2.4, "text": "Synthetic transcript"},
			{"start": 2.4, "end": 5.1, "text": "of " + req.Source},
		},
		"metadata": gin.H{
			"confidence":    0.91,
			"word_count":    words,
			"processing_ms": s.latency.Milliseconds(),
		},
	})
}

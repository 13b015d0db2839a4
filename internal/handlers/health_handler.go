package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"search-market-agent/internal/blockchain"
)

const livenessReply = "OK"

// Liveness answers any method on / with a fixed plaintext body
func Liveness(c *gin.Context) {
	c.String(http.StatusOK, livenessReply)
}

// Health reports process status
// GET /health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// DiagnosticsFunc runs a connectivity check against the ledger
type DiagnosticsFunc func(ctx context.Context) *blockchain.DiagnosticResult

type DiagnosticsHandler struct {
	run DiagnosticsFunc
}

func NewDiagnosticsHandler(run DiagnosticsFunc) *DiagnosticsHandler {
	return &DiagnosticsHandler{run: run}
}

// GetDiagnostics checks RPC reachability, the fee payer and PDA derivation
// GET /api/diagnostics
func (h *DiagnosticsHandler) GetDiagnostics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	result := h.run(ctx)
	status := http.StatusOK
	if !result.RPCConnected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"success": result.RPCConnected, "data": result})
}

package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codesphere/backend/internal/domain/runner"
)

// ExecuteRequest is the body of POST /execute. Older clients send code
// instead of sourceText.
type ExecuteRequest struct {
	SourceText *string `json:"sourceText" validate:"required_without=Code"`
	Code       *string `json:"code" validate:"required_without=SourceText"`
	Language   string  `json:"language" validate:"required,max=32"`
}

func (r ExecuteRequest) source() string {
	if r.SourceText != nil {
		return *r.SourceText
	}
	return *r.Code
}

// ExecuteResponse is the terminal outcome of a submission. Error mirrors
// IsError for older clients.
type ExecuteResponse struct {
	Output     string `json:"output"`
	IsError    bool   `json:"isError"`
	Error      bool   `json:"error"`
	FaultKind  string `json:"faultKind,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Execute compiles and runs a snippet and returns its captured output.
// Failures of the submitted program are reported in the body with 200.
func (h *Handlers) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectExecute(c, "Invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.rejectExecute(c, "Invalid request: sourceText and language are required")
		return
	}

	res := h.executor.Execute(c.Request.Context(), runner.Request{
		Source:   req.source(),
		Language: req.Language,
	})
	if res.Fault() {
		h.log.Error("Execution fault",
			zap.String("language", req.Language),
			zap.Error(res.Err))
	}

	c.JSON(http.StatusOK, newExecuteResponse(res))
}

func (h *Handlers) rejectExecute(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ExecuteResponse{
		Output:    msg,
		IsError:   true,
		Error:     true,
		FaultKind: "invalid",
	})
}

func newExecuteResponse(res runner.Result) ExecuteResponse {
	resp := ExecuteResponse{
		Output:     res.Output,
		IsError:    res.IsError,
		Error:      res.IsError,
		Truncated:  res.Truncated,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Kind != runner.KindSuccess {
		resp.FaultKind = string(res.Kind)
	}
	return resp
}

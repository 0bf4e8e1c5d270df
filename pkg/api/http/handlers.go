package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/triggers"
	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// TriggerAcceptedResponse represents the synchronous trigger acknowledgement
type TriggerAcceptedResponse struct {
	Accepted   bool   `json:"accepted"`
	WorkflowID string `json:"workflow_id"`
	ReceivedAt string `json:"received_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// statusForCode maps a trigger rejection code to an HTTP status.
func statusForCode(code triggers.Code) int {
	switch code {
	case triggers.CodeNotFound:
		return http.StatusNotFound
	case triggers.CodeInactive:
		return http.StatusConflict
	case triggers.CodeNoMatchingTrigger:
		return http.StatusUnprocessableEntity
	case triggers.CodeUnauthorized, triggers.CodeMissingCredential:
		return http.StatusUnauthorized
	case triggers.CodeMisconfigured:
		return http.StatusInternalServerError
	case triggers.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case triggers.CodeUnsupportedFileType, triggers.CodeMaliciousContent:
		return http.StatusUnsupportedMediaType
	case triggers.CodeRateLimited:
		return http.StatusTooManyRequests
	case triggers.CodeQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondTriggerError writes the synchronous rejection for a trigger request.
func (s *Server) respondTriggerError(c *gin.Context, err error) {
	if te, ok := triggers.AsError(err); ok {
		c.JSON(statusForCode(te.Code), ErrorResponse{
			Error: ErrorDetail{
				Code:    string(te.Code),
				Message: te.Message,
			},
		})
		return
	}

	s.logger.Error("trigger handling failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INTERNAL_ERROR",
			Message: "failed to process trigger",
		},
	})
}

func (s *Server) respondAccepted(c *gin.Context, workflowID string) {
	c.JSON(http.StatusAccepted, TriggerAcceptedResponse{
		Accepted:   true,
		WorkflowID: workflowID,
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	workerStatus := "ok"
	if s.health != nil && !s.health.IsHealthy() {
		workerStatus = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"workers": workerStatus,
		},
	})
}

// handleFormTrigger handles form submission triggers
func (s *Server) handleFormTrigger(c *gin.Context) {
	workflowID := c.Param("workflowId")

	fields := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&fields); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: "request body must be a JSON object",
				},
			})
			return
		}
	}

	// Token precedence: header, query parameter, reserved body field.
	token := c.GetHeader("X-Trigger-Token")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		if v, ok := fields["_token"].(string); ok {
			token = v
		}
	}

	sub := triggers.FormSubmission{
		Fields:   fields,
		Token:    token,
		SourceIP: c.ClientIP(),
	}
	if err := s.triggers.HandleForm(c.Request.Context(), workflowID, sub); err != nil {
		s.respondTriggerError(c, err)
		return
	}

	s.respondAccepted(c, workflowID)
}

// handleFileTrigger handles file upload triggers
func (s *Server) handleFileTrigger(c *gin.Context) {
	workflowID := c.Param("workflowId")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "multipart field 'file' is required",
			},
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.logger.Error("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INTERNAL_ERROR",
				Message: "failed to read upload",
			},
		})
		return
	}
	defer file.Close()

	// Read one byte past the ceiling so oversize uploads are detected
	// without buffering the whole body.
	content, err := io.ReadAll(io.LimitReader(file, s.maxUploadSize+1))
	if err != nil {
		s.logger.Error("failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INTERNAL_ERROR",
				Message: "failed to read upload",
			},
		})
		return
	}

	token := c.GetHeader("X-Trigger-Token")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		token = c.PostForm("_token")
	}

	up := triggers.FileUpload{
		Filename:     fileHeader.Filename,
		Content:      content,
		DeclaredType: fileHeader.Header.Get("Content-Type"),
		Token:        token,
		SourceIP:     c.ClientIP(),
	}
	if err := s.triggers.HandleFile(c.Request.Context(), workflowID, up); err != nil {
		s.respondTriggerError(c, err)
		return
	}

	s.respondAccepted(c, workflowID)
}

// handleEmailTrigger handles inbound email webhook triggers
func (s *Server) handleEmailTrigger(c *gin.Context) {
	workflowID := c.Param("workflowId")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "failed to read request body",
			},
		})
		return
	}

	headers := map[string]string{}
	for _, name := range []string{"X-Mailgun-Signature-256", "X-Hub-Signature-256", "X-Email-Signature"} {
		if v := c.GetHeader(name); v != "" {
			headers[name] = v
		}
	}

	email := triggers.InboundEmail{
		Body:     body,
		Headers:  headers,
		SourceIP: c.ClientIP(),
	}
	if err := s.triggers.HandleEmail(c.Request.Context(), workflowID, email); err != nil {
		s.respondTriggerError(c, err)
		return
	}

	s.respondAccepted(c, workflowID)
}

// handleSaveWorkflow handles workflow creation and updates
func (s *Server) handleSaveWorkflow(c *gin.Context) {
	var wf domain.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if err := wf.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_WORKFLOW",
				Message: err.Error(),
			},
		})
		return
	}

	if err := s.workflows.Save(c.Request.Context(), &wf); err != nil {
		s.logger.Error("failed to save workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "failed to save workflow",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, wf)
}

// handleListWorkflows handles listing workflows
func (s *Server) handleListWorkflows(c *gin.Context) {
	workflows, err := s.workflows.List(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list workflows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "failed to list workflows",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

// handleGetWorkflow handles getting workflow details
func (s *Server) handleGetWorkflow(c *gin.Context) {
	wf, err := s.workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "workflow not found",
				},
			})
			return
		}
		s.logger.Error("failed to get workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "failed to load workflow",
			},
		})
		return
	}

	c.JSON(http.StatusOK, wf)
}

// handleListRuns handles listing runs for a workflow
func (s *Server) handleListRuns(c *gin.Context) {
	filter := ports.RunFilter{
		Status: domain.RunStatus(c.Query("status")),
		Limit:  20,
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	runList, err := s.tracker.ListRuns(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "failed to list runs",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":   runList,
		"total":  len(runList),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// handleGetRun handles getting run details
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.tracker.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "run not found",
				},
			})
			return
		}
		s.logger.Error("failed to get run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "failed to load run",
			},
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.executor.Cancel(runID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       "cancelling",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

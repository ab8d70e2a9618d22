package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classreg-api/internal/service"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
	"github.com/noah-isme/classreg-api/pkg/response"
)

// BlockHandler exposes teacher block endpoints.
type BlockHandler struct {
	blocks *service.BlockService
}

// NewBlockHandler constructs BlockHandler.
func NewBlockHandler(blocks *service.BlockService) *BlockHandler {
	return &BlockHandler{blocks: blocks}
}

type blockRequest struct {
	StudentID string  `json:"student_id" binding:"required"`
	Reason    *string `json:"reason"`
}

// Block godoc
// @Summary Block a student from a teacher's classes
// @Tags Blocks
// @Accept json
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param payload body blockRequest true "Block payload"
// @Success 201 {object} response.Envelope
// @Router /teachers/{teacherId}/blocks [post]
func (h *BlockHandler) Block(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.blocks.Block(c.Request.Context(), c.Param("teacherId"), req.StudentID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Unblock godoc
// @Summary Remove a block
// @Tags Blocks
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /teachers/{teacherId}/blocks/{studentId} [delete]
func (h *BlockHandler) Unblock(c *gin.Context) {
	if err := h.blocks.Unblock(c.Request.Context(), c.Param("teacherId"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

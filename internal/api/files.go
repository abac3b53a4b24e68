package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gemchat/internal/transfer"
)

const maxImportBytes = 64 << 20

func (h *Handler) uploadAttachment(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()
	att, err := h.stager.Stage(file.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

func (h *Handler) previewAttachment(c *gin.Context) {
	path, mimeType, err := h.stager.Open(c.Param("attachment_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", mimeType)
	c.File(path)
}

func (h *Handler) exportSessions(c *gin.Context) {
	format, err := transfer.ParseFormat(c.Query("format"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", `attachment; filename="`+format.FileName()+`"`)
	c.Status(http.StatusOK)
	if err := transfer.Export(c.Writer, h.chat.Sessions(), format); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) importSessions(c *gin.Context) {
	body, closeBody, err := importBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer closeBody()
	sessions, err := transfer.Import(io.LimitReader(body, maxImportBytes))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.chat.Replace(c.Request.Context(), sessions); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": len(sessions)})
}

// importBody accepts either a multipart upload in field "file" or the raw
// JSON document as the request body.
func importBody(c *gin.Context) (io.Reader, func(), error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return c.Request.Body, func() {}, nil
	}
	file, err := c.FormFile("file")
	if err != nil {
		return nil, nil, errors.New("file is required")
	}
	var f multipart.File
	if f, err = file.Open(); err != nil {
		return nil, nil, errors.New("open file failed")
	}
	return f, func() { _ = f.Close() }, nil
}

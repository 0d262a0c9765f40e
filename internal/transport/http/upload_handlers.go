package http

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxUploadSize bounds a single uploaded file.
const maxUploadSize = 16 << 20 // 16 MiB

// UploadHandlers stores uploaded files and hands back reference URLs.
// The returned URL is consumed by the chat core as ordinary message
// content.
type UploadHandlers struct {
	dir string
	log *zerolog.Logger
}

// NewUploadHandlers creates an upload handler rooted at dir.
func NewUploadHandlers(dir string, logger *zerolog.Logger) (*UploadHandlers, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &UploadHandlers{dir: dir, log: logger}, nil
}

// UploadResponse carries the reference URL of a stored file.
type UploadResponse struct {
	URL string `json:"url"`
}

// Upload accepts a multipart file and returns its reference URL.
// POST /api/upload
func (h *UploadHandlers) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		h.log.Debug().Err(err).Msg("invalid upload request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
		return
	}

	// Uploaded names are untrusted; only the extension survives.
	name := uuid.NewString() + filepath.Ext(file.Filename)
	dst := filepath.Join(h.dir, name)

	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.log.Error().Err(err).Str("file", name).Msg("failed to store upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("file", name).Int64("size", file.Size).Msg("file uploaded")
	c.JSON(http.StatusOK, UploadResponse{URL: "/uploads/" + name})
}

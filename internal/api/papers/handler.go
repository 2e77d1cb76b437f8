package papers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"paper-showcase/internal/app/http/middleware"
	"paper-showcase/internal/domain/details"
	"paper-showcase/internal/domain/session"
	"paper-showcase/internal/reconcile"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxUploadBytes caps a single uploaded file.
const MaxUploadBytes = 20 << 20

var validExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Service is what the handlers need from the reconciliation engine.
type Service interface {
	ResolveRecord(ctx context.Context, id int64) (details.Record, error)
	UpdateText(ctx context.Context, sess session.Session, id int64, patch reconcile.TextPatch) (details.Record, error)
	UploadImages(ctx context.Context, sess session.Session, id int64, g details.Gallery, blobs [][]byte) (details.Record, error)
	DeleteImage(ctx context.Context, sess session.Session, id int64, g details.Gallery, position int) (details.Record, error)
	SwapImages(ctx context.Context, sess session.Session, id int64, g details.Gallery, a, b int) (details.Record, error)
	ReorderGallery(ctx context.Context, sess session.Session, id int64, g details.Gallery, order []int) (details.Record, error)
	ExportRecord(ctx context.Context, id int64) (string, details.RecordJSON, error)
	ExportAll(ctx context.Context, ids []int64) (reconcile.Export, error)
}

type Handler struct {
	Engine Service
	Log    *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// GetDetails returns the authoritative record of :id and its rendered view.
func (h *Handler) GetDetails(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	rec, err := h.Engine.ResolveRecord(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDetailsResponse(rec))
}

// ExportDetails downloads the record of :id as paperDetailsNN.json.
func (h *Handler) ExportDetails(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	name, body, err := h.Engine.ExportRecord(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.IndentedJSON(http.StatusOK, body)
}

func (h *Handler) UpdateText(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	var patch reconcile.TextPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.Engine.UpdateText(c.Request.Context(), sessionFor(c, id), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDetailsResponse(rec))
}

// UploadImages appends every multipart "files" part to :gallery in order.
func (h *Handler) UploadImages(c *gin.Context) {
	id, g, ok := galleryParams(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	blobs := make([][]byte, 0, len(form.File["files"]))
	for _, header := range form.File["files"] {
		blob, err := readImage(header)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		blobs = append(blobs, blob)
	}

	rec, err := h.Engine.UploadImages(c.Request.Context(), sessionFor(c, id), id, g, blobs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newDetailsResponse(rec))
}

func readImage(header *multipart.FileHeader) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	isValid := false
	for _, validExt := range validExts {
		if ext == validExt {
			isValid = true
			break
		}
	}
	if !isValid {
		return nil, errors.New("Invalid file type: " + header.Filename)
	}
	if header.Size > MaxUploadBytes {
		return nil, errors.New("File too large: " + header.Filename)
	}

	file, err := header.Open()
	if err != nil {
		return nil, errors.New("Unreadable file: " + header.Filename)
	}
	defer file.Close()
	blob, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil || len(blob) > MaxUploadBytes {
		return nil, errors.New("Unreadable file: " + header.Filename)
	}
	if !strings.HasPrefix(mimetype.Detect(blob).String(), "image/") {
		return nil, errors.New("Invalid file type: " + header.Filename)
	}
	return blob, nil
}

func (h *Handler) DeleteImage(c *gin.Context) {
	id, g, ok := galleryParams(c)
	if !ok {
		return
	}
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid position"})
		return
	}
	rec, err := h.Engine.DeleteImage(c.Request.Context(), sessionFor(c, id), id, g, position)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDetailsResponse(rec))
}

func (h *Handler) SwapImages(c *gin.Context) {
	id, g, ok := galleryParams(c)
	if !ok {
		return
	}
	var input struct {
		From *int `json:"from" binding:"required"`
		To   *int `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.Engine.SwapImages(c.Request.Context(), sessionFor(c, id), id, g, *input.From, *input.To)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDetailsResponse(rec))
}

func (h *Handler) ReorderGallery(c *gin.Context) {
	id, g, ok := galleryParams(c)
	if !ok {
		return
	}
	var input struct {
		Positions []int `json:"positions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.Engine.ReorderGallery(c.Request.Context(), sessionFor(c, id), id, g, input.Positions)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDetailsResponse(rec))
}

// ExportAll returns the records in ?ids=1,2,3, or every locally known record
// without it, together with the index file that locates them. The full paper
// list is owned by the page shell, which passes it through ?ids=.
func (h *Handler) ExportAll(c *gin.Context) {
	var ids []int64
	if raw := strings.TrimSpace(c.Query("ids")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ids"})
				return
			}
			ids = append(ids, id)
		}
	}
	out, err := h.Engine.ExportAll(c.Request.Context(), ids)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": out.Files, "index": out.Index, "indexFile": reconcile.IndexFile})
}

func itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper ID"})
		return 0, false
	}
	return id, true
}

func galleryParams(c *gin.Context) (int64, details.Gallery, bool) {
	id, ok := itemID(c)
	if !ok {
		return 0, "", false
	}
	g, err := details.ParseGallery(c.Param("gallery"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown gallery"})
		return 0, "", false
	}
	return id, g, true
}

func sessionFor(c *gin.Context, id int64) session.Session {
	return middleware.CurrentSession(c).ForItem(id)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, details.ErrInvalidIndex), errors.Is(err, details.ErrUnknownGallery):
		return http.StatusBadRequest
	case errors.Is(err, details.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, details.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, details.ErrContentUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

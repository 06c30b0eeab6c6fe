package api

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"relay/internal/server/history"
	"relay/internal/server/registry"
	"relay/internal/server/service"
	"relay/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// Handler contains the HTTP handlers for the relay.
type Handler struct {
	svc            *service.TransferService
	baseURL        string
	maxUploadBytes int64
	index          *template.Template
}

// NewHandler creates a new handler. An empty baseURL derives links from the
// request's scheme and host.
func NewHandler(svc *service.TransferService, baseURL string, maxUploadBytes int64) *Handler {
	return &Handler{
		svc:            svc,
		baseURL:        strings.TrimRight(baseURL, "/"),
		maxUploadBytes: maxUploadBytes,
		index:          indexTemplate,
	}
}

// HandleIndex handles GET /.
// Renders the upload page with the session's transfer history.
func (h *Handler) HandleIndex(c echo.Context) error {
	records, err := h.svc.History(c.Request().Context(), SessionID(c))
	if err != nil {
		slog.Error("failed to load history", "error", err)
		records = nil
	}

	var buf bytes.Buffer
	if err := h.index.Execute(&buf, indexData{History: records, MaxUpload: humanizeBytes(h.maxUploadBytes)}); err != nil {
		return fmt.Errorf("render index: %w", err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// HandleUpload handles POST /upload.
// Accepts a multipart form with one or more "files" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	req := c.Request()
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return failure(c, http.StatusRequestEntityTooLarge, tooLargeMessage(h.maxUploadBytes))
		}
		return failure(c, http.StatusBadRequest, "no files were uploaded")
	}
	defer req.MultipartForm.RemoveAll()

	headers := req.MultipartForm.File["files"]
	files := make([]service.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, partFile(fh))
	}

	result, err := h.svc.Upload(req.Context(), service.UploadInput{
		SessionID: SessionID(c),
		BaseURL:   h.linkBase(c),
		Files:     files,
	})
	if err != nil {
		return h.mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Success:      true,
		DownloadLink: result.DownloadURL,
		PickupCode:   result.PickupCode,
		Filename:     result.Filename,
		Kind:         result.Kind,
		Size:         result.Size,
		Checksum:     result.Checksum,
		Files:        result.Files,
	})
}

// HandleDownloadFile handles GET /download/file/:filename.
func (h *Handler) HandleDownloadFile(c echo.Context) error {
	rc, obj, err := h.svc.OpenFile(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return downloadError(c, err, "file not found")
	}
	return serveArtifact(c, rc, obj)
}

// HandleDownloadZip handles GET /download/zip/:token.
func (h *Handler) HandleDownloadZip(c echo.Context) error {
	rc, obj, err := h.svc.OpenArchive(c.Request().Context(), c.Param("token"))
	if err != nil {
		return downloadError(c, err, "invalid download link")
	}
	return serveArtifact(c, rc, obj)
}

// HandleLink handles GET /d/:token.
// Serves whatever the link token resolves to.
func (h *Handler) HandleLink(c echo.Context) error {
	rc, obj, err := h.svc.OpenLink(c.Request().Context(), c.Param("token"))
	if err != nil {
		return downloadError(c, err, "invalid download link")
	}
	return serveArtifact(c, rc, obj)
}

// HandlePickup handles POST /download/pickup.
// Redirects to the download link the pickup code was issued for.
func (h *Handler) HandlePickup(c echo.Context) error {
	code := strings.TrimSpace(c.FormValue("pickup_code"))
	if code == "" {
		return failure(c, http.StatusBadRequest, "pickup code is required")
	}

	url, err := h.svc.ResolvePickup(c.Request().Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return failure(c, http.StatusNotFound, "invalid pickup code")
		}
		return h.mapServiceError(c, err)
	}
	return c.Redirect(http.StatusFound, url)
}

// HandleHistory handles GET /api/history.
// Returns the transfers of the caller's session, oldest first.
func (h *Handler) HandleHistory(c echo.Context) error {
	records, err := h.svc.History(c.Request().Context(), SessionID(c))
	if err != nil {
		return h.mapServiceError(c, err)
	}
	if records == nil {
		records = []history.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including storage availability.
func (h *Handler) HandleHealth(c echo.Context) error {
	status, storageStatus, code := "healthy", "available", http.StatusOK

	if err := h.svc.Health(c.Request().Context()); err != nil {
		slog.Error("health check failed", "error", err)
		status, storageStatus, code = "degraded", "unavailable", http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":  status,
		"storage": storageStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns registry and storage counters.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		slog.Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"active_links":       stats.Links,
		"active_pickups":     stats.Pickups,
		"uploads_in_flight":  stats.Reserved,
		"stored_files":       stats.StoredFiles,
		"storage_used_bytes": stats.StoredBytes,
		"storage_used_human": humanizeBytes(stats.StoredBytes),
	})
}

type uploadResponse struct {
	Success      bool          `json:"success"`
	DownloadLink string        `json:"download_link,omitempty"`
	PickupCode   string        `json:"pickup_code,omitempty"`
	Filename     string        `json:"filename,omitempty"`
	Kind         registry.Kind `json:"kind,omitempty"`
	Size         int64         `json:"size,omitempty"`
	Checksum     string        `json:"checksum,omitempty"`
	Files        []string      `json:"files,omitempty"`
	Message      string        `json:"message,omitempty"`
}

func failure(c echo.Context, status int, message string) error {
	return c.JSON(status, uploadResponse{Success: false, Message: message})
}

func tooLargeMessage(max int64) string {
	return "upload exceeds the maximum allowed size of " + humanizeBytes(max)
}

func partFile(fh *multipart.FileHeader) service.File {
	return service.File{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func (h *Handler) linkBase(c echo.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	return c.Scheme() + "://" + c.Request().Host
}

// mapServiceError translates service-layer errors into JSON responses.
// Storage details stay in the log.
func (h *Handler) mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return failure(c, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrValidation):
		return failure(c, http.StatusBadRequest, "no files were uploaded")
	case errors.Is(err, service.ErrTooLarge):
		return failure(c, http.StatusRequestEntityTooLarge, tooLargeMessage(h.maxUploadBytes))
	case errors.Is(err, registry.ErrExhausted):
		return failure(c, http.StatusServiceUnavailable, "server is busy, please try again")
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return failure(c, http.StatusRequestEntityTooLarge, tooLargeMessage(h.maxUploadBytes))
		}
		slog.Error("upload failed", "error", err)
		return failure(c, http.StatusInternalServerError, "file upload failed, please try again later")
	}
}

// downloadError answers failed downloads in plain text.
func downloadError(c echo.Context, err error, notFound string) error {
	if errors.Is(err, service.ErrNotFound) {
		return c.String(http.StatusNotFound, notFound)
	}
	return c.String(http.StatusInternalServerError, "download failed")
}

// serveArtifact sends an artifact as an attachment. Seekable readers go
// through http.ServeContent so range requests work.
func serveArtifact(c echo.Context, rc io.ReadCloser, obj storage.Object) error {
	defer rc.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(res, c.Request(), obj.Name, obj.ModTime, rs)
		return nil
	}

	contentType := mime.TypeByExtension(path.Ext(obj.Name))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if obj.Size > 0 {
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
	}
	return c.Stream(http.StatusOK, contentType, rc)
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

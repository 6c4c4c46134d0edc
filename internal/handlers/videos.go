package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/auth"
	"github.com/clipvault/clipvault/internal/ingest"
	"github.com/clipvault/clipvault/internal/storage"
	"github.com/clipvault/clipvault/internal/upload"
	"github.com/clipvault/clipvault/internal/videos"
)

// VideoService is the metadata surface the videos handler depends on.
type VideoService interface {
	Get(ctx context.Context, videoID string) (*videos.Video, error)
	ListByOwner(ctx context.Context, ownerID string, params videos.ListParams) ([]*videos.Video, error)
	ListPublic(ctx context.Context, params videos.ListParams) ([]*videos.Video, error)
	Search(ctx context.Context, query string, params videos.ListParams) ([]*videos.Video, error)
	TogglePrivacy(ctx context.Context, videoID, callerID string) (*videos.Video, error)
	MarkDownloaded(ctx context.Context, videoID, callerID string) (*videos.Video, error)
	IncrementViews(ctx context.Context, videoID string) error
	SoftDelete(ctx context.Context, videoID, callerID string) error
	PermanentDelete(ctx context.Context, videoID, callerID string, isAdmin bool) (*videos.Video, error)
	ListCaptions(ctx context.Context, videoID string) ([]*videos.Caption, error)
}

// VideosHandler serves video upload, retrieval and management endpoints.
type VideosHandler struct {
	coordinator  *ingest.Coordinator
	videoService VideoService
	gateway      storage.Gateway
	stagingDir   string
	urlExpiry    time.Duration
	logger       *slog.Logger
}

// NewVideosHandler creates the videos handler.
func NewVideosHandler(log *slog.Logger, coordinator *ingest.Coordinator, videoService VideoService, gateway storage.Gateway, stagingDir string, urlExpiry time.Duration) *VideosHandler {
	return &VideosHandler{
		coordinator:  coordinator,
		videoService: videoService,
		gateway:      gateway,
		stagingDir:   stagingDir,
		urlExpiry:    urlExpiry,
		logger:       log.With(slog.String("handler", "videos")),
	}
}

// Register mounts video endpoints on the Echo instance.
func (h *VideosHandler) Register(e *echo.Echo) {
	e.POST("/videos/upload", h.Upload)
	e.POST("/videos/upload-chunk", h.UploadChunk)
	e.POST("/videos/:id/caption", h.UploadCaption)
	e.GET("/videos/public", h.ListPublic)
	e.GET("/videos/search", h.Search)
	e.GET("/videos/my-videos", h.ListMine)
	e.GET("/videos/:id", h.Get)
	e.GET("/videos/:id/captions", h.ListCaptions)
	e.GET("/videos/:id/download", h.DownloadURL)
	e.PATCH("/videos/:id/privacy", h.TogglePrivacy)
	e.PATCH("/videos/:id/downloaded", h.MarkDownloaded)
	e.DELETE("/videos/:id", h.SoftDelete)
	e.DELETE("/videos/:id/permanent", h.PermanentDelete)
}

// ChunkResponse reports progress for a non-final chunk.
type ChunkResponse struct {
	UploadID string `json:"uploadId"`
	Received int    `json:"received"`
	Total    int    `json:"total"`
	Complete bool   `json:"complete"`
}

// Upload godoc
// @Summary Upload a video
// @Description Accept a whole video file with optional thumbnail, inspect it and store it
// @Tags videos
// @Accept multipart/form-data
// @Success 201 {object} videos.Video
// @Failure 400 {object} RejectionResponse
// @Failure 500 {object} ErrorResponse
// @Router /videos/upload [post].
func (h *VideosHandler) Upload(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}

	videoFile, err := h.stageFormFile(c, "video")
	if err != nil {
		return err
	}
	if videoFile == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no video file provided")
	}
	thumbFile, err := h.stageFormFile(c, "thumbnail")
	if err != nil {
		h.discardStaged(videoFile)
		return err
	}

	video, err := h.coordinator.IngestVideo(c.Request().Context(), ingest.VideoRequest{
		OwnerID:     userID,
		Video:       videoFile,
		Thumbnail:   thumbFile,
		Title:       strings.TrimSpace(c.FormValue("title")),
		Description: c.FormValue("description"),
		Tags:        splitTags(c.FormValue("tags")),
		IsPublic:    parseBool(c.FormValue("isPublic"), true),
	})
	if err != nil {
		return h.ingestError(err)
	}
	return c.JSON(http.StatusCreated, video)
}

// UploadChunk godoc
// @Summary Upload one chunk of a video
// @Description Accept a chunk; the final chunk triggers assembly and full ingestion
// @Tags videos
// @Accept multipart/form-data
// @Success 200 {object} ChunkResponse
// @Success 201 {object} videos.Video
// @Failure 400 {object} RejectionResponse
// @Failure 500 {object} ErrorResponse
// @Router /videos/upload-chunk [post].
func (h *VideosHandler) UploadChunk(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}

	uploadID := strings.TrimSpace(c.FormValue("uploadId"))
	if uploadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "uploadId is required")
	}
	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "chunkIndex must be an integer")
	}
	totalChunks, err := strconv.Atoi(c.FormValue("totalChunks"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "totalChunks must be an integer")
	}

	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no chunk file provided")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	filename := strings.TrimSpace(c.FormValue("filename"))
	if filename == "" {
		filename = fileHeader.Filename
	}

	result, err := h.coordinator.IngestChunk(c.Request().Context(), ingest.ChunkRequest{
		OwnerID:     userID,
		UploadID:    uploadID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		Chunk:       src,
		Metadata: upload.Metadata{
			Filename:    filepath.Base(filename),
			MIMEType:    c.FormValue("mimeType"),
			Title:       strings.TrimSpace(c.FormValue("title")),
			Description: c.FormValue("description"),
			Tags:        splitTags(c.FormValue("tags")),
			IsPublic:    parseBool(c.FormValue("isPublic"), true),
		},
	})
	if err != nil {
		return h.ingestError(err)
	}
	if result.Video != nil {
		return c.JSON(http.StatusCreated, result.Video)
	}
	return c.JSON(http.StatusOK, ChunkResponse{
		UploadID: uploadID,
		Received: result.Progress.Received,
		Total:    result.Progress.Total,
		Complete: result.Progress.Complete,
	})
}

// UploadCaption godoc
// @Summary Attach a caption track
// @Description Inspect and store a caption file for a video the caller owns
// @Tags videos
// @Accept multipart/form-data
// @Success 201 {object} videos.Caption
// @Failure 400 {object} RejectionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id}/caption [post].
func (h *VideosHandler) UploadCaption(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	language := strings.TrimSpace(c.FormValue("language"))
	languageCode := strings.TrimSpace(c.FormValue("languageCode"))
	if language == "" || languageCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "language and languageCode are required")
	}

	captionFile, err := h.stageFormFile(c, "caption")
	if err != nil {
		return err
	}
	if captionFile == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no caption file provided")
	}

	caption, err := h.coordinator.IngestCaption(c.Request().Context(), ingest.CaptionRequest{
		CallerID:     userID,
		VideoID:      c.Param("id"),
		Language:     language,
		LanguageCode: languageCode,
		File:         captionFile,
	})
	if err != nil {
		return h.ingestError(err)
	}
	return c.JSON(http.StatusCreated, caption)
}

// ListPublic godoc
// @Summary List public videos
// @Tags videos
// @Success 200 {array} videos.Video
// @Router /videos/public [get].
func (h *VideosHandler) ListPublic(c echo.Context) error {
	list, err := h.videoService.ListPublic(c.Request().Context(), listParams(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

// Search godoc
// @Summary Search public videos
// @Tags videos
// @Param q query string true "Search query"
// @Success 200 {array} videos.Video
// @Router /videos/search [get].
func (h *VideosHandler) Search(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}
	list, err := h.videoService.Search(c.Request().Context(), query, listParams(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

// ListMine godoc
// @Summary List the caller's videos
// @Tags videos
// @Success 200 {array} videos.Video
// @Failure 401 {object} ErrorResponse
// @Router /videos/my-videos [get].
func (h *VideosHandler) ListMine(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	list, err := h.videoService.ListByOwner(c.Request().Context(), userID, listParams(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

// Get godoc
// @Summary Get one video with a time-limited playback URL
// @Tags videos
// @Success 200 {object} videos.Video
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id} [get].
func (h *VideosHandler) Get(c echo.Context) error {
	video, err := h.videoService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.videoError(err)
	}
	if video.StorageKey != "" {
		// Best effort; the stored URL remains the fallback when signing fails.
		if url, err := h.gateway.SignedURL(c.Request().Context(), video.StorageKey, h.urlExpiry); err == nil {
			video.VideoURL = url
		} else {
			h.logger.Warn("failed to sign video url",
				slog.String("video_id", video.ID),
				slog.Any("error", err),
			)
		}
	}
	if err := h.videoService.IncrementViews(c.Request().Context(), video.ID); err != nil {
		h.logger.Warn("failed to increment views",
			slog.String("video_id", video.ID),
			slog.Any("error", err),
		)
	}
	return c.JSON(http.StatusOK, video)
}

// ListCaptions godoc
// @Summary List caption tracks of a video
// @Tags videos
// @Success 200 {array} videos.Caption
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id}/captions [get].
func (h *VideosHandler) ListCaptions(c echo.Context) error {
	if _, err := h.videoService.Get(c.Request().Context(), c.Param("id")); err != nil {
		return h.videoError(err)
	}
	captions, err := h.videoService.ListCaptions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, captions)
}

// DownloadURL godoc
// @Summary Get a time-limited download URL
// @Tags videos
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id}/download [get].
func (h *VideosHandler) DownloadURL(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	video, err := h.videoService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.videoError(err)
	}
	if !video.IsPublic && video.OwnerID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "not authorized for this video")
	}

	url, err := h.gateway.SignedURL(c.Request().Context(), video.StorageKey, h.urlExpiry)
	if err != nil {
		h.logger.Error("failed to sign download url",
			slog.String("video_id", video.ID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create download url")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"url":       url,
		"expiresAt": time.Now().Add(h.urlExpiry).Format(time.RFC3339),
	})
}

// TogglePrivacy godoc
// @Summary Toggle public visibility
// @Tags videos
// @Success 200 {object} videos.Video
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id}/privacy [patch].
func (h *VideosHandler) TogglePrivacy(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	video, err := h.videoService.TogglePrivacy(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return h.videoError(err)
	}
	return c.JSON(http.StatusOK, video)
}

// MarkDownloaded godoc
// @Summary Mark a video as downloaded
// @Tags videos
// @Success 200 {object} videos.Video
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id}/downloaded [patch].
func (h *VideosHandler) MarkDownloaded(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	video, err := h.videoService.MarkDownloaded(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return h.videoError(err)
	}
	return c.JSON(http.StatusOK, video)
}

// SoftDelete godoc
// @Summary Soft-delete a video
// @Tags videos
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id} [delete].
func (h *VideosHandler) SoftDelete(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.videoService.SoftDelete(c.Request().Context(), c.Param("id"), userID); err != nil {
		return h.videoError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PermanentDelete godoc
// @Summary Permanently delete a video and its stored objects
// @Tags videos
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /videos/{id}/permanent [delete].
func (h *VideosHandler) PermanentDelete(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	role, err := auth.RoleFromContext(c)
	if err != nil {
		return err
	}
	video, err := h.videoService.PermanentDelete(c.Request().Context(), c.Param("id"), userID, role == auth.RoleSuperadmin)
	if err != nil {
		return h.videoError(err)
	}
	if err := h.gateway.DeletePrefix(c.Request().Context(), video.FolderPath); err != nil {
		h.logger.Error("failed to remove stored objects",
			slog.String("video_id", video.ID),
			slog.Any("error", err),
		)
	}
	return c.NoContent(http.StatusNoContent)
}

// stageFormFile copies a multipart form file into the staging directory and
// describes it for the coordinator. Returns nil without error when the field
// is absent.
func (h *VideosHandler) stageFormFile(c echo.Context, field string) (*ingest.StagedFile, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	staged, err := h.copyToStaging(fileHeader)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to stage upload")
	}
	return staged, nil
}

func (h *VideosHandler) copyToStaging(fileHeader *multipart.FileHeader) (*ingest.StagedFile, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.stagingDir, "staged-*")
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.Name())
		return nil, err
	}
	return &ingest.StagedFile{
		Path:     dst.Name(),
		Name:     filepath.Base(fileHeader.Filename),
		MIMEType: fileHeader.Header.Get("Content-Type"),
		Size:     size,
	}, nil
}

// discardStaged removes staged files for requests that never reach the
// coordinator.
func (h *VideosHandler) discardStaged(files ...*ingest.StagedFile) {
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("failed to remove staged file",
				slog.String("path", f.Path),
				slog.Any("error", err),
			)
		}
	}
}

// ingestError maps coordinator errors onto HTTP responses. Security
// rejections carry structured detail; infrastructure failures stay opaque.
func (h *VideosHandler) ingestError(err error) error {
	var secErr *ingest.SecurityError
	switch {
	case errors.As(err, &secErr):
		return echo.NewHTTPError(http.StatusBadRequest, RejectionResponse{
			Message:  "file rejected by content inspection",
			Errors:   secErr.Errors,
			Warnings: secErr.Warnings,
		})
	case errors.Is(err, ingest.ErrMissingFile):
		return echo.NewHTTPError(http.StatusBadRequest, "no file provided")
	case errors.Is(err, ingest.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, "not authorized for this video")
	case errors.Is(err, videos.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "video not found")
	case errors.Is(err, videos.ErrDuplicateCaption):
		return echo.NewHTTPError(http.StatusConflict, "caption for this language already exists")
	case errors.Is(err, upload.ErrChunkIndexOutOfRange),
		errors.Is(err, upload.ErrTotalChunksMismatch),
		errors.Is(err, upload.ErrSessionClosed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, upload.ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, "upload session belongs to a different user")
	default:
		h.logger.Error("upload failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "upload failed")
	}
}

func (h *VideosHandler) videoError(err error) error {
	switch {
	case errors.Is(err, videos.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "video not found")
	case errors.Is(err, videos.ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, "not authorized for this video")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func parseBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func listParams(c echo.Context) videos.ListParams {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return videos.ListParams{Limit: limit, Offset: offset}
}

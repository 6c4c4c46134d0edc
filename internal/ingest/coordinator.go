// Package ingest orchestrates upload staging, inspection, storage and
// metadata commit for whole-file and chunked uploads.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/clipvault/clipvault/internal/inspect"
	"github.com/clipvault/clipvault/internal/storage"
	"github.com/clipvault/clipvault/internal/upload"
	"github.com/clipvault/clipvault/internal/videos"
)

// Inspector decides whether a staged file can be trusted.
type Inspector interface {
	Inspect(ctx context.Context, path, declaredName, declaredMIME string) (*inspect.Report, error)
}

// Metadata is the commit target for accepted uploads.
type Metadata interface {
	Create(ctx context.Context, params videos.CreateVideoParams) (*videos.Video, error)
	CreateCaption(ctx context.Context, params videos.CreateCaptionParams) (*videos.Caption, error)
	Get(ctx context.Context, videoID string) (*videos.Video, error)
}

// StagedFile is one uploaded file resident in transient local storage.
type StagedFile struct {
	Path     string
	Name     string
	MIMEType string
	Size     int64
}

// VideoRequest is a whole-file upload: a required video plus an optional
// thumbnail, with declared metadata.
type VideoRequest struct {
	OwnerID     string
	Video       *StagedFile
	Thumbnail   *StagedFile
	Title       string
	Description string
	Tags        []string
	IsPublic    bool
}

// CaptionRequest attaches one caption track to an existing video.
type CaptionRequest struct {
	CallerID     string
	VideoID      string
	Language     string
	LanguageCode string
	File         *StagedFile
}

// ChunkRequest is one chunk of a chunked video upload.
type ChunkRequest struct {
	OwnerID     string
	UploadID    string
	ChunkIndex  int
	TotalChunks int
	Chunk       io.Reader
	Metadata    upload.Metadata
}

// ChunkResult reports either intermediate progress or, for the completing
// chunk, the created video.
type ChunkResult struct {
	Progress upload.Progress
	Video    *videos.Video
}

// Coordinator guarantees that a video record exists if and only if its bytes
// are durably stored and passed inspection. Staged local files are removed on
// every path, success or failure.
type Coordinator struct {
	inspector Inspector
	gateway   storage.Gateway
	metadata  Metadata
	sessions  *upload.Store
	logger    *slog.Logger

	// PublicBaseURL prefixes generated embed links. When empty, embed links
	// are site-relative.
	PublicBaseURL string
}

// NewCoordinator wires the ingestion pipeline together.
func NewCoordinator(log *slog.Logger, inspector Inspector, gateway storage.Gateway, metadata Metadata, sessions *upload.Store) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		inspector: inspector,
		gateway:   gateway,
		metadata:  metadata,
		sessions:  sessions,
		logger:    log.With(slog.String("component", "ingest")),
	}
}

// IngestVideo runs the whole-file flow: inspect the video and optional
// thumbnail, upload both, then commit the metadata record.
func (c *Coordinator) IngestVideo(ctx context.Context, req VideoRequest) (*videos.Video, error) {
	if req.Video == nil {
		return nil, ErrMissingFile
	}
	defer c.removeStaged(req.Video, req.Thumbnail)

	report, err := c.inspectStaged(ctx, req.Video)
	if err != nil {
		return nil, err
	}
	if req.Thumbnail != nil {
		thumbReport, err := c.inspectStaged(ctx, req.Thumbnail)
		if err != nil {
			return nil, err
		}
		report.Warnings = append(report.Warnings, thumbReport.Warnings...)
	}

	videoID := uuid.NewString()
	videoKey := storage.VideoKey(req.OwnerID, videoID, req.Video.Name)

	videoURL, err := c.uploadStaged(ctx, videoKey, req.Video)
	if err != nil {
		return nil, err
	}

	var thumbnailURL string
	if req.Thumbnail != nil {
		thumbKey := storage.ThumbnailKey(req.OwnerID, videoID, req.Thumbnail.Name)
		thumbnailURL, err = c.uploadStaged(ctx, thumbKey, req.Thumbnail)
		if err != nil {
			return nil, err
		}
	}

	video, err := c.metadata.Create(ctx, videos.CreateVideoParams{
		ID:           videoID,
		OwnerID:      req.OwnerID,
		Title:        req.Title,
		Description:  req.Description,
		Tags:         req.Tags,
		VideoURL:     videoURL,
		ThumbnailURL: thumbnailURL,
		StorageKey:   videoKey,
		FolderPath:   storage.AssetPrefix(req.OwnerID, videoID),
		SizeBytes:    req.Video.Size,
		IsPublic:     req.IsPublic,
		EmbedLink:    c.embedLink(videoID),
	})
	if err != nil {
		c.compensate(ctx, storage.AssetPrefix(req.OwnerID, videoID))
		c.logger.Error("metadata commit failed",
			slog.String("video_id", videoID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrMetadataFailure, err)
	}

	c.logger.Info("video ingested",
		slog.String("video_id", video.ID),
		slog.String("owner_id", video.OwnerID),
		slog.Int64("size_bytes", video.SizeBytes),
	)
	return video, nil
}

// IngestCaption attaches a caption file to a video the caller owns.
func (c *Coordinator) IngestCaption(ctx context.Context, req CaptionRequest) (*videos.Caption, error) {
	if req.File == nil {
		return nil, ErrMissingFile
	}
	defer c.removeStaged(req.File)

	video, err := c.metadata.Get(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}
	if video.OwnerID != req.CallerID {
		return nil, ErrUnauthorized
	}

	if _, err := c.inspectStaged(ctx, req.File); err != nil {
		return nil, err
	}

	key := storage.CaptionKey(video.OwnerID, video.ID, req.LanguageCode, req.File.Name)
	url, err := c.uploadStaged(ctx, key, req.File)
	if err != nil {
		return nil, err
	}

	caption, err := c.metadata.CreateCaption(ctx, videos.CreateCaptionParams{
		VideoID:      video.ID,
		Language:     req.Language,
		LanguageCode: req.LanguageCode,
		CaptionURL:   url,
		StorageKey:   key,
		SizeBytes:    req.File.Size,
	})
	if err != nil {
		c.compensate(ctx, key)
		return nil, fmt.Errorf("%w: %v", ErrMetadataFailure, err)
	}
	return caption, nil
}

// IngestChunk stores one chunk. The chunk completing the session triggers
// assembly, and the assembled file enters the same inspect/store/commit path
// as a whole-file upload.
func (c *Coordinator) IngestChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	if req.Chunk == nil {
		return nil, ErrMissingFile
	}

	progress, err := c.sessions.PutChunk(req.UploadID, req.OwnerID, req.ChunkIndex, req.TotalChunks, req.Metadata, req.Chunk)
	if err != nil {
		return nil, err
	}
	if !progress.Complete {
		return &ChunkResult{Progress: progress}, nil
	}

	assembled, err := c.sessions.Assemble(req.UploadID)
	if err != nil {
		c.sessions.Fail(req.UploadID)
		c.logger.Error("chunk assembly failed",
			slog.String("upload_id", req.UploadID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	sess, err := c.sessions.Session(req.UploadID)
	if err != nil {
		return nil, err
	}
	meta := sess.Metadata

	info, err := os.Stat(assembled)
	if err != nil {
		c.sessions.Fail(req.UploadID)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	video, err := c.IngestVideo(ctx, VideoRequest{
		OwnerID: req.OwnerID,
		Video: &StagedFile{
			Path:     assembled,
			Name:     meta.Filename,
			MIMEType: meta.MIMEType,
			Size:     info.Size(),
		},
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        meta.Tags,
		IsPublic:    meta.IsPublic,
	})
	if err != nil {
		c.sessions.Fail(req.UploadID)
		return nil, err
	}
	c.sessions.Finish(req.UploadID)

	return &ChunkResult{Progress: progress, Video: video}, nil
}

func (c *Coordinator) embedLink(videoID string) string {
	return strings.TrimSuffix(c.PublicBaseURL, "/") + "/embed/" + videoID
}

func (c *Coordinator) inspectStaged(ctx context.Context, file *StagedFile) (*inspect.Report, error) {
	report, err := c.inspector.Inspect(ctx, file.Path, file.Name, file.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if !report.Valid {
		return nil, &SecurityError{Errors: report.Errors, Warnings: report.Warnings}
	}
	return report, nil
}

func (c *Coordinator) uploadStaged(ctx context.Context, key string, file *StagedFile) (string, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer f.Close()

	url, err := c.gateway.Upload(ctx, key, file.MIMEType, f)
	if err != nil {
		c.logger.Error("storage upload failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return url, nil
}

// compensate removes storage objects orphaned by a failed metadata commit so
// the stored-iff-committed invariant holds in both directions.
func (c *Coordinator) compensate(ctx context.Context, keyOrPrefix string) {
	if err := c.gateway.DeletePrefix(ctx, keyOrPrefix); err != nil {
		c.logger.Error("failed to remove orphaned storage objects",
			slog.String("prefix", keyOrPrefix),
			slog.Any("error", err),
		)
	}
}

// removeStaged deletes staged local files. Cleanup is unconditional; it runs
// on the success path and on every error path.
func (c *Coordinator) removeStaged(files ...*StagedFile) {
	for _, file := range files {
		if file == nil || file.Path == "" {
			continue
		}
		if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove staged file",
				slog.String("path", file.Path),
				slog.Any("error", err),
			)
		}
	}
}

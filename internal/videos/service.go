package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipvault/clipvault/internal/db"
)

var (
	// ErrNotFound is returned when a video does not exist or is soft-deleted.
	ErrNotFound = errors.New("video not found")
	// ErrNotOwner is returned when the caller does not own the video.
	ErrNotOwner = errors.New("video belongs to a different user")
	// ErrDuplicateCaption is returned when a caption for the same language
	// already exists on a video.
	ErrDuplicateCaption = errors.New("caption for this language already exists")
)

// Service provides video and caption metadata persistence.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a video metadata service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("component", "videos")),
	}
}

const videoColumns = `id, owner_id, title, description, tags, video_url, thumbnail_url,
	storage_key, folder_path, size_bytes, is_public, is_downloaded, is_deleted,
	view_count, embed_link, processing_status, created_at, updated_at`

// Create commits a new video record. This is the single metadata write of
// the ingestion path; it either fully succeeds or the caller compensates.
func (s *Service) Create(ctx context.Context, params CreateVideoParams) (*Video, error) {
	id, err := db.ParseUUID(params.ID)
	if err != nil {
		return nil, err
	}
	ownerID, err := db.ParseUUID(params.OwnerID)
	if err != nil {
		return nil, err
	}
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO videos (id, owner_id, title, description, tags, video_url,
			thumbnail_url, storage_key, folder_path, size_bytes, is_public,
			embed_link, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+videoColumns,
		id, ownerID, params.Title, params.Description, tags,
		params.VideoURL, db.TextFromString(params.ThumbnailURL), params.StorageKey,
		params.FolderPath, params.SizeBytes, params.IsPublic,
		params.EmbedLink, string(StatusPending),
	)
	video, err := scanVideo(row)
	if err != nil {
		return nil, fmt.Errorf("insert video: %w", err)
	}
	s.logger.Info("video record created",
		slog.String("video_id", video.ID),
		slog.String("owner_id", video.OwnerID),
	)
	return video, nil
}

// Get returns a video by id. Soft-deleted videos are treated as absent.
func (s *Service) Get(ctx context.Context, videoID string) (*Video, error) {
	id, err := db.ParseUUID(videoID)
	if err != nil {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1 AND is_deleted = false`, id)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select video: %w", err)
	}
	return video, nil
}

// ListByOwner returns the caller's own videos, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, params ListParams) ([]*Video, error) {
	owner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	params = params.normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE owner_id = $1 AND is_deleted = false
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		owner, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return scanVideos(rows)
}

// ListPublic returns publicly visible videos, newest first.
func (s *Service) ListPublic(ctx context.Context, params ListParams) ([]*Video, error) {
	params = params.normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE is_public = true AND is_deleted = false
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("list public videos: %w", err)
	}
	return scanVideos(rows)
}

// Search matches public videos by title, description or tag.
func (s *Service) Search(ctx context.Context, query string, params ListParams) ([]*Video, error) {
	params = params.normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE is_public = true AND is_deleted = false
		  AND (title ILIKE '%' || $1 || '%'
		       OR description ILIKE '%' || $1 || '%'
		       OR $1 = ANY(tags))
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		query, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("search videos: %w", err)
	}
	return scanVideos(rows)
}

// TogglePrivacy flips public visibility. Only the owner may change it.
func (s *Service) TogglePrivacy(ctx context.Context, videoID, callerID string) (*Video, error) {
	return s.ownerUpdate(ctx, videoID, callerID, `
		UPDATE videos SET is_public = NOT is_public, updated_at = now()
		WHERE id = $1 AND is_deleted = false
		RETURNING `+videoColumns)
}

// MarkDownloaded records that the owner has downloaded the asset.
func (s *Service) MarkDownloaded(ctx context.Context, videoID, callerID string) (*Video, error) {
	return s.ownerUpdate(ctx, videoID, callerID, `
		UPDATE videos SET is_downloaded = true, updated_at = now()
		WHERE id = $1 AND is_deleted = false
		RETURNING `+videoColumns)
}

// IncrementViews bumps the view counter.
func (s *Service) IncrementViews(ctx context.Context, videoID string) error {
	id, err := db.ParseUUID(videoID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE videos SET view_count = view_count + 1
		WHERE id = $1 AND is_deleted = false`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProcessingStatus updates the processing state of a video.
func (s *Service) SetProcessingStatus(ctx context.Context, videoID string, status ProcessingStatus) error {
	id, err := db.ParseUUID(videoID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE videos SET processing_status = $2, updated_at = now()
		WHERE id = $1 AND is_deleted = false`, id, string(status))
	if err != nil {
		return fmt.Errorf("update processing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete hides a video without removing stored bytes. Only the owner may
// delete.
func (s *Service) SoftDelete(ctx context.Context, videoID, callerID string) error {
	_, err := s.ownerUpdate(ctx, videoID, callerID, `
		UPDATE videos SET is_deleted = true, deleted_at = now(), updated_at = now()
		WHERE id = $1 AND is_deleted = false
		RETURNING `+videoColumns)
	return err
}

// PermanentDelete removes the metadata record entirely and returns the video
// so the caller can also remove the stored objects. Only the owner, or a
// caller with the superadmin role, may delete.
func (s *Service) PermanentDelete(ctx context.Context, videoID, callerID string, isAdmin bool) (*Video, error) {
	id, err := db.ParseUUID(videoID)
	if err != nil {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select video: %w", err)
	}
	if video.OwnerID != callerID && !isAdmin {
		return nil, ErrNotOwner
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete video: %w", err)
	}
	s.logger.Info("video permanently deleted", slog.String("video_id", videoID))
	return video, nil
}

// CreateCaption commits a caption record for a video.
func (s *Service) CreateCaption(ctx context.Context, params CreateCaptionParams) (*Caption, error) {
	videoID, err := db.ParseUUID(params.VideoID)
	if err != nil {
		return nil, ErrNotFound
	}
	captionID, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO captions (id, video_id, language, language_code, caption_url, storage_key, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, video_id, language, language_code, caption_url, storage_key, size_bytes, created_at`,
		captionID, videoID, params.Language, params.LanguageCode, params.CaptionURL,
		params.StorageKey, params.SizeBytes)
	caption, err := scanCaption(row)
	if db.IsUniqueViolation(err) {
		return nil, ErrDuplicateCaption
	}
	if err != nil {
		return nil, fmt.Errorf("insert caption: %w", err)
	}
	return caption, nil
}

// ListCaptions returns all caption tracks of a video.
func (s *Service) ListCaptions(ctx context.Context, videoID string) ([]*Caption, error) {
	id, err := db.ParseUUID(videoID)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, video_id, language, language_code, caption_url, storage_key, size_bytes, created_at
		FROM captions WHERE video_id = $1 ORDER BY language`, id)
	if err != nil {
		return nil, fmt.Errorf("list captions: %w", err)
	}
	defer rows.Close()
	var captions []*Caption
	for rows.Next() {
		caption, err := scanCaption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan caption: %w", err)
		}
		captions = append(captions, caption)
	}
	return captions, rows.Err()
}

func (s *Service) ownerUpdate(ctx context.Context, videoID, callerID, query string) (*Video, error) {
	current, err := s.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	id, err := db.ParseUUID(videoID)
	if err != nil {
		return nil, ErrNotFound
	}
	video, err := scanVideo(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update video: %w", err)
	}
	return video, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var video Video
	var id, ownerID pgtype.UUID
	var thumbnailURL pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&id, &ownerID, &video.Title, &video.Description, &video.Tags,
		&video.VideoURL, &thumbnailURL, &video.StorageKey, &video.FolderPath,
		&video.SizeBytes, &video.IsPublic, &video.IsDownloaded, &video.IsDeleted,
		&video.ViewCount, &video.EmbedLink, &video.ProcessingStatus, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	video.ID = db.UUIDToString(id)
	video.OwnerID = db.UUIDToString(ownerID)
	video.ThumbnailURL = db.TextToString(thumbnailURL)
	video.CreatedAt = db.TimeFromPg(createdAt)
	video.UpdatedAt = db.TimeFromPg(updatedAt)
	return &video, nil
}

func scanVideos(rows pgx.Rows) ([]*Video, error) {
	defer rows.Close()
	var videos []*Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func scanCaption(row rowScanner) (*Caption, error) {
	var (
		id, videoID pgtype.UUID
		createdAt   pgtype.Timestamptz
		caption     Caption
	)
	err := row.Scan(&id, &videoID, &caption.Language, &caption.LanguageCode,
		&caption.CaptionURL, &caption.StorageKey, &caption.SizeBytes, &createdAt)
	if err != nil {
		return nil, err
	}
	caption.ID = db.UUIDToString(id)
	caption.VideoID = db.UUIDToString(videoID)
	caption.CreatedAt = db.TimeFromPg(createdAt)
	return &caption, nil
}

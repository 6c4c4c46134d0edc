// Package videos manages video and caption metadata records.
package videos

import "time"

// ProcessingStatus tracks post-ingestion processing of a video.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusReady      ProcessingStatus = "ready"
	StatusFailed     ProcessingStatus = "failed"
)

// Video is one stored media asset and its metadata.
type Video struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"ownerId"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Tags             []string         `json:"tags"`
	VideoURL         string           `json:"videoUrl"`
	ThumbnailURL     string           `json:"thumbnailUrl,omitempty"`
	StorageKey       string           `json:"-"`
	FolderPath       string           `json:"folderPath,omitempty"`
	SizeBytes        int64            `json:"sizeBytes"`
	IsPublic         bool             `json:"isPublic"`
	IsDownloaded     bool             `json:"isDownloaded"`
	IsDeleted        bool             `json:"-"`
	ViewCount        int64            `json:"viewCount"`
	EmbedLink        string           `json:"embedLink,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Caption is one subtitle track attached to a video.
type Caption struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"videoId"`
	Language     string    `json:"language"`
	LanguageCode string    `json:"languageCode"`
	CaptionURL   string    `json:"captionUrl"`
	StorageKey   string    `json:"-"`
	SizeBytes    int64     `json:"sizeBytes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateVideoParams carries everything needed to commit a new video record.
type CreateVideoParams struct {
	ID           string
	OwnerID      string
	Title        string
	Description  string
	Tags         []string
	VideoURL     string
	ThumbnailURL string
	StorageKey   string
	FolderPath   string
	SizeBytes    int64
	IsPublic     bool
	EmbedLink    string
}

// CreateCaptionParams carries everything needed to commit a caption record.
type CreateCaptionParams struct {
	VideoID      string
	Language     string
	LanguageCode string
	CaptionURL   string
	StorageKey   string
	SizeBytes    int64
}

// ListParams bounds list and search queries.
type ListParams struct {
	Limit  int
	Offset int
}

func (p ListParams) normalize() ListParams {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

package storage

import "path"

const collection = "videos"

// VideoKey returns the object key for a video's primary file.
func VideoKey(ownerID, videoID, filename string) string {
	return path.Join(collection, ownerID, videoID, "video", filename)
}

// ThumbnailKey returns the object key for a video's thumbnail.
func ThumbnailKey(ownerID, videoID, filename string) string {
	return path.Join(collection, ownerID, videoID, "thumbnail", filename)
}

// CaptionKey returns the object key for one caption track.
func CaptionKey(ownerID, videoID, language, filename string) string {
	return path.Join(collection, ownerID, videoID, "caption", language, filename)
}

// AssetPrefix returns the key prefix holding every object of one asset,
// used to remove the asset wholesale.
func AssetPrefix(ownerID, videoID string) string {
	return path.Join(collection, ownerID, videoID) + "/"
}

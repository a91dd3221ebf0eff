package storage

const (
	DefaultImagesDir = "images"
	DefaultVideosDir = "videos"
	DefaultInfoFile  = "info.json"

	DefaultImageExt = ".jpg"
	DefaultVideoExt = ".avi"

	DefaultFilePerm = 0660
	DefaultDirPerm  = 0750

	timeLayout = "20060102-150405"
)

package models

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var photoMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
}

// ValidatePhotoFileType reports whether fileName has an accepted image extension
func ValidatePhotoFileType(fileName string) bool {
	_, ok := photoMimeTypes[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

// PhotoMimeType returns the content type for an accepted image file name
func PhotoMimeType(fileName string) string {
	if mime, ok := photoMimeTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// TaskPhotoPrefix is the object key prefix of every photo of a task
func TaskPhotoPrefix(orgID, taskID int64) string {
	return fmt.Sprintf("%d/tasks/%d/", orgID, taskID)
}

// PhotoObjectKey builds a unique object key for a new photo of a task group
func PhotoObjectKey(orgID, taskID int64, group PhotoGroup, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("%s%s/%s%s", TaskPhotoPrefix(orgID, taskID), group, uuid.NewString(), ext)
}

// IsTaskPhoto reports whether ref was issued for this task
func IsTaskPhoto(ref string, orgID, taskID int64) bool {
	return strings.HasPrefix(ref, TaskPhotoPrefix(orgID, taskID))
}

// Package archive defines core types shared across subsystems.
package archive

import (
	"time"
)

// PostType classifies a remote post.
type PostType string

// Post types persisted in posts.type.
const (
	PostTypeImage   PostType = "image"
	PostTypeVideo   PostType = "video"
	PostTypeSidecar PostType = "sidecar"
)

// MediaType classifies a single stored media element.
type MediaType string

// Media types persisted in post_items.type.
const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// TaskType selects the crawl strategy used for a task.
type TaskType string

// Task types persisted in tasks.type.
const (
	TaskTypeCatchUp    TaskType = "catch_up"
	TaskTypeTimeRange  TaskType = "time_range"
	TaskTypeSavedPosts TaskType = "saved_posts"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeCatchUp, TaskTypeTimeRange, TaskTypeSavedPosts:
		return true
	default:
		return false
	}
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task status values persisted in tasks.status.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
)

// Profile is an archived account.
type Profile struct {
	Username      string  `json:"username"`
	FullName      string  `json:"full_name"`
	DisplayName   string  `json:"display_name"`
	Biography     *string `json:"biography,omitempty"`
	ImageFilename string  `json:"image_filename"`
	AutoArchive   bool    `json:"auto_archive"`
	// LastArchiveAt is when the auto-archive selector last serviced the profile.
	LastArchiveAt *time.Time `json:"last_archive_timestamp,omitempty"`
	// LastArchiveWatermark is the newest remote post timestamp seen by the selector.
	LastArchiveWatermark *time.Time `json:"last_archive_latest_post_timestamp,omitempty"`
}

// Post is one archived remote content item. Shortcode is its natural key.
type Post struct {
	Shortcode string     `json:"shortcode"`
	Username  string     `json:"username"`
	Timestamp time.Time  `json:"timestamp"`
	Type      PostType   `json:"type"`
	Caption   *string    `json:"caption,omitempty"`
	Hashtags  []string   `json:"caption_hashtags"`
	Mentions  []string   `json:"caption_mentions"`
	Items     []PostItem `json:"items"`
}

// PostItem is one stored media element of a post, keyed by (Shortcode, Index).
type PostItem struct {
	Shortcode     string    `json:"shortcode"`
	Index         int       `json:"index"`
	Type          MediaType `json:"type"`
	Duration      *float64  `json:"duration,omitempty"`
	Filename      string    `json:"filename"`
	ThumbFilename *string   `json:"thumb_image_filename,omitempty"`
}

// Task is one queued or executed archival job.
type Task struct {
	ID              string     `json:"id"`
	Username        *string    `json:"username,omitempty"`
	UserDisplayName *string    `json:"user_display_name,omitempty"`
	Type            TaskType   `json:"type"`
	Status          TaskStatus `json:"status"`
	Created         time.Time  `json:"created"`
	Started         *time.Time `json:"started,omitempty"`
	Completed       *time.Time `json:"completed,omitempty"`
	PostCount       *int       `json:"post_count,omitempty"`
	TimeRangeStart  *time.Time `json:"time_range_start,omitempty"`
	TimeRangeEnd    *time.Time `json:"time_range_end,omitempty"`
	// ScanLimit bounds how many saved posts are examined; nil means stop at the first known post.
	ScanLimit *int `json:"scan_limit,omitempty"`
}

// Count returns the running post count, treating an unset count as zero.
func (t Task) Count() int {
	if t.PostCount == nil {
		return 0
	}
	return *t.PostCount
}

// TaskRequest captures a task-creation call.
type TaskRequest struct {
	Type           TaskType   `json:"type"`
	Usernames      []string   `json:"usernames"`
	TimeRangeStart *time.Time `json:"time_range_start"`
	TimeRangeEnd   *time.Time `json:"time_range_end"`
	ScanLimit      *int       `json:"scan_limit"`
}

// SortOrder orders task listings by creation time.
type SortOrder string

// Supported listing orders.
const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// TaskFilter narrows a task listing.
type TaskFilter struct {
	Statuses []TaskStatus
	Username *string
	Offset   int
	Limit    int
	Order    SortOrder
}

// TaskPage is one page of a task listing plus the total match count.
type TaskPage struct {
	Tasks  []Task `json:"tasks"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
}

// ProfileRecord is a profile as reported by the content source.
type ProfileRecord struct {
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	Biography string `json:"biography"`
	AvatarURL string `json:"avatar_url"`
}

// PostRecord is a post as reported by the content source.
type PostRecord struct {
	Shortcode     string    `json:"shortcode"`
	OwnerUsername string    `json:"owner_username"`
	CreatedAt     time.Time `json:"created_at"`
	Pinned        bool      `json:"pinned"`
	Type          PostType  `json:"type"`
	Caption       string    `json:"caption"`
	Hashtags      []string  `json:"hashtags"`
	Mentions      []string  `json:"mentions"`
	// MediaURL, ThumbnailURL and VideoDuration describe single-item posts.
	MediaURL      string  `json:"media_url"`
	ThumbnailURL  string  `json:"thumbnail_url"`
	VideoDuration float64 `json:"video_duration"`
	// Items lists the children of a sidecar post in display order.
	Items []ItemRecord `json:"items"`
}

// ItemRecord is one child of a sidecar post.
type ItemRecord struct {
	IsVideo       bool    `json:"is_video"`
	MediaURL      string  `json:"media_url"`
	ThumbnailURL  string  `json:"thumbnail_url"`
	VideoDuration float64 `json:"video_duration"`
}

// Media is a downloaded payload.
type Media struct {
	Data        []byte
	ContentType string
}

// AutoArchiveResult is what an auto-archive pass reports back to the catalog.
type AutoArchiveResult struct {
	ArchivedAt time.Time
	// Watermark is the newest post timestamp seen; nil keeps the stored value.
	Watermark *time.Time
}

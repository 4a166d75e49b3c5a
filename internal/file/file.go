// Package file implements the File Record of the state store: the upload metadata, archive coordinate, and download
// counter for one distributable post.
package file

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the file package.
var (
	ErrNotFound      = errors.New("file not found")
	ErrPostNoExists  = errors.New("post number already in use")
	ErrInvalidPostNo = errors.New("post number must be a positive integer")
)

// Coordinate addresses an item in a Telegram chat by (chat id, message id), as returned by the Archive Store at
// upload time or used to mirror a post into the public group.
type Coordinate struct {
	ChatID    int64
	MessageID int64
}

// File holds the fields read from the database for one post.
type File struct {
	PostNo    int64
	Title     string
	Extra     string
	Archive   Coordinate
	Public    *Coordinate
	Password  string
	Downloads int64
	CreatedAt time.Time
}

// CreateParams groups the inputs for registering a new upload.
type CreateParams struct {
	PostNo   int64
	Title    string
	Extra    string
	Archive  Coordinate
	Public   *Coordinate
	Password string
}

// Repository defines the data-access contract for file operations.
type Repository interface {
	// Create inserts a new file record. PostNo must be unique; a duplicate fails with ErrPostNoExists.
	Create(ctx context.Context, params CreateParams) (*File, error)

	// GetByPostNo returns the file matching post_no, or ErrNotFound.
	GetByPostNo(ctx context.Context, postNo int64) (*File, error)

	// IncrementDownloads atomically increments the downloads counter for postNo in a single round trip.
	IncrementDownloads(ctx context.Context, postNo int64) error

	// Delete removes the file record for postNo.
	Delete(ctx context.Context, postNo int64) error
}

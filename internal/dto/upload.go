package dto

import "io"

// UploadFile is one file received from a multipart request.
type UploadFile struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

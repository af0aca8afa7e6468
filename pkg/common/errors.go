package common

import "errors"

var (
	ErrFileHeaderMismatch = errors.New("unexpected archive header")
	ErrTruncated          = errors.New("truncated data")
	ErrNameTooLong        = errors.New("embedded name exceeds name block")
	ErrInvalidName        = errors.New("embedded name is not single-byte text")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrFileTooLarge       = errors.New("file too large for entry length field")
	ErrArchiveTooLarge    = errors.New("archive too large for offset field")
)

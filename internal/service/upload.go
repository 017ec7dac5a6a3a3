package service

import (
	"bytes"
	"errors"
	"io"

	"github.com/gabriel-vasile/mimetype"

	"github.com/inventory-importer/internal/decoder"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/types"
)

// sniffLen matches the amount of input mimetype inspects by default
const sniffLen = 3072

var errFileTooLarge = errors.New("file exceeds size limit")

// sizeLimiter fails once more than limit bytes were read. Declared sizes can
// be wrong, so the limit is enforced on the bytes actually streamed.
type sizeLimiter struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (l *sizeLimiter) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, errFileTooLarge
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		l.exceeded = true
		return n, errFileTooLarge
	}
	return n, err
}

// upload is a checked file ready to be decoded
type upload struct {
	body    io.Reader
	limiter *sizeLimiter
	mime    string
	format  types.FileFormat
}

// inspectUpload enforces presence, size and content type. The type is
// detected from the content, not taken from the client.
func inspectUpload(file io.Reader, fileName string, size int64, cfg ImportConfig) (*upload, *apperrors.CategorizedError) {
	if file == nil || size == 0 {
		return nil, apperrors.NewMissingFileError()
	}
	if size > cfg.MaxFileSize {
		return nil, apperrors.NewFileTooLargeError(size, cfg.MaxFileSize)
	}

	file, actual, err := measure(file, cfg.MaxFileSize)
	if err != nil {
		return nil, apperrors.NewMalformedFileError(err)
	}
	if actual > cfg.MaxFileSize {
		return nil, apperrors.NewFileTooLargeError(actual, cfg.MaxFileSize)
	}

	limiter := &sizeLimiter{r: file, limit: cfg.MaxFileSize}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(limiter, head)
	switch {
	case errors.Is(err, errFileTooLarge):
		return nil, apperrors.NewFileTooLargeError(limiter.read, cfg.MaxFileSize)
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF):
		return nil, apperrors.NewMalformedFileError(err)
	}
	head = head[:n]
	if len(bytes.TrimSpace(head)) == 0 {
		return nil, apperrors.NewMissingFileError()
	}

	detected := mimetype.Detect(head)
	if !mimeAllowed(detected, cfg.AllowedMIME) {
		return nil, apperrors.NewUnsupportedFileTypeError(detected.String())
	}

	return &upload{
		body:    io.MultiReader(bytes.NewReader(head), limiter),
		limiter: limiter,
		mime:    detected.String(),
		format:  decoder.FormatFor(detected.String(), fileName),
	}, nil
}

// measure returns the real remaining size of file so an understated size
// is caught before any job exists. Seekable files are measured in place;
// anything else is buffered up to limit+1 bytes.
func measure(file io.Reader, limit int64) (io.Reader, int64, error) {
	if s, ok := file.(io.Seeker); ok {
		cur, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, 0, err
		}
		end, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, err
		}
		if _, err := s.Seek(cur, io.SeekStart); err != nil {
			return nil, 0, err
		}
		return file, end - cur, nil
	}
	buf, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(buf), int64(len(buf)), nil
}

func mimeAllowed(m *mimetype.MIME, allowed []string) bool {
	for _, a := range allowed {
		if m.Is(a) {
			return true
		}
	}
	return false
}

package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"truthlens/internal/logging"
	"truthlens/internal/uploadcache"
)

// FileState is the processing state of an uploaded file.
type FileState string

const (
	FileStateUnspecified FileState = "STATE_UNSPECIFIED"
	FileStateProcessing  FileState = "PROCESSING"
	FileStateActive      FileState = "ACTIVE"
	FileStateFailed      FileState = "FAILED"
)

// File is a remote asset created through the File API.
type File struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName,omitempty"`
	MIMEType    string    `json:"mimeType"`
	SizeBytes   string    `json:"sizeBytes,omitempty"`
	URI         string    `json:"uri"`
	State       FileState `json:"state"`
	Error       *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type fileEnvelope struct {
	File File `json:"file"`
}

// Upload sends the file at path using the resumable upload protocol. With an
// upload cache attached, a live remote copy of identical content is reused.
func (c *Client) Upload(ctx context.Context, path, mimeType string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("gemini upload: %w", err)
	}
	hash := ""
	if c.cache != nil {
		if hash, err = uploadcache.HashFile(path); err != nil {
			return File{}, fmt.Errorf("gemini upload: hash: %w", err)
		}
		if file, ok := c.reuse(ctx, hash); ok {
			return file, nil
		}
	}

	file, err := c.uploadResumable(ctx, path, mimeType, info.Size())
	if err != nil {
		return File{}, err
	}
	if c.cache != nil {
		entry := uploadcache.Entry{Hash: hash, Name: file.Name, URI: file.URI, MIMEType: file.MIMEType, SizeBytes: info.Size()}
		if err := c.cache.Put(ctx, entry); err != nil {
			c.logger.Warn("upload cache write failed", logging.Error(err), logging.String("file", file.Name))
		}
	}
	return file, nil
}

// reuse returns the cached remote file for hash when it still exists and has
// not failed; stale entries are dropped.
func (c *Client) reuse(ctx context.Context, hash string) (File, bool) {
	entry, err := c.cache.Lookup(ctx, hash)
	if err != nil {
		c.logger.Warn("upload cache lookup failed", logging.Error(err))
		return File{}, false
	}
	if entry == nil {
		return File{}, false
	}
	file, err := c.Get(ctx, entry.Name)
	if err != nil || file.State == FileStateFailed {
		if err != nil && !IsNotFound(err) {
			c.logger.Warn("cached upload check failed", logging.String("file", entry.Name), logging.Error(err))
		}
		if invErr := c.cache.Invalidate(ctx, hash); invErr != nil {
			c.logger.Warn("upload cache invalidate failed", logging.Error(invErr))
		}
		return File{}, false
	}
	c.logger.Info("reusing uploaded file", logging.String("file", file.Name), logging.String("state", string(file.State)))
	return file, true
}

func (c *Client) uploadResumable(ctx context.Context, path, mimeType string, size int64) (File, error) {
	startURL, err := url.JoinPath(c.cfg.BaseURL, "upload", apiVersion, "files")
	if err != nil {
		return File{}, fmt.Errorf("gemini upload: build url: %w", err)
	}
	meta, err := jsonBody(map[string]any{"file": map[string]string{"display_name": filepath.Base(path)}})
	if err != nil {
		return File{}, err
	}
	start, err := c.doWithRetry(ctx, "gemini upload start", request{
		method: http.MethodPost,
		url:    startURL,
		body:   meta,
		headers: map[string]string{
			"Content-Type":                        "application/json",
			"X-Goog-Upload-Protocol":              "resumable",
			"X-Goog-Upload-Command":               "start",
			"X-Goog-Upload-Header-Content-Length": strconv.FormatInt(size, 10),
			"X-Goog-Upload-Header-Content-Type":   mimeType,
		},
	})
	if err != nil {
		return File{}, err
	}
	uploadURL := strings.TrimSpace(start.header.Get("X-Goog-Upload-URL"))
	if uploadURL == "" {
		return File{}, errors.New("gemini upload start: missing upload url")
	}

	done, err := c.doWithRetry(ctx, "gemini upload", request{
		method: http.MethodPost,
		url:    uploadURL,
		body: func() (io.Reader, error) {
			return os.Open(path)
		},
		headers: map[string]string{
			"Content-Length":        strconv.FormatInt(size, 10),
			"X-Goog-Upload-Offset":  "0",
			"X-Goog-Upload-Command": "upload, finalize",
		},
	})
	if err != nil {
		return File{}, err
	}
	var env fileEnvelope
	if err := decodeBody(done.body, &env); err != nil {
		return File{}, fmt.Errorf("gemini upload: %w", err)
	}
	if env.File.Name == "" {
		return File{}, errors.New("gemini upload: response missing file name")
	}
	c.logger.Info("uploaded file",
		logging.String("file", env.File.Name),
		logging.String("mime_type", env.File.MIMEType),
		logging.Any("size_bytes", size),
	)
	return env.File, nil
}

// Get fetches the current metadata of a remote file.
func (c *Client) Get(ctx context.Context, name string) (File, error) {
	endpoint, err := c.endpoint(name)
	if err != nil {
		return File{}, fmt.Errorf("gemini get file: build url: %w", err)
	}
	var file File
	if err := c.doJSON(ctx, "gemini get file", http.MethodGet, endpoint, nil, &file); err != nil {
		return File{}, err
	}
	return file, nil
}

// State reports the processing state of file. A file reported FAILED drops
// its upload cache entry.
func (c *Client) State(ctx context.Context, file File) (FileState, error) {
	current, err := c.Get(ctx, file.Name)
	if err != nil {
		if IsNotFound(err) {
			c.invalidateName(ctx, file.Name)
		}
		return "", err
	}
	if current.State == FileStateFailed {
		c.invalidateName(ctx, file.Name)
	}
	return current.State, nil
}

// Delete removes a remote file and its upload cache entry. A file that is
// already gone is not an error.
func (c *Client) Delete(ctx context.Context, file File) error {
	endpoint, err := c.endpoint(file.Name)
	if err != nil {
		return fmt.Errorf("gemini delete file: build url: %w", err)
	}
	c.invalidateName(ctx, file.Name)
	if err := c.doJSON(ctx, "gemini delete file", http.MethodDelete, endpoint, nil, nil); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

func (c *Client) invalidateName(ctx context.Context, name string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateName(ctx, name); err != nil {
		c.logger.Warn("upload cache invalidate failed", logging.String("file", name), logging.Error(err))
	}
}

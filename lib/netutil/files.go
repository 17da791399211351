// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// Progress reports transfer progress. total is zero when the size is
// unknown (chunked downloads without Content-Length).
type Progress func(transferred, total int64)

// progressReader invokes the callback as bytes flow through.
type progressReader struct {
	inner       io.Reader
	transferred int64
	total       int64
	progress    Progress
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.transferred += int64(n)
		if r.progress != nil {
			r.progress(r.transferred, r.total)
		}
	}
	return n, err
}

// UploadMultipart posts a file as a multipart form. fields are sent as
// ordinary form values before the file part (named "file"). Returns
// the bounded response body; non-2xx statuses return an *HTTPError.
//
// The request body is streamed through an io.Pipe so large files never
// load into memory.
func UploadMultipart(ctx context.Context, client *http.Client, url string, fields map[string]string, filePath string, progress Progress) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("netutil: opening upload file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("netutil: stat upload file: %w", err)
	}

	pipeReader, pipeWriter := io.Pipe()
	writer := multipart.NewWriter(pipeWriter)
	go func() {
		defer pipeWriter.Close()
		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				pipeWriter.CloseWithError(err)
				return
			}
		}
		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pipeWriter.CloseWithError(err)
			return
		}
		reader := &progressReader{inner: file, total: info.Size(), progress: progress}
		if _, err := io.Copy(part, reader); err != nil {
			pipeWriter.CloseWithError(err)
			return
		}
		pipeWriter.CloseWithError(writer.Close())
	}()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pipeReader)
	if err != nil {
		return nil, fmt.Errorf("netutil: creating upload request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("netutil: upload to %s: %w", url, err)
	}
	defer response.Body.Close()

	body, err := ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("netutil: reading upload response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return body, &HTTPError{StatusCode: response.StatusCode, Body: string(body)}
	}
	return body, nil
}

// DecodeUploadURL extracts the "url" field from an upload response.
func DecodeUploadURL(body []byte) (string, error) {
	var response struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("netutil: parsing upload response: %w", err)
	}
	if response.URL == "" {
		return "", fmt.Errorf("netutil: upload response has no url")
	}
	return response.URL, nil
}

// DownloadToFile streams a GET response to outPath. The write goes
// through a temp file renamed into place on success, so a failed
// download never leaves a partial file at the destination.
func DownloadToFile(ctx context.Context, client *http.Client, url, outPath string, progress Progress) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("netutil: creating download request: %w", err)
	}
	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("netutil: download from %s: %w", url, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		errBody, _ := ReadResponse(response.Body)
		return &HTTPError{StatusCode: response.StatusCode, Body: string(errBody)}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("netutil: creating download directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".download-*")
	if err != nil {
		return fmt.Errorf("netutil: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	total := response.ContentLength
	if total < 0 {
		total = 0
	}
	reader := &progressReader{inner: response.Body, total: total, progress: progress}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("netutil: writing download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("netutil: closing download: %w", err)
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return fmt.Errorf("netutil: placing download: %w", err)
	}
	return nil
}

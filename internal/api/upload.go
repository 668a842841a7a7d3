package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

const uploadPath = "api/photo/upload"

// UploadPhoto sends image bytes plus metadata as one multipart request and
// returns the authoritative photo record. Failure classification matches
// Call.
func (c *Client) UploadPhoto(ctx context.Context, image []byte, req UploadPhotoRequest) (PhotoDTO, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("image", "photo.jpg")
	if err != nil {
		return PhotoDTO{}, fmt.Errorf("build upload body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return PhotoDTO{}, fmt.Errorf("build upload body: %w", err)
	}
	w.WriteField("title", req.Title)
	w.WriteField("description", req.Description)
	w.WriteField("photoDate", req.PhotoDate)
	for _, id := range req.PersonIDs {
		w.WriteField("personIds", strconv.FormatInt(id, 10))
	}
	if err := w.Close(); err != nil {
		return PhotoDTO{}, fmt.Errorf("build upload body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(uploadPath), &body)
	if err != nil {
		return PhotoDTO{}, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if access := c.tokens.Access(); access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PhotoDTO{}, &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return PhotoDTO{}, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return PhotoDTO{}, &ServerError{Status: resp.StatusCode, Body: string(data)}
	}

	var decoded PhotoDTO
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PhotoDTO{}, &DecodeError{Err: err}
	}
	return decoded, nil
}

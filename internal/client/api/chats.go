package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
)

// MaxImageSize mirrors the backend upload limit.
const MaxImageSize = 5 << 20

// Client-side upload rejections; nothing is sent when these are returned.
var (
	ErrImageTooLarge = errors.New("image exceeds the 5 MB limit")
	ErrImageType     = errors.New("only png, jpeg and webp images are allowed")
	ErrImageEmpty    = errors.New("image is empty")
)

var allowedImageTypes = map[string]bool{"image/png": true, "image/jpeg": true, "image/webp": true}

const (
	imageFormField      = "image"
	defaultUploadedName = "image"
)

// ListChats returns the chats of the signed-in user.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var resp listResponse[Chat]
	if _, err := c.do(ctx, http.MethodGet, "/api/chats/me", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// OpenChat is the idempotent create-or-get by participant pair. created is
// true when the chat did not exist before.
func (c *Client) OpenChat(ctx context.Context, recipientID string) (chat *Chat, created bool, err error) {
	var out Chat
	in := map[string]string{"recipientId": recipientID}
	status, err := c.do(ctx, http.MethodPost, "/api/chats/me", in, &out)
	if err != nil {
		return nil, false, err
	}
	return &out, status == http.StatusCreated, nil
}

// ChatMessages returns the history of a chat, oldest first.
func (c *Client) ChatMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	var resp listResponse[ChatMessage]
	path := "/api/chats/me/" + url.PathEscape(chatID) + "/messages"
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// MarkChatRead marks the counterpart's messages in a chat read.
func (c *Client) MarkChatRead(ctx context.Context, chatID string) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	path := "/api/chats/me/" + url.PathEscape(chatID) + "/read"
	if _, err := c.do(ctx, http.MethodPatch, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// CheckImage reads the whole image, enforcing the size limit and the
// allowed types, and returns the bytes with their sniffed content type.
func CheckImage(r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrImageEmpty
	}
	if len(data) > MaxImageSize {
		return nil, "", ErrImageTooLarge
	}
	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		return nil, "", ErrImageType
	}
	return data, contentType, nil
}

// UploadChatImage checks the image locally, then posts it as multipart
// field "image". The returned message is the persisted image message.
func (c *Client) UploadChatImage(ctx context.Context, chatID, filename string, r io.Reader) (*ChatMessage, error) {
	data, contentType, err := CheckImage(r)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = defaultUploadedName
	}

	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, imageFormField, filepath.Base(filename)))
	header.Set("Content-Type", contentType)
	part, err := mpw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write multipart part: %w", err)
	}
	if err := mpw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	path := "/api/chats/me/" + url.PathEscape(chatID) + "/upload"
	req, err := c.newRequest(ctx, http.MethodPost, path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mpw.FormDataContentType())

	var msg ChatMessage
	if _, err := c.send(c.http, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ListNotifications fetches one page of the user's notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, limit, offset int) (*NotificationPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/notifications/me"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page NotificationPage
	if _, err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// MarkNotificationsRead marks ids read and returns the ids the server
// acknowledged. Ids the user does not own are silently skipped by the server.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []string) ([]string, error) {
	var resp struct {
		Updated []string `json:"updated"`
	}
	in := map[string][]string{"notificationIds": ids}
	if _, err := c.do(ctx, http.MethodPatch, "/api/notifications/read-many", in, &resp); err != nil {
		return nil, err
	}
	return resp.Updated, nil
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	path := "/api/notifications/" + url.PathEscape(id) + "/read"
	if _, err := c.do(ctx, http.MethodPatch, path, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// OpenNotificationStream opens GET /api/notifications/stream and returns the
// event-stream body. The caller closes it.
func (c *Client) OpenNotificationStream(ctx context.Context, lastEventID string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/notifications/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open notification stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// UserInfo fetches the public profile of a user, used for sender avatars.
func (c *Client) UserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	var info UserInfo
	path := "/api/users/" + url.PathEscape(userID) + "/avatar"
	if _, err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

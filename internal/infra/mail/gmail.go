package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client talks to the Gmail REST API on behalf of a signed-in user. The
// caller supplies the user's OAuth access token per request; no token is
// stored here.
type Client struct {
	HTTPClient  *http.Client
	BaseURL     string
	UserInfoURL string
	Logger      *slog.Logger
}

const (
	defaultBaseURL     = "https://gmail.googleapis.com"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

var (
	ErrTokenRequired = errors.New("mail: access token is required")
	ErrUnauthorized  = errors.New("mail: access token rejected")
)

// OutgoingMessage is a plain or HTML mail to send as the user.
type OutgoingMessage struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// MessageSummary is the metadata projection used by the sent-mail listing.
type MessageSummary struct {
	ID      string
	To      string
	Subject string
	Date    string
	Snippet string
}

// Account describes the mailbox owner.
type Account struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Send submits a message via users/me/messages/send. The RFC 822 payload is
// carried base64url-encoded in the request body per the Gmail API contract.
func (c *Client) Send(ctx context.Context, token string, msg OutgoingMessage) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrTokenRequired
	}
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("mail: recipient is required")
	}
	raw := base64.RawURLEncoding.EncodeToString(BuildRaw(msg))
	body, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return "", err
	}
	endpoint := c.baseURL() + "/gmail/v1/users/me/messages/send"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)

	var sent struct {
		ID string `json:"id"`
	}
	if err := c.do(request, &sent); err != nil {
		return "", err
	}
	if c.Logger != nil {
		c.Logger.Info("mail sent", "message_id", sent.ID, "to", msg.To)
	}
	return sent.ID, nil
}

// ListSent returns metadata for the newest messages carrying the SENT label.
func (c *Client) ListSent(ctx context.Context, token string, limit int) ([]MessageSummary, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}
	if limit <= 0 {
		limit = 20
	}
	endpoint := c.baseURL() + "/gmail/v1/users/me/messages?labelIds=SENT&maxResults=" + strconv.Itoa(limit)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+token)

	var listing struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := c.do(request, &listing); err != nil {
		return nil, err
	}

	result := make([]MessageSummary, 0, len(listing.Messages))
	for _, ref := range listing.Messages {
		summary, err := c.Get(ctx, token, ref.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, *summary)
	}
	return result, nil
}

// Get fetches a single message in metadata format.
func (c *Client) Get(ctx context.Context, token, id string) (*MessageSummary, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}
	query := url.Values{}
	query.Set("format", "metadata")
	query.Add("metadataHeaders", "To")
	query.Add("metadataHeaders", "Subject")
	query.Add("metadataHeaders", "Date")
	endpoint := c.baseURL() + "/gmail/v1/users/me/messages/" + url.PathEscape(id) + "?" + query.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+token)

	var message struct {
		ID      string `json:"id"`
		Snippet string `json:"snippet"`
		Payload struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	if err := c.do(request, &message); err != nil {
		return nil, err
	}

	summary := MessageSummary{ID: message.ID, Snippet: message.Snippet}
	for _, header := range message.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "to":
			summary.To = header.Value
		case "subject":
			summary.Subject = header.Value
		case "date":
			summary.Date = header.Value
		}
	}
	return &summary, nil
}

// Profile resolves the mailbox owner from the userinfo endpoint.
func (c *Client) Profile(ctx context.Context, token string) (*Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}
	endpoint := c.UserInfoURL
	if endpoint == "" {
		endpoint = defaultUserInfoURL
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+token)

	var account Account
	if err := c.do(request, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// BuildRaw renders an RFC 822 message. The subject is MIME-encoded so
// non-ASCII text survives the wire.
func BuildRaw(msg OutgoingMessage) []byte {
	contentType := "text/plain; charset=UTF-8"
	if msg.HTML {
		contentType = "text/html; charset=UTF-8"
	}
	subject := "=?utf-8?B?" + base64.StdEncoding.EncodeToString([]byte(msg.Subject)) + "?="

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}

func (c *Client) do(request *http.Request, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail: api returned status %d: %s", resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultBaseURL
}

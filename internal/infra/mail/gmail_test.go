package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendEncodesRFC822Payload(t *testing.T) {
	var gotAuth string
	var gotRaw string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotRaw = body.Raw
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "sent-1"})
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL}
	id, err := client.Send(context.Background(), "tok", OutgoingMessage{
		To:      "pat@clinic.test",
		Subject: "Visit reminder",
		Body:    "See you tomorrow",
	})
	require.NoError(t, err)
	require.Equal(t, "sent-1", id)
	require.Equal(t, "Bearer tok", gotAuth)

	decoded, err := base64.RawURLEncoding.DecodeString(gotRaw)
	require.NoError(t, err)
	text := string(decoded)
	require.Contains(t, text, "To: pat@clinic.test\r\n")
	require.Contains(t, text, "Content-Type: text/plain; charset=UTF-8\r\n")
	require.Contains(t, text, "See you tomorrow")
	// The subject travels MIME-encoded.
	encodedSubject := "=?utf-8?B?" + base64.StdEncoding.EncodeToString([]byte("Visit reminder")) + "?="
	require.Contains(t, text, "Subject: "+encodedSubject+"\r\n")
}

func TestSendHTMLContentType(t *testing.T) {
	raw := BuildRaw(OutgoingMessage{To: "a@b.c", Subject: "s", Body: "<b>hi</b>", HTML: true})
	require.Contains(t, string(raw), "Content-Type: text/html; charset=UTF-8\r\n")
}

func TestSendValidation(t *testing.T) {
	client := &Client{}
	_, err := client.Send(context.Background(), "  ", OutgoingMessage{To: "a@b.c"})
	require.ErrorIs(t, err, ErrTokenRequired)
	_, err = client.Send(context.Background(), "tok", OutgoingMessage{})
	require.Error(t, err)
}

func TestListSentFetchesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/gmail/v1/users/me/messages":
			require.Equal(t, "SENT", r.URL.Query().Get("labelIds"))
			require.Equal(t, "2", r.URL.Query().Get("maxResults"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m1"}, {"id": "m2"}},
			})
		case strings.HasPrefix(r.URL.Path, "/gmail/v1/users/me/messages/"):
			id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
			require.Equal(t, "metadata", r.URL.Query().Get("format"))
			require.ElementsMatch(t, []string{"To", "Subject", "Date"}, r.URL.Query()["metadataHeaders"])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      id,
				"snippet": "snippet of " + id,
				"payload": map[string]any{
					"headers": []map[string]string{
						{"name": "To", "value": "pat@clinic.test"},
						{"name": "Subject", "value": "Re: " + id},
						{"name": "Date", "value": "Sat, 30 Aug 2026 10:00:00 +0000"},
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL}
	messages, err := client.ListSent(context.Background(), "tok", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "m1", messages[0].ID)
	require.Equal(t, "Re: m1", messages[0].Subject)
	require.Equal(t, "pat@clinic.test", messages[0].To)
	require.Equal(t, "snippet of m2", messages[1].Snippet)
}

func TestListSentEmptyMailbox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL}
	messages, err := client.ListSent(context.Background(), "tok", 0)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestUnauthorizedMapsToErrUnauthorized(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := &Client{BaseURL: server.URL}
		_, err := client.ListSent(context.Background(), "expired", 1)
		require.ErrorIs(t, err, ErrUnauthorized)
		server.Close()
	}
}

func TestAPIErrorCarriesStatusAndSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rateLimitExceeded"}`))
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL}
	_, err := client.ListSent(context.Background(), "tok", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
	require.Contains(t, err.Error(), "rateLimitExceeded")
}

func TestProfileUsesUserInfoEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/v2/userinfo", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"email":   "alice@clinic.test",
			"name":    "Alice",
			"picture": "https://example.test/alice.png",
		})
	}))
	defer server.Close()

	client := &Client{UserInfoURL: server.URL + "/oauth2/v2/userinfo"}
	account, err := client.Profile(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, "alice@clinic.test", account.Email)
	require.Equal(t, "Alice", account.Name)

	_, err = client.Profile(context.Background(), "")
	require.ErrorIs(t, err, ErrTokenRequired)
}

package gmail

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/inboxtriage/inboxtriage/internal/triage"
)

func triageRef(id string) triage.MessageRef {
	return triage.MessageRef{ID: id, ThreadID: "thread-" + id}
}

// newTestClient serves canned Gmail API responses and records requests.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(t.Context(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication())
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFetchPage(t *testing.T) {
	var gotQueries []map[string][]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages"), r.URL.Path)
		gotQueries = append(gotQueries, r.URL.Query())

		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(t, w, &gmail.ListMessagesResponse{
				Messages: []*gmail.Message{
					{Id: "m1", ThreadId: "t1"},
					{Id: "m2", ThreadId: "t2"},
				},
				NextPageToken: "page-2",
			})
			return
		}
		writeJSON(t, w, &gmail.ListMessagesResponse{
			Messages: []*gmail.Message{{Id: "m3", ThreadId: "t3"}},
		})
	})

	first, err := client.FetchPage(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, "page-2", first.NextToken)
	require.Len(t, first.Refs, 2)
	assert.Equal(t, "m1", first.Refs[0].ID)
	assert.Equal(t, "t1", first.Refs[0].ThreadID)

	second, err := client.FetchPage(t.Context(), first.NextToken)
	require.NoError(t, err)
	assert.Empty(t, second.NextToken)
	require.Len(t, second.Refs, 1)

	require.Len(t, gotQueries, 2)
	for _, q := range gotQueries {
		assert.Equal(t, []string{"UNREAD"}, q["labelIds"])
	}
	assert.NotContains(t, gotQueries[0], "pageToken")
	assert.Equal(t, []string{"page-2"}, gotQueries[1]["pageToken"])
}

func TestFetchPageError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 500}}`, http.StatusInternalServerError)
	})

	_, err := client.FetchPage(t.Context(), "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "listing unread messages")
}

func TestParseFetchesFullFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/m1"), r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("format"))

		writeJSON(t, w, &gmail.Message{
			Id:       "m1",
			LabelIds: []string{"UNREAD"},
			Payload: &gmail.MessagePart{
				Headers: []*gmail.MessagePartHeader{
					header("Subject", "hello"),
					header("To", "a@example.com"),
					header("From", "b@example.com"),
				},
				Parts: []*gmail.MessagePart{
					textPart("text/plain", base64.URLEncoding.EncodeToString([]byte("body text"))),
				},
			},
		})
	})

	rec, err := client.Parse(t.Context(), triageRef("m1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Subject)
	assert.Equal(t, "body text", rec.Body)
}

func TestParseFetchError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 404}}`, http.StatusNotFound)
	})

	_, err := client.Parse(t.Context(), triageRef("gone"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "fetching message gone")
}

func TestMarkRead(t *testing.T) {
	var gotBody gmail.ModifyMessageRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/m1/modify"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(t, w, &gmail.Message{Id: "m1"})
	})

	require.NoError(t, client.MarkRead(t.Context(), "m1"))
	assert.Equal(t, []string{"UNREAD"}, gotBody.RemoveLabelIds)
	assert.Empty(t, gotBody.AddLabelIds)
}

func TestMarkReadTwiceSucceeds(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/m1/modify"), r.URL.Path)
		var body gmail.ModifyMessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"UNREAD"}, body.RemoveLabelIds)

		// Removing a label the message no longer carries is a no-op on
		// the Gmail side: the second call gets the same success response
		// with the label already absent.
		calls++
		writeJSON(t, w, &gmail.Message{Id: "m1", LabelIds: []string{"INBOX"}})
	})

	require.NoError(t, client.MarkRead(t.Context(), "m1"))
	require.NoError(t, client.MarkRead(t.Context(), "m1"))
	assert.Equal(t, 2, calls)
}

func TestMarkReadError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 403}}`, http.StatusForbidden)
	})

	err := client.MarkRead(t.Context(), "m1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "marking message m1 as read")
}

package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantara/perpbot/internal/domain"
)

func TestProposePostsSnapshotAndReturnsPayload(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			Snapshot domain.StateSnapshot `json:"snapshot"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 5000.0, body.Snapshot.Equity)

		w.Write([]byte(`{"decision":"hold","reason":"nothing to do"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", func() domain.StateSnapshot {
		return domain.StateSnapshot{Mode: "paper", Equity: 5000}
	})

	payload, err := c.Propose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, string(payload), `"decision":"hold"`)
}

func TestProposeRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", func() domain.StateSnapshot {
		return domain.StateSnapshot{}
	})

	_, err := c.Propose(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

package drawsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eurobot/internal/lottery"
	"eurobot/pkg/logx"
)

func serve(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/draws" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, logx.Nop(), nil)
}

func TestFetchLatestPayloadVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		body  string
		date  string
		nums  []int
		stars []int
	}{
		{
			name: "array takes last",
			body: `[{"date":"2024-05-07","numbers":[1,2,3,4,5],"stars":[1,2]},{"date":"2024-05-10","numbers":[3,15,22,41,47],"stars":[2,9]}]`,
			date: "2024-05-10", nums: []int{3, 15, 22, 41, 47}, stars: []int{2, 9},
		},
		{
			name: "single object",
			body: `{"date":"2024-05-10","numbers":[3,15,22,41,47],"stars":[2,9]}`,
			date: "2024-05-10", nums: []int{3, 15, 22, 41, 47}, stars: []int{2, 9},
		},
		{
			name: "numeric strings",
			body: `[{"id":1,"draw_id":1,"date":"2024-05-10","numbers":["3","15","22","41","47"],"stars":["2","9"],"has_winner":false}]`,
			date: "2024-05-10", nums: []int{3, 15, 22, 41, 47}, stars: []int{2, 9},
		},
		{
			name: "missing stars",
			body: `{"date":"2024-05-10","numbers":[3,15,22,41,47]}`,
			date: "2024-05-10", nums: []int{3, 15, 22, 41, 47}, stars: []int{},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := serve(t, http.StatusOK, tt.body)
			d, err := c.FetchLatest(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.date, d.Date)
			require.Equal(t, tt.nums, d.Numbers)
			require.Equal(t, tt.stars, d.Stars)
		})
	}
}

func TestFetchLatestMalformed(t *testing.T) {
	t.Parallel()
	bodies := []string{
		`[]`,
		`not json`,
		`{"numbers":[1,2,3,4,5]}`,
		`{"date":"2024-05-10"}`,
		`{"date":"2024-05-10","numbers":[1,2,3,4]}`,
		`{"date":"10-05-2024","numbers":[1,2,3,4,5]}`,
		`{"date":"2024-05-10","numbers":[1,1,3,4,5]}`,
		`{"date":"2024-05-10","numbers":["a",2,3,4,5]}`,
		`""`,
	}
	for _, body := range bodies {
		c := serve(t, http.StatusOK, body)
		_, err := c.FetchLatest(context.Background())
		require.ErrorIs(t, err, lottery.ErrSourceMalformed, "body %s", body)
	}
}

func TestFetchLatestUnavailable(t *testing.T) {
	t.Parallel()
	c := serve(t, http.StatusBadGateway, `{"error":"down"}`)
	_, err := c.FetchLatest(context.Background())
	require.ErrorIs(t, err, lottery.ErrSourceUnavailable)
}

func TestFetchLatestTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop(), nil)
	_, err := c.FetchLatest(context.Background())
	require.ErrorIs(t, err, lottery.ErrSourceUnavailable)
}

func TestConfigURL(t *testing.T) {
	t.Parallel()
	require.Equal(t, "https://euromillions.api.pedromealha.dev/v1/draws", Config{}.URL())
	require.Equal(t, "http://x/api/latest", Config{BaseURL: "http://x/", Path: "api/latest"}.URL())
}

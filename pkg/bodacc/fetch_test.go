package bodacc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRangeDefaults(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)

	start, end, err := ResolveRange("", "", 7, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-03", start.Format("2006-01-02"))
	assert.Equal(t, "2024-02-09", end.Format("2006-01-02"))
}

func TestResolveRangeClampsEndToYesterday(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)

	_, end, err := ResolveRange("2024-02-01", "2024-02-10", 7, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-09", end.Format("2006-01-02"))
}

func TestResolveRangeRejectsInvertedRange(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)

	_, _, err := ResolveRange("2024-02-08", "2024-02-05", 7, now)
	require.Error(t, err)
}

func TestResolveRangeRejectsBadDates(t *testing.T) {
	now := time.Now()
	_, _, err := ResolveRange("02/01/2024", "", 7, now)
	require.Error(t, err)
	_, _, err = ResolveRange("", "not-a-date", 7, now)
	require.Error(t, err)
}

// pagedServer serves per-publication pages keyed by the numeroannonce cursor.
func pagedServer(t *testing.T, pages map[string][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		where := r.URL.Query().Get("where")
		for key, bodies := range pages {
			if strings.Contains(where, "publicationavis = '"+key+"'") {
				for _, body := range bodies {
					prefix := body[:strings.Index(body, "|")]
					if strings.Contains(where, "numeroannonce > "+prefix) {
						fmt.Fprint(w, body[strings.Index(body, "|")+1:])
						return
					}
				}
			}
		}
		fmt.Fprint(w, `{"results":[]}`)
	}))
}

func newTestFetcher(t *testing.T, srv *httptest.Server, perPage int) *Fetcher {
	t.Helper()
	base := t.TempDir()
	return &Fetcher{
		Client:   testClient(srv, perPage),
		TmpDir:   filepath.Join(base, "tmp"),
		DailyDir: filepath.Join(base, "daily"),
	}
}

func TestRunFetchesAndMergesOneDay(t *testing.T) {
	// Publication A pages with keyset cursor: two full pages then a short one.
	srv := pagedServer(t, map[string][]string{
		"A": {
			`0|{"results":[{"record":{"numeroannonce":1}},{"record":{"numeroannonce":2}}]}`,
			`2|{"results":[{"record":{"numeroannonce":3}}]}`,
		},
		"B": {
			`0|{"results":[{"record":{"numeroannonce":10}}]}`,
		},
	})
	defer srv.Close()

	f := newTestFetcher(t, srv, 2)
	target := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	records, err := f.Run(context.Background(), target, target)
	require.NoError(t, err)
	assert.Len(t, records, 4)

	daily := filepath.Join(f.DailyDir, "20240131_bodacc_update.jsonl")
	data, err := os.ReadFile(daily)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)

	// Part files are cleaned up after the merge.
	parts, err := filepath.Glob(filepath.Join(f.TmpDir, "20240131_bodacc_update_part_*.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestRunSkipsDaysAlreadyFetched(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 100)
	require.NoError(t, os.MkdirAll(f.DailyDir, 0o755))

	day := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	existing := filepath.Join(f.DailyDir, DailyFileName(day))
	require.NoError(t, os.WriteFile(existing, []byte(`{"numeroannonce":1}`+"\n"), 0o644))

	_, err := f.Run(context.Background(), day, day)
	require.NoError(t, err)
	assert.Zero(t, calls, "no API call for an already-fetched day")

	// The existing file is left untouched.
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"numeroannonce":1`)
}

func TestRunWritesEmptyDailyFileWhenNoRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 100)
	day := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	records, err := f.Run(context.Background(), day, day)
	require.NoError(t, err)
	assert.Empty(t, records)

	data, err := os.ReadFile(filepath.Join(f.DailyDir, DailyFileName(day)))
	require.NoError(t, err)
	assert.Empty(t, data, "day marker must exist and be empty")
}

func TestRunAbandonsPublicationAfterRetriesWithoutFailingDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("where"), "publicationavis = 'B'") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 100)
	day := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err := f.Run(context.Background(), day, day)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.DailyDir, DailyFileName(day)))
}

func TestMergeDayPartsSortsParts(t *testing.T) {
	f := &Fetcher{TmpDir: t.TempDir(), DailyDir: t.TempDir()}
	day := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(f.TmpDir, name), []byte(content), 0o644))
	}
	write("20240131_bodacc_update_part_B_001.jsonl", "{\"n\":3}\n")
	write("20240131_bodacc_update_part_A_002.jsonl", "{\"n\":2}\n")
	write("20240131_bodacc_update_part_A_001.jsonl", "{\"n\":1}\n")

	target, err := f.mergeDayParts(day)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n{\"n\":3}\n", string(data))
}

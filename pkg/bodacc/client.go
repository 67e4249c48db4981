// Package bodacc downloads daily BODACC announcements from the open-data
// API and assembles them into per-day NDJSON files.
package bodacc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/afterdata/bodacc/pkg/config"
)

// PublicationTypes are the BODACC bulletins fetched for every day.
var PublicationTypes = []string{"A", "B", "C"}

const requestTimeout = 60 * time.Second

// Record is one raw announcement as returned by the API.
type Record struct {
	// JSON is the record body, kept verbatim.
	JSON []byte
	// Numero is the numeroannonce used as the pagination cursor, 0 when
	// absent.
	Numero int64
}

// Client talks to the BODACC records API with keyset pagination and
// bounded retries.
type Client struct {
	APIURL        string
	PerPage       int
	MaxRetries    int
	BackoffBase   time.Duration
	RetryAfter429 time.Duration

	httpClient *http.Client
	sleep      func(time.Duration)
}

// NewClient builds a client from configuration, honoring the optional
// proxy and CA bundle.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.General.APIURL == "" {
		return nil, errors.New("general.api_url is required")
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		APIURL:        cfg.General.APIURL,
		PerPage:       cfg.General.PerPage,
		MaxRetries:    cfg.General.MaxRetries,
		BackoffBase:   time.Duration(cfg.General.BackoffBaseSec * float64(time.Second)),
		RetryAfter429: time.Duration(cfg.General.TooManyRequestsWait) * time.Second,
		httpClient:    &http.Client{Transport: transport, Timeout: requestTimeout},
		sleep:         time.Sleep,
	}, nil
}

func newTransport(cfg *config.Config) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.Proxy.URL != "" {
		proxyURL, err := url.Parse("http://" + cfg.Proxy.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse proxy url")
		}
		if cfg.Proxy.User != "" && cfg.Proxy.Password != "" {
			proxyURL.User = url.UserPassword(cfg.Proxy.User, cfg.Proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if cfg.General.CertFile != "" {
		pem, err := os.ReadFile(cfg.General.CertFile)
		if err != nil {
			return nil, errors.Wrap(err, "read CA bundle")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", cfg.General.CertFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return transport, nil
}

// FetchPage requests the announcements of one publication type for one
// parution day, strictly after the given numeroannonce cursor. A 429
// response pauses and retries; other failures back off exponentially up to
// MaxRetries attempts.
func (c *Client) FetchPage(ctx context.Context, day time.Time, publication string, afterNumero int64) ([]Record, error) {
	params := url.Values{}
	params.Set("refine", "dateparution:"+day.Format("2006-01-02"))
	params.Set("where", fmt.Sprintf("publicationavis = '%s' AND numeroannonce > %d", publication, afterNumero))
	params.Set("order_by", "numeroannonce")
	params.Set("limit", fmt.Sprintf("%d", c.PerPage))

	requestURL := c.APIURL + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		records, retryable, err := c.fetchOnce(ctx, requestURL)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := c.BackoffBase * time.Duration(1<<attempt)
		if errors.Is(err, errTooManyRequests) {
			wait = c.RetryAfter429
			log.Warnf("429 received from BODACC API, pausing %s", wait)
		} else {
			log.Warnf("BODACC API error (attempt %d/%d): %v, retrying in %s", attempt+1, c.MaxRetries, err, wait)
		}
		c.sleep(wait)
	}

	return nil, errors.Wrapf(lastErr, "giving up after %d attempts", c.MaxRetries)
}

var errTooManyRequests = errors.New("too many requests")

func (c *Client) fetchOnce(ctx context.Context, requestURL string) (records []Record, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, errors.Wrap(err, "call BODACC API")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, true, errTooManyRequests
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, true, errors.Errorf("BODACC API returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.Wrap(err, "read response")
	}

	return extractRecords(body), false, nil
}

// extractRecords pulls announcement objects out of a payload. Depending on
// the API version the records live under results[].record, results[].fields,
// results[] directly, or records[].
func extractRecords(body []byte) []Record {
	items := gjson.GetBytes(body, "results")
	if !items.IsArray() {
		items = gjson.GetBytes(body, "records")
	}
	if !items.IsArray() {
		return nil
	}

	var records []Record
	items.ForEach(func(_, item gjson.Result) bool {
		rec := item
		if nested := item.Get("record"); nested.IsObject() {
			rec = nested
		} else if nested := item.Get("fields"); nested.IsObject() {
			rec = nested
		}
		if !rec.IsObject() {
			return true
		}
		records = append(records, Record{
			JSON:   []byte(rec.Raw),
			Numero: rec.Get("numeroannonce").Int(),
		})
		return true
	})
	return records
}

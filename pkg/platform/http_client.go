package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kzmtkz/xppusher/pkg/ratelimit"
	"github.com/kzmtkz/xppusher/pkg/xperrors"
)

// userAgent matches the mobile app user-agent original_source/utils.py
// sends with every image download, required by the platform's referer
// check.
const userAgent = "PixivIOSApp/7.13.3 (iOS 14.6; iPhone13,2)"

// HTTPClient is a thin REST-based implementation of Client. It is a
// stub: the wire protocol is explicitly out of scope per spec.md §1, so
// this type only demonstrates the retry/rate-limit/error-kind wiring
// every real call site must go through.
type HTTPClient struct {
	baseURL      string
	refreshToken string
	accessToken  string

	http    *http.Client
	limiter *ratelimit.Limiter
	gate    *ratelimit.DownloadGate
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL           string
	RefreshToken      string
	RequestsPerMinute int
	JitterLo, JitterHi float64
	MaxConcurrency    int
	Timeout           time.Duration
}

// NewHTTPClient builds an HTTPClient from cfg.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:      cfg.BaseURL,
		refreshToken: cfg.RefreshToken,
		http:         &http.Client{Timeout: timeout},
		limiter:      ratelimit.New(cfg.RequestsPerMinute, cfg.JitterLo, cfg.JitterHi),
		gate:         ratelimit.NewDownloadGate(cfg.MaxConcurrency),
	}
}

var _ Client = (*HTTPClient)(nil)

// RefreshAuth exchanges the refresh token for a fresh access token.
func (c *HTTPClient) RefreshAuth(ctx context.Context) error {
	if c.refreshToken == "" {
		return xperrors.NewAuthError("platform", fmt.Errorf("no refresh token configured"))
	}
	return c.withRetry(ctx, "refresh_auth", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := c.http.Do(req)
		if err != nil {
			return xperrors.NewTransientNetworkError("refresh_auth", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			return backoff.Permanent(xperrors.NewAuthError("platform", fmt.Errorf("refresh rejected: %d", resp.StatusCode)))
		}
		if resp.StatusCode != http.StatusOK {
			return xperrors.NewTransientNetworkError("refresh_auth", fmt.Errorf("status %d", resp.StatusCode))
		}
		var body struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(xperrors.NewUpstreamContractError("auth_response", err))
		}
		c.accessToken = body.AccessToken
		return nil
	})
}

// SearchIllusts runs a profile-driven search.
func (c *HTTPClient) SearchIllusts(ctx context.Context, tags []string, bookmarkThreshold, dateRangeDays, limit int) ([]Work, error) {
	var works []Work
	err := c.withRetry(ctx, "search_illusts", func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		result, err := c.get(ctx, "/v1/search/illust", map[string]string{
			"word":               joinOR(tags),
			"bookmark_threshold": strconv.Itoa(bookmarkThreshold),
			"limit":              strconv.Itoa(limit),
		})
		if err != nil {
			return err
		}
		return json.Unmarshal(result, &works)
	})
	return works, err
}

// FetchFollowLatest returns the follow feed.
func (c *HTTPClient) FetchFollowLatest(ctx context.Context, limit int) ([]Work, error) {
	var works []Work
	err := c.withRetry(ctx, "follow_latest", func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		result, err := c.get(ctx, "/v2/illust/follow", map[string]string{"limit": strconv.Itoa(limit)})
		if err != nil {
			return err
		}
		return json.Unmarshal(result, &works)
	})
	return works, err
}

// GetUserIllusts returns recent works by authorID.
func (c *HTTPClient) GetUserIllusts(ctx context.Context, authorID int64, since time.Time, limit int) ([]Work, error) {
	var works []Work
	err := c.withRetry(ctx, "user_illusts", func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		result, err := c.get(ctx, "/v1/user/illusts", map[string]string{
			"user_id": strconv.FormatInt(authorID, 10),
			"limit":   strconv.Itoa(limit),
		})
		if err != nil {
			return err
		}
		return json.Unmarshal(result, &works)
	})
	return works, err
}

// GetRanking returns a ranking page for the given mode.
func (c *HTTPClient) GetRanking(ctx context.Context, mode string, limit int) ([]Work, error) {
	var works []Work
	err := c.withRetry(ctx, "ranking", func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		result, err := c.get(ctx, "/v1/illust/ranking", map[string]string{"mode": mode, "limit": strconv.Itoa(limit)})
		if err != nil {
			return err
		}
		return json.Unmarshal(result, &works)
	})
	return works, err
}

// Bookmarks returns the user's bookmarked works, used to seed Profiler.Build.
func (c *HTTPClient) Bookmarks(ctx context.Context, ownerID int64, includePrivate bool, scanLimit int) ([]Work, error) {
	visibilities := []string{"public"}
	if includePrivate {
		visibilities = append(visibilities, "private")
	}
	var all []Work
	for _, visibility := range visibilities {
		var works []Work
		err := c.withRetry(ctx, "bookmarks", func() error {
			if err := c.limiter.Acquire(ctx); err != nil {
				return backoff.Permanent(err)
			}
			result, err := c.get(ctx, "/v1/user/bookmarks/illust", map[string]string{
				"user_id":    strconv.FormatInt(ownerID, 10),
				"restrict":   visibility,
				"limit":      strconv.Itoa(scanLimit),
			})
			if err != nil {
				return err
			}
			return json.Unmarshal(result, &works)
		})
		if err != nil {
			return all, err
		}
		all = append(all, works...)
	}
	return all, nil
}

// Bookmark mirrors a like onto the platform.
func (c *HTTPClient) Bookmark(ctx context.Context, workID int64) error {
	return c.mutate(ctx, "bookmark_add", workID)
}

// Unbookmark mirrors a dislike/undo onto the platform.
func (c *HTTPClient) Unbookmark(ctx context.Context, workID int64) error {
	return c.mutate(ctx, "bookmark_delete", workID)
}

// Follow mirrors a follow-author action onto the platform.
func (c *HTTPClient) Follow(ctx context.Context, authorID int64) error {
	return c.mutate(ctx, "user_follow_add", authorID)
}

func (c *HTTPClient) mutate(ctx context.Context, op string, id int64) error {
	return c.withRetry(ctx, op, func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := c.get(ctx, "/v1/"+op, map[string]string{"illust_id": strconv.FormatInt(id, 10)})
		return err
	})
}

// DownloadImage fetches image bytes with the platform's referer
// requirement, bounded by the download semaphore.
func (c *HTTPClient) DownloadImage(ctx context.Context, url string) ([]byte, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.Release()

	var data []byte
	err := c.withRetry(ctx, "download_image", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Referer", "https://www.pixiv.net/")
		req.Header.Set("User-Agent", userAgent)
		resp, err := c.http.Do(req)
		if err != nil {
			return xperrors.NewTransientNetworkError("download_image", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return xperrors.NewTransientNetworkError("download_image", fmt.Errorf("status %d", resp.StatusCode))
		}
		data, err = io.ReadAll(resp.Body)
		return err
	})
	return data, err
}

// Close releases the underlying HTTP transport's idle connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, xperrors.NewTransientNetworkError(path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusUnauthorized:
		return nil, backoff.Permanent(xperrors.NewAuthError("platform", fmt.Errorf("status %d on %s", resp.StatusCode, path)))
	case http.StatusTooManyRequests:
		return nil, xperrors.NewRateLimitError(retryAfter(resp), fmt.Errorf("status 429 on %s", path))
	default:
		return nil, xperrors.NewTransientNetworkError(path, fmt.Errorf("status %d on %s", resp.StatusCode, path))
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := time.ParseDuration(raw + "s"); err == nil {
		return secs
	}
	return 0
}

// withRetry wraps op with exponential backoff, matching
// original_source/utils.py's retry_async semantics but via
// cenkalti/backoff/v4 (spec.md §5 "Retries use exponential backoff with
// a max retry count").
func (c *HTTPClient) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *xperrors.RateLimitError
		if asRateLimit(err, &rle) && rle.RetryAfter > 0 {
			time.Sleep(rle.RetryAfter)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

func asRateLimit(err error, target **xperrors.RateLimitError) bool {
	rle, ok := err.(*xperrors.RateLimitError)
	if ok {
		*target = rle
	}
	return ok
}

func joinOR(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	out := tags[0]
	for _, t := range tags[1:] {
		out += " " + t
	}
	return out
}

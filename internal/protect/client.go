// Package protect talks to a UniFi Protect controller: it authenticates,
// lists cameras, exports hourly video chunks and answers footage probes.
package protect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ubv/ubv-transcribe/internal/chunk"
	"github.com/ubv/ubv-transcribe/internal/logging"
	"github.com/ubv/ubv-transcribe/internal/paths"
)

const (
	unifiOSPrefix  = "/proxy/protect"
	defaultTimeout = 10 * time.Minute

	headerCSRF        = "X-CSRF-Token"
	headerUpdatedCSRF = "X-Updated-CSRF-Token"
)

// Options configures an HTTPClient.
type Options struct {
	Address    string // e.g. https://192.168.1.1
	Username   string
	Password   string
	VerifySSL  bool
	NotUnifiOS bool // legacy controllers without the UniFi OS proxy
	Timeout    time.Duration
	Logger     *slog.Logger

	// HTTPClient overrides the transport; its Jar is replaced when nil.
	HTTPClient *http.Client
}

// HTTPClient is a Protect API client. It is not safe for concurrent use;
// the scheduler drives it from a single goroutine.
type HTTPClient struct {
	baseURL  string
	prefix   string
	username string
	password string
	legacy   bool

	httpClient *http.Client
	logger     *slog.Logger

	authenticated bool
	csrfToken     string
	bearerToken   string

	cameras map[string]chunk.Camera
}

// NewHTTPClient creates a client. No request is made until the first call.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	base := strings.TrimRight(opts.Address, "/")
	if base == "" {
		return nil, fmt.Errorf("protect address is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid protect address %q: %w", base, err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.VerifySSL}, //nolint:gosec // controllers ship self-signed certs
			},
		}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	prefix := unifiOSPrefix
	if opts.NotUnifiOS {
		prefix = ""
	}

	return &HTTPClient{
		baseURL:    base,
		prefix:     prefix,
		username:   opts.Username,
		password:   opts.Password,
		legacy:     opts.NotUnifiOS,
		httpClient: hc,
		logger:     logging.WithComponent(logging.OrDiscard(opts.Logger), "protect"),
	}, nil
}

// Login authenticates against the controller. UniFi OS consoles answer with a
// session cookie plus a CSRF token; legacy controllers with a bearer token.
func (c *HTTPClient) Login(ctx context.Context) error {
	path := "/api/auth/login"
	if c.legacy {
		path = "/api/auth"
	}

	body, err := json.Marshal(map[string]any{
		"username":   c.username,
		"password":   c.password,
		"rememberMe": false,
	})
	if err != nil {
		return fmt.Errorf("marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(ctx, req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError("login", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.csrfToken = resp.Header.Get(headerCSRF)
	if c.legacy {
		c.bearerToken = resp.Header.Get("Authorization")
	}
	c.authenticated = true

	c.logger.Debug("authenticated",
		"address", c.baseURL,
		"username", c.username,
		"legacy", c.legacy,
		"csrf", logging.SanitizeToken(c.csrfToken),
	)
	return nil
}

type cameraPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stats struct {
		Video struct {
			RecordingStart *int64 `json:"recordingStart"`
		} `json:"video"`
	} `json:"stats"`
}

// ListCameras returns every camera known to the controller in API order and
// refreshes the cache used by HasFootage.
func (c *HTTPClient) ListCameras(ctx context.Context) ([]chunk.Camera, error) {
	resp, err := c.do(ctx, "list cameras", http.MethodGet, "/api/cameras", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload []cameraPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode camera list: %w", err)
	}

	cameras := make([]chunk.Camera, 0, len(payload))
	c.cameras = make(map[string]chunk.Camera, len(payload))
	for _, p := range payload {
		cam := chunk.Camera{ID: p.ID, Name: p.Name}
		if rs := p.Stats.Video.RecordingStart; rs != nil && *rs > 0 {
			cam.RecordingStart = time.UnixMilli(*rs).UTC()
		}
		cameras = append(cameras, cam)
		c.cameras[cam.ID] = cam
	}

	c.logger.Info("listed cameras", "count", len(cameras))
	return cameras, nil
}

// FetchChunk exports one work unit into outDir and returns the artifact path.
// An existing non-empty artifact is reused without contacting the controller.
func (c *HTTPClient) FetchChunk(ctx context.Context, unit chunk.WorkUnit, outDir string) (string, error) {
	dest := paths.VideoPath(outDir, unit.CameraName, unit.Start)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		c.logger.Debug("reusing downloaded chunk", "path", dest)
		return dest, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create video directory: %w", err)
	}

	query := url.Values{}
	query.Set("camera", unit.CameraID)
	query.Set("start", strconv.FormatInt(unit.Start.UnixMilli(), 10))
	query.Set("end", strconv.FormatInt(unit.End.UnixMilli(), 10))

	resp, err := c.do(ctx, "export video", http.MethodGet, "/api/video/export", query)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(outDir, ".export-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("export video: %w", ctx.Err())
		}
		return "", fmt.Errorf("export video: %w: %w", ErrTransient, err)
	}
	if n == 0 {
		return "", fmt.Errorf("export video %s: %w", unit, ErrNoFootage)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("move export into place: %w", err)
	}
	tmpName = ""

	c.logger.Debug("downloaded chunk",
		"camera", unit.CameraName,
		"start", unit.Start,
		"bytes", n,
		"path", dest,
	)
	return dest, nil
}

// HasFootage reports whether camera has recordings on the local day starting
// at day. The answer comes from the camera's recording start instant, so the
// camera list is fetched once and cached.
func (c *HTTPClient) HasFootage(ctx context.Context, camera chunk.Camera, day time.Time) (bool, error) {
	if c.cameras == nil {
		if _, err := c.ListCameras(ctx); err != nil {
			return false, err
		}
	}

	cam, ok := c.cameras[camera.ID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrCameraNotFound, camera.ID)
	}
	if cam.RecordingStart.IsZero() {
		c.logger.Debug("camera has no recording history", "camera", cam.Name)
		return false, nil
	}

	dayEnd := chunk.StartOfDay(day).AddDate(0, 0, 1)
	return cam.RecordingStart.Before(dayEnd), nil
}

// do sends an authenticated API request and returns the 2xx response. A 401
// on an established session triggers one re-login.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if !c.authenticated {
			if err := c.Login(ctx); err != nil {
				return nil, err
			}
		}

		u := c.baseURL + c.prefix + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", op, err)
		}
		if c.csrfToken != "" {
			req.Header.Set(headerCSRF, c.csrfToken)
		}
		if c.bearerToken != "" {
			req.Header.Set("Authorization", c.bearerToken)
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if tok := resp.Header.Get(headerUpdatedCSRF); tok != "" {
			c.csrfToken = tok
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.logger.Info("session expired, logging in again")
			c.authenticated = false
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return nil, readAPIError(op, resp)
		}
		return resp, nil
	}
}

// send performs the round trip and tags transport failures as transient
// unless the caller's context ended.
func (c *HTTPClient) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return resp, nil
}

func readAPIError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"photowatch/pkg/config"
	errs "photowatch/pkg/errors"
	"photowatch/pkg/logger"
)

const (
	dropboxAPIBase     = "https://api.dropboxapi.com"
	dropboxContentBase = "https://content.dropboxapi.com"
)

// Dropbox commits photos to a Dropbox folder using the HTTP API.
//
// When a refresh token is configured the backend mints short-lived access
// tokens on demand and transparently re-mints on expiry, so it can run
// unattended indefinitely. With only a static access token, uploads start
// failing once the token expires (about 4 hours).
type Dropbox struct {
	cfg        config.DropboxStorageConfig
	httpClient *http.Client
	logger     logger.Logger

	// Overridable for tests.
	apiBase     string
	contentBase string

	mu          sync.Mutex
	accessToken string
	folderReady bool
}

// NewDropbox creates a Dropbox backend. The access token is minted lazily
// on the first commit, so construction never touches the network.
func NewDropbox(cfg config.DropboxStorageConfig, log logger.Logger) (*Dropbox, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	hasRefreshFlow := cfg.RefreshToken != "" && cfg.AppKey != "" && cfg.AppSecret != ""
	if !hasRefreshFlow && cfg.AccessToken == "" {
		return nil, errors.New("dropbox backend requires a refresh token with app key/secret, or an access token")
	}
	if !hasRefreshFlow {
		log.Warn("Dropbox configured with a static access token only; uploads will fail once it expires")
	}

	return &Dropbox{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      log,
		apiBase:     dropboxAPIBase,
		contentBase: dropboxContentBase,
		accessToken: cfg.AccessToken,
	}, nil
}

// Name identifies the backend in logs.
func (d *Dropbox) Name() string {
	return "dropbox"
}

// Commit uploads data under the configured base path. Expired tokens are
// refreshed and the upload retried once; every other failure surfaces as a
// retryable commit error for the delivery retry loop.
func (d *Dropbox) Commit(ctx context.Context, name string, data []byte) error {
	token, err := d.token(ctx)
	if err != nil {
		return err
	}

	dest := path.Join(d.cfg.BasePath, name)

	commit := func(tok string) error {
		if err := d.ensureFolder(ctx, tok); err != nil {
			return err
		}
		return d.upload(ctx, tok, dest, data)
	}

	err = commit(token)

	var typed *errs.Error
	if errors.As(err, &typed) && typed.Code == http.StatusUnauthorized {
		// Token expired mid-run: mint a fresh one and retry once.
		token, err = d.refreshAccessToken(ctx)
		if err != nil {
			return err
		}
		err = commit(token)
	}

	if err != nil {
		return err
	}

	d.logger.DebugWithFields("Committed to Dropbox", map[string]interface{}{
		"path": dest,
		"size": len(data),
	})

	return nil
}

// token returns a usable access token, minting one if none is cached.
func (d *Dropbox) token(ctx context.Context) (string, error) {
	d.mu.Lock()
	cached := d.accessToken
	d.mu.Unlock()

	if cached != "" {
		return cached, nil
	}
	return d.refreshAccessToken(ctx)
}

// refreshAccessToken exchanges the refresh token for a new access token.
func (d *Dropbox) refreshAccessToken(ctx context.Context) (string, error) {
	if d.cfg.RefreshToken == "" {
		return "", errs.New(errs.ErrorTypeCommit, "dropbox access token expired and no refresh token is configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {d.cfg.RefreshToken},
		"client_id":     {d.cfg.AppKey},
		"client_secret": {d.cfg.AppSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.apiBase+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeCommit, "failed to create token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeNetwork, "token refresh failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &errs.Error{
			Type:    errs.ErrorTypeCommit,
			Message: fmt.Sprintf("token refresh rejected: %s", strings.TrimSpace(string(body))),
			Code:    resp.StatusCode,
		}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", errs.Newf(errs.ErrorTypeCommit, "failed to decode token response: %v", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errs.New(errs.ErrorTypeCommit, "token response contained no access token")
	}

	d.mu.Lock()
	d.accessToken = tokenResp.AccessToken
	d.mu.Unlock()

	d.logger.DebugWithFields("Refreshed Dropbox access token", map[string]interface{}{
		"expires_in": tokenResp.ExpiresIn,
	})

	return tokenResp.AccessToken, nil
}

// ensureFolder creates the base path once per process. Dropbox returns a
// conflict for folders that already exist, which is fine.
func (d *Dropbox) ensureFolder(ctx context.Context, token string) error {
	d.mu.Lock()
	ready := d.folderReady
	d.mu.Unlock()

	if ready {
		return nil
	}

	arg, err := json.Marshal(map[string]interface{}{
		"path":       d.cfg.BasePath,
		"autorename": false,
	})
	if err != nil {
		return errs.Newf(errs.ErrorTypeCommit, "failed to encode folder request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.apiBase+"/2/files/create_folder_v2", bytes.NewReader(arg))
	if err != nil {
		return errs.Newf(errs.ErrorTypeCommit, "failed to create folder request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return errs.Newf(errs.ErrorTypeNetwork, "folder creation failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		// Conflict means the folder already exists.
	default:
		return &errs.Error{
			Type:    errs.ErrorTypeCommit,
			Message: fmt.Sprintf("folder creation returned status %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}

	d.mu.Lock()
	d.folderReady = true
	d.mu.Unlock()

	return nil
}

// upload performs a single files/upload call.
func (d *Dropbox) upload(ctx context.Context, token, dest string, data []byte) error {
	arg, err := json.Marshal(map[string]interface{}{
		"path":       dest,
		"mode":       "overwrite",
		"autorename": false,
		"mute":       true,
	})
	if err != nil {
		return errs.Newf(errs.ErrorTypeCommit, "failed to encode upload argument: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.contentBase+"/2/files/upload", bytes.NewReader(data))
	if err != nil {
		return errs.Newf(errs.ErrorTypeCommit, "failed to create upload request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return errs.Newf(errs.ErrorTypeNetwork, "upload failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &errs.Error{
			Type:    errs.ErrorTypeCommit,
			Message: fmt.Sprintf("upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Code:    resp.StatusCode,
		}
	}
	io.Copy(io.Discard, resp.Body)

	return nil
}

// Package ipfs stores encrypted payloads in IPFS through a Pinata-compatible
// pinning API and reads them back through an HTTP gateway.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/chronolock/internal/errs"
)

const (
	DefaultAPIURL          = "https://api.pinata.cloud"
	DefaultGatewayURL      = "https://gateway.pinata.cloud/ipfs/"
	DefaultUploadTimeout   = 60 * time.Second
	DefaultRetrieveTimeout = 30 * time.Second
	DefaultMaxPayload      = 25 << 20

	minCIDLen = 10
	appName   = "chronolock"
	appVer    = "1.0.0"
)

// Metadata is attached to an upload so a memory can be described without
// decrypting it. EncryptionIV carries the base64 nonce.
type Metadata struct {
	Title            string
	Note             string
	EmotionTone      string
	EmotionIntensity float64
	CreatedAt        time.Time
	EncryptionIV     string
}

// Metadata keys as stored on the pin.
const (
	KeyTitle            = "title"
	KeyNote             = "note"
	KeyEmotionTone      = "emotionTone"
	KeyEmotionIntensity = "emotionIntensity"
	KeyCreatedAt        = "createdAt"
	KeyEncryptionIV     = "encryptionIv"
	KeyName             = "name"
)

// Health is the result of a connectivity probe.
type Health struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Config configures a Client. Zero values fall back to the defaults.
type Config struct {
	APIURL          string
	GatewayURL      string
	JWT             string
	UploadTimeout   time.Duration
	RetrieveTimeout time.Duration
	MaxPayload      int
}

// Client talks to the pinning API and gateway. It never caches and never
// retries.
type Client struct {
	apiURL          string
	gatewayURL      string
	jwt             string
	uploadTimeout   time.Duration
	retrieveTimeout time.Duration
	maxPayload      int
	http            *http.Client
	logger          *slog.Logger
}

// NewClient creates a Client. A missing JWT is reported on first use.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if !strings.HasSuffix(cfg.GatewayURL, "/") {
		cfg.GatewayURL += "/"
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.RetrieveTimeout == 0 {
		cfg.RetrieveTimeout = DefaultRetrieveTimeout
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:          strings.TrimRight(cfg.APIURL, "/"),
		gatewayURL:      cfg.GatewayURL,
		jwt:             cfg.JWT,
		uploadTimeout:   cfg.UploadTimeout,
		retrieveTimeout: cfg.RetrieveTimeout,
		maxPayload:      cfg.MaxPayload,
		http:            httpClient,
		logger:          logger,
	}
}

type pinMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues"`
}

type pinOptions struct {
	CIDVersion int `json:"cidVersion"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type apiError struct {
	Error json.RawMessage `json:"error"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func keyValues(m Metadata) map[string]string {
	return map[string]string{
		"app":               appName,
		"version":           appVer,
		"type":              "voice-memory",
		KeyTitle:            truncate(m.Title, 100),
		KeyNote:             truncate(m.Note, 200),
		KeyEmotionTone:      m.EmotionTone,
		KeyEmotionIntensity: strconv.FormatFloat(m.EmotionIntensity, 'f', -1, 64),
		KeyCreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339Nano),
		KeyEncryptionIV:     m.EncryptionIV,
	}
}

func (c *Client) encodeUpload(payload []byte, m Metadata) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", fmt.Sprintf("chronolock-memory-%s.bin", uuid.NewString()))
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, "", err
	}

	meta, _ := json.Marshal(pinMetadata{
		Name:      "ChronoLock Memory: " + m.Title,
		KeyValues: keyValues(m),
	})
	if err := w.WriteField("pinataMetadata", string(meta)); err != nil {
		return nil, "", err
	}
	opts, _ := json.Marshal(pinOptions{CIDVersion: 1})
	if err := w.WriteField("pinataOptions", string(opts)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &body, w.FormDataContentType(), nil
}

// Upload pins payload with metadata and returns its CID.
func (c *Client) Upload(ctx context.Context, payload []byte, m Metadata) (string, error) {
	const op = "ipfs.Upload"
	if c.jwt == "" {
		return "", errs.Errorf(op, errs.KindAuthConfig, "pinning JWT is not configured")
	}
	if len(payload) > c.maxPayload {
		return "", errs.Errorf(op, errs.KindPayloadTooLarge, "payload is %d bytes, limit %d", len(payload), c.maxPayload)
	}

	body, contentType, err := c.encodeUpload(payload, m)
	if err != nil {
		return "", errs.E(op, errs.KindInternal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return "", errs.E(op, errs.KindInternal, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.jwt)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Classify(op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Classify(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errs.Errorf(op, errs.KindAuthConfig, "pinning service rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return "", errs.Errorf(op, errs.KindPayloadTooLarge, "pinning service rejected payload size")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", errs.Errorf(op, errs.KindNetwork, "upload failed %d: %s", resp.StatusCode, describeError(b))
	}

	var pr pinResponse
	if err := json.Unmarshal(b, &pr); err != nil {
		return "", errs.Errorf(op, errs.KindNetwork, "decode pin response: %v", err)
	}
	if pr.IpfsHash == "" {
		return "", errs.Errorf(op, errs.KindNetwork, "pin response carried no hash")
	}

	c.logger.Debug("payload pinned", "cid", pr.IpfsHash, "bytes", len(payload))
	return pr.IpfsHash, nil
}

func describeError(b []byte) string {
	var ae apiError
	if err := json.Unmarshal(b, &ae); err == nil && len(ae.Error) > 0 {
		return string(ae.Error)
	}
	return string(b)
}

// Retrieve fetches the pinned bytes for cid from the gateway.
func (c *Client) Retrieve(ctx context.Context, cid string) ([]byte, error) {
	const op = "ipfs.Retrieve"
	if len(cid) < minCIDLen {
		return nil, errs.Errorf(op, errs.KindNotFound, "invalid content identifier %q", cid)
	}

	ctx, cancel := context.WithTimeout(ctx, c.retrieveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+url.PathEscape(cid), nil)
	if err != nil {
		return nil, errs.E(op, errs.KindInternal, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.Errorf(op, errs.KindNotFound, "content %s not found", cid)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errs.Errorf(op, errs.KindNetwork, "gateway error %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Classify(op, err)
	}
	if len(b) == 0 {
		return nil, errs.Errorf(op, errs.KindCorruptedPayload, "content %s is empty", cid)
	}
	return b, nil
}

type pinListResponse struct {
	Rows []struct {
		IpfsPinHash string      `json:"ipfs_pin_hash"`
		Metadata    pinMetadata `json:"metadata"`
	} `json:"rows"`
}

// Metadata returns the key/values attached to cid. It never fails: any
// problem yields an empty map and a warning.
func (c *Client) Metadata(ctx context.Context, cid string) map[string]string {
	out := map[string]string{}
	if c.jwt == "" {
		c.logger.Warn("metadata lookup skipped, pinning JWT is not configured", "cid", cid)
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, c.retrieveTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("hashContains", cid)
	q.Set("status", "pinned")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/data/pinList?"+q.Encode(), nil)
	if err != nil {
		return out
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("metadata lookup failed", "cid", cid, "error", err)
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("metadata lookup failed", "cid", cid, "status", resp.StatusCode)
		return out
	}

	var pl pinListResponse
	if err := json.NewDecoder(resp.Body).Decode(&pl); err != nil {
		c.logger.Warn("metadata lookup returned malformed body", "cid", cid, "error", err)
		return out
	}
	if len(pl.Rows) == 0 {
		return out
	}
	for k, v := range pl.Rows[0].Metadata.KeyValues {
		out[k] = v
	}
	if name := pl.Rows[0].Metadata.Name; name != "" {
		out[KeyName] = name
	}
	return out
}

// HealthCheck verifies the credentials against the pinning API.
func (c *Client) HealthCheck(ctx context.Context) Health {
	if c.jwt == "" {
		return Health{Error: "IPFS service not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.retrieveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/data/testAuthentication", nil)
	if err != nil {
		return Health{Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Health{Error: "health check timed out"}
		}
		return Health{Error: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Health{Error: fmt.Sprintf("authentication failed: %s", resp.Status)}
	}
	return Health{Connected: true}
}

// Package proxy resolves mapped download links and serves the linked
// torrent or NZB files on behalf of the indexer.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/linkmap"
	"github.com/slipstream/indexhub/internal/indexer/ratelimit"
)

// maxDownloadSize bounds the size of a proxied file.
const maxDownloadSize = 32 << 20

// Registry provides the backends links are resolved against.
type Registry interface {
	Backend(id int64) (indexer.Backend, error)
	RecordOutcome(backendID int64, outcome indexer.Outcome)
}

// Decoder opens mapped link tokens.
type Decoder interface {
	Decode(token, host string) (*linkmap.Payload, error)
}

// HistoryRecorder audits resolved downloads.
type HistoryRecorder interface {
	Record(ctx context.Context, item *HistoryItem) error
}

// Broadcaster interface for sending events to clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Config controls fetching of files.
type Config struct {
	Attempts   uint          `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retryDelay"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"userAgent"`
}

// DefaultConfig returns the default fetch settings.
func DefaultConfig() Config {
	return Config{
		Attempts:   3,
		RetryDelay: 500 * time.Millisecond,
		Timeout:    60 * time.Second,
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	}
}

// Request identifies one download.
type Request struct {
	IndexerID int64
	Token     string
	File      string
	Caller    indexer.Caller
}

// Resolution is what the caller should be answered with.
type Resolution struct {
	Mode        string `json:"mode"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	Content     []byte `json:"-"`
	ContentType string `json:"contentType,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	InfoHash    string `json:"infoHash,omitempty"`
}

// Service resolves mapped links.
type Service struct {
	registry    Registry
	decoder     Decoder
	client      *http.Client
	rateLimiter *ratelimit.Limiter
	history     HistoryRecorder
	broadcaster Broadcaster
	config      Config
	logger      zerolog.Logger
}

// NewService creates a new proxy service.
func NewService(registry Registry, decoder Decoder, client *http.Client, logger zerolog.Logger) *Service {
	cfg := DefaultConfig()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Service{
		registry: registry,
		decoder:  decoder,
		client:   client,
		config:   cfg,
		logger:   logger.With().Str("component", "download-proxy").Logger(),
	}
}

// SetConfig replaces the fetch settings. Zero fields keep their defaults.
func (s *Service) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	s.config = cfg
}

// SetRateLimiter sets the limiter that counts grabs per indexer.
func (s *Service) SetRateLimiter(limiter *ratelimit.Limiter) {
	s.rateLimiter = limiter
}

// SetHistory sets the download audit store.
func (s *Service) SetHistory(history HistoryRecorder) {
	s.history = history
}

// SetBroadcaster sets the WebSocket broadcaster for real-time events.
func (s *Service) SetBroadcaster(broadcaster Broadcaster) {
	s.broadcaster = broadcaster
}

// Resolve decodes a mapped link and either redirects to the original or
// fetches the file. Every resolution that got past token validation is
// audited.
func (s *Service) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	if req.Token == "" || req.File == "" {
		return nil, indexer.NewLinkInvalidError("Invalid link", nil)
	}

	payload, err := s.decoder.Decode(req.Token, req.Caller.Host)
	if err != nil {
		s.logger.Debug().Err(err).Int64("indexerId", req.IndexerID).Str("host", req.Caller.Host).Msg("Rejected download token")
		return nil, err
	}
	if payload.BackendID != req.IndexerID {
		return nil, indexer.NewLinkInvalidError("link belongs to another indexer", nil)
	}

	backend, err := s.registry.Backend(req.IndexerID)
	if err != nil {
		return nil, err
	}
	desc := backend.Descriptor()

	start := time.Now()
	item := &HistoryItem{
		IndexerID: desc.ID,
		Host:      req.Caller.Host,
		Source:    payload.Source,
		File:      req.File,
	}
	if item.Source == "" {
		item.Source = req.Caller.Source
	}

	res, err := s.resolve(ctx, backend, payload.Link, req.File)
	item.ElapsedMs = time.Since(start).Milliseconds()
	if res != nil {
		item.Mode = res.Mode
		item.InfoHash = res.InfoHash
		item.Size = int64(len(res.Content))
	} else {
		item.Mode = ModeDownload
	}
	item.Successful = err == nil
	if err != nil {
		item.Error = err.Error()
	}
	s.audit(item)

	if err != nil {
		s.logger.Warn().Err(err).Int64("indexerId", desc.ID).Str("file", req.File).Msg("Download failed")
		return nil, err
	}

	s.logger.Info().
		Int64("indexerId", desc.ID).
		Str("mode", res.Mode).
		Str("file", req.File).
		Str("source", item.Source).
		Msg("Resolved download")
	return res, nil
}

func (s *Service) resolve(ctx context.Context, backend indexer.Backend, link, file string) (*Resolution, error) {
	desc := backend.Descriptor()

	if desc.ShouldRedirect() || strings.HasPrefix(link, "magnet:") {
		return &Resolution{Mode: ModeRedirect, RedirectURL: link, InfoHash: MagnetInfoHash(link)}, nil
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.AcquireGrab(desc.ID); err != nil {
			return nil, indexer.NewRateLimitedError(desc.ID, desc.Name, 0)
		}
	}

	content, redirect, err := s.fetch(ctx, backend, link)
	if err != nil {
		classified := indexer.Classify(desc, err)
		s.registry.RecordOutcome(desc.ID, indexer.Outcome{Err: classified, At: time.Now()})
		return nil, classified
	}
	if redirect != "" {
		return &Resolution{Mode: ModeRedirect, RedirectURL: redirect, InfoHash: MagnetInfoHash(redirect)}, nil
	}
	if magnet, ok := ExtractMagnet(content); ok {
		return &Resolution{Mode: ModeRedirect, RedirectURL: magnet, InfoHash: MagnetInfoHash(magnet)}, nil
	}
	if IsHTML(content) {
		err := indexer.NewBackendError(desc.ID, desc.Name, "indexer returned an HTML page instead of a file", ErrHTMLResponse)
		s.registry.RecordOutcome(desc.ID, indexer.Outcome{Err: err, At: time.Now()})
		return nil, err
	}

	res := &Resolution{Mode: ModeDownload, Content: content}
	switch desc.Protocol {
	case indexer.ProtocolUsenet:
		if err := ValidateNZB(content); err != nil {
			return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "invalid NZB file", err)
		}
		res.ContentType = "application/x-nzb"
		res.FileName = file + ".nzb"
	default:
		hash, err := ValidateTorrent(content)
		if err != nil {
			return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "invalid torrent file", err)
		}
		res.ContentType = "application/x-bittorrent"
		res.FileName = file + ".torrent"
		res.InfoHash = hash
	}

	s.registry.RecordOutcome(desc.ID, indexer.Outcome{At: time.Now()})
	return res, nil
}

// fetch downloads link, retrying transport failures and 5xx answers. A
// redirect to a magnet URI is returned instead of being followed.
func (s *Service) fetch(ctx context.Context, backend indexer.Backend, link string) ([]byte, string, error) {
	desc := backend.Descriptor()
	client := s.clientFor(backend)

	var (
		content  []byte
		redirect string
	)
	err := retry.Do(
		func() error {
			var err error
			content, redirect, err = s.fetchOnce(ctx, client, desc, link)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.config.Attempts),
		retry.Delay(s.config.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) {
				return false
			}
			code := indexer.GetErrorCode(err)
			return code == "" || code == indexer.ErrCodeBackend
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Err(err).Uint("attempt", n+1).Int64("indexerId", desc.ID).Msg("Retrying download")
		}),
	)
	return content, redirect, err
}

func (s *Service) fetchOnce(ctx context.Context, client *http.Client, desc *indexer.BackendDescriptor, link string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, http.NoBody)
	if err != nil {
		return nil, "", retry.Unrecoverable(indexer.NewBackendError(desc.ID, desc.Name, "invalid download link", nil))
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", indexer.StripURL(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); strings.HasPrefix(loc, "magnet:") {
			return nil, loc, nil
		}
	}

	raw := &indexer.RawResponse{StatusCode: resp.StatusCode, Header: resp.Header}
	if err := indexer.CheckResponse(desc, raw); err != nil {
		if resp.StatusCode < 500 {
			return nil, "", retry.Unrecoverable(err)
		}
		return nil, "", err
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read download: %w", indexer.StripURL(err))
	}
	if len(content) > maxDownloadSize {
		return nil, "", retry.Unrecoverable(indexer.NewBackendError(desc.ID, desc.Name,
			fmt.Sprintf("download too large (over %d bytes)", maxDownloadSize), ErrTooLarge))
	}
	if len(content) == 0 {
		return nil, "", indexer.NewBackendError(desc.ID, desc.Name, "empty download", ErrEmptyContent)
	}
	return content, "", nil
}

// clientFor returns a client that keeps the backend's session and stops at
// redirects to magnet URIs.
func (s *Service) clientFor(backend indexer.Backend) *http.Client {
	base := s.client
	if p, ok := backend.(indexer.HTTPClientProvider); ok {
		if c := p.HTTPClient(); c != nil {
			base = c
		}
	}
	client := *base
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if req.URL.Scheme == "magnet" {
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	return &client
}

func (s *Service) audit(item *HistoryItem) {
	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.Record(ctx, item); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record download history")
		}
	}

	if s.broadcaster != nil {
		_ = s.broadcaster.Broadcast(indexer.EventDownloadResolved, indexer.DownloadResolvedPayload{
			IndexerID: item.IndexerID,
			File:      item.File,
			Mode:      item.Mode,
			Success:   item.Successful,
			Error:     item.Error,
		})
	}
}

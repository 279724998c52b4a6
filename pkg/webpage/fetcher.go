package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; LeadHeroBot/1.0)"
	// DefaultMaxRunes bounds the excerpt handed to the text generator.
	DefaultMaxRunes = 3000
	defaultMaxBytes = 2 << 20
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Code)
}

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
	MaxRunes  int
	// AllowPrivate disables the private address guard. Tests only.
	AllowPrivate bool
}

// Page is the extracted content of a fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads pages with an SSRF guard and extracts readable text.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBytes     int64
	maxRunes     int
	allowPrivate bool
	extract      *extractor
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.MaxRunes <= 0 {
		opts.MaxRunes = DefaultMaxRunes
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	if !opts.AllowPrivate {
		transport.DialContext = guardedDial(dialer)
	}

	f := &Fetcher{
		userAgent:    opts.UserAgent,
		maxBytes:     opts.MaxBytes,
		maxRunes:     opts.MaxRunes,
		allowPrivate: opts.AllowPrivate,
		extract:      newExtractor(),
	}
	f.client = &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return f.validate(req.URL.String())
		},
	}
	return f
}

// guardedDial resolves the host itself and refuses private addresses, so a
// public name that resolves to an internal IP is still blocked.
func guardedDial(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup: %w", err)
		}
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlockedURL, host, ip.IP)
			}
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("no addresses")
		}
		return nil, fmt.Errorf("dial %s: %w", host, lastErr)
	}
}

func (f *Fetcher) validate(raw string) error {
	if f.allowPrivate {
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return fmt.Errorf("%w: scheme", ErrBlockedURL)
		}
		return nil
	}
	return ValidateURL(raw)
}

// Fetch downloads rawURL and extracts its main content.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := f.validate(rawURL); err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}
	title, text, err := f.extract.Extract(body)
	if err != nil {
		return Page{}, fmt.Errorf("extract: %w", err)
	}
	return Page{URL: rawURL, Title: title, Text: truncateRunes(text, f.maxRunes)}, nil
}

// Excerpt never fails: upstream problems become a short description that is
// passed to the generator in place of the page text.
func (f *Fetcher) Excerpt(ctx context.Context, rawURL string) string {
	page, err := f.Fetch(ctx, rawURL)
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("Unable to fetch URL content (Status: %d)", se.Code)
	case err != nil:
		return "Error fetching URL: " + err.Error()
	case page.Text == "":
		return "Unable to extract meaningful content from URL"
	}
	return page.Text
}

// Package collyfetcher downloads remote media using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Waiter gates outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Downloader implements archive.Downloader using the Colly collector.
type Downloader struct {
	base    *colly.Collector
	limiter Waiter
}

// New builds a Downloader. limiter may be nil.
func New(cfg Config, limiter Waiter) *Downloader {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	return &Downloader{base: c, limiter: limiter}
}

// Download fetches url and returns its body and content type. Non-2xx responses are errors.
func (d *Downloader) Download(ctx context.Context, url string) (archive.Media, error) {
	if url == "" {
		return archive.Media{}, errors.New("download url is required")
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, url); err != nil {
			return archive.Media{}, err
		}
	}

	var (
		media    archive.Media
		fetchErr error
	)
	collector := d.base.Clone()
	// Requests carry ctx so cancellation aborts the transfer.
	colly.StdlibContext(ctx)(collector)
	collector.OnResponse(func(r *colly.Response) {
		media = archive.Media{
			Data:        append([]byte(nil), r.Body...),
			ContentType: r.Headers.Get("Content-Type"),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	err := collector.Visit(url)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return archive.Media{}, fmt.Errorf("download %s canceled: %w", url, ctxErr)
	}
	if fetchErr != nil {
		return archive.Media{}, fmt.Errorf("download %s: %w", url, fetchErr)
	}
	if err != nil {
		return archive.Media{}, fmt.Errorf("download %s: %w", url, err)
	}
	return media, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

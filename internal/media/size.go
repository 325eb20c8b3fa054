package media

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// Sizer resolves the expected byte size of a remote image.
type Sizer interface {
	Size(ctx context.Context, imageURL string) (int64, error)
}

// HeadSizer asks the image server with an HTTP HEAD. A server that does
// not answer with a usable Content-Length fails the install up front,
// before any InsertMedia action: without the expected size, transfer
// completion cannot be verified.
type HeadSizer struct {
	httpc *retryablehttp.Client
}

// NewHeadSizer builds a sizer with a generous timeout, image servers can
// be slow to answer for large ISOs over thin links.
func NewHeadSizer(timeout time.Duration) *HeadSizer {
	httpc := retryablehttp.NewClient()
	httpc.RetryMax = 2
	httpc.Logger = nil
	httpc.HTTPClient.Timeout = timeout
	httpc.HTTPClient.Transport = &http.Transport{
		// nolint:gosec // ad-hoc image hosts serve self-signed certs.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &HeadSizer{httpc: httpc}
}

func (s *HeadSizer) Size(ctx context.Context, imageURL string) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return 0, errors.Wrap(ErrSizeUnknown, err.Error())
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return 0, errors.Wrap(ErrSizeUnknown, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Wrapf(ErrSizeUnknown, "HEAD returned status %d", resp.StatusCode)
	}

	if resp.ContentLength <= 0 {
		return 0, errors.Wrap(ErrSizeUnknown, "no usable Content-Length")
	}

	return resp.ContentLength, nil
}

// extractServer returns the host part of an image URL, without the port.
func extractServer(imageURL string) (string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid image URL %q", imageURL)
	}

	if parsed.Hostname() == "" {
		return "", errors.Errorf("image URL %q has no host", imageURL)
	}

	return parsed.Hostname(), nil
}

// extractFilename returns the base name of an image URL path, the name
// the BMC reports for the mounted media.
func extractFilename(imageURL string) (string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid image URL %q", imageURL)
	}

	if parsed.Path == "" || parsed.Path == "/" {
		return "", errors.Errorf("image URL %q has no path", imageURL)
	}

	return path.Base(parsed.Path), nil
}

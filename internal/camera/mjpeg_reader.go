package camera

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// ErrNoBoundary is returned when a stream's content type has no multipart
// boundary. It is not retried.
var ErrNoBoundary = errors.New("camera: missing multipart boundary")

// mjpegClient reads a multipart/x-mixed-replace stream and yields the raw
// JPEG parts.
type mjpegClient struct {
	url     string
	client  *http.Client
	session Session
}

func newMJPEGClient(url string, session Session) *mjpegClient {
	return &mjpegClient{
		url:     url,
		session: session,
		client: &http.Client{
			// the stream is long-lived; ctx bounds it instead
			Timeout: 0,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				IdleConnTimeout:       90 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConns:          2,
			},
		},
	}
}

// stream sends JPEG parts on frames until ctx is done, reconnecting with
// exponential backoff. frames is closed on return.
func (m *mjpegClient) stream(ctx context.Context, frames chan<- []byte) error {
	defer close(frames)
	backoff := minBackoff
	for {
		err := m.readOnce(ctx, frames)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNoBoundary) {
			m.session.OnError(err)
			return err
		}
		if err != nil {
			m.session.OnError(err)
		} else {
			backoff = minBackoff
		}
		m.session.OnDisconnected()

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readOnce consumes one connection. It returns nil when the server ended the
// stream cleanly.
func (m *mjpegClient) readOnce(ctx context.Context, frames chan<- []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return errors.Wrap(err, "camera: mjpeg request")
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", "edgecam-mjpeg/1.0")
	req.Header.Set("Accept", "image/jpeg, multipart/x-mixed-replace, */*")

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "camera: connect")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("camera: unexpected status %s", resp.Status)
	}

	ct := resp.Header.Get("Content-Type")
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return errors.Wrapf(ErrNoBoundary, "content type %q", ct)
	}
	// Some servers, Android IP-camera apps among them, put the leading
	// dashes into the boundary parameter.
	boundary := strings.TrimPrefix(strings.TrimSpace(params["boundary"]), "--")
	if boundary == "" {
		return errors.Wrapf(ErrNoBoundary, "content type %q", ct)
	}

	m.session.OnOpened()
	mr := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "camera: next part")
		}
		buf, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			// broken part, the next one may be fine
			continue
		}
		select {
		case frames <- buf:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

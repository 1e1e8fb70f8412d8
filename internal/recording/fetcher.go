package recording

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lexiqai/call-transcriber/internal/errorsx"
	"github.com/lexiqai/call-transcriber/internal/observability"
)

// Fetcher downloads recordings to temporary files
type Fetcher struct {
	client  *http.Client
	tempDir string
	timeout time.Duration
}

// NewFetcher creates a fetcher. A nil client uses http.DefaultClient; an
// empty tempDir uses os.TempDir(); timeout 0 means no deadline.
func NewFetcher(client *http.Client, tempDir string, timeout time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, tempDir: tempDir, timeout: timeout}
}

// Fetch downloads the job's recording and returns the temp file path. The
// caller owns the file. Any failure is returned as *errorsx.DownloadError
// and leaves no file behind. Downloads are not retried.
func (f *Fetcher) Fetch(ctx context.Context, job *Job) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	fail := func(status int, err error) (string, error) {
		observability.RecordError(string(errorsx.KindDownload), "recording")
		return "", &errorsx.DownloadError{CallID: job.CallID, URL: job.URL, StatusCode: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return fail(0, fmt.Errorf("build request: %w", err))
	}
	if !job.Credentials.Empty() {
		req.SetBasicAuth(job.Credentials.Username, job.Credentials.Password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	tmp, err := os.CreateTemp(f.tempDir, "recording_"+safeName(job.CallID)+"_*.wav")
	if err != nil {
		return fail(0, fmt.Errorf("create temp file: %w", err))
	}

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fail(0, fmt.Errorf("write recording: %w", err))
	}

	observability.RecordRecordingBytes(n)
	return tmp.Name(), nil
}

// safeName keeps call ids from escaping the temp directory or containing the
// CreateTemp pattern character
func safeName(callID string) string {
	out := []rune(callID)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

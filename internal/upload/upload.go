// Package upload pushes pending log files to the collection server.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/esk8-logger/internal/logging"
	"github.com/sweeney/esk8-logger/internal/ridelog"
	"github.com/sweeney/esk8-logger/internal/wifi"
)

var log = logging.Component("upload")

// RequestIDHeader carries a per-file id so server logs can be matched to
// ours.
const RequestIDHeader = "X-Request-Id"

// ErrNoConnectivity means the radio never reached ClientConnected.
var ErrNoConnectivity = errors.New("wifi client not connected")

// Store is the subset of ridelog.Store the uploader needs.
type Store interface {
	Pending() ([]ridelog.File, error)
	MarkSynced(name string) error
}

// Settings supplies the endpoint and credentials.
type Settings interface {
	UploadURL() string
	DeviceKey() string
}

// Result summarises one Sync.
type Result struct {
	Uploaded int
	Failed   int
}

// Uploader posts every pending file and marks accepted ones as synced.
type Uploader struct {
	store    Store
	settings Settings
	wifi     wifi.Monitor
	client   *http.Client

	Retries    int
	RetryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// New returns an Uploader with the default connectivity wait of 5 checks
// two seconds apart.
func New(store Store, settings Settings, mon wifi.Monitor, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Uploader{
		store:      store,
		settings:   settings,
		wifi:       mon,
		client:     client,
		Retries:    5,
		RetryDelay: 2 * time.Second,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitForConnectivity polls the radio until it is ClientConnected or the
// retries run out.
func (u *Uploader) WaitForConnectivity(ctx context.Context) error {
	for i := 0; i < u.Retries; i++ {
		if u.wifi.State() == wifi.ClientConnected {
			return nil
		}
		if err := u.sleep(ctx, u.RetryDelay); err != nil {
			return err
		}
	}
	if u.wifi.State() == wifi.ClientConnected {
		return nil
	}
	return ErrNoConnectivity
}

// Sync uploads all pending files. Individual failures are counted, not
// returned; the error is for conditions that stop the whole run.
func (u *Uploader) Sync(ctx context.Context) (Result, error) {
	var res Result
	if err := u.WaitForConnectivity(ctx); err != nil {
		log.WithError(err).Info("skipping upload")
		return res, err
	}

	files, err := u.store.Pending()
	if err != nil {
		return res, fmt.Errorf("listing pending logs: %w", err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry := log.WithFields(logrus.Fields{"file": f.Name, "size": f.Size})
		if err := u.uploadFile(ctx, f); err != nil {
			res.Failed++
			entry.WithError(err).Warn("upload failed")
			continue
		}
		if err := u.store.MarkSynced(f.Name); err != nil {
			res.Failed++
			entry.WithError(err).Warn("uploaded but could not mark synced")
			continue
		}
		res.Uploaded++
		entry.Info("log uploaded")
	}
	return res, nil
}

func (u *Uploader) requestURL() (string, error) {
	base, err := url.Parse(u.settings.UploadURL())
	if err != nil {
		return "", fmt.Errorf("parsing upload url: %w", err)
	}
	q := base.Query()
	q.Set("key", u.settings.DeviceKey())
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (u *Uploader) uploadFile(ctx context.Context, f ridelog.File) error {
	target, err := u.requestURL()
	if err != nil {
		return err
	}

	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer src.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="logfile"; filename=%q`, f.Name))
	h.Set("Content-Type", "text/x-log")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("reading %s: %w", f.Name, err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	id := uuid.NewString()
	req.Header.Set(RequestIDHeader, id)
	log.WithFields(logrus.Fields{"file": f.Name, "request_id": id}).Debug("uploading")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", f.Name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

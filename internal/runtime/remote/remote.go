// Package remote implements runtime.Runtime against a rex server over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/michaelbrown/rex/internal/archive"
	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/wait"
)

const (
	DefaultHost = "http://127.0.0.1"
	DefaultPort = 8000
)

// Options configures a Runtime.
type Options struct {
	// Host is a URL or a bare host name; http:// is added when missing.
	Host string
	// Port is appended to Host unless zero.
	Port      int
	AuthToken string
	// Timeout bounds each request. Zero means no bound.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Runtime forwards every operation to a remote server and reconstructs its
// failures as *runtime.RemoteError.
type Runtime struct {
	baseURL   string
	authToken string
	timeout   time.Duration
	client    *http.Client
	logger    *log.Logger
}

var _ runtime.Runtime = (*Runtime)(nil)

// New creates a client. It does not contact the server.
func New(opts Options) *Runtime {
	logger := logging.OrDiscard(opts.Logger)

	host := strings.TrimRight(opts.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	if !strings.HasPrefix(host, "http") {
		logger.Warn("host does not start with http, adding http://", "host", host)
		host = "http://" + host
	}
	if opts.Port != 0 {
		host += ":" + strconv.Itoa(opts.Port)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Runtime{
		baseURL:   host,
		authToken: opts.AuthToken,
		timeout:   opts.Timeout,
		client:    client,
		logger:    logger,
	}
}

// URL returns the base URL requests are sent to.
func (r *Runtime) URL() string { return r.baseURL }

// IsAlive probes the server. Connectivity problems, including a host that
// cannot form a URL, and unexpected statuses are reported as a negative response; only a transferred server-side error
// is returned as an error.
func (r *Runtime) IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	url := r.baseURL + "/is_alive"

	req, err := r.newRequest(ctx, http.MethodGet, "/is_alive", nil)
	if err != nil {
		return &runtime.IsAliveResponse{Message: fmt.Sprintf("cannot reach %s: %v", r.baseURL, err)}, nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		msg := fmt.Sprintf("failed to connect to %s: %v", r.baseURL, err)
		r.logger.Debug(msg)
		return &runtime.IsAliveResponse{Message: msg}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		msg := fmt.Sprintf("reading response from %s: %v", url, err)
		return &runtime.IsAliveResponse{Message: msg}, nil
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var alive runtime.IsAliveResponse
		if err := json.Unmarshal(body, &alive); err != nil {
			return &runtime.IsAliveResponse{Message: fmt.Sprintf("decoding response from %s: %v", url, err)}, nil
		}
		return &alive, nil
	case runtime.StatusTransferredError:
		return nil, r.transferredError(body)
	}

	var detail struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &detail)
	return &runtime.IsAliveResponse{
		Message: fmt.Sprintf("status code %d from %s, message: %s", resp.StatusCode, url, detail.Message),
	}, nil
}

// WaitUntilAlive polls IsAlive until the server answers or timeout elapses.
func (r *Runtime) WaitUntilAlive(ctx context.Context, timeout time.Duration) error {
	return wait.UntilAlive(ctx, r.IsAlive, timeout)
}

func (r *Runtime) CreateSession(ctx context.Context, req *runtime.CreateSessionRequest) (*runtime.CreateSessionResponse, error) {
	var resp runtime.CreateSessionResponse
	if err := r.post(ctx, "/create_session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *Runtime) RunInSession(ctx context.Context, action *runtime.Action) (*runtime.Observation, error) {
	r.logger.Debug("running action", "session", action.Session, "command", action.Command)
	var obs runtime.Observation
	if err := r.post(ctx, "/run_in_session", action, &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}

func (r *Runtime) CloseSession(ctx context.Context, req *runtime.CloseSessionRequest) (*runtime.CloseSessionResponse, error) {
	var resp runtime.CloseSessionResponse
	if err := r.post(ctx, "/close_session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *Runtime) Execute(ctx context.Context, cmd *runtime.Command) (*runtime.CommandResponse, error) {
	var resp runtime.CommandResponse
	if err := r.post(ctx, "/execute", cmd, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *Runtime) ReadFile(ctx context.Context, req *runtime.ReadFileRequest) (*runtime.ReadFileResponse, error) {
	var resp runtime.ReadFileResponse
	if err := r.post(ctx, "/read_file", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *Runtime) WriteFile(ctx context.Context, req *runtime.WriteFileRequest) (*runtime.WriteFileResponse, error) {
	var resp runtime.WriteFileResponse
	if err := r.post(ctx, "/write_file", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload sends a local file, or a directory zipped into a temporary archive,
// to TargetPath on the server.
func (r *Runtime) Upload(ctx context.Context, req *runtime.UploadRequest) (*runtime.UploadResponse, error) {
	info, err := os.Stat(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}

	source, unzip := req.SourcePath, false
	if info.IsDir() {
		tmp, err := os.MkdirTemp("", "rex-upload-")
		if err != nil {
			return nil, fmt.Errorf("creating temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)

		source = filepath.Join(tmp, filepath.Base(filepath.Clean(req.SourcePath))+".zip")
		if err := archive.ZipDir(req.SourcePath, source); err != nil {
			return nil, err
		}
		unzip = true
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("opening upload source: %w", err)
	}
	defer f.Close()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	body, contentType := multipartBody(f, filepath.Base(source), req.TargetPath, unzip)
	httpReq, err := r.newRequest(ctx, http.MethodPost, "/upload", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	var resp runtime.UploadResponse
	if err := r.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// multipartBody streams the upload form through a pipe.
func multipartBody(file io.Reader, fileName, targetPath string, unzip bool) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("target_path", targetPath); err != nil {
				return err
			}
			if err := mw.WriteField("unzip", strconv.FormatBool(unzip)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", fileName)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, file); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

// Close asks the server to close every session.
func (r *Runtime) Close(ctx context.Context) error {
	return r.post(ctx, "/close", struct{}{}, nil)
}

func (r *Runtime) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req, err := r.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r *Runtime) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if r.authToken != "" {
		req.Header.Set(runtime.AuthHeader, r.authToken)
	}
	return req, nil
}

func (r *Runtime) do(req *http.Request, out any) error {
	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return fmt.Errorf("%w: %s %s: %w", runtime.ErrTransport, req.Method, req.URL.Path, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %v", runtime.ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", runtime.ErrTransport, err)
	}

	switch {
	case resp.StatusCode == runtime.StatusTransferredError:
		return r.transferredError(body)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s %s: status %d: %s",
			runtime.ErrTransport, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %v", runtime.ErrTransport, req.URL.Path, err)
	}
	return nil
}

// transferredError rebuilds the failure carried by a 511 response.
func (r *Runtime) transferredError(body []byte) error {
	var envelope runtime.TransferEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: malformed error envelope: %v", runtime.ErrTransport, err)
	}
	t := envelope.Exception
	if t.Traceback != "" {
		r.logger.Debug("remote traceback", "traceback", t.Traceback)
	}
	if !t.Known() {
		r.logger.Error("unknown remote error kind", "kind", t.ClassPath)
	}
	return t.Err()
}

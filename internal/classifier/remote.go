package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/feichai0017/timechange/internal/models"
	"github.com/feichai0017/timechange/pkg/logger"
)

// RemoteConfig points the remote backend at a training service.
type RemoteConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RemoteAdapter delegates compile and fit to an HTTP training service that
// reads the same project images directory.
type RemoteAdapter struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

type compileRequest struct {
	NumClasses   int          `json:"numClasses"`
	Input        Shape        `json:"input"`
	Architecture Architecture `json:"architecture"`
	Loss         string       `json:"loss"`
	Activation   string       `json:"activation"`
	Layers       []Layer      `json:"layers"`
}

type compileResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type fitRequest struct {
	ImageDir  string   `json:"imageDir"`
	Labels    []string `json:"labels"`
	Epochs    int      `json:"epochs"`
	BatchSize int      `json:"batchSize"`
	Shuffle   bool     `json:"shuffle"`
	Seed      int64    `json:"seed,omitempty"`
}

type fitResponse struct {
	History models.History `json:"history"`
	Error   string         `json:"error,omitempty"`
}

func NewRemoteAdapter(cfg RemoteConfig, log logger.Logger) (*RemoteAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote classifier endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid remote classifier endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RemoteAdapter{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.Named("classifier.remote"),
	}, nil
}

func (a *RemoteAdapter) Compile(ctx context.Context, numClasses int, input Shape, arch Architecture) (*Handle, error) {
	h, err := newHandle("", numClasses, input, arch)
	if err != nil {
		return nil, err
	}

	var resp compileResponse
	err = a.doJSON(ctx, http.MethodPost, "/v1/models", compileRequest{
		NumClasses:   h.NumClasses,
		Input:        h.Input,
		Architecture: h.Arch,
		Loss:         h.Loss,
		Activation:   h.Activation,
		Layers:       h.Layers,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("remote classifier error: %s", resp.Error)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("remote classifier returned no model id")
	}

	h.ID = resp.ID
	a.logger.Info("Compiled remote model", logger.String("model_id", h.ID), logger.Int("classes", numClasses))
	return h, nil
}

func (a *RemoteAdapter) Fit(ctx context.Context, h *Handle, imageDir string, labels []string, opts FitOptions) (models.History, error) {
	if h == nil || h.ID == "" {
		return nil, ErrNoModel
	}

	var resp fitResponse
	err := a.doJSON(ctx, http.MethodPost, "/v1/models/"+url.PathEscape(h.ID)+"/fit", fitRequest{
		ImageDir:  imageDir,
		Labels:    labels,
		Epochs:    max(opts.Epochs, 1),
		BatchSize: opts.BatchSize,
		Shuffle:   opts.Shuffle,
		Seed:      opts.Seed,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("remote classifier error: %s", resp.Error)
	}

	if opts.OnEpoch != nil {
		for epoch := 0; epoch < resp.History.Epochs(); epoch++ {
			metrics := make(map[string]float64, len(resp.History))
			for name, values := range resp.History {
				if epoch < len(values) {
					metrics[name] = values[epoch]
				}
			}
			opts.OnEpoch(epoch, metrics)
		}
	}
	return resp.History, nil
}

func (a *RemoteAdapter) Save(ctx context.Context, h *Handle, path string) error {
	if h == nil || h.ID == "" {
		return ErrNoModel
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.weightsURL(h), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".weights-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	_, err = io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store weights: %w", err)
	}

	h.WeightsPath = path
	return nil
}

func (a *RemoteAdapter) Load(ctx context.Context, h *Handle, path string) error {
	if h == nil || h.ID == "" {
		return ErrNoModel
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to open weights: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.weightsURL(h), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	h.WeightsPath = path
	return nil
}

func (a *RemoteAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *RemoteAdapter) weightsURL(h *Handle) string {
	return a.endpoint + "/v1/models/" + url.PathEscape(h.ID) + "/weights"
}

func (a *RemoteAdapter) doJSON(ctx context.Context, method, path string, in, out any) error {
	reqData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, bytes.NewReader(reqData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

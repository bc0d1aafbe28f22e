package usecase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
)

type NetworkConfig struct {
	// URL is either a template containing {z}, {x} and {y} or a base URL
	// to which /{z}/{x}/{y}.png is appended.
	URL       string
	Timeout   time.Duration
	UserAgent string
	Referer   string
}

// NetworkSource fetches tiles from an upstream tile server. It never serves
// offline tasks.
type NetworkSource struct {
	Link

	cfg        NetworkConfig
	httpClient *http.Client
	logger     logger.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewNetworkSource(cfg NetworkConfig, l logger.Logger) *NetworkSource {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &NetworkSource{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: l,
	}
}

var _ Source = (*NetworkSource)(nil)

func (n *NetworkSource) LoadTileData(task *tile.Task, cb tile.Callback) bool {
	if task.Source() != n.Level() {
		return n.delegate(task, cb)
	}

	if task.Offline() {
		return n.skip(task, cb)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	n.inflight.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.inflight.Done()

		data, err := n.fetch(context.Background(), task.Address)
		if err != nil {
			n.logger.Warn("failed to fetch tile from upstream", "task", task.ID, "tile", task.Address.String(), "error", err)
		} else {
			task.SetData(data)
		}

		cb(task)
	}()

	return true
}

func (n *NetworkSource) tileURL(addr tile.Address) string {
	z := strconv.FormatUint(uint64(addr.Zoom), 10)
	x := strconv.FormatUint(uint64(addr.Column), 10)
	y := strconv.FormatUint(uint64(addr.Row), 10)

	if strings.Contains(n.cfg.URL, "{z}") {
		return strings.NewReplacer("{z}", z, "{x}", x, "{y}", y).Replace(n.cfg.URL)
	}

	return fmt.Sprintf("%s/%s/%s/%s.png", strings.TrimRight(n.cfg.URL, "/"), z, x, y)
}

func (n *NetworkSource) fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	upstreamURL := n.tileURL(addr)
	n.logger.Debug("fetching from upstream", "url", upstreamURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Required by the OpenStreetMap tile usage policy.
	if n.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", n.cfg.UserAgent)
	}
	if n.cfg.Referer != "" {
		req.Header.Set("Referer", n.cfg.Referer)
	}

	metrics.UpstreamRequests.Inc()
	start := time.Now()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile from upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}

	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	n.logger.Debug("fetched tile from upstream", "tile", addr.String(), "size", len(data))

	return data, nil
}

// Close rejects new tasks and waits for in-flight fetches to deliver.
func (n *NetworkSource) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	n.inflight.Wait()

	return nil
}

// Package metadata resolves the display image of an ERC-721 token from its
// tokenURI.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/emperorhan/mint-watcher/internal/cache"
	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/circuitbreaker"
	"github.com/emperorhan/mint-watcher/internal/metrics"
)

const (
	DefaultIPFSGateway    = "https://ipfs.io/ipfs/"
	DefaultArweaveGateway = "https://arweave.net/"

	defaultTimeout     = 10 * time.Second
	defaultCacheSize   = 4096
	defaultCacheTTL    = 6 * time.Hour
	placeholderTTL     = time.Minute
	maxMetadataBodyLen = 1 << 20
)

type Options struct {
	IPFSGateway    string
	ArweaveGateway string
	Placeholder    string
	Timeout        time.Duration
	CacheSize      int
	CacheTTL       time.Duration
	Logger         *slog.Logger
}

// Resolver maps (contract, tokenID) to an HTTP image URL. It never fails:
// any lookup error yields the configured placeholder.
type Resolver struct {
	client  chain.Client
	http    *resty.Client
	breaker *circuitbreaker.Breaker
	images  *cache.LRU[string, string]

	ipfsGateway    string
	arweaveGateway string
	placeholder    string
	timeout        time.Duration
	logger         *slog.Logger
}

func NewResolver(client chain.Client, opts Options) *Resolver {
	if opts.IPFSGateway == "" {
		opts.IPFSGateway = DefaultIPFSGateway
	}
	if opts.ArweaveGateway == "" {
		opts.ArweaveGateway = DefaultArweaveGateway
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		client: client,
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetResponseBodyLimit(maxMetadataBodyLen).
			SetHeader("Accept", "application/json"),
		breaker:        circuitbreaker.New(circuitbreaker.Config{Name: "metadata_fetch"}),
		images:         cache.NewLRU[string, string](opts.CacheSize, opts.CacheTTL),
		ipfsGateway:    ensureSlash(opts.IPFSGateway),
		arweaveGateway: ensureSlash(opts.ArweaveGateway),
		placeholder:    opts.Placeholder,
		timeout:        opts.Timeout,
		logger:         opts.Logger.With("component", "metadata"),
	}
}

func (r *Resolver) Placeholder() string { return r.placeholder }

// ImageURL returns the token's image, or the placeholder.
func (r *Resolver) ImageURL(ctx context.Context, contract common.Address, tokenID *big.Int) string {
	if tokenID == nil {
		return r.placeholder
	}
	key := strings.ToLower(contract.Hex()) + ":" + tokenID.String()
	if image, ok := r.images.Get(key); ok {
		metrics.MetadataLookupsTotal.WithLabelValues("cache_hit").Inc()
		return image
	}

	image, outcome, err := r.lookup(ctx, contract, tokenID)
	metrics.MetadataLookupsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		r.logger.Debug("image lookup failed, using placeholder",
			"contract", contract.Hex(),
			"token_id", tokenID.String(),
			"outcome", outcome,
			"error", err,
		)
		r.images.PutWithTTL(key, r.placeholder, placeholderTTL)
		return r.placeholder
	}
	r.images.Put(key, image)
	return image
}

func (r *Resolver) lookup(ctx context.Context, contract common.Address, tokenID *big.Int) (string, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	uri, err := chain.TokenURI(callCtx, r.client, contract, tokenID)
	if err != nil {
		return "", "uri_error", err
	}
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", "uri_error", fmt.Errorf("empty tokenURI")
	}

	doc, err := r.document(callCtx, uri)
	if err != nil {
		return "", "fetch_error", err
	}

	image := strings.TrimSpace(doc.Image)
	if image == "" {
		image = strings.TrimSpace(doc.ImageURL)
	}
	if image == "" {
		return "", "no_image", fmt.Errorf("metadata has no image")
	}
	return RewriteURI(image, r.ipfsGateway, r.arweaveGateway), "ok", nil
}

type tokenMetadata struct {
	Name     string `json:"name"`
	Image    string `json:"image"`
	ImageURL string `json:"image_url"`
}

func (r *Resolver) document(ctx context.Context, uri string) (tokenMetadata, error) {
	var doc tokenMetadata
	if strings.HasPrefix(uri, "data:") {
		raw, err := decodeDataURI(uri)
		if err != nil {
			return doc, err
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return doc, fmt.Errorf("decode inline metadata: %w", err)
		}
		return doc, nil
	}

	target := RewriteURI(uri, r.ipfsGateway, r.arweaveGateway)
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := r.http.R().SetContext(ctx).Get(target)
		if err != nil {
			return fmt.Errorf("fetch metadata: %w", err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("metadata http status %d", resp.StatusCode())
		}
		if err := json.Unmarshal(resp.Body(), &doc); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		return nil
	})
	return doc, err
}

// RewriteURI maps ipfs:// and ar:// URIs onto HTTP gateways. Other URIs are
// returned unchanged.
func RewriteURI(uri, ipfsGateway, arweaveGateway string) string {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		return ensureSlash(ipfsGateway) + path
	case strings.HasPrefix(uri, "ar://"):
		return ensureSlash(arweaveGateway) + strings.TrimPrefix(uri, "ar://")
	default:
		return uri
	}
}

func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data uri")
	}
	mediaType, _, _ := strings.Cut(header, ";")
	if mediaType != "" && mediaType != "application/json" {
		return nil, fmt.Errorf("unsupported data uri media type %q", mediaType)
	}
	if strings.HasSuffix(header, ";base64") {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data uri: %w", err)
		}
		return raw, nil
	}
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("unescape data uri: %w", err)
	}
	return []byte(raw), nil
}

func ensureSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// Package expert wraps the Anthropic SDK behind the collaborator
// operations the pipeline needs: outlining, claim extraction, drafting,
// reframing, and sentence rewriting.
package expert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/draftforge/manuscript-cli/internal/model"
	"github.com/draftforge/manuscript-cli/internal/resilience"
)

// Options configures the expert client.
type Options struct {
	APIKey      string
	BaseURL     string // overridden in tests
	Model       string
	MaxTokens   int64
	Temperature float64

	// RequestsPerSecond throttles outbound calls. Zero means 1 rps.
	RequestsPerSecond float64

	// CacheTTL bounds how long identical prompts reuse a prior
	// completion. Zero disables response caching.
	CacheTTL time.Duration

	Retry resilience.Policy
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5-20250929"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 1
	}
	return o
}

// Client is the model-backed collaborator used by the pipeline stages.
type Client struct {
	api     sdk.Client
	opts    Options
	limiter *rate.Limiter
	cache   *gocache.Cache
}

// New builds a Client from options.
func New(opts Options) *Client {
	opts = opts.withDefaults()

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	var cache *gocache.Cache
	if opts.CacheTTL > 0 {
		cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}

	return &Client{
		api:     sdk.NewClient(reqOpts...),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		cache:   cache,
	}
}

// Outline produces a structural brief for the manuscript from raw source
// text.
func (c *Client) Outline(ctx context.Context, sourceText string) (string, error) {
	out, err := c.complete(ctx, "outline", outlineSystem, sourceText)
	return out, eris.Wrap(err, "expert: outline")
}

// ExtractClaims pulls (subject, predicate, object) triples with page
// provenance from source text. Responses that cannot be parsed yield an
// empty claim set rather than an error: the pipeline treats zero triples
// as an extraction failure signal, not a crash.
func (c *Client) ExtractClaims(ctx context.Context, docID, fileHash, sourceText string) ([]model.Claim, error) {
	raw, err := c.complete(ctx, "extract", extractSystem, sourceText)
	if err != nil {
		return nil, eris.Wrap(err, "expert: extract claims")
	}

	claims, err := parseClaims(raw, docID, fileHash)
	if err != nil {
		zap.L().Warn("claim extraction produced unparseable output",
			zap.String("doc_id", docID),
			zap.Error(err),
		)
		return nil, nil
	}
	return claims, nil
}

// Draft writes manuscript prose from an outline and the vetted claims.
func (c *Client) Draft(ctx context.Context, outline string, claims []model.Claim) (string, error) {
	prompt := draftPrompt(outline, claims)
	out, err := c.complete(ctx, "draft", draftSystem, prompt)
	return out, eris.Wrap(err, "expert: draft")
}

// ProposeReframe drafts an alternative framing for a deadlocked run so a
// human reviewer has something concrete to approve or edit.
func (c *Client) ProposeReframe(ctx context.Context, draft string, report *model.ConflictReport) (string, error) {
	prompt := reframePrompt(draft, report)
	out, err := c.complete(ctx, "reframe", reframeSystem, prompt)
	return out, eris.Wrap(err, "expert: propose reframe")
}

// Rewrite rewrites a single sentence to remove a tone violation while
// preserving its factual content. Satisfies the tone governor's rewriter
// contract.
func (c *Client) Rewrite(ctx context.Context, sentence, suggestion string) (string, error) {
	prompt := fmt.Sprintf("Sentence:\n%s\n\nGuidance: %s", sentence, suggestion)
	out, err := c.complete(ctx, "rewrite", rewriteSystem, prompt)
	return out, eris.Wrap(err, "expert: rewrite")
}

// complete runs one message round trip with rate limiting, retry, and
// response caching.
func (c *Client) complete(ctx context.Context, op, system, user string) (string, error) {
	key := cacheKey(op, system, user)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v.(string), nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "expert: rate limit wait")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.opts.Model),
		MaxTokens: c.opts.MaxTokens,
		System: []sdk.TextBlockParam{{
			Text:         system,
			CacheControl: sdk.NewCacheControlEphemeralParam(),
		}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if c.opts.Temperature > 0 {
		params.Temperature = sdk.Float(c.opts.Temperature)
	}

	msg, err := resilience.Retry(ctx, c.opts.Retry, "expert."+op,
		func(ctx context.Context) (*sdk.Message, error) {
			return c.api.Messages.New(ctx, params)
		})
	if err != nil {
		return "", err
	}

	zap.L().Debug("expert call complete",
		zap.String("operation", op),
		zap.String("model", string(msg.Model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if c.cache != nil {
		c.cache.Set(key, text, gocache.DefaultExpiration)
	}
	return text, nil
}

func cacheKey(op, system, user string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s", op, system, user)
	return hex.EncodeToString(h.Sum(nil))
}

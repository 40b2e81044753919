package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/models"
)

// GeminiClient is the generative-answer collaborator. It wraps the Gemini
// API with a circuit breaker, a request rate limiter and token accounting
// so a misbehaving provider degrades instead of cascading.
type GeminiClient struct {
	breaker      *gobreaker.CircuitBreaker
	rateLimiter  *rate.Limiter
	tokenCounter *TokenCounter
	client       *genai.Client
	model        string
	tier         string
}

type TokenCounter struct {
	mu              sync.Mutex
	minuteTokens    int
	dailyTokens     int
	minuteRequests  int
	dailyRequests   int
	lastMinuteReset time.Time
	lastDayReset    time.Time
	limits          RateLimits
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewGeminiClient(apiKey, model, tier string) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	// Configure rate limits based on tier
	limits := getRateLimits(tier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10+1)

	return &GeminiClient{
		breaker:      breaker,
		rateLimiter:  rateLimiter,
		tokenCounter: &TokenCounter{limits: limits},
		client:       client,
		model:        model,
		tier:         tier,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// GenerateAnswer implements the citation contract: context blocks are
// numbered 1-based in the exact order supplied, and the model is told to
// cite them with bracketed markers into that numbering.
func (gc *GeminiClient) GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error) {
	prompt := buildAnswerPrompt(query, contexts)
	return gc.generateText(ctx, prompt, len(contexts))
}

// generateText runs one generation call through the limiter and breaker.
func (gc *GeminiClient) generateText(ctx context.Context, prompt string, contextCount int) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()

	estimatedTokens := len(prompt) / 4
	span.SetAttributes(
		attribute.Int("gemini.estimated_tokens", estimatedTokens),
		attribute.Int("gemini.context_chunks", contextCount),
		attribute.String("gemini.model", gc.model),
	)

	if !gc.tokenCounter.CanConsume(estimatedTokens, 1) {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", &models.ProviderError{Provider: "gemini", Transient: true, Err: fmt.Errorf("token budget exhausted, wait before retry")}
	}

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", err
	}

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.GenerativeModel(gc.model)
		model.SetTemperature(0.3)
		model.SetMaxOutputTokens(2048)

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			span.SetAttributes(attribute.Bool("gemini.error", true))
			return nil, err
		}

		gc.tokenCounter.RecordUsage(extractTokenUsage(resp), 1)
		return resp, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return "", &models.ProviderError{Provider: "gemini", Transient: true, Err: err}
		}
		return "", &models.ProviderError{Provider: "gemini", Transient: isTransient(err), Err: err}
	}

	text := extractTextFromResponse(result.(*genai.GenerateContentResponse))
	if text == "" {
		return "", &models.ProviderError{Provider: "gemini", Err: fmt.Errorf("empty generation response")}
	}
	span.SetAttributes(attribute.Bool("gemini.success", true))
	return text, nil
}

func (tc *TokenCounter) CanConsume(tokens, requests int) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := time.Now()

	// Reset counters if time windows expired
	if now.Sub(tc.lastMinuteReset) >= time.Minute {
		tc.minuteTokens = 0
		tc.minuteRequests = 0
		tc.lastMinuteReset = now
	}

	if now.Sub(tc.lastDayReset) >= 24*time.Hour {
		tc.dailyTokens = 0
		tc.dailyRequests = 0
		tc.lastDayReset = now
	}

	if tc.minuteRequests+requests > tc.limits.RPM {
		return false
	}
	if tc.minuteTokens+tokens > tc.limits.TPM {
		return false
	}
	if tc.dailyRequests+requests > tc.limits.RPD {
		return false
	}

	return true
}

func (tc *TokenCounter) RecordUsage(tokens, requests int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.minuteTokens += tokens
	tc.minuteRequests += requests
	tc.dailyTokens += tokens
	tc.dailyRequests += requests
}

// Extract token usage from Gemini response
func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}

	// Fallback: ~4 characters per token
	estimated := len(extractTextFromResponse(resp)) / 4
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) string {
	var result strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					result.WriteString(string(text))
				}
			}
		}
	}
	return result.String()
}

// buildAnswerPrompt numbers the context blocks 1-based in supplied order.
// The bracketed-marker instruction is the other half of the citation
// contract the UI relies on.
func buildAnswerPrompt(query string, contexts []string) string {
	var b strings.Builder
	b.WriteString("You are the knowledge assistant of a business dashboard. Answer the question using only the numbered sources below.\n\n")
	for i, chunk := range contexts {
		fmt.Fprintf(&b, "Source [%d]:\n%s\n\n", i+1, chunk)
	}
	b.WriteString("Cite every claim with the bracketed number of the source it comes from, e.g. [1] or [2]. ")
	b.WriteString("If the sources do not contain the answer, say so instead of guessing.\n\n")
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

// Close the client
func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}

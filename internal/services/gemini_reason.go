package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// GeminiReasons asks a Gemini model for a short ban justification.
type GeminiReasons struct {
	Client *genai.Client
	Model  string
}

// NewGeminiReasons creates a Gemini API client for model.
func NewGeminiReasons(ctx context.Context, apiKey, model string) (*GeminiReasons, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiReasons{Client: client, Model: model}, nil
}

// Generate implements ReasonGenerator.
func (g *GeminiReasons) Generate(ctx context.Context, in ReasonInput) (string, error) {
	ctx, span := otel.Tracer("services/GeminiReasons").Start(ctx, "Generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("user.id", in.UserID),
			attribute.String("gen_ai.request.model", g.Model),
		),
	)
	defer span.End()

	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, genai.Text(reasonPrompt(in)), nil)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

// reasonPrompt renders the analyst prompt with unix timestamps.
func reasonPrompt(in ReasonInput) string {
	ts := make([]string, len(in.Recent))
	for i, t := range in.Recent {
		ts[i] = strconv.FormatInt(t.Unix(), 10)
	}
	return fmt.Sprintf(
		"You are a security analyst. User %s triggered a rate-limit. "+
			"Recent activity timestamps (unix): [%s]\n"+
			"Burst window count=%d, sustained window count=%d.\n"+
			"Provide a 1-2 sentence human-readable reason for banning and suggest a ban duration in hours.",
		in.UserID, strings.Join(ts, ", "), in.BurstCount, in.SustainedCount,
	)
}

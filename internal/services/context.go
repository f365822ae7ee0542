package services

import "context"

type contextKey string

const (
	jobIDKey       contextKey = "job_id"
	contentHashKey contextKey = "content_hash"
	stageKey       contextKey = "stage"
	renditionKey   contextKey = "rendition"
	requestIDKey   contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithContentHash annotates context with the content hash of the job source.
func WithContentHash(ctx context.Context, hash string) context.Context {
	return withString(ctx, contentHashKey, hash)
}

// ContentHashFromContext returns the content hash if present.
func ContentHashFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, contentHashKey)
}

// WithStage annotates context with the workflow stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithRendition annotates context with a rendition label such as "1280x720".
func WithRendition(ctx context.Context, label string) context.Context {
	return withString(ctx, renditionKey, label)
}

// RenditionFromContext returns the rendition label if present.
func RenditionFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, renditionKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

package redisx

import (
	"strings"
)

// KeyBuilder helps build Redis keys according to our naming convention:
// namespace:context:entity[:attribute].
type KeyBuilder struct {
	namespace string
	context   string
}

// NewKeyBuilder creates a new KeyBuilder with the given namespace.
func NewKeyBuilder(namespace, context string) *KeyBuilder {
	return &KeyBuilder{
		namespace: strings.ToLower(namespace),
		context:   strings.ToLower(context),
	}
}

// Build creates a Redis key following our naming convention.
func (kb *KeyBuilder) Build(entity string, attributes ...string) string {
	parts := []string{
		kb.namespace,
		kb.context,
		strings.ToLower(entity),
	}
	for _, attr := range attributes {
		if attr != "" {
			parts = append(parts, attr)
		}
	}
	return strings.Join(parts, ":")
}

// BuildPattern creates a Redis key pattern for searching.
func (kb *KeyBuilder) BuildPattern(entity, pattern string) string {
	if pattern == "" {
		pattern = "*"
	}
	return strings.Join([]string{kb.namespace, kb.context, strings.ToLower(entity), pattern}, ":")
}

// GetNamespace returns the namespace.
func (kb *KeyBuilder) GetNamespace() string {
	return kb.namespace
}

// GetContext returns the context.
func (kb *KeyBuilder) GetContext() string {
	return kb.context
}

// WithContext creates a new key builder with a different context.
func (kb *KeyBuilder) WithContext(context string) *KeyBuilder {
	return NewKeyBuilder(kb.namespace, context)
}

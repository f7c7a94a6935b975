// Package types contains the zero-dependency core types of orchestron:
// transcript messages, the unified error model, and token accounting.
package types

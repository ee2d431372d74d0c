// Package logger provides the slog constructor shared by all gateway
// components.
package logger

// Package logger wraps zap with a global sugared logger, context helpers and
// level parsing. Components pull their logger from the context they run in,
// so a named child logger follows the work it belongs to.
package logger

// Package logx wraps zerolog behind a small, value-type Logger.
//
// Components receive a Logger and derive scoped loggers with With().
// The Service supports hot-reloading sinks and levels without invalidating
// loggers already handed out.
package logx

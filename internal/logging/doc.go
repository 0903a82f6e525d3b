// Package logging wraps Zap with convergd's configuration surface and
// context-aware correlation fields (run, iteration, hook). Components
// receive a *zap.Logger from here and default to a nop logger when
// constructed without one.
package logging

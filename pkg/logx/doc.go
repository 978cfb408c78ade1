// Package logx wraps zerolog behind a small Logger/Field API with a
// runtime-reconfigurable Service fanning out to console, file, and an
// optional rate-limited Telegram mirror.
package logx

// Package config loads the chat client configuration from a TOML file with
// ${VAR} environment expansion. The default location follows XDG conventions
// (~/.config/plaza/chat.toml).
package config

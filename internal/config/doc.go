// Package config provides the immutable, validated configuration mapping
// shared by every other component: dotted-path access over a typed value
// tree, built once at startup from an optional base settings file layered
// under CLI-provided overrides.
package config

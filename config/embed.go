package config

import _ "embed"

// Default holds the embedded baseline configuration. It is always loaded
// first; on-disk conf.yaml and environment variables are merged on top.
//
//go:embed default.yaml
var Default []byte

// Package config loads the gateway configuration from dotenv files, an
// optional YAML file and the environment, in increasing order of
// precedence.
package config

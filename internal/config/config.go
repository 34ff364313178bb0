// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads server and CLI settings from an optional YAML
// file and the environment.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultAddr = ":3001"
	DefaultDSN  = "file:.local/gmail_tokens.txt"
)

type Google struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// TokenURL overrides Google's OAuth token endpoint.
	TokenURL string `mapstructure:"token_url"`
}

type Gmail struct {
	// Endpoint overrides the Gmail API base URL.
	Endpoint string   `mapstructure:"endpoint"`
	Topic    string   `mapstructure:"topic"`
	Labels   []string `mapstructure:"labels"`

	// TokenFile is shorthand for a file: store DSN.
	TokenFile string `mapstructure:"token_file"`
}

type Store struct {
	// DSN selects the credential store: file:<path>, sqlite:<path>,
	// keyring:<service> or memory:.
	DSN string `mapstructure:"dsn"`

	// Encrypted file fallback for keyring: on hosts without a native
	// keyring.
	KeyringDir      string `mapstructure:"keyring_dir"`
	KeyringPassword string `mapstructure:"keyring_password"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type Dispatch struct {
	Workers int `mapstructure:"workers"`
	Queue   int `mapstructure:"queue"`
}

type Log struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

type Config struct {
	Addr     string   `mapstructure:"addr"`
	Port     string   `mapstructure:"port"`
	Google   Google   `mapstructure:"google"`
	Gmail    Gmail    `mapstructure:"gmail"`
	Store    Store    `mapstructure:"store"`
	Auth     Auth     `mapstructure:"auth"`
	Dispatch Dispatch `mapstructure:"dispatch"`
	Log      Log      `mapstructure:"log"`
	Trace    bool     `mapstructure:"trace"`
}

// aliases are the environment names deployments already use, bound
// next to the DRUE_ prefixed ones.
var aliases = map[string]string{
	"port":                 "PORT",
	"google.client_id":     "GOOGLE_CLIENT_ID",
	"google.client_secret": "GOOGLE_CLIENT_SECRET",
	"gmail.topic":          "GMAIL_PUBSUB_TOPIC",
	"gmail.token_file":     "GMAIL_TOKEN_FILE",
}

var keys = []string{
	"addr", "port",
	"google.client_id", "google.client_secret", "google.token_url",
	"gmail.endpoint", "gmail.topic", "gmail.labels", "gmail.token_file",
	"store.dsn", "store.keyring_dir", "store.keyring_password",
	"auth.jwt_secret", "auth.issuer",
	"dispatch.workers", "dispatch.queue",
	"log.level", "log.dev",
	"trace",
}

// New returns a viper instance with defaults and environment bindings
// in place.  Callers may bind command line flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("gmail.labels", []string{"INBOX"})
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue", 64)
	v.SetDefault("log.level", "info")
	v.SetDefault("store.keyring_dir", ".local/keyring")

	for _, k := range keys {
		names := []string{"DRUE_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))}
		if alias, ok := aliases[k]; ok {
			names = append(names, alias)
		}
		v.BindEnv(append([]string{k}, names...)...)
	}
	return v
}

// Load reads path, when not empty, into v and decodes the result.  A
// missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !os.IsNotExist(err) && !errors.As(err, &nf) {
				return nil, errors.Wrapf(err, "reading config %s", path)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
		if cfg.Port != "" {
			cfg.Addr = ":" + cfg.Port
		}
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = DefaultDSN
		if cfg.Gmail.TokenFile != "" {
			cfg.Store.DSN = "file:" + cfg.Gmail.TokenFile
		}
	}
	return cfg, nil
}

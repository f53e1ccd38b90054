// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"fmt"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/session"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`
	GRPC GRPCServer `yaml:"grpc"`

	Keeper   Keeper   `yaml:"keeper"`
	Identity Identity `yaml:"identity"`
	Upstream Upstream `yaml:"upstream"`

	Storage  Storage     `yaml:"storage"`
	Database Database    `yaml:"database"`
	ValKey   ValKey      `yaml:"valkey"`
	File     FileStorage `yaml:"file"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type GRPCServer struct {
	commoncfg.GRPCServer `mapstructure:",squash" yaml:",inline"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// Keeper tunes the session lifecycle.
type Keeper struct {
	// ID names this keeper's session in shared storage.
	ID              string        `yaml:"id" default:"default"`
	ExpiryThreshold time.Duration `yaml:"expiryThreshold" default:"120s"`
	MonitorInterval time.Duration `yaml:"monitorInterval" default:"60s"`
	RefreshTimeout  time.Duration `yaml:"refreshTimeout" default:"30s"`
	ExpirySkew      time.Duration `yaml:"expirySkew" default:"0s"`
	RefreshRate     float64       `yaml:"refreshRate" default:"1"`
	RefreshBurst    int           `yaml:"refreshBurst" default:"5"`
	MaxRetryPerCall int           `yaml:"maxRetryPerCall" default:"1"`
	// WatchDebounce applies to the file storage watcher.
	WatchDebounce time.Duration `yaml:"watchDebounce" default:"200ms"`
}

type Identity struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	Scopes       []string      `yaml:"scopes"`
	DiscoveryTTL time.Duration `yaml:"discoveryTTL" default:"1h"`
	ClientAuth   ClientAuth    `yaml:"clientAuth"`
}

const (
	ClientAuthMTLS     = "mtls"
	ClientAuthSecret   = "client_secret"
	ClientAuthInsecure = "insecure"
)

type ClientAuth struct {
	// Type is one of mtls, client_secret or insecure.
	Type         string              `yaml:"type" default:"insecure"`
	ClientID     string              `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	MTLS         *commoncfg.MTLS     `yaml:"mTLS"`
}

type Upstream struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

type StorageType string

const (
	StorageValKey   StorageType = "valkey"
	StoragePostgres StorageType = "postgres"
	StorageFile     StorageType = "file"
	StorageMemory   StorageType = "memory"
)

type Storage struct {
	Type StorageType `yaml:"type" default:"file"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	SSLMode  string              `yaml:"sslMode"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"session-keeper"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type FileStorage struct {
	Path string `yaml:"path" default:"/var/lib/session-keeper/session.json"`
}

// SessionConfig converts the keeper section into the lifecycle settings.
func (k Keeper) SessionConfig() session.Config {
	return session.Config{
		ExpiryThreshold: k.ExpiryThreshold,
		MonitorInterval: k.MonitorInterval,
		RefreshTimeout:  k.RefreshTimeout,
		ExpirySkew:      k.ExpirySkew,
		RefreshRate:     rateLimit(k.RefreshRate),
		RefreshBurst:    k.RefreshBurst,
		MaxRetryPerCall: k.MaxRetryPerCall,
	}
}

func (k Keeper) Validate() error {
	if k.ID == "" {
		return fmt.Errorf("%w: keeper.id is empty", serviceerr.ErrInvalidConfig)
	}

	if k.MaxRetryPerCall != session.MaxRetryPerCall {
		return fmt.Errorf("%w: keeper.maxRetryPerCall must be %d, got %d",
			serviceerr.ErrInvalidConfig, session.MaxRetryPerCall, k.MaxRetryPerCall)
	}

	if err := k.SessionConfig().Validate(); err != nil {
		return fmt.Errorf("%w: keeper: %w", serviceerr.ErrInvalidConfig, err)
	}

	return nil
}

func (s Storage) Validate() error {
	switch s.Type {
	case StorageValKey, StoragePostgres, StorageFile, StorageMemory:
		return nil
	default:
		return fmt.Errorf("%w: %q", serviceerr.ErrUnknownStorage, s.Type)
	}
}

// Validate checks what talking to the identity provider needs.
func (i Identity) Validate() error {
	if i.Issuer == "" {
		return fmt.Errorf("%w: identity.issuer is empty", serviceerr.ErrInvalidConfig)
	}

	switch i.ClientAuth.Type {
	case ClientAuthMTLS:
		if i.ClientAuth.MTLS == nil {
			return fmt.Errorf("%w: identity.clientAuth.mTLS is missing", serviceerr.ErrInvalidConfig)
		}
	case ClientAuthSecret, ClientAuthInsecure:
	default:
		return fmt.Errorf("%w: unknown identity.clientAuth.type %q", serviceerr.ErrInvalidConfig, i.ClientAuth.Type)
	}

	return nil
}

// Validate checks the sections every keeper command depends on.
func (c *Config) Validate() error {
	if err := c.Keeper.Validate(); err != nil {
		return err
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Storage.Type == StorageFile && c.File.Path == "" {
		return fmt.Errorf("%w: file.path is empty", serviceerr.ErrInvalidConfig)
	}

	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kasuboski/amnis/pkg/show"
	"github.com/spf13/viper"
)

type Config struct {
	IRC      IRC      `json:"irc" yaml:"irc" mapstructure:"irc"`
	Catalog  Catalog  `json:"catalog" yaml:"catalog" mapstructure:"catalog"`
	Library  Library  `json:"library" yaml:"library" mapstructure:"library"`
	Storage  Storage  `json:"storage" yaml:"storage" mapstructure:"storage"`
	Transfer Transfer `json:"transfer" yaml:"transfer" mapstructure:"transfer"`
	Manager  Manager  `json:"manager" yaml:"manager" mapstructure:"manager"`
	Server   Server   `json:"server" yaml:"server" mapstructure:"server"`
	// Shows is kept raw so each entry can be a plain name or a map.
	Shows []any `json:"shows" yaml:"shows" mapstructure:"shows"`
}

type IRC struct {
	Server string `json:"server" yaml:"server" mapstructure:"server" validate:"required"`
	Port   int    `json:"port" yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	TLS    bool   `json:"tls" yaml:"tls" mapstructure:"tls"`
	Nick   string `json:"nick" yaml:"nick" mapstructure:"nick" validate:"required"`
	User   string `json:"user" yaml:"user" mapstructure:"user"`
}

type Catalog struct {
	URL         string        `json:"url" yaml:"url" mapstructure:"url" validate:"required,url"`
	Sources     []string      `json:"sources" yaml:"sources" mapstructure:"sources" validate:"required,min=1,dive,required"`
	Term        string        `json:"term" yaml:"term" mapstructure:"term"`
	Resolutions []int         `json:"resolutions" yaml:"resolutions" mapstructure:"resolutions" validate:"dive,oneof=480 720 1080"`
	BaseBackoff time.Duration `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
	MaxRetries  int           `json:"maxRetries" yaml:"maxRetries" mapstructure:"maxRetries"`
}

type Library struct {
	CompleteDir   string `json:"complete" yaml:"complete" mapstructure:"complete" validate:"required"`
	IncompleteDir string `json:"incomplete" yaml:"incomplete" mapstructure:"incomplete" validate:"required,nefield=CompleteDir"`
	DataDir       string `json:"data" yaml:"data" mapstructure:"data"`
	// AutoArchive moves finished files into a directory named after the show
	// unless the show says otherwise.
	AutoArchive bool `json:"autoArchive" yaml:"autoArchive" mapstructure:"autoArchive"`
}

// Storage configuration is assumed to be for sqlite database only currently
type Storage struct {
	FilePath string `json:"filePath" yaml:"filePath" mapstructure:"filePath" validate:"required"`
}

type Transfer struct {
	MaxResumeAttempts int           `json:"maxResumeAttempts" yaml:"maxResumeAttempts" mapstructure:"maxResumeAttempts" validate:"min=0"`
	ResumeBackoffMin  time.Duration `json:"resumeBackoffMin" yaml:"resumeBackoffMin" mapstructure:"resumeBackoffMin"`
	ResumeBackoffMax  time.Duration `json:"resumeBackoffMax" yaml:"resumeBackoffMax" mapstructure:"resumeBackoffMax"`
	// AcceptTimeout bounds how long a resume request waits for the peer to agree.
	AcceptTimeout time.Duration `json:"acceptTimeout" yaml:"acceptTimeout" mapstructure:"acceptTimeout"`
}

// Manager houses configuration related to the manager and reconcillation
type Manager struct {
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval" mapstructure:"pollInterval" validate:"min=0"`
}

type Server struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" yaml:"port" mapstructure:"port"`
}

type ConfigUnmarshaler interface {
	ReadInConfig() error
	Unmarshal(any, ...viper.DecoderConfigOption) error
	ConfigFileUsed() string
}

// New reads a new configuration
func New(cu ConfigUnmarshaler) (Config, error) {
	var c Config

	if cu.ConfigFileUsed() != "" {
		err := cu.ReadInConfig()
		if err != nil {
			return c, err
		}
	}

	err := cu.Unmarshal(&c)
	return c, err
}

// Validate checks the fields the daemon cannot run without.
func Validate(c Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := c.Policies(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// Policies resolves the configured shows. An invalid pattern fails the whole
// list.
func (c Config) Policies() ([]show.Policy, error) {
	return show.FromRawList(c.Shows)
}

// Package config gathers the runtime settings of the harvester from defaults,
// an optional YAML file, an optional .env file and the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	oai "github.com/houillon/basic-oai-harvester"
)

const (
	// PathEnv names a config file to use instead of the default one.
	PathEnv = "OAI_HARVESTER_CONFIG"
	// DefaultPath is expanded relative to the home directory.
	DefaultPath = "~/.basic-oai-harvester.yaml"
	envPrefix   = "OAI_HARVESTER_"
)

type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	DefaultPrefix string
	LogLevel      string
}

// file mirrors Config in the YAML document, durations are strings like 90s.
type file struct {
	UserAgent     string `yaml:"userAgent"`
	Timeout       string `yaml:"timeout"`
	MaxRetries    int    `yaml:"maxRetries"`
	RetryDelay    string `yaml:"retryDelay"`
	DefaultPrefix string `yaml:"defaultPrefix"`
	LogLevel      string `yaml:"logLevel"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		UserAgent:     oai.UserAgent,
		Timeout:       oai.DefaultTimeout,
		MaxRetries:    oai.DefaultMaxRetries,
		RetryDelay:    oai.DefaultRetryDelay,
		DefaultPrefix: oai.DefaultPrefix,
		LogLevel:      "info",
	}
}

// Load reads the configuration. An empty path means $OAI_HARVESTER_CONFIG or
// the default path, both of which may be missing. A .env file in the working
// directory is loaded into the environment, without overriding variables
// that are already set.
func Load(path string) (Config, error) {
	return load(path, ".env")
}

func load(path, envFile string) (Config, error) {
	c := Default()
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return c, errors.Wrapf(err, "loading %s", envFile)
	}

	required := path != ""
	if path == "" {
		path = os.Getenv(PathEnv)
		required = path != ""
	}
	if path == "" {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return c, err
	}
	if err := c.readFile(expanded); err != nil {
		if required || !os.IsNotExist(errors.Cause(err)) {
			return c, err
		}
	}
	if err := c.readEnv(); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var v file
	if err := yaml.NewDecoder(f).Decode(&v); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	if v.UserAgent != "" {
		c.UserAgent = v.UserAgent
	}
	if v.MaxRetries != 0 {
		c.MaxRetries = v.MaxRetries
	}
	if v.DefaultPrefix != "" {
		c.DefaultPrefix = v.DefaultPrefix
	}
	if v.LogLevel != "" {
		c.LogLevel = v.LogLevel
	}
	for _, d := range []struct {
		s   string
		dst *time.Duration
	}{
		{v.Timeout, &c.Timeout},
		{v.RetryDelay, &c.RetryDelay},
	} {
		if d.s == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.s)
		if err != nil {
			return errors.Wrapf(err, "decoding %s", path)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) readEnv() error {
	if v, ok := lookup("USER_AGENT"); ok {
		c.UserAgent = v
	}
	if v, ok := lookup("DEFAULT_PREFIX"); ok {
		c.DefaultPrefix = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%sMAX_RETRIES", envPrefix)
		}
		c.MaxRetries = n
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"TIMEOUT", &c.Timeout},
		{"RETRY_DELAY", &c.RetryDelay},
	} {
		v, ok := lookup(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", envPrefix, d.key)
		}
		*d.dst = parsed
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Validate rejects settings the client cannot work with.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 1:
		return errors.Errorf("max retries must be positive, got %d", c.MaxRetries)
	case c.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	case c.RetryDelay < 0:
		return errors.Errorf("retry delay must not be negative, got %s", c.RetryDelay)
	case c.DefaultPrefix == "":
		return errors.New("default prefix must not be empty")
	}
	return nil
}

// Client returns a protocol client using these settings.
func (c Config) Client() *oai.Client {
	client := oai.NewClient()
	client.UserAgent = c.UserAgent
	client.Timeout = c.Timeout
	client.MaxRetries = c.MaxRetries
	client.RetryDelay = c.RetryDelay
	return client
}

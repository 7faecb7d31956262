package webapp

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardsquest/cxr-annotator/internal/domain"
)

type Config struct {
	Meta struct {
		Description string `yaml:"description"`
	} `yaml:"meta"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Data struct {
		AnnotationsDir string `yaml:"annotations_dir"`
		MetadataDB     string `yaml:"metadata_db"`
		ImagesDir      string `yaml:"images_dir"`
	} `yaml:"data"`
	Session struct {
		NavIntervalMS int `yaml:"nav_interval_ms"`
		SaveAttempts  int `yaml:"save_attempts"`
		SaveBackoffMS int `yaml:"save_backoff_ms"`
	} `yaml:"session"`
	Authentication map[string]*ConfigAuth `yaml:"auth"`
}

type ConfigAuth struct {
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

func LoadConfig(filename string) (*Config, error) {
	var ret Config
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(data, &ret)
	if err != nil {
		return nil, err
	}
	if ret.Server.Addr == "" {
		ret.Server.Addr = ":8080"
	}
	if ret.Data.AnnotationsDir == "" {
		return nil, fmt.Errorf("data.annotations_dir is not set")
	}
	if ret.Data.MetadataDB == "" {
		return nil, fmt.Errorf("data.metadata_db is not set")
	}
	if len(ret.Authentication) == 0 {
		return nil, fmt.Errorf("no users specified")
	}
	for user := range ret.Authentication {
		if ret.Authentication[user].Password == "" {
			return nil, fmt.Errorf("user %s has a null password", user)
		}
		role, err := domain.ParseRole(ret.Authentication[user].Role)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", user, err)
		}
		ret.Authentication[user].Role = string(role)
	}
	return &ret, nil
}

// RoleOf returns the configured role for a user. LoadConfig already
// normalized and validated the value.
func (c *Config) RoleOf(username string) domain.Role {
	auth := c.Authentication[username]
	if auth == nil {
		return ""
	}
	return domain.Role(auth.Role)
}

func (c *Config) NavInterval() time.Duration {
	if c.Session.NavIntervalMS <= 0 {
		return 0
	}
	return time.Duration(c.Session.NavIntervalMS) * time.Millisecond
}

func (c *Config) SaveBackoff() time.Duration {
	if c.Session.SaveBackoffMS <= 0 {
		return 0
	}
	return time.Duration(c.Session.SaveBackoffMS) * time.Millisecond
}

package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store loads the registry from its configured source.
type Store interface {
	Load() (*Registry, error)
}

type defaultStore struct {
	Source string
	Client *http.Client
}

// NewDefaultStore returns a Store reading from source, which is either a
// local file path or an http(s):// URL fetched once at load time.
func NewDefaultStore(source string) Store {
	return &defaultStore{
		Source: source,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *defaultStore) Load() (*Registry, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", s.Source, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry %s: %w", s.Source, err)
	}
	return &reg, nil
}

func (s *defaultStore) read() ([]byte, error) {
	if strings.HasPrefix(s.Source, "http://") || strings.HasPrefix(s.Source, "https://") {
		return s.fetch()
	}
	return os.ReadFile(s.Source)
}

func (s *defaultStore) fetch() ([]byte, error) {
	resp, err := s.Client.Get(s.Source)
	if err != nil {
		return nil, fmt.Errorf("fetch registry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch registry: %s returned %s", s.Source, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

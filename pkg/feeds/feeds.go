package feeds

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"gopkg.in/yaml.v3"
)

// Package feeds loads feed, profile and credential definitions (YAML/JSON).

const defaultCron = "*/30 * * * *"

// Profile names the pipeline stages for a feed.
type Profile struct {
	Key        string `json:"key" yaml:"key"`
	Loader     string `json:"loader" yaml:"loader"`
	Processor  string `json:"processor" yaml:"processor"`
	Normalizer string `json:"normalizer" yaml:"normalizer"`
}

// Credential declares an API token read from the environment at seed time.
type Credential struct {
	ID       string `json:"id" yaml:"id"`
	Host     string `json:"host" yaml:"host"`
	TokenEnv string `json:"token_env" yaml:"token_env"`
}

// Definition is one configured feed.
type Definition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	SourceURL   string         `json:"source_url" yaml:"source_url"`
	Cron        string         `json:"cron" yaml:"cron"`
	Enabled     *bool          `json:"enabled" yaml:"enabled"`
	Profile     string         `json:"profile" yaml:"profile"`
	Credential  string         `json:"credential" yaml:"credential"`
	Destination string         `json:"destination" yaml:"destination"`
	AutoPublish bool           `json:"auto_publish" yaml:"auto_publish"`
	Config      map[string]any `json:"config" yaml:"config"`
}

// IsEnabled reports the enabled flag, defaulting to true.
func (d Definition) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// File is the parsed definitions file.
type File struct {
	Profiles    []Profile    `json:"profiles" yaml:"profiles"`
	Credentials []Credential `json:"credentials" yaml:"credentials"`
	Feeds       []Definition `json:"feeds" yaml:"feeds"`

	profiles map[string]Profile
}

// Load reads and validates a definitions file.
func Load(path string) (File, error) {
	if strings.TrimSpace(path) == "" {
		return File{}, errors.New("feeds file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open feeds file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return File{}, fmt.Errorf("read feeds file: %w", err)
	}
	return Parse(raw, filepath.Ext(path))
}

// Parse decodes raw as YAML or JSON, picked by ext when given, then
// sanitizes and validates every entry.
func Parse(raw []byte, ext string) (File, error) {
	f, err := decode(raw, ext)
	if err != nil {
		return File{}, err
	}
	if len(f.Feeds) == 0 {
		return File{}, errors.New("feeds file contains no feeds entries")
	}

	f.profiles = make(map[string]Profile, len(f.Profiles))
	for i := range f.Profiles {
		p := sanitizeProfile(f.Profiles[i])
		if err := validateProfile(p); err != nil {
			return File{}, fmt.Errorf("profile[%d]: %w", i, err)
		}
		if _, exists := f.profiles[p.Key]; exists {
			return File{}, fmt.Errorf("duplicate profile key %q", p.Key)
		}
		f.Profiles[i] = p
		f.profiles[p.Key] = p
	}

	creds := make(map[string]struct{}, len(f.Credentials))
	for i := range f.Credentials {
		c := sanitizeCredential(f.Credentials[i])
		if err := validateCredential(c); err != nil {
			return File{}, fmt.Errorf("credential[%d]: %w", i, err)
		}
		if _, exists := creds[c.ID]; exists {
			return File{}, fmt.Errorf("duplicate credential id %q", c.ID)
		}
		f.Credentials[i] = c
		creds[c.ID] = struct{}{}
	}

	ids := make(map[string]struct{}, len(f.Feeds))
	for i := range f.Feeds {
		d := sanitizeDefinition(f.Feeds[i])
		if err := f.validateDefinition(d, creds); err != nil {
			return File{}, fmt.Errorf("feed[%d]: %w", i, err)
		}
		if _, exists := ids[d.ID]; exists {
			return File{}, fmt.Errorf("duplicate feed id %q", d.ID)
		}
		f.Feeds[i] = d
		ids[d.ID] = struct{}{}
	}
	return f, nil
}

type unmarshalFn func([]byte, any) error

func decode(data []byte, ext string) (File, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var f File
		if err := d.fn(data, &f); err == nil {
			return f, nil
		}
	}
	return File{}, errors.New("feeds file format not recognized (expected YAML or JSON)")
}

func sanitizeProfile(p Profile) Profile {
	p.Key = strings.ToLower(strings.TrimSpace(p.Key))
	p.Loader = strings.ToLower(strings.TrimSpace(p.Loader))
	p.Processor = strings.ToLower(strings.TrimSpace(p.Processor))
	p.Normalizer = strings.ToLower(strings.TrimSpace(p.Normalizer))
	return p
}

func validateProfile(p Profile) error {
	switch {
	case p.Key == "":
		return errors.New("key is required")
	case p.Loader == "" || p.Processor == "" || p.Normalizer == "":
		return fmt.Errorf("profile %q needs loader, processor and normalizer", p.Key)
	}
	return nil
}

func sanitizeCredential(c Credential) Credential {
	c.ID = strings.TrimSpace(c.ID)
	c.Host = strings.TrimRight(strings.TrimSpace(c.Host), "/")
	c.TokenEnv = strings.TrimSpace(c.TokenEnv)
	return c
}

func validateCredential(c Credential) error {
	switch {
	case c.ID == "":
		return errors.New("id is required")
	case c.TokenEnv == "":
		return fmt.Errorf("token_env is required for credential %q", c.ID)
	}
	return nil
}

func sanitizeDefinition(d Definition) Definition {
	d.ID = strings.TrimSpace(d.ID)
	d.Name = strings.TrimSpace(d.Name)
	d.SourceURL = strings.TrimSpace(d.SourceURL)
	d.Cron = strings.TrimSpace(d.Cron)
	d.Profile = strings.ToLower(strings.TrimSpace(d.Profile))
	d.Credential = strings.TrimSpace(d.Credential)
	d.Destination = strings.TrimSpace(d.Destination)
	if d.Cron == "" {
		d.Cron = defaultCron
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Config == nil {
		d.Config = map[string]any{}
	}
	return d
}

func (f File) validateDefinition(d Definition, creds map[string]struct{}) error {
	if d.ID == "" {
		return errors.New("id is required")
	}
	if d.SourceURL == "" {
		return fmt.Errorf("source_url is required for feed %q", d.ID)
	}
	if _, err := cron.ParseStandard(d.Cron); err != nil {
		return fmt.Errorf("invalid cron %q for feed %q: %w", d.Cron, d.ID, err)
	}
	if _, ok := f.profiles[d.Profile]; !ok {
		return fmt.Errorf("unknown profile %q for feed %q", d.Profile, d.ID)
	}
	if d.Credential != "" {
		if _, ok := creds[d.Credential]; !ok {
			return fmt.Errorf("unknown credential %q for feed %q", d.Credential, d.ID)
		}
	}
	return nil
}

// Profile returns the named profile.
func (f File) Profile(key string) (domain.Profile, bool) {
	p, ok := f.profiles[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return domain.Profile{}, false
	}
	return domain.Profile{Key: p.Key, Loader: p.Loader, Processor: p.Processor, Normalizer: p.Normalizer}, true
}

// DomainProfiles returns every profile in file order.
func (f File) DomainProfiles() []domain.Profile {
	out := make([]domain.Profile, 0, len(f.Profiles))
	for _, p := range f.Profiles {
		dp, _ := f.Profile(p.Key)
		out = append(out, dp)
	}
	return out
}

// ToFeed maps a definition to the stored feed shape. Runtime fields
// (LastRun, SuspendReason, timestamps) are left zero for the caller to merge.
func (f File) ToFeed(d Definition) domain.Feed {
	profile, _ := f.Profile(d.Profile)
	state := domain.FeedDisabled
	if d.IsEnabled() {
		state = domain.FeedEnabled
	}
	return domain.Feed{
		ID:            d.ID,
		Name:          d.Name,
		SourceURL:     d.SourceURL,
		Cron:          d.Cron,
		State:         state,
		CredentialID:  d.Credential,
		DestinationID: d.Destination,
		Profile:       profile,
		Headers:       Headers(d),
		AutoPublish:   d.AutoPublish,
	}
}

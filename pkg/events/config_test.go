package events

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sinks.yaml")
	content := `
sinks:
  - id: audit
    type: LOG
  - id: hook
    type: http
    events: [" feed.run_failed ", ""]
    http:
      url: " https://hooks.example.com/x "
      headers:
        " X-Key ": " v "
        "": "dropped"
  - id: off
    type: sqs
    enabled: false
    sqs:
      uri: https://sqs.local/q
      region: ap-south-1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfgs, err := LoadConfigs(path)
	if err != nil {
		t.Fatalf("LoadConfigs: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("expected disabled sink to be filtered, got %d", len(cfgs))
	}
	hook := cfgs[1]
	if hook.HTTP.URL != "https://hooks.example.com/x" || hook.HTTP.Method != "POST" || hook.HTTP.TimeoutSeconds != httpDefaultTimeoutSeconds {
		t.Fatalf("http config not sanitized: %+v", hook.HTTP)
	}
	if len(hook.HTTP.Headers) != 1 || hook.HTTP.Headers["X-Key"] != "v" {
		t.Fatalf("headers not sanitized: %v", hook.HTTP.Headers)
	}
	if len(hook.Events) != 1 || hook.Events[0] != TypeFeedRunFailed {
		t.Fatalf("events not sanitized: %v", hook.Events)
	}
	if cfgs[0].Type != TypeLog {
		t.Fatalf("type not lower-cased: %q", cfgs[0].Type)
	}

	sinks, err := BuildAll(context.Background(), DefaultRegistry(), cfgs, nil)
	if err != nil || len(sinks) != 2 {
		t.Fatalf("BuildAll: sinks=%d err=%v", len(sinks), err)
	}
}

func TestParseConfigsValidation(t *testing.T) {
	cases := map[string]string{
		"missing id":        `{"sinks":[{"type":"log"}]}`,
		"duplicate":         `{"sinks":[{"id":"a","type":"log"},{"id":"a","type":"log"}]}`,
		"sns without topic": `{"sinks":[{"id":"a","type":"sns","sns":{"region":"x"}}]}`,
		"empty":             `{"sinks":[]}`,
	}
	for name, raw := range cases {
		if _, err := ParseConfigs([]byte(raw), ".json"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := ParseConfigs([]byte("::not yaml::"), ".yaml"); err == nil || !strings.Contains(err.Error(), "not recognized") {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestUnknownSinkTypeFails(t *testing.T) {
	_, err := DefaultRegistry().SinkFor(context.Background(), SinkConfig{ID: "x", Type: "kafka"}, nil)
	if err == nil {
		t.Fatalf("expected unknown type error")
	}
}

package chatmodel

import (
	"context"
	"testing"
)

func TestFactory_Get_UnknownConfig(t *testing.T) {
	f := NewFactory(map[string]ProviderConfig{})
	if _, err := f.Get(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown config name")
	}
}

func TestFactory_Get_UnknownBackend(t *testing.T) {
	f := NewFactory(map[string]ProviderConfig{
		"default": {Backend: "carrier-pigeon", Model: "x", APIKey: "k"},
	})
	if _, err := f.Get(context.Background(), "default", nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFactory_Get_CachesByConfigAndTemperature(t *testing.T) {
	f := NewFactory(map[string]ProviderConfig{
		"default": {Backend: "anthropic", Model: "claude-sonnet-4-20250514", APIKey: "sk-ant-test"},
	})

	m1, err := f.Get(context.Background(), "default", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	m2, err := f.Get(context.Background(), "default", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m1 != m2 {
		t.Error("Get() with identical (config, temperature) returned different instances")
	}

	temp := 0.7
	m3, err := f.Get(context.Background(), "default", &temp)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m1 == m3 {
		t.Error("Get() with different temperature returned the same instance")
	}
}

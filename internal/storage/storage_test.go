package storage

import (
	"context"
	"testing"

	"github.com/trendly/apiserver/config"
)

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil storage when no backend is configured")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.Config{Storage: config.StorageConfig{Backend: "ftp"}}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNewMinioClientValidation(t *testing.T) {
	cases := []config.MinioConfig{
		{},
		{Endpoint: "localhost:9000"},
		{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"},
	}
	for _, cfg := range cases {
		if _, err := NewMinioClient(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}

	client, err := NewMinioClient(config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "trendly"})
	if err != nil {
		t.Fatalf("NewMinioClient error: %v", err)
	}
	if client.Bucket() != "trendly" {
		t.Fatalf("unexpected bucket %q", client.Bucket())
	}
}

func TestNewGCSClientRequiresBucket(t *testing.T) {
	if _, err := NewGCSClient(context.Background(), config.GCSConfig{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

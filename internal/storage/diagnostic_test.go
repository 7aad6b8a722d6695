package storage

import (
	"context"
	"testing"

	"github.com/ooblik/drive-backend/internal/settings"
)

func TestTestConnectionRejectsIncompleteConfig(t *testing.T) {
	diagnostic := NewDiagnostic(0, nil)

	cases := []settings.S3Config{
		{},
		{Endpoint: "s3.example.com"},
		{Endpoint: "s3.example.com", AccessKeyID: "key", SecretAccessKey: "secret"},
	}
	for _, cfg := range cases {
		if err := diagnostic.TestConnection(context.Background(), cfg); err == nil {
			t.Fatalf("expected incomplete config %+v to be rejected", cfg)
		}
	}
}

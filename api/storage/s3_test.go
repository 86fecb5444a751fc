package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

func TestPartCount(t *testing.T) {
	tests := []struct {
		size, part int64
		want       int
	}{
		{0, 100, 1},
		{1, 100, 1},
		{100, 100, 1},
		{101, 100, 2},
		{1000, 100, 10},
		{DefaultPartSize * 2, DefaultPartSize, 2},
	}
	for _, tt := range tests {
		if got := PartCount(tt.size, tt.part); got != tt.want {
			t.Errorf("PartCount(%d, %d) = %d, want %d", tt.size, tt.part, got, tt.want)
		}
	}
}

func TestPresignDownloadIsLocal(t *testing.T) {
	c, err := NewClient(Config{
		Endpoint:  "s3.example.com",
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
		Region:    "us-east-1",
		Bucket:    "backups",
		UseSSL:    true,
	})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := c.PresignDownload(context.Background(), "srv-1/bk-1.tar.gz")
	if err != nil {
		t.Fatalf("PresignDownload: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "s3.example.com" || !strings.HasSuffix(u.Path, "/backups/srv-1/bk-1.tar.gz") {
		t.Errorf("url = %s", raw)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Errorf("url not signed: %s", raw)
	}
}

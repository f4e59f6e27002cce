package workers

import (
	"strings"
	"testing"
)

func TestMediaObjectKeyShardsBySHA256PrefixAndKeepsExtension(t *testing.T) {
	key := mediaObjectKey("https://cdn.example.com/photo.jpg", []byte("hello world"))

	if !strings.HasPrefix(key, "thumbnails/") {
		t.Fatalf("expected thumbnails/ prefix, got %q", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("expected .jpg extension, got %q", key)
	}

	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		t.Fatalf("expected thumbnails/<shard>/<hash>.jpg, got %q", key)
	}
	if len(parts[1]) != 2 {
		t.Errorf("expected 2-char shard prefix, got %q", parts[1])
	}
}

func TestMediaObjectKeyDefaultsExtensionWhenMissing(t *testing.T) {
	key := mediaObjectKey("https://cdn.example.com/photo", []byte("data"))
	if !strings.HasSuffix(key, ".jpg") {
		t.Errorf("expected default .jpg extension, got %q", key)
	}
}

func TestMediaObjectKeyIsDeterministic(t *testing.T) {
	a := mediaObjectKey("https://cdn.example.com/a.png", []byte("same bytes"))
	b := mediaObjectKey("https://cdn.example.com/b.png", []byte("same bytes"))
	hashA := strings.TrimSuffix(strings.Split(a, "/")[2], ".png")
	hashB := strings.TrimSuffix(strings.Split(b, "/")[2], ".png")
	if hashA != hashB {
		t.Errorf("expected identical content to hash identically, got %q vs %q", hashA, hashB)
	}
}

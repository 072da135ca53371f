package fs

import (
	"testing"
	"time"

	"github.com/aretw0/trail/pkg/prov"
)

func TestCache(t *testing.T) {
	c := newCache()
	now := time.Now()
	doc := &prov.Document{Session: "s1"}

	if _, ok := c.Get("a.json", now, 10); ok {
		t.Fatal("Expected miss on empty cache")
	}

	c.Set("a.json", &cacheEntry{Doc: doc, LastModified: now, Size: 10})

	t.Run("Hit When Fresh", func(t *testing.T) {
		got, ok := c.Get("a.json", now, 10)
		if !ok {
			t.Fatal("Expected hit")
		}
		if got.Session != "s1" {
			t.Errorf("Expected session s1, got %s", got.Session)
		}
	})

	t.Run("Miss When Modified", func(t *testing.T) {
		if _, ok := c.Get("a.json", now.Add(time.Second), 10); ok {
			t.Error("Expected miss for newer mtime")
		}
		if _, ok := c.Get("a.json", now, 11); ok {
			t.Error("Expected miss for different size")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Delete("a.json")
		if c.Len() != 0 {
			t.Errorf("Expected empty cache, got %d", c.Len())
		}
	})
}

package cache

import (
	"testing"
	"time"
)

func TestCacheSetGetInvalidate(t *testing.T) {
	c := NewCache[[]byte](10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.Set("live", []byte("payload"))
	got, ok := c.Get("live")
	if !ok || string(got) != "payload" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	c.Invalidate("live")
	if _, ok := c.Get("live"); ok {
		t.Fatal("entry survived Invalidate")
	}

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Clear()
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry survived Clear")
	}
	if c.Duration() != time.Minute {
		t.Fatalf("Duration = %v", c.Duration())
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewCache[string](10, 20*time.Millisecond)
	c.Set("k", "v")
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry did not expire")
	}
}

package querycache

import "testing"

func TestCacheRoundTrip(t *testing.T) {
	c := New()

	if _, ok := c.Get("profile"); ok {
		t.Error("empty cache should miss")
	}

	c.Set("profile", map[string]string{"name": "Kari"})
	v, ok := c.Get("profile")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if v.(map[string]string)["name"] != "Kari" {
		t.Errorf("unexpected value %v", v)
	}

	c.Set("profile", "replaced")
	v, _ = c.Get("profile")
	if v != "replaced" {
		t.Errorf("Set should replace, got %v", v)
	}

	c.Delete("profile")
	if _, ok := c.Get("profile"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestCacheClear(t *testing.T) {
	c := New()
	c.Set("a", 1)
	c.Set("b", 2)
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
}

package redis

import "testing"

func TestSentKey(t *testing.T) {
	got := sentKey("0123abcd")
	want := "leadrelay:sent:0123abcd"
	if got != want {
		t.Errorf("sentKey() = %q, want %q", got, want)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not-a-redis-url"}); err == nil {
		t.Fatal("Expected error for malformed redis URL")
	}
}

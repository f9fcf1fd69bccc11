package storage

import "testing"

func TestObjectName(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "abc", "abc"},
		{"jobdata", "abc", "jobdata/abc"},
		{"jobdata/", "abc", "jobdata/abc"},
	}
	for _, tt := range tests {
		if got := objectName(tt.prefix, tt.key); got != tt.want {
			t.Errorf("objectName(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"3f1c", "a-b_c.d"} {
		if err := validateKey(key); err != nil {
			t.Errorf("validateKey(%q) = %v, want nil", key, err)
		}
	}
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		if err := validateKey(key); err == nil {
			t.Errorf("validateKey(%q) = nil, want error", key)
		}
	}
}

package scan

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseClasspathIndex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single", "- \"BOOT-INF/lib/a.jar\"\n", []string{"BOOT-INF/lib/a.jar"}, false},
		{"order kept", "- \"b.jar\"\n- \"a.jar\"\n", []string{"b.jar", "a.jar"}, false},
		{"blank lines", "\n- \"a.jar\"\n\n  \n- \"b.jar\"", []string{"a.jar", "b.jar"}, false},
		{"crlf", "- \"a.jar\"\r\n- \"b.jar\"\r\n", []string{"a.jar", "b.jar"}, false},
		{"name with spaces", "- \"lib/my lib.jar\"\n", []string{"lib/my lib.jar"}, false},
		{"missing dash", "\"a.jar\"\n", nil, true},
		{"missing quotes", "- a.jar\n", nil, true},
		{"unterminated quote", "- \"a.jar\n", nil, true},
		{"empty name", "- \"\"\n", nil, true},
		{"embedded quote", "- \"a\"b.jar\"\n", nil, true},
		{"yaml comment", "# index\n- \"a.jar\"\n", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClasspathIndex([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedIndex) {
					t.Fatalf("ParseClasspathIndex(%q) error = %v, want ErrMalformedIndex", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClasspathIndex(%q) unexpected error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseClasspathIndex(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

package service

import "testing"

func TestJWKSHealthPath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "JWKS endpoint realm",
			url:  "https://keycloak.local/realms/clinic/protocol/openid-connect/certs",
			want: "/realms/clinic/protocol/openid-connect/certs",
		},
		{
			name: "без path",
			url:  "https://keycloak.local",
			want: "/health",
		},
		{
			name: "корневой path",
			url:  "http://keycloak.local:8080/",
			want: "/health",
		},
		{
			name: "невалидный URL",
			url:  "://bad",
			want: "/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jwksHealthPath(tt.url); got != tt.want {
				t.Errorf("jwksHealthPath(%q) = %q, ожидалось %q", tt.url, got, tt.want)
			}
		})
	}
}

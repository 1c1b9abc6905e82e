package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

const (
	testKeyID  = "test-key-mr"
	testIssuer = "https://keycloak.test/realms/clinic"
)

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) []byte {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с JWKS из публичной части key.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, 0, testLogger())
}

// tokenOpts — параметры тестового токена.
type tokenOpts struct {
	sub     string
	roles   []string
	issuer  string
	expired bool
}

// generateUserToken генерирует подписанный JWT пользователя.
func generateUserToken(t *testing.T, key *rsa.PrivateKey, o tokenOpts) string {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	if o.expired {
		exp = time.Now().Add(-time.Hour)
	}
	if o.issuer == "" {
		o.issuer = testIssuer
	}

	claims := jwt.MapClaims{
		"sub":                o.sub,
		"preferred_username": "ghouse",
		"email":              "ghouse@clinic.local",
		"given_name":         "Gregory",
		"family_name":        "House",
		"iss":                o.issuer,
		"exp":                jwt.NewNumericDate(exp),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(o.roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": o.roles}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// serve прогоняет запрос через middleware и возвращает ответ
// и субъекта, увиденного downstream handler.
func serve(auth *JWTAuth, authHeader string) (*httptest.ResponseRecorder, *model.Principal) {
	var seen *model.Principal
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		seen = &p
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestJWTAuth_ValidUserToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	token := generateUserToken(t, key, tokenOpts{
		sub:   "user-123",
		roles: []string{"default-roles-clinic", "offline_access", "doctor"},
	})
	rec, p := serve(auth, "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if p == nil {
		t.Fatal("handler не вызван")
	}
	if p.IdentityID != "user-123" || p.Username != "ghouse" || p.Email != "ghouse@clinic.local" {
		t.Errorf("principal = %+v", p)
	}
	if p.FirstName != "Gregory" || p.LastName != "House" {
		t.Errorf("имя = %q %q", p.FirstName, p.LastName)
	}
	if p.Role != "doctor" {
		t.Errorf("ожидалась роль doctor, получена %q", p.Role)
	}
	if !slices.Contains(p.Roles, "offline_access") {
		t.Errorf("realm roles не сохранены: %v", p.Roles)
	}
}

func TestJWTAuth_RolesFromRealmAccess(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{"нет ролей", nil, "user"},
		{"только служебные роли", []string{"offline_access", "uma_authorization"}, "user"},
		{"пациент", []string{"patient"}, "patient"},
		{"максимальная роль", []string{"patient", "admin", "doctor"}, "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := generateUserToken(t, key, tokenOpts{sub: "u1", roles: tt.roles})
			rec, p := serve(auth, "Bearer "+token)
			if rec.Code != http.StatusOK || p == nil {
				t.Fatalf("статус %d", rec.Code)
			}
			if p.Role != tt.want {
				t.Errorf("роль = %q, ожидалась %q", p.Role, tt.want)
			}
		})
	}
}

func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"без префикса Bearer", "token123"},
		{"пустой Bearer", "Bearer "},
		{"мусор вместо токена", "Bearer not.a.jwt"},
		{"просроченный токен", "Bearer " + generateUserToken(t, key, tokenOpts{sub: "u1", expired: true})},
		{"чужой issuer", "Bearer " + generateUserToken(t, key, tokenOpts{sub: "u1", issuer: "https://evil.test/realms/clinic"})},
		{"чужой ключ", "Bearer " + generateUserToken(t, otherKey, tokenOpts{sub: "u1"})},
		{"нет sub", "Bearer " + generateUserToken(t, key, tokenOpts{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, p := serve(auth, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
			if p != nil {
				t.Error("handler не должен быть вызван")
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name      string
		principal *model.Principal
		roles     []string
		want      int
	}{
		{"администратор", &model.Principal{IdentityID: "a1", Role: "admin"}, []string{"admin"}, http.StatusOK},
		{"одна из ролей", &model.Principal{IdentityID: "d1", Role: "doctor"}, []string{"admin", "doctor"}, http.StatusOK},
		{"недостаточно прав", &model.Principal{IdentityID: "p1", Role: "patient"}, []string{"admin"}, http.StatusForbidden},
		{"нет субъекта", nil, []string{"admin"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(tt.roles...)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), *tt.principal))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("ожидался статус %d, получен %d", tt.want, rec.Code)
			}
		})
	}
}

func TestPrincipalFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if p := PrincipalFromContext(req.Context()); p.Authenticated() {
		t.Errorf("ожидался пустой principal, получен %+v", p)
	}
}

func TestHTTPClientWithCA(t *testing.T) {
	client, err := HTTPClientWithCA("", 3*time.Second)
	if err != nil {
		t.Fatalf("без CA: %v", err)
	}
	if client.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}

	if _, err := HTTPClientWithCA(filepath.Join(t.TempDir(), "missing.pem"), time.Second); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}

	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := HTTPClientWithCA(bad, time.Second); err == nil {
		t.Error("ожидалась ошибка для файла без сертификатов")
	}
}

// client.go — HTTP-клиент к Keycloak Admin REST API.
// Реализует автоматическое получение service account token через Client Credentials flow,
// кэширование токена (обновление за 30s до expiration), ограничение частоты
// и длительности вызовов, кэш realm-ролей.
// Операции: ListUsers, CountUsers, GetUser, CreateUser, DeleteUser, UpdateUserDetails,
// SetEmailVerified, GetRealmRoles, GetRealmRole, AssignRole, RemoveRoles, RealmInfo.
package keycloak

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Prometheus-метрики клиента.
var (
	roleCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mr_keycloak_role_cache_hits_total",
		Help: "Общее количество попаданий в кэш realm-ролей.",
	})
	roleCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mr_keycloak_role_cache_misses_total",
		Help: "Общее количество промахов кэша realm-ролей.",
	})
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_keycloak_requests_total",
		Help: "Количество вызовов Keycloak Admin API по операциям и результату.",
	}, []string{"operation", "result"})
)

const (
	defaultTimeout   = 10 * time.Second
	defaultCacheSize = 64
	defaultCacheTTL  = 5 * time.Minute
)

// Option — опция клиента.
type Option func(*Client)

// WithTimeout задаёт максимальную длительность одного вызова Admin API
// (включая ожидание rate limiter и получение токена).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit ограничивает число исходящих запросов в секунду.
// rps <= 0 — без ограничения.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
		} else {
			c.limiter = nil
		}
	}
}

// WithRoleCache задаёт размер и TTL кэша realm-ролей.
func WithRoleCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size > 0 && ttl > 0 {
			c.roleCache = expirable.NewLRU[string, RoleRepresentation](size, nil, ttl)
		}
	}
}

// Client — HTTP-клиент к Keycloak Admin REST API.
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	realm        string // Имя realm
	clientID     string // Client ID для Client Credentials flow
	clientSecret string // Client Secret

	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	limiter    *rate.Limiter
	roleCache  *expirable.LRU[string, RoleRepresentation]

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент к Keycloak Admin REST API.
// baseURL — базовый URL Keycloak (например, https://keycloak.clinic.local).
// realm — имя realm (например, medical-records).
// clientID, clientSecret — credentials для Client Credentials flow.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
		timeout:      defaultTimeout,
		roleCache:    expirable.NewLRU[string, RoleRepresentation](defaultCacheSize, nil, defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Realm возвращает имя realm клиента.
func (c *Client) Realm() string {
	return c.realm
}

// --- Аутентификация ---

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// adminBaseURL возвращает базовый URL Admin REST API для realm.
func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// GetAdminToken возвращает service account token для Admin API.
// ErrIdpAuthFailure — token endpoint ответил не 200, ErrIdpUnavailable — транспорт/таймаут.
func (c *Client) GetAdminToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.getToken(ctx)
}

// getToken возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Keycloak токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("запрос токена", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: Keycloak вернул статус %d при запросе токена: %s",
			ErrIdpAuthFailure, resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		if isTimeout(ctx) {
			return nil, unavailable("чтение токена", err)
		}
		return nil, fmt.Errorf("%w: декодирование токена: %v", ErrIdpAuthFailure, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: пустой access_token", ErrIdpAuthFailure)
	}

	return &token, nil
}

// --- HTTP helpers ---

// call выполняет вызов Admin API с таймаутом и передаёт ответ в handle.
// Тело ответа должно быть прочитано внутри handle: контекст отменяется после возврата.
func (c *Client) call(ctx context.Context, op, method, path string, body any, handle func(ctx context.Context, resp *http.Response) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.doAuthorized(ctx, op, method, path, body)
	if err != nil {
		requestsTotal.WithLabelValues(op, "unavailable").Inc()
		return err
	}

	err = handle(ctx, resp)
	requestsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// doAuthorized выполняет HTTP-запрос к Admin REST API с авторизацией.
func (c *Client) doAuthorized(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, unavailable(op, err)
		}
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: получение токена: %w", op, err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: сериализация тела запроса: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.adminBaseURL()+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: создание запроса: %w", op, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return resp, nil
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(ctx context.Context, op string, resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &RequestFailedError{Operation: op, Status: resp.StatusCode, Body: string(body)}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			if isTimeout(ctx) {
				return unavailable(op, err)
			}
			return fmt.Errorf("%s: декодирование ответа Keycloak: %w", op, err)
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(op string, resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		body, _ := io.ReadAll(resp.Body)
		return &RequestFailedError{Operation: op, Status: resp.StatusCode, Body: string(body)}
	}

	return nil
}

// --- Users API ---

// ListUsers возвращает страницу пользователей realm.
// query — строка поиска (по username, email, firstName, lastName), пусто — все.
func (c *Client) ListUsers(ctx context.Context, query string, first, max int) ([]KeycloakUser, error) {
	path := fmt.Sprintf("/users?first=%d&max=%d&briefRepresentation=true", first, max)
	if query != "" {
		path += "&search=" + url.QueryEscape(query)
	}

	var users []KeycloakUser
	err := c.call(ctx, "ListUsers", http.MethodGet, path, nil, func(ctx context.Context, resp *http.Response) error {
		return decodeResponse(ctx, "ListUsers", resp, &users)
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// CountUsers возвращает количество пользователей в realm.
func (c *Client) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := c.call(ctx, "CountUsers", http.MethodGet, "/users/count", nil, func(ctx context.Context, resp *http.Response) error {
		return decodeResponse(ctx, "CountUsers", resp, &count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetUser возвращает пользователя по Keycloak ID.
func (c *Client) GetUser(ctx context.Context, id string) (*KeycloakUser, error) {
	var user KeycloakUser
	err := c.call(ctx, "GetUser", http.MethodGet, "/users/"+url.PathEscape(id), nil, func(ctx context.Context, resp *http.Response) error {
		return decodeResponse(ctx, "GetUser", resp, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser создаёт пользователя и возвращает его Keycloak ID.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (string, error) {
	body := userCreateRepresentation{
		Username:      req.Username,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Enabled:       true,
		EmailVerified: req.EmailVerified,
	}
	if req.Password != "" {
		body.Credentials = []credentialRepresentation{{Type: "password", Value: req.Password}}
	}

	var id string
	err := c.call(ctx, "CreateUser", http.MethodPost, "/users", body, func(_ context.Context, resp *http.Response) error {
		if err := checkResponse("CreateUser", resp, http.StatusCreated); err != nil {
			return err
		}
		var err error
		id, err = idFromLocation(resp.Header.Get("Location"))
		if err != nil {
			return fmt.Errorf("CreateUser: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// idFromLocation извлекает ID созданного ресурса из Location: .../users/{id}.
func idFromLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("отсутствует Location header в ответе")
	}
	location = strings.TrimRight(location, "/")
	idx := strings.LastIndex(location, "/")
	if idx < 0 || idx == len(location)-1 {
		return "", fmt.Errorf("не удалось извлечь ID из Location: %s", location)
	}
	return location[idx+1:], nil
}

// DeleteUser удаляет пользователя.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.call(ctx, "DeleteUser", http.MethodDelete, "/users/"+url.PathEscape(id), nil, func(_ context.Context, resp *http.Response) error {
		return checkResponse("DeleteUser", resp, http.StatusNoContent)
	})
}

// UpdateUserDetails частично обновляет пользователя (email, имя, фамилия).
func (c *Client) UpdateUserDetails(ctx context.Context, id string, upd UserUpdate) error {
	return c.call(ctx, "UpdateUserDetails", http.MethodPut, "/users/"+url.PathEscape(id), upd, func(_ context.Context, resp *http.Response) error {
		return checkResponse("UpdateUserDetails", resp, http.StatusNoContent)
	})
}

// SetEmailVerified выставляет признак подтверждения email.
func (c *Client) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	upd := UserUpdate{EmailVerified: &verified}
	return c.call(ctx, "SetEmailVerified", http.MethodPut, "/users/"+url.PathEscape(id), upd, func(_ context.Context, resp *http.Response) error {
		return checkResponse("SetEmailVerified", resp, http.StatusNoContent)
	})
}

// --- Roles API ---

// GetRealmRoles возвращает имена realm ролей, назначенных пользователю напрямую,
// в порядке ответа Keycloak.
func (c *Client) GetRealmRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []RoleRepresentation
	path := "/users/" + url.PathEscape(userID) + "/role-mappings/realm"
	err := c.call(ctx, "GetRealmRoles", http.MethodGet, path, nil, func(ctx context.Context, resp *http.Response) error {
		return decodeResponse(ctx, "GetRealmRoles", resp, &roles)
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// GetRealmRole возвращает representation realm роли по имени (с кэшированием).
// Несуществующая роль — RequestFailedError со статусом 404.
func (c *Client) GetRealmRole(ctx context.Context, name string) (*RoleRepresentation, error) {
	if role, ok := c.roleCache.Get(name); ok {
		roleCacheHitsTotal.Inc()
		return &role, nil
	}
	roleCacheMissesTotal.Inc()

	var role RoleRepresentation
	err := c.call(ctx, "GetRealmRole", http.MethodGet, "/roles/"+url.PathEscape(name), nil, func(ctx context.Context, resp *http.Response) error {
		return decodeResponse(ctx, "GetRealmRole", resp, &role)
	})
	if err != nil {
		return nil, err
	}

	c.roleCache.Add(name, role)
	return &role, nil
}

// AssignRole назначает пользователю realm роль.
func (c *Client) AssignRole(ctx context.Context, userID, roleName string) error {
	role, err := c.GetRealmRole(ctx, roleName)
	if err != nil {
		return err
	}

	path := "/users/" + url.PathEscape(userID) + "/role-mappings/realm"
	return c.call(ctx, "AssignRole", http.MethodPost, path, []RoleRepresentation{*role}, func(_ context.Context, resp *http.Response) error {
		return checkResponse("AssignRole", resp, http.StatusNoContent)
	})
}

// RemoveRoles снимает с пользователя перечисленные realm роли.
func (c *Client) RemoveRoles(ctx context.Context, userID string, roleNames []string) error {
	if len(roleNames) == 0 {
		return nil
	}

	roles := make([]RoleRepresentation, 0, len(roleNames))
	for _, name := range roleNames {
		role, err := c.GetRealmRole(ctx, name)
		if err != nil {
			return err
		}
		roles = append(roles, *role)
	}

	path := "/users/" + url.PathEscape(userID) + "/role-mappings/realm"
	return c.call(ctx, "RemoveRoles", http.MethodDelete, path, roles, func(_ context.Context, resp *http.Response) error {
		return checkResponse("RemoveRoles", resp, http.StatusNoContent)
	})
}

// --- Realm API ---

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	var realm RealmRepresentation
	err := c.call(ctx, "RealmInfo", http.MethodGet, "", nil, func(ctx context.Context, resp *http.Response) error {
		return decodeResponse(ctx, "RealmInfo", resp, &realm)
	})
	if err != nil {
		return nil, err
	}
	return &realm, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}

// Пакет rbac — правила определения роли пользователя клиники.
// Роли назначаются в Keycloak как realm roles. Каждой идентичности
// соответствует не более одного профиля: doctor -> DoctorProfile,
// patient -> PatientProfile, admin и прочие роли — без профиля.
package rbac

import "strings"

// Роли приложения.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
	// RoleUser — роль по умолчанию, если в IdP не назначено ничего, кроме default-roles.
	RoleUser = "user"
)

// defaultRolesPrefix — префикс композитной роли, которую Keycloak
// назначает каждому пользователю realm.
const defaultRolesPrefix = "default-roles-"

// roleWeight — вес роли для выбора роли принципала из набора ролей токена.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleUser:    1,
	RolePatient: 2,
	RoleDoctor:  3,
	RoleAdmin:   4,
}

// DefaultRealmRole возвращает имя роли по умолчанию для realm.
func DefaultRealmRole(realm string) string {
	return defaultRolesPrefix + realm
}

// CanonicalRole определяет роль пользователя по списку его realm role mappings:
// роль default-roles-<realm> отбрасывается, берётся первая оставшаяся.
// Если ролей не осталось — RoleUser.
func CanonicalRole(roles []string, realm string) string {
	defaultRole := DefaultRealmRole(realm)
	for _, r := range roles {
		if r == "" || r == defaultRole {
			continue
		}
		return r
	}
	return RoleUser
}

// PrincipalRole выбирает роль принципала из ролей JWT (realm_access.roles).
// В токене роли раскрыты из композитов (offline_access, uma_authorization
// и т.п.), поэтому учитываются только роли приложения, берётся максимальная.
// Если ролей приложения нет — RoleUser.
func PrincipalRole(roles []string) string {
	best := ""
	for _, r := range roles {
		if _, ok := roleWeight[r]; !ok {
			continue
		}
		if best == "" || roleWeight[r] > roleWeight[best] {
			best = r
		}
	}
	if best == "" {
		return RoleUser
	}
	return best
}

// IsApplicationRole проверяет, является ли роль ролью приложения
// (admin, doctor, patient). Только такие роли заменяются при смене роли в IdP.
func IsApplicationRole(role string) bool {
	return role == RoleAdmin || role == RoleDoctor || role == RolePatient
}

// HasProfile сообщает, требует ли роль локального профиля.
func HasProfile(role string) bool {
	return role == RoleDoctor || role == RolePatient
}

// HasRole проверяет наличие хотя бы одной из требуемых ролей.
func HasRole(roles []string, required ...string) bool {
	set := toSet(roles)
	for _, r := range required {
		if set[r] {
			return true
		}
	}
	return false
}

// DisplayName формирует отображаемое имя профиля: "Имя Фамилия",
// при отсутствии обоих — username.
func DisplayName(firstName, lastName, username string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		return username
	}
	return name
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}

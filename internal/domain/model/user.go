// Пакет model — доменные модели Medical Records.
package model

import "time"

// AdminUser — пользователь из Keycloak с локальными дополнениями.
// Не хранится в БД — формируется из данных Keycloak + identities.
type AdminUser struct {
	// ID — Keycloak user ID (sub)
	ID string
	// Username — имя пользователя в Keycloak
	Username string
	// Email — адрес электронной почты
	Email string
	// FirstName — имя
	FirstName string
	// LastName — фамилия
	LastName string
	// Enabled — активен ли аккаунт в Keycloak
	Enabled bool
	// EmailVerified — подтверждён ли email в Keycloak
	EmailVerified bool
	// IdpRole — каноническая роль по realm role mappings Keycloak
	IdpRole string
	// LocalRole — метка роли в локальной таблице identities (пусто, если записи нет)
	LocalRole string
	// ProfileKind — тип локального профиля: doctor, patient или пусто
	ProfileKind string
	// CreatedAt — дата создания в Keycloak
	CreatedAt time.Time
}

// CreateUserInput — параметры создания пользователя в IdP.
type CreateUserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	// Role — начальная роль (admin, doctor, patient); пусто — роль user без профиля
	Role string
}

// UserDetails — изменяемые администратором поля пользователя.
// nil означает «не менять».
type UserDetails struct {
	Email     *string
	FirstName *string
	LastName  *string
}

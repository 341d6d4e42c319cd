package domain

// Identity — разрешённый принципал одного запроса: пользователь + роли + права.
// Материализуется один раз на запрос из сессионного токена и дальше не мутируется.
type Identity struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"display_name"`
	Roles       []Role              `json:"roles"`
	Permissions map[string][]string `json:"permissions"` // resource -> actions, "*" = все действия
}

type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// HasRole проверяет наличие роли с точным именем
func (i *Identity) HasRole(name string) bool {
	for _, r := range i.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasAnyRole — хотя бы одна роль из списка
func (i *Identity) HasAnyRole(names []string) bool {
	for _, n := range names {
		if i.HasRole(n) {
			return true
		}
	}
	return false
}

// HasPermission проверяет право (resource, action) с учетом wildcard "*"
func (i *Identity) HasPermission(resource, action string) bool {
	for _, a := range i.Permissions[resource] {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

// RoleNames — имена ролей для деталей событий безопасности
func (i *Identity) RoleNames() []string {
	names := make([]string, 0, len(i.Roles))
	for _, r := range i.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Permission — пара (ресурс, действие), которую роут объявляет как требование
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

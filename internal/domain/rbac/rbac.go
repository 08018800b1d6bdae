// Пакет rbac — роли сотрудников, работающих с делами.
// agent — сотрудник ручной проверки (confirm/correct/skip),
// admin — одобрение дел, правка списка кредиторов, ручной запуск проходов.
// Роль admin включает права agent.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Scopes сервисных аккаунтов (портал, платёжный модуль).
const (
	ScopeCasesWrite = "cases:write"
	ScopeCasesRead  = "cases:read"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleAgent: 1,
	RoleAdmin: 2,
}

// Satisfies проверяет, что роль не ниже требуемой.
func Satisfies(role, required string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[required]
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль по группам IdP.
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, adminGroups, agentGroups []string) string {
	adminSet := toSet(adminGroups)
	agentSet := toSet(agentGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if agentSet[g] {
			roles = append(roles, RoleAgent)
		}
	}

	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}

package models

// Role представляет уровень доступа сессии. Определяется один раз на границе запроса.
type Role int

const (
	RoleViewer Role = iota
	RoleAdmin
)

// ParseRole разбирает роль из claims токена. Неизвестные значения дают RoleViewer.
func ParseRole(s string) Role {
	if s == "admin" {
		return RoleAdmin
	}
	return RoleViewer
}

// String возвращает имя роли
func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "viewer"
}

// Session представляет аутентифицированного субъекта запроса
type Session struct {
	SubjectID string
	Role      Role
}

// IsAdmin сообщает, имеет ли сессия права администратора
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// CanAccess сообщает, может ли сессия работать с данными реферера
func (s Session) CanAccess(referrerID string) bool {
	return s.IsAdmin() || (s.SubjectID != "" && s.SubjectID == referrerID)
}

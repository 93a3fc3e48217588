package model

// Principal: аутентифицированный пользователь; приходит с каждым запросом от резолвера токенов.
type Principal struct {
	UserID       string `json:"userId"`
	UniversityID string `json:"universityId"`
	Name         string `json:"name,omitempty"`
}

// InClass: пользователь считается участником класса, если класс принадлежит его университету.
func (p Principal) InClass(c *Class) bool {
	return c != nil && p.UniversityID != "" && p.UniversityID == c.UniversityID
}

// Profile: ответ GET /api/auth/me.
type Profile struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	University *University `json:"university"`
}

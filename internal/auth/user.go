package auth

// User представляет учётную запись пользователя.
type User struct {
	ID           uint64
	Username     string
	PasswordHash string
	IsAdmin      bool
}

// GetRole возвращает роль пользователя: "admin" или "player".
func (u *User) GetRole() string {
	if u.IsAdmin {
		return "admin"
	}
	return "player"
}

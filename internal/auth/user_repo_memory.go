package auth

import (
	"strings"
	"sync"
)

// MemoryUserRepo — потокобезопасная реализация UserRepository в памяти.
// Используется в тестах и standalone-режиме.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User
	nextID uint64
}

// NewMemoryUserRepo создаёт пустой репозиторий.
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:  make(map[string]*User),
		nextID: 1,
	}
}

// GetUserByUsername возвращает пользователя по имени (без учёта регистра).
func (r *MemoryUserRepo) GetUserByUsername(username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// CreateUser создаёт нового пользователя.
func (r *MemoryUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	lower := strings.ToLower(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[lower]; ok {
		return nil, ErrUserExists
	}

	user := &User{
		ID:           r.nextID,
		Username:     lower,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
	}
	r.nextID++
	r.users[lower] = user

	clone := *user
	return &clone, nil
}

// ValidateCredentials проверяет пару логин/пароль.
func (r *MemoryUserRepo) ValidateCredentials(username, password string) (*User, error) {
	user, err := r.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Close — no-op.
func (r *MemoryUserRepo) Close() error {
	return nil
}

package auth

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// MariaUserRepo реализует UserRepository для MariaDB/MySQL.
// Работает с той же таблицей users, на которую ссылается таблица
// players хранилища мира.
type MariaUserRepo struct {
	db *sql.DB
}

// NewMariaUserRepo открывает подключение и создаёт таблицу users.
func NewMariaUserRepo(dsn string) (*MariaUserRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db}
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу users: %w", err)
	}
	return repo, nil
}

// createTable создаёт таблицу users, если её нет.
func (m *MariaUserRepo) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id       BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_name     VARCHAR(50)  NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		admin         BOOLEAN      NOT NULL DEFAULT FALSE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	_, err := m.db.Exec(query)
	return err
}

// EnsureDefaultAdmin создаёт администратора с паролем по умолчанию,
// если таблица пользователей пуста.
func (m *MariaUserRepo) EnsureDefaultAdmin(password string) error {
	var count int
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("ошибка при проверке количества пользователей: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("ошибка хеширования пароля администратора: %w", err)
	}
	if _, err := m.CreateUser("admin", hash, true); err != nil && err != ErrUserExists {
		return fmt.Errorf("не удалось создать администратора: %w", err)
	}
	return nil
}

// GetUserByUsername получает пользователя по имени.
func (m *MariaUserRepo) GetUserByUsername(username string) (*User, error) {
	lower := strings.ToLower(username)

	query := `SELECT user_id, user_name, password_hash, admin FROM users WHERE user_name = ?`

	var user User
	err := m.db.QueryRow(query, lower).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsAdmin,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}
	return &user, nil
}

// CreateUser создаёт нового пользователя.
func (m *MariaUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	lower := strings.ToLower(username)

	query := `INSERT INTO users (user_name, password_hash, admin) VALUES (?, ?, ?)`

	result, err := m.db.Exec(query, lower, passwordHash, isAdmin)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении ID пользователя: %w", err)
	}

	return &User{
		ID:           uint64(userID),
		Username:     lower,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
	}, nil
}

// ValidateCredentials проверяет пару логин/пароль.
func (m *MariaUserRepo) ValidateCredentials(username, password string) (*User, error) {
	user, err := m.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Close закрывает подключение к БД.
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}

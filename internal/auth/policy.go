package auth

import (
	"errors"
	"fmt"
)

// RegistrationPolicy определяет политику регистрации новых
// пользователей, выбираемую при старте сервера.
type RegistrationPolicy uint8

const (
	PolicyPublic     RegistrationPolicy = iota // Регистрация открыта всем
	PolicyInviteOnly                           // Требуется код приглашения
	PolicyClosed                               // Регистрация закрыта
)

// Ошибки проверки политики.
var (
	ErrRegistrationClosed = errors.New("registration closed")
	ErrInvalidInviteCode  = errors.New("invalid invite code")
)

// ParsePolicy разбирает политику из строки конфигурации.
func ParsePolicy(s string) (RegistrationPolicy, error) {
	switch s {
	case "", "public":
		return PolicyPublic, nil
	case "invite_only":
		return PolicyInviteOnly, nil
	case "closed":
		return PolicyClosed, nil
	default:
		return PolicyPublic, fmt.Errorf("неизвестная политика регистрации: %q", s)
	}
}

// String возвращает строковое представление политики.
func (p RegistrationPolicy) String() string {
	switch p {
	case PolicyInviteOnly:
		return "invite_only"
	case PolicyClosed:
		return "closed"
	default:
		return "public"
	}
}

// Registrar проверяет запросы на регистрацию согласно политике.
type Registrar struct {
	policy  RegistrationPolicy
	invites map[string]struct{}
}

// NewRegistrar создаёт проверяющего с набором действительных кодов
// приглашений (используются только при PolicyInviteOnly).
func NewRegistrar(policy RegistrationPolicy, inviteCodes []string) *Registrar {
	invites := make(map[string]struct{}, len(inviteCodes))
	for _, code := range inviteCodes {
		invites[code] = struct{}{}
	}
	return &Registrar{policy: policy, invites: invites}
}

// Allow решает, разрешена ли регистрация с данным кодом приглашения.
func (r *Registrar) Allow(inviteCode string) error {
	switch r.policy {
	case PolicyClosed:
		return ErrRegistrationClosed
	case PolicyInviteOnly:
		if _, ok := r.invites[inviteCode]; !ok {
			return ErrInvalidInviteCode
		}
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrOperatorExists     = errors.New("operator already exists")
)

// Operator - учётная запись оператора отладочного API
type Operator struct {
	Username     string
	PasswordHash string // bcrypt
	IsAdmin      bool
}

// HashPassword returns a bcrypt hash of the password using DefaultCost.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword compares a bcrypt hashed password with its possible plaintext equivalent.
func CheckPassword(hash string, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// OperatorStore - in-memory набор операторов, имена без учёта регистра
type OperatorStore struct {
	mu        sync.RWMutex
	operators map[string]Operator
}

func NewOperatorStore() *OperatorStore {
	return &OperatorStore{operators: make(map[string]Operator)}
}

// Add регистрирует оператора с готовым bcrypt хешем
func (s *OperatorStore) Add(op Operator) error {
	if op.Username == "" {
		return fmt.Errorf("пустое имя оператора")
	}
	if _, err := bcrypt.Cost([]byte(op.PasswordHash)); err != nil {
		return fmt.Errorf("оператор %s: неверный bcrypt хеш: %w", op.Username, err)
	}

	key := strings.ToLower(op.Username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operators[key]; ok {
		return fmt.Errorf("%w: %s", ErrOperatorExists, op.Username)
	}
	s.operators[key] = op
	return nil
}

// Authenticate проверяет пароль оператора
func (s *OperatorStore) Authenticate(username, password string) (Operator, error) {
	s.mu.RLock()
	op, ok := s.operators[strings.ToLower(username)]
	s.mu.RUnlock()
	if !ok || !CheckPassword(op.PasswordHash, password) {
		return Operator{}, ErrInvalidCredentials
	}
	return op, nil
}

// Len возвращает число операторов
func (s *OperatorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.operators)
}

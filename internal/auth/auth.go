package auth

import (
	"crypto/subtle"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

type Repository interface {
	LoadAll() ([]User, error)
	Upsert(user User) error
	Remove(username string) error
}

// Service decides who may log in. A username is accepted when it is in the
// allowlist or its e-mail domain is allowed. With neither configured every
// username is accepted. A non-empty password must always match.
type Service struct {
	repo     Repository
	password string
	domains  map[string]struct{}

	mu           sync.RWMutex
	allowedUsers map[string]User
}

type Options struct {
	InitialUsers []string
	Domains      []string
	Password     string
}

func NewWithRepo(repo Repository, opts Options) (*Service, error) {
	s := &Service{
		repo:         repo,
		password:     opts.Password,
		domains:      make(map[string]struct{}),
		allowedUsers: make(map[string]User),
	}
	if repo != nil {
		users, err := repo.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			s.allowedUsers[normalize(u.Username)] = u
		}
	}
	for _, name := range opts.InitialUsers {
		key := normalize(name)
		if key == "" {
			continue
		}
		if _, ok := s.allowedUsers[key]; !ok {
			s.allowedUsers[key] = User{Username: name}
		}
	}
	for _, d := range opts.Domains {
		d = strings.TrimPrefix(normalize(d), "@")
		if d != "" {
			s.domains[d] = struct{}{}
		}
	}
	return s, nil
}

// Authenticate returns ErrInvalidCredentials for any rejected login.
func (s *Service) Authenticate(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return ErrInvalidCredentials
	}
	if s.password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		return ErrInvalidCredentials
	}
	if !s.IsAllowed(username) {
		return ErrInvalidCredentials
	}
	return nil
}

// Open reports whether any username can log in without a password.
func (s *Service) Open() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.password == "" && len(s.allowedUsers) == 0 && len(s.domains) == 0
}

func (s *Service) IsAllowed(username string) bool {
	key := normalize(username)
	s.mu.RLock()
	_, listed := s.allowedUsers[key]
	open := len(s.allowedUsers) == 0 && len(s.domains) == 0
	s.mu.RUnlock()
	if listed || open {
		return true
	}
	if i := strings.LastIndex(key, "@"); i >= 0 {
		_, ok := s.domains[key[i+1:]]
		return ok
	}
	return false
}

func (s *Service) Upsert(user User) error {
	s.mu.Lock()
	s.allowedUsers[normalize(user.Username)] = user
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Upsert(user)
	}
	return nil
}

func (s *Service) Remove(username string) error {
	s.mu.Lock()
	delete(s.allowedUsers, normalize(username))
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Remove(username)
	}
	return nil
}

// List returns the allowlist sorted by username.
func (s *Service) List() []User {
	s.mu.RLock()
	out := make([]User, 0, len(s.allowedUsers))
	for _, u := range s.allowedUsers {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return normalize(out[i].Username) < normalize(out[j].Username) })
	return out
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

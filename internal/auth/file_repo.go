package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileRepository keeps the allowlist as a JSON array of users sorted by
// username. Rewrites go through a temp file in the same directory.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("allowlist dir: %w", err)
	}
	return &FileRepository{path: path}, nil
}

func (r *FileRepository) LoadAll() ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, err := r.read()
	if err != nil {
		return nil, err
	}
	return sorted(byName), nil
}

// Upsert matches users case-insensitively, so "Alice" replaces "alice".
func (r *FileRepository) Upsert(user User) error {
	return r.update(func(byName map[string]User) {
		byName[normalize(user.Username)] = user
	})
}

func (r *FileRepository) Remove(username string) error {
	return r.update(func(byName map[string]User) {
		delete(byName, normalize(username))
	})
}

func (r *FileRepository) update(fn func(map[string]User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, err := r.read()
	if err != nil {
		return err
	}
	fn(byName)
	return r.write(sorted(byName))
}

// read treats a missing, empty or malformed file as an empty allowlist.
func (r *FileRepository) read() (map[string]User, error) {
	byName := make(map[string]User)
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return byName, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	var users []User
	if json.Unmarshal(data, &users) != nil {
		return byName, nil
	}
	for _, u := range users {
		if key := normalize(u.Username); key != "" {
			byName[key] = u
		}
	}
	return byName, nil
}

func (r *FileRepository) write(users []User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".allowlist-*")
	if err != nil {
		return fmt.Errorf("write allowlist: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write allowlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write allowlist: %w", err)
	}
	return os.Rename(tmp.Name(), r.path)
}

func sorted(byName map[string]User) []User {
	users := make([]User, 0, len(byName))
	for _, u := range byName {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return normalize(users[i].Username) < normalize(users[j].Username) })
	return users
}

// Package seed загружает справочник университетов из YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
)

type fileUniversity struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

type file struct {
	Universities []fileUniversity `yaml:"universities"`
}

// Load читает файл вида universities: [{name, code}]. Код приводится к верхнему регистру.
func Load(path string) ([]model.University, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed.Load: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed.Load %s: %w", path, err)
	}
	out := make([]model.University, 0, len(f.Universities))
	for i, u := range f.Universities {
		name, code := strings.TrimSpace(u.Name), strings.ToUpper(strings.TrimSpace(u.Code))
		if name == "" || code == "" {
			return nil, fmt.Errorf("seed.Load %s: запись %d: name и code обязательны", path, i+1)
		}
		out = append(out, model.University{Name: name, Code: code})
	}
	return out, nil
}

// Result: итог применения.
type Result struct {
	Created int
	Skipped int
}

// Apply создаёт отсутствующие университеты. Совпадение названия или кода: пропуск, не ошибка,
// поэтому повторный запуск ничего не меняет.
func Apply(ctx context.Context, store storage.Store, list []model.University, now time.Time) (Result, error) {
	defer logger.DeferLogDuration("seed.Apply", time.Now())()
	var res Result
	for _, u := range list {
		u.ID = uuid.NewString()
		u.CreatedAt = now
		err := store.CreateUniversity(ctx, &u)
		switch {
		case err == nil:
			res.Created++
			logger.Infof("seed: добавлен университет %s (%s)", u.Name, u.Code)
		case errors.Is(err, storage.ErrDuplicate):
			res.Skipped++
		default:
			return res, fmt.Errorf("seed.Apply %s: %w", u.Code, err)
		}
	}
	return res, nil
}

// ApplyFile: Load и Apply одним вызовом.
func ApplyFile(ctx context.Context, store storage.Store, path string, now time.Time) (Result, error) {
	list, err := Load(path)
	if err != nil {
		return Result{}, err
	}
	return Apply(ctx, store, list, now)
}

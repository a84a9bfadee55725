package validate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Validator — внешняя проверка кандидата. Её вердикт окончательный:
// реестр никогда не перепроверяет текст своей грамматикой.
type Validator interface {
	Validate(ctx context.Context, text string) error
}

// ExecValidator прогоняет кандидата через внешнюю команду
// (по умолчанию `wg-quick strip`). Ненулевой код выхода — отказ,
// stderr команды возвращается как причина дословно.
type ExecValidator struct {
	Command string // команда с аргументами, путь файла добавляется последним
}

func (v ExecValidator) Validate(ctx context.Context, text string) error {
	parts := strings.Fields(v.Command)
	if len(parts) == 0 {
		return fmt.Errorf("validator command is empty")
	}

	// wg-quick выводит имя интерфейса из имени файла, поэтому кандидат
	// пишется во временный каталог под узнаваемым именем.
	dir, err := os.MkdirTemp("", "warden-check-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "wgcheck.conf")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return fmt.Errorf("write candidate: %w", err)
	}

	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], path)...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return fmt.Errorf("%s", reason)
	}
	return nil
}

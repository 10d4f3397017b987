package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"github.com/jhillyerd/enmime"
)

// SpoolSource читает уже скачанные письма из каталога: самые свежие Limit файлов .eml/.txt.
// Доставка почты (IMAP, TLS) остаётся внешней.
type SpoolSource struct {
	dir   string
	limit int
}

func NewSpoolSource(dir string, limit int) (*SpoolSource, error) {
	if dir == "" {
		return nil, domain.NewConfigError("email.spool_dir", "must not be empty")
	}
	if limit <= 0 {
		return nil, domain.NewConfigError("email.limit", "must be positive")
	}
	return &SpoolSource{dir: dir, limit: limit}, nil
}

type spoolFile struct {
	path    string
	modTime time.Time
}

func (s *SpoolSource) Fetch(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read spool: %v", domain.ErrSourceUnavailable, err)
	}

	files := make([]spoolFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".eml" && ext != ".txt" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, spoolFile{path: filepath.Join(s.dir, e.Name()), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path > files[j].path
		}
		return files[i].modTime.After(files[j].modTime)
	})
	if len(files) > s.limit {
		files = files[:s.limit]
	}

	bodies := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrSourceUnavailable, f.path, err)
		}
		bodies = append(bodies, messageText(f.path, raw))
	}
	return bodies, nil
}

// messageText тема, текстовая и HTML-части письма; каждая MIME-часть декодируется своей
// Content-Transfer-Encoding. Файлы .txt и всё, что не разбирается как письмо, берутся как есть.
func messageText(path string, raw []byte) string {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return string(raw)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil || (env.Text == "" && env.HTML == "") {
		return string(raw)
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{env.GetHeader("Subject"), env.Text, env.HTML} {
		if p = strings.TrimRight(p, "\r\n"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// StaticEmailSource фиксированный набор тел писем
type StaticEmailSource struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func NewStaticEmailSource(bodies ...string) *StaticEmailSource {
	return &StaticEmailSource{bodies: bodies}
}

// Set заменяет набор писем
func (s *StaticEmailSource) Set(bodies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = bodies
}

func (s *StaticEmailSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticEmailSource) Fetch(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, s.err)
	}
	return append([]string(nil), s.bodies...), nil
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"warden/config"
	"warden/internal/keys"
	"warden/internal/logs"
	"warden/internal/validate"
	"warden/internal/wgconf"
)

var (
	ErrNotInitialized = errors.New("interface not initialized")
	ErrNotFound       = errors.New("peer not found")
	ErrDuplicateKey   = errors.New("public key already registered")
	ErrDuplicateName  = errors.New("peer name already in use")
	ErrDuplicateIP    = errors.New("address already assigned")
	ErrDeclined       = errors.New("operation declined")
	ErrInvalidName    = errors.New("invalid peer name")
)

// ValidationError — отказ внешней проверки; причина передаётся дословно.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "config rejected by validator: " + e.Reason
}

// Decider отвечает на вопросы, требующие решения оператора.
// Отказ всегда означает аборт до какой-либо записи на диск.
type Decider interface {
	ConfirmOverwrite(name, publicKey string) bool
	ConfirmReassign(requested, next netip.Addr) bool
	ConfirmReinit() bool
}

// Flags — неинтерактивные решения (HTTP API, --yes).
type Flags struct {
	Overwrite bool
	Reassign  bool
	Reinit    bool
}

func (f Flags) ConfirmOverwrite(string, string) bool { return f.Overwrite }
func (f Flags) ConfirmReassign(_, _ netip.Addr) bool { return f.Reassign }
func (f Flags) ConfirmReinit() bool                  { return f.Reinit }

// Recorder фиксирует совершённые мутации (см. internal/audit).
type Recorder interface {
	Record(ctx context.Context, op, peer, publicKey, address string, detail map[string]any) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, string, string, string, string, map[string]any) error {
	return nil
}

// Registry управляет ростером пиров. Живой файл — единственное
// долговременное состояние; любая мутация идёт по цепочке
// parse → candidate → render → validate → атомарный rename.
type Registry struct {
	cfg   *config.Config
	gen   keys.Generator
	check validate.Validator
	audit Recorder
}

func New(cfg *config.Config, gen keys.Generator, check validate.Validator, rec Recorder) *Registry {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Registry{cfg: cfg, gen: gen, check: check, audit: rec}
}

// InterfaceSummary — собственная идентичность эндпоинта (без приватного ключа).
type InterfaceSummary struct {
	PublicKey  string `json:"public_key"`
	Address    string `json:"address"`
	ListenPort int    `json:"listen_port"`
}

// PeerInfo — строка ростера.
type PeerInfo struct {
	Name      string `json:"name,omitempty"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
	KeyKnown  bool   `json:"key_known"`
}

type Roster struct {
	Interface InterfaceSummary `json:"interface"`
	Peers     []PeerInfo       `json:"peers"`
}

// View — чтение без какого-либо перехода состояния.
func (r *Registry) View(ctx context.Context) (*Roster, error) {
	doc, err := r.loadLive()
	if err != nil {
		return nil, err
	}

	pub, err := keys.PublicFromPrivate(doc.Interface.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("interface private key: %w", err)
	}

	roster := &Roster{
		Interface: InterfaceSummary{
			PublicKey:  pub,
			Address:    doc.Interface.Address,
			ListenPort: doc.Interface.ListenPort,
		},
		Peers: make([]PeerInfo, 0, len(doc.Peers)),
	}
	for _, p := range doc.Peers {
		roster.Peers = append(roster.Peers, PeerInfo{
			Name:      p.Name,
			PublicKey: p.PublicKey,
			Address:   p.AllowedIPs,
			KeyKnown:  keys.Exists(r.cfg.Keys.Dir, peerFileName(p)),
		})
	}
	return roster, nil
}

// ClientConfigPath — путь take-away файла пира.
func (r *Registry) ClientConfigPath(p wgconf.PeerBlock) string {
	return filepath.Join(r.cfg.Clients.Dir, peerFileName(p)+".conf")
}

// FindPeer ищет пира по имени или публичному ключу.
func (r *Registry) FindPeer(ctx context.Context, identifier string) (*wgconf.PeerBlock, error) {
	doc, err := r.loadLive()
	if err != nil {
		return nil, err
	}
	i := doc.IndexOf(identifier)
	if i < 0 {
		return nil, ErrNotFound
	}
	p := doc.Peers[i]
	return &p, nil
}

func (r *Registry) loadLive() (*wgconf.Document, error) {
	b, err := os.ReadFile(r.cfg.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("read %s: %w", r.cfg.ConfigPath(), err)
	}
	return wgconf.Parse(string(b))
}

// commit рендерит кандидата, гоняет его через внешнюю проверку и
// атомарно подменяет живой файл. При отказе проверки живой файл
// остаётся байт-в-байт прежним.
func (r *Registry) commit(ctx context.Context, doc *wgconf.Document) error {
	text := wgconf.Render(doc)
	if err := r.check.Validate(ctx, text); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if err := os.MkdirAll(r.cfg.WireGuard.Dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(r.cfg.ConfigPath(), []byte(text), 0o600)
}

// writeAtomic пишет во временный файл в том же каталоге и делает rename:
// демон (или любой конкурентный читатель) видит либо целиком старый,
// либо целиком новый текст.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (r *Registry) record(ctx context.Context, op, peer, publicKey, address string, detail map[string]any) {
	if err := r.audit.Record(ctx, op, peer, publicKey, address, detail); err != nil {
		logger().Warnf("audit record failed: %v", err)
	}
}

// checkName отсекает имена, способные выйти за пределы каталогов
// артефактов или сломать построчную грамматику живого файла.
// Имя попадает и в пути файлов (<name>.key, <name>.conf), и в
// аннотацию `# Name:`, поэтому запрещены разделители путей, переводы
// строк и всё, что не переживает TrimSpace при разборе.
func checkName(name string) error {
	if name == "" {
		return nil
	}
	switch {
	case strings.ContainsAny(name, "/\\\n\r"):
		return fmt.Errorf("%w: %q contains path or line separators", ErrInvalidName, name)
	case name != strings.TrimSpace(name):
		return fmt.Errorf("%w: %q has leading or trailing whitespace", ErrInvalidName, name)
	case strings.HasPrefix(name, "."), strings.HasPrefix(name, "#"), strings.HasPrefix(name, "["):
		return fmt.Errorf("%w: %q starts with a reserved character", ErrInvalidName, name)
	}
	return nil
}

// peerFileName — имя ключевых и клиентских файлов пира: имя пира,
// для безымянных — хост-октет.
func peerFileName(p wgconf.PeerBlock) string {
	if p.Name != "" {
		return p.Name
	}
	if a, ok := peerAddr(p); ok {
		return fmt.Sprintf("peer-%d", a.As4()[3])
	}
	return "peer"
}

// peerAddr достаёт выделенный адрес пира из первой записи AllowedIPs.
func peerAddr(p wgconf.PeerBlock) (netip.Addr, bool) {
	first, _, _ := strings.Cut(p.AllowedIPs, ",")
	first = strings.TrimSpace(first)
	if pfx, err := netip.ParsePrefix(first); err == nil {
		return pfx.Addr(), true
	}
	if a, err := netip.ParseAddr(first); err == nil {
		return a, true
	}
	return netip.Addr{}, false
}

func logger() *logrus.Logger {
	if logs.Logger != nil {
		return logs.Logger
	}
	return logrus.StandardLogger()
}

package registry

import (
	"context"
	"fmt"
	"net/netip"
	"os"

	"warden/internal/ipalloc"
	"warden/internal/keys"
	"warden/internal/wgconf"
)

// AddRequest — параметры регистрации пира.
type AddRequest struct {
	Name       string
	PublicKey  string // пусто — сгенерировать свежую пару
	HostOctet  int    // 0 — выдать первый свободный
	AllowedIPs string // клиентский override; пусто — вся управляемая подсеть
}

// AddResult — исход успешной регистрации.
type AddResult struct {
	Name         string `json:"name,omitempty"`
	PublicKey    string `json:"public_key"`
	Address      string `json:"address"`
	KeyKnown     bool   `json:"key_known"`
	ClientConfig string `json:"client_config,omitempty"` // пусто, если приватный ключ неизвестен
	ClientPath   string `json:"client_path,omitempty"`
}

// Add регистрирует пира: ключи → адрес → кандидат → внешняя проверка →
// атомарный коммит. Любой отказ (дубликат имени/ключа/адреса, вердикт
// проверки) оставляет живой файл нетронутым.
func (r *Registry) Add(ctx context.Context, req AddRequest, ask Decider) (*AddResult, error) {
	if err := checkName(req.Name); err != nil {
		return nil, err
	}

	doc, err := r.loadLive()
	if err != nil {
		return nil, err
	}

	serverPub, err := keys.PublicFromPrivate(doc.Interface.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("interface private key: %w", err)
	}

	// Перезаписываемые блоки (подтверждённые дубликаты имени/ключа).
	drop := map[int]bool{}

	if req.Name != "" {
		for i, p := range doc.Peers {
			if p.Name == req.Name {
				if !ask.ConfirmOverwrite(p.Name, p.PublicKey) {
					return nil, ErrDuplicateName
				}
				drop[i] = true
			}
		}
	}

	priv, pub := "", req.PublicKey
	if pub == "" {
		priv, pub, err = r.gen.Generate()
		if err != nil {
			return nil, fmt.Errorf("key generation: %w", err)
		}
	} else if err := keys.Check(pub); err != nil {
		return nil, err
	}

	// Собственный ключ интерфейса пиром быть не может.
	if pub == serverPub {
		return nil, ErrDuplicateKey
	}
	for i, p := range doc.Peers {
		if p.PublicKey == pub && !drop[i] {
			if !ask.ConfirmOverwrite(p.Name, p.PublicKey) {
				return nil, ErrDuplicateKey
			}
			drop[i] = true
		}
	}

	addr, err := r.resolveAddress(doc, drop, req.HostOctet, ask)
	if err != nil {
		return nil, err
	}

	// Ключевые файлы пишем до коммита: их сбой абортирует операцию,
	// ростер ещё не тронут.
	name := req.Name
	peer := wgconf.PeerBlock{Name: name, PublicKey: pub, AllowedIPs: addr.String() + "/32"}
	fileName := peerFileName(peer)
	freshFiles := false
	if priv != "" {
		freshFiles = !keys.Exists(r.cfg.Keys.Dir, fileName)
		if err := keys.Persist(r.cfg.Keys.Dir, fileName, priv, pub); err != nil {
			return nil, err
		}
	}

	cand := candidateWithout(doc, drop)
	cand.Peers = append(cand.Peers, peer)
	if err := r.commit(ctx, cand); err != nil {
		// свежезаписанная пара никому не принадлежит, убираем
		if freshFiles {
			if rmErr := keys.Remove(r.cfg.Keys.Dir, fileName); rmErr != nil {
				logger().Warnf("key files for %s not removed: %v", fileName, rmErr)
			}
		}
		return nil, err
	}

	// Артефакты перезаписанных пиров чистим после коммита, как в Delete.
	// Пара остаётся на диске, только пока её ключ фигурирует в ростере.
	for i, old := range doc.Peers {
		if !drop[i] || old.PublicKey == pub {
			continue
		}
		shared := false
		for j, other := range doc.Peers {
			if j != i && !drop[j] && other.PublicKey == old.PublicKey {
				shared = true
				break
			}
		}
		if shared {
			continue
		}
		oldName := peerFileName(old)
		if err := os.Remove(r.ClientConfigPath(old)); err != nil && !os.IsNotExist(err) {
			logger().Warnf("client config for %s not removed: %v", oldName, err)
		}
		if priv != "" && oldName == fileName {
			continue // ключевые файлы уже перезаписаны свежей парой
		}
		if err := keys.Remove(r.cfg.Keys.Dir, oldName); err != nil {
			logger().Warnf("key files for %s not removed: %v", oldName, err)
		}
	}

	res := &AddResult{
		Name:      name,
		PublicKey: pub,
		Address:   addr.String(),
		KeyKnown:  priv != "",
	}

	if priv != "" {
		allowed := req.AllowedIPs
		if allowed == "" {
			allowed = r.cfg.SubnetPrefix().String()
		}
		res.ClientConfig = wgconf.RenderClient(wgconf.ClientConfig{
			PrivateKey:      priv,
			Address:         fmt.Sprintf("%s/%d", addr, r.cfg.SubnetPrefix().Bits()),
			DNS:             r.cfg.WireGuard.DNS,
			ServerPublicKey: serverPub,
			Endpoint:        r.cfg.WireGuard.Endpoint,
			AllowedIPs:      allowed,
			Keepalive:       25,
		})
		res.ClientPath = r.ClientConfigPath(peer)
		werr := os.MkdirAll(r.cfg.Clients.Dir, 0o700)
		if werr == nil {
			werr = writeAtomic(res.ClientPath, []byte(res.ClientConfig), 0o600)
		}
		if werr != nil {
			// ростер уже закоммичен; потерян только файл выдачи
			logger().Warnf("client config for %s not written: %v", fileName, werr)
			res.ClientPath = ""
		}
	} else {
		logger().Infof("peer %s registered with external key, client config cannot be produced (private key unknown)", fileName)
	}

	r.record(ctx, "add", name, pub, addr.String(), map[string]any{"key_known": priv != ""})
	logger().Infof("peer %s added at %s", fileName, addr)
	return res, nil
}

// resolveAddress выдаёт адрес пулом либо проверяет запрошенный октет.
// Коллизия запрошенного адреса требует решения оператора: отказ —
// аборт, согласие — повторный запрос к пулу.
func (r *Registry) resolveAddress(doc *wgconf.Document, drop map[int]bool, octet int, ask Decider) (netip.Addr, error) {
	subnet := r.cfg.SubnetPrefix()
	pool := ipalloc.New(subnet, usedAddrs(doc, drop, subnet))

	if octet == 0 {
		return pool.Next()
	}
	if octet < 2 || octet > 254 {
		return netip.Addr{}, fmt.Errorf("host octet %d out of range [2,254]", octet)
	}

	requested := ipalloc.HostAddr(subnet, octet)
	if !pool.InUse(requested) {
		return requested, nil
	}
	next, err := pool.Next()
	if err != nil {
		return netip.Addr{}, err
	}
	if !ask.ConfirmReassign(requested, next) {
		return netip.Addr{}, ErrDuplicateIP
	}
	return next, nil
}

// Delete убирает блок пира (и его аннотацию имени) тем же протоколом
// render → validate → атомарный rename, затем подчищает выданные файлы.
func (r *Registry) Delete(ctx context.Context, identifier string) error {
	doc, err := r.loadLive()
	if err != nil {
		return err
	}

	i := doc.IndexOf(identifier)
	if i < 0 {
		return ErrNotFound
	}
	victim := doc.Peers[i]

	cand := candidateWithout(doc, map[int]bool{i: true})
	if err := r.commit(ctx, cand); err != nil {
		return err
	}

	// Сопутствующие файлы — только если ключ больше никем не используется.
	shared := false
	for _, p := range cand.Peers {
		if p.PublicKey == victim.PublicKey {
			shared = true
			break
		}
	}
	if !shared {
		name := peerFileName(victim)
		if err := os.Remove(r.ClientConfigPath(victim)); err != nil && !os.IsNotExist(err) {
			logger().Warnf("client config for %s not removed: %v", name, err)
		}
		if err := keys.Remove(r.cfg.Keys.Dir, name); err != nil {
			logger().Warnf("key files for %s not removed: %v", name, err)
		}
	}

	addr := victim.AllowedIPs
	r.record(ctx, "delete", victim.Name, victim.PublicKey, addr, nil)
	logger().Infof("peer %s removed", peerFileName(victim))
	return nil
}

// Reinitialize создаёт идентичность интерфейса и первый документ.
// Существующая идентичность уничтожается только после подтверждения:
// операция ломающая, все ранее выданные клиентские конфиги ссылаются
// на старый ключ сервера.
func (r *Registry) Reinitialize(ctx context.Context, ask Decider) (*InterfaceSummary, error) {
	if _, err := os.Stat(r.cfg.ConfigPath()); err == nil {
		if !ask.ConfirmReinit() {
			return nil, ErrDeclined
		}
		logger().Warnf("replacing interface identity: previously issued client configs are now invalid")
	}

	priv, pub, err := r.gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("key generation: %w", err)
	}
	if err := keys.Persist(r.cfg.Keys.Dir, r.cfg.WireGuard.Interface, priv, pub); err != nil {
		return nil, err
	}

	subnet := r.cfg.SubnetPrefix()
	addr := ipalloc.HostAddr(subnet, ipalloc.ServerHostOctet)
	doc := &wgconf.Document{
		Interface: wgconf.InterfaceBlock{
			PrivateKey: priv,
			Address:    fmt.Sprintf("%s/%d", addr, subnet.Bits()),
			ListenPort: r.cfg.WireGuard.ListenPort,
		},
	}
	if err := r.commit(ctx, doc); err != nil {
		return nil, err
	}

	summary := &InterfaceSummary{
		PublicKey:  pub,
		Address:    doc.Interface.Address,
		ListenPort: doc.Interface.ListenPort,
	}
	r.record(ctx, "init", "", pub, summary.Address, nil)
	logger().Infof("interface %s initialized at %s", r.cfg.WireGuard.Interface, summary.Address)
	return summary, nil
}

// Import устанавливает take-away файл встречной стороны как собственный
// конфиг туннеля. Отсутствие обязательного поля — *wgconf.ParseError с
// именем поля; существующий конфиг заменяется только с подтверждением.
func (r *Registry) Import(ctx context.Context, path string, ask Decider) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := wgconf.ParseClient(string(b)); err != nil {
		return err
	}

	if _, err := os.Stat(r.cfg.ConfigPath()); err == nil {
		if !ask.ConfirmReinit() {
			return ErrDeclined
		}
	}

	// Текст ставим как есть: повторный рендер растерял бы поля,
	// которые наша грамматика не знает.
	if err := r.check.Validate(ctx, string(b)); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if err := os.MkdirAll(r.cfg.WireGuard.Dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := writeAtomic(r.cfg.ConfigPath(), b, 0o600); err != nil {
		return err
	}

	r.record(ctx, "import", "", "", "", map[string]any{"source": path})
	logger().Infof("imported tunnel config from %s", path)
	return nil
}

func candidateWithout(doc *wgconf.Document, drop map[int]bool) *wgconf.Document {
	cand := doc.Clone()
	if len(drop) == 0 {
		return cand
	}
	kept := cand.Peers[:0]
	for i, p := range cand.Peers {
		if !drop[i] {
			kept = append(kept, p)
		}
	}
	cand.Peers = kept
	return cand
}

func usedAddrs(doc *wgconf.Document, drop map[int]bool, subnet netip.Prefix) []netip.Addr {
	used := []netip.Addr{ipalloc.HostAddr(subnet, ipalloc.ServerHostOctet)}
	if pfx, err := netip.ParsePrefix(doc.Interface.Address); err == nil {
		used = append(used, pfx.Addr())
	}
	for i, p := range doc.Peers {
		if drop[i] {
			continue
		}
		if a, ok := peerAddr(p); ok {
			used = append(used, a)
		}
	}
	return used
}

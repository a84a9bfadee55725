package wgconf

import "fmt"

// Разметка секций и строки-аннотации имени (наше соглашение поверх
// формата wg-quick; должна переживать parse/render без потерь).
const (
	interfaceHeader = "[Interface]"
	peerHeader      = "[Peer]"
	namePrefix      = "# Name:"
)

// InterfaceBlock — секция [Interface] живого файла.
type InterfaceBlock struct {
	PrivateKey string
	Address    string // "10.0.0.1/24"
	ListenPort int
	Extra      []string // неизвестные строки, сохраняются как есть
}

// PeerBlock — одна секция [Peer], опционально с именем из аннотации.
type PeerBlock struct {
	Name       string
	PublicKey  string
	AllowedIPs string // CSV, как записано в файле
	Extra      []string
}

// Document — структурное представление живого файла: ровно один
// интерфейс и упорядоченный список пиров.
type Document struct {
	Interface InterfaceBlock
	Peers     []PeerBlock
}

// ClientConfig — выдаваемый клиенту конфиг (take-away): собственный
// приватный ключ/адрес клиента в [Interface], ключ и endpoint сервера
// в [Peer]. Обратное зеркало серверной записи.
type ClientConfig struct {
	PrivateKey string
	Address    string
	DNS        string

	ServerPublicKey string
	Endpoint        string
	AllowedIPs      string
	Keepalive       int
}

// ParseError — отсутствие обязательного поля в блоке.
type ParseError struct {
	Block string // "Interface" | "Peer"
	Field string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s block: missing required field %s", e.Block, e.Field)
}

// IndexOf ищет пира по имени или публичному ключу, -1 если не найден.
func (d *Document) IndexOf(identifier string) int {
	for i, p := range d.Peers {
		if p.PublicKey == identifier {
			return i
		}
		if p.Name != "" && p.Name == identifier {
			return i
		}
	}
	return -1
}

// Clone — глубокая копия документа; кандидаты строятся на копии,
// живой документ не трогаем до коммита.
func (d *Document) Clone() *Document {
	c := &Document{Interface: d.Interface}
	c.Interface.Extra = append([]string(nil), d.Interface.Extra...)
	c.Peers = make([]PeerBlock, len(d.Peers))
	for i, p := range d.Peers {
		c.Peers[i] = p
		c.Peers[i].Extra = append([]string(nil), p.Extra...)
	}
	return c
}

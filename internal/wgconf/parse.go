package wgconf

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

type section int

const (
	secNone section = iota
	secInterface
	secPeer
)

// Parse разбирает текст живого файла в Document.
// Ключи сравниваются с учётом регистра; нераспознанные строки секции
// сохраняются в Extra, чтобы поля оператора (PostUp, keepalive и т.п.)
// переживали цикл parse/render.
func Parse(text string) (*Document, error) {
	doc := &Document{}
	sec := secNone
	pendingName := ""

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		switch {
		case line == interfaceHeader:
			sec = secInterface
			pendingName = ""
			continue
		case line == peerHeader:
			doc.Peers = append(doc.Peers, PeerBlock{Name: pendingName})
			sec = secPeer
			pendingName = ""
			continue
		case strings.HasPrefix(line, namePrefix):
			pendingName = strings.TrimSpace(strings.TrimPrefix(line, namePrefix))
			continue
		}

		key, value, isKV := splitKV(line)
		switch sec {
		case secInterface:
			if !isKV {
				doc.Interface.Extra = append(doc.Interface.Extra, line)
				continue
			}
			switch key {
			case "PrivateKey":
				doc.Interface.PrivateKey = value
			case "Address":
				doc.Interface.Address = value
			case "ListenPort":
				if port, err := strconv.Atoi(value); err == nil {
					doc.Interface.ListenPort = port
				} else {
					doc.Interface.Extra = append(doc.Interface.Extra, line)
				}
			default:
				doc.Interface.Extra = append(doc.Interface.Extra, line)
			}
		case secPeer:
			p := &doc.Peers[len(doc.Peers)-1]
			if !isKV {
				p.Extra = append(p.Extra, line)
				continue
			}
			switch key {
			case "PublicKey":
				p.PublicKey = value
			case "AllowedIPs":
				p.AllowedIPs = value
			default:
				p.Extra = append(p.Extra, line)
			}
		default:
			// строки до первой секции относим к интерфейсу
			doc.Interface.Extra = append(doc.Interface.Extra, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan config text: %w", err)
	}

	if doc.Interface.PrivateKey == "" {
		return nil, &ParseError{Block: "Interface", Field: "PrivateKey"}
	}
	if doc.Interface.Address == "" {
		return nil, &ParseError{Block: "Interface", Field: "Address"}
	}
	return doc, nil
}

// ParseClient разбирает импортируемый take-away файл встречной стороны.
// В отличие от живого файла здесь обязательны приватный ключ, адрес,
// публичный ключ и endpoint встречной стороны.
func ParseClient(text string) (*ClientConfig, error) {
	cc := &ClientConfig{}
	sec := secNone

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == interfaceHeader {
			sec = secInterface
			continue
		}
		if line == peerHeader {
			sec = secPeer
			continue
		}
		key, value, isKV := splitKV(line)
		if !isKV {
			continue
		}
		switch sec {
		case secInterface:
			switch key {
			case "PrivateKey":
				cc.PrivateKey = value
			case "Address":
				cc.Address = value
			case "DNS":
				cc.DNS = value
			}
		case secPeer:
			switch key {
			case "PublicKey":
				cc.ServerPublicKey = value
			case "Endpoint":
				cc.Endpoint = value
			case "AllowedIPs":
				cc.AllowedIPs = value
			case "PersistentKeepalive":
				cc.Keepalive, _ = strconv.Atoi(value)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan config text: %w", err)
	}

	switch {
	case cc.PrivateKey == "":
		return nil, &ParseError{Block: "Interface", Field: "PrivateKey"}
	case cc.Address == "":
		return nil, &ParseError{Block: "Interface", Field: "Address"}
	case cc.ServerPublicKey == "":
		return nil, &ParseError{Block: "Peer", Field: "PublicKey"}
	case cc.Endpoint == "":
		return nil, &ParseError{Block: "Peer", Field: "Endpoint"}
	}
	return cc, nil
}

func splitKV(line string) (key, value string, ok bool) {
	i := strings.Index(line, "=")
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

package wgconf

import (
	"fmt"
	"strings"
)

// Render сериализует документ в формат wg-quick: сначала интерфейс,
// затем пиры в порядке документа (новые всегда в конце, существующие
// не переупорядочиваются).
func Render(doc *Document) string {
	var sb strings.Builder

	sb.WriteString(interfaceHeader + "\n")
	sb.WriteString(fmt.Sprintf("PrivateKey = %s\n", doc.Interface.PrivateKey))
	sb.WriteString(fmt.Sprintf("Address = %s\n", doc.Interface.Address))
	if doc.Interface.ListenPort > 0 {
		sb.WriteString(fmt.Sprintf("ListenPort = %d\n", doc.Interface.ListenPort))
	}
	for _, line := range doc.Interface.Extra {
		sb.WriteString(line + "\n")
	}

	for _, p := range doc.Peers {
		sb.WriteString("\n")
		if p.Name != "" {
			sb.WriteString(fmt.Sprintf("%s %s\n", namePrefix, p.Name))
		}
		sb.WriteString(peerHeader + "\n")
		sb.WriteString(fmt.Sprintf("PublicKey = %s\n", p.PublicKey))
		sb.WriteString(fmt.Sprintf("AllowedIPs = %s\n", p.AllowedIPs))
		for _, line := range p.Extra {
			sb.WriteString(line + "\n")
		}
	}

	return sb.String()
}

// RenderClient собирает take-away конфиг для нового пира.
func RenderClient(cc ClientConfig) string {
	var sb strings.Builder

	sb.WriteString(interfaceHeader + "\n")
	sb.WriteString(fmt.Sprintf("PrivateKey = %s\n", cc.PrivateKey))
	sb.WriteString(fmt.Sprintf("Address = %s\n", cc.Address))
	if cc.DNS != "" {
		sb.WriteString(fmt.Sprintf("DNS = %s\n", cc.DNS))
	}

	sb.WriteString("\n" + peerHeader + "\n")
	sb.WriteString(fmt.Sprintf("PublicKey = %s\n", cc.ServerPublicKey))
	if cc.Endpoint != "" {
		sb.WriteString(fmt.Sprintf("Endpoint = %s\n", cc.Endpoint))
	}
	sb.WriteString(fmt.Sprintf("AllowedIPs = %s\n", cc.AllowedIPs))
	if cc.Keepalive > 0 {
		sb.WriteString(fmt.Sprintf("PersistentKeepalive = %d\n", cc.Keepalive))
	}

	return sb.String()
}

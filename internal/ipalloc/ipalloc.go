package ipalloc

import (
	"errors"
	"net/netip"

	"go4.org/netipx"
)

var ErrPoolExhausted = errors.New("no free host addresses in subnet")

// Интерфейс всегда занимает первый хост-октет; сеть и broadcast
// не выдаются никогда.
const (
	ServerHostOctet = 1
	minHostOctet    = 2
	maxHostOctet    = 254
)

// Pool — производное состояние: /24 префикс плюс множество уже
// занятых адресов. Не хранится на диске, строится из живого файла.
type Pool struct {
	prefix netip.Prefix
	used   netipx.IPSetBuilder
}

func New(prefix netip.Prefix, used []netip.Addr) *Pool {
	p := &Pool{prefix: prefix.Masked()}
	for _, a := range used {
		if a.IsValid() {
			p.used.Add(a)
		}
	}
	return p
}

// Next возвращает первый свободный адрес, сканируя хост-октеты 2..254
// по возрастанию. Детерминирован: пока адрес не занят через Claim,
// повторные вызовы возвращают то же значение.
func (p *Pool) Next() (netip.Addr, error) {
	set, err := p.used.IPSet()
	if err != nil {
		return netip.Addr{}, err
	}

	base := p.prefix.Addr().As4()
	for octet := minHostOctet; octet <= maxHostOctet; octet++ {
		candidate := netip.AddrFrom4([4]byte{base[0], base[1], base[2], byte(octet)})
		if !set.Contains(candidate) {
			return candidate, nil
		}
	}
	return netip.Addr{}, ErrPoolExhausted
}

// Claim исключает адрес из последующих выдач.
func (p *Pool) Claim(a netip.Addr) {
	p.used.Add(a)
}

// InUse сообщает, занят ли адрес.
func (p *Pool) InUse(a netip.Addr) bool {
	set, err := p.used.IPSet()
	if err != nil {
		return false
	}
	return set.Contains(a)
}

// HostAddr строит адрес подсети с заданным хост-октетом.
func HostAddr(prefix netip.Prefix, octet int) netip.Addr {
	base := prefix.Masked().Addr().As4()
	return netip.AddrFrom4([4]byte{base[0], base[1], base[2], byte(octet)})
}

package ipalloc

import (
	"errors"
	"net/netip"
	"testing"
)

var subnet = netip.MustParsePrefix("10.0.0.0/24")

func addrs(octets ...int) []netip.Addr {
	var out []netip.Addr
	for _, o := range octets {
		out = append(out, HostAddr(subnet, o))
	}
	return out
}

func TestNextFirstFree(t *testing.T) {
	p := New(subnet, addrs(1, 2, 3, 5))
	a, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if a != HostAddr(subnet, 4) {
		t.Errorf("next = %s, want 10.0.0.4", a)
	}
}

func TestNextDeterministic(t *testing.T) {
	p := New(subnet, addrs(1, 2))
	first, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("repeated queries disagree: %s vs %s", first, second)
	}
}

func TestClaimExcludes(t *testing.T) {
	p := New(subnet, addrs(1))
	a, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	p.Claim(a)
	b, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if b == a {
		t.Errorf("claimed address issued again: %s", a)
	}
	if b != HostAddr(subnet, 3) {
		t.Errorf("next after claim = %s, want 10.0.0.3", b)
	}
}

func TestPoolExhausted(t *testing.T) {
	all := make([]netip.Addr, 0, 255)
	for o := 1; o <= 254; o++ {
		all = append(all, HostAddr(subnet, o))
	}
	p := New(subnet, all)
	if _, err := p.Next(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
}

func TestReservedOctetsNeverIssued(t *testing.T) {
	// только .1 занят: .0 (сеть) и .255 (broadcast) не выдаются по построению
	p := New(subnet, addrs(1))
	a, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	last := a.As4()[3]
	if last < 2 || last > 254 {
		t.Errorf("issued reserved octet %d", last)
	}
}

func TestInUse(t *testing.T) {
	p := New(subnet, addrs(2))
	if !p.InUse(HostAddr(subnet, 2)) {
		t.Error("expected 10.0.0.2 in use")
	}
	if p.InUse(HostAddr(subnet, 3)) {
		t.Error("expected 10.0.0.3 free")
	}
}

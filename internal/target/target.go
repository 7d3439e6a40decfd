// Package target resolves probe targets and egress interface
// bindings. Both are resolved once per invocation and read-only
// afterward.
package target

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Target is one resolved probe destination.
type Target struct {
	Input string // what the user typed
	Addr  string // resolved literal address, probed and matched exactly
	Name  string // reverse-lookup name, best effort
	Note  string // free-text annotation from the target list
	IPv6  bool
}

// Label renders the display form: the original input plus the
// resolved address when they differ.
func (t Target) Label() string {
	switch {
	case t.Input == t.Addr && t.Name != "":
		return fmt.Sprintf("%s (%s)", t.Addr, t.Name)
	case t.Input != t.Addr:
		return fmt.Sprintf("%s (%s)", t.Input, t.Addr)
	}
	return t.Addr
}

// Resolve turns user input into a Target. A literal IP is accepted
// as-is; anything else goes through the system resolver, first match
// wins. The reverse lookup is best effort and bounded.
func Resolve(ctx context.Context, input, note string) (Target, error) {
	t := Target{Input: input, Note: note}

	if ip := net.ParseIP(input); ip != nil {
		t.Addr = ip.String()
		t.IPv6 = ip.To4() == nil
		t.Name = reverseLookup(ctx, t.Addr)
		return t, nil
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, input)
	if err != nil {
		return t, fmt.Errorf("resolve target %q: %w", input, err)
	}
	if len(addrs) == 0 {
		return t, fmt.Errorf("no addresses for target %q", input)
	}

	ip := net.ParseIP(addrs[0])
	if ip == nil {
		return t, fmt.Errorf("invalid resolved address %q for target %q", addrs[0], input)
	}
	t.Addr = ip.String()
	t.IPv6 = ip.To4() == nil
	return t, nil
}

func reverseLookup(ctx context.Context, addr string) string {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, addr)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// Iface is one egress device under test. The empty device means the
// system default route (an "unbound" run).
type Iface struct {
	Device string
}

// Display returns the device name or "default" for the unbound case.
func (i Iface) Display() string {
	if i.Device == "" {
		return "default"
	}
	return i.Device
}

// SourceAddr finds a global-scope source address on the device
// matching the target's address family. An empty string with a nil
// error means the device exists but carries no usable address of that
// family; the caller degrades to an unbound run with a warning.
func (i Iface) SourceAddr(ipv6 bool) (string, error) {
	if i.Device == "" {
		return "", nil
	}

	ifi, err := net.InterfaceByName(i.Device)
	if err != nil {
		return "", fmt.Errorf("interface %q: %w", i.Device, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return "", fmt.Errorf("interface %q addresses: %w", i.Device, err)
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP
		if ip.IsLinkLocalUnicast() || ip.IsLoopback() {
			continue
		}
		if (ip.To4() == nil) == ipv6 {
			return ip.String(), nil
		}
	}
	return "", nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"warden/config"
	"warden/internal/audit"
	"warden/internal/db"
	"warden/internal/keys"
	"warden/internal/registry"
	"warden/internal/validate"
	"warden/server"
)

func newRegistry(cfg *config.Config) *registry.Registry {
	var rec registry.Recorder
	if drv := cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, cfg.Database.DSN)
		if err != nil {
			fatal("Failed to open database: " + err.Error())
		}
		store, err := audit.NewStore(d)
		if err != nil {
			fatal("Failed to migrate database: " + err.Error())
		}
		rec = store
	}
	return registry.New(
		cfg,
		keys.WGGenerator{},
		validate.ExecValidator{Command: cfg.Validator.Command},
		rec,
	)
}

// terminalDecider задаёт вопросы оператору; любой ответ кроме y — отказ.
type terminalDecider struct{}

func (terminalDecider) ConfirmOverwrite(name, publicKey string) bool {
	if name == "" {
		name = publicKey
	}
	return promptYesNo(fmt.Sprintf("Peer %q already exists. Overwrite it?", name))
}

func (terminalDecider) ConfirmReassign(requested, next netip.Addr) bool {
	return promptYesNo(fmt.Sprintf("Address %s is already assigned. Use %s instead?", requested, next))
}

func (terminalDecider) ConfirmReinit() bool {
	fmt.Println("WARNING: this destroys the current interface identity.")
	fmt.Println("Every previously issued client config will stop working.")
	return promptYesNo("Continue?")
}

func promptYesNo(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// decider выбирает между терминалом и автоподтверждением (--yes).
func decider(yes bool) registry.Decider {
	if yes {
		return registry.Flags{Overwrite: true, Reassign: true, Reinit: true}
	}
	return terminalDecider{}
}

func hasYes(args []string) bool {
	for _, a := range args {
		if a == "--yes" || a == "-y" {
			return true
		}
	}
	return false
}

func cmdInit(cfg *config.Config, args []string) {
	reg := newRegistry(cfg)

	iface, err := reg.Reinitialize(context.Background(), decider(hasYes(args)))
	if err != nil {
		if errors.Is(err, registry.ErrDeclined) {
			fmt.Println("Aborted, nothing changed.")
			return
		}
		fatal(err.Error())
	}

	fmt.Println("Interface initialized.")
	fmt.Printf("  Config:     %s\n", cfg.ConfigPath())
	fmt.Printf("  Address:    %s\n", iface.Address)
	fmt.Printf("  ListenPort: %d\n", iface.ListenPort)
	fmt.Printf("  PublicKey:  %s\n", iface.PublicKey)
}

func cmdAdd(cfg *config.Config, args []string) {
	req := registry.AddRequest{Name: args[0]}
	yes := false
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--yes", "-y":
			yes = true
		case "--ip":
			i++
			if i >= len(args) {
				fatal("--ip requires a host octet")
			}
			octet, err := strconv.Atoi(args[i])
			if err != nil {
				fatal("--ip requires a numeric host octet")
			}
			req.HostOctet = octet
		default:
			req.PublicKey = args[i]
		}
	}

	reg := newRegistry(cfg)
	res, err := reg.Add(context.Background(), req, decider(yes))
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDuplicateName), errors.Is(err, registry.ErrDuplicateKey),
			errors.Is(err, registry.ErrDuplicateIP):
			fmt.Println("Aborted, nothing changed:", err)
			os.Exit(1)
		}
		fatal(err.Error())
	}

	fmt.Printf("Added peer: %s\n", res.Name)
	fmt.Printf("  IP: %s\n", res.Address)
	if res.KeyKnown {
		fmt.Println("\nClient config:")
		fmt.Println(strings.Repeat("-", 40))
		fmt.Println(res.ClientConfig)
		if res.ClientPath != "" {
			fmt.Printf("Saved to %s\n", res.ClientPath)
		}
	} else {
		fmt.Println("\nPeer registered with an external public key.")
		fmt.Println("No client config produced: the private key is unknown to this side.")
	}
	fmt.Printf("\nRun 'wg-quick down %[1]s && wg-quick up %[1]s' (or syncconf) to apply.\n", cfg.WireGuard.Interface)
}

func cmdRemove(cfg *config.Config, identifier string) {
	reg := newRegistry(cfg)
	if err := reg.Delete(context.Background(), identifier); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			fatal("Peer not found: " + identifier)
		}
		fatal(err.Error())
	}
	fmt.Printf("Removed peer: %s\n", identifier)
}

func cmdList(cfg *config.Config) {
	reg := newRegistry(cfg)
	roster, err := reg.View(context.Background())
	if err != nil {
		if errors.Is(err, registry.ErrNotInitialized) {
			fatal("Not initialized - run 'warden init' first")
		}
		fatal(err.Error())
	}

	fmt.Printf("Interface %s  %s  port %d\n", cfg.WireGuard.Interface, roster.Interface.Address, roster.Interface.ListenPort)
	fmt.Printf("PublicKey %s\n\n", roster.Interface.PublicKey)

	fmt.Printf("%-20s %-18s %-8s %s\n", "NAME", "IP", "KEY", "PUBLIC KEY")
	fmt.Println(strings.Repeat("-", 70))
	for _, p := range roster.Peers {
		key := "external"
		if p.KeyKnown {
			key = "managed"
		}
		name := p.Name
		if name == "" {
			name = "-"
		}
		fmt.Printf("%-20s %-18s %-8s %s\n", name, strings.TrimSuffix(p.Address, "/32"), key, p.PublicKey)
	}
}

func cmdConfig(cfg *config.Config, identifier string) {
	reg := newRegistry(cfg)
	peer, err := reg.FindPeer(context.Background(), identifier)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			fatal("Peer not found: " + identifier)
		}
		fatal(err.Error())
	}

	b, err := os.ReadFile(reg.ClientConfigPath(*peer))
	if err != nil {
		if os.IsNotExist(err) {
			fatal("No client config for this peer: the private key is unknown to this side")
		}
		fatal(err.Error())
	}
	fmt.Print(string(b))
}

func cmdImport(cfg *config.Config, args []string) {
	reg := newRegistry(cfg)
	if err := reg.Import(context.Background(), args[0], decider(hasYes(args))); err != nil {
		if errors.Is(err, registry.ErrDeclined) {
			fmt.Println("Aborted, nothing changed.")
			return
		}
		fatal(err.Error())
	}
	fmt.Printf("Imported %s as %s\n", args[0], cfg.ConfigPath())
}

func cmdServe(cfg *config.Config) {
	app := &server.App{}
	app.Initialize(cfg)
	if err := app.Run(); err != nil {
		fatal(err.Error())
	}
}

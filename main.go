package main

import (
	"fmt"
	"os"

	"warden/config"
	"warden/internal/logs"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.MustLoad()
	logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "init":
		cmdInit(cfg, args)
	case "add":
		if len(args) < 1 {
			fatal("usage: warden add <name> [publicKey] [--ip N] [--yes]")
		}
		cmdAdd(cfg, args)
	case "remove", "rm":
		if len(args) < 1 {
			fatal("usage: warden remove <name|publicKey>")
		}
		cmdRemove(cfg, args[0])
	case "list", "ls":
		cmdList(cfg)
	case "config":
		if len(args) < 1 {
			fatal("usage: warden config <name|publicKey>")
		}
		cmdConfig(cfg, args[0])
	case "import":
		if len(args) < 1 {
			fatal("usage: warden import <file> [--yes]")
		}
		cmdImport(cfg, args)
	case "serve":
		cmdServe(cfg)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("warden - WireGuard peer roster manager")
	fmt.Println()
	fmt.Println("Usage: warden <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                     Initialize interface identity and first config")
	fmt.Println("  add <name> [publicKey]   Register a peer (generates keys unless one is supplied)")
	fmt.Println("      --ip N               Request a specific host octet")
	fmt.Println("  remove <name|publicKey>  Remove a peer")
	fmt.Println("  list                     Show interface summary and peer roster")
	fmt.Println("  config <name|publicKey>  Print a peer's client config")
	fmt.Println("  import <file>            Install a counterpart's client config as own tunnel")
	fmt.Println("  serve                    Start the HTTP API")
	fmt.Println()
	fmt.Println("  --yes                    Answer yes to all confirmations")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(1)
}

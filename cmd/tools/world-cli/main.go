// world-cli - обслуживание хранилища миров без запуска хоста.
//
//	world-cli [-config path] list
//	world-cli exists <name>
//	world-cli info <name>
//	world-cli create <name> [key=value ...]
//	world-cli delete <name>
//	world-cli migrate <name> -to <config.yaml>
//	world-cli island <uuid> [normal|nether|the_end]
//	world-cli token <user> [-admin]
//	world-cli secret
//	world-cli watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/annel0/slime-worlds/internal/auth"
	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/events"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/slime"
	"github.com/annel0/slime-worlds/internal/world"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: world-cli [-config path] <list|exists|info|create|delete|migrate|island|token|secret|watch> [args]")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию SLIME_CONFIG)")
	verbose := flag.Bool("v", false, "подробный вывод")
	flag.Usage = usage
	flag.Parse()

	level := logging.WARN
	if *verbose {
		level = logging.DEBUG
	}
	if err := logging.InitDefaultLogger("world-cli", "", level); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "list":
		return withLoader(ctx, cfg.Storage, func(l loader.Loader) error { return listWorlds(ctx, l) })
	case "exists":
		name, err := nameArg(args)
		if err != nil {
			return err
		}
		return withLoader(ctx, cfg.Storage, func(l loader.Loader) error {
			ok, err := l.Exists(ctx, name)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		})
	case "info":
		name, err := nameArg(args)
		if err != nil {
			return err
		}
		return withLoader(ctx, cfg.Storage, func(l loader.Loader) error { return showInfo(ctx, l, name) })
	case "create":
		name, err := nameArg(args)
		if err != nil {
			return err
		}
		return createWorld(ctx, cfg, name, args[1:])
	case "delete":
		name, err := nameArg(args)
		if err != nil {
			return err
		}
		return deleteWorld(ctx, cfg.Storage, name)
	case "migrate":
		return migrateWorld(ctx, cfg.Storage, args)
	case "island":
		return islandName(args)
	case "token":
		return issueToken(cfg.API, args)
	case "secret":
		secret, err := auth.GenerateSecureSecret()
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	case "watch":
		return watchEvents(ctx, cfg.Events)
	}
	usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func nameArg(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("world name is required")
	}
	return args[0], loader.ValidateName(args[0])
}

func withLoader(ctx context.Context, storage config.StorageConfig, fn func(loader.Loader) error) error {
	l, err := loader.Select(ctx, storage)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l)
}

func listWorlds(ctx context.Context, l loader.Loader) error {
	names, err := l.List(ctx)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

type worldInfo struct {
	Name       string           `yaml:"name"`
	Version    byte             `yaml:"format_version"`
	Size       int              `yaml:"size"`
	Chunks     int              `yaml:"chunks_bytes"`
	CreatedAt  string           `yaml:"created_at,omitempty"`
	Properties slime.Properties `yaml:"properties"`
}

func showInfo(ctx context.Context, l loader.Loader, name string) error {
	data, err := l.Read(ctx, name)
	if err != nil {
		return err
	}
	w, err := slime.Deserialize(data)
	if err != nil {
		return &world.LoadError{Name: name, Err: err}
	}

	info := worldInfo{
		Name:       w.Name,
		Version:    data[2], // magic(2) | version(1) | ...
		Size:       len(data),
		Chunks:     len(w.Chunks),
		Properties: w.Properties,
	}
	if w.CreatedAt != 0 {
		info.CreatedAt = time.UnixMilli(w.CreatedAt).UTC().Format(time.RFC3339)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(info)
}

func createWorld(ctx context.Context, cfg *config.Config, name string, pairs []string) error {
	kv := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", pair)
		}
		kv[k] = v
	}
	props, err := slime.ParseProperties(cfg.Worlds, kv)
	if err != nil {
		return err
	}

	l, err := loader.Select(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	store := world.NewStore(l, world.Options{})
	defer store.Close()

	w, err := store.GetOrCreate(ctx, name, props)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s (%s, %s)\n", w.Name, w.Properties.Difficulty, w.Properties.Environment)
	return nil
}

func deleteWorld(ctx context.Context, storage config.StorageConfig, name string) error {
	l, err := loader.Select(ctx, storage)
	if err != nil {
		return err
	}
	store := world.NewStore(l, world.Options{})
	// хоста нет, Delete не откажет; Close дождётся фонового удаления
	store.Delete(ctx, name)
	return store.Close()
}

func migrateWorld(ctx context.Context, from config.StorageConfig, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	target := fs.String("to", "", "YAML конфигурация целевого хранилища")
	if len(args) == 0 {
		return errors.New("usage: migrate <name> -to <config.yaml>")
	}
	name := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *target == "" {
		return errors.New("-to is required")
	}

	data, err := os.ReadFile(*target)
	if err != nil {
		return err
	}
	toCfg, err := config.Parse(data)
	if err != nil {
		return err
	}

	src, err := loader.Select(ctx, from)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := loader.Select(ctx, toCfg.Storage)
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := world.Migrate(ctx, name, src, dst); err != nil {
		return err
	}
	fmt.Printf("✅ %s: %s → %s\n", name, from.Type, toCfg.Storage.Type)
	return nil
}

func islandName(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: island <uuid> [environment]")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return err
	}
	env := slime.EnvironmentNormal
	if len(args) > 1 {
		if env, err = slime.ParseEnvironment(args[1]); err != nil {
			return err
		}
	}
	fmt.Println(world.IslandWorldName(id, env))
	return nil
}

func issueToken(cfg config.APIServerConfig, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	admin := fs.Bool("admin", false, "токен администратора")
	if len(args) == 0 {
		return errors.New("usage: token <user> [-admin]")
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	issuer, err := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(args[0], *admin)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func watchEvents(ctx context.Context, cfg config.EventsConfig) error {
	if cfg.NATSURL == "" {
		return errors.New("events.nats_url is not configured")
	}
	p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.Subject, "world-cli")
	if err != nil {
		return err
	}
	defer p.Close()

	sub, err := p.Subscribe(func(ev *events.Event) {
		line := fmt.Sprintf("%s %-14s %s", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.World)
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		fmt.Println(line)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("👀 Слушаю %s.*\n", cfg.Subject)
	<-ctx.Done()
	return nil
}

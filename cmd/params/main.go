package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"pullplatypus/internal"
	"pullplatypus/pkg/storage"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "pullplatypus-params",
		Usage: "Manage the parameters the webhook server reads at startup",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "config.yaml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "Store a parameter under the configured path",
				ArgsUsage: "NAME VALUE",
				Action:    runPut,
			},
			{
				Name:  "list",
				Usage: "List parameter names under the configured path",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "show-values", Usage: "Print values instead of masking them"},
				},
				Action: runList,
			},
			{
				Name:   "validate",
				Usage:  "Resolve settings the way the server does and report what is missing",
				Action: runValidate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func openStore(c *cli.Context) (internal.Config, string, storage.ParameterStore, error) {
	cfg, err := internal.LoadConfig(c.String("config"))
	if err != nil {
		return cfg, "", nil, err
	}
	path := internal.ParamsPath(cfg, nil)
	if path == "" {
		return cfg, "", nil, errors.New("no parameter path: set params.path or " + internal.EnvParamsPath)
	}
	store, err := internal.OpenParamStore(cfg, nil)
	if err != nil {
		return cfg, "", nil, err
	}
	return cfg, path, store, nil
}

func runPut(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("put expects NAME VALUE", 2)
	}
	_, path, store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	name := qualify(path, c.Args().Get(0))
	if err := store.PutParameter(c.Context, name, c.Args().Get(1)); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "stored %s\n", name)
	return nil
}

func runList(c *cli.Context) error {
	_, path, store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	values, err := store.GetParametersByPath(c.Context, path)
	if err != nil {
		return err
	}
	printParameters(c.App.Writer, values, c.Bool("show-values"))
	return nil
}

func runValidate(c *cli.Context) error {
	cfg, err := internal.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	store, err := internal.OpenParamStore(cfg, nil)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	settings, err := internal.ResolveSettings(c.Context, cfg, store, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "settings ok: identity map entries=%d delivery=%s\n", settings.Identities.Len(), cfg.Delivery.Mode)
	return nil
}

// qualify places bare names under path; names with a slash are used as-is.
func qualify(path, name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return strings.TrimRight(path, "/") + "/" + name
}

func printParameters(w io.Writer, values map[string]string, show bool) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := "********"
		if show {
			value = values[name]
		}
		fmt.Fprintf(w, "%s\t%s\n", name, value)
	}
}

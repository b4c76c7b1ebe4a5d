// Command loomctl is a thin CLI over the store package's programmatic
// surface: open a graph store rooted at a directory, create and list
// graphs, inspect a graph's head, and build a new layer onto one from
// a file of triples.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/jpl-au/loom/label"
	"github.com/jpl-au/loom/layer"
	"github.com/jpl-au/loom/store"
)

func main() {
	app := &cli.App{
		Name:  "loomctl",
		Usage: "inspect and drive a loom graph store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "root",
				Usage:    "store root directory",
				Required: true,
				EnvVars:  []string{"LOOM_ROOT"},
			},
		},
		Commands: []*cli.Command{
			createGraphCommand,
			listGraphsCommand,
			headCommand,
			buildChildCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "loomctl:", err)
		os.Exit(1)
	}
}

func openStore(c *cli.Context) (*store.Store, error) {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return store.Open(c.String("root"), store.Config{}, log)
}

var createGraphCommand = &cli.Command{
	Name:      "create-graph",
	Usage:     "create a fresh, empty graph",
	ArgsUsage: "<name>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("create-graph requires exactly one graph name", 2)
		}
		s, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.CreateGraph(c.Args().First()); err != nil {
			return err
		}
		fmt.Println("created", c.Args().First())
		return nil
	},
}

var listGraphsCommand = &cli.Command{
	Name:  "list-graphs",
	Usage: "list every graph in the store",
	Action: func(c *cli.Context) error {
		s, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		names, err := s.ListGraphs()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var headCommand = &cli.Command{
	Name:      "head",
	Usage:     "print a graph's current layer id and version",
	ArgsUsage: "<name>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("head requires exactly one graph name", 2)
		}
		s, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		g, err := s.OpenGraph(c.Args().First())
		if err != nil {
			return err
		}
		id, version, err := g.Head()
		if err != nil {
			return err
		}
		if id == nil {
			fmt.Printf("version=%d layer=<none>\n", version)
			return nil
		}
		fmt.Printf("version=%d layer=%s\n", version, id.String())
		return nil
	},
}

// tripleFile is the on-disk JSON shape --additions/--removals accept:
// a flat array of {subject,predicate,object,value} triples, "value"
// marking a literal object rather than a node reference.
type tripleFile struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Value     bool   `json:"value"`
}

func readTriples(path string) ([]layer.RawTriple, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries []tripleFile
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]layer.RawTriple, len(entries))
	for i, e := range entries {
		kind := layer.KindNode
		if e.Value {
			kind = layer.KindValue
		}
		out[i] = layer.RawTriple{Subject: e.Subject, Predicate: e.Predicate, Object: e.Object, ObjectKind: kind}
	}
	return out, nil
}

var buildChildCommand = &cli.Command{
	Name:      "build-child",
	Usage:     "build a new layer recording additions/removals and advance a graph's head to it",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "additions", Usage: "path to a JSON array of triples to add"},
		&cli.StringFlag{Name: "removals", Usage: "path to a JSON array of triples to remove"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("build-child requires exactly one graph name", 2)
		}
		name := c.Args().First()

		additions, err := readTriples(c.String("additions"))
		if err != nil {
			return err
		}
		removals, err := readTriples(c.String("removals"))
		if err != nil {
			return err
		}
		if len(additions) == 0 && len(removals) == 0 {
			return cli.Exit("build-child requires at least one of --additions or --removals", 2)
		}

		s, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		g, err := s.OpenGraph(name)
		if err != nil {
			return err
		}
		current, currentVersion, err := g.Head()
		if err != nil {
			return err
		}
		expected := label.Label{Name: name, Version: currentVersion, Layer: current}

		id, err := g.BuildChild(expected, additions, removals)
		if err != nil {
			return err
		}
		fmt.Println("built", id.String())
		return nil
	},
}

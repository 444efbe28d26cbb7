// Package main provides the grom CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/memstore"
	"github.com/orneryd/grom/pkg/schema"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// config is the on-disk configuration (grom.yaml in the data directory).
type config struct {
	DataDir    string `yaml:"data_dir"`
	SchemaFile string `yaml:"schema_file"`
	SyncWrites bool   `yaml:"sync_writes"`
	Passphrase string `yaml:"passphrase"`
	Verbose    bool   `yaml:"verbose"`
}

func defaultConfig(dataDir string) config {
	return config{DataDir: dataDir}
}

// loadConfig reads grom.yaml from the data directory, falling back to
// defaults when the file does not exist.
func loadConfig(dataDir string) (config, error) {
	cfg := defaultConfig(dataDir)
	data, err := os.ReadFile(filepath.Join(dataDir, "grom.yaml"))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing grom.yaml: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays GROM_* environment variables on the file config, so a
// passphrase never has to live on disk.
func applyEnv(cfg *config) {
	if v := os.Getenv("GROM_SCHEMA_FILE"); v != "" {
		cfg.SchemaFile = v
	}
	if v := os.Getenv("GROM_PASSPHRASE"); v != "" {
		cfg.Passphrase = v
	}
	if v := os.Getenv("GROM_VERBOSE"); v != "" {
		cfg.Verbose = v == "1" || strings.EqualFold(v, "true")
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "grom",
		Short: "grom - embedded graph store with a typed mapping layer",
		Long: `grom is an embedded graph database with schema validation and an
object-graph mapping layer for Go programs.

Features:
  • Typed and dynamic entities validated against registered schemas
  • Pattern queries compiled from a composable plan builder
  • Buffered transactions with read-your-writes
  • Persistent BadgerDB storage, optionally encrypted at rest`,
	}
	rootCmd.PersistentFlags().String("data-dir", "./data", "Data directory")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("grom v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new grom database",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	queryCmd := &cobra.Command{
		Use:   "query <statement>",
		Short: "Run a query statement against the database",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().Duration("timeout", time.Minute, "Query timeout")
	rootCmd.AddCommand(queryCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node and relationship counts",
		RunE:  runStats,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "repl",
		Short: "Interactive query shell",
		RunE:  runRepl,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Export the database to a Neo4j-compatible JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import a Neo4j-compatible JSON export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	})

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema operations",
	}
	schemaCmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Parse and verify a schema file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchemaCheck,
	})
	rootCmd.AddCommand(schemaCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the persistent engine from the command's data directory.
func openStore(cmd *cobra.Command) (*memstore.BadgerStore, config, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg, err := loadConfig(dataDir)
	if err != nil {
		return nil, cfg, err
	}

	var reg *schema.Registry
	if cfg.SchemaFile != "" {
		src, err := schema.LoadYAML(resolvePath(cfg.DataDir, cfg.SchemaFile))
		if err != nil {
			return nil, cfg, fmt.Errorf("loading schema: %w", err)
		}
		reg = schema.NewRegistry(src)
		if err := reg.Initialize(); err != nil {
			return nil, cfg, fmt.Errorf("building schema: %w", err)
		}
	}

	logger := zap.NewNop()
	if cfg.Verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, cfg, err
		}
	}

	store, err := memstore.NewBadgerStore(memstore.BadgerOptions{
		Dir:        cfg.DataDir,
		SyncWrites: cfg.SyncWrites,
		Passphrase: cfg.Passphrase,
		Registry:   reg,
		Logger:     logger,
	})
	if err != nil {
		return nil, cfg, fmt.Errorf("opening store: %w", err)
	}
	return store, cfg, nil
}

func resolvePath(dataDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("Initializing grom database in %s\n", dataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configPath := filepath.Join(dataDir, "grom.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	configContent := `# grom configuration
data_dir: ./data

# Schema file with node and relationship descriptors, relative to the data
# directory. Leave empty to run without validation.
schema_file: ""

# Force an fsync after each write.
sync_writes: false

# Non-empty enables encryption at rest.
passphrase: ""

verbose: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("Database initialized")
	fmt.Printf("  Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the config, pointing schema_file at your descriptors")
	fmt.Printf("  2. Run a query:  grom query 'MATCH (n) RETURN n' --data-dir %s\n", dataDir)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := memstore.NewClient(store)
	start := time.Now()
	rows, err := client.Run(ctx, &cypher.Statement{Text: args[0]})
	if err != nil {
		return err
	}

	printRows(rows)
	fmt.Printf("\n%d row(s) in %v\n", rows.Len(), time.Since(start).Round(time.Microsecond))
	return nil
}

func printRows(rows *graph.Rows) {
	if rows.Len() == 0 {
		return
	}
	fmt.Println(strings.Join(rows.Columns, "\t"))
	for _, rec := range rows.Records {
		parts := make([]string, 0, len(rows.Columns))
		for _, col := range rows.Columns {
			parts = append(parts, renderValue(rec[col]))
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case *graph.NodeValue:
		return fmt.Sprintf("(%s:%s %v)", t.ID, strings.Join(t.Labels, ":"), t.Props)
	case *graph.RelValue:
		return fmt.Sprintf("[%s:%s %s->%s %v]", t.ID, t.Type, t.StartID, t.EndID, t.Props)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	nodes, err := store.GetNodesByLabel("")
	if err != nil {
		return err
	}
	rels, err := store.GetRelationshipsByType("")
	if err != nil {
		return err
	}

	byLabel := make(map[string]int)
	for _, n := range nodes {
		for _, l := range n.Labels {
			byLabel[l]++
		}
	}
	byType := make(map[string]int)
	for _, r := range rels {
		byType[r.Type]++
	}

	fmt.Printf("Database: %s\n", cfg.DataDir)
	fmt.Printf("  Nodes:         %d\n", len(nodes))
	for _, label := range sortedKeys(byLabel) {
		fmt.Printf("    :%s  %d\n", label, byLabel[label])
	}
	fmt.Printf("  Relationships: %d\n", len(rels))
	for _, t := range sortedKeys(byType) {
		fmt.Printf("    :%s  %d\n", t, byType[t])
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func runRepl(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	client := memstore.NewClient(store)
	fmt.Printf("grom v%s on %s. Type 'exit' to leave.\n", version, cfg.DataDir)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("grom> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Println("Goodbye!")
			return nil
		}

		start := time.Now()
		rows, err := client.Run(cmd.Context(), &cypher.Statement{Text: line})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		printRows(rows)
		fmt.Printf("%d row(s) in %v\n", rows.Len(), time.Since(start).Round(time.Microsecond))
	}
	return scanner.Err()
}

func runExport(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	if err := memstore.ExportJSON(store, f); err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening export file: %w", err)
	}
	defer f.Close()

	if err := memstore.ImportJSON(store, f); err != nil {
		return err
	}
	fmt.Printf("Imported %s\n", args[0])
	return nil
}

func runSchemaCheck(cmd *cobra.Command, args []string) error {
	src, err := schema.LoadYAML(args[0])
	if err != nil {
		return err
	}
	reg := schema.NewRegistry(src)
	if err := reg.Initialize(); err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", args[0])
	for _, d := range reg.Nodes() {
		fmt.Printf("  node %s (%d properties)\n", d.Label, len(d.Properties()))
	}
	for _, d := range reg.Relationships() {
		fmt.Printf("  relationship %s (%d properties)\n", d.Label, len(d.Properties()))
	}
	return nil
}

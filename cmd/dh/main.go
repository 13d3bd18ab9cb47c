package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ganad831/doc-helper-sub004/internal/app"
	"github.com/ganad831/doc-helper-sub004/internal/config"
	"github.com/ganad831/doc-helper-sub004/internal/db"
	"github.com/ganad831/doc-helper-sub004/internal/engine"
	"github.com/ganad831/doc-helper-sub004/internal/migrate"
	"github.com/ganad831/doc-helper-sub004/internal/repo"
	"github.com/ganad831/doc-helper-sub004/internal/schemafile"
	"github.com/ganad831/doc-helper-sub004/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dh",
	Short: "Doc Helper CLI",
	Long: `Doc Helper keeps document schemas, their computed fields and their
control rules consistent.
- Workspace: the .dochelper directory holding the local database.
- Project: owns schema versions, field values and the event log.
- Schema: entities, fields, formulas, constraints and control rules,
  authored as YAML and imported as immutable versions.
- Changes: 'dh value set' runs a field edit through the engine so
  formulas recompute and control rules fire before anything is stored.
- Validation: 'dh validate' evaluates declared constraints and reports
  violations by severity; only errors block.
- Event log: every stored change is recorded, view with 'dh log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DOCHELPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the single project in the workspace)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(graphCmd())
	rootCmd.AddCommand(valueCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.CreateProject(ctx, r, id, desc, viper.GetString("actor-id")); err != nil {
					return err
				}
				cfgPath := config.Path(viper.GetString("workspace"))
				if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
					if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(id)), 0o644); err != nil {
						return fmt.Errorf("write %s: %w", cfgPath, err)
					}
					fmt.Println("wrote", cfgPath)
				}
				p, err := r.GetProject(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Println("created project", p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Description, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func schemaCmd() *cobra.Command {
	sc := &cobra.Command{Use: "schema", Short: "Manage schema versions"}
	sc.AddCommand(schemaImportCmd())
	sc.AddCommand(schemaCheckCmd())
	sc.AddCommand(schemaShowCmd())
	return sc
}

func schemaImportCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a schema YAML file as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			schema, err := schemafile.FromYAML(doc)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				issues := schemafile.Check(schema, limits())
				if len(issues) > 0 {
					printIssues(issues)
				}
				if schemafile.HasErrors(issues) && !force {
					return fmt.Errorf("schema has errors; fix them or pass --force")
				}
				projectID, err := activeProject(ctx, r, schema.ProjectID)
				if err != nil {
					return err
				}
				version, err := r.ImportSchema(ctx, projectID, doc)
				if err != nil {
					return err
				}
				fmt.Printf("imported schema version %d for project %s\n", version, projectID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "import even when the check reports errors")
	return cmd
}

func schemaCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Check a schema YAML file for authoring mistakes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			schema, err := schemafile.FromYAML(doc)
			if err != nil {
				return err
			}
			issues := schemafile.Check(schema, limits())
			if len(issues) == 0 {
				fmt.Println("schema OK")
				return nil
			}
			printIssues(issues)
			if schemafile.HasErrors(issues) {
				return fmt.Errorf("schema has errors")
			}
			return nil
		},
	}
}

func schemaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the latest imported schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID, err := activeProject(ctx, r, "")
				if err != nil {
					return err
				}
				_, schema, err := app.LoadEngine(ctx, r, projectID, limits())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(schema)
				}
				out, err := schemafile.ToYAML(schema)
				if err != nil {
					return err
				}
				fmt.Printf("# version %d\n%s", schema.Version, out)
				return nil
			})
		},
	}
}

func graphCmd() *cobra.Command {
	gc := &cobra.Command{Use: "graph", Short: "Inspect the dependency graph"}
	gc.AddCommand(graphShowCmd())
	return gc
}

func graphShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show nodes, edges and issues of the current graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID, err := activeProject(ctx, r, "")
				if err != nil {
					return err
				}
				eng, schema, err := app.LoadEngine(ctx, r, projectID, limits())
				if err != nil {
					return err
				}
				g := eng.Graph
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"schema_version": schema.Version,
						"nodes":          g.Nodes(),
						"edges":          g.Edges(),
						"issues":         g.Issues(),
						"order":          g.TopoOrder(g.Nodes()),
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Computable", "Dependents"})
				for _, node := range g.Nodes() {
					tw.AppendRow(table.Row{node, g.Computable(node), strings.Join(g.Dependents(node), ", ")})
				}
				tw.Render()
				if issues := g.Issues(); len(issues) > 0 {
					ti := table.NewWriter()
					ti.SetOutputMirror(os.Stdout)
					ti.AppendHeader(table.Row{"Field", "Code", "Message"})
					for _, i := range issues {
						ti.AppendRow(table.Row{i.FieldID, i.Code, i.Message})
					}
					ti.Render()
				}
				return nil
			})
		},
	}
}

func valueCmd() *cobra.Command {
	vc := &cobra.Command{Use: "value", Short: "Read and write field values"}
	vc.AddCommand(valueSetCmd())
	vc.AddCommand(valueListCmd())
	return vc
}

func valueSetCmd() *cobra.Command {
	var entityID, fieldID, raw string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a field value through the engine",
		Long:  "Runs the edit through formula recomputation and control rules, then stores the resulting snapshot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID, err := activeProject(ctx, r, "")
				if err != nil {
					return err
				}
				eng, _, err := app.LoadEngine(ctx, r, projectID, limits())
				if err != nil {
					return err
				}
				snap, err := r.Snapshot(ctx, projectID, entityID)
				if err != nil {
					return err
				}
				result, err := eng.ApplyChange(snap, fieldID, parseValue(raw))
				if err != nil {
					return err
				}
				if _, err := app.PersistChange(ctx, r, projectID, entityID, viper.GetString("actor-id"), fieldID, snap, result); err != nil {
					return err
				}
				for _, fe := range result.FieldErrors {
					fmt.Printf("warning: %s: %s (%s)\n", fe.FieldID, fe.Message, fe.Code)
				}
				if viper.GetBool("json") {
					return printJSON(result.Snapshot)
				}
				fields := make([]string, 0, len(result.Snapshot))
				for f := range result.Snapshot {
					fields = append(fields, f)
				}
				sort.Strings(fields)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Value"})
				for _, f := range fields {
					tw.AppendRow(table.Row{f, fmt.Sprintf("%v", result.Snapshot[f])})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&fieldID, "field", "", "field id")
	cmd.Flags().StringVar(&raw, "value", "", "value (JSON literal or bare string)")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func valueListCmd() *cobra.Command {
	var entityID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored values for an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID, err := activeProject(ctx, r, "")
				if err != nil {
					return err
				}
				items, err := r.ListValues(ctx, projectID, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Value", "Updated"})
				for _, sv := range items {
					tw.AppendRow(table.Row{sv.FieldID, fmt.Sprintf("%v", sv.Value), sv.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func validateCmd() *cobra.Command {
	var entityID string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an entity's stored values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID, err := activeProject(ctx, r, "")
				if err != nil {
					return err
				}
				eng, _, err := app.LoadEngine(ctx, r, projectID, limits())
				if err != nil {
					return err
				}
				snap, err := r.Snapshot(ctx, projectID, entityID)
				if err != nil {
					return err
				}
				result := eng.Validate(entityID, snap)
				if viper.GetBool("json") {
					return printJSON(result)
				}
				if !result.Success {
					return fmt.Errorf("validation failed: %s", result.Message)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Severity", "Code", "Message"})
				for _, i := range result.Errors {
					tw.AppendRow(table.Row{i.FieldID, i.Severity, i.Code, i.Message})
				}
				for _, i := range result.Warnings {
					tw.AppendRow(table.Row{i.FieldID, i.Severity, i.Code, i.Message})
				}
				for _, i := range result.Infos {
					tw.AppendRow(table.Row{i.FieldID, i.Severity, i.Code, i.Message})
				}
				tw.Render()
				if result.Blocking {
					return fmt.Errorf("%d blocking violation(s)", len(result.Errors))
				}
				fmt.Println("no blocking violations")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Event log"}
	lc.AddCommand(logTailCmd())
	return lc
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID, err := activeProject(ctx, r, "")
				if err != nil {
					return err
				}
				items, err := r.LatestEvents(ctx, n, 0, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Field", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.FieldID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowAnonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg != nil {
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
			}
			authCfg := server.AuthConfig{
				JWTSecret:      os.Getenv("DOCHELPER_JWT_SECRET"),
				AllowAnonymous: allowAnonymous,
			}
			if authCfg.JWTSecret == "" && !allowAnonymous {
				return fmt.Errorf("DOCHELPER_JWT_SECRET is required for bearer auth (or pass --allow-anonymous)")
			}
			handler, err := server.New(server.Config{
				Repo:     repo.Repo{DB: conn},
				Limits:   configLimits(cfg),
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Doc Helper API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowAnonymous, "allow-anonymous", false, "serve without bearer auth (loopback use only)")
	return cmd
}

// activeProject resolves the working project, preferring an explicit --project
// flag, then the schema's declared project id, then the single project rule.
func activeProject(ctx context.Context, r repo.Repo, declared string) (string, error) {
	override := viper.GetString("project")
	if override == "" {
		override = declared
	}
	return app.ResolveProject(ctx, override, viper.GetString("actor-id"), r)
}

func limits() engine.Limits {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return engine.DefaultLimits()
	}
	return configLimits(cfg)
}

func configLimits(cfg *config.Config) engine.Limits {
	l := engine.DefaultLimits()
	if cfg == nil {
		return l
	}
	if cfg.Engine.MaxExprDepth > 0 {
		l.MaxExprDepth = cfg.Engine.MaxExprDepth
	}
	if cfg.Engine.MaxChainDepth > 0 {
		l.MaxChainDepth = cfg.Engine.MaxChainDepth
	}
	return l
}

// parseValue interprets the flag as a JSON literal and falls back to a plain
// string, so --value 42 is a number and --value drafting is a string.
func parseValue(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printIssues(issues []schemafile.Issue) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Severity", "Code", "Ref", "Message"})
	for _, i := range issues {
		tw.AppendRow(table.Row{i.Severity, i.Code, i.Ref, i.Message})
	}
	tw.Render()
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

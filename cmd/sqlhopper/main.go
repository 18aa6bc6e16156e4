package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sqlhopper/sqlhopper/internal/actions"
	"github.com/sqlhopper/sqlhopper/internal/ad"
	"github.com/sqlhopper/sqlhopper/internal/graphout"
	"github.com/sqlhopper/sqlhopper/internal/mssql"
	"github.com/sqlhopper/sqlhopper/internal/traversal"
)

var (
	version = "1.0.0"

	// Connection options
	serverInstance string
	serverPort     int
	database       string
	userID         string
	password       string
	queryTimeout   int

	// Traversal options
	maxDepth  int
	graphFile string

	// AD options
	domain           string
	domainController string
	ldapUser         string
	ldapPassword     string

	// Action options
	chainSpec string
	queryStmt string
	osCommand string
	enableCmd bool

	// Output options
	verbose bool

	log zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqlhopper",
		Short: "SQLHopper: linked-server chain exploration for SQL Server",
		Long: `SQLHopper: discovers every SQL Server reachable through nested linked-server
hops, switching identities along the way, and executes actions at the end of
a discovered chain.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&serverInstance, "server", "s", "", "SQL Server instance to connect to (host, host:port, or host\\instance)")
	rootCmd.PersistentFlags().IntVar(&serverPort, "port", 1433, "Port when --server carries none")
	rootCmd.PersistentFlags().StringVar(&database, "database", "", "Initial database")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "SQL login username (omit for integrated auth)")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "SQL login password")
	rootCmd.PersistentFlags().IntVar(&queryTimeout, "timeout", 30, "Per-query timeout (seconds)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")

	exploreCmd := &cobra.Command{
		Use:   "explore",
		Short: "Discover every server reachable through linked-server chains",
		RunE:  runExplore,
	}
	exploreCmd.Flags().IntVar(&maxDepth, "max-depth", traversal.DefaultMaxDepth, fmt.Sprintf("Traversal depth bound, 1-%d", traversal.MaxDepthCeiling))
	exploreCmd.Flags().StringVar(&graphFile, "graph-file", "", "Write discovered topology to this JSON graph file")

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run a statement at the end of a discovered chain",
		RunE:  runQuery,
	}
	queryCmd.Flags().StringVar(&chainSpec, "chain", "", "Chain specification from a previous explore run (hop1;hop2/identity)")
	queryCmd.Flags().StringVarP(&queryStmt, "query", "q", "", "Statement to execute")
	queryCmd.MarkFlagRequired("query")

	execCmd := &cobra.Command{
		Use:   "exec",
		Short: "Run an OS command via xp_cmdshell at the end of a discovered chain",
		RunE:  runExec,
	}
	execCmd.Flags().StringVar(&chainSpec, "chain", "", "Chain specification from a previous explore run")
	execCmd.Flags().StringVarP(&osCommand, "command", "c", "", "Command to execute")
	execCmd.Flags().BoolVar(&enableCmd, "enable", false, "Enable xp_cmdshell first and disable it afterwards")
	execCmd.MarkFlagRequired("command")

	spnsCmd := &cobra.Command{
		Use:   "spns",
		Short: "List SQL Server instances registered as SPNs in Active Directory",
		RunE:  runSPNs,
	}
	spnsCmd.Flags().StringVarP(&domain, "domain", "d", "", "Domain to search")
	spnsCmd.Flags().StringVar(&domainController, "dc", "", "Domain controller to bind to")
	spnsCmd.Flags().StringVar(&ldapUser, "ldap-user", "", "LDAP bind user (DOMAIN\\user or user@domain)")
	spnsCmd.Flags().StringVar(&ldapPassword, "ldap-password", "", "LDAP bind password")

	rootCmd.AddCommand(exploreCmd, queryCmd, execCmd, spnsCmd)

	cobra.OnInitialize(func() {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			Level(level).With().Timestamp().Logger()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*mssql.Session, error) {
	if serverInstance == "" {
		return nil, fmt.Errorf("--server is required")
	}
	cfg := &mssql.Config{
		Server:       serverInstance,
		Port:         serverPort,
		Database:     database,
		UserID:       userID,
		Password:     password,
		DialTimeout:  15 * time.Second,
		QueryTimeout: time.Duration(queryTimeout) * time.Second,
	}
	return mssql.Connect(ctx, cfg, log)
}

func runExplore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	explorer, err := traversal.NewExplorer(sess, sess, traversal.Options{MaxDepth: maxDepth}, log)
	if err != nil {
		return err
	}
	mappings, err := explorer.Run(ctx, sess.ServerName())
	if err != nil {
		return err
	}

	printMappings(mappings)

	if graphFile != "" {
		w, err := graphout.NewStreamingWriter(graphFile)
		if err != nil {
			return err
		}
		if err := graphout.WriteMappings(w, mappings); err != nil {
			w.Close()
			return err
		}
		nodes, edges := w.Counts()
		if err := w.Close(); err != nil {
			return err
		}
		log.Info().Str("file", graphFile).Int("nodes", nodes).Int("edges", edges).Msg("wrote topology graph")
	}
	return nil
}

func printMappings(mappings []*traversal.TreeMapping) {
	total := 0
	for _, m := range mappings {
		fmt.Printf("\nLink %s (%d servers reached):\n", m.Link, len(m.Entries))
		for _, p := range m.Paths() {
			fmt.Printf("  %s\n", p.Line)
			fmt.Printf("    chain: %s\n", p.Spec)
		}
		if len(m.Entries) == 0 {
			fmt.Println("  (nothing reachable)")
		}
		total += len(m.Entries)
	}
	fmt.Printf("\n%d servers discovered across %d links\n", total, len(mappings))
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := actions.NewRunner(sess, log).Query(ctx, chainSpec, queryStmt)
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		fmt.Println(strings.Join(row, "\t"))
	}
	return nil
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	output, err := actions.NewRunner(sess, log).ExecCmd(ctx, chainSpec, osCommand, enableCmd)
	if err != nil {
		return err
	}
	for _, line := range output {
		fmt.Println(line)
	}
	return nil
}

func runSPNs(cmd *cobra.Command, args []string) error {
	cfg := &ad.Config{
		Domain:           domain,
		DomainController: domainController,
		User:             ldapUser,
		Password:         ldapPassword,
	}
	spns, err := ad.DiscoverSPNs(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	for _, spn := range spns {
		fmt.Printf("%s\t%s\t%s\n", spn.Target(), spn.AccountName, spn.Raw)
	}
	return nil
}

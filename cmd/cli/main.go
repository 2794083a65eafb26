package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/aliyun/rdsai-cli/db"
	"github.com/aliyun/rdsai-cli/source"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

// Version is set at build time via -ldflags
var Version = "dev"

// CLI holds the REPL state
type CLI struct {
	service     *db.Service
	context     *db.ConnectionContext
	history     []string
	historyFile string
}

func main() {
	host := flag.String("host", "127.0.0.1", "Database server host")
	port := flag.Int("port", 3306, "Database server port")
	user := flag.String("user", "", "Database user")
	password := flag.String("password", "", "Database password (prompted when omitted)")
	database := flag.String("database", "", "Initial database")
	sslCA := flag.String("ssl-ca", "", "Path to TLS CA certificate")
	sslCert := flag.String("ssl-cert", "", "Path to TLS client certificate")
	sslKey := flag.String("ssl-key", "", "Path to TLS client key")
	sslMode := flag.String("ssl-mode", "", "TLS mode (DISABLED, PREFERRED, REQUIRED, VERIFY_CA, VERIFY_IDENTITY)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rdsai v%s\n", Version)
		return
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	printBanner()

	var ctx *db.ConnectionContext
	if args := flag.Args(); len(args) > 0 {
		// Positional arguments are data-source URLs or local files for the
		// embedded engine.
		urls, err := normalizeSourceArgs(args)
		if err != nil {
			fmt.Printf("%sError: %v%s\n", ErrorColor, err, ResetColor)
			os.Exit(1)
		}
		ctx = db.CreateDataSourceContext(urls, logger)
	} else {
		cfg := db.ConnectionConfig{
			Engine:   db.EngineMySQL,
			Host:     *host,
			Port:     *port,
			User:     *user,
			Database: *database,
			SSL:      sslOptions(*sslCA, *sslCert, *sslKey, *sslMode),
		}
		if *password != "" {
			cfg.Password = password
		}
		ctx = db.CreateConnectionContext(cfg, logger, promptPassword)
	}

	if !ctx.Connected() {
		fmt.Printf("%sError: %v%s\n", ErrorColor, ctx.Err, ResetColor)
		os.Exit(1)
	}

	fmt.Printf("%sConnected: %s%s\n", SuccessColor, ctx.DisplayName, ResetColor)
	for _, load := range ctx.LoadResults {
		fmt.Printf("%s  loaded %s as table %s (%d rows, %d columns)%s\n",
			SuccessColor, load.URL, load.Table, load.Rows, load.Columns, ResetColor)
	}

	cli := &CLI{
		service:     ctx.Service,
		context:     ctx,
		history:     make([]string, 0),
		historyFile: getHistoryPath(),
	}

	// Scripts echo each statement result as they run.
	cli.service.SetSourceDisplayCallback(func(sql string, result db.QueryResult, vertical bool) {
		fmt.Printf("%s> %s%s\n", PromptColor, truncate(sql, 60), ResetColor)
		cli.displayResult(result, vertical)
	})

	cli.loadHistory()
	cli.run()
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%s%srdsai v%s — SQL shell for MySQL-compatible and embedded engines%s\n",
		BoldColor, PromptColor, Version, ResetColor)
	fmt.Println("Type .help for commands, .quit to exit")
	fmt.Println()
}

// promptPassword reads a password without echo.
func promptPassword() (string, error) {
	fmt.Print("Enter password: ")
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("%w: %v", db.ErrPromptCancelled, err)
	}
	return string(data), nil
}

func sslOptions(ca, cert, key, mode string) map[string]string {
	opts := make(map[string]string)
	if ca != "" {
		opts["ssl_ca"] = ca
	}
	if cert != "" {
		opts["ssl_cert"] = cert
	}
	if key != "" {
		opts["ssl_key"] = key
	}
	if mode != "" {
		opts["ssl_mode"] = mode
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// normalizeSourceArgs turns positional arguments into data-source URLs,
// resolving bare filenames and local paths against the working directory.
func normalizeSourceArgs(args []string) ([]string, error) {
	urls := make([]string, 0, len(args))
	for _, arg := range args {
		if source.HasProtocol(arg) {
			urls = append(urls, arg)
			continue
		}
		if source.IsLocalFilePath(arg) {
			normalized, err := source.NormalizeLocalPath(arg)
			if err != nil {
				return nil, err
			}
			urls = append(urls, normalized)
			continue
		}
		return nil, fmt.Errorf("not a data source: %q", arg)
	}
	return urls, nil
}

func (cli *CLI) run() {
	reader := bufio.NewReader(os.Stdin)
	var multiLineBuffer strings.Builder

	for {
		prompt := cli.getPrompt(multiLineBuffer.Len() > 0)
		fmt.Print(prompt)

		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("\n%sGoodbye!%s\n", SuccessColor, ResetColor)
			cli.shutdown()
			return
		}

		input = strings.TrimSuffix(input, "\n")
		input = strings.TrimSuffix(input, "\r")

		if strings.TrimSpace(input) == "" {
			continue
		}

		if multiLineBuffer.Len() == 0 {
			if strings.HasPrefix(input, ".") && cli.handleCommand(input) {
				continue
			}
			// SOURCE runs without a terminator, mysql-shell style.
			if isSourceLine(input) {
				cli.addToHistory(input)
				cli.execute(input)
				continue
			}
		}

		multiLineBuffer.WriteString(input)

		// A statement is complete at ; or a \G display directive.
		trimmed := strings.TrimSpace(multiLineBuffer.String())
		if !strings.HasSuffix(trimmed, ";") && !db.HasVerticalDirective(trimmed) {
			multiLineBuffer.WriteString("\n")
			continue
		}
		multiLineBuffer.Reset()

		cli.addToHistory(trimmed)
		cli.execute(trimmed)
	}
}

func isSourceLine(input string) bool {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, `\.`) {
		return true
	}
	return db.ClassifyQuery(trimmed) == db.QuerySource
}

// execute runs one complete statement and renders its result.
func (cli *CLI) execute(sql string) {
	if strings.HasPrefix(strings.TrimSpace(sql), `\.`) {
		sql = "source " + strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sql), `\.`))
	}

	vertical := db.HasVerticalDirective(sql)
	result, err := cli.service.ExecuteQuery(sql)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	cli.context.History.Record(sql, result)
	cli.displayResult(result, vertical)
}

func (cli *CLI) displayResult(result db.QueryResult, vertical bool) {
	if !result.Success {
		fmt.Printf("%s✗ %s%s\n", ErrorColor, result.Error, ResetColor)
		return
	}
	if result.QueryType == db.QuerySource && result.Error != "" {
		// Successful empty script carries an informational message.
		fmt.Println(result.Error)
		return
	}

	if result.Columns != nil {
		if vertical {
			db.RenderVertical(os.Stdout, result.Columns, result.Rows)
		} else {
			db.RenderTable(os.Stdout, result.Columns, result.Rows)
		}
		fmt.Printf("%d rows (%s)\n", result.RowCount(), result.ExecutionTime())
		return
	}

	if result.AffectedRows >= 0 {
		fmt.Printf("%sQuery OK, %d row(s) affected (%s)%s\n",
			SuccessColor, result.AffectedRows, result.ExecutionTime(), ResetColor)
		return
	}
	fmt.Printf("%sQuery OK (%s)%s\n", SuccessColor, result.ExecutionTime(), ResetColor)
}

func (cli *CLI) getPrompt(multiLine bool) string {
	if multiLine {
		return fmt.Sprintf("%s   ...>%s ", PromptColor, ResetColor)
	}

	dbPart := ""
	if current := cli.service.CurrentDatabase(); current != "" {
		dbPart = fmt.Sprintf(" (%s)", current)
	}
	return fmt.Sprintf("%srdsai%s>%s ", PromptColor, dbPart, ResetColor)
}

func (cli *CLI) handleCommand(input string) bool {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		fmt.Printf("%sGoodbye!%s\n", SuccessColor, ResetColor)
		cli.shutdown()
		os.Exit(0)

	case ".help", ".h", ".?":
		cli.printHelp()

	case ".tables":
		tables := cli.service.ListTables()
		if len(tables) == 0 {
			fmt.Println("No tables")
			return true
		}
		for _, t := range tables {
			fmt.Printf("  %s\n", t)
		}

	case ".databases", ".dbs":
		databases, err := cli.service.ListDatabases()
		if err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			return true
		}
		for _, d := range databases {
			fmt.Printf("  %s\n", d)
		}

	case ".use":
		if len(parts) < 2 {
			fmt.Printf("%s✗ Usage: .use <database>%s\n", ErrorColor, ResetColor)
			return true
		}
		if err := cli.service.ChangeDatabase(parts[1]); err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			return true
		}
		fmt.Printf("%s✓ Using database: %s%s\n", SuccessColor, parts[1], ResetColor)

	case ".status":
		for key, value := range cli.service.ConnectionInfo() {
			fmt.Printf("  %-18s %v\n", key, value)
		}

	case ".reconnect":
		if _, err := cli.service.Reconnect(); err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			return true
		}
		fmt.Printf("%s✓ Reconnected%s\n", SuccessColor, ResetColor)

	case ".clear", ".cls":
		fmt.Print("\033[H\033[2J")

	case ".history":
		cli.printHistory()

	case ".version":
		fmt.Printf("rdsai version %s\n", Version)

	default:
		fmt.Printf("%s✗ Unknown command: %s (type .help for commands)%s\n", ErrorColor, parts[0], ResetColor)
	}

	return true
}

func (cli *CLI) printHelp() {
	fmt.Println()
	fmt.Printf("%s%sSpecial Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println("  .help, .h        Show this help message")
	fmt.Println("  .quit, .exit     Exit the shell")
	fmt.Println("  .databases       List databases")
	fmt.Println("  .tables          List tables in the current database")
	fmt.Println("  .use <db>        Switch the current database")
	fmt.Println("  .status          Show connection info")
	fmt.Println("  .reconnect       Re-establish the connection")
	fmt.Println("  .history         Show command history")
	fmt.Println("  .clear           Clear the screen")
	fmt.Println("  .version         Show version info")
	fmt.Println()
	fmt.Printf("%s%sSQL:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println("  Statements end with ; and may span lines.")
	fmt.Println("  Append \\G instead of ; for vertical output.")
	fmt.Println("  source <file>    Run a SQL script (also: \\. <file>)")
	fmt.Println()
}

func (cli *CLI) addToHistory(cmd string) {
	if len(cli.history) > 0 && cli.history[len(cli.history)-1] == cmd {
		return
	}
	cli.history = append(cli.history, cmd)
	if len(cli.history) > 1000 {
		cli.history = cli.history[len(cli.history)-1000:]
	}
}

func (cli *CLI) printHistory() {
	if len(cli.history) == 0 {
		fmt.Println("No command history")
		return
	}
	start := 0
	if len(cli.history) > 20 {
		start = len(cli.history) - 20
	}
	for i := start; i < len(cli.history); i++ {
		fmt.Printf("  %3d  %s\n", i+1, cli.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rdsai_history")
}

func (cli *CLI) loadHistory() {
	if cli.historyFile == "" {
		return
	}
	file, err := os.Open(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		cli.history = append(cli.history, scanner.Text())
	}
}

func (cli *CLI) saveHistory() {
	if cli.historyFile == "" {
		return
	}
	file, err := os.Create(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	start := 0
	if len(cli.history) > 1000 {
		start = len(cli.history) - 1000
	}
	for i := start; i < len(cli.history); i++ {
		_, _ = file.WriteString(cli.history[i] + "\n")
	}
}

func (cli *CLI) shutdown() {
	cli.saveHistory()
	cli.service.Disconnect()
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

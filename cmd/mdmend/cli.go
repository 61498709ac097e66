package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okzhou/mdmend/internal/chat"
	"github.com/okzhou/mdmend/internal/config"
	"github.com/okzhou/mdmend/internal/db"
	"github.com/okzhou/mdmend/internal/errors"
	"github.com/okzhou/mdmend/internal/filter"
	"github.com/okzhou/mdmend/internal/markdown"
	"github.com/okzhou/mdmend/internal/mcp"
	"github.com/okzhou/mdmend/internal/stream"
	"github.com/okzhou/mdmend/internal/upstream"
	"github.com/okzhou/mdmend/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "mdmend",
		Usage:   "Streaming markdown repair and chat relay",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(database, cfg),
			mcpCmd(database, cfg),
			repairCmd(cfg),
			chatCmd(database, cfg),
			historyCmd(database, cfg),
			rulesCmd(database, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// buildService wires the store, filter, and upstream client into a chat service.
func buildService(database *sql.DB, cfg *config.Config) (*chat.Service, *filter.Filter) {
	cache := filter.NewCache(filter.LoaderFunc(func(_ context.Context) ([]filter.Rule, error) {
		return db.ListActiveRules(database)
	}), time.Duration(cfg.FilterTTLSeconds)*time.Second)
	flt := filter.New(cache, cfg.FilterOn())

	store := chat.NewStore(database)
	client := upstream.NewClient(cfg.Upstream)
	return chat.NewService(store, cfg, flt, client), flt
}

// serveCmd creates the serve command.
func serveCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server with SSE streaming endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Usage: "Bind address (overrides config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			if bind := c.String("bind"); bind != "" {
				cfg.Bind = bind
			}
			if port := c.Int("port"); port != 0 {
				cfg.Port = port
			}

			svc, _ := buildService(database, cfg)
			srv := web.NewServer(svc, cfg, Version)
			fmt.Fprintf(os.Stderr, "mdmend %s listening on %s\n", Version, srv.Addr)
			return web.Run(srv)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server over stdio",
		Action: func(_ *cli.Context) error {
			svc, flt := buildService(database, cfg)
			return mcp.Run(svc, flt, Version)
		},
	}
}

// repairCmd creates the repair command.
func repairCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Repair markdown text from stdin and print the result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Legacy break handling: space|list (defaults to config)"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("text must be piped via stdin"))
			}
			text, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			modeStr := c.String("mode")
			if modeStr == "" {
				modeStr = cfg.BreakMode
			}
			mode := markdown.ParseBreakMode(modeStr)

			fmt.Println(markdown.RepairMode(text, mode))
			return nil
		},
	}
}

// chatCmd creates the chat command.
func chatCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send a message and print the repaired reply (reads message from stdin or args)",
		ArgsUsage: "[message]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Usage: "Existing conversation ID (omit to start a new one)"},
			&cli.StringFlag{Name: "system", Aliases: []string{"s"}, Usage: "Pinned system prompt for a new conversation"},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Title for a new conversation"},
		},
		Action: func(c *cli.Context) error {
			message := c.Args().First()
			if message == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				message = text
			}
			if message == "" {
				return outputError(errors.NewInvalidRequest("message is required"))
			}

			svc, _ := buildService(database, cfg)

			if id := c.String("conversation"); id != "" {
				reply, err := svc.Send(c.Context, id, message, stream.Discard)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(map[string]string{"conversation_id": id, "reply": reply})
			}

			id, reply, err := svc.Start(c.Context, chat.StartInput{
				Title:   c.String("title"),
				System:  c.String("system"),
				Message: message,
			}, stream.Discard)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]string{"conversation_id": id, "reply": reply})
		},
	}
}

// historyCmd creates the history command.
func historyCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print one page of a conversation's messages",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Value: 1, Usage: "Page number"},
			&cli.IntFlag{Name: "size", Usage: "Messages per page (defaults to config)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("conversation-id is required"))
			}

			svc, _ := buildService(database, cfg)
			page, err := svc.History(c.Args().First(), c.Int("page"), c.Int("size"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(page)
		},
	}
}

// rulesCmd creates the rules command group.
func rulesCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Manage content-filter rules",
		Subcommands: []*cli.Command{
			rulesListCmd(database),
			rulesAddCmd(database),
			rulesEnableCmd(database),
			rulesDisableCmd(database),
			rulesTestCmd(database, cfg),
		},
	}
}

// rulesListCmd lists all rules including disabled ones.
func rulesListCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all filter rules",
		Action: func(_ *cli.Context) error {
			rules, err := db.ListRules(database)
			if err != nil {
				return outputError(err)
			}
			type ruleRow struct {
				ID          int64  `json:"id"`
				Pattern     string `json:"pattern"`
				Replacement string `json:"replacement"`
				IsRegex     bool   `json:"is_regex"`
				Priority    int    `json:"priority"`
				Enabled     bool   `json:"enabled"`
			}
			rows := make([]ruleRow, 0, len(rules))
			for _, r := range rules {
				rows = append(rows, ruleRow{
					ID:          r.ID,
					Pattern:     r.Pattern,
					Replacement: r.Replacement,
					IsRegex:     r.IsRegex,
					Priority:    r.Priority,
					Enabled:     r.Status == 1,
				})
			}
			return outputJSON(rows)
		},
	}
}

// rulesAddCmd inserts a new rule.
func rulesAddCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add a filter rule",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Aliases: []string{"p"}, Required: true, Usage: "Literal text or regular expression to match"},
			&cli.StringFlag{Name: "replacement", Aliases: []string{"r"}, Usage: "Replacement text (may be empty)"},
			&cli.BoolFlag{Name: "regex", Usage: "Treat pattern as a regular expression"},
			&cli.IntFlag{Name: "priority", Value: 0, Usage: "Higher priority rules apply first"},
			&cli.BoolFlag{Name: "disabled", Usage: "Insert the rule disabled"},
		},
		Action: func(c *cli.Context) error {
			pattern := c.String("pattern")
			if c.Bool("regex") {
				if _, err := regexp.Compile(pattern); err != nil {
					return outputError(errors.NewRuleInvalid(pattern, err))
				}
			}

			status := 1
			if c.Bool("disabled") {
				status = 0
			}
			rule := &db.StoredRule{
				Pattern:     pattern,
				Replacement: c.String("replacement"),
				IsRegex:     c.Bool("regex"),
				Priority:    c.Int("priority"),
				Status:      status,
			}
			if err := db.InsertRule(database, rule); err != nil {
				if err == db.ErrUniqueConstraint {
					return outputError(errors.NewConflict(fmt.Sprintf("rule with pattern %q already exists", pattern)))
				}
				return outputError(err)
			}
			return outputJSON(map[string]any{"id": rule.ID, "created": true})
		},
	}
}

// rulesEnableCmd enables a rule by ID.
func rulesEnableCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "enable",
		Usage:     "Enable a filter rule",
		ArgsUsage: "<id>",
		Action:    ruleStatusAction(database, 1),
	}
}

// rulesDisableCmd disables a rule by ID.
func rulesDisableCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "disable",
		Usage:     "Disable a filter rule",
		ArgsUsage: "<id>",
		Action:    ruleStatusAction(database, 0),
	}
}

// ruleStatusAction builds an enable/disable action for the given status.
func ruleStatusAction(database *sql.DB, status int) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return outputError(errors.NewInvalidRequest("rule id is required"))
		}
		id, err := strconv.ParseInt(c.Args().First(), 10, 64)
		if err != nil {
			return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid rule id: %s", c.Args().First())))
		}
		if err := db.SetRuleStatus(database, id, status); err != nil {
			return outputError(err)
		}
		return outputJSON(map[string]any{"id": id, "enabled": status == 1})
	}
}

// rulesTestCmd applies the active rule set to stdin text.
func rulesTestCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "Apply the active rule set to text from stdin and print the result",
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("text must be piped via stdin"))
			}
			text, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			_, flt := buildService(database, cfg)
			out, err := flt.Apply(c.Context, text)
			if err != nil {
				return outputError(err)
			}
			fmt.Println(out)
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if e, ok := err.(*errors.Error); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", e.Code, e.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ABOUTME: Admin CLI for the chatvault encrypted conversation store
// ABOUTME: Manages conversations, messages, and personas; runs search, backup, and index rebuild

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/chatvault/internal/config"
	"github.com/2389/chatvault/internal/store"
)

const banner = `
       _           _                    _ _
   ___| |__   __ _| |___   ____ _ _   _| | |_
  / __| '_ \ / _' | __\ \ / / _' | | | | | __|
 | (__| | | | (_| | |_ \ V / (_| | |_| | | |_
  \___|_| |_|\__,_|\__| \_/ \__,_|\__,_|_|\__|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	s, err := openStore()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	switch cmd {
	case "conversations", "conv":
		err = cmdConversations(s, args)
	case "messages", "msg":
		err = cmdMessages(s, args)
	case "personas":
		err = cmdPersonas(s, args)
	case "search":
		err = cmdSearch(s, args)
	case "backup":
		err = cmdBackup(s, args)
	case "rebuild-index":
		err = cmdRebuildIndex(s)
	case "stats":
		err = cmdStats(s)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: chatvault <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  conversations list [--all]       List conversations")
	fmt.Println("  conversations show <id>          Show a conversation and its messages")
	fmt.Println("  conversations create <title>     Create a conversation")
	fmt.Println("  conversations archive <id>       Archive a conversation")
	fmt.Println("  conversations unarchive <id>     Restore an archived conversation")
	fmt.Println("  conversations delete <id>        Delete a conversation and its messages")
	fmt.Println("  messages add <conv-id> <role> <content>")
	fmt.Println("                                   Append a message")
	fmt.Println("  messages list <conv-id>          List a conversation's messages")
	fmt.Println("  personas list [--all]            List personas")
	fmt.Println("  personas create <name>           Create a persona")
	fmt.Println("  search <query>                   Full-text search titles and contents")
	fmt.Println("  backup <dest-path>               Write an encrypted snapshot")
	fmt.Println("  rebuild-index                    Rebuild the full-text index")
	fmt.Println("  stats                            Show store row counts")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  CHATVAULT_CONFIG   Config file path (default ./config.yaml,")
	fmt.Println("                     then ~/.config/chatvault/config.yaml)")
	fmt.Println("  CHATVAULT_KEY      Encryption key, referenced from the config file")
	fmt.Println()
}

// openStore loads config and opens the store. The config path comes from
// CHATVAULT_CONFIG, falling back to conventional locations.
func openStore() (*store.Store, error) {
	path := os.Getenv("CHATVAULT_CONFIG")
	if path == "" {
		for _, candidate := range configCandidates() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil, fmt.Errorf("no config file found (set CHATVAULT_CONFIG)")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.StoreConfig())
}

func configCandidates() []string {
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chatvault", "config.yaml"))
	}
	return candidates
}

func cmdConversations(s *store.Store, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdConversationsList(s, args)
	case "show":
		return cmdConversationsShow(s, args)
	case "create", "add":
		return cmdConversationsCreate(s, args)
	case "archive":
		return cmdConversationsArchive(s, args, true)
	case "unarchive":
		return cmdConversationsArchive(s, args, false)
	case "delete", "rm":
		return cmdConversationsDelete(s, args)
	default:
		return fmt.Errorf("unknown conversations subcommand: %s", subcmd)
	}
}

func cmdConversationsList(s *store.Store, args []string) error {
	ctx := context.Background()

	page, err := s.Conversations.List(ctx, store.ListConversations{
		IncludeArchived: hasFlag(args, "--all"),
		Limit:           100,
	})
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Conversations")
	cyan.Println("  -------------")

	if len(page.Items) == 0 {
		fmt.Println("  (no conversations)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tMSGS\tTOKENS\tARCHIVED\tUPDATED")
	fmt.Fprintln(w, "  --\t-----\t----\t------\t--------\t-------")
	for _, c := range page.Items {
		archived := ""
		if c.Archived {
			archived = "yes"
		}
		fmt.Fprintf(w, "  %d\t%s\t%d\t%d\t%s\t%s\n",
			c.ID, truncate(c.Title, 40), c.MessageCount, c.TotalTokens,
			archived, c.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush()
	fmt.Printf("\n  %d of %d shown\n\n", len(page.Items), page.TotalCount)
	return nil
}

func cmdConversationsShow(s *store.Store, args []string) error {
	id, err := parseID(args, "conversation id")
	if err != nil {
		return err
	}
	ctx := context.Background()

	conv, err := s.Conversations.FindByID(ctx, id)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  %s\n", conv.Title)
	fmt.Printf("  uuid: %s\n", conv.UUID)
	if len(conv.Tags) > 0 {
		fmt.Printf("  tags: %s\n", strings.Join(conv.Tags, ", "))
	}
	fmt.Printf("  messages: %d  tokens: %d  archived: %t\n",
		conv.MessageCount, conv.TotalTokens, conv.Archived)
	fmt.Println()

	page, err := s.Messages.List(ctx, store.ListMessages{ConversationID: id, Limit: 1000})
	if err != nil {
		return err
	}
	for _, m := range page.Items {
		role := color.New(color.FgYellow)
		if m.Role == store.RoleAssistant {
			role = color.New(color.FgGreen)
		}
		role.Printf("  [%s]", m.Role)
		fmt.Printf(" %s\n", m.Content)
	}
	fmt.Println()
	return nil
}

func cmdConversationsCreate(s *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: conversations create <title>")
	}

	conv, err := s.Conversations.Create(context.Background(), store.NewConversation{
		Title: strings.Join(args, " "),
	})
	if err != nil {
		return err
	}
	color.Green("Created conversation %d (%s)\n", conv.ID, conv.UUID)
	return nil
}

func cmdConversationsArchive(s *store.Store, args []string, archived bool) error {
	id, err := parseID(args, "conversation id")
	if err != nil {
		return err
	}
	if err := s.Conversations.SetArchived(context.Background(), id, archived); err != nil {
		return err
	}
	if archived {
		color.Green("Archived conversation %d\n", id)
	} else {
		color.Green("Restored conversation %d\n", id)
	}
	return nil
}

func cmdConversationsDelete(s *store.Store, args []string) error {
	id, err := parseID(args, "conversation id")
	if err != nil {
		return err
	}
	if err := s.Conversations.Delete(context.Background(), id); err != nil {
		return err
	}
	color.Green("Deleted conversation %d\n", id)
	return nil
}

func cmdMessages(s *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: messages <add|list> ...")
	}
	subcmd := args[0]
	args = args[1:]

	switch subcmd {
	case "add":
		return cmdMessagesAdd(s, args)
	case "list", "ls":
		return cmdMessagesList(s, args)
	default:
		return fmt.Errorf("unknown messages subcommand: %s", subcmd)
	}
}

func cmdMessagesAdd(s *store.Store, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: messages add <conv-id> <role> <content>")
	}
	convID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q", args[0])
	}

	msg, err := s.Messages.Create(context.Background(), store.NewMessage{
		ConversationID: convID,
		Role:           store.Role(args[1]),
		Content:        strings.Join(args[2:], " "),
	})
	if err != nil {
		return err
	}
	color.Green("Added message %d to conversation %d\n", msg.ID, convID)
	return nil
}

func cmdMessagesList(s *store.Store, args []string) error {
	convID, err := parseID(args, "conversation id")
	if err != nil {
		return err
	}

	page, err := s.Messages.List(context.Background(), store.ListMessages{
		ConversationID: convID,
		Limit:          1000,
	})
	if err != nil {
		return err
	}

	if len(page.Items) == 0 {
		fmt.Println("(no messages)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tTOKENS\tCONTENT")
	for _, m := range page.Items {
		tokens := "-"
		if m.TokenCount != nil {
			tokens = strconv.Itoa(*m.TokenCount)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.ID, m.Role, tokens, truncate(m.Content, 60))
	}
	w.Flush()
	return nil
}

func cmdPersonas(s *store.Store, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdPersonasList(s, args)
	case "create", "add":
		return cmdPersonasCreate(s, args)
	default:
		return fmt.Errorf("unknown personas subcommand: %s", subcmd)
	}
}

func cmdPersonasList(s *store.Store, args []string) error {
	page, err := s.Personas.List(context.Background(), store.ListPersonas{
		ActiveOnly: !hasFlag(args, "--all"),
		Limit:      100,
	})
	if err != nil {
		return err
	}

	if len(page.Items) == 0 {
		fmt.Println("(no personas)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tDESCRIPTION")
	for _, p := range page.Items {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", p.ID, p.Name, p.Active, truncate(p.Description, 50))
	}
	w.Flush()
	return nil
}

func cmdPersonasCreate(s *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: personas create <name>")
	}

	persona, err := s.Personas.Create(context.Background(), store.NewPersona{
		Name: strings.Join(args, " "),
	})
	if err != nil {
		return err
	}
	color.Green("Created persona %d (%s)\n", persona.ID, persona.Name)
	return nil
}

func cmdSearch(s *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: search <query>")
	}

	var terms []string
	includeArchived := false
	for _, a := range args {
		if a == "--all" {
			includeArchived = true
			continue
		}
		terms = append(terms, a)
	}

	results, err := s.Search(context.Background(), strings.Join(terms, " "), store.SearchFilters{
		IncludeArchived: includeArchived,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("(no results)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCONV\tTITLE\tSNIPPET")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			r.Kind, r.ConversationID, truncate(r.Title, 30), stripMarkup(r.Snippet))
	}
	w.Flush()
	return nil
}

func cmdBackup(s *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: backup <dest-path>")
	}

	if err := s.Backup(context.Background(), args[0]); err != nil {
		return err
	}
	color.Green("Backup written to %s\n", args[0])
	return nil
}

func cmdRebuildIndex(s *store.Store) error {
	if err := s.RebuildIndex(context.Background()); err != nil {
		return err
	}
	color.Green("Search index rebuilt\n")
	return nil
}

func cmdStats(s *store.Store) error {
	stats, err := s.Stats(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Conversations\t%d\n", stats.Conversations)
	fmt.Fprintf(w, "Messages\t%d\n", stats.Messages)
	fmt.Fprintf(w, "Personas\t%d\n", stats.Personas)
	w.Flush()
	return nil
}

func parseID(args []string, what string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s is required", what)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, args[0])
	}
	return id, nil
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func stripMarkup(s string) string {
	s = strings.ReplaceAll(s, "<b>", "")
	s = strings.ReplaceAll(s, "</b>", "")
	return strings.ReplaceAll(s, "\n", " ")
}

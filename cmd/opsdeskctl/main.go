// Command opsdeskctl is the management CLI for a running opsdeskd.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "chat":
		cmdChat(os.Args[2:])
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: opsdeskctl tickets <list|show|new>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: opsdeskctl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		case "new":
			cmdTicketsNew(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "alerts":
		cmdAlerts()
	case "kb":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: opsdeskctl kb <list|add>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdKBList()
		case "add":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: opsdeskctl kb add <file>")
				os.Exit(1)
			}
			cmdKBAdd(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown kb subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: opsdeskctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- chat command ---

func cmdChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	sessionID := fs.String("session", "", "Resume an existing session ID")
	fs.Parse(args)

	fmt.Println("opsdeskctl chat (type 'quit' to exit, '/new' to start over)")

	session := *sessionID
	action := "start"
	message := ""
	if session != "" {
		// Resuming: wait for the user's first line instead of greeting.
		action = ""
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if action != "start" {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				break
			}
			if line == "/new" {
				action = "reset"
				message = ""
			} else {
				action = "continue"
				message = line
			}
		}

		body, err := apiPost("/api/chat", map[string]any{
			"session_id": session,
			"message":    message,
			"action":     action,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			if action == "start" {
				os.Exit(1)
			}
			action = ""
			continue
		}

		var resp struct {
			SessionID     string `json:"session_id"`
			TicketCreated bool   `json:"ticket_created"`
			TicketID      string `json:"ticket_id"`
			Turns         []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"turns"`
		}
		json.Unmarshal(body, &resp)
		session = resp.SessionID

		if n := len(resp.Turns); n > 0 && resp.Turns[n-1].Role == "assistant" {
			fmt.Println(resp.Turns[n-1].Content)
		}
		if resp.TicketCreated {
			fmt.Printf("[ticket %s]\n", resp.TicketID)
		}
		fmt.Println()
		action = ""
	}
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (open|in_progress|suppressed|resolved|closed)")
	intent := fs.String("intent", "", "Filter by intent")
	assignee := fs.String("assignee", "", "Filter by assignee")
	query := fs.String("q", "", "Substring match on description")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	qs := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		qs += "&status=" + *status
	}
	if *intent != "" {
		qs += "&intent=" + *intent
	}
	if *assignee != "" {
		qs += "&assignee=" + *assignee
	}
	if *query != "" {
		qs += "&q=" + *query
	}

	body, err := apiGet("/api/tickets" + qs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		fmt.Printf("%-12s %-12s %-16s %s\n", t["id"], t["status"], t["assignee"], t["description"])
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsNew(args []string) {
	fs := flag.NewFlagSet("tickets new", flag.ExitOnError)
	description := fs.String("description", "", "Ticket description (required)")
	intent := fs.String("intent", "", "Intent (incident|provisioning|alert_silence|info)")
	alertRef := fs.String("alert", "", "Alert reference for suppression requests")
	application := fs.String("app", "", "Affected application")
	fs.Parse(args)

	if *description == "" {
		fmt.Fprintln(os.Stderr, "error: --description is required")
		os.Exit(1)
	}

	payload := map[string]any{"description": *description}
	if *intent != "" {
		payload["intent"] = *intent
	}
	if *alertRef != "" {
		payload["alert_ref"] = *alertRef
	}
	if *application != "" {
		payload["application"] = *application
	}

	body, err := apiPost("/api/tickets", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdAlerts() {
	body, err := apiGet("/api/alerts")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var alerts []map[string]any
	json.Unmarshal(body, &alerts)
	for _, a := range alerts {
		fmt.Printf("%-8s %-32s %s\n", a["id"], a["name"], a["status"])
	}
}

func cmdKBList() {
	body, err := apiGet("/api/kb/documents")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var docs []map[string]any
	json.Unmarshal(body, &docs)
	for _, d := range docs {
		fmt.Printf("%-30s %v chunks\n", d["filename"], d["chunk_count"])
	}
}

func cmdKBAdd(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	body, err := apiPost("/api/kb/documents", map[string]any{
		"filename": filepath.Base(path),
		"content":  string(data),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	qs := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		qs += "&level=" + *level
	}

	body, err := apiGet("/api/logs" + qs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%s %-5s %s\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", apiBase()+path, nil)
	if err != nil {
		return nil, err
	}
	return doRequest(req)
}

func apiPost(path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", apiBase()+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req)
}

func doRequest(req *http.Request) ([]byte, error) {
	if key := os.Getenv("OPSDESK_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func apiBase() string {
	return envOr("OPSDESK_API_URL", "http://localhost:8080")
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("opsdeskctl — helpdesk management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat                 Interactive helpdesk conversation (--session to resume)")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  tickets list         List tickets (--status, --intent, --assignee, --q, --limit)")
	fmt.Println("  tickets show <id>    Show ticket details")
	fmt.Println("  tickets new          File a ticket directly (--description, --intent, --alert, --app)")
	fmt.Println("  alerts               List monitored alerts")
	fmt.Println("  kb list              List knowledge-base documents")
	fmt.Println("  kb add <file>        Upload a document to the knowledge base")
	fmt.Println("  logs                 Tail daemon logs (--level, --limit)")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  OPSDESK_API_URL    Daemon URL (default: http://localhost:8080)")
	fmt.Println("  OPSDESK_API_KEY    API key for authentication")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/paperlens/paperlens/internal/api"
	"github.com/paperlens/paperlens/internal/app"
	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/config"
	"github.com/paperlens/paperlens/internal/papers"
	"github.com/paperlens/paperlens/internal/storage"
)

// withSession opens a session for the duration of fn.
func withSession(fn func(s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResults(w io.Writer, results []backend.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s %s  %s\n",
			colorize(colorBold, fmt.Sprintf("%2d.", i+1)),
			colorize(colorCyan, r.ID),
			truncate(title, 100),
		)
		if u := papers.PDFURL(r.DownloadURL); u != "" {
			fmt.Fprintf(w, "    %s\n", colorize(colorDim, u))
		}
	}
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search papers by text",
	Long: `Search papers by text. Results are cached locally until the next
search; "open", "notes generate" and "chat open" take an id from them.

Examples:
  paperlens search graph neural networks
  paperlens search --json "retrieval augmented generation"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withSession(func(s *session) error {
			results, err := s.app.Search(cmd.Context(), query)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().Bool("json", false, "print raw results as JSON")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a PDF or image and find related papers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		return withSession(func(s *session) error {
			printStep("Uploading %s...", filepath.Base(args[0]))
			results, err := s.app.Upload(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		})
	},
}

// --- open ---

var openCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Show a search result and its PDF link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			r, pdfURL, err := s.app.Open(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s\n", colorize(colorBold, r.Title))
			if r.CollectionName != "" {
				fmt.Fprintf(w, "  Collection: %s\n", r.CollectionName)
			}
			fmt.Fprintf(w, "  PDF: %s\n", pdfURL)
			fmt.Fprintf(w, "  Viewer: %s/api/pdf?url=%s\n", proxyURL(s.cfg), url.QueryEscape(pdfURL))
			return nil
		})
	},
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Generate and manage paper notes",
}

var notesGenerateCmd = &cobra.Command{
	Use:   "generate <id>",
	Short: "Generate notes for a paper and wait for them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetBool("resume")

		return withSession(func(s *session) error {
			printStep("Generating notes for %s...", args[0])
			note, err := s.app.GenerateNotes(cmd.Context(), args[0], resume)
			if err != nil {
				return err
			}
			printSuccess("Notes ready: %s", note.Title)
			fmt.Fprintln(cmd.OutOrStdout(), note.Content)
			return nil
		})
	},
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List papers with notes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			list, err := s.app.Notes()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No notes yet.")
				return nil
			}
			for _, n := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
					colorize(colorCyan, n.ID),
					formatTime(n.CreatedAt),
					truncate(n.Title, 80),
				)
			}
			return nil
		})
	},
}

var notesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print stored notes as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			data, err := s.app.ExportNote(args[0], app.FormatMarkdown)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete stored notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			if err := s.app.DeleteNote(args[0]); err != nil {
				return err
			}
			printSuccess("Deleted notes for %s", args[0])
			return nil
		})
	},
}

var notesExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export notes as markdown, HTML or PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		return withSession(func(s *session) error {
			data, err := s.app.ExportNote(args[0], format)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			printSuccess("Notes exported to %s", output)
			return nil
		})
	},
}

func init() {
	notesGenerateCmd.Flags().Bool("resume", false, "resume an unfinished notes job instead of starting a new one")
	notesExportCmd.Flags().String("format", app.FormatMarkdown, "export format: md, html or pdf")
	notesExportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	notesCmd.AddCommand(notesGenerateCmd)
	notesCmd.AddCommand(notesListCmd)
	notesCmd.AddCommand(notesShowCmd)
	notesCmd.AddCommand(notesDeleteCmd)
	notesCmd.AddCommand(notesExportCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a paper",
}

func printTranscript(w io.Writer, msgs []app.Message) {
	for _, m := range msgs {
		label := colorize(colorBold+colorCyan, "you")
		if m.Role == app.RoleAssistant {
			label = colorize(colorBold+colorGreen, "paper")
		}
		fmt.Fprintf(w, "%s: %s\n", label, m.Content)
	}
}

var chatOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Start or resume a chat session for a paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		restart, _ := cmd.Flags().GetBool("restart")

		return withSession(func(s *session) error {
			printStep("Preparing chat for %s...", args[0])
			cs, err := s.app.OpenChat(cmd.Context(), args[0], title, restart)
			if err != nil {
				return err
			}
			printSuccess("Chat ready: %s", cs.Title)
			if cs.PDFURL != "" {
				printStatus("PDF", "%s", cs.PDFURL)
			}
			printTranscript(cmd.OutOrStdout(), cs.Messages)
			return nil
		})
	},
}

var chatSendCmd = &cobra.Command{
	Use:   "send <id> <message>",
	Short: "Ask a question in an open chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args[1:], " ")

		return withSession(func(s *session) error {
			msgs, err := s.app.Send(cmd.Context(), args[0], message)
			if err != nil {
				if errors.Is(err, app.ErrNoSession) {
					printWarning("run \"paperlens chat open %s\" first", args[0])
				}
				return err
			}
			if n := len(msgs); n > 0 && msgs[n-1].Role == app.RoleAssistant {
				fmt.Fprintln(cmd.OutOrStdout(), msgs[n-1].Content)
			}
			return nil
		})
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent chats, most recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")

		return withSession(func(s *session) error {
			list, err := s.app.ChatHistory(filter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No chats found.")
				return nil
			}
			for _, c := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
					colorize(colorCyan, c.ID),
					formatTime(c.LastAccessed),
					truncate(c.Title, 80),
				)
			}
			return nil
		})
	},
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			if err := s.app.DeleteChat(args[0]); err != nil {
				return err
			}
			printSuccess("Deleted chat for %s", args[0])
			return nil
		})
	},
}

var chatTranscriptCmd = &cobra.Command{
	Use:   "transcript <id>",
	Short: "Print the stored transcript of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			msgs, err := s.app.Transcript(args[0])
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
				return nil
			}
			printTranscript(cmd.OutOrStdout(), msgs)
			return nil
		})
	},
}

func init() {
	chatOpenCmd.Flags().String("title", "", "paper title to show in the chat history")
	chatOpenCmd.Flags().Bool("restart", false, "clear the stored transcript first")
	chatHistoryCmd.Flags().String("filter", "", "only show chats whose title contains this text")

	chatCmd.AddCommand(chatOpenCmd)
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatDeleteCmd)
	chatCmd.AddCommand(chatTranscriptCmd)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List notes and chat jobs started from this machine",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		active, _ := cmd.Flags().GetBool("active")

		return withSession(func(s *session) error {
			if len(args) == 1 {
				j, err := s.app.Job(args[0])
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no job %q", args[0])
				}
				if err != nil {
					return err
				}
				printJob(cmd.OutOrStdout(), j)
				return nil
			}

			jobs, err := s.app.Jobs(limit, active)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}
			for _, j := range jobs {
				line := fmt.Sprintf("%s  %-5s  %-8s  %s  %s",
					colorize(colorCyan, j.ID),
					j.Kind,
					j.Status,
					j.VectorIndex,
					formatTime(j.UpdatedAt),
				)
				if j.LastError != "" {
					line += "  " + colorize(colorRed, truncate(j.LastError, 60))
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		})
	},
}

func printJob(w io.Writer, j storage.Job) {
	fmt.Fprintf(w, "ID:       %s\n", j.ID)
	fmt.Fprintf(w, "Kind:     %s\n", j.Kind)
	fmt.Fprintf(w, "Paper:    %s\n", j.VectorIndex)
	fmt.Fprintf(w, "Status:   %s\n", j.Status)
	fmt.Fprintf(w, "Started:  %s\n", formatTime(j.CreatedAt))
	fmt.Fprintf(w, "Updated:  %s\n", formatTime(j.UpdatedAt))
	if j.LastError != "" {
		fmt.Fprintf(w, "Error:    %s\n", j.LastError)
	}
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	jobsCmd.Flags().Bool("active", false, "only list unfinished jobs")
}

// --- pdf ---

var pdfCmd = &cobra.Command{
	Use:   "pdf",
	Short: "Work with paper PDFs",
}

var pdfFetchCmd = &cobra.Command{
	Use:   "fetch <id>",
	Short: "Download an opened paper's PDF through the proxy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		textBytes, _ := cmd.Flags().GetInt64("text")

		return withSession(func(s *session) error {
			data, err := s.app.FetchPDF(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !papers.IsPDF(data) {
				printWarning("downloaded file does not look like a PDF")
			} else if pages, err := papers.PageCount(data); err != nil {
				printWarning("could not read PDF: %v", err)
			} else {
				printStatus("Pages", "%d", pages)
			}
			printStatus("Size", "%d bytes", len(data))

			if output != "" {
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				printSuccess("Saved to %s", output)
			}
			if textBytes > 0 {
				text, err := papers.ExtractText(data, textBytes)
				if err != nil {
					return fmt.Errorf("extracting text: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
			}
			return nil
		})
	},
}

func init() {
	pdfFetchCmd.Flags().StringP("output", "o", "", "save the PDF to this file")
	pdfFetchCmd.Flags().Int64("text", 0, "print up to this many bytes of extracted text")
	pdfCmd.AddCommand(pdfFetchCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve paperlens tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			srv := api.NewMCPServer(s.app, version)
			stdio := server.NewStdioServer(srv)
			err := stdio.Listen(cmd.Context(), os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			env := "($" + k.EnvVar + ")"
			if k.FromEnv {
				env = "(set by $" + k.EnvVar + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, env))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

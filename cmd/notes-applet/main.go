package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0xaae/notes-service/internal/applet"
	"github.com/0xaae/notes-service/internal/noteapi"
	"github.com/0xaae/notes-service/internal/notes"
	"github.com/0xaae/notes-service/internal/settings"
)

const usage = `usage: notes-applet [flags] <command> [args]

commands:
  list                 list live notes
  deleted              list deleted (restorable) notes
  create               create a note
  show <id>            show one note
  update <id>          update note fields (see update -help)
  delete <id>          delete a note
  restore <id>         restore a deleted note
  show-all | hide-all  toggle visibility of every note
  styles               list styles
  import [path]        merge a legacy indicator-stickynotes database
  status               service status
  settings             effective configuration values
  watch                stream change events until interrupted
`

func main() {
	socketPath := flag.String("socket", envOrDefault("NOTES_SERVICE_SOCKET", noteapi.DefaultSocketPath()), "unix socket path")
	configDir := flag.String("config-dir", envOrDefault("NOTES_SERVICE_CONFIG_DIR", settings.DefaultDir()), "settings directory")
	serviceBin := flag.String("service-bin", strings.TrimSpace(os.Getenv("NOTES_SERVICE_BIN")), "service binary to launch when absent")
	noLaunch := flag.Bool("no-launch", false, "fail instead of launching an absent service")
	timeout := flag.Duration("timeout", 15*time.Second, "per-request timeout")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	client := applet.NewClient(*socketPath)
	rootCtx := context.Background()

	if command != "watch" {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		rootCtx = ctx
	}

	if !*noLaunch {
		bin := *serviceBin
		if bin == "" {
			if st, err := settings.Open(*configDir); err == nil {
				bin = st.String(settings.KeyServiceBin)
			}
		}
		if err := applet.EnsureRunning(rootCtx, client, applet.LaunchOptions{ServiceBin: bin}); err != nil {
			log.Fatalf("service is not running and could not be launched: %v", err)
		}
	}

	if err := run(rootCtx, client, command, args); err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func run(ctx context.Context, client *applet.Client, command string, args []string) error {
	switch command {
	case "list":
		items, err := client.ListNotes(ctx)
		if err != nil {
			return err
		}
		printNotes(items)
		return nil
	case "deleted":
		items, err := client.DeletedNotes(ctx)
		if err != nil {
			return err
		}
		printNotes(items)
		return nil
	case "create":
		return runCreate(ctx, client, args)
	case "show":
		id, err := argID(args)
		if err != nil {
			return err
		}
		note, err := client.GetNote(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(note)
	case "update":
		return runUpdate(ctx, client, args)
	case "delete":
		id, err := argID(args)
		if err != nil {
			return err
		}
		return client.DeleteNote(ctx, id)
	case "restore":
		id, err := argID(args)
		if err != nil {
			return err
		}
		note, err := client.RestoreNote(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(note)
	case "show-all", "hide-all":
		changed, err := client.SetAllVisible(ctx, command == "show-all")
		if err != nil {
			return err
		}
		fmt.Printf("%d notes changed\n", changed)
		return nil
	case "styles":
		styles, defaultStyle, err := client.Styles(ctx)
		if err != nil {
			return err
		}
		for _, style := range styles {
			marker := " "
			if style.ID == defaultStyle {
				marker = "*"
			}
			fmt.Printf("%s %s  %-16s %s %s %d\n", marker, style.ID, style.Name, style.Font.Family, style.Font.Weight, style.Font.Size)
		}
		return nil
	case "import":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		result, err := client.Import(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d notes", result.Imported)
		if result.Partial {
			fmt.Printf(", skipped %d malformed records", result.Skipped)
		}
		fmt.Println()
		return nil
	case "status":
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(status)
	case "settings":
		values, err := client.Settings(ctx)
		if err != nil {
			return err
		}
		return printJSON(values)
	case "watch":
		session := uuid.NewString()
		log.Printf("watching events (session %s), interrupt to stop", session)
		return client.Watch(ctx, session, func(ev notes.Event) {
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			fmt.Println(string(data))
		})
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runCreate(ctx context.Context, client *applet.Client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	styleArg := fs.String("style", "", "style id for the new note")
	if err := fs.Parse(args); err != nil {
		return err
	}
	style := uuid.Nil
	if *styleArg != "" {
		parsed, err := uuid.Parse(*styleArg)
		if err != nil {
			return fmt.Errorf("invalid style id: %w", err)
		}
		style = parsed
	}
	note, err := client.CreateNote(ctx, style)
	if err != nil {
		return err
	}
	return printJSON(note)
}

func runUpdate(ctx context.Context, client *applet.Client, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	content := fs.String("content", "", "note text")
	x := fs.Int("x", 0, "left position")
	y := fs.Int("y", 0, "top position")
	width := fs.Int("width", 0, "note width")
	height := fs.Int("height", 0, "note height")
	styleArg := fs.String("style", "", "style id")
	locked := fs.Bool("locked", false, "lock the note content")
	visible := fs.Bool("visible", true, "show or hide the note")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("update needs exactly one note id")
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid note id: %w", err)
	}

	var patch notes.Patch
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "content":
			patch.Content = content
		case "x":
			patch.X = x
		case "y":
			patch.Y = y
		case "width":
			patch.Width = width
		case "height":
			patch.Height = height
		case "locked":
			patch.Locked = locked
		case "visible":
			patch.Visible = visible
		}
	})
	if *styleArg != "" {
		parsed, parseErr := uuid.Parse(*styleArg)
		if parseErr != nil {
			return fmt.Errorf("invalid style id: %w", parseErr)
		}
		patch.Style = &parsed
	}
	if patch.Empty() {
		return fmt.Errorf("nothing to update, pass at least one field flag")
	}
	note, err := client.UpdateNote(ctx, id, patch)
	if err != nil {
		return err
	}
	return printJSON(note)
}

func argID(args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, fmt.Errorf("exactly one note id is required")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid note id: %w", err)
	}
	return id, nil
}

func printNotes(items []notes.Note) {
	for _, note := range items {
		visibility := "hidden"
		if note.Visible {
			visibility = "visible"
		}
		open := ""
		if note.Open {
			open = " open"
		}
		fmt.Printf("%s  %-12s %s%s  %s\n", note.ID, note.Title(), visibility, open, note.ModifiedAt.Local().Format(time.RFC3339))
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

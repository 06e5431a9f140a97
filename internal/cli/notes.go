package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/hashicorp/go-multierror"
)

func (a *App) AddNote(ctx context.Context) error {
	title, err := getSimpleText(a.reader, "Title", a.out)
	if err != nil {
		return err
	}
	content, err := getMultiline(a.reader, "Content", a.out)
	if err != nil {
		return err
	}
	tags, err := getSimpleText(a.reader, "Tags (comma separated)", a.out)
	if err != nil {
		return err
	}
	folder, err := getSimpleText(a.reader, "Folder (optional)", a.out)
	if err != nil {
		return err
	}

	n, err := a.Notes.Create(ctx, models.Note{
		Title:    title,
		Content:  content,
		Tags:     parseTags(tags),
		FolderID: folder,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Note saved:", n.ID)
	return nil
}

// parseNoteFilter understands "starred", "shared" and "folder=<id>".
func parseNoteFilter(args []string) (models.NoteFilter, error) {
	var f models.NoteFilter
	yes := true
	for _, arg := range args {
		switch {
		case arg == "starred":
			f.IsStarred = &yes
		case arg == "shared":
			f.IsShared = &yes
		case strings.HasPrefix(arg, "folder="):
			folder := strings.TrimPrefix(arg, "folder=")
			f.FolderID = &folder
		default:
			return f, fmt.Errorf("unknown filter %q", arg)
		}
	}
	return f, nil
}

func (a *App) ListNotes(ctx context.Context, args []string) error {
	f, err := parseNoteFilter(args)
	if err != nil {
		return err
	}

	notes, err := a.Notes.List(ctx, f)
	if err != nil {
		merr, ok := err.(*multierror.Error)
		if !ok {
			return err
		}
		// partial result: show what decrypted
		fmt.Fprintf(a.out, "%d note(s) could not be decrypted\n", len(merr.Errors))
	}

	if len(notes) == 0 {
		fmt.Fprintln(a.out, "No notes")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTAGS\tUPDATED")
	for _, n := range notes {
		star := ""
		if n.IsStarred {
			star = "* "
		}
		fmt.Fprintf(w, "%s\t%s%s\t%s\t%s\n", n.ID, star, n.Title, strings.Join(n.Tags, ","), n.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func (a *App) ShowNote(ctx context.Context, id string) error {
	n, err := a.Notes.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Title:   %s\n", n.Title)
	if len(n.Tags) > 0 {
		fmt.Fprintf(a.out, "Tags:    %s\n", strings.Join(n.Tags, ", "))
	}
	if n.FolderID != "" {
		fmt.Fprintf(a.out, "Folder:  %s\n", n.FolderID)
	}
	fmt.Fprintf(a.out, "Updated: %s\n\n%s\n", n.UpdatedAt.Local().Format(time.DateTime), n.Content)
	return nil
}

// EditNote prompts for new values; an empty answer keeps the current one.
func (a *App) EditNote(ctx context.Context, id string) error {
	n, err := a.Notes.Get(ctx, id)
	if err != nil {
		return err
	}

	title, err := getSimpleText(a.reader, fmt.Sprintf("Title [%s]", n.Title), a.out)
	if err != nil {
		return err
	}
	if title != "" {
		n.Title = title
	}
	content, err := getMultiline(a.reader, "Content (empty keeps current)", a.out)
	if err != nil {
		return err
	}
	if content != "" {
		n.Content = content
	}
	tags, err := getSimpleText(a.reader, fmt.Sprintf("Tags [%s]", strings.Join(n.Tags, ",")), a.out)
	if err != nil {
		return err
	}
	if tags != "" {
		n.Tags = parseTags(tags)
	}
	star, err := getSimpleText(a.reader, fmt.Sprintf("Starred (y/n) [%s]", yesNo(n.IsStarred)), a.out)
	if err != nil {
		return err
	}
	switch strings.ToLower(star) {
	case "y", "yes":
		n.IsStarred = true
	case "n", "no":
		n.IsStarred = false
	}

	if _, err := a.Notes.Update(ctx, *n); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Note updated")
	return nil
}

func (a *App) DeleteNote(ctx context.Context, id string) error {
	if err := a.Notes.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Note deleted")
	return nil
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

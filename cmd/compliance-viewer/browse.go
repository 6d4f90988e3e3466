package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/compliance-viewer/internal/view"
	"github.com/example/compliance-viewer/pkg/transaction"
)

const browseHelp = `Commands:
  search <term>           filter by name, actor, id or context
  clear                   drop the search term and the type filter
  filter <all|kyc|audit>  filter by certificate type
  sort [newest|oldest]    set or toggle the sort order
  open <row|id|id:ID>     open a transaction
  tab <name>              switch detail tab (overview, blockchain, raw)
  close                   close the open transaction
  refresh                 reload transactions
  stats                   show counts per type
  list                    show the list again
  help                    show this help
  quit                    leave`

var errQuit = errors.New("quit")

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse transactions interactively",
	Long: `Start a line-oriented session: load the transactions once, then search,
filter, sort, open and refresh them with short commands read from stdin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		spinner := view.NewSpinner(cmd.ErrOrStderr(), "loading transactions")
		unsubscribe := a.Controller.Subscribe(spinner.Update)
		defer func() {
			unsubscribe()
			spinner.Stop()
		}()

		a.Start(cmd.Context())

		b := newBrowser(a.Controller, cmd.OutOrStdout())
		return b.run(cmd.Context(), cmd.InOrStdin())
	},
}

// browser turns command lines into controller intents and renders the result
type browser struct {
	ctrl *view.Controller
	out  io.Writer
	tab  string
	now  func() time.Time
}

func newBrowser(ctrl *view.Controller, out io.Writer) *browser {
	return &browser{ctrl: ctrl, out: out, tab: view.TabOverview, now: time.Now}
}

func (b *browser) run(ctx context.Context, in io.Reader) error {
	b.render()
	fmt.Fprintln(b.out, "Type 'help' for commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(b.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(b.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		err := b.exec(ctx, scanner.Text())
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(b.out, "error: %v\n", err)
		}
	}
}

func (b *browser) exec(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "":
		return nil
	case "search", "/":
		b.ctrl.OnCloseDetail()
		b.ctrl.OnSearchChange(arg)
	case "clear":
		b.ctrl.OnCloseDetail()
		b.ctrl.OnSearchChange("")
		b.ctrl.OnFilterChange(transaction.TypeAll)
	case "filter":
		b.ctrl.OnCloseDetail()
		b.ctrl.OnFilterChange(arg)
	case "sort":
		if arg == "" {
			b.ctrl.OnSortToggle()
			break
		}
		order, err := transaction.ParseSortOrder(arg)
		if err != nil {
			return err
		}
		b.ctrl.OnSortChange(order)
	case "open":
		if err := b.open(ctx, arg); err != nil {
			return err
		}
		b.tab = view.TabOverview
	case "tab":
		tab := strings.ToLower(arg)
		if !slices.Contains(view.Tabs, tab) {
			return fmt.Errorf("unknown tab %q: want one of %s", arg, strings.Join(view.Tabs, ", "))
		}
		if b.ctrl.View().Selected == nil {
			return errors.New("no transaction open")
		}
		b.tab = tab
	case "close":
		b.ctrl.OnCloseDetail()
	case "refresh":
		b.ctrl.OnRefresh(ctx)
	case "stats":
		view.RenderStats(b.out, b.ctrl.View())
		return nil
	case "list", "ls":
		b.ctrl.OnCloseDetail()
	case "help", "?":
		fmt.Fprintln(b.out, browseHelp)
		return nil
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for commands", name)
	}

	b.render()
	return nil
}

// open accepts a 1-based row of the visible list or a transaction id. A
// number outside the visible rows is looked up as an id; "id:" forces an id.
func (b *browser) open(ctx context.Context, arg string) error {
	if id, ok := strings.CutPrefix(arg, "id:"); ok {
		arg = strings.TrimSpace(id)
		if arg == "" {
			return errors.New("open needs a transaction id after id:")
		}
		return b.ctrl.OnSelectID(ctx, arg)
	}
	if arg == "" {
		return errors.New("open needs a row number or a transaction id")
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(b.ctrl.View().Transactions) {
		return b.ctrl.OnSelectRow(n)
	}
	return b.ctrl.OnSelectID(ctx, arg)
}

func (b *browser) render() {
	v := b.ctrl.View()
	if v.Selected != nil {
		if err := view.RenderDetail(b.out, *v.Selected, b.tab); err != nil {
			fmt.Fprintf(b.out, "error: %v\n", err)
		}
		return
	}
	view.RenderStats(b.out, v)
	view.RenderList(b.out, v, b.now())
}

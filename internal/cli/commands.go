package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealodm"
	"github.com/surrealdb/surrealodm/internal/testmodels"
	"github.com/surrealdb/surrealodm/pkg/logger"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
	"github.com/surrealdb/surrealodm/pkg/storage/memory"
	"github.com/surrealdb/surrealodm/pkg/storage/sqlitestore"
)

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// ParseID reads an id argument: an integer, a table:id record id, or a
// plain string.
func ParseID(table, s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if rid, err := models.ParseRecordID(s); err == nil && rid.Table == table {
		return models.NormalizeID(rid)
	}
	return s
}

func NewTablesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables and their document counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, closeFn, err := opts.openStorage(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			var tables []sqlitestore.TableInfo
			switch s := unwrap(store).(type) {
			case *sqlitestore.Store:
				if tables, err = s.Tables(ctx); err != nil {
					return err
				}
			case *memory.Store:
				for _, name := range s.Tables() {
					tables = append(tables, sqlitestore.TableInfo{Name: name, Count: s.Len(name)})
				}
			default:
				return fmt.Errorf("the %T backend cannot list tables", s)
			}

			return formatter(cmd, opts).Table(tables, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TABLE\tDOCUMENTS")
				for _, t := range tables {
					fmt.Fprintf(tw, "%s\t%d\n", t.Name, t.Count)
				}
				return tw.Flush()
			})
		},
	}
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Print one stored record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, closeFn, err := opts.openStorage(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := store.LoadByID(ctx, args[0], ParseID(args[0], args[1]))
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Record(rec)
		},
	}
}

type listOptions struct {
	where []string
	sort  []string
	limit int
	skip  int
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	lo := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "Print the stored records of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := lo.filter(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, _, closeFn, err := opts.openStorage(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			recs, err := store.Query(ctx, args[0], filter)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Records(recs)
		},
	}
	cmd.Flags().StringArrayVarP(&lo.where, "where", "w", nil, "field=value or field!=value condition, repeatable")
	cmd.Flags().StringArrayVarP(&lo.sort, "sort", "s", nil, "sort key, prefix with - for descending, repeatable")
	cmd.Flags().IntVar(&lo.limit, "limit", 0, "maximum number of records, 0 for all")
	cmd.Flags().IntVar(&lo.skip, "skip", 0, "number of records to skip")
	return cmd
}

func (lo *listOptions) filter(table string) (storage.Filter, error) {
	var f storage.Filter
	for _, w := range lo.where {
		op := storage.OpEq
		field, value, ok := strings.Cut(w, "!=")
		if ok {
			op = storage.OpNe
		} else if field, value, ok = strings.Cut(w, "="); !ok {
			return f, fmt.Errorf("invalid condition %q: want field=value", w)
		}
		field = strings.TrimSpace(field)
		var v any = strings.TrimSpace(value)
		if field == storage.IDField {
			v = ParseID(table, value)
		} else if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			v = n
		}
		f.Conditions = append(f.Conditions, storage.Condition{Field: field, Op: op, Value: v})
	}
	for _, s := range lo.sort {
		key := storage.SortKey{Field: strings.TrimPrefix(s, "-"), Descending: strings.HasPrefix(s, "-")}
		f.Sort = append(f.Sort, key)
	}
	if lo.limit < 0 || lo.skip < 0 {
		return f, fmt.Errorf("limit and skip must not be negative")
	}
	f.Limit, f.Offset = lo.limit, lo.skip
	return f, nil
}

// NewSeedCommand stores a tree holding apples through a document manager.
// It is handy to try the other commands on a fresh database.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var apples []string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store an example tree with apples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, log, closeFn, err := opts.openStorage(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			tree, err := seed(ctx, store, log, apples)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Table(map[string]any{"tree": plain(tree.ID), "apples": len(apples)},
				func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "stored tree %v with %d apples\n", tree.ID, len(apples))
					return err
				})
		},
	}
	cmd.Flags().StringSliceVar(&apples, "apples", []string{"bar"}, "foo values of the apples to store")
	return cmd
}

func seed(ctx context.Context, store storage.Storage, log logger.Logger, foos []string) (*testmodels.Tree, error) {
	registry, err := testmodels.Registry()
	if err != nil {
		return nil, err
	}
	dm, err := surrealodm.New(surrealodm.Config{Storage: store, Registry: registry, Logger: log})
	if err != nil {
		return nil, err
	}

	tree := testmodels.NewTree()
	for _, foo := range foos {
		apple := testmodels.NewApple()
		apple.Foo = foo
		if err := tree.Apples.Add(ctx, apple); err != nil {
			return nil, err
		}
	}
	if err := dm.Persist(tree); err != nil {
		return nil, err
	}
	if err := dm.Flush(ctx); err != nil {
		return nil, err
	}
	return tree, nil
}

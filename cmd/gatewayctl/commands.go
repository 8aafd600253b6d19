package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/internal/export"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/redact"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/tabular"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/upsert"
	"github.com/spf13/cobra"
)

func newCreateCmd(g *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create records (at most 100 per call)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := readRecords(cmd, file)
			if err != nil {
				return err
			}
			s, logger, err := g.connect(cmd)
			if err != nil {
				return err
			}
			res, err := s.Create(cmd.Context(), records)
			if err != nil {
				return reportFailure(cmd, err)
			}
			logger.Info("created", "records", len(res.Correct))
			return writeJSON(cmd.OutOrStdout(), map[string]any{"created": nonNil(res.Correct)})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON records file, or - for stdin")
	return cmd
}

func newUpdateCmd(g *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update records by key (at most 100 per call)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := readRecords(cmd, file)
			if err != nil {
				return err
			}
			s, logger, err := g.connect(cmd)
			if err != nil {
				return err
			}
			res, err := s.Update(cmd.Context(), records)
			if err != nil {
				return reportFailure(cmd, err)
			}
			logger.Info("updated", "records", len(res.Correct))
			return writeJSON(cmd.OutOrStdout(), map[string]any{"updated": nonNil(res.Correct)})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON records file, or - for stdin")
	return cmd
}

func newDeleteCmd(g *globalOptions) *cobra.Command {
	var (
		query      string
		all        bool
		keyField   string
		maxRecords int
	)
	cmd := &cobra.Command{
		Use:   "delete OBJECT [KEY...]",
		Short: "Delete records by key, by query, or all of one object type",
		Example: `  gatewayctl delete customer 12 13
  gatewayctl delete customer --query "STATUS = 'inactive'"
  gatewayctl delete customer --all`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			object, keys := args[0], args[1:]
			modes := 0
			for _, set := range []bool{len(keys) > 0, query != "", all} {
				if set {
					modes++
				}
			}
			if modes != 1 {
				return fmt.Errorf("%w: give keys, --query, or --all (exactly one)", core.ErrArgument)
			}
			s, logger, err := g.connect(cmd)
			if err != nil {
				return err
			}
			var res *core.Result
			switch {
			case all:
				res, err = s.DeleteAll(cmd.Context(), object, keyField, maxRecords)
			case query != "":
				res, err = s.DeleteByQuery(cmd.Context(), object, query, keyField, maxRecords)
			default:
				res, err = s.Delete(cmd.Context(), object, keys)
			}
			if err != nil {
				return reportFailure(cmd, err)
			}
			logger.Info("deleted", "object", object, "records", len(res.Correct))
			return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": nonNil(res.Correct)})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "Delete the records matching this query")
	cmd.Flags().BoolVar(&all, "all", false, "Delete every record of the object type")
	cmd.Flags().StringVar(&keyField, "key-field", "RECORDNO", "Key field for --query and --all (RECORDNO or id)")
	cmd.Flags().IntVar(&maxRecords, "max", core.DefaultMaxRecords, "Maximum records to delete for --query and --all")
	return cmd
}

func newUpsertCmd(g *globalOptions) *cobra.Command {
	var (
		file string
		opts upsert.Options
	)
	cmd := &cobra.Command{
		Use:   "upsert OBJECT",
		Short: "Create or update records matched by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(cmd, file)
			if err != nil {
				return err
			}
			s, logger, err := g.connect(cmd)
			if err != nil {
				return err
			}
			res, err := s.Upsert(cmd.Context(), args[0], records, opts)
			if err != nil {
				return reportFailure(cmd, err)
			}
			logger.Info("upserted", "object", args[0], "created", len(res.Created), "updated", len(res.Updated))
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"created": nonNil(res.Created),
				"updated": nonNil(res.Updated),
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON records file, or - for stdin")
	cmd.Flags().StringVar(&opts.NameField, "name-field", "NAME", "Field that identifies an existing record")
	cmd.Flags().StringVar(&opts.KeyField, "key-field", "RECORDNO", "Update key copied from the matched record")
	cmd.Flags().BoolVar(&opts.ReadOnlyName, "read-only-name", false, "Drop the name field from records to create")
	return cmd
}

func newReadCmd(g *globalOptions) *cobra.Command {
	var (
		fields   string
		byName   bool
		relation string
		xlsxPath string
	)
	cmd := &cobra.Command{
		Use:   "read OBJECT KEY...",
		Short: "Read records by key, by name, or through a relation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if byName && relation != "" {
				return fmt.Errorf("%w: --by-name and --relation are exclusive", core.ErrArgument)
			}
			s, _, err := g.connect(cmd)
			if err != nil {
				return err
			}
			object, keys := args[0], args[1:]
			var p *core.Payload
			switch {
			case byName:
				p, err = s.ReadByName(cmd.Context(), object, keys, fields)
			case relation != "":
				p, err = s.ReadRelated(cmd.Context(), object, keys, relation, fields)
			default:
				p, err = s.Read(cmd.Context(), object, keys, fields)
			}
			if err != nil {
				return reportFailure(cmd, err)
			}
			return writePayload(cmd, object, p, xlsxPath)
		},
	}
	cmd.Flags().StringVar(&fields, "fields", "*", "Comma-separated fields to return")
	cmd.Flags().BoolVar(&byName, "by-name", false, "Treat the keys as names")
	cmd.Flags().StringVar(&relation, "relation", "", "Read records related to the keys through this relation")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the result to this XLSX file")
	return cmd
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	var (
		where      string
		fields     string
		maxRecords int
		xlsxPath   string
	)
	cmd := &cobra.Command{
		Use:   "query OBJECT",
		Short: "Read every record matching a query, page by page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := g.connect(cmd)
			if err != nil {
				return err
			}
			p, err := s.ReadByQuery(cmd.Context(), args[0], where, fields, maxRecords)
			if err != nil {
				return reportFailure(cmd, err)
			}
			logger.Debug("query done", "object", args[0], "format", p.Format.String())
			return writePayload(cmd, args[0], p, xlsxPath)
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "Query filter, e.g. \"STATUS = 'active'\"")
	cmd.Flags().StringVar(&fields, "fields", "*", "Comma-separated fields to return")
	cmd.Flags().IntVar(&maxRecords, "max", core.DefaultMaxRecords, "Maximum records to return")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the result to this XLSX file")
	return cmd
}

func newInspectCmd(g *globalOptions) *cobra.Command {
	var detail bool
	cmd := &cobra.Command{
		Use:   "inspect OBJECT",
		Short: "Describe the fields of an object type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := g.connect(cmd)
			if err != nil {
				return err
			}
			md, err := s.Inspect(cmd.Context(), args[0], detail)
			if err != nil {
				return reportFailure(cmd, err)
			}
			fields := make([]map[string]any, 0, len(md.Fields))
			for _, f := range md.Fields {
				entry := map[string]any{"name": f.Name}
				if len(f.Attributes) > 0 {
					entry["attributes"] = f.Attributes
				}
				fields = append(fields, entry)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"object": md.Name, "fields": fields})
		},
	}
	cmd.Flags().BoolVar(&detail, "detail", false, "Include field properties")
	return cmd
}

func newInvokeCmd(g *globalOptions) *cobra.Command {
	var (
		file    string
		multi   bool
		objects []string
	)
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Send raw function markup and print the reply",
		Long: `invoke wraps the markup from --file in a request envelope and prints
the raw reply. With --multi the file holds several functions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			s, _, err := g.connect(cmd)
			if err != nil {
				return err
			}
			res, err := s.Invoke(cmd.Context(), string(body), multi, objects...)
			if err != nil {
				return reportFailure(cmd, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Raw)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Function markup file, or - for stdin")
	cmd.Flags().BoolVar(&multi, "multi", false, "The markup holds several functions")
	cmd.Flags().StringSliceVar(&objects, "object", nil, "Object types expected in the reply")
	return cmd
}

// writePayload prints p in its format and optionally exports it.
func writePayload(cmd *cobra.Command, object string, p *core.Payload, xlsxPath string) error {
	out := cmd.OutOrStdout()
	var err error
	switch p.Format {
	case core.FormatMarkup:
		_, err = fmt.Fprintln(out, p.Markup)
	case core.FormatTable:
		_, err = io.WriteString(out, p.Table)
	default:
		err = writeJSON(out, nonNil(p.Records))
	}
	if err != nil || xlsxPath == "" {
		return err
	}
	return writeXLSX(xlsxPath, func(w io.Writer) error {
		switch p.Format {
		case core.FormatTable:
			t, err := tabular.Parse(p.Table)
			if err != nil {
				return err
			}
			return export.Table(w, object, t)
		case core.FormatMarkup:
			return fmt.Errorf("%w: --xlsx needs the records or table format", core.ErrArgument)
		default:
			return export.Records(w, p.Records)
		}
	})
}

func writeXLSX(path string, fill func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return fill(f)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportFailure prints what a failed write committed before returning err.
func reportFailure(cmd *cobra.Command, err error) error {
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) {
		return err
	}
	report := map[string]any{
		"error":        strings.TrimSpace(redact.Secrets(rf.Message)),
		"failed_index": rf.FailedIndex,
		"committed":    nonNil(rf.Committed),
	}
	if rf.FailedRecord != nil {
		report["failed_record"] = *rf.FailedRecord
	}
	if rf.BestEffort {
		report["best_effort"] = true
	}
	if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

func nonNil(records []core.Record) []core.Record {
	if records == nil {
		return []core.Record{}
	}
	return records
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/ingest"
	"github.com/fyrsmithlabs/corpora/internal/query"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printIngestResult(w io.Writer, res *ingest.Result) error {
	if res.NoDocuments {
		fmt.Fprintf(w, "no documents to ingest into %s\n", res.Collection)
	} else {
		fmt.Fprintf(w, "%s: %d inserted, %d duplicates, %d skipped (%s)\n",
			res.Collection, res.InsertedCount, res.Duplicates, len(res.Skipped), res.Policy)
	}
	fmt.Fprintf(w, "collection now holds %d vectors\n", res.ResultingVectorCount)
	if len(res.Skipped) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nREASON\tSOURCE\tERROR")
	for _, s := range res.Skipped {
		source := s.Source
		if source == "" {
			source = s.StableID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Reason, source, s.Error)
	}
	return tw.Flush()
}

func printQueryResult(w io.Writer, res *query.Result) error {
	fmt.Fprintln(w, res.Answer)
	if len(res.Sources) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tSCORE\tCOLLECTION\tSOURCE\tSNIPPET")
		for i, s := range res.Sources {
			fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\t%s\n", i+1, s.Score, s.Collection, sourceLabel(s.Locator), oneLine(s.Snippet))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "skipped %s: %s\n", s.Collection, s.Reason)
	}
	return nil
}

func printCollections(w io.Writer, list []collections.Collection) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tVECTORS\tUPDATED\tLOCATOR")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%s\t%s\n",
			c.Name, c.Enabled, c.VectorCount, c.UpdatedAt.Local().Format(time.DateTime), c.StorageLocator)
	}
	return tw.Flush()
}

func sourceLabel(locator map[string]any) string {
	label := document.FormatValue(locator[document.KeyFileName])
	if label == "" {
		label = "-"
	}
	if page, ok := locator[document.KeyPage]; ok {
		label += " p." + document.FormatValue(page)
	}
	if row, ok := locator[document.KeyRow]; ok {
		label += " row " + document.FormatValue(row)
	}
	return label
}

func oneLine(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '\n' || r == '\t' || r == '\r' {
			out[i] = ' '
		}
	}
	return string(out)
}

// Package inventory aggregates per-node path lists into a canonical
// path to node-set mapping and handles the tabular interchange format.
package inventory

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Header is the first line of every inventory TSV artifact.
const Header = "path\tnodes"

// Record maps one container path to the nodes reporting it.
type Record struct {
	Path  string
	Nodes []string // Sorted, deduplicated
}

// Row is one raw input row for the replication planner. The Nodes field is
// kept unparsed so that format violations surface as per-job decisions
// instead of aborting the run.
type Row struct {
	Path  string
	Nodes string
}

// Aggregate merges per-node path lists into records sorted lexically by
// path. A path appearing any number of times within one node's list counts
// once; node sets are sorted and deduplicated.
func Aggregate(perNode map[string][]string) []Record {
	byPath := make(map[string]map[string]struct{})
	for nodeName, paths := range perNode {
		for _, p := range paths {
			set, ok := byPath[p]
			if !ok {
				set = make(map[string]struct{})
				byPath[p] = set
			}
			set[nodeName] = struct{}{}
		}
	}

	records := make([]Record, 0, len(byPath))
	for p, set := range byPath {
		nodes := make([]string, 0, len(set))
		for n := range set {
			nodes = append(nodes, n)
		}
		sort.Strings(nodes)
		records = append(records, Record{Path: p, Nodes: nodes})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records
}

// MultiLocation returns the subset of records reported by more than one node.
func MultiLocation(records []Record) []Record {
	var multi []Record
	for _, r := range records {
		if len(r.Nodes) > 1 {
			multi = append(multi, r)
		}
	}
	return multi
}

// WriteTSV writes records in the path<TAB>nodes interchange format.
func WriteTSV(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, Header); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", r.Path, strings.Join(r.Nodes, ",")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WritePaths writes a raw per-node path list, one path per line.
func WritePaths(w io.Writer, paths []string) error {
	bw := bufio.NewWriter(w)
	for _, p := range paths {
		if _, err := fmt.Fprintln(bw, p); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadRows reads planner input rows from a path<TAB>nodes file. The header
// line is required. Malformed rows are returned as-is with whatever landed
// in each column; per-row validation belongs to the planner. Blank lines are
// skipped.
func ReadRows(r io.Reader) ([]Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return nil, fmt.Errorf("empty input: missing %q header", Header)
	}
	if got := strings.TrimRight(sc.Text(), "\r"); got != Header {
		return nil, fmt.Errorf("unexpected header %q, want %q", got, Header)
	}

	var rows []Row
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		path, nodes, _ := strings.Cut(line, "\t")
		rows = append(rows, Row{Path: path, Nodes: nodes})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return rows, nil
}

// Rows converts aggregated records into planner input rows.
func Rows(records []Record) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{Path: r.Path, Nodes: strings.Join(r.Nodes, ",")})
	}
	return rows
}

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/marmos91/rsemgr/pkg/rsemgr"
)

// parseFile turns a command line argument into a descriptor.
//
//	scope:name      catalog identity
//	scheme://...    bare physical identifier
func parseFile(arg string) (rse.File, error) {
	if strings.Contains(arg, "://") {
		return rse.PFN(arg), nil
	}
	scope, name, ok := strings.Cut(arg, ":")
	if !ok || scope == "" || name == "" {
		return rse.File{}, fmt.Errorf("%q: expected scope:name or a PFN: %w", arg, rse.ErrInvalidDescriptor)
	}
	return rse.LFN(scope, name), nil
}

func parseFiles(args []string) ([]rse.File, error) {
	files := make([]rse.File, 0, len(args))
	for _, arg := range args {
		f, err := parseFile(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// parseRename parses OLD=NEW.
//
//	scope:name=newscope:newname   rename both
//	scope:name=:newname           keep the scope
//	scope:name=newscope:          keep the name
//	pfn=newpfn                    explicit physical rename
func parseRename(arg string) (rse.File, error) {
	oldArg, newArg, ok := strings.Cut(arg, "=")
	if !ok || newArg == "" {
		return rse.File{}, fmt.Errorf("%q: expected OLD=NEW: %w", arg, rse.ErrInvalidDescriptor)
	}

	f, err := parseFile(oldArg)
	if err != nil {
		return rse.File{}, err
	}

	if !f.IsLFN() {
		f.NewName = newArg
		return f, nil
	}

	scope, name, ok := strings.Cut(newArg, ":")
	if !ok {
		return rse.File{}, fmt.Errorf("%q: new name must be scope:name, :name or scope: : %w", arg, rse.ErrInvalidDescriptor)
	}
	f.NewScope = scope
	f.NewName = name
	return f, nil
}

// printResult writes one line per item and returns errPartialFailure when
// any item failed.
// report prints whatever outcomes a call produced. A call error wins over
// errPartialFailure.
func report(w io.Writer, res *rsemgr.BulkResult, callErr error) error {
	if res == nil {
		return callErr
	}
	err := printResult(w, res)
	if callErr != nil {
		return callErr
	}
	return err
}

func printResult(w io.Writer, res *rsemgr.BulkResult) error {
	keys := make([]string, 0, len(res.Outcomes))
	for k := range res.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ITEM\tRESULT")
	for _, k := range keys {
		outcome := "OK"
		if err := res.Outcomes[k]; err != nil {
			outcome = err.Error()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, outcome)
	}
	_ = tw.Flush()

	if !res.OK {
		return errPartialFailure
	}
	return nil
}

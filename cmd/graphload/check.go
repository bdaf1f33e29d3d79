package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jensneuse/abstractlogger"

	"github.com/hanpama/graphload/internal/executor"
	"github.com/hanpama/graphload/internal/query"
)

var errNoStorage = errors.New("check does not fetch records")

func noStorage(context.Context, query.Descriptor) ([]query.Record, error) { return nil, errNoStorage }

func cmdCheck(args []string, stdin io.Reader, w io.Writer) error {
	var file, operation, variables string
	s := newSettings("check", checkUsage)
	s.fs.StringVar(&file, "query", "", "Query document, - for stdin")
	s.fs.StringVar(&operation, "operation", "", "Operation to check")
	s.fs.StringVar(&variables, "variables", "", "Variables as a JSON object")
	cfg, err := s.resolve(args)
	if err != nil {
		return err
	}
	if file == "" {
		fmt.Fprint(os.Stderr, checkUsage)
		return fmt.Errorf("-query is required")
	}

	var src []byte
	if file == "-" {
		src, err = io.ReadAll(stdin)
	} else {
		src, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("read query: %w", err)
	}
	vars := map[string]any{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return fmt.Errorf("invalid -variables: %w", err)
		}
	}

	exec, err := newExecutor(cfg, noStorage, abstractlogger.NoopLogger)
	if err != nil {
		return err
	}
	op, err := executor.ParseQuery(string(src), operation, vars, executor.WithinLimits(exec.Limits()))
	if err != nil {
		return err
	}
	rep, err := exec.CheckComplexity(op)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "cost  %d (limit %d)\ndepth %d (limit %d)\n", rep.Cost, cfg.Limits.MaxCost, rep.Depth, cfg.Limits.MaxDepth)
	return nil
}

package segment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sync/errgroup"

	"gyroscope/internal/trace"
)

// Source is one input to a batch. Text is used as-is unless Path is set, in
// which case the file is read.
type Source struct {
	Tag  string
	Path string
	Text string
}

// FileSource returns a Source that reads path.
func FileSource(path string) Source {
	return Source{Tag: "file:" + path, Path: path}
}

// TextSource returns a Source over in-memory text, such as stdin.
func TextSource(tag, text string) Source {
	return Source{Tag: tag, Text: text}
}

// BatchOptions tunes Batch. Zero values take defaults.
type BatchOptions struct {
	Strategy    Strategy
	Parallelism int
	ReadFile    func(string) ([]byte, error)
}

// Batch checks sources concurrently and returns their results flattened in
// input order. A source that cannot be read yields one invalid result; only
// context cancellation fails the batch.
func Batch(ctx context.Context, sources []Source, opts BatchOptions) ([]Result, error) {
	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	limit := opts.Parallelism
	if limit < 1 {
		limit = 1
	}

	perSource := make([][]Result, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text := src.Text
			if src.Path != "" {
				data, err := readFile(src.Path)
				if err != nil {
					perSource[i] = []Result{readFailure(src, err)}
					return nil
				}
				text = string(data)
			}
			perSource[i] = Validate(src.Tag, text, opts.Strategy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Result
	for _, rs := range perSource {
		out = append(out, rs...)
	}
	return out, nil
}

func readFailure(src Source, err error) Result {
	msg := fmt.Sprintf("error reading %s: %v", src.Path, err)
	if errors.Is(err, fs.ErrNotExist) {
		msg = "file not found: " + src.Path
	}
	return Result{
		Source: src.Tag,
		Result: trace.Result{
			Errors:   []trace.Issue{{Kind: trace.KindStructural, Field: "file", Message: msg}},
			Warnings: []string{},
		},
	}
}
